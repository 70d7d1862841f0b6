package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rowjay/wdlkit/internal/logging"
	"github.com/rowjay/wdlkit/internal/notify"
	"github.com/rowjay/wdlkit/internal/storage"
)

func newSlackCmd(root *rootFlags) *cobra.Command {
	var tokenURI, channel, message string

	cmd := &cobra.Command{
		Use:   "slack",
		Short: "Send a Slack message",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.Configure(root.LogLevel, root.LogFormat)
			ctx := logger.WithContext(cmd.Context())

			objects := &lazyObjects{ctx: ctx, root: root}
			defer objects.Close()
			token, err := notify.SlackToken(ctx, objects, tokenURI)
			if err != nil {
				return err
			}
			if err := (notify.Slack{Name: "slack", Token: token, Channel: channel}).Send(ctx, message); err != nil {
				logger.Error().Err(err).Str("channel", channel).Msg("slack message failed")
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tokenURI, "slack_uri", "", "Bot token, or a gs:// URI of the object holding it (default: $SLACK_API_TOKEN)")
	cmd.Flags().StringVar(&channel, "channel", "", "Channel to send the message to")
	cmd.Flags().StringVar(&message, "message", "", "Message text")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newMailCmd(root *rootFlags) *cobra.Command {
	m := notify.Mailgun{Name: "mailgun"}
	var keyURI, message string

	cmd := &cobra.Command{
		Use:   "mail",
		Short: "Send an email through Mailgun",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !strings.HasPrefix(strings.ToLower(keyURI), storage.SchemeGCS+"://") {
				return fmt.Errorf("--mailgun_api_uri must be in the form gs://bucket/object, you specified %s", keyURI)
			}
			logger := logging.Configure(root.LogLevel, root.LogFormat)
			ctx := logger.WithContext(cmd.Context())

			objects := &lazyObjects{ctx: ctx, root: root}
			defer objects.Close()
			key, err := notify.ReadSecret(ctx, objects, keyURI)
			if err != nil {
				return err
			}
			mail := m
			mail.APIKey = key
			if err := mail.Send(ctx, mail.Subject, message); err != nil {
				logger.Error().Err(err).Str("mailto", mail.MailTo).Msg("mail failed")
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&m.APIURL, "mailgun_api_url", "", "Mailgun messages endpoint")
	cmd.Flags().StringVar(&keyURI, "mailgun_api_uri", "", "gs:// URI of the object holding the Mailgun API key")
	cmd.Flags().StringVar(&m.MailTo, "mailto", "", "Recipient address(es), comma separated")
	cmd.Flags().StringVar(&message, "message", "", "Email body (HTML)")
	cmd.Flags().StringVar(&m.Subject, "subject", "", "Email subject")
	cmd.Flags().StringVar(&m.Sender, "sender", "", `Sender, e.g. "Sender <sender@example.org>"`)
	for _, name := range []string{"mailgun_api_url", "mailgun_api_uri", "mailto", "message", "subject", "sender"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
