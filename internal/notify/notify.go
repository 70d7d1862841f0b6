package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rowjay/wdlkit/internal/config"
	"github.com/rowjay/wdlkit/internal/storage"
)

const SlackPostMessageURL = "https://slack.com/api/chat.postMessage"

type Event struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	Project   string    `json:"project"`
	Dataset   string    `json:"dataset"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Duration  string    `json:"duration"`
	URI       string    `json:"uri,omitempty"`
	Tables    int       `json:"tables"`
	Error     string    `json:"error,omitempty"`
}

func (e Event) Text() string {
	text := fmt.Sprintf("[%s] %s", e.Status, e.Message)
	if e.Error != "" {
		text += ": " + e.Error
	}
	return text
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type Multi struct {
	Targets []Notifier
}

func (m Multi) Notify(ctx context.Context, event Event) error {
	var err error
	for _, target := range m.Targets {
		if target == nil {
			continue
		}
		if nerr := target.Notify(ctx, event); nerr != nil {
			err = nerr
		}
	}
	return err
}

type Webhook struct {
	Name    string
	URL     string
	Headers map[string]string
}

func (w Webhook) Notify(ctx context.Context, event Event) error {
	body, _ := json.Marshal(event)
	return postJSON(ctx, "webhook "+w.Name, w.URL, body, w.Headers)
}

// SlackWebhook posts to an incoming webhook (Slack or Mattermost).
type SlackWebhook struct {
	Name string
	URL  string
}

func (s SlackWebhook) Notify(ctx context.Context, event Event) error {
	body, _ := json.Marshal(map[string]string{"text": event.Text()})
	return postJSON(ctx, "slack webhook "+s.Name, s.URL, body, nil)
}

// Slack posts through chat.postMessage with a bot token.
type Slack struct {
	Name    string
	Token   string
	Channel string
	APIURL  string
}

func (s Slack) Notify(ctx context.Context, event Event) error {
	return s.Send(ctx, event.Text())
}

func (s Slack) Send(ctx context.Context, text string) error {
	endpoint := s.APIURL
	if endpoint == "" {
		endpoint = SlackPostMessageURL
	}
	body, _ := json.Marshal(map[string]any{"channel": s.Channel, "text": text, "as_user": true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.Token)
	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack %s returned %s", s.Name, resp.Status)
	}
	// The Web API reports failures in the body with a 200.
	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("slack %s: decode response: %w", s.Name, err)
	}
	if !out.OK {
		return fmt.Errorf("slack %s: %s", s.Name, out.Error)
	}
	return nil
}

// Mailgun sends an HTML email through the Mailgun messages API.
type Mailgun struct {
	Name    string
	APIURL  string
	APIKey  string
	Sender  string
	MailTo  string
	Subject string
}

func (m Mailgun) Notify(ctx context.Context, event Event) error {
	subject := m.Subject
	if subject == "" {
		subject = fmt.Sprintf("%s %s", event.Type, event.Status)
	}
	return m.Send(ctx, subject, event.Text())
}

func (m Mailgun) Send(ctx context.Context, subject, html string) error {
	form := url.Values{}
	form.Set("from", m.Sender)
	form.Set("to", m.MailTo)
	form.Set("subject", subject)
	form.Set("html", html)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.APIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", m.APIKey)
	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mailgun %s returned %s", m.Name, resp.Status)
	}
	return nil
}

// ReadSecret returns value itself unless it is a gs:// or s3:// URI, in
// which case the object's content is returned with surrounding whitespace
// trimmed.
func ReadSecret(ctx context.Context, objects storage.Resolver, value string) (string, error) {
	if !strings.HasPrefix(value, storage.SchemeGCS+"://") && !strings.HasPrefix(value, storage.SchemeS3+"://") {
		return value, nil
	}
	if objects == nil {
		return "", fmt.Errorf("cannot read %s: no object store", value)
	}
	store, u, err := objects.Resolve(value)
	if err != nil {
		return "", err
	}
	rc, err := store.Get(ctx, u.Bucket, u.Name)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", value, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", value, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SlackToken resolves a token flag: a URI is read from the store, a literal
// is used as is, and an empty value falls back to SLACK_API_TOKEN.
func SlackToken(ctx context.Context, objects storage.Resolver, value string) (string, error) {
	if value == "" {
		if token := os.Getenv("SLACK_API_TOKEN"); token != "" {
			return token, nil
		}
		return "", fmt.Errorf("no slack token given and SLACK_API_TOKEN is not set")
	}
	return ReadSecret(ctx, objects, value)
}

func FromConfig(ctx context.Context, cfg config.NotificationsConfig, objects storage.Resolver) (Multi, error) {
	var targets []Notifier
	for _, w := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: w.Name, URL: w.URL, Headers: w.Headers})
	}
	for _, sw := range cfg.SlackWebhooks {
		targets = append(targets, SlackWebhook{Name: sw.Name, URL: sw.URL})
	}
	for _, s := range cfg.Slack {
		token, err := SlackToken(ctx, objects, s.Token)
		if err != nil {
			return Multi{}, fmt.Errorf("slack %s: %w", s.Name, err)
		}
		targets = append(targets, Slack{Name: s.Name, Token: token, Channel: s.Channel})
	}
	for _, mg := range cfg.Mailgun {
		key, err := ReadSecret(ctx, objects, mg.APIKeyURI)
		if err != nil {
			return Multi{}, fmt.Errorf("mailgun %s: %w", mg.Name, err)
		}
		targets = append(targets, Mailgun{Name: mg.Name, APIURL: mg.APIURL, APIKey: key, Sender: mg.Sender, MailTo: mg.MailTo, Subject: mg.Subject})
	}
	return Multi{Targets: targets}, nil
}

func (m Multi) Empty() bool { return len(m.Targets) == 0 }

func postJSON(ctx context.Context, name, endpoint string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %s", name, resp.Status)
	}
	return nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
