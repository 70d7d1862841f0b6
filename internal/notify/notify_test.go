package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rowjay/wdlkit/internal/config"
	"github.com/rowjay/wdlkit/internal/storage/storagetest"
)

func TestSlackSend(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := Slack{Name: "ops", Token: "xoxb-1", Channel: "#etl", APIURL: srv.URL}
	if err := s.Notify(context.Background(), Event{Status: "success", Message: "backup p:d"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if auth != "Bearer xoxb-1" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if got["channel"] != "#etl" || got["text"] != "[success] backup p:d" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestSlackAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()
	err := Slack{Name: "ops", APIURL: srv.URL}.Send(context.Background(), "hi")
	if err == nil || err.Error() != "slack ops: channel_not_found" {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestMailgunSend(t *testing.T) {
	var user, pass, subject, to string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
		_ = r.ParseForm()
		subject, to = r.PostForm.Get("subject"), r.PostForm.Get("to")
	}))
	defer srv.Close()

	m := Mailgun{Name: "mail", APIURL: srv.URL, APIKey: "key-1", Sender: "a@b", MailTo: "c@d"}
	if err := m.Notify(context.Background(), Event{Type: "restore", Status: "failed", Message: "restore p:d"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if user != "api" || pass != "key-1" || subject != "restore failed" || to != "c@d" {
		t.Fatalf("unexpected request %s %s %s %s", user, pass, subject, to)
	}
}

func TestWebhookFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	if err := (Webhook{Name: "hook", URL: srv.URL}).Notify(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error for 502")
	}
}

func TestFromConfigReadsSecrets(t *testing.T) {
	store := storagetest.NewMemory()
	store.Set("secrets", "slack.txt", []byte("xoxb-from-gcs\n"))
	store.Set("secrets", "mailgun.txt", []byte("mg-key"))

	cfg := config.NotificationsConfig{
		Slack:    []config.SlackConfig{{Name: "s", Channel: "#c", Token: "gs://secrets/slack.txt"}},
		Mailgun:  []config.MailgunConfig{{Name: "m", APIURL: "http://x", APIKeyURI: "gs://secrets/mailgun.txt"}},
		Webhooks: []config.WebhookConfig{{Name: "w", URL: "http://hook"}},
	}
	multi, err := FromConfig(context.Background(), cfg, storagetest.Resolver{Store: store})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if len(multi.Targets) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(multi.Targets))
	}
	if s := multi.Targets[1].(Slack); s.Token != "xoxb-from-gcs" {
		t.Fatalf("unexpected token %q", s.Token)
	}
	if m := multi.Targets[2].(Mailgun); m.APIKey != "mg-key" {
		t.Fatalf("unexpected key %q", m.APIKey)
	}
}

func TestSlackTokenFallsBackToEnv(t *testing.T) {
	t.Setenv("SLACK_API_TOKEN", "env-token")
	got, err := SlackToken(context.Background(), nil, "")
	if err != nil || got != "env-token" {
		t.Fatalf("got %q %v", got, err)
	}
	got, err = SlackToken(context.Background(), nil, "literal")
	if err != nil || got != "literal" {
		t.Fatalf("got %q %v", got, err)
	}
}
