package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/smtp"
	"regexp"
	"strings"
	"sync"
	"time"
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// SMTPConfig holds the mail relay connection parameters.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// EmailSender delivers notifications over SMTP with STARTTLS.
// Params: sender, recipient, subject, body.
type EmailSender struct {
	config SMTPConfig
	logger *slog.Logger

	// send is swapped in tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailSender(config SMTPConfig, logger *slog.Logger) *EmailSender {
	return &EmailSender{
		config: config,
		logger: logger.With("component", "notify.email"),
		send:   smtp.SendMail,
	}
}

func (s *EmailSender) Name() string { return "email" }

func (s *EmailSender) Send(ctx context.Context, params map[string]string) error {
	sender := params["sender"]
	recipient := params["recipient"]
	subject := params["subject"]
	body := params["body"]

	if !emailPattern.MatchString(sender) {
		return fmt.Errorf("invalid sender address %q", sender)
	}
	if !emailPattern.MatchString(recipient) {
		return fmt.Errorf("invalid recipient address %q", recipient)
	}
	if strings.TrimSpace(subject) == "" {
		return fmt.Errorf("empty email subject")
	}
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("empty email body")
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", sender)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}
	if err := s.send(addr, auth, sender, []string{recipient}, msg.Bytes()); err != nil {
		return fmt.Errorf("smtp send to %s: %w", recipient, err)
	}
	return nil
}

// SlackSender posts notifications to a Slack incoming webhook.
// Params: msg, channel (optional override).
type SlackSender struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

func NewSlackSender(webhookURL string, logger *slog.Logger) *SlackSender {
	return &SlackSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "notify.slack"),
	}
}

func (s *SlackSender) Name() string { return "slack" }

func (s *SlackSender) Send(ctx context.Context, params map[string]string) error {
	msg := params["msg"]
	if msg == "" {
		return fmt.Errorf("empty slack message")
	}
	payload := map[string]string{"text": msg}
	if channel := params["channel"]; channel != "" {
		payload["channel"] = channel
	}
	return postJSON(ctx, s.client, s.webhookURL, payload)
}

// WebhookSender posts the full parameter map to a fixed URL as JSON. The
// receiving side routes it onward, standing in for a queue consumer.
// Params: any; a "url" param overrides the configured endpoint.
type WebhookSender struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewWebhookSender(url string, logger *slog.Logger) *WebhookSender {
	return &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("component", "notify.webhook"),
	}
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, params map[string]string) error {
	url := s.url
	if override := params["url"]; override != "" {
		url = override
	}
	if url == "" {
		return fmt.Errorf("no webhook url configured")
	}
	return postJSON(ctx, s.client, url, params)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}

// TestSender records sent payloads in memory.
type TestSender struct {
	mu   sync.Mutex
	sent []map[string]string
	err  error
}

func NewTestSender() *TestSender { return &TestSender{} }

func (s *TestSender) Name() string { return "test" }

func (s *TestSender) Send(ctx context.Context, params map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, params)
	return nil
}

// Sent returns a copy of every payload delivered so far.
func (s *TestSender) Sent() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]string, len(s.sent))
	copy(out, s.sent)
	return out
}

// Fail makes subsequent Send calls return err (nil restores success).
func (s *TestSender) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
