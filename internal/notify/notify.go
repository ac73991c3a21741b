// Package notify sends overdue notices over a WhatsApp gateway webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"lufashion/internal/core"
)

// DefaultPhone receives notices for customers without a phone on file.
const DefaultPhone = "77981088587"

// Notice is everything the reminder message needs.
type Notice struct {
	CustomerName string
	Phone        string
	DueDate      core.Date
	TotalBilled  core.Money
	Pending      core.Money
}

type Sender interface {
	SendOverdueNotice(ctx context.Context, n Notice) error
}

// WebhookSender posts {phone, message} JSON to a WhatsApp gateway.
type WebhookSender struct {
	client       *http.Client
	url          string
	authToken    string
	defaultPhone string
}

func NewWebhookSender(url, authToken, defaultPhone string) *WebhookSender {
	if defaultPhone == "" {
		defaultPhone = DefaultPhone
	}
	return &WebhookSender{
		client:       newHTTPClient(),
		url:          url,
		authToken:    authToken,
		defaultPhone: defaultPhone,
	}
}

func newHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
		Timeout: 60 * time.Second,
	}
}

type webhookPayload struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (s *WebhookSender) SendOverdueNotice(ctx context.Context, n Notice) error {
	payload := webhookPayload{
		Phone:   TargetPhone(n.Phone, s.defaultPhone),
		Message: FormatMessage(n),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notice request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	slog.InfoContext(ctx, "Overdue notice sent",
		"customer", n.CustomerName,
		"phone", payload.Phone)
	return nil
}

// LogSender writes notices to the log instead of a gateway. Used when no
// webhook URL is configured.
type LogSender struct{}

func (LogSender) SendOverdueNotice(ctx context.Context, n Notice) error {
	slog.InfoContext(ctx, "Overdue notice (log only)",
		"customer", n.CustomerName,
		"phone", TargetPhone(n.Phone, DefaultPhone),
		"message", FormatMessage(n))
	return nil
}

// FormatMessage builds the WhatsApp reminder text.
func FormatMessage(n Notice) string {
	return fmt.Sprintf(
		"*Notificação de Vencimento* 📣\n\n*Cliente:* %s\n*Data de Vencimento:* %s\n*Valor Total:* %s\n*Valor Pendente:* %s",
		n.CustomerName,
		n.DueDate.Format("02/01/2006"),
		n.TotalBilled.FormatBRL(),
		n.Pending.FormatBRL(),
	)
}

// TargetPhone strips non-digits from the customer phone, falling back to the
// shop's own number when nothing usable remains.
func TargetPhone(phone, fallback string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return fallback
	}
	return b.String()
}
