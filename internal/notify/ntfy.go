package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shanehull/oantfy/internal/types"
)

// NtfyConfig holds the ntfy topic settings.
type NtfyConfig struct {
	Server      string
	Topic       string
	Protected   bool
	BearerToken string
	// Timeout bounds each POST. Zero leaves it to the transport.
	Timeout time.Duration
}

// NtfySender publishes notifications to an ntfy topic.
type NtfySender struct {
	cfg        NtfyConfig
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewNtfySender(cfg NtfyConfig, logger zerolog.Logger) *NtfySender {
	return &NtfySender{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.Server, "/") + "/" + url.PathEscape(cfg.Topic),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With().Str("component", "ntfy").Logger(),
	}
}

// Send posts the notification body to the topic. Any non-2xx response or
// transport failure is returned as a *DeliveryError.
func (s *NtfySender) Send(ctx context.Context, n types.Notification) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(n.Body))
	if err != nil {
		return fmt.Errorf("failed to build ntfy request: %w", err)
	}

	req.Header.Set("Title", n.Title)
	if n.Format == types.FormatMarkdown {
		req.Header.Set("Markdown", "yes")
	}
	if s.cfg.Protected {
		req.Header.Set("Authorization", "Bearer "+s.cfg.BearerToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &DeliveryError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	s.logger.Debug().Str("topic", s.cfg.Topic).Int("status", resp.StatusCode).Msg("notification published")
	return nil
}
