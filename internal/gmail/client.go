/*
Package gmail is the mailbox client: it lists labels and fetches labelled
messages with their HTML bodies through the Gmail API.
*/
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/shanehull/oantfy/internal/types"
)

// Client wraps the Gmail service. Every API call goes through a circuit
// breaker; client errors (4xx) never trip it.
type Client struct {
	service *gmailapi.Service
	userID  string
	cb      *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// New builds a Client. Pass option.WithTokenSource for real use.
func New(ctx context.Context, userID string, logger zerolog.Logger, opts ...option.ClientOption) (*Client, error) {
	service, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	logger = logger.With().Str("component", "gmail").Logger()

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			var nce *nonCircuitError
			return err == nil || errors.As(err, &nce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &Client{
		service: service,
		userID:  userID,
		cb:      gobreaker.NewCircuitBreaker(cbSettings),
		logger:  logger,
	}, nil
}

func (c *Client) ListLabels(ctx context.Context) ([]types.Label, error) {
	var resp *gmailapi.ListLabelsResponse
	err := c.execute("labels.list", func() error {
		var err error
		resp, err = c.service.Users.Labels.List(c.userID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}

	labels := make([]types.Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		labels = append(labels, types.Label{ID: l.Id, Name: l.Name})
	}
	return labels, nil
}

// GetMessages returns every message carrying all of labelIDs, following
// pagination. A message that cannot be fetched is logged and left out; it is
// picked up again on the next call.
func (c *Client) GetMessages(ctx context.Context, labelIDs []string) ([]types.Message, error) {
	var refs []*gmailapi.Message
	err := c.execute("messages.list", func() error {
		refs = refs[:0]
		return c.service.Users.Messages.List(c.userID).
			LabelIds(labelIDs...).
			Pages(ctx, func(resp *gmailapi.ListMessagesResponse) error {
				refs = append(refs, resp.Messages...)
				return nil
			})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]types.Message, 0, len(refs))
	for _, ref := range refs {
		var msg *gmailapi.Message
		err := c.execute("messages.get", func() error {
			var err error
			msg, err = c.service.Users.Messages.Get(c.userID, ref.Id).Format("full").Context(ctx).Do()
			return err
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("message_id", ref.Id).Msg("failed to fetch message")
			continue
		}
		messages = append(messages, types.Message{ID: msg.Id, HTML: parseHTMLBody(msg.Payload)})
	}
	return messages, nil
}

func (c *Client) execute(operation string, fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("operation", operation).Str("breaker_state", c.cb.State().String()).Msg("gmail call failed")
	}
	return err
}

// nonCircuitError marks errors that count as a breaker success.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// parseHTMLBody returns the first text/html part found depth-first.
func parseHTMLBody(part *gmailapi.MessagePart) string {
	if part == nil {
		return ""
	}
	if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
		if data, err := decodeBase64URL(part.Body.Data); err == nil {
			return string(data)
		}
	}
	for _, p := range part.Parts {
		if html := parseHTMLBody(p); html != "" {
			return html
		}
	}
	return ""
}

// decodeBase64URL accepts base64url with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
