package notify

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shanehull/oantfy/internal/types"
)

// ConsoleSender prints notifications instead of publishing them. It backs
// dry-run mode.
type ConsoleSender struct {
	out io.Writer
}

func NewConsoleSender(out io.Writer) *ConsoleSender {
	return &ConsoleSender{out: out}
}

func (s *ConsoleSender) Send(_ context.Context, n types.Notification) error {
	rule := strings.Repeat("=", 43)
	_, err := fmt.Fprintf(s.out, "\n%s\n%s [%s]\n%s\n%s\n", rule, n.Title, n.Format, rule, n.Body)
	return err
}
