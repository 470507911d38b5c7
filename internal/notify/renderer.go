/*
Package notify renders trade notifications and delivers them to ntfy.
*/
package notify

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shanehull/oantfy/internal/types"
)

//go:embed templates/*
var templateFS embed.FS

const dateLayout = "Jan 02, 2006"

var templateFuncs = template.FuncMap{
	"money": formatMoney,
	"date": func(t time.Time) string {
		return t.Format(dateLayout)
	},
}

// Renderer turns trades into notifications using the embedded templates.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded trade templates.
func NewRenderer() *Renderer {
	t := template.Must(template.New("trade").Funcs(templateFuncs).ParseFS(templateFS, "templates/*"))
	return &Renderer{tmpl: t}
}

// Template returns the named body template, e.g. "trade_opened.md".
func (r *Renderer) Template(name string) (*template.Template, error) {
	t := r.tmpl.Lookup(name)
	if t == nil {
		return nil, fmt.Errorf("template %q not found", name)
	}
	return t, nil
}

// Render produces the notification for a trade in the requested format.
func (r *Renderer) Render(trade types.Trade, format types.Format) (types.Notification, error) {
	name, err := templateName(trade.Kind, format)
	if err != nil {
		return types.Notification{}, err
	}

	tmpl, err := r.Template(name)
	if err != nil {
		return types.Notification{}, err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, trade); err != nil {
		return types.Notification{}, fmt.Errorf("failed to render %s: %w", name, err)
	}

	return types.Notification{
		Title:  trade.Title(),
		Body:   buf.String(),
		Format: format,
	}, nil
}

func templateName(kind types.TradeKind, format types.Format) (string, error) {
	var ext string
	switch format {
	case types.FormatPlaintext:
		ext = "txt"
	case types.FormatMarkdown:
		ext = "md"
	default:
		return "", fmt.Errorf("%w: format %q", ErrUnsupportedFormat, format)
	}

	switch kind {
	case types.TradeOpened, types.TradeClosed:
		return fmt.Sprintf("trade_%s.%s", kind, ext), nil
	default:
		return "", fmt.Errorf("%w: trade kind %q", ErrUnsupportedFormat, kind)
	}
}

// formatMoney renders d as "$1,234.50", with a leading "-" when negative.
func formatMoney(d decimal.Decimal) string {
	fixed := d.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var sb strings.Builder
	if d.IsNegative() {
		sb.WriteString("-")
	}
	sb.WriteString("$")
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	sb.WriteString(".")
	sb.WriteString(frac)
	return sb.String()
}
