package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TradeKind string

const (
	TradeOpened TradeKind = "opened"
	TradeClosed TradeKind = "closed"
)

type Format string

const (
	FormatPlaintext Format = "plaintext"
	FormatMarkdown  Format = "markdown"
)

// Valid reports whether f is one of the recognised output formats.
func (f Format) Valid() bool {
	return f == FormatPlaintext || f == FormatMarkdown
}

type OpenedDetails struct {
	Cost  decimal.Decimal
	Price decimal.Decimal
}

type ClosedDetails struct {
	ClosePrice decimal.Decimal
	ProfitLoss decimal.Decimal
}

// Trade is a single position event reported by the trading bot. Kind selects
// which of Opened or Closed is populated; the other is always nil.
type Trade struct {
	Kind       TradeKind
	Bot        string
	Symbol     string
	Strategy   string
	Position   string
	Expiration time.Time
	Quantity   int

	Opened *OpenedDetails
	Closed *ClosedDetails
}

// TradeBase holds the fields shared by both trade variants.
type TradeBase struct {
	Bot        string
	Symbol     string
	Strategy   string
	Position   string
	Expiration time.Time
	Quantity   int
}

func NewOpenedTrade(base TradeBase, cost, price decimal.Decimal) Trade {
	t := newTrade(TradeOpened, base)
	t.Opened = &OpenedDetails{Cost: cost, Price: price}
	return t
}

func NewClosedTrade(base TradeBase, closePrice, profitLoss decimal.Decimal) Trade {
	t := newTrade(TradeClosed, base)
	t.Closed = &ClosedDetails{ClosePrice: closePrice, ProfitLoss: profitLoss}
	return t
}

func newTrade(kind TradeKind, base TradeBase) Trade {
	return Trade{
		Kind:       kind,
		Bot:        base.Bot,
		Symbol:     base.Symbol,
		Strategy:   base.Strategy,
		Position:   base.Position,
		Expiration: base.Expiration,
		Quantity:   base.Quantity,
	}
}

// Title is the one-line summary used as the notification title.
func (t Trade) Title() string {
	verb := "opened"
	if t.Kind == TradeClosed {
		verb = "closed"
	}
	return fmt.Sprintf("Position %s by %s: %d %s %s", verb, t.Bot, t.Quantity, t.Symbol, t.Strategy)
}

type Notification struct {
	Title  string
	Body   string
	Format Format
}

// Message is a raw mailbox message as handed to the pipeline.
type Message struct {
	ID   string
	HTML string
}

type Label struct {
	ID   string
	Name string
}
