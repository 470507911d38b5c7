package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shanehull/oantfy/internal/types"
)

// Default patterns for the bot's current email format.
const (
	DefaultOpenPattern   = `Bot:\s*(.*?)Symbol:\s*(.*?)Strategy:\s*(.*?)Position:\s*(.*?)Expiration:\s*(.*?)Quantity:\s*(.*?)Cost:\s*(.*?)Price:\s*(.*)`
	DefaultClosedPattern = `Bot:\s*(.*?)Symbol:\s*(.*?)Strategy:\s*(.*?)Position:\s*(.*?)Expiration:\s*(.*?)Quantity:\s*(.*?)Close Price\*:\s*(.*?)Profit/Loss:\s*(.*)`
)

const (
	expirationLayout = "Jan 2, 2006"
	patternGroups    = 8
)

var moneyStripper = strings.NewReplacer("$", "", ",", "")

// Matcher classifies order text using an opened and a closed pattern.
type Matcher struct {
	open   *regexp.Regexp
	closed *regexp.Regexp
}

func NewMatcher(openExpr, closedExpr string) (*Matcher, error) {
	open, err := compilePattern("open", openExpr)
	if err != nil {
		return nil, err
	}
	closed, err := compilePattern("closed", closedExpr)
	if err != nil {
		return nil, err
	}
	return &Matcher{open: open, closed: closed}, nil
}

func compilePattern(name, expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid %s pattern: %w", name, err)
	}
	if re.NumSubexp() != patternGroups {
		return nil, fmt.Errorf("%s pattern has %d groups: %w", name, re.NumSubexp(), ErrPatternGroups)
	}
	return re, nil
}

func (m *Matcher) Classify(text string) (types.Trade, error) {
	return Classify(text, m.open, m.closed)
}

// Classify tries the opened pattern first and falls back to the closed
// pattern, so text matching both is always an opened trade.
func Classify(text string, open, closed *regexp.Regexp) (types.Trade, error) {
	if groups := open.FindStringSubmatch(text); groups != nil {
		return parseOpened(trimGroups(groups[1:]))
	}
	if groups := closed.FindStringSubmatch(text); groups != nil {
		return parseClosed(trimGroups(groups[1:]))
	}
	return types.Trade{}, ErrUnrecognizedFormat
}

func trimGroups(groups []string) []string {
	trimmed := make([]string, len(groups))
	for i, g := range groups {
		trimmed[i] = strings.TrimSpace(g)
	}
	return trimmed
}

func parseOpened(g []string) (types.Trade, error) {
	base, err := parseBase(g)
	if err != nil {
		return types.Trade{}, err
	}
	cost, err := parseMoney("cost", g[6])
	if err != nil {
		return types.Trade{}, err
	}
	price, err := parseDecimal("price", g[7])
	if err != nil {
		return types.Trade{}, err
	}
	return types.NewOpenedTrade(base, cost, price), nil
}

func parseClosed(g []string) (types.Trade, error) {
	base, err := parseBase(g)
	if err != nil {
		return types.Trade{}, err
	}
	closePrice, err := parseMoney("close_price", g[6])
	if err != nil {
		return types.Trade{}, err
	}
	profitLoss, err := parseMoney("profit_loss", g[7])
	if err != nil {
		return types.Trade{}, err
	}
	return types.NewClosedTrade(base, closePrice, profitLoss), nil
}

func parseBase(g []string) (types.TradeBase, error) {
	expiration, err := time.Parse(expirationLayout, g[4])
	if err != nil {
		return types.TradeBase{}, &FieldError{Field: "expiration", Value: g[4], Err: ErrDateParse}
	}

	quantity, err := strconv.Atoi(g[5])
	if err != nil {
		return types.TradeBase{}, &FieldError{Field: "quantity", Value: g[5], Err: ErrNumericParse}
	}

	return types.TradeBase{
		Bot:        g[0],
		Symbol:     g[1],
		Strategy:   g[2],
		Position:   g[3],
		Expiration: expiration,
		Quantity:   quantity,
	}, nil
}

// parseMoney drops dollar signs and thousands separators before parsing.
func parseMoney(field, s string) (decimal.Decimal, error) {
	return parseDecimal(field, moneyStripper.Replace(s))
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &FieldError{Field: field, Value: s, Err: ErrNumericParse}
	}
	return d, nil
}
