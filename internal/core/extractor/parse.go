package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	houseMin = decimal.NewFromInt(3)
	houseMax = decimal.NewFromInt(4)

	buyLabel  = regexp.MustCompile(`(?i)Compra[:\s]*(\d+\.\d+)`)
	sellLabel = regexp.MustCompile(`(?i)Venta[:\s]*(\d+\.\d+)`)
)

// labelled reads "Compra ... Venta" pairs from visible text.
func labelled(text string, buyRe, sellRe *regexp.Regexp) (Quote, bool) {
	buy, ok := firstDecimal(buyRe, text)
	if !ok {
		return Quote{}, false
	}
	sell, ok := firstDecimal(sellRe, text)
	if !ok {
		return Quote{}, false
	}
	return Quote{Buy: buy, Sell: sell}, true
}

func firstDecimal(re *regexp.Regexp, text string) (decimal.Decimal, bool) {
	match := re.FindStringSubmatch(text)
	if len(match) < 2 {
		return decimal.Decimal{}, false
	}
	return parseDecimal(match[1])
}

func parseDecimal(value string) (decimal.Decimal, bool) {
	value = strings.TrimSpace(strings.ReplaceAll(value, ",", ""))
	if value == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// distinctPair orders the first two distinct values as buy (lower) and sell (higher).
func distinctPair(values []decimal.Decimal) (Quote, bool) {
	if len(values) == 0 {
		return Quote{}, false
	}
	first := values[0]
	for _, v := range values[1:] {
		if v.Equal(first) {
			continue
		}
		return Quote{Buy: decimal.Min(first, v), Sell: decimal.Max(first, v)}, true
	}
	return Quote{}, false
}

// within collects every match of re whose value lies in (low, high).
func within(re *regexp.Regexp, text string, low, high decimal.Decimal) []decimal.Decimal {
	var out []decimal.Decimal
	for _, match := range re.FindAllStringSubmatch(text, -1) {
		raw := match[0]
		if len(match) > 1 {
			raw = match[1]
		}
		v, ok := parseDecimal(raw)
		if !ok || !v.GreaterThan(low) || !v.LessThan(high) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func evalString(page Page, script string) (string, error) {
	res, err := page.Evaluate(script)
	if err != nil {
		return "", fmt.Errorf("evaluate: %w", err)
	}
	switch v := res.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func splitValues(raw string) []decimal.Decimal {
	var out []decimal.Decimal
	for _, part := range strings.Split(raw, "|") {
		if v, ok := parseDecimal(part); ok {
			out = append(out, v)
		}
	}
	return out
}
