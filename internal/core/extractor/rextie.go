package extractor

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

var (
	rextieAmount = regexp.MustCompile(`(?i)s/?\s*(\d+\.\d{3,4})`)

	rextieFallbackLow  = decimal.RequireFromString("3.2")
	rextieFallbackHigh = decimal.RequireFromString("3.5")
)

// rextieHeadLines bounds how far from the top a quote may appear before the
// "Rextie" heading is seen.
const rextieHeadLines = 50

// NewRextie returns the rextie.com extractor.
func NewRextie() *Source {
	return &Source{
		ID:      core.ProviderRextie,
		URL:     "https://www.rextie.com/",
		Timeout: 60 * time.Second,
		Settle:  1500 * time.Millisecond,
		Min:     houseMin,
		Max:     houseMax,
		Parse:   parseRextie,
	}
}

func parseRextie(page Page) (Quote, bool, error) {
	text, err := page.Text()
	if err != nil {
		return Quote{}, false, err
	}
	if q, ok := rextieSection(text); ok {
		return q, true, nil
	}
	q, ok := distinctPair(within(rextieAmount, text, rextieFallbackLow, rextieFallbackHigh))
	return q, ok, nil
}

// rextieSection scans the page line by line: the home page lists the Rextie
// quote first, then SUNAT and bank references that must not be confused with it.
func rextieSection(text string) (Quote, bool) {
	lines := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	var buy, sell *decimal.Decimal
	inSection := false
	for i, line := range lines {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "rextie") && !strings.Contains(lower, "sunat") && !strings.Contains(lower, "banco") {
			inSection = true
		}
		if !inSection && i >= rextieHeadLines {
			continue
		}

		if buy == nil && strings.Contains(lower, "compra") {
			buy = rextieLookahead(lines, i, nil)
		}
		if buy != nil && sell == nil && strings.Contains(lower, "venta") {
			sell = rextieLookahead(lines, i, buy)
		}
		if buy != nil && sell != nil {
			break
		}
	}

	if buy == nil || sell == nil || buy.Equal(*sell) {
		return Quote{}, false
	}
	return Quote{Buy: *buy, Sell: *sell}, true
}

func rextieLookahead(lines []string, from int, exclude *decimal.Decimal) *decimal.Decimal {
	for j := from; j < len(lines) && j < from+4; j++ {
		match := rextieAmount.FindStringSubmatch(lines[j])
		if len(match) < 2 {
			continue
		}
		v, ok := parseDecimal(match[1])
		if !ok || !v.GreaterThan(houseMin) || !v.LessThan(houseMax) {
			continue
		}
		if exclude != nil && v.Equal(*exclude) {
			continue
		}
		return &v
	}
	return nil
}
