package extractor

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

const (
	bloombergGlobal = `() => {
	const g = window.Fusion && window.Fusion.globalContent;
	return g && g.PX_LAST ? String(g.PX_LAST) : null;
}`
	bloombergDataValue = `() => {
	const el = document.querySelector('.data-value.font_sm.font_medium');
	return el ? el.textContent.trim() : null;
}`
)

var (
	bloombergText = regexp.MustCompile(`([3-4]\.\d{2,4})\s*PEN`)

	// SpotHalfSpread is applied on both sides of the interbank spot price,
	// which has no buy/sell split of its own.
	SpotHalfSpread = decimal.RequireFromString("0.005")

	spotMin = decimal.NewFromInt(3)
	spotMax = decimal.NewFromInt(5)
)

// NewBloomberg returns the Bloomberg Línea USDPEN spot extractor.
func NewBloomberg() *Source {
	return &Source{
		ID:      core.ProviderBloomberg,
		URL:     "https://www.bloomberglinea.com/quote/USDPEN:CUR/",
		Timeout: 90 * time.Second,
		Settle:  3 * time.Second,
		Min:     spotMin.Sub(SpotHalfSpread),
		Max:     spotMax.Add(SpotHalfSpread),
		Parse:   parseBloomberg,
	}
}

func parseBloomberg(page Page) (Quote, bool, error) {
	for _, script := range []string{bloombergGlobal, bloombergDataValue} {
		raw, err := evalString(page, script)
		if err != nil {
			return Quote{}, false, err
		}
		if q, ok := spotQuote(raw); ok {
			return q, true, nil
		}
	}

	text, err := page.Text()
	if err != nil {
		return Quote{}, false, err
	}
	match := bloombergText.FindStringSubmatch(text)
	if len(match) < 2 {
		return Quote{}, false, nil
	}
	q, ok := spotQuote(match[1])
	return q, ok, nil
}

func spotQuote(raw string) (Quote, bool) {
	spot, ok := parseDecimal(raw)
	if !ok || spot.LessThan(spotMin) || spot.GreaterThan(spotMax) {
		return Quote{}, false
	}
	return Quote{Buy: spot.Sub(SpotHalfSpread), Sell: spot.Add(SpotHalfSpread)}, true
}
