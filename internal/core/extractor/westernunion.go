package extractor

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

const westernUnionInputs = `() => Array.from(document.querySelectorAll('input[type="text"]'))
	.map(i => (i.value || '').replace(/,/g, ''))
	.join('|')`

var (
	westernUnionBuy  = regexp.MustCompile(`(?i)Compra[:\s]*([\d.]+)`)
	westernUnionSell = regexp.MustCompile(`(?i)Venta[:\s]*([\d.]+)`)
)

// NewWesternUnion returns the Western Union Peru currency exchange extractor.
func NewWesternUnion() *Source {
	return &Source{
		ID:      core.ProviderWesternUnion,
		URL:     "https://www.westernunionperu.pe/cambiodemoneda",
		Timeout: 90 * time.Second,
		Settle:  3 * time.Second,
		Min:     houseMin,
		Max:     houseMax,
		Parse:   parseWesternUnion,
	}
}

func parseWesternUnion(page Page) (Quote, bool, error) {
	text, err := page.Text()
	if err != nil {
		return Quote{}, false, err
	}
	if q, ok := labelled(text, westernUnionBuy, westernUnionSell); ok && q.Sell.GreaterThan(q.Buy) {
		return q, true, nil
	}

	raw, err := evalString(page, westernUnionInputs)
	if err != nil {
		return Quote{}, false, err
	}
	var values []decimal.Decimal
	for _, v := range splitValues(raw) {
		if !v.LessThan(houseMin) && !v.GreaterThan(houseMax) {
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		return Quote{}, false, nil
	}
	return Quote{Buy: decimal.Min(values[0], values[1]), Sell: decimal.Max(values[0], values[1])}, true, nil
}
