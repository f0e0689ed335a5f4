package extractor

import (
	"time"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

const kambistaInputs = `() => {
	const buy = document.querySelector('input[name="compra"]');
	const sell = document.querySelector('input[name="venta"]');
	return buy && sell && buy.value && sell.value ? buy.value + '|' + sell.value : null;
}`

// NewKambista returns the kambista.com extractor.
func NewKambista() *Source {
	return &Source{
		ID:      core.ProviderKambista,
		URL:     "https://kambista.com/",
		Timeout: 60 * time.Second,
		Settle:  1500 * time.Millisecond,
		Min:     houseMin,
		Max:     houseMax,
		Parse:   parseKambista,
	}
}

func parseKambista(page Page) (Quote, bool, error) {
	text, err := page.Text()
	if err != nil {
		return Quote{}, false, err
	}
	if q, ok := labelled(text, buyLabel, sellLabel); ok {
		return q, true, nil
	}

	raw, err := evalString(page, kambistaInputs)
	if err != nil {
		return Quote{}, false, err
	}
	values := splitValues(raw)
	if len(values) != 2 {
		return Quote{}, false, nil
	}
	return Quote{Buy: values[0], Sell: values[1]}, true, nil
}
