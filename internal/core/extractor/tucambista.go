package extractor

import (
	"regexp"
	"time"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

const tucambistaFlight = `() => JSON.stringify(typeof self !== 'undefined' && Array.isArray(self.__next_f) ? self.__next_f : [])`

var (
	tucambistaEntity = regexp.MustCompile(`(?i)\\?"entity\\?"\s*:\s*\\?"tucambista\\?"[^}]*?\\?"buyExchangeRate\\?"\s*:\s*\\?"?([\d.]+)\\?"?[^}]*?\\?"sellExchangeRate\\?"\s*:\s*\\?"?([\d.]+)`)
	tucambistaBuy    = regexp.MustCompile(`(?i)compra[:\s]*(3\.\d{1,4})`)
	tucambistaSell   = regexp.MustCompile(`(?i)venta[:\s]*(3\.\d{1,4})`)
)

// NewTucambista returns the tucambista.pe extractor. The site hydrates slowly,
// so it gets the longest navigation timeout.
func NewTucambista() *Source {
	return &Source{
		ID:      core.ProviderTucambista,
		URL:     "https://tucambista.pe/",
		Timeout: 120 * time.Second,
		Settle:  8 * time.Second,
		Min:     houseMin,
		Max:     houseMax,
		Parse:   parseTucambista,
	}
}

func parseTucambista(page Page) (Quote, bool, error) {
	flight, err := evalString(page, tucambistaFlight)
	if err != nil {
		return Quote{}, false, err
	}
	if match := tucambistaEntity.FindStringSubmatch(flight); len(match) == 3 {
		buy, okBuy := parseDecimal(match[1])
		sell, okSell := parseDecimal(match[2])
		if okBuy && okSell {
			return Quote{Buy: buy, Sell: sell}, true, nil
		}
	}

	text, err := page.Text()
	if err != nil {
		return Quote{}, false, err
	}
	q, ok := labelled(text, tucambistaBuy, tucambistaSell)
	return q, ok, nil
}
