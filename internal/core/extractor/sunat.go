package extractor

import (
	"regexp"
	"time"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

var (
	sunatBuy  = regexp.MustCompile(`(?i)Compra[:\s]*(?:S/)?\s*(\d+\.\d{3,4})`)
	sunatSell = regexp.MustCompile(`(?i)Venta[:\s]*(?:S/)?\s*(\d+\.\d{3,4})`)
)

// NewSunat returns the SUNAT official exchange rate extractor. It is slow and
// disabled unless listed in scrape.providers.
func NewSunat() *Source {
	return &Source{
		ID:      core.ProviderSunat,
		URL:     "https://e-consulta.sunat.gob.pe/cl-at-ittipcam/tcS01Alias",
		Timeout: 45 * time.Second,
		Settle:  5 * time.Second,
		Min:     houseMin,
		Max:     houseMax,
		Parse:   parseSunat,
	}
}

func parseSunat(page Page) (Quote, bool, error) {
	text, err := page.Text()
	if err != nil {
		return Quote{}, false, err
	}
	q, ok := labelled(text, sunatBuy, sunatSell)
	return q, ok, nil
}
