package extractor

import (
	"regexp"
	"time"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

var tkambioLoose = regexp.MustCompile(`3\.\d{2,4}`)

// NewTkambio returns the tkambio.com extractor.
func NewTkambio() *Source {
	return &Source{
		ID:      core.ProviderTkambio,
		URL:     "https://tkambio.com/",
		Timeout: 60 * time.Second,
		Settle:  2500 * time.Millisecond,
		Min:     houseMin,
		Max:     houseMax,
		Parse:   parseTkambio,
	}
}

func parseTkambio(page Page) (Quote, bool, error) {
	text, err := page.Text()
	if err != nil {
		return Quote{}, false, err
	}
	if q, ok := labelled(text, buyLabel, sellLabel); ok {
		return q, true, nil
	}

	// The widget sometimes renders bare figures without labels.
	q, ok := distinctPair(within(tkambioLoose, text, houseMin, houseMax))
	return q, ok, nil
}
