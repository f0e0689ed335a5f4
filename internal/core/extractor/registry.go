package extractor

import (
	"fmt"
	"strings"
	"time"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

// DefaultProviders are scraped when no explicit provider list is configured.
var DefaultProviders = []core.Provider{
	core.ProviderKambista,
	core.ProviderTkambio,
	core.ProviderTucambista,
	core.ProviderRextie,
	core.ProviderBloomberg,
	core.ProviderWesternUnion,
}

var constructors = map[core.Provider]func() *Source{
	core.ProviderKambista:     NewKambista,
	core.ProviderTkambio:      NewTkambio,
	core.ProviderTucambista:   NewTucambista,
	core.ProviderRextie:       NewRextie,
	core.ProviderBloomberg:    NewBloomberg,
	core.ProviderWesternUnion: NewWesternUnion,
	core.ProviderSunat:        NewSunat,
}

// Options tunes every extractor built by Build.
type Options struct {
	// MaxTimeout caps each provider's navigation timeout. Zero keeps the
	// provider default.
	MaxTimeout time.Duration
	Clock      func() time.Time
}

// Build returns extractors for the named providers. Duplicates are dropped and
// an empty list selects DefaultProviders.
func Build(names []string, opts Options) ([]Extractor, error) {
	providers := make([]core.Provider, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		p, ok := core.ParseProvider(name)
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", name)
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		providers = DefaultProviders
	}

	seen := make(map[core.Provider]bool, len(providers))
	out := make([]Extractor, 0, len(providers))
	for _, p := range providers {
		if seen[p] {
			continue
		}
		seen[p] = true

		src := constructors[p]()
		if opts.MaxTimeout > 0 && src.Timeout > opts.MaxTimeout {
			src.Timeout = opts.MaxTimeout
		}
		src.Clock = opts.Clock
		out = append(out, src)
	}
	return out, nil
}
