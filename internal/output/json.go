package output

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

// StructuredFormatter renders machine-readable JSON or YAML.
type StructuredFormatter struct {
	Encoding Format
}

// FormatRates renders observations as a list.
func (f *StructuredFormatter) FormatRates(title string, rates []core.RateObservation) (string, error) {
	return f.encode(struct {
		Title string    `json:"title,omitempty" yaml:"title,omitempty"`
		Rates []rateRow `json:"rates" yaml:"rates"`
	}{title, rowsOf(rates)})
}

// FormatStats renders per-provider aggregates.
func (f *StructuredFormatter) FormatStats(stats []core.ProviderStats) (string, error) {
	return f.encode(struct {
		Stats []statsRow `json:"stats" yaml:"stats"`
	}{statsRowsOf(stats)})
}

// FormatStoreStats renders the history table summary.
func (f *StructuredFormatter) FormatStoreStats(stats core.StoreStats) (string, error) {
	return f.encode(struct {
		TotalRecords   int    `json:"total_records" yaml:"total_records"`
		TotalProviders int    `json:"total_providers" yaml:"total_providers"`
		OldestRecord   string `json:"oldest_record" yaml:"oldest_record"`
		NewestRecord   string `json:"newest_record" yaml:"newest_record"`
	}{stats.TotalRecords, stats.TotalProviders, timeOrDash(stats.OldestRecord), timeOrDash(stats.NewestRecord)})
}

func (f *StructuredFormatter) encode(v any) (string, error) {
	if f.Encoding == FormatYAML {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return "", err
		}
		if err := enc.Close(); err != nil {
			return "", err
		}
		return buf.String(), nil
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
