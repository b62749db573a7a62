package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/models"
	"gopkg.in/yaml.v3"
)

// PricingRate is one pricing-book entry (spec §4.F "Pricing book").
type PricingRate struct {
	Provider            string   `yaml:"provider"`
	InputPer1MUsd       float64  `yaml:"input_per_1m_usd"`
	OutputPer1MUsd      float64  `yaml:"output_per_1m_usd"`
	CachedInputPer1MUsd *float64 `yaml:"cached_input_per_1m_usd,omitempty"`
}

// PricingBook is a static table keyed by model name.
type PricingBook struct {
	rates map[string]PricingRate
}

// NewPricingBook builds a PricingBook from a model->rate map, typically
// loaded from LoadPricingBookYAML.
func NewPricingBook(rates map[string]PricingRate) *PricingBook {
	return &PricingBook{rates: rates}
}

// LoadPricingBookYAML parses a pricing-book fixture file. The file format
// is a flat map of model name to PricingRate; cmd/journalctl reads it from
// pricing.yaml in its config directory.
func LoadPricingBookYAML(path string) (*PricingBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing book %s: %w", path, err)
	}
	data = ExpandEnv(data)

	var raw map[string]PricingRate
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse pricing book %s: %w", path, err)
	}
	return NewPricingBook(raw), nil
}

// Rate looks up the pricing rate for model. The stub model always resolves
// to zero rates regardless of the book's contents.
func (b *PricingBook) Rate(model string) (PricingRate, error) {
	if model == models.StubModel {
		return PricingRate{Provider: "stub"}, nil
	}
	if b != nil {
		if r, ok := b.rates[model]; ok {
			return r, nil
		}
	}
	return PricingRate{}, &apperrors.UnknownModelPricingError{Model: model}
}

// Snapshot freezes model's current rate into a RunConfig pricing snapshot,
// stamped with capturedAt (spec "Pricing snapshot" glossary entry).
func (b *PricingBook) Snapshot(model string, capturedAt time.Time) (models.PricingSnapshot, error) {
	r, err := b.Rate(model)
	if err != nil {
		return models.PricingSnapshot{}, err
	}
	return models.PricingSnapshot{
		Model:               model,
		Provider:            r.Provider,
		InputPer1MUsd:       r.InputPer1MUsd,
		OutputPer1MUsd:      r.OutputPer1MUsd,
		CachedInputPer1MUsd: r.CachedInputPer1MUsd,
		CapturedAt:          capturedAt,
	}, nil
}

// ExpandEnv expands ${VAR}/$VAR references in data, matching the teacher's
// pkg/config/envexpand.go behaviour exactly (missing vars expand empty).
func ExpandEnv(data []byte) []byte {
	return []byte(os.Expand(string(data), os.Getenv))
}

// InferProvider selects an adapter name from a model string, used by the
// llmclient package to route calls without a pricing-book lookup. Model
// names are matched by prefix, following the common "provider/model" or
// bare "gpt-"/"claude-" vendor naming conventions.
func InferProvider(model string) (string, bool) {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "openai/"):
		return "openai", true
	case strings.HasPrefix(lower, "claude-") || strings.HasPrefix(lower, "anthropic/"):
		return "anthropic", true
	default:
		return "", false
	}
}
