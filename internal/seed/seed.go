// Package seed loads the optional YAML bootstrap file holding the initial
// model candidates and chatbot configuration.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/walletwise/walletwise/backend/internal/store"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// Actor is recorded as the author of seeded config entries.
const Actor = "seed"

// File is the seed document.
//
//	models:
//	  - provider: openrouter
//	    model_name: openai/gpt-4o-mini
//	    api_key_ref: env:OPENROUTER_API_KEY
//	    priority: 1
//	    is_active: true
//	config:
//	  - key: chatbot.tools
//	    value: {tools: [{name: get_expenses, active: true, priority: 1}]}
type File struct {
	Models []models.ModelCandidate `yaml:"models"`
	Config []ConfigItem            `yaml:"config"`
}

// ConfigItem is one config key. Value may be any YAML and is stored as JSON.
type ConfigItem struct {
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
	Value       any    `yaml:"value"`
}

// ConfigWriter is the part of the config store the seeder writes through.
type ConfigWriter interface {
	List(ctx context.Context) ([]models.ConfigEntry, error)
	Create(ctx context.Context, key string, value json.RawMessage, description, actor string) (*models.ConfigEntry, error)
}

// Result reports what Apply wrote.
type Result struct {
	Models int
	Config int
}

// Load reads and parses a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a seed document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	for i, item := range f.Config {
		if item.Key == "" {
			return nil, fmt.Errorf("%w: seed config item %d has no key", models.ErrInvalidInput, i)
		}
	}
	for i, m := range f.Models {
		if m.ModelName == "" || m.Provider == "" {
			return nil, fmt.Errorf("%w: seed model %d needs provider and model_name", models.ErrInvalidInput, i)
		}
	}
	return &f, nil
}

// Apply writes the seed into empty tables. Model candidates are written only
// when no candidate exists; config keys only when no key exists.
func Apply(ctx context.Context, f *File, ms store.ModelStore, cfg ConfigWriter) (Result, error) {
	var res Result

	existing, err := ms.ListModelCandidates(ctx, false)
	if err != nil {
		return res, fmt.Errorf("list model candidates: %w", err)
	}
	if len(existing) == 0 {
		for i := range f.Models {
			c := f.Models[i]
			c.ID = 0
			if err := ms.CreateModelCandidate(ctx, &c); err != nil {
				return res, fmt.Errorf("seed model %s: %w", c.ModelName, err)
			}
			res.Models++
		}
	} else if len(f.Models) > 0 {
		log.Info().Int("existing", len(existing)).Msg("Model candidates present, skipping model seed")
	}

	entries, err := cfg.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list config entries: %w", err)
	}
	if len(entries) == 0 {
		for _, item := range f.Config {
			value, err := json.Marshal(item.Value)
			if err != nil {
				return res, fmt.Errorf("seed config %s: %w", item.Key, err)
			}
			if _, err := cfg.Create(ctx, item.Key, value, item.Description, Actor); err != nil {
				return res, fmt.Errorf("seed config %s: %w", item.Key, err)
			}
			res.Config++
		}
	} else if len(f.Config) > 0 {
		log.Info().Int("existing", len(entries)).Msg("Config entries present, skipping config seed")
	}

	log.Info().Int("models", res.Models).Int("config", res.Config).Msg("Seed applied")
	return res, nil
}

// Exports converts the config items to the import shape.
func (f *File) Exports() ([]models.ConfigExport, error) {
	out := make([]models.ConfigExport, 0, len(f.Config))
	for _, item := range f.Config {
		value, err := json.Marshal(item.Value)
		if err != nil {
			return nil, fmt.Errorf("encode config %s: %w", item.Key, err)
		}
		out = append(out, models.ConfigExport{Key: item.Key, Description: item.Description, Value: value})
	}
	return out, nil
}

// FromExport builds a seed document holding the exported config.
func FromExport(items []models.ConfigExport) (*File, error) {
	f := &File{Config: make([]ConfigItem, 0, len(items))}
	for _, e := range items {
		var value any
		if err := json.Unmarshal(e.Value, &value); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", e.Key, err)
		}
		f.Config = append(f.Config, ConfigItem{Key: e.Key, Description: e.Description, Value: value})
	}
	return f, nil
}
