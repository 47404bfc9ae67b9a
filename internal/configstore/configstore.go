// Package configstore is the versioned key-value configuration used by the
// chatbot: prompts, tool configuration and feature switches. Reads are served
// from an injected TTL cache; writes go to storage first and then refresh the
// cache under the same lock.
package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/walletwise/walletwise/backend/internal/cache"
	"github.com/walletwise/walletwise/backend/internal/store"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// DefaultTTL is how long a cached value is trusted before a storage re-read.
const DefaultTTL = time.Hour

// ChangeFunc is notified after a key changes value or activation.
type ChangeFunc func(ctx context.Context, key string)

// Service exposes get/set/toggle/revert over a ConfigStore.
type Service struct {
	store store.ConfigStore
	cache *cache.TTL[string, json.RawMessage]

	// mu serialises writers so storage and cache never disagree.
	mu        sync.Mutex
	listeners []ChangeFunc
}

// New creates a config service. A nil cache gets a fresh one with DefaultTTL.
func New(s store.ConfigStore, c *cache.TTL[string, json.RawMessage]) *Service {
	if c == nil {
		c = cache.NewTTL[string, json.RawMessage](DefaultTTL)
	}
	return &Service{store: s, cache: c}
}

// OnChange registers a listener invoked after every write: Create, Set,
// ToggleActive, Revert and Import.
func (s *Service) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Service) notify(ctx context.Context, keys ...string) {
	s.mu.Lock()
	listeners := append([]ChangeFunc(nil), s.listeners...)
	s.mu.Unlock()
	for _, key := range keys {
		for _, fn := range listeners {
			fn(ctx, key)
		}
	}
}

// Load eagerly caches every active key. Called once at startup and by
// InvalidateAll.
func (s *Service) Load(ctx context.Context) error {
	entries, err := s.store.ListConfigEntries(ctx, true)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	values := make(map[string]json.RawMessage, len(entries))
	for _, e := range entries {
		values[e.Key] = json.RawMessage(e.Value)
	}
	s.cache.Replace(values)

	log.Info().Int("keys", len(values)).Msg("Configuration loaded")
	return nil
}

// Get returns the active value for key, or nil if the key is absent or inactive.
func (s *Service) Get(ctx context.Context, key string) (json.RawMessage, error) {
	value, err := s.cache.GetOrLoad(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		entry, err := s.store.GetConfigEntry(ctx, key)
		if err != nil {
			var nf *store.ErrNotFound
			if errors.As(err, &nf) {
				return nil, errAbsent
			}
			return nil, fmt.Errorf("get config %s: %w", key, err)
		}
		if !entry.IsActive {
			return nil, errAbsent
		}
		return json.RawMessage(entry.Value), nil
	})
	if errors.Is(err, errAbsent) {
		return nil, nil
	}
	return value, err
}

// errAbsent keeps missing and inactive keys out of the cache.
var errAbsent = errors.New("config key absent")

// Decode unmarshals the value of key into dst. It reports false when the key
// is absent or inactive.
func (s *Service) Decode(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := s.Get(ctx, key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode config %s: %w", key, err)
	}
	return true, nil
}

// Entry returns the full stored record, regardless of activation.
func (s *Service) Entry(ctx context.Context, key string) (*models.ConfigEntry, error) {
	return s.store.GetConfigEntry(ctx, key)
}

// List returns every stored entry, active or not.
func (s *Service) List(ctx context.Context) ([]models.ConfigEntry, error) {
	return s.store.ListConfigEntries(ctx, false)
}

// History returns the change history of key, newest first.
func (s *Service) History(ctx context.Context, key string) ([]models.ConfigHistory, error) {
	if _, err := s.store.GetConfigEntry(ctx, key); err != nil {
		return nil, err
	}
	return s.store.ListConfigHistory(ctx, key)
}

// Create adds a new key at version 1.
func (s *Service) Create(ctx context.Context, key string, value json.RawMessage, description, actor string) (*models.ConfigEntry, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: config key is required", models.ErrInvalidInput)
	}
	if !json.Valid(value) {
		return nil, fmt.Errorf("%w: config value for %s is not valid JSON", models.ErrInvalidInput, key)
	}

	entry := &models.ConfigEntry{
		Key:         key,
		Value:       models.JSON(value),
		Description: description,
		Version:     1,
		IsActive:    true,
		UpdatedBy:   actor,
	}
	s.mu.Lock()
	if err := s.store.CreateConfigEntry(ctx, entry); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.cache.Set(key, value)
	s.mu.Unlock()

	log.Info().Str("key", key).Str("actor", actor).Msg("Config entry created")
	s.notify(ctx, key)
	return entry, nil
}

// Set replaces the value of an existing key, appending a history row and
// bumping the version. The cache reflects the new value before Set returns.
func (s *Service) Set(ctx context.Context, key string, value json.RawMessage, actor, reason string) (*models.ConfigEntry, error) {
	if !json.Valid(value) {
		return nil, fmt.Errorf("%w: config value for %s is not valid JSON", models.ErrInvalidInput, key)
	}

	entry, err := s.write(ctx, key, value, actor, reason)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, key)
	return entry, nil
}

func (s *Service) write(ctx context.Context, key string, value json.RawMessage, actor, reason string) (*models.ConfigEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.store.GetConfigEntry(ctx, key)
	if err != nil {
		return nil, err
	}

	previous := entry.Value
	entry.Value = models.JSON(value)
	entry.Version++
	entry.UpdatedBy = actor

	history := &models.ConfigHistory{
		Key:           key,
		Version:       entry.Version,
		PreviousValue: previous,
		NewValue:      entry.Value,
		ChangedBy:     actor,
		Reason:        reason,
	}
	if err := s.store.UpdateConfigEntry(ctx, entry, history); err != nil {
		return nil, fmt.Errorf("set config %s: %w", key, err)
	}

	if entry.IsActive {
		s.cache.Set(key, value)
	} else {
		s.cache.Delete(key)
	}

	log.Info().
		Str("key", key).
		Int("version", entry.Version).
		Str("actor", actor).
		Msg("Config entry updated")
	return entry, nil
}

// ToggleActive activates or deactivates a key. Inactive keys are evicted
// from the cache; their history is kept.
func (s *Service) ToggleActive(ctx context.Context, key string, active bool, actor string) (*models.ConfigEntry, error) {
	s.mu.Lock()
	entry, err := s.store.GetConfigEntry(ctx, key)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	entry.IsActive = active
	entry.UpdatedBy = actor
	if err := s.store.UpdateConfigEntry(ctx, entry, nil); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("toggle config %s: %w", key, err)
	}
	if active {
		s.cache.Set(key, json.RawMessage(entry.Value))
	} else {
		s.cache.Delete(key)
	}
	s.mu.Unlock()

	log.Info().Str("key", key).Bool("active", active).Str("actor", actor).Msg("Config entry toggled")
	s.notify(ctx, key)
	return entry, nil
}

// Revert restores the value a key had at version. The revert itself is
// recorded as a new version.
func (s *Service) Revert(ctx context.Context, key string, version int, actor string) (*models.ConfigEntry, error) {
	target, err := s.store.GetConfigHistory(ctx, key, version)
	if err != nil {
		return nil, err
	}
	entry, err := s.write(ctx, key, json.RawMessage(target.NewValue), actor, fmt.Sprintf("revert to version %d", version))
	if err != nil {
		return nil, err
	}
	s.notify(ctx, key)
	return entry, nil
}

// InvalidateAll drops the cache and reloads every active key from storage.
func (s *Service) InvalidateAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Clear()
	return s.Load(ctx)
}

// Export returns every stored entry in the portable format.
func (s *Service) Export(ctx context.Context) ([]models.ConfigExport, error) {
	entries, err := s.store.ListConfigEntries(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]models.ConfigExport, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.ConfigExport{
			Key:         e.Key,
			Value:       json.RawMessage(e.Value),
			Description: e.Description,
			Version:     e.Version,
		})
	}
	return out, nil
}

// ImportResult counts what Import did.
type ImportResult struct {
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Errors    []string `json:"errors,omitempty"`
}

// Import creates missing keys and updates existing ones whose value differs,
// then reloads the cache. Entries that fail are reported, not fatal.
func (s *Service) Import(ctx context.Context, items []models.ConfigExport, actor string) (*ImportResult, error) {
	res := &ImportResult{}

	for _, item := range items {
		existing, err := s.store.GetConfigEntry(ctx, item.Key)
		var nf *store.ErrNotFound
		switch {
		case errors.As(err, &nf):
			if _, err := s.Create(ctx, item.Key, item.Value, item.Description, actor); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", item.Key, err))
				continue
			}
			res.Created++
		case err != nil:
			return res, fmt.Errorf("import %s: %w", item.Key, err)
		case jsonEqual(existing.Value, item.Value):
			res.Unchanged++
		default:
			if _, err := s.Set(ctx, item.Key, item.Value, actor, "import"); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", item.Key, err))
				continue
			}
			res.Updated++
		}
	}

	if err := s.InvalidateAll(ctx); err != nil {
		return res, err
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Int("errors", len(res.Errors)).
		Msg("Configuration imported")
	return res, nil
}

func jsonEqual(a, b []byte) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return string(a) == string(b)
	}
	ca, _ := json.Marshal(va)
	cb, _ := json.Marshal(vb)
	return string(ca) == string(cb)
}
