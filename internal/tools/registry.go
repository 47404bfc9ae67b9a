// Package tools holds the chatbot's callable tools: the registry that decides
// which are offered to the model, and the executors that answer them from the
// user's financial records.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/walletwise/walletwise/backend/internal/cache"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// ConfigSource is the part of the config store the registry reads.
type ConfigSource interface {
	Decode(ctx context.Context, key string, dst any) (bool, error)
}

type registered struct {
	def      models.ToolDefinition
	executor Executor
	seq      int
}

// Registry holds tool definitions and executors. Thread-safe.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*registered
	seq     int
	configs map[string]models.ToolConfig // nil = no configuration loaded
	source  ConfigSource

	// results holds one cache per tool configured with a positive
	// CacheTTLSeconds. Rebuilt on every configuration load.
	results map[string]*cache.TTL[string, models.ToolExecutionResult]
}

// NewRegistry creates an empty registry reading ToolsConfig from source.
// A nil source means every registered tool is always active.
func NewRegistry(source ConfigSource) *Registry {
	return &Registry{
		tools:  make(map[string]*registered),
		source: source,
	}
}

// Register adds a tool. A later registration under the same name replaces
// the earlier one.
func (r *Registry) Register(def models.ToolDefinition, executor Executor) {
	r.mu.Lock()
	r.seq++
	r.tools[def.Name] = &registered{def: def, executor: executor, seq: r.seq}
	r.mu.Unlock()
	log.Debug().Str("tool", def.Name).Msg("Tool registered")
}

// LoadConfiguration reads the ToolsConfig key. When it is absent every
// registered tool stays active; a read failure is returned and the previous
// configuration is kept.
func (r *Registry) LoadConfiguration(ctx context.Context) error {
	if r.source == nil {
		return nil
	}

	var cfg models.ToolsConfig
	found, err := r.source.Decode(ctx, models.ConfigKeyTools, &cfg)
	if err != nil {
		return fmt.Errorf("load tools configuration: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !found {
		r.configs = nil
		r.results = nil
		log.Info().Msg("No tools configuration found, all tools active")
		return nil
	}
	r.configs = make(map[string]models.ToolConfig, len(cfg.Tools))
	r.results = nil
	for _, tc := range cfg.Tools {
		r.configs[tc.Name] = tc
		if tc.CacheTTLSeconds > 0 {
			if r.results == nil {
				r.results = make(map[string]*cache.TTL[string, models.ToolExecutionResult])
			}
			r.results[tc.Name] = cache.NewTTL[string, models.ToolExecutionResult](time.Duration(tc.CacheTTLSeconds) * time.Second)
		}
	}
	log.Info().Int("configured", len(r.configs)).Int("cached", len(r.results)).Msg("Tools configuration loaded")
	return nil
}

// Reload re-reads the configuration.
func (r *Registry) Reload(ctx context.Context) error {
	return r.LoadConfiguration(ctx)
}

// ActiveDefinitions returns active tool definitions ordered by configured
// priority ascending. Unconfigured tools come last in registration order.
func (r *Registry) ActiveDefinitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type ranked struct {
		def        models.ToolDefinition
		configured bool
		priority   int
		seq        int
	}
	var list []ranked
	for name, t := range r.tools {
		cfg, configured := r.configs[name]
		if r.configs != nil && configured && !cfg.Active {
			continue
		}
		def := t.def
		if configured && cfg.DescriptionOverride != "" {
			def.Description = cfg.DescriptionOverride
		}
		list = append(list, ranked{def: def, configured: configured, priority: cfg.Priority, seq: t.seq})
	}

	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.configured != b.configured {
			return a.configured
		}
		if a.configured && a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.seq < b.seq
	})

	out := make([]models.ToolDefinition, len(list))
	for i, item := range list {
		out[i] = item.def
	}
	return out
}

// Executor returns the executor for name.
func (r *Registry) Executor(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return t.executor, true
}

// IsActive reports whether name is registered and not disabled by configuration.
func (r *Registry) IsActive(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	if r.configs == nil {
		return true
	}
	cfg, configured := r.configs[name]
	return !configured || cfg.Active
}

// Config returns the loaded configuration for name, if any.
func (r *Registry) Config(name string) (models.ToolConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Names lists every registered tool in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	type named struct {
		name string
		seq  int
	}
	list := make([]named, 0, len(r.tools))
	for n, t := range r.tools {
		list = append(list, named{n, t.seq})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	names := make([]string, len(list))
	for i, n := range list {
		names[i] = n.name
	}
	return names
}

// Execute runs the named tool. Unknown or inactive tools and executor panics
// become failed results; Execute never panics. Successful results of tools
// with a cache TTL are reused per user and parameters until they expire.
func (r *Registry) Execute(ctx context.Context, name string, ec models.ToolExecutionContext) models.ToolExecutionResult {
	executor, ok := r.Executor(name)
	if !ok {
		return Failure(name, fmt.Sprintf("unknown tool %q", name))
	}
	if !r.IsActive(name) {
		return Failure(name, fmt.Sprintf("tool %q is disabled", name))
	}

	r.mu.RLock()
	results := r.results[name]
	r.mu.RUnlock()
	if results == nil {
		return runTool(ctx, name, executor, ec)
	}

	res, err := results.GetOrLoad(ctx, resultKey(ec), func(ctx context.Context) (models.ToolExecutionResult, error) {
		res := runTool(ctx, name, executor, ec)
		if !res.Success {
			return res, uncached{res}
		}
		return res, nil
	})
	var failed uncached
	if errors.As(err, &failed) {
		return failed.res
	}
	return res
}

func runTool(ctx context.Context, name string, executor Executor, ec models.ToolExecutionContext) (res models.ToolExecutionResult) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("tool", name).Interface("panic", p).Str("stack", string(debug.Stack())).Msg("Tool panicked")
			res = Failure(name, fmt.Sprintf("internal error while running %s", name))
		}
	}()
	return executor.Execute(ctx, ec)
}

// uncached carries a failed result through the cache without storing it.
type uncached struct{ res models.ToolExecutionResult }

func (uncached) Error() string { return "tool result not cached" }

// resultKey scopes a cached result to the caller and the compacted parameters.
func resultKey(ec models.ToolExecutionContext) string {
	var params bytes.Buffer
	if err := json.Compact(&params, ec.Parameters); err != nil {
		params.Reset()
		params.Write(ec.Parameters)
	}
	return ec.UserID + "\x00" + params.String()
}
