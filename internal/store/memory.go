// MemoryStore is the in-memory Store implementation.
// Used for tests and the zero-config "memory" driver. Supports file-based
// snapshot persistence so local data survives restarts.

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/walletwise/walletwise/backend/pkg/models"
)

// maxHealthLogs caps the in-memory health log; oldest rows are dropped first.
const maxHealthLogs = 10000

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	ConfigEntries map[string]*models.ConfigEntry    `json:"config_entries"`
	ConfigHistory map[string][]*models.ConfigHistory `json:"config_history"`
	Candidates    map[uint]*models.ModelCandidate   `json:"candidates"`
	HealthLogs    []*models.HealthLog               `json:"health_logs"`
	Conversations map[string]*models.Conversation   `json:"conversations"`
	Messages      map[string][]*models.Message      `json:"messages"`
	Logs          []*models.ConversationLog         `json:"logs"`
	Seq           uint                              `json:"seq"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu            sync.RWMutex
	configEntries map[string]*models.ConfigEntry
	configHistory map[string][]*models.ConfigHistory // key → versions, oldest first
	candidates    map[uint]*models.ModelCandidate
	healthLogs    []*models.HealthLog
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message // conversation id → messages, oldest first
	logs          []*models.ConversationLog
	seq           uint // shared id sequence for numeric primary keys

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{}
	closeOnce    sync.Once
}

// NewMemoryStore creates a new in-memory store. When snapshotPath is not
// empty, data is loaded from and periodically flushed to that JSON file.
func NewMemoryStore(snapshotPath string) *MemoryStore {
	m := &MemoryStore{
		configEntries: make(map[string]*models.ConfigEntry),
		configHistory: make(map[string][]*models.ConfigHistory),
		candidates:    make(map[uint]*models.ModelCandidate),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		saveCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}

	if snapshotPath != "" {
		if err := os.MkdirAll(filepath.Dir(snapshotPath), 0755); err != nil {
			log.Warn().Err(err).Str("path", snapshotPath).Msg("Cannot create data dir, persistence disabled")
		} else {
			m.snapshotPath = snapshotPath
			m.loadSnapshot()
			go m.saveLoop()
		}
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests to at most one write per 500ms.
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	data, err := json.MarshalIndent(snapshot{
		ConfigEntries: m.configEntries,
		ConfigHistory: m.configHistory,
		Candidates:    m.candidates,
		HealthLogs:    m.healthLogs,
		Conversations: m.conversations,
		Messages:      m.messages,
		Logs:          m.logs,
		Seq:           m.seq,
	}, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
	}
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		}
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Corrupt snapshot, starting fresh")
		return
	}
	if snap.ConfigEntries != nil {
		m.configEntries = snap.ConfigEntries
	}
	if snap.ConfigHistory != nil {
		m.configHistory = snap.ConfigHistory
	}
	if snap.Candidates != nil {
		m.candidates = snap.Candidates
	}
	if snap.Conversations != nil {
		m.conversations = snap.Conversations
	}
	if snap.Messages != nil {
		m.messages = snap.Messages
	}
	m.healthLogs = snap.HealthLogs
	m.logs = snap.Logs
	m.seq = snap.Seq

	log.Info().
		Int("conversations", len(m.conversations)).
		Int("candidates", len(m.candidates)).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) nextID() uint {
	m.seq++
	return m.seq
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// Close stops the background saver and flushes a final snapshot.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
	})
	return nil
}

// ── Config ──────────────────────────────────────────────────

func (m *MemoryStore) ListConfigEntries(_ context.Context, activeOnly bool) ([]models.ConfigEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ConfigEntry, 0, len(m.configEntries))
	for _, e := range m.configEntries {
		if activeOnly && !e.IsActive {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) GetConfigEntry(_ context.Context, key string) (*models.ConfigEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.configEntries[key]
	if !ok {
		return nil, &ErrNotFound{Entity: "config entry", Key: key}
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) CreateConfigEntry(_ context.Context, entry *models.ConfigEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.configEntries[entry.Key]; exists {
		return &ErrConflict{Entity: "config entry", Key: entry.Key}
	}
	now := time.Now().UTC()
	entry.CreatedAt, entry.UpdatedAt = now, now
	cp := *entry
	m.configEntries[entry.Key] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateConfigEntry(_ context.Context, entry *models.ConfigEntry, history *models.ConfigHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.configEntries[entry.Key]; !ok {
		return &ErrNotFound{Entity: "config entry", Key: entry.Key}
	}
	entry.UpdatedAt = time.Now().UTC()
	cp := *entry
	m.configEntries[entry.Key] = &cp

	if history != nil {
		history.ID = m.nextID()
		history.CreatedAt = entry.UpdatedAt
		hcp := *history
		m.configHistory[entry.Key] = append(m.configHistory[entry.Key], &hcp)
	}
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListConfigHistory(_ context.Context, key string) ([]models.ConfigHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.configHistory[key]
	out := make([]models.ConfigHistory, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, *rows[i])
	}
	return out, nil
}

func (m *MemoryStore) GetConfigHistory(_ context.Context, key string, version int) (*models.ConfigHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, h := range m.configHistory[key] {
		if h.Version == version {
			cp := *h
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "config history", Key: key + "@v" + strconv.Itoa(version)}
}

// ── Model candidates ────────────────────────────────────────

func (m *MemoryStore) ListModelCandidates(_ context.Context, activeOnly bool) ([]models.ModelCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ModelCandidate, 0, len(m.candidates))
	for _, c := range m.candidates {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) GetModelCandidate(_ context.Context, id uint) (*models.ModelCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.candidates[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "model candidate", Key: strconv.FormatUint(uint64(id), 10)}
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CreateModelCandidate(_ context.Context, candidate *models.ModelCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if candidate.ID == 0 {
		candidate.ID = m.nextID()
	} else if _, exists := m.candidates[candidate.ID]; exists {
		return &ErrConflict{Entity: "model candidate", Key: strconv.FormatUint(uint64(candidate.ID), 10)}
	} else if candidate.ID > m.seq {
		m.seq = candidate.ID
	}
	now := time.Now().UTC()
	candidate.CreatedAt, candidate.UpdatedAt = now, now
	cp := *candidate
	m.candidates[candidate.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateModelCandidate(_ context.Context, candidate *models.ModelCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.candidates[candidate.ID]; !ok {
		return &ErrNotFound{Entity: "model candidate", Key: strconv.FormatUint(uint64(candidate.ID), 10)}
	}
	candidate.UpdatedAt = time.Now().UTC()
	cp := *candidate
	m.candidates[candidate.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateModelHealth(_ context.Context, id uint, health models.ProviderHealth) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.candidates[id]
	if !ok {
		return &ErrNotFound{Entity: "model candidate", Key: strconv.FormatUint(uint64(id), 10)}
	}
	c.ConsecutiveFailures = health.ConsecutiveErrors
	c.HealthScore = health.HealthScore
	c.LastTestedAt = health.LastTestedAt
	m.requestSave()
	return nil
}

func (m *MemoryStore) CreateHealthLog(_ context.Context, entry *models.HealthLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.ID = m.nextID()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	cp := *entry
	m.healthLogs = append(m.healthLogs, &cp)
	if len(m.healthLogs) > maxHealthLogs {
		m.healthLogs = m.healthLogs[len(m.healthLogs)-maxHealthLogs:]
	}
	m.requestSave()
	return nil
}

func (m *MemoryStore) PurgeHealthLogs(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	m.healthLogs, n = purgeBefore(m.healthLogs, before, func(h *models.HealthLog) time.Time { return h.CreatedAt })
	if n > 0 {
		m.requestSave()
	}
	return n, nil
}

func (m *MemoryStore) ListHealthLogs(_ context.Context, modelID uint, limit int) ([]models.HealthLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.HealthLog
	for i := len(m.healthLogs) - 1; i >= 0; i-- {
		h := m.healthLogs[i]
		if modelID != 0 && h.ModelID != modelID {
			continue
		}
		out = append(out, *h)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ── Conversations ───────────────────────────────────────────

func (m *MemoryStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; exists {
		return &ErrConflict{Entity: "conversation", Key: conv.ID}
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = conv.CreatedAt
	cp := *conv
	m.conversations[conv.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "conversation", Key: id}
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListConversations(_ context.Context, userID string, page models.Page) ([]models.Conversation, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []models.Conversation
	for _, c := range m.conversations {
		if c.UserID == userID {
			all = append(all, *c)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	return paginate(all, page), int64(len(all)), nil
}

func (m *MemoryStore) TouchConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return &ErrNotFound{Entity: "conversation", Key: id}
	}
	c.UpdatedAt = time.Now().UTC()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return &ErrNotFound{Entity: "conversation", Key: id}
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	m.requestSave()
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return &ErrNotFound{Entity: "conversation", Key: msg.ConversationID}
	}
	msg.ID = m.nextID()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &cp)
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, conversationID string, page models.Page) ([]models.Message, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.messages[conversationID]
	all := make([]models.Message, 0, len(rows))
	for _, msg := range rows {
		all = append(all, *msg)
	}
	return paginate(all, page), int64(len(all)), nil
}

func (m *MemoryStore) CreateConversationLog(_ context.Context, entry *models.ConversationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.ID = m.nextID()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	cp := *entry
	m.logs = append(m.logs, &cp)
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListConversationLogs(_ context.Context, filter LogFilter) ([]models.ConversationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ConversationLog
	for i := len(m.logs) - 1; i >= 0; i-- {
		l := m.logs[i]
		if filter.UserID != "" && l.UserID != filter.UserID {
			continue
		}
		if filter.Since != nil && l.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && l.CreatedAt.After(*filter.Until) {
			continue
		}
		out = append(out, *l)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) PurgeConversationLogs(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	m.logs, n = purgeBefore(m.logs, before, func(l *models.ConversationLog) time.Time { return l.CreatedAt })
	if n > 0 {
		m.requestSave()
	}
	return n, nil
}

// purgeBefore keeps the rows created at or after the cutoff.
func purgeBefore[T any](rows []*T, before time.Time, created func(*T) time.Time) ([]*T, int64) {
	kept := rows[:0]
	for _, r := range rows {
		if !created(r).Before(before) {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(rows); i++ {
		rows[i] = nil
	}
	return kept, int64(len(rows) - len(kept))
}

// paginate slices items for a page; Limit 0 returns everything.
func paginate[T any](items []T, page models.Page) []T {
	if page.Limit <= 0 {
		return items
	}
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
