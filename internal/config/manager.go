// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fuzzbin/fuzzbin/internal/log"
)

// Safety classifies how a field may change at runtime.
type Safety string

const (
	// SafetySafe fields change freely at runtime.
	SafetySafe Safety = "safe"
	// SafetyRequiresReload is a legacy level; the runtime swaps the affected
	// component in place, so it behaves like safe.
	SafetyRequiresReload Safety = "requires_reload"
	// SafetyAffectsState fields move persistent data and need force.
	SafetyAffectsState Safety = "affects_state"
)

// ErrForceRequired reports a refused affects_state change.
var ErrForceRequired = errors.New("config: change moves persistent state, pass force")

// fieldSafety classifies the fields that are not plain safe.
var fieldSafety = map[string]Safety{
	"config_dir":          SafetyAffectsState,
	"library_dir":         SafetyAffectsState,
	"trash.trash_dir":     SafetyAffectsState,
	"backup.output_dir":   SafetyAffectsState,
	"thumbnail.cache_dir": SafetyAffectsState,
	"logging.format":      SafetyRequiresReload,
	"ytdlp.binary_path":   SafetyRequiresReload,
	"ffprobe.binary_path": SafetyRequiresReload,
}

// SafetyOf returns the classification for a dotted field path.
func SafetyOf(field string) Safety {
	if s, ok := fieldSafety[field]; ok {
		return s
	}
	return SafetySafe
}

// Change is one applied runtime modification.
type Change struct {
	Field string
	Old   string
	New   string
	At    time.Time
}

// historyLimit bounds the undo and redo stacks.
const historyLimit = 32

// Manager owns the config file at runtime: classified field changes, undo and
// redo over a bounded snapshot history, and atomic persistence. All methods
// are safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	path    string
	doc     *Document
	cfg     *Config
	undo    [][]byte
	redo    [][]byte
	changes []Change
	logger  zerolog.Logger
}

// NewManager loads (or initializes) the config file at path.
func NewManager(path string) (*Manager, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeResolved(doc)
	if err != nil {
		return nil, err
	}
	return &Manager{
		path:   path,
		doc:    doc,
		cfg:    cfg,
		logger: log.WithComponent("config"),
	}, nil
}

func decodeResolved(doc *Document) (*Config, error) {
	cfg, err := doc.Decode()
	if err != nil {
		return nil, err
	}
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Current returns a copy of the resolved configuration.
func (m *Manager) Current() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.cfg
}

// Set applies one field change. affects_state fields are refused without
// force. An invalid resulting configuration leaves file and memory untouched.
func (m *Manager) Set(field string, value any, force bool) error {
	if SafetyOf(field) == SafetyAffectsState && !force {
		return fmt.Errorf("%w: %s", ErrForceRequired, field)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.doc.Bytes()
	if err != nil {
		return err
	}
	old, _ := m.doc.Get(field)

	if err := m.doc.Set(field, value); err != nil {
		return err
	}
	cfg, err := decodeResolved(m.doc)
	if err != nil {
		if restoreErr := m.doc.restore(snapshot); restoreErr != nil {
			return fmt.Errorf("config: restore after invalid change: %w", restoreErr)
		}
		return err
	}

	if err := m.doc.Save(m.path); err != nil {
		_ = m.doc.restore(snapshot)
		return err
	}

	m.cfg = cfg
	m.pushUndo(snapshot)
	m.redo = nil
	m.record(Change{Field: field, Old: old, New: fmt.Sprint(value), At: time.Now()})

	m.logger.Info().
		Str("field", field).
		Str("safety", string(SafetyOf(field))).
		Msg("config changed")
	return nil
}

// Undo reverts the most recent change. It reports whether there was one.
func (m *Manager) Undo() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.undo) == 0 {
		return false, nil
	}
	current, err := m.doc.Bytes()
	if err != nil {
		return false, err
	}

	snapshot := m.undo[len(m.undo)-1]
	if err := m.swapTo(snapshot); err != nil {
		return false, err
	}
	m.undo = m.undo[:len(m.undo)-1]
	m.redo = appendBounded(m.redo, current)
	return true, nil
}

// Redo reapplies the most recently undone change.
func (m *Manager) Redo() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.redo) == 0 {
		return false, nil
	}
	current, err := m.doc.Bytes()
	if err != nil {
		return false, err
	}

	snapshot := m.redo[len(m.redo)-1]
	if err := m.swapTo(snapshot); err != nil {
		return false, err
	}
	m.redo = m.redo[:len(m.redo)-1]
	m.undo = appendBounded(m.undo, current)
	return true, nil
}

// swapTo restores a snapshot as the live document, persisting it.
func (m *Manager) swapTo(snapshot []byte) error {
	if err := m.doc.restore(snapshot); err != nil {
		return err
	}
	cfg, err := decodeResolved(m.doc)
	if err != nil {
		return err
	}
	if err := m.doc.Save(m.path); err != nil {
		return err
	}
	m.cfg = cfg
	return nil
}

// History returns the applied changes, oldest first.
func (m *Manager) History() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Change, len(m.changes))
	copy(out, m.changes)
	return out
}

func (m *Manager) pushUndo(snapshot []byte) {
	m.undo = appendBounded(m.undo, snapshot)
}

func (m *Manager) record(c Change) {
	m.changes = append(m.changes, c)
	if len(m.changes) > historyLimit {
		m.changes = m.changes[len(m.changes)-historyLimit:]
	}
}

func appendBounded(stack [][]byte, item []byte) [][]byte {
	stack = append(stack, item)
	if len(stack) > historyLimit {
		stack = stack[len(stack)-historyLimit:]
	}
	return stack
}
