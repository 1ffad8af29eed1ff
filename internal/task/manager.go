package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Manager tracks the single certificate task and admits at most one run at a
// time. Its mutex only guards in-memory state; persistence happens outside it.
type Manager struct {
	mu             sync.Mutex
	state          Task
	clearing       bool
	version        uint64
	sessionTimeout time.Duration
	now            func() time.Time

	persistMu      sync.Mutex
	persistedUntil uint64
	store          TaskStore
}

// NewManager creates a manager without persistence, suitable for tests.
func NewManager() *Manager {
	return &Manager{
		state:          newIdleTask(),
		sessionTimeout: defaultSessionTimeout,
		now:            time.Now,
	}
}

// NewManagerWithOptions creates a manager with provided configuration.
func NewManagerWithOptions(opts Options) *Manager {
	m := NewManager()
	if opts.SessionTimeout > 0 {
		m.sessionTimeout = opts.SessionTimeout
	}
	if opts.DataDir != "" {
		m.store = NewFileStore(opts.DataDir)
	}
	return m
}

func newIdleTask() Task {
	return Task{Status: StatusIdle}
}

// RouteSystem maps a document-type code to the workflow variant serving it.
func RouteSystem(docType string) string {
	switch docType {
	case "1", "2", "3", "4":
		return "1"
	case "5", "6", "7", "8":
		return "2"
	default:
		return ""
	}
}

// Admit atomically moves the task into processing. It returns false without
// touching the state when a run is already in flight.
func (m *Manager) Admit(subject string, category Category, docType string) bool {
	m.mu.Lock()
	if m.state.Status == StatusProcessing || m.clearing {
		m.mu.Unlock()
		return false
	}
	m.state.Status = StatusProcessing
	m.state.Success = false
	m.state.Message = processingMessage
	m.state.ErrorKind = KindNone
	m.state.ErrorMessage = ""
	m.state.Subject = subject
	m.state.Category = category
	m.state.DocumentType = docType
	m.state.SystemID = RouteSystem(docType)
	m.state.TraceID = fmt.Sprintf("%d_%s", m.now().Unix(), subject)
	snap, version := m.snapshotLocked()
	m.mu.Unlock()

	log.Info().
		Str("trace_id", snap.TraceID).
		Str("user_type", string(category)).
		Str("document_type", docType).
		Msg("task admitted")
	m.persist(snap, version)
	return true
}

// SetDocument records the operator's document choice ahead of a submission.
// It returns false and changes nothing while a run or a purge is in flight.
func (m *Manager) SetDocument(category Category, docType string) bool {
	m.mu.Lock()
	if m.state.Status == StatusProcessing || m.clearing {
		m.mu.Unlock()
		return false
	}
	m.state.Category = category
	m.state.DocumentType = docType
	m.state.SystemID = RouteSystem(docType)
	snap, version := m.snapshotLocked()
	m.mu.Unlock()
	m.persist(snap, version)
	return true
}

// Complete ends the running task and stamps its completion time.
func (m *Manager) Complete(success bool, message, displayName string, kind ErrorKind) error {
	m.mu.Lock()
	if m.state.Status != StatusProcessing {
		m.mu.Unlock()
		return ErrNotProcessing
	}
	now := m.now()
	m.state.Success = success
	m.state.Message = message
	m.state.LastCompletion = &now
	m.state.DisplayName = displayName
	if success {
		m.state.Status = StatusSuccess
		m.state.ErrorKind = KindNone
		m.state.ErrorMessage = ""
	} else {
		m.state.Status = StatusFailed
		m.state.ErrorKind = kind
		m.state.ErrorMessage = message
	}
	snap, version := m.snapshotLocked()
	m.mu.Unlock()

	evt := log.Info()
	if !success {
		evt = log.Error().Str("error_type", string(kind))
	}
	evt.Str("trace_id", snap.TraceID).Str("message", message).Msg("task completed")
	m.persist(snap, version)
	return nil
}

// Snapshot returns a copy of the live task.
func (m *Manager) Snapshot() Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, _ := m.snapshotLocked()
	return snap
}

// IsProcessing reports whether a run currently owns the task.
func (m *Manager) IsProcessing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status == StatusProcessing
}

// IsExpired reports whether the last completion is older than the session
// timeout. A task that never completed counts as expired.
func (m *Manager) IsExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiredLocked()
}

// Reset replaces the task with a fresh idle one. Purging the working
// directories is the caller's job.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.state = newIdleTask()
	snap, version := m.snapshotLocked()
	m.mu.Unlock()
	m.afterReset(snap, version)
}

// BeginClear claims the idle task for a workspace purge. It fails while a
// run or another purge holds the task; until EndClear, Admit and SetDocument
// are refused.
func (m *Manager) BeginClear() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status == StatusProcessing || m.clearing {
		return false
	}
	m.clearing = true
	return true
}

// EndClear releases the purge claim and, when reset is set, replaces the
// task with a fresh idle one.
func (m *Manager) EndClear(reset bool) {
	m.mu.Lock()
	m.clearing = false
	if !reset {
		m.mu.Unlock()
		return
	}
	m.state = newIdleTask()
	snap, version := m.snapshotLocked()
	m.mu.Unlock()
	m.afterReset(snap, version)
}

func (m *Manager) afterReset(snap Task, version uint64) {
	log.Info().Msg("task state reset")
	m.persist(snap, version)
}

// Status returns the reported view: processing, idle (never completed),
// expired, or the terminal outcome.
func (m *Manager) Status() StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.state.Status == StatusProcessing:
		return StatusInfo{Status: StatusProcessing, Message: "processing, query again later"}
	case m.state.LastCompletion == nil:
		return StatusInfo{Status: StatusIdle, Message: "no login has been performed yet"}
	case m.expiredLocked():
		return StatusInfo{Status: StatusExpired, Message: "login state expired, please log in again"}
	default:
		return StatusInfo{
			Status:    m.state.Status,
			Success:   m.state.Success,
			Message:   m.state.Message,
			ErrorKind: m.state.ErrorKind,
		}
	}
}

func (m *Manager) expiredLocked() bool {
	if m.state.LastCompletion == nil {
		return true
	}
	return m.now().Sub(*m.state.LastCompletion) > m.sessionTimeout
}

func (m *Manager) snapshotLocked() (Task, uint64) {
	m.version++
	snap := m.state
	if m.state.LastCompletion != nil {
		completed := *m.state.LastCompletion
		snap.LastCompletion = &completed
	}
	return snap, m.version
}

// persist writes the snapshot unless a newer one was already written.
func (m *Manager) persist(snap Task, version uint64) {
	if m.store == nil {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if version <= m.persistedUntil {
		return
	}
	if err := m.store.SaveTask(context.Background(), &snap); err != nil {
		log.Warn().Str("trace_id", snap.TraceID).Err(err).Msg("persist task failed")
		return
	}
	m.persistedUntil = version
}
