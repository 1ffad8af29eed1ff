package task

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

const interruptedMessage = "run interrupted by service restart: timeout"

// LoadFromDisk restores the last persisted task snapshot.
// A task persisted as processing belongs to a run that died with the previous
// process, so it is marked as failed and returned so the caller can record
// its outcome. The returned task is nil when nothing was interrupted.
func (m *Manager) LoadFromDisk() (*Task, error) {
	if m.store == nil {
		return nil, nil
	}
	loaded, err := m.store.LoadTask(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	if loaded == nil {
		return nil, nil
	}

	m.mu.Lock()
	m.state = *loaded
	interrupted := m.state.Status == StatusProcessing
	if interrupted {
		now := m.now()
		m.state.Status = StatusFailed
		m.state.Success = false
		m.state.Message = interruptedMessage
		m.state.ErrorKind = Classify(interruptedMessage)
		m.state.ErrorMessage = interruptedMessage
		m.state.LastCompletion = &now
	}
	snap, version := m.snapshotLocked()
	m.mu.Unlock()

	if interrupted {
		log.Warn().Str("trace_id", snap.TraceID).Msg("restored task was processing; marked failed")
		m.persist(snap, version)
		return &snap, nil
	}
	return nil, nil
}
