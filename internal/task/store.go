package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	fileutil "certprint/internal/file"
)

// TaskStore abstracts persistence of the task snapshot.
// Default implementation is file-based under dataDir/task/status.json.
type TaskStore interface {
	SaveTask(ctx context.Context, t *Task) error
	LoadTask(ctx context.Context) (*Task, error)
}

// fileStore implements TaskStore using the local filesystem under dataDir.
type fileStore struct {
	dataDir string
}

func NewFileStore(dataDir string) TaskStore { //nolint:ireturn
	if dataDir == "" {
		dataDir = "data"
	}
	return &fileStore{dataDir: dataDir}
}

func (s *fileStore) statusPath() string {
	return filepath.Join(s.dataDir, "task", "status.json")
}

func (s *fileStore) SaveTask(ctx context.Context, t *Task) error { //nolint:revive // context reserved for future use
	return fileutil.WriteJSONAtomic(s.statusPath(), t) //nolint:wrapcheck
}

// LoadTask returns nil without error when no snapshot was written yet.
func (s *fileStore) LoadTask(ctx context.Context) (*Task, error) { //nolint:revive // context reserved for future use
	b, err := os.ReadFile(s.statusPath()) //nolint:gosec // path is controlled by application
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read task: %w", err)
	}
	var t Task
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}
