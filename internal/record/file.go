package record

import (
	"context"
	"fmt"
	"path/filepath"

	fileutil "certprint/internal/file"
)

// FileSink writes one JSON document per record below dataDir/records.
type FileSink struct {
	dir string
}

func NewFileSink(dataDir string) *FileSink {
	return &FileSink{dir: filepath.Join(dataDir, "records")}
}

func (s *FileSink) Write(_ context.Context, rec Record) error {
	name := fmt.Sprintf("%s_%s.json", rec.CreatedAt.Format("20060102T150405"), rec.ID)
	if err := fileutil.WriteJSONAtomic(filepath.Join(s.dir, name), rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error { return nil }
