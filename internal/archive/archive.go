package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/simplifiedchinese"

	fileutil "certprint/internal/file"
)

const (
	archiveDirPerm  os.FileMode = 0o750
	archiveFilePerm os.FileMode = 0o640
	archiveExt                  = ".zip"
)

var (
	ErrNoArchives   = errors.New("no archives provided")
	ErrUnsafeEntry  = errors.New("archive entry escapes target dir")
	ErrNoneUnpacked = errors.New("no archive could be unpacked")
)

// Result describes the outcome of unpacking a single archive.
type Result struct {
	Archive string
	Target  string
	Files   int
	Err     string
}

// Find returns the zip archives currently present below dir.
func Find(dir string) ([]string, error) {
	return fileutil.FindByExt(dir, archiveExt) //nolint:wrapcheck
}

// ExtractAll unpacks every archive into its own directory below destDir,
// named after the archive (with a numeric suffix when taken).
// It always returns one Result per archive; the error is non-nil only when
// nothing could be unpacked or ctx was cancelled.
func ExtractAll(ctx context.Context, archives []string, destDir string) ([]Result, error) {
	if len(archives) == 0 {
		return nil, ErrNoArchives
	}
	if err := fileutil.EnsureDir(destDir); err != nil {
		return nil, err //nolint:wrapcheck
	}

	results := make([]Result, len(archives))
	reserved := make(map[string]struct{}, len(archives))
	for i, src := range archives {
		results[i] = Result{Archive: src, Target: uniqueTarget(destDir, src, reserved)}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount(len(archives)))
	for i := range results {
		res := &results[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			files, err := Extract(res.Archive, res.Target)
			res.Files = files
			if err != nil {
				res.Err = err.Error()
				log.Warn().Str("archive", res.Archive).Err(err).Msg("unpack failed")
				return nil
			}
			log.Info().Str("archive", res.Archive).Str("target", res.Target).Int("files", files).Msg("archive unpacked")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("unpack archives: %w", err)
	}

	for _, res := range results {
		if res.Err == "" {
			return results, nil
		}
	}
	return results, ErrNoneUnpacked
}

// Extract unpacks a single zip into targetDir and returns the number of
// regular files written. Entry names without the UTF-8 flag are decoded as GBK.
func Extract(archivePath, targetDir string) (int, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("open zip: %w", err)
	}
	defer func() { _ = reader.Close() }()

	written := 0
	for _, entry := range reader.File {
		name := decodeName(entry)
		target, err := safeJoin(targetDir, name)
		if err != nil {
			return written, fmt.Errorf("%w: %s", err, name)
		}
		if entry.FileInfo().IsDir() || strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(target, archiveDirPerm); err != nil {
				return written, fmt.Errorf("create dir: %w", err)
			}
			continue
		}
		if err := writeEntry(entry, target); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func writeEntry(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), archiveDirPerm); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open entry: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, archiveFilePerm) //nolint:gosec // target validated by safeJoin
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil { //nolint:gosec // archives come from the source site
		_ = dst.Close()
		return fmt.Errorf("write entry: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

// decodeName returns the entry name as UTF-8. Archives produced by the source
// site store GBK names without setting the UTF-8 flag.
func decodeName(entry *zip.File) string {
	if !entry.NonUTF8 {
		return entry.Name
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().String(entry.Name)
	if err != nil {
		return entry.Name
	}
	return decoded
}

func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrUnsafeEntry
	}
	return filepath.Join(root, cleaned), nil
}

func uniqueTarget(destDir, archivePath string, reserved map[string]struct{}) string {
	stem := strings.TrimSuffix(filepath.Base(archivePath), filepath.Ext(archivePath))
	candidate := filepath.Join(destDir, stem)
	for counter := 1; ; counter++ {
		_, taken := reserved[candidate]
		if _, err := os.Stat(candidate); !taken && os.IsNotExist(err) {
			reserved[candidate] = struct{}{}
			return candidate
		}
		candidate = filepath.Join(destDir, fmt.Sprintf("%s_%d", stem, counter))
	}
}

func workerCount(archives int) int {
	if n := runtime.NumCPU(); n < archives {
		return n
	}
	return archives
}
