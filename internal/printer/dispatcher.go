package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	fileutil "certprint/internal/file"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	printableExt        = ".pdf"
)

// PageCounter returns the number of pages of a PDF.
type PageCounter func(rs io.ReadSeeker) (int, error)

func pdfPageCount(rs io.ReadSeeker) (int, error) {
	return api.PageCount(rs, nil)
}

type Options struct {
	DeviceName   string
	Utility      string
	PollInterval time.Duration
	// PollTimeout bounds the wait for the device to drain. Zero waits forever.
	PollTimeout time.Duration
	PageCount   PageCounter
}

// Job is one dispatched file.
type Job struct {
	File   string
	Device string
	Pages  int
	Err    error
}

// Dispatcher sends every PDF of a directory to a device and waits for it to
// finish.
type Dispatcher struct {
	device       Device
	deviceName   string
	utility      string
	pollInterval time.Duration
	pollTimeout  time.Duration
	pageCount    PageCounter
}

func NewDispatcher(device Device, opts Options) *Dispatcher {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	counter := opts.PageCount
	if counter == nil {
		counter = pdfPageCount
	}
	return &Dispatcher{
		device:       device,
		deviceName:   opts.DeviceName,
		utility:      opts.Utility,
		pollInterval: interval,
		pollTimeout:  opts.PollTimeout,
		pageCount:    counter,
	}
}

// Print dispatches every PDF found under dir and blocks until the device is
// ready again. Device and configuration problems are never retried.
func (d *Dispatcher) Print(ctx context.Context, dir string) ([]Job, error) {
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNoOutputDir, dir)
	}
	files, err := fileutil.FindByExt(dir, printableExt)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoPrintable, dir)
	}

	status, err := d.device.Status(ctx, d.deviceName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	if !status.Ready() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, d.deviceName, status)
	}
	log.Info().Str("device", d.deviceName).Msg("printer ready")

	if fi, err := os.Stat(d.utility); err != nil || fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrUtilityMissing, d.utility)
	}

	jobs := make([]Job, 0, len(files))
	for _, f := range files {
		pages, err := d.validate(f)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, Job{File: f, Device: d.deviceName, Pages: pages})
	}

	for i := range jobs {
		if err := d.dispatch(ctx, jobs[i].File); err != nil {
			jobs[i].Err = err
			return jobs, err
		}
		log.Info().Str("file", jobs[i].File).Int("pages", jobs[i].Pages).Msg("print job sent")
	}

	return jobs, d.waitReady(ctx)
}

func (d *Dispatcher) validate(path string) (int, error) {
	f, err := os.Open(path) //nolint:gosec // file found under the extraction dir
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	pages, err := d.pageCount(f)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidDocument, path, err)
	}
	if pages < 1 {
		return 0, fmt.Errorf("%w: %s has no pages", ErrInvalidDocument, path)
	}
	return pages, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, path string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.utility, path, d.deviceName) //nolint:gosec // utility comes from config
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s exited %d: %s", ErrDispatch, path, exitErr.ExitCode(), detail)
		}
		return fmt.Errorf("%w: %s: %w", ErrDispatch, path, err)
	}
	return nil
}

func (d *Dispatcher) waitReady(ctx context.Context) error {
	if d.pollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.pollTimeout)
		defer cancel()
	}
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		status, err := d.device.Status(ctx, d.deviceName)
		switch {
		case err != nil && ctx.Err() == nil:
			return fmt.Errorf("%w: %w", ErrAbnormal, err)
		case err == nil && status.Ready():
			log.Info().Str("device", d.deviceName).Msg("print complete")
			return nil
		case err == nil && !status.Printing():
			return fmt.Errorf("%w: %s", ErrAbnormal, status)
		}

		select {
		case <-ctx.Done():
			if d.pollTimeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w within %s", ErrPollTimeout, d.pollTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
