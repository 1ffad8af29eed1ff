package workflow

import (
	"context"
	"fmt"
	"strings"

	"certprint/internal/archive"
	fileutil "certprint/internal/file"
	"certprint/internal/task"
)

func (o *Orchestrator) openDocument(ctx context.Context, r *run, sess Session) error {
	if err := o.sleep(ctx, pagePause); err != nil {
		return err
	}
	if err := o.within(ctx, func(ctx context.Context) error { return sess.Navigate(ctx, r.doc.URL) }); err != nil {
		return fmt.Errorf("open %s: %w", r.doc.Name, err)
	}
	if err := o.click(ctx, sess, o.site.Selectors.RecordsTab); err != nil {
		return err
	}
	return o.sleep(ctx, pagePause)
}

func (o *Orchestrator) checkStatus(ctx context.Context, r *run, sess Session) error {
	sel := o.site.Selectors
	empty, err := sess.Exists(ctx, sel.EmptyRecords)
	if err != nil {
		return fmt.Errorf("inspect records: %w", err)
	}
	if empty {
		return fail(task.KindCertificateState, ErrEmptyRecord)
	}

	var marker string
	err = o.within(ctx, func(ctx context.Context) error {
		if err := sess.WaitVisible(ctx, sel.StatusMarker); err != nil {
			return err
		}
		var err error
		marker, err = sess.Text(ctx, sel.StatusMarker)
		return err
	})
	if err != nil {
		return fmt.Errorf("read certificate status: %w", err)
	}
	marker = strings.TrimSpace(marker)
	r.logger.Info().Str("certificate_status", marker).Msg("certificate status read")
	if marker != o.site.ApprovedMarker {
		return fail(task.KindCertificateState, fmt.Errorf("%w: %s", ErrStatusNotApproved, marker))
	}
	return nil
}

// extract triggers the download, waits for the archives and unpacks them
// into a freshly emptied extraction dir.
func (o *Orchestrator) extract(ctx context.Context, r *run, sess Session) error {
	if err := fileutil.EmptyDir(o.stagingDir); err != nil {
		return fmt.Errorf("prepare staging: %w", err)
	}
	sel := o.site.Selectors
	if err := o.click(ctx, sess, sel.MoreButton); err != nil {
		return err
	}
	if err := o.sleep(ctx, pagePause); err != nil {
		return err
	}
	if err := o.click(ctx, sess, sel.PrintDownload); err != nil {
		return err
	}

	archives, err := o.waitArchives(ctx)
	if err != nil {
		return err
	}
	if err := fileutil.ResetDir(o.extractDir); err != nil {
		return fmt.Errorf("reset extraction dir: %w", err)
	}
	results, err := archive.ExtractAll(ctx, archives, o.extractDir)
	if err != nil {
		return fmt.Errorf("unpack: %w", err)
	}
	for _, res := range results {
		evt := r.logger.Info()
		if res.Err != "" {
			evt = r.logger.Warn().Str("error", res.Err)
		}
		evt.Str("archive", res.Archive).Str("target", res.Target).Int("files", res.Files).Msg("archive unpacked")
	}
	if err := fileutil.EmptyDir(o.stagingDir); err != nil {
		r.logger.Warn().Err(err).Msg("purge staging failed")
	}
	return nil
}

func (o *Orchestrator) waitArchives(ctx context.Context) ([]string, error) {
	deadline := o.now().Add(o.site.DownloadWait)
	for {
		archives, err := archive.Find(o.stagingDir)
		if err != nil {
			return nil, fmt.Errorf("scan staging: %w", err)
		}
		if len(archives) > 0 {
			return archives, nil
		}
		if !o.now().Before(deadline) {
			return nil, fail(task.KindTimeout, fmt.Errorf("%w within %s", ErrDownloadTimeout, o.site.DownloadWait))
		}
		if err := o.sleep(ctx, downloadPoll); err != nil {
			return nil, err
		}
	}
}

func (o *Orchestrator) print(ctx context.Context, r *run, _ Session) error {
	jobs, err := o.printer.Print(ctx, o.extractDir)
	if err != nil {
		return fail(task.KindPrinter, fmt.Errorf("print: %w", err))
	}
	for _, job := range jobs {
		r.printed = append(r.printed, job.File)
	}
	return nil
}
