package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"certprint/internal/captcha"
	"certprint/internal/config"
	"certprint/internal/printer"
	"certprint/internal/task"
)

const (
	successMessage = "certificate printed"
	systemOne      = "1"

	inputPause   = 500 * time.Millisecond
	renderPause  = 3 * time.Second
	refreshPause = 2 * time.Second
	retryPause   = time.Second
	pagePause    = 2 * time.Second
	locationPoll = 100 * time.Millisecond
	downloadPoll = 500 * time.Millisecond
)

// Printer prints every document found below a directory.
type Printer interface {
	Print(ctx context.Context, dir string) ([]printer.Job, error)
}

// Request is one admitted run.
type Request struct {
	TraceID      string
	Subject      string
	Secret       string
	Category     task.Category
	DocumentType string
	SystemID     string
}

// Result is the terminal outcome of a run.
type Result struct {
	Success     bool
	Message     string
	Kind        task.ErrorKind
	DisplayName string
	Trail       []State
	Printed     []string
}

// Reached reports whether the run entered s.
func (r Result) Reached(s State) bool {
	for _, visited := range r.Trail {
		if visited == s {
			return true
		}
	}
	return false
}

type Options struct {
	Site       config.Site
	StagingDir string
	ExtractDir string
}

// Orchestrator drives one certificate run from login to print.
type Orchestrator struct {
	launcher   Launcher
	solver     *captcha.Solver
	printer    Printer
	site       config.Site
	stagingDir string
	extractDir string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(launcher Launcher, solver *captcha.Solver, p Printer, opts Options) *Orchestrator {
	return &Orchestrator{
		launcher:   launcher,
		solver:     solver,
		printer:    p,
		site:       opts.Site,
		stagingDir: opts.StagingDir,
		extractDir: opts.ExtractDir,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// run carries the per-run state through the steps.
type run struct {
	req     Request
	logger  zerolog.Logger
	state   State
	trail   []State
	doc     config.DocumentType
	printed []string
}

func (r *run) enter(s State) {
	r.state = s
	r.trail = append(r.trail, s)
	r.logger.Info().Str("state", string(s)).Msg("workflow state")
}

// Run executes the workflow routed by req.SystemID and always returns a
// terminal result. Errors and panics become classified failures.
func (o *Orchestrator) Run(ctx context.Context, req Request) (res Result) {
	r := &run{
		req:    req,
		logger: log.With().Str("trace_id", req.TraceID).Str("system_num", req.SystemID).Logger(),
	}
	r.doc, _ = o.site.Document(req.DocumentType)

	defer func() {
		if p := recover(); p != nil {
			res = o.finish(r, stepError(r.state, fmt.Errorf("unexpected fault: %v", p)))
		}
	}()

	r.enter(StateStart)
	var err error
	switch req.SystemID {
	case systemOne:
		err = o.runSystemOne(ctx, r)
	default:
		err = fmt.Errorf("system %s %w", req.SystemID, ErrSystemNotImplemented)
	}
	return o.finish(r, err)
}

func (o *Orchestrator) finish(r *run, err error) Result {
	if err == nil {
		r.enter(StateDone)
		return Result{
			Success:     true,
			Message:     successMessage,
			DisplayName: r.doc.Name,
			Trail:       r.trail,
			Printed:     r.printed,
		}
	}
	kind := kindOf(err)
	failedAt := r.state
	r.enter(StateFailed)
	r.logger.Error().
		Str("failed_at", string(failedAt)).
		Str("error_type", string(kind)).
		Err(err).
		Msg("workflow failed")
	return Result{
		Message:     err.Error(),
		Kind:        kind,
		DisplayName: r.doc.Name,
		Trail:       r.trail,
	}
}

func (o *Orchestrator) runSystemOne(ctx context.Context, r *run) (err error) {
	if r.doc.URL == "" {
		return stepError(r.state, fmt.Errorf("%w: %s", ErrUnknownDocument, r.req.DocumentType))
	}

	sess, err := o.launcher.Launch(ctx, o.stagingDir)
	if err != nil {
		return stepError(r.state, fmt.Errorf("open session: %w", err))
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			r.logger.Warn().Err(cerr).Msg("close session failed")
		}
	}()

	steps := []struct {
		state State
		fn    func(context.Context, *run, Session) error
	}{
		{StateLoggingIn, o.fillLogin},
		{StateSolvingCaptcha, o.login},
		{StateNavigatingToDocument, o.openDocument},
		{StateCheckingStatus, o.checkStatus},
		{StateExtracting, o.extract},
		{StatePrinting, o.print},
	}
	for _, step := range steps {
		r.enter(step.state)
		if err := step.fn(ctx, r, sess); err != nil {
			return stepError(r.state, err)
		}
	}
	return nil
}

// within bounds a single UI action by the element timeout. A missed deadline
// is a TimeoutError whatever the step wraps around it.
func (o *Orchestrator) within(ctx context.Context, fn func(context.Context) error) error {
	if o.site.ElementTimeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, o.site.ElementTimeout)
	defer cancel()
	err := fn(actx)
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fail(task.KindTimeout, fmt.Errorf("element wait timeout after %s: %w", o.site.ElementTimeout, err))
	}
	return err
}

func (o *Orchestrator) click(ctx context.Context, sess Session, sel string) error {
	return o.within(ctx, func(ctx context.Context) error {
		if err := sess.Click(ctx, sel); err != nil {
			return fmt.Errorf("click %s: %w", sel, err)
		}
		return nil
	})
}
