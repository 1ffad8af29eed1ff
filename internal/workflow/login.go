package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"certprint/internal/captcha"
	"certprint/internal/task"
)

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRetry
	outcomeTerminal
)

// loginOutcome is the tagged result of one login attempt. err is the reason
// for a retry or the terminal failure.
type loginOutcome struct {
	kind outcomeKind
	err  error
}

func succeeded() loginOutcome         { return loginOutcome{kind: outcomeSuccess} }
func retry(reason error) loginOutcome { return loginOutcome{kind: outcomeRetry, err: reason} }
func terminal(err error) loginOutcome { return loginOutcome{kind: outcomeTerminal, err: err} }

func (o *Orchestrator) fillLogin(ctx context.Context, r *run, sess Session) error {
	sel := o.site.Selectors
	if err := o.within(ctx, func(ctx context.Context) error { return sess.Navigate(ctx, o.site.LoginURL) }); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	if r.req.Category == task.CategoryCorporate {
		if err := o.click(ctx, sess, sel.CorporateTab); err != nil {
			return err
		}
		if err := o.sleep(ctx, inputPause); err != nil {
			return err
		}
	}
	fields := []struct{ sel, value string }{
		{sel.Username, r.req.Subject},
		{sel.Password, r.req.Secret},
	}
	for _, f := range fields {
		err := o.within(ctx, func(ctx context.Context) error { return sess.TypeText(ctx, f.sel, f.value) })
		if err != nil {
			return fail(task.KindCredential, fmt.Errorf("fill login form: %w", err))
		}
		if err := o.sleep(ctx, inputPause); err != nil {
			return err
		}
	}
	r.logger.Info().Str("user_type", string(r.req.Category)).Msg("login form filled")
	return nil
}

// login runs the slider/submit cycle. Only a rejected slider is retried.
func (o *Orchestrator) login(ctx context.Context, r *run, sess Session) error {
	attempts := max(o.site.LoginAttempts, 1)
	var lastReason error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			r.enter(StateSolvingCaptcha)
			if err := o.sleep(ctx, retryPause); err != nil {
				return err
			}
		}
		out := o.loginAttempt(ctx, r, sess)
		switch out.kind {
		case outcomeSuccess:
			r.logger.Info().Int("attempt", attempt).Msg("login succeeded")
			return nil
		case outcomeTerminal:
			return out.err
		case outcomeRetry:
			lastReason = out.err
			r.logger.Warn().Int("attempt", attempt).Err(out.err).Msg("login attempt rejected, retrying")
		}
	}
	return fail(task.KindCaptcha, fmt.Errorf("%w (%d): %w", ErrCaptchaRejected, attempts, lastReason))
}

func (o *Orchestrator) loginAttempt(ctx context.Context, r *run, sess Session) loginOutcome {
	before, err := sess.CurrentLocation(ctx)
	if err != nil {
		return terminal(fmt.Errorf("read location: %w", err))
	}
	if err := o.dragSlider(ctx, r, sess); err != nil {
		if errors.Is(err, captcha.ErrExhausted) {
			return terminal(fail(task.KindCaptcha, err))
		}
		return terminal(err)
	}

	r.enter(StateVerifyingLogin)
	moved, err := o.waitLocationChange(ctx, sess, before)
	if err != nil {
		return terminal(err)
	}
	if moved {
		return succeeded()
	}

	diagnostic := o.loginDiagnostic(ctx, sess)
	if diagnostic == "" {
		diagnostic = fmt.Sprintf("no navigation within %s (timeout)", o.site.NavigationWait)
	}
	reason := fmt.Errorf("%w: %s", ErrLoginRejected, diagnostic)
	switch kind := task.Classify(diagnostic); kind {
	case task.KindCaptcha:
		return retry(reason)
	default:
		return terminal(fail(kind, reason))
	}
}

func (o *Orchestrator) loginDiagnostic(ctx context.Context, sess Session) string {
	sel := o.site.Selectors.LoginError
	found, err := sess.Exists(ctx, sel)
	if err != nil || !found {
		return ""
	}
	var text string
	_ = o.within(ctx, func(ctx context.Context) error {
		var err error
		text, err = sess.Text(ctx, sel)
		return err
	})
	return strings.TrimSpace(text)
}

func (o *Orchestrator) waitLocationChange(ctx context.Context, sess Session, before string) (bool, error) {
	deadline := o.now().Add(o.site.NavigationWait)
	for {
		loc, err := sess.CurrentLocation(ctx)
		if err != nil {
			return false, fmt.Errorf("read location: %w", err)
		}
		if loc != before {
			return true, nil
		}
		if !o.now().Before(deadline) {
			return false, nil
		}
		if err := o.sleep(ctx, locationPoll); err != nil {
			return false, err
		}
	}
}

// dragSlider holds the handle, solves the revealed challenge, replays the
// trajectory and submits the form. The pointer is released on every path.
func (o *Orchestrator) dragSlider(ctx context.Context, r *run, sess Session) (err error) {
	sel := o.site.Selectors
	err = o.within(ctx, func(ctx context.Context) error { return sess.PressHold(ctx, sel.SliderHandle) })
	if err != nil {
		return fmt.Errorf("hold handle: %w", err)
	}
	released := false
	defer func() {
		if released {
			return
		}
		if rerr := sess.Release(context.WithoutCancel(ctx)); rerr != nil {
			r.logger.Warn().Err(rerr).Msg("release pointer failed")
		}
	}()
	if err := o.sleep(ctx, renderPause); err != nil {
		return err
	}

	challenge, err := o.solver.Solve(ctx, &challengeSource{o: o, sess: sess})
	if err != nil {
		return err
	}
	r.logger.Info().
		Int("distance", challenge.Distance).
		Int("steps", len(challenge.Trajectory)).
		Msg("dragging handle")

	for _, mv := range o.solver.Moves(challenge.Trajectory) {
		if err := sess.MoveBy(ctx, mv.DX, mv.DY); err != nil {
			return fmt.Errorf("move handle: %w", err)
		}
		if err := o.sleep(ctx, mv.Delay); err != nil {
			return err
		}
	}
	released = true
	if err := sess.Release(ctx); err != nil {
		return fmt.Errorf("release handle: %w", err)
	}
	if err := o.sleep(ctx, inputPause); err != nil {
		return err
	}
	return o.click(ctx, sess, sel.Submit)
}

// challengeSource exposes the slider challenge of a session to the solver.
type challengeSource struct {
	o    *Orchestrator
	sess Session
}

func (c *challengeSource) Background(ctx context.Context) ([]byte, float64, error) {
	sel := c.o.site.Selectors.Background
	var (
		src   string
		width float64
	)
	err := c.o.within(ctx, func(ctx context.Context) error {
		if err := c.sess.WaitVisible(ctx, sel); err != nil {
			return err
		}
		var err error
		if src, err = c.sess.Attribute(ctx, sel, "src"); err != nil {
			return err
		}
		width, err = c.sess.Width(ctx, sel)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("read challenge element: %w", err)
	}
	raw, err := captcha.DecodeDataURL(src)
	if err != nil {
		return nil, 0, err
	}
	return raw, width, nil
}

func (c *challengeSource) Refresh(ctx context.Context) error {
	if err := c.o.click(ctx, c.sess, c.o.site.Selectors.Refresh); err != nil {
		return err
	}
	return c.o.sleep(ctx, refreshPause)
}
