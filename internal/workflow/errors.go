package workflow

import (
	"errors"
	"fmt"

	"certprint/internal/task"
)

var (
	ErrSystemNotImplemented = errors.New("workflow not implemented")
	ErrUnknownDocument      = errors.New("unknown document type")
	ErrEmptyRecord          = errors.New("certificate status: empty record")
	ErrStatusNotApproved    = errors.New("certificate status not approved")
	ErrDownloadTimeout      = errors.New("download timeout: no archive arrived")
	ErrLoginRejected        = errors.New("login rejected")
	ErrCaptchaRejected      = errors.New("captcha rejected after all login attempts")
)

// Failure is a step error that already knows its kind.
type Failure struct {
	Kind task.ErrorKind
	Err  error
}

func (f *Failure) Error() string { return f.Err.Error() }
func (f *Failure) Unwrap() error { return f.Err }

func fail(kind task.ErrorKind, err error) error {
	return &Failure{Kind: kind, Err: err}
}

// kindOf returns the tagged kind of err or classifies its text.
func kindOf(err error) task.ErrorKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return task.Classify(err.Error())
}

func stepError(state State, err error) error {
	return fmt.Errorf("%s: %w", state, err)
}
