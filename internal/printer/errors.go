package printer

import "errors"

var (
	ErrNoOutputDir     = errors.New("print output directory does not exist")
	ErrNoPrintable     = errors.New("no printable files found")
	ErrNotReady        = errors.New("printer not ready")
	ErrUtilityMissing  = errors.New("print utility not found")
	ErrDispatch        = errors.New("print dispatch failed")
	ErrAbnormal        = errors.New("printer reported abnormal state")
	ErrPollTimeout     = errors.New("printer did not return to ready")
	ErrInvalidDocument = errors.New("print document is not a valid pdf")
)
