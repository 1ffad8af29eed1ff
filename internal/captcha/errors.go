package captcha

import "errors"

var (
	// ErrExhausted is returned once every recognition attempt failed.
	ErrExhausted   = errors.New("captcha recognition exhausted")
	ErrNoGap       = errors.New("captcha gap not recognized")
	ErrBadImageSrc = errors.New("captcha image src is not a data url")
	ErrZeroWidth   = errors.New("captcha image has zero width")
)
