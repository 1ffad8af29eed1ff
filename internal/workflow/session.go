package workflow

import "context"

// Session is one driven UI session against the source website. Selectors are
// passed through verbatim; each call blocks until it succeeds or ctx ends.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, sel string) error
	Click(ctx context.Context, sel string) error
	TypeText(ctx context.Context, sel, text string) error
	Text(ctx context.Context, sel string) (string, error)
	Attribute(ctx context.Context, sel, name string) (string, error)
	Width(ctx context.Context, sel string) (float64, error)
	// Exists reports whether sel matches right now, without waiting.
	Exists(ctx context.Context, sel string) (bool, error)
	CurrentLocation(ctx context.Context) (string, error)

	// PressHold, MoveBy and Release replay a pointer drag.
	PressHold(ctx context.Context, sel string) error
	MoveBy(ctx context.Context, dx, dy float64) error
	Release(ctx context.Context) error

	Close() error
}

// Launcher opens sessions whose downloads land in downloadDir.
type Launcher interface {
	Launch(ctx context.Context, downloadDir string) (Session, error)
}
