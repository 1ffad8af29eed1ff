// Package browser drives the source website through a Chrome DevTools session.
package browser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"certprint/internal/config"
	"certprint/internal/workflow"
)

var (
	ErrNoPointer = errors.New("pointer is not pressed")
	ErrNoBox     = errors.New("element has no box model")
)

var (
	_ workflow.Launcher = (*Launcher)(nil)
	_ workflow.Session  = (*Session)(nil)
)

// Launcher starts one Chrome process per session.
type Launcher struct {
	cfg config.Browser
}

func NewLauncher(cfg config.Browser) *Launcher {
	return &Launcher{cfg: cfg}
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.WindowSize(l.cfg.WindowWidth, l.cfg.WindowHeight),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

// Launch opens a browser whose downloads land in downloadDir. The browser
// lives until Close, independent of ctx.
func (l *Launcher) Launch(ctx context.Context, downloadDir string) (workflow.Session, error) {
	dir, err := filepath.Abs(downloadDir)
	if err != nil {
		return nil, fmt.Errorf("download dir: %w", err)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	s := &Session{
		tab: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}
	err = s.run(ctx, browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
		WithDownloadPath(dir))
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	log.Debug().Str("download_dir", dir).Bool("headless", l.cfg.Headless).Msg("browser started")
	return s, nil
}

// Session is a single browser tab.
type Session struct {
	tab    context.Context
	cancel func()

	mu      sync.Mutex
	x, y    float64
	pressed bool
	closed  bool
}

// run executes actions on the tab, bounded by ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		return err
	}
	return nil
}

func isXPath(sel string) bool {
	return strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(")
}

// by picks XPath for path-like selectors and CSS otherwise.
func by(sel string) chromedp.QueryOption {
	if isXPath(sel) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *Session) WaitVisible(ctx context.Context, sel string) error {
	return s.run(ctx, chromedp.WaitVisible(sel, by(sel)))
}

func (s *Session) Click(ctx context.Context, sel string) error {
	return s.run(ctx, chromedp.Click(sel, by(sel), chromedp.NodeVisible))
}

func (s *Session) TypeText(ctx context.Context, sel, text string) error {
	return s.run(ctx,
		chromedp.WaitVisible(sel, by(sel)),
		chromedp.Clear(sel, by(sel)),
		chromedp.SendKeys(sel, text, by(sel)),
	)
}

func (s *Session) Text(ctx context.Context, sel string) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Text(sel, &text, by(sel), chromedp.NodeVisible)); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (s *Session) Attribute(ctx context.Context, sel, name string) (string, error) {
	var (
		value string
		ok    bool
	)
	if err := s.run(ctx, chromedp.AttributeValue(sel, name, &value, &ok, by(sel))); err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("attribute %s not set on %s", name, sel)
	}
	return value, nil
}

// Width is the rendered width of the element in CSS pixels.
func (s *Session) Width(ctx context.Context, sel string) (float64, error) {
	var box *dom.BoxModel
	if err := s.run(ctx, chromedp.Dimensions(sel, &box, by(sel), chromedp.NodeVisible)); err != nil {
		return 0, err
	}
	if box == nil {
		return 0, ErrNoBox
	}
	return float64(box.Width), nil
}

// Exists checks the current document only.
func (s *Session) Exists(ctx context.Context, sel string) (bool, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(sel, &nodes, by(sel), chromedp.AtLeast(0))); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (s *Session) CurrentLocation(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// PressHold presses the left button over the center of sel.
func (s *Session) PressHold(ctx context.Context, sel string) error {
	var box *dom.BoxModel
	if err := s.run(ctx, chromedp.Dimensions(sel, &box, by(sel), chromedp.NodeVisible)); err != nil {
		return err
	}
	if box == nil {
		return ErrNoBox
	}
	x, y, err := center(box.Content)
	if err != nil {
		return err
	}
	err = s.run(ctx,
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).
			WithButtons(1).
			WithClickCount(1),
	)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.x, s.y, s.pressed = x, y, true
	s.mu.Unlock()
	return nil
}

func (s *Session) MoveBy(ctx context.Context, dx, dy float64) error {
	s.mu.Lock()
	if !s.pressed {
		s.mu.Unlock()
		return ErrNoPointer
	}
	x, y := s.x+dx, s.y+dy
	s.mu.Unlock()

	err := s.run(ctx, input.DispatchMouseEvent(input.MouseMoved, x, y).
		WithButton(input.Left).
		WithButtons(1))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.x, s.y = x, y
	s.mu.Unlock()
	return nil
}

func (s *Session) Release(ctx context.Context) error {
	s.mu.Lock()
	if !s.pressed {
		s.mu.Unlock()
		return ErrNoPointer
	}
	x, y := s.x, s.y
	s.pressed = false
	s.mu.Unlock()

	return s.run(ctx, input.DispatchMouseEvent(input.MouseReleased, x, y).
		WithButton(input.Left).
		WithClickCount(1))
}

// Close shuts the tab and the browser process. It is safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return nil
}

// center returns the midpoint of a content quad.
func center(q dom.Quad) (float64, float64, error) {
	if len(q) != 8 {
		return 0, 0, ErrNoBox
	}
	return (q[0] + q[2] + q[4] + q[6]) / 4, (q[1] + q[3] + q[5] + q[7]) / 4, nil
}
