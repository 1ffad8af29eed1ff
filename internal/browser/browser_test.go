package browser

import (
	"testing"

	"github.com/chromedp/cdproto/dom"

	"certprint/internal/config"
)

func TestCenter(t *testing.T) {
	x, y, err := center(dom.Quad{10, 20, 50, 20, 50, 40, 10, 40})
	if err != nil {
		t.Fatalf("center: %v", err)
	}
	if x != 30 || y != 30 {
		t.Fatalf("expected (30,30), got (%v,%v)", x, y)
	}
	if _, _, err := center(dom.Quad{1, 2}); err == nil {
		t.Fatalf("expected error for short quad")
	}
}

func TestSelectorKind(t *testing.T) {
	for _, sel := range []string{"//span[text()='法人登录']", "/html/body/ul/li[2]/button", "(//button)[2]"} {
		if !isXPath(sel) {
			t.Fatalf("%s: expected xpath", sel)
		}
	}
	for _, sel := range []string{"#legal_login_name", "div.el-table__empty-block", ".err_tip .err_text"} {
		if isXPath(sel) {
			t.Fatalf("%s: expected css", sel)
		}
	}
}

func TestPointerRequiresPress(t *testing.T) {
	s := &Session{cancel: func() {}}
	if err := s.MoveBy(t.Context(), 1, 0); err != ErrNoPointer {
		t.Fatalf("expected ErrNoPointer, got %v", err)
	}
	if err := s.Release(t.Context()); err != ErrNoPointer {
		t.Fatalf("expected ErrNoPointer, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestAllocatorOptionsIncludeExecPath(t *testing.T) {
	base := len(NewLauncher(config.Browser{}).allocatorOptions())
	withPath := len(NewLauncher(config.Browser{ExecPath: "/usr/bin/chromium"}).allocatorOptions())
	if withPath != base+1 {
		t.Fatalf("expected exec path option, got %d vs %d", withPath, base)
	}
}
