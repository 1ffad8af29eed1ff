package workflow

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"certprint/internal/captcha"
	"certprint/internal/config"
	fileutil "certprint/internal/file"
	"certprint/internal/printer"
	"certprint/internal/task"
)

const (
	credentialTip = "用户名或密码不正确"
	sliderTip     = "请进行滑块验证"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

// fakeSession plays the source website. loginTips is consumed per submit:
// an empty tip means the login navigates away.
type fakeSession struct {
	sel         config.Selectors
	downloadDir string

	location     string
	loginTips    []string
	errorTip     string
	emptyRecords bool
	marker       string
	skipDownload bool
	panicOn      string
	stuckOn      string
	typeErr      error
	onMove       func()

	imageSrc string
	width    float64

	navigated []string
	clicks    map[string]int
	typed     map[string]string
	dragged   float64
	releases  int
	closed    bool
}

func newFakeSession(t *testing.T, sel config.Selectors) *fakeSession {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 600, 20))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return &fakeSession{
		sel:      sel,
		location: "login",
		marker:   "准予",
		imageSrc: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		width:    300,
		clicks:   map[string]int{},
		typed:    map[string]string{},
	}
}

func (s *fakeSession) maybePanic(op string) {
	if s.panicOn == op {
		panic("driver crashed during " + op)
	}
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.maybePanic("navigate")
	s.navigated = append(s.navigated, url)
	return nil
}

func (s *fakeSession) WaitVisible(ctx context.Context, sel string) error {
	if sel == s.stuckOn {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *fakeSession) Click(_ context.Context, sel string) error {
	s.clicks[sel]++
	switch sel {
	case s.sel.Submit:
		tip := ""
		if len(s.loginTips) > 0 {
			tip, s.loginTips = s.loginTips[0], s.loginTips[1:]
		}
		if tip == "" {
			s.location = "home"
		}
		s.errorTip = tip
	case s.sel.PrintDownload:
		if !s.skipDownload {
			writeZip(s.downloadDir, "cert.zip", "食品经营许可证.pdf")
		}
	}
	return nil
}

func (s *fakeSession) TypeText(_ context.Context, sel, text string) error {
	if s.typeErr != nil {
		return s.typeErr
	}
	s.typed[sel] = text
	return nil
}

func (s *fakeSession) Text(_ context.Context, sel string) (string, error) {
	switch sel {
	case s.sel.LoginError:
		return s.errorTip, nil
	case s.sel.StatusMarker:
		return "  " + s.marker + "\n", nil
	}
	return "", errors.New("no such element")
}

func (s *fakeSession) Attribute(_ context.Context, sel, name string) (string, error) {
	if sel == s.sel.Background && name == "src" {
		return s.imageSrc, nil
	}
	return "", errors.New("no such attribute")
}

func (s *fakeSession) Width(context.Context, string) (float64, error) { return s.width, nil }

func (s *fakeSession) Exists(_ context.Context, sel string) (bool, error) {
	switch sel {
	case s.sel.EmptyRecords:
		return s.emptyRecords, nil
	case s.sel.LoginError:
		return s.errorTip != "", nil
	}
	return false, nil
}

func (s *fakeSession) CurrentLocation(context.Context) (string, error) { return s.location, nil }

func (s *fakeSession) PressHold(context.Context, string) error { return nil }

func (s *fakeSession) MoveBy(_ context.Context, dx, _ float64) error {
	if s.onMove != nil {
		s.onMove()
		s.onMove = nil
	}
	s.dragged += dx
	return nil
}

func (s *fakeSession) Release(context.Context) error {
	s.releases++
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeLauncher struct {
	sess     *fakeSession
	launches int
}

func (l *fakeLauncher) Launch(_ context.Context, downloadDir string) (Session, error) {
	l.launches++
	l.sess.downloadDir = downloadDir
	return l.sess, nil
}

type fakeRecognizer struct {
	gap   float64
	err   error
	calls int
}

func (r *fakeRecognizer) Identify(context.Context, string) (float64, error) {
	r.calls++
	return r.gap, r.err
}

type fakePrinter struct {
	dirs []string
	err  error
}

func (p *fakePrinter) Print(_ context.Context, dir string) ([]printer.Job, error) {
	p.dirs = append(p.dirs, dir)
	if p.err != nil {
		return nil, p.err
	}
	files, err := fileutil.FindByExt(dir, ".pdf")
	if err != nil {
		return nil, err
	}
	jobs := make([]printer.Job, 0, len(files))
	for _, f := range files {
		jobs = append(jobs, printer.Job{File: f, Device: "Kiosk", Pages: 1})
	}
	return jobs, nil
}

func writeZip(dir, name, entry string) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		panic(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	w, err := zw.Create(entry)
	if err != nil {
		panic(err)
	}
	_, _ = w.Write([]byte("%PDF-1.4"))
	if err := zw.Close(); err != nil {
		panic(err)
	}
}

type harness struct {
	orch       *Orchestrator
	sess       *fakeSession
	launcher   *fakeLauncher
	recognizer *fakeRecognizer
	printer    *fakePrinter
	staging    string
	extract    string
}

func newHarness(t *testing.T, captchaAttempts int) *harness {
	t.Helper()
	site := config.Default().Site
	root := t.TempDir()
	h := &harness{
		recognizer: &fakeRecognizer{gap: 200},
		printer:    &fakePrinter{},
		staging:    filepath.Join(root, "downloads"),
		extract:    filepath.Join(root, "extract"),
	}
	if err := os.MkdirAll(h.staging, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	h.sess = newFakeSession(t, site.Selectors)
	h.launcher = &fakeLauncher{sess: h.sess}
	solver := captcha.NewSolver(h.recognizer, captcha.Options{
		Attempts:   captchaAttempts,
		ScratchDir: filepath.Join(root, "scratch"),
		Rand:       rand.New(rand.NewPCG(11, 12)),
	})
	h.orch = NewOrchestrator(h.launcher, solver, h.printer, Options{
		Site:       site,
		StagingDir: h.staging,
		ExtractDir: h.extract,
	})
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	h.orch.now = clock.Now
	h.orch.sleep = clock.Sleep
	return h
}

func request(category task.Category) Request {
	return Request{
		TraceID:      "1714554000_alice",
		Subject:      "alice",
		Secret:       "s3cret",
		Category:     category,
		DocumentType: "1",
		SystemID:     "1",
	}
}

func TestRunApprovedCertificateIsExtractedAndPrinted(t *testing.T) {
	h := newHarness(t, 3)
	res := h.orch.Run(context.Background(), request(task.CategoryIndividual))

	if !res.Success || res.Kind != task.KindNone {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.DisplayName != "食品经营许可证" {
		t.Fatalf("unexpected display name %q", res.DisplayName)
	}
	for _, s := range []State{StateVerifyingLogin, StateCheckingStatus, StateExtracting, StatePrinting, StateDone} {
		if !res.Reached(s) {
			t.Fatalf("expected to reach %s, trail %v", s, res.Trail)
		}
	}
	if h.sess.dragged != 94 {
		t.Fatalf("expected slider dragged 94px, got %v", h.sess.dragged)
	}
	if h.sess.releases != 1 {
		t.Fatalf("expected one pointer release, got %d", h.sess.releases)
	}
	if len(h.printer.dirs) != 1 || h.printer.dirs[0] != h.extract {
		t.Fatalf("expected one print of %s, got %v", h.extract, h.printer.dirs)
	}
	if len(res.Printed) != 1 || !strings.HasSuffix(res.Printed[0], "食品经营许可证.pdf") {
		t.Fatalf("unexpected printed files %v", res.Printed)
	}
	if entries, _ := os.ReadDir(h.staging); len(entries) != 0 {
		t.Fatalf("expected staging purged, got %d entries", len(entries))
	}
	if h.sess.clicks[h.orch.site.Selectors.CorporateTab] != 0 {
		t.Fatalf("individual login must not switch to the corporate tab")
	}
	if h.sess.typed[h.orch.site.Selectors.Username] != "alice" {
		t.Fatalf("subject not typed")
	}
	if !h.sess.closed {
		t.Fatalf("session not released")
	}
}

func TestRunCorporateSwitchesTab(t *testing.T) {
	h := newHarness(t, 3)
	res := h.orch.Run(context.Background(), request(task.CategoryCorporate))
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if h.sess.clicks[h.orch.site.Selectors.CorporateTab] != 1 {
		t.Fatalf("expected corporate tab click")
	}
}

func TestRunNotApprovedMarkerFailsWithCertificateStatus(t *testing.T) {
	h := newHarness(t, 3)
	h.sess.marker = "不予许可"

	res := h.orch.Run(context.Background(), request(task.CategoryIndividual))
	if res.Success || res.Kind != task.KindCertificateState {
		t.Fatalf("expected certificate status failure, got %+v", res)
	}
	if !strings.Contains(res.Message, "不予许可") {
		t.Fatalf("expected marker in message, got %q", res.Message)
	}
	if res.Reached(StateExtracting) || len(h.printer.dirs) != 0 {
		t.Fatalf("must not extract or print, trail %v", res.Trail)
	}
	if !h.sess.closed {
		t.Fatalf("session not released")
	}
}

func TestRunEmptyRecordSet(t *testing.T) {
	h := newHarness(t, 3)
	h.sess.emptyRecords = true

	res := h.orch.Run(context.Background(), request(task.CategoryIndividual))
	if res.Kind != task.KindCertificateState || !strings.Contains(res.Message, "empty record") {
		t.Fatalf("expected empty record failure, got %+v", res)
	}
}

func TestRunCaptchaRecognitionExhausted(t *testing.T) {
	h := newHarness(t, 5)
	h.recognizer.err = captcha.ErrNoGap

	res := h.orch.Run(context.Background(), request(task.CategoryIndividual))
	if res.Success || res.Kind != task.KindCaptcha {
		t.Fatalf("expected captcha failure, got %+v", res)
	}
	if res.Reached(StateNavigatingToDocument) {
		t.Fatalf("must not reach document page, trail %v", res.Trail)
	}
	if h.recognizer.calls != 5 {
		t.Fatalf("expected 5 recognition calls, got %d", h.recognizer.calls)
	}
	if got := h.sess.clicks[h.orch.site.Selectors.Refresh]; got != 4 {
		t.Fatalf("expected 4 refreshes, got %d", got)
	}
	if h.sess.clicks[h.orch.site.Selectors.Submit] != 0 {
		t.Fatalf("must not submit without a solved slider")
	}
	if h.sess.releases != 1 {
		t.Fatalf("expected held pointer released once, got %d", h.sess.releases)
	}
	if !h.sess.closed {
		t.Fatalf("session not released")
	}
}

func TestRunCredentialErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, 3)
	h.sess.loginTips = []string{credentialTip}

	res := h.orch.Run(context.Background(), request(task.CategoryIndividual))
	if res.Kind != task.KindCredential {
		t.Fatalf("expected credential failure, got %+v", res)
	}
	if got := h.sess.clicks[h.orch.site.Selectors.Submit]; got != 1 {
		t.Fatalf("expected a single submit, got %d", got)
	}
}

func TestRunSliderRejectionIsRetried(t *testing.T) {
	h := newHarness(t, 3)
	h.sess.loginTips = []string{sliderTip, ""}

	res := h.orch.Run(context.Background(), request(task.CategoryIndividual))
	if !res.Success {
		t.Fatalf("expected success after retry, got %+v", res)
	}
	if got := h.sess.clicks[h.orch.site.Selectors.Submit]; got != 2 {
		t.Fatalf("expected 2 submits, got %d", got)
	}
}

func TestRunSliderRejectedOnEveryAttempt(t *testing.T) {
	h := newHarness(t, 3)
	h.sess.loginTips = []string{sliderTip, sliderTip, sliderTip}

	res := h.orch.Run(context.Background(), request(task.CategoryIndividual))
	if res.Kind != task.KindCaptcha {
		t.Fatalf("expected captcha failure, got %+v", res)
	}
	if got := h.sess.clicks[h.orch.site.Selectors.Submit]; got != 3 {
		t.Fatalf("expected 3 submits, got %d", got)
	}
	if res.Reached(StateNavigatingToDocument) {
		t.Fatalf("must not reach document page")
	}
}

func TestRunNoNavigationWithoutTipIsTimeout(t *testing.T) {
	h := newHarness(t, 3)
	h.sess.loginTips = []string{"系统繁忙"}

	res := h.orch.Run(context.Background(), request(task.CategoryIndividual))
	if res.Kind != task.KindTimeout {
		t.Fatalf("expected timeout fallback, got %+v", res)
	}
}

func TestRunPrinterFailure(t *testing.T) {
	h := newHarness(t, 3)
	h.printer.err = printer.ErrNotReady

	res := h.orch.Run(context.Background(), request(task.CategoryIndividual))
	if res.Kind != task.KindPrinter {
		t.Fatalf("expected printer failure, got %+v", res)
	}
	if !strings.HasPrefix(res.Message, string(StatePrinting)+":") {
		t.Fatalf("expected state context in message, got %q", res.Message)
	}
}

func TestRunDownloadTimeout(t *testing.T) {
	h := newHarness(t, 3)
	h.sess.skipDownload = true
	if err := os.MkdirAll(filepath.Join(h.extract, "stale"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	res := h.orch.Run(context.Background(), request(task.CategoryIndividual))
	if res.Kind != task.KindTimeout || !strings.Contains(res.Message, "download timeout") {
		t.Fatalf("expected download timeout, got %+v", res)
	}
	if len(h.printer.dirs) != 0 {
		t.Fatalf("stale extraction must not be printed")
	}
}

func TestRunUnroutedSystem(t *testing.T) {
	h := newHarness(t, 3)
	req := request(task.CategoryIndividual)
	req.DocumentType, req.SystemID = "5", "2"

	res := h.orch.Run(context.Background(), req)
	if res.Success || !strings.Contains(res.Message, "system 2 workflow not implemented") {
		t.Fatalf("expected not implemented failure, got %+v", res)
	}
	if res.Kind != task.KindTimeout {
		t.Fatalf("expected fallback kind, got %q", res.Kind)
	}
	if h.launcher.launches != 0 {
		t.Fatalf("no session must be opened")
	}
}

func TestRunRecoversPanic(t *testing.T) {
	h := newHarness(t, 3)
	h.sess.panicOn = "navigate"

	res := h.orch.Run(context.Background(), request(task.CategoryIndividual))
	if res.Success || !res.Reached(StateFailed) {
		t.Fatalf("expected failure, got %+v", res)
	}
	if !strings.Contains(res.Message, "driver crashed during navigate") {
		t.Fatalf("expected panic value in message, got %q", res.Message)
	}
	if !h.sess.closed {
		t.Fatalf("session not released after panic")
	}
}

func TestRunStuckStatusMarkerIsTimeout(t *testing.T) {
	h := newHarness(t, 3)
	h.orch.site.ElementTimeout = 50 * time.Millisecond
	h.sess.stuckOn = h.orch.site.Selectors.StatusMarker

	res := h.orch.Run(context.Background(), request(task.CategoryIndividual))
	if res.Kind != task.KindTimeout {
		t.Fatalf("expected timeout for a stuck element wait, got %q (%s)", res.Kind, res.Message)
	}
	if !strings.Contains(res.Message, "element wait timeout") {
		t.Fatalf("expected wait timeout in message, got %q", res.Message)
	}
	if res.Reached(StateExtracting) {
		t.Fatalf("must not extract, trail %v", res.Trail)
	}
}

func TestRunLoginFormFailureIsCredential(t *testing.T) {
	h := newHarness(t, 3)
	h.sess.typeErr = errors.New("element not interactable")

	res := h.orch.Run(context.Background(), request(task.CategoryIndividual))
	if res.Kind != task.KindCredential {
		t.Fatalf("expected credential failure, got %q (%s)", res.Kind, res.Message)
	}
	if h.sess.clicks[h.orch.site.Selectors.Submit] != 0 {
		t.Fatalf("must not submit an unfilled form")
	}
}

func TestRunReleasesPointerWhenCancelledMidDrag(t *testing.T) {
	h := newHarness(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sess.onMove = cancel

	res := h.orch.Run(ctx, request(task.CategoryIndividual))
	if res.Success {
		t.Fatalf("expected cancelled run to fail")
	}
	if h.sess.releases != 1 {
		t.Fatalf("expected pointer released once, got %d", h.sess.releases)
	}
	if h.sess.clicks[h.orch.site.Selectors.Submit] != 0 {
		t.Fatalf("must not submit after cancellation")
	}
	if !h.sess.closed {
		t.Fatalf("session not released")
	}
}
