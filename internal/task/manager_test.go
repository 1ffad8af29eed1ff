package task

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManagerWithOptions(Options{DataDir: t.TempDir(), SessionTimeout: time.Minute})
}

func TestAdmitSetsProcessingAndRoutes(t *testing.T) {
	m := newTestManager(t)
	if !m.Admit("alice", CategoryIndividual, "1") {
		t.Fatalf("expected admit on idle task")
	}
	snap := m.Snapshot()
	if snap.Status != StatusProcessing {
		t.Fatalf("expected processing, got %s", snap.Status)
	}
	if snap.SystemID != "1" {
		t.Fatalf("expected system id 1, got %q", snap.SystemID)
	}
	if !strings.HasSuffix(snap.TraceID, "_alice") {
		t.Fatalf("unexpected trace id %q", snap.TraceID)
	}
}

func TestRouteSystem(t *testing.T) {
	cases := map[string]string{"1": "1", "4": "1", "5": "2", "8": "2", "9": "", "": ""}
	for in, want := range cases {
		if got := RouteSystem(in); got != want {
			t.Fatalf("RouteSystem(%q)=%q want %q", in, got, want)
		}
	}
}

func TestAdmitRejectsWhileProcessing(t *testing.T) {
	m := newTestManager(t)
	if !m.Admit("alice", CategoryIndividual, "1") {
		t.Fatalf("first admit must succeed")
	}
	before := m.Snapshot()
	if m.Admit("bob", CategoryCorporate, "5") {
		t.Fatalf("second admit must be rejected")
	}
	after := m.Snapshot()
	if after.Subject != before.Subject || after.TraceID != before.TraceID || after.SystemID != before.SystemID {
		t.Fatalf("rejected admit mutated state: before=%+v after=%+v", before, after)
	}
}

func TestConcurrentAdmitSingleWinner(t *testing.T) {
	m := NewManager()
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Admit("user", CategoryIndividual, "2") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners.Load())
	}

	if err := m.Complete(false, "printer offline", "x", KindPrinter); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !m.Admit("user", CategoryIndividual, "2") {
		t.Fatalf("expected admit after terminal transition")
	}
}

func TestCompleteRequiresProcessing(t *testing.T) {
	m := NewManager()
	if err := m.Complete(true, "done", "", KindNone); err != ErrNotProcessing {
		t.Fatalf("expected ErrNotProcessing, got %v", err)
	}
}

func TestCompleteFailureRecordsError(t *testing.T) {
	m := NewManager()
	m.Admit("alice", CategoryCorporate, "1")
	if err := m.Complete(false, "bad password", "食品经营许可证", KindCredential); err != nil {
		t.Fatalf("complete: %v", err)
	}
	snap := m.Snapshot()
	if snap.Status != StatusFailed || snap.Success || snap.ErrorKind != KindCredential || snap.ErrorMessage != "bad password" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.LastCompletion == nil {
		t.Fatalf("expected completion time to be stamped")
	}
	if snap.DisplayName != "食品经营许可证" {
		t.Fatalf("unexpected display name %q", snap.DisplayName)
	}

	m.Admit("alice", CategoryCorporate, "1")
	if s := m.Snapshot(); s.ErrorKind != KindNone || s.ErrorMessage != "" {
		t.Fatalf("admit should clear error fields, got %+v", s)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := NewManager()
	m.Admit("alice", CategoryIndividual, "1")
	_ = m.Complete(true, "printed", "", KindNone)

	snap := m.Snapshot()
	snap.Message = "tampered"
	*snap.LastCompletion = time.Time{}

	again := m.Snapshot()
	if again.Message != "printed" || again.LastCompletion.IsZero() {
		t.Fatalf("snapshot mutation leaked into live state: %+v", again)
	}
}

func TestIsExpiredMonotonic(t *testing.T) {
	m := NewManager()
	m.sessionTimeout = 30 * time.Minute
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	current := base
	m.now = func() time.Time { return current }

	if !m.IsExpired() {
		t.Fatalf("never-completed task should count as expired")
	}
	m.Admit("alice", CategoryIndividual, "1")
	_ = m.Complete(true, "printed", "", KindNone)

	seenExpired := false
	for offset := time.Duration(0); offset <= time.Hour; offset += time.Minute {
		current = base.Add(offset)
		expired := m.IsExpired()
		if seenExpired && !expired {
			t.Fatalf("IsExpired went back to false at offset %s", offset)
		}
		seenExpired = seenExpired || expired
		if offset <= 30*time.Minute && expired {
			t.Fatalf("expired too early at offset %s", offset)
		}
	}
	if !seenExpired {
		t.Fatalf("expected expiry after the session timeout")
	}
}

func TestStatusViews(t *testing.T) {
	m := NewManager()
	base := time.Now()
	current := base
	m.now = func() time.Time { return current }

	if got := m.Status(); got.Status != StatusIdle {
		t.Fatalf("expected idle, got %+v", got)
	}
	m.Admit("alice", CategoryIndividual, "1")
	if got := m.Status(); got.Status != StatusProcessing {
		t.Fatalf("expected processing, got %+v", got)
	}
	_ = m.Complete(false, "证件状态异常: 不予", "", KindCertificateState)
	got := m.Status()
	if got.Status != StatusFailed || got.ErrorKind != KindCertificateState {
		t.Fatalf("expected failed with kind, got %+v", got)
	}
	current = base.Add(m.sessionTimeout + time.Second)
	if got := m.Status(); got.Status != StatusExpired {
		t.Fatalf("expected expired, got %+v", got)
	}
	// expiry is a view only
	if snap := m.Snapshot(); snap.Status != StatusFailed || snap.ErrorKind != KindCertificateState {
		t.Fatalf("expiry changed the stored outcome: %+v", snap)
	}
}

func TestResetReturnsIdle(t *testing.T) {
	m := NewManager()
	m.Admit("alice", CategoryIndividual, "1")
	_ = m.Complete(true, "printed", "", KindNone)
	m.Reset()
	snap := m.Snapshot()
	if snap.Status != StatusIdle || snap.TraceID != "" || snap.LastCompletion != nil {
		t.Fatalf("expected fresh idle task, got %+v", snap)
	}
}

func TestPersistAndLoadFromDisk(t *testing.T) {
	dataDir := t.TempDir()
	m := NewManagerWithOptions(Options{DataDir: dataDir})
	m.Admit("alice", CategoryCorporate, "3")

	m2 := NewManagerWithOptions(Options{DataDir: dataDir})
	interrupted, err := m2.LoadFromDisk()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := m2.Snapshot()
	if interrupted == nil || interrupted.TraceID != got.TraceID || interrupted.Status != StatusFailed {
		t.Fatalf("expected interrupted run returned, got %+v", interrupted)
	}
	if got.Status != StatusFailed || got.ErrorKind != KindTimeout {
		t.Fatalf("expected interrupted run to load as failed timeout, got %+v", got)
	}
	if got.Subject != "alice" || got.SystemID != "1" {
		t.Fatalf("expected task fields restored, got %+v", got)
	}
	if !m2.Admit("bob", CategoryIndividual, "1") {
		t.Fatalf("restored failed task must admit a new run")
	}
}

func TestLoadFromDiskWithoutSnapshot(t *testing.T) {
	m := NewManagerWithOptions(Options{DataDir: t.TempDir()})
	interrupted, err := m.LoadFromDisk()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if interrupted != nil {
		t.Fatalf("expected no interrupted run, got %+v", interrupted)
	}
	if m.Snapshot().Status != StatusIdle {
		t.Fatalf("expected idle task")
	}
}

func TestClearAndSetDocumentRefuseWhileProcessing(t *testing.T) {
	m := NewManager()
	if !m.SetDocument(CategoryCorporate, "2") {
		t.Fatalf("expected document accepted while idle")
	}
	m.Admit("acme", CategoryCorporate, "2")
	if m.SetDocument(CategoryIndividual, "5") {
		t.Fatalf("expected document refused while processing")
	}
	if m.BeginClear() {
		t.Fatalf("expected clear refused while processing")
	}
	if snap := m.Snapshot(); snap.Status != StatusProcessing || snap.DocumentType != "2" {
		t.Fatalf("refused calls mutated state: %+v", snap)
	}
	_ = m.Complete(false, "print failed", "", KindPrinter)
	if !m.BeginClear() {
		t.Fatalf("expected clear after completion")
	}
	m.EndClear(true)
	if snap := m.Snapshot(); snap.Status != StatusIdle {
		t.Fatalf("expected idle, got %s", snap.Status)
	}
}

func TestClearClaimBlocksAdmission(t *testing.T) {
	m := NewManager()
	if !m.BeginClear() {
		t.Fatalf("expected clear claim while idle")
	}
	if m.BeginClear() {
		t.Fatalf("expected second claim refused")
	}
	if m.Admit("alice", CategoryIndividual, "1") {
		t.Fatalf("expected admission refused during purge")
	}
	if m.SetDocument(CategoryIndividual, "1") {
		t.Fatalf("expected document refused during purge")
	}
	m.EndClear(false)
	if snap := m.Snapshot(); snap.Status != StatusIdle || snap.DocumentType != "" {
		t.Fatalf("failed purge must leave the task untouched: %+v", snap)
	}
	if !m.Admit("alice", CategoryIndividual, "1") {
		t.Fatalf("expected admission after the claim ended")
	}
}

func TestLoadFromDiskFinishedRunIsNotInterrupted(t *testing.T) {
	dataDir := t.TempDir()
	m := NewManagerWithOptions(Options{DataDir: dataDir})
	m.Admit("alice", CategoryCorporate, "3")
	if err := m.Complete(true, "printed", "食品经营许可证", KindNone); err != nil {
		t.Fatalf("complete: %v", err)
	}

	m2 := NewManagerWithOptions(Options{DataDir: dataDir})
	interrupted, err := m2.LoadFromDisk()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if interrupted != nil {
		t.Fatalf("finished run must not be reported as interrupted, got %+v", interrupted)
	}
	if got := m2.Snapshot(); got.Status != StatusSuccess {
		t.Fatalf("expected success restored, got %+v", got)
	}
}
