package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/liamvmurphy/pokestock-sub001/models"
)

type fakeSession struct {
	navErr  error
	blocked bool
	lastURL string
	scrolls int
	contErr error
}

func (s *fakeSession) Navigate(url string) error {
	if s.navErr != nil {
		return s.navErr
	}
	s.lastURL = url
	return nil
}

func (s *fakeSession) HumanScroll()       { s.scrolls++ }
func (s *fakeSession) Screenshot() string { return "" }
func (s *fakeSession) IsBlocked() bool    { return s.blocked }

func (s *fakeSession) Content() (string, error) {
	if s.contErr != nil {
		return "", s.contErr
	}
	return s.lastURL, nil
}

type fakeSessionManager struct {
	mu          sync.Mutex
	session     *fakeSession
	acquireErr  error
	acquires    int
	releases    int
	acquireGate chan struct{} // when set, Acquire blocks until the gate closes
}

func (m *fakeSessionManager) Acquire() (Session, error) {
	if m.acquireGate != nil {
		<-m.acquireGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	m.acquires++
	return m.session, nil
}

func (m *fakeSessionManager) Release(Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
}

// fakeExtractor derives listing URLs from the page content, so every term
// yields its own distinct URLs.
type fakeExtractor struct {
	perPage int
	err     error
}

func (e *fakeExtractor) Extract(html string) ([]models.RawListing, error) {
	if e.err != nil {
		return nil, e.err
	}
	var listings []models.RawListing
	for i := 0; i < e.perPage; i++ {
		listings = append(listings, models.RawListing{
			URL:       fmt.Sprintf("https://example.com/item/%x/%d", hashString(html), i),
			Title:     "Pokemon 151 Elite Trainer Box",
			PriceText: "$165",
		})
	}
	return listings, nil
}

func hashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

type fakeClassifier struct {
	mu     sync.Mutex
	err    error
	calls  int
	onCall func(n int)
}

func (c *fakeClassifier) Classify(_ context.Context, raw models.RawListing) (models.Classification, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()
	if c.onCall != nil {
		c.onCall(n)
	}
	if c.err != nil {
		return models.Classification{}, c.err
	}
	return models.Classification{
		ItemName:    raw.Title,
		SetName:     "151",
		ProductType: "etb",
		Confidence:  0.9,
	}, nil
}

type fakeSink struct {
	mu        sync.Mutex
	appended  []models.PersistedListing
	appendErr error
	known     []string
	knownErr  error
}

func (s *fakeSink) Append(_ context.Context, listing models.PersistedListing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, listing)
	return nil
}

func (s *fakeSink) KnownURLs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.knownErr != nil {
		return nil, s.knownErr
	}
	return append([]string(nil), s.known...), nil
}

func (s *fakeSink) appendedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appended)
}

var sevenTerms = []string{
	"pokemon etb",
	"pokemon booster box",
	"pokemon collection",
	"pokemon 151",
	"pokemon japanese booster box",
	"pokemon graded card",
	"charizard psa",
}

func newTestRig(perPage int) (*fakeSessionManager, *fakeExtractor, *fakeClassifier, *fakeSink) {
	return &fakeSessionManager{session: &fakeSession{}},
		&fakeExtractor{perPage: perPage},
		&fakeClassifier{},
		&fakeSink{}
}

func TestRunHappyPath(t *testing.T) {
	sessions, ext, cls, sink := newTestRig(2)
	o := New(sessions, ext, cls, sink, sevenTerms)

	if err := o.RunNow(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := sink.appendedCount(); got != 14 {
		t.Fatalf("expected 14 appends, got %d", got)
	}

	status := o.Status()
	if status.IsRunning {
		t.Fatal("run should have finished")
	}
	if status.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed status, got %s", status.Status)
	}
	if status.CompletedCount != 14 {
		t.Fatalf("expected completedCount 14, got %d", status.CompletedCount)
	}
	if status.ErrorCount != 0 {
		t.Fatalf("expected errorCount 0, got %d", status.ErrorCount)
	}

	if sessions.acquires != 1 || sessions.releases != 1 {
		t.Fatalf("expected 1 acquire / 1 release, got %d / %d", sessions.acquires, sessions.releases)
	}

	for _, l := range sink.appended {
		if l.Source != models.SourceMarketplace {
			t.Fatalf("unexpected source %q", l.Source)
		}
		if l.Status != models.StatusAvailable {
			t.Fatalf("unexpected status %q", l.Status)
		}
		if !l.Price.Valid || l.Price.Amount != 165 {
			t.Fatalf("expected valid price 165, got %+v", l.Price)
		}
		if l.NeedsReview {
			t.Fatalf("confident classification should not need review: %+v", l)
		}
	}
}

func TestStartWhileRunningRejected(t *testing.T) {
	sessions, ext, cls, sink := newTestRig(2)
	gate := make(chan struct{})
	sessions.acquireGate = gate
	o := New(sessions, ext, cls, sink, sevenTerms)

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}

	if err := o.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := o.RunNow(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning from RunNow, got %v", err)
	}

	close(gate)
	waitForIdle(t, o)

	if got := sink.appendedCount(); got != 14 {
		t.Fatalf("expected the first run to finish with 14 appends, got %d", got)
	}
}

func TestClassifierFailureFallsBackToRawFields(t *testing.T) {
	sessions, ext, cls, sink := newTestRig(2)
	cls.err = errors.New("model unreachable")
	o := New(sessions, ext, cls, sink, sevenTerms)

	if err := o.RunNow(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := sink.appendedCount(); got != 14 {
		t.Fatalf("expected 14 persisted records despite classifier failure, got %d", got)
	}

	status := o.Status()
	if status.Status != models.RunStatusCompleted {
		t.Fatalf("run should reach completed, got %s", status.Status)
	}
	if status.ErrorCount != 14 {
		t.Fatalf("expected errorCount 14, got %d", status.ErrorCount)
	}

	for _, l := range sink.appended {
		if l.ItemName != "Pokemon 151 Elite Trainer Box" {
			t.Fatalf("fallback should use raw title, got %q", l.ItemName)
		}
		if l.Confidence != 0 {
			t.Fatalf("fallback confidence should be 0, got %f", l.Confidence)
		}
		if !l.NeedsReview {
			t.Fatal("fallback records must be flagged for review")
		}
	}
}

func TestAcquireFailureFailsRunImmediately(t *testing.T) {
	sessions, ext, cls, sink := newTestRig(2)
	sessions.acquireErr = errors.New("debug port unreachable")
	o := New(sessions, ext, cls, sink, sevenTerms)

	if err := o.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow itself should not error: %v", err)
	}

	status := o.Status()
	if status.Status != models.RunStatusFailed {
		t.Fatalf("expected failed status, got %s", status.Status)
	}
	if got := sink.appendedCount(); got != 0 {
		t.Fatalf("expected zero listings persisted, got %d", got)
	}
	if cls.calls != 0 {
		t.Fatalf("expected zero classifier calls, got %d", cls.calls)
	}
	if sessions.releases != 0 {
		t.Fatalf("nothing to release after failed acquire, got %d releases", sessions.releases)
	}

	// A failed run must not wedge the orchestrator.
	sessions.acquireErr = nil
	if err := o.RunNow(context.Background()); err != nil {
		t.Fatalf("restart after failure rejected: %v", err)
	}
	if o.Status().Status != models.RunStatusCompleted {
		t.Fatalf("expected completed after retry, got %s", o.Status().Status)
	}
}

func TestDedupAcrossAndWithinRuns(t *testing.T) {
	sessions, ext, cls, sink := newTestRig(2)
	o := New(sessions, ext, cls, sink, sevenTerms)

	if err := o.RunNow(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if got := sink.appendedCount(); got != 14 {
		t.Fatalf("expected 14 appends in first run, got %d", got)
	}

	// Feed the persisted URLs back as the sink's known set: the second run
	// re-discovers the same pages and must append nothing.
	sink.mu.Lock()
	for _, l := range sink.appended {
		sink.known = append(sink.known, l.MarketplaceURL)
	}
	sink.mu.Unlock()

	if err := o.RunNow(context.Background()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if got := sink.appendedCount(); got != 14 {
		t.Fatalf("re-discovery must not duplicate rows: got %d appends", got)
	}

	seen := make(map[string]int)
	for _, l := range sink.appended {
		seen[l.MarketplaceURL]++
	}
	for url, n := range seen {
		if n != 1 {
			t.Fatalf("url %s persisted %d times", url, n)
		}
	}
}

func TestNavigationErrorSkipsTermContinuesRun(t *testing.T) {
	sessions, ext, cls, sink := newTestRig(2)
	sessions.session.navErr = errors.New("timeout")
	o := New(sessions, ext, cls, sink, sevenTerms)

	if err := o.RunNow(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	status := o.Status()
	if status.Status != models.RunStatusCompleted {
		t.Fatalf("term-level failures must not fail the run, got %s", status.Status)
	}
	if status.ErrorCount != len(sevenTerms) {
		t.Fatalf("expected one error per term, got %d", status.ErrorCount)
	}
	if got := sink.appendedCount(); got != 0 {
		t.Fatalf("expected no appends, got %d", got)
	}
	if sessions.releases != 1 {
		t.Fatalf("session must still be released exactly once, got %d", sessions.releases)
	}
}

func TestBlockedTermSkipped(t *testing.T) {
	sessions, ext, cls, sink := newTestRig(2)
	sessions.session.blocked = true
	o := New(sessions, ext, cls, sink, sevenTerms)

	if err := o.RunNow(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	status := o.Status()
	if status.Status != models.RunStatusCompleted {
		t.Fatalf("blocked terms must not fail the run, got %s", status.Status)
	}
	if got := sink.appendedCount(); got != 0 {
		t.Fatalf("blocked pages must yield no listings, got %d", got)
	}
	if cls.calls != 0 {
		t.Fatalf("no extraction means no classification, got %d calls", cls.calls)
	}
}

func TestPersistenceErrorCountedNotFatal(t *testing.T) {
	sessions, ext, cls, sink := newTestRig(2)
	sink.appendErr = errors.New("sink quota exceeded")
	o := New(sessions, ext, cls, sink, sevenTerms)

	if err := o.RunNow(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	status := o.Status()
	if status.Status != models.RunStatusCompleted {
		t.Fatalf("persistence errors must not fail the run, got %s", status.Status)
	}
	if status.ErrorCount != 14 {
		t.Fatalf("expected 14 persistence errors counted, got %d", status.ErrorCount)
	}
	if status.CompletedCount != 0 {
		t.Fatalf("failed appends must not count as completed, got %d", status.CompletedCount)
	}
}

func TestStopIsCooperative(t *testing.T) {
	sessions, ext, sink := &fakeSessionManager{session: &fakeSession{}}, &fakeExtractor{perPage: 2}, &fakeSink{}
	var o *Orchestrator
	cls := &fakeClassifier{}
	cls.onCall = func(n int) {
		if n == 3 {
			o.Stop()
		}
	}
	o = New(sessions, ext, cls, sink, sevenTerms)

	if err := o.RunNow(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	status := o.Status()
	if status.Status != models.RunStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", status.Status)
	}
	if got := sink.appendedCount(); got >= 14 {
		t.Fatalf("stop should cut the run short, got %d appends", got)
	}
	if sessions.releases != 1 {
		t.Fatalf("cancelled runs must release the session, got %d", sessions.releases)
	}
}

func TestSeedFailureDegradesToEmptySet(t *testing.T) {
	sessions, ext, cls, sink := newTestRig(2)
	sink.knownErr = errors.New("sink read unavailable")
	o := New(sessions, ext, cls, sink, sevenTerms)

	if err := o.RunNow(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := sink.appendedCount(); got != 14 {
		t.Fatalf("seed failure must not block persistence, got %d appends", got)
	}
}

func TestSearchURL(t *testing.T) {
	got := SearchURL("pokemon booster box")
	if !strings.Contains(got, "query=pokemon+booster+box") {
		t.Fatalf("term not escaped into query: %s", got)
	}
	if !strings.HasPrefix(got, "https://www.facebook.com/marketplace/search") {
		t.Fatalf("unexpected search base: %s", got)
	}
}

func waitForIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !o.Status().IsRunning {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
}
