package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/liamvmurphy/pokestock-sub001/models"
)

// ErrAlreadyRunning is returned by Start when a run is already in flight.
// Concurrent starts are rejected, never queued.
var ErrAlreadyRunning = errors.New("monitoring run already in progress")

const searchURLFormat = "https://www.facebook.com/marketplace/search?query=%s&sortBy=creation_time_descend"

// Orchestrator state. Failed is terminal for the run that failed, not for
// the orchestrator; a later Start is allowed from Failed.
const (
	stateIdle int32 = iota
	stateRunning
	stateFailed
)

// Session is the per-run browser handle the orchestrator drives.
type Session interface {
	Navigate(url string) error
	HumanScroll()
	Screenshot() string
	Content() (string, error)
	IsBlocked() bool
}

// SessionManager hands out sessions. Every successful Acquire is paired
// with exactly one Release, on every exit path.
type SessionManager interface {
	Acquire() (Session, error)
	Release(Session)
}

// Extractor parses a results page snapshot into candidate listings.
type Extractor interface {
	Extract(html string) ([]models.RawListing, error)
}

// Classifier turns a raw listing into structured product attributes.
type Classifier interface {
	Classify(ctx context.Context, raw models.RawListing) (models.Classification, error)
}

// Sink is the append-only persistence gateway. KnownURLs seeds the run's
// de-duplication set; Append failures are per-listing, never fatal.
type Sink interface {
	Append(ctx context.Context, listing models.PersistedListing) error
	KnownURLs(ctx context.Context) ([]string, error)
}

// RunRecorder persists run lifecycle rows for history. Optional; a nil
// recorder disables history without affecting the pipeline.
type RunRecorder interface {
	CreateRun(run *models.MonitorRun) error
	UpdateRun(run *models.MonitorRun) error
}

// LogFunc receives run-scoped log lines for the ops log. Optional.
type LogFunc func(level models.LogLevel, runID *uuid.UUID, format string, args ...any)

// Orchestrator drives search terms through navigation, extraction,
// classification and persistence. At most one run is in flight at a time;
// the state guard is a compare-and-swap, so concurrent trigger requests
// race safely.
type Orchestrator struct {
	sessions   SessionManager
	extractor  Extractor
	classifier Classifier
	sink       Sink
	recorder   RunRecorder
	logf       LogFunc

	state    atomic.Int32
	stopFlag atomic.Bool

	mu          sync.Mutex
	terms       []string
	currentTerm string
	termIndex   int
	completed   int
	errors      int
	found       int
	startedAt   time.Time
	lastStatus  models.RunStatus
}

type Option func(*Orchestrator)

func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithLogFunc(f LogFunc) Option {
	return func(o *Orchestrator) { o.logf = f }
}

func New(sessions SessionManager, extractor Extractor, classifier Classifier, sink Sink, terms []string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions:   sessions,
		extractor:  extractor,
		classifier: classifier,
		sink:       sink,
		terms:      append([]string(nil), terms...),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches a run asynchronously. Returns ErrAlreadyRunning if a run
// is in flight; the rejected call leaves all state untouched.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.claimRun() {
		return ErrAlreadyRunning
	}
	go o.run(ctx)
	return nil
}

// RunNow executes a run synchronously. Same exclusivity rules as Start.
func (o *Orchestrator) RunNow(ctx context.Context) error {
	if !o.claimRun() {
		return ErrAlreadyRunning
	}
	o.run(ctx)
	return nil
}

// Stop requests cooperative cancellation. The flag is checked between
// listings and terms; an in-flight navigation is never killed.
func (o *Orchestrator) Stop() {
	if o.state.Load() == stateRunning {
		o.stopFlag.Store(true)
		o.logRun(models.LogLevelInfo, nil, "Monitor: stop requested")
	}
}

// Status returns a point-in-time snapshot without blocking the run.
func (o *Orchestrator) Status() models.RunSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return models.RunSnapshot{
		IsRunning:      o.state.Load() == stateRunning,
		Status:         o.lastStatus,
		CurrentTerm:    o.currentTerm,
		TermIndex:      o.termIndex,
		CompletedCount: o.completed,
		ErrorCount:     o.errors,
		StartedAt:      o.startedAt,
	}
}

// SetTerms replaces the search term list for subsequent runs. The active
// run (if any) keeps the list it started with.
func (o *Orchestrator) SetTerms(terms []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.terms = append([]string(nil), terms...)
}

func (o *Orchestrator) Terms() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.terms...)
}

func (o *Orchestrator) claimRun() bool {
	return o.state.CompareAndSwap(stateIdle, stateRunning) ||
		o.state.CompareAndSwap(stateFailed, stateRunning)
}

func (o *Orchestrator) run(ctx context.Context) {
	o.stopFlag.Store(false)

	o.mu.Lock()
	terms := append([]string(nil), o.terms...)
	o.currentTerm = ""
	o.termIndex = 0
	o.completed = 0
	o.errors = 0
	o.found = 0
	o.startedAt = time.Now().UTC()
	o.lastStatus = models.RunStatusRunning
	o.mu.Unlock()

	run := &models.MonitorRun{
		ID:         uuid.New(),
		StartedAt:  o.startedAt,
		Status:     models.RunStatusRunning,
		TermsTotal: len(terms),
	}
	if o.recorder != nil {
		if err := o.recorder.CreateRun(run); err != nil {
			o.logRun(models.LogLevelWarn, nil, "Monitor: record run start: %v", err)
		}
	}
	o.logRun(models.LogLevelInfo, &run.ID, "Monitor: run started (%d terms)", len(terms))

	session, err := o.sessions.Acquire()
	if err != nil {
		// No session means no progress is possible. Fatal.
		o.logRun(models.LogLevelError, &run.ID, "Monitor: session unavailable: %v", err)
		o.finishRun(run, models.RunStatusFailed, stateFailed)
		return
	}
	defer o.sessions.Release(session)

	seen := o.seedSeenSet(ctx, run)

	for i, term := range terms {
		if o.shouldStop(ctx) {
			o.finishRun(run, models.RunStatusCancelled, stateIdle)
			return
		}

		o.mu.Lock()
		o.currentTerm = term
		o.termIndex = i
		o.mu.Unlock()

		o.processTerm(ctx, session, run, term, seen)

		o.mu.Lock()
		run.TermsDone = i + 1
		run.ListingsFound = o.found
		run.CompletedCount = o.completed
		run.ErrorCount = o.errors
		o.mu.Unlock()
		if o.recorder != nil {
			if err := o.recorder.UpdateRun(run); err != nil {
				o.logRun(models.LogLevelWarn, &run.ID, "Monitor: record run progress: %v", err)
			}
		}
	}

	o.finishRun(run, models.RunStatusCompleted, stateIdle)
}

// processTerm runs one search term end to end. Term-level failures are
// logged, counted and swallowed; the run moves on to the next term.
func (o *Orchestrator) processTerm(ctx context.Context, session Session, run *models.MonitorRun, term string, seen map[string]bool) {
	target := SearchURL(term)

	if err := session.Navigate(target); err != nil {
		o.countError()
		o.logRun(models.LogLevelError, &run.ID, "Monitor: [%s] navigation failed: %v", term, err)
		return
	}

	if session.IsBlocked() {
		o.countError()
		o.logRun(models.LogLevelWarn, &run.ID, "Monitor: [%s] block page detected, skipping term", term)
		return
	}

	session.HumanScroll()

	screenshot := session.Screenshot()

	html, err := session.Content()
	if err != nil {
		o.countError()
		o.logRun(models.LogLevelError, &run.ID, "Monitor: [%s] page content unavailable: %v", term, err)
		return
	}

	listings, err := o.extractor.Extract(html)
	if err != nil {
		o.countError()
		o.logRun(models.LogLevelError, &run.ID, "Monitor: [%s] extraction failed: %v", term, err)
		return
	}
	o.logRun(models.LogLevelInfo, &run.ID, "Monitor: [%s] extracted %d listings", term, len(listings))

	for _, raw := range listings {
		if o.shouldStop(ctx) {
			return
		}
		o.mu.Lock()
		o.found++
		o.mu.Unlock()

		if seen[raw.URL] {
			continue
		}
		seen[raw.URL] = true

		raw.Screenshot = screenshot
		o.processListing(ctx, run, term, raw)
	}
}

// processListing classifies and persists one listing. Classification
// failure falls back to raw fields with zero confidence; the listing is
// stored either way. Data is never dropped because enrichment failed.
func (o *Orchestrator) processListing(ctx context.Context, run *models.MonitorRun, term string, raw models.RawListing) {
	classified := models.ClassifiedListing{Raw: raw}

	classification, err := o.classifier.Classify(ctx, raw)
	if err != nil {
		o.countError()
		o.logRun(models.LogLevelWarn, &run.ID, "Monitor: [%s] classification failed for %s: %v", term, raw.URL, err)
		classified.Fallback = true
		classified.Classification = models.Classification{
			ItemName:   raw.Title,
			Confidence: 0,
		}
	} else {
		classified.Classification = classification
	}

	record := buildRecord(classified, term)

	if err := o.sink.Append(ctx, record); err != nil {
		o.countError()
		o.logRun(models.LogLevelError, &run.ID, "Monitor: [%s] persistence failed for %s: %v", term, raw.URL, err)
		return
	}

	o.mu.Lock()
	o.completed++
	o.mu.Unlock()
}

// buildRecord assembles the final append-only record from a classified
// listing. Records are never mutated after this point.
func buildRecord(cl models.ClassifiedListing, term string) models.PersistedListing {
	c := cl.Classification
	now := time.Now().UTC()

	return models.PersistedListing{
		ID:             uuid.New(),
		ItemName:       c.ItemName,
		SetName:        c.SetName,
		ProductType:    c.ProductType,
		Condition:      c.Condition,
		Language:       c.Language,
		Price:          models.ParsePrice(cl.Raw.PriceText),
		Quantity:       1,
		Location:       cl.Raw.LocationText,
		Seller:         cl.Raw.SellerText,
		MarketplaceURL: cl.Raw.URL,
		DateFound:      now,
		LastSeen:       now,
		Source:         models.SourceMarketplace,
		Status:         models.StatusAvailable,
		Confidence:     c.Confidence,
		Authenticity:   c.Authenticity,
		NeedsReview:    cl.Fallback || c.Confidence < models.ReviewConfidenceFloor || cl.Raw.Incomplete,
		SearchTerm:     term,
		Screenshot:     cl.Raw.Screenshot,
	}
}

// seedSeenSet loads the sink's existing URLs so re-discovered listings
// are skipped across runs, not just within one. A read failure degrades
// to an empty set; the sink's own upsert-by-URL backstops duplicates.
func (o *Orchestrator) seedSeenSet(ctx context.Context, run *models.MonitorRun) map[string]bool {
	seen := make(map[string]bool)
	urls, err := o.sink.KnownURLs(ctx)
	if err != nil {
		o.logRun(models.LogLevelWarn, &run.ID, "Monitor: seed de-dup set: %v", err)
		return seen
	}
	for _, u := range urls {
		seen[u] = true
	}
	o.logRun(models.LogLevelInfo, &run.ID, "Monitor: de-dup set seeded with %d known URLs", len(seen))
	return seen
}

func (o *Orchestrator) finishRun(run *models.MonitorRun, status models.RunStatus, nextState int32) {
	now := time.Now().UTC()

	o.mu.Lock()
	o.currentTerm = ""
	o.lastStatus = status
	run.FinishedAt = &now
	run.Status = status
	run.ListingsFound = o.found
	run.CompletedCount = o.completed
	run.ErrorCount = o.errors
	o.mu.Unlock()

	if o.recorder != nil {
		if err := o.recorder.UpdateRun(run); err != nil {
			o.logRun(models.LogLevelWarn, &run.ID, "Monitor: record run finish: %v", err)
		}
	}
	o.logRun(models.LogLevelInfo, &run.ID, "Monitor: run %s (%d persisted, %d errors)", status, run.CompletedCount, run.ErrorCount)

	o.state.Store(nextState)
}

func (o *Orchestrator) shouldStop(ctx context.Context) bool {
	return o.stopFlag.Load() || ctx.Err() != nil
}

func (o *Orchestrator) countError() {
	o.mu.Lock()
	o.errors++
	o.mu.Unlock()
}

func (o *Orchestrator) logRun(level models.LogLevel, runID *uuid.UUID, format string, args ...any) {
	if o.logf != nil {
		o.logf(level, runID, format, args...)
	}
}

// SearchURL builds the marketplace search URL for a term, newest first.
func SearchURL(term string) string {
	return fmt.Sprintf(searchURLFormat, url.QueryEscape(term))
}
