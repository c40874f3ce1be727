package browser

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/liamvmurphy/pokestock-sub001/config"
)

var (
	// ErrSessionUnavailable means no browser could be launched or attached.
	// The orchestrator treats this as fatal for the whole run.
	ErrSessionUnavailable = errors.New("browser session unavailable")

	// ErrNavigation wraps navigation timeouts and unreachable hosts.
	ErrNavigation = errors.New("navigation failed")
)

// Content markers that indicate the marketplace served a block page or a
// login interstitial instead of search results. False negatives are fine;
// the check is only an early-exit signal.
var blockMarkers = []string{
	"You must log in to continue",
	"Temporarily Blocked",
	"We limit how often you can do certain things",
	"Please try again later",
	"checkpoint/block",
	"This request was blocked",
}

// Manager owns the playwright handle and hands out one page-backed session
// at a time. The persistent profile keeps marketplace auth between runs.
type Manager struct {
	cfg config.BrowserConfig

	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser // set when attached over CDP
	context     playwright.BrowserContext
	initialized bool
}

// Session wraps a single page plus the pacing knobs it was opened with.
type Session struct {
	page playwright.Page
	cfg  config.BrowserConfig

	released bool
	mu       sync.Mutex
}

func NewManager(cfg config.BrowserConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Acquire launches (or attaches to) the browser and opens a fresh page.
// Every successful Acquire must be paired with exactly one Release.
func (m *Manager) Acquire() (*Session, error) {
	if err := m.ensureBrowser(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	page, err := m.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("%w: new page: %v", ErrSessionUnavailable, err)
	}

	return &Session{page: page, cfg: m.cfg}, nil
}

// Release closes the session's page. Safe to call once per Acquire on any
// exit path; the browser context itself stays warm for the next run.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	if s.page != nil {
		s.page.Close()
	}
}

func (m *Manager) ensureBrowser() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}
	m.pw = pw

	if m.cfg.DebugPort > 0 {
		// Attach to an already-authenticated Chrome over CDP.
		endpoint := fmt.Sprintf("http://127.0.0.1:%d", m.cfg.DebugPort)
		browser, err := pw.Chromium.ConnectOverCDP(endpoint)
		if err != nil {
			pw.Stop()
			m.pw = nil
			return fmt.Errorf("connect over cdp %s: %w", endpoint, err)
		}
		m.browser = browser

		contexts := browser.Contexts()
		if len(contexts) > 0 {
			m.context = contexts[0]
		} else {
			ctx, err := browser.NewContext()
			if err != nil {
				browser.Close()
				pw.Stop()
				m.pw = nil
				return fmt.Errorf("new context: %w", err)
			}
			m.context = ctx
		}
		m.initialized = true
		log.Printf("Browser: attached over CDP on port %d", m.cfg.DebugPort)
		return nil
	}

	context, err := pw.Chromium.LaunchPersistentContext(m.cfg.ProfileDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(m.cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		m.pw = nil
		return fmt.Errorf("launch browser: %w", err)
	}

	m.context = context
	m.initialized = true
	log.Printf("Browser: launched persistent context (profile: %s, headless: %v)", m.cfg.ProfileDir, m.cfg.Headless)
	return nil
}

// Shutdown tears down the browser and playwright driver.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.context != nil {
		m.context.Close()
		m.context = nil
	}
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.pw != nil {
		m.pw.Stop()
		m.pw = nil
	}
	m.initialized = false
}

// Navigate loads url and waits for DOM content. Timeouts and unreachable
// hosts come back wrapped in ErrNavigation.
func (s *Session) Navigate(url string) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(60000),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}
	s.humanDelay()
	return nil
}

// HumanScroll performs a randomized sequence of scroll steps with jittered
// pauses and mouse movement. Never a single deterministic jump.
func (s *Session) HumanScroll() {
	steps := 3 + rand.Intn(4)
	for i := 0; i < steps; i++ {
		s.page.Mouse().Move(float64(200+rand.Intn(600)), float64(150+rand.Intn(400)))
		amount := 250 + rand.Intn(700)
		s.page.Evaluate(fmt.Sprintf(`window.scrollBy({top: %d, behavior: "smooth"})`, amount))
		s.humanDelay()
	}
	// Small scroll back up, like a human re-checking a card.
	if rand.Intn(2) == 0 {
		s.page.Evaluate(fmt.Sprintf(`window.scrollBy({top: -%d, behavior: "smooth"})`, 80+rand.Intn(200)))
		s.humanDelay()
	}
}

// Screenshot captures the viewport as base64 PNG. Capture failures return
// an empty string; a missing screenshot never aborts the run.
func (s *Session) Screenshot() string {
	data, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		log.Printf("Browser: screenshot failed: %v", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// Content returns the current page HTML.
func (s *Session) Content() (string, error) {
	content, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("page content: %w", err)
	}
	return content, nil
}

// IsBlocked heuristically checks the page for block/interstitial markers.
func (s *Session) IsBlocked() bool {
	content, err := s.page.Content()
	if err != nil {
		return false
	}
	return ContentBlocked(content)
}

// ContentBlocked reports whether html matches a known block marker.
func ContentBlocked(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range blockMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

func (s *Session) humanDelay() {
	min, max := s.cfg.MinDelayMS, s.cfg.MaxDelayMS
	if max <= min {
		max = min + 1
	}
	delay := min + rand.Intn(max-min)
	time.Sleep(time.Duration(delay) * time.Millisecond)
}
