package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Default values for the Playwright pool and its sessions.
const (
	DefaultTimeout        = 30000.0 // 30 seconds in milliseconds
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultMaxSessions    = 5
	DefaultIdleTimeout    = 300 // 5 minutes in seconds
)

// Pool manages Playwright browser sessions, one per running task.
type Pool struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	playwright  *playwright.Playwright
	maxSessions int
	idleTimeout time.Duration
	initialized bool
}

// SessionOptions configures a new browser session.
type SessionOptions struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the initial viewport size
	Viewport *Viewport

	// Timeout sets the default timeout for operations (in milliseconds)
	Timeout float64
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// NewPool creates a session pool. Initialize must be called before opening
// sessions.
func NewPool() *Pool {
	return &Pool{
		sessions:    make(map[string]*Session),
		maxSessions: DefaultMaxSessions,
		idleTimeout: time.Duration(DefaultIdleTimeout) * time.Second,
	}
}

// Initialize installs and starts the Playwright runtime. Output is discarded
// so driver startup does not interleave with the engine's own logging.
func (p *Pool) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	p.playwright = pw
	p.initialized = true
	return nil
}

// OpenSession launches a browser session for the given owner id. Each owner
// may hold at most one session at a time; the session is exclusively theirs
// until Close is called.
func (p *Pool) OpenSession(id string, opts SessionOptions) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.sessions[id]; exists {
		return nil, fmt.Errorf("session %q already exists", id)
	}
	if len(p.sessions) >= p.maxSessions {
		return nil, fmt.Errorf("maximum number of sessions (%d) reached", p.maxSessions)
	}
	if !p.initialized {
		return nil, fmt.Errorf("pool not initialized")
	}

	if opts.Viewport == nil {
		opts.Viewport = &Viewport{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	}
	browser, err := p.playwright.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	}
	browserCtx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(opts.Timeout)

	now := time.Now()
	session := &Session{
		id:         id,
		pool:       p,
		browser:    browser,
		browserCtx: browserCtx,
		page:       page,
		timeout:    opts.Timeout,
		createdAt:  now,
		lastUsedAt: now,
	}

	p.sessions[id] = session
	return session, nil
}

// CloseSession closes and removes a session by owner id.
func (p *Pool) CloseSession(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	session, exists := p.sessions[id]
	if !exists {
		return fmt.Errorf("session %q not found", id)
	}
	session.release()
	delete(p.sessions, id)
	return nil
}

// SessionCount returns the number of live sessions.
func (p *Pool) SessionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// CleanupIdleSessions closes sessions idle for longer than the pool's idle
// timeout.
func (p *Pool) CleanupIdleSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for id, session := range p.sessions {
		if now.Sub(session.lastUsed()) > p.idleTimeout {
			session.release()
			delete(p.sessions, id)
		}
	}
}

// SetMaxSessions sets the maximum number of concurrent sessions.
func (p *Pool) SetMaxSessions(max int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxSessions = max
}

// SetIdleTimeout sets the idle timeout duration.
func (p *Pool) SetIdleTimeout(timeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idleTimeout = timeout
}

// Shutdown closes all sessions and stops the Playwright runtime.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, session := range p.sessions {
		session.release()
		delete(p.sessions, id)
	}

	if p.initialized && p.playwright != nil {
		if err := p.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		p.initialized = false
	}
	return nil
}

// Session is a Playwright-backed Driver bound to one browser instance.
type Session struct {
	id         string
	pool       *Pool
	browser    playwright.Browser
	browserCtx playwright.BrowserContext
	page       playwright.Page
	timeout    float64
	createdAt  time.Time

	mu         sync.Mutex
	lastUsedAt time.Time
	closed     bool
}

// touch updates the last-used timestamp.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsedAt
}

// Navigate loads the URL in the current tab.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.touch()

	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout: &s.timeout,
	})
	if err != nil {
		return Classify(fmt.Errorf("navigation failed: %w", err))
	}
	return nil
}

// Locate resolves a locator string to a handle on the first matching element.
func (s *Session) Locate(ctx context.Context, locator string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.touch()

	loc, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}

	count, err := loc.Count()
	if err != nil {
		return nil, Classify(fmt.Errorf("locator query failed: %w", err))
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: locator %q", ErrNotFound, locator)
	}

	return &elementHandle{session: s, locator: loc.First()}, nil
}

// resolve maps the engine's locator strings onto Playwright locators. Text,
// xpath, and CSS locators pass through; role locators are translated to
// GetByRole lookups.
func (s *Session) resolve(locator string) (playwright.Locator, error) {
	if locator == "" {
		return nil, fmt.Errorf("%w: empty locator", ErrNotFound)
	}
	if role, name, ok := ParseRoleLocator(locator); ok {
		opts := playwright.PageGetByRoleOptions{}
		if name != "" {
			opts.Name = name
		}
		return s.page.GetByRole(playwright.AriaRole(role), opts), nil
	}
	return s.page.Locator(locator), nil
}

// Snapshot captures the full accessibility tree via CDP. The raw result is
// returned untouched for the snapshot package to parse.
func (s *Session) Snapshot(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.touch()

	cdp, err := s.browserCtx.NewCDPSession(s.page)
	if err != nil {
		return nil, Classify(fmt.Errorf("failed to open CDP session: %w", err))
	}
	defer cdp.Detach()

	result, err := cdp.Send("Accessibility.getFullAXTree", map[string]interface{}{})
	if err != nil {
		return nil, Classify(fmt.Errorf("accessibility capture failed: %w", err))
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode accessibility capture: %w", err)
	}
	return raw, nil
}

// Screenshot captures the current viewport as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.touch()

	bytes, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Timeout: &s.timeout,
	})
	if err != nil {
		return nil, Classify(fmt.Errorf("screenshot failed: %w", err))
	}
	return bytes, nil
}

// PageURL returns the URL of the current page.
func (s *Session) PageURL() string {
	return s.page.URL()
}

// PageHTML returns the current page's HTML source.
func (s *Session) PageHTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.touch()

	content, err := s.page.Content()
	if err != nil {
		return "", Classify(fmt.Errorf("failed to read page content: %w", err))
	}
	return content, nil
}

// WaitVisible blocks until the locator resolves to a visible element.
func (s *Session) WaitVisible(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.touch()

	loc, err := s.resolve(locator)
	if err != nil {
		return err
	}
	err = loc.First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: &s.timeout,
	})
	if err != nil {
		return Classify(fmt.Errorf("wait failed: %w", err))
	}
	return nil
}

// NewTab opens a new tab, optionally navigating it, and makes it current.
func (s *Session) NewTab(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.touch()

	page, err := s.browserCtx.NewPage()
	if err != nil {
		return Classify(fmt.Errorf("failed to open tab: %w", err))
	}
	page.SetDefaultTimeout(s.timeout)
	if url != "" {
		if _, err := page.Goto(url, playwright.PageGotoOptions{Timeout: &s.timeout}); err != nil {
			page.Close()
			return Classify(fmt.Errorf("navigation failed: %w", err))
		}
	}
	s.page = page
	return nil
}

// SwitchTab makes the tab at the given index current.
func (s *Session) SwitchTab(ctx context.Context, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.touch()

	pages := s.browserCtx.Pages()
	if index < 0 || index >= len(pages) {
		return fmt.Errorf("%w: tab index %d out of range (%d tabs)", ErrNotFound, index, len(pages))
	}
	s.page = pages[index]
	if err := s.page.BringToFront(); err != nil {
		return Classify(fmt.Errorf("failed to focus tab: %w", err))
	}
	return nil
}

// Close releases the session and removes it from the pool.
func (s *Session) Close() error {
	return s.pool.CloseSession(s.id)
}

// release tears down browser resources. Errors are ignored so cleanup always
// completes.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.page.Close()
	_ = s.browserCtx.Close()
	_ = s.browser.Close()
}

// elementHandle adapts a resolved Playwright locator to the Handle interface.
type elementHandle struct {
	session *Session
	locator playwright.Locator
}

// Click clicks the element.
func (h *elementHandle) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.session.touch()

	err := h.locator.Click(playwright.LocatorClickOptions{
		Timeout: &h.session.timeout,
	})
	if err != nil {
		return Classify(fmt.Errorf("click failed: %w", err))
	}
	return nil
}

// Fill replaces the element's value with the given text.
func (h *elementHandle) Fill(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.session.touch()

	err := h.locator.Fill(value, playwright.LocatorFillOptions{
		Timeout: &h.session.timeout,
	})
	if err != nil {
		return Classify(fmt.Errorf("fill failed: %w", err))
	}
	return nil
}

// Text returns the element's text content.
func (h *elementHandle) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h.session.touch()

	text, err := h.locator.TextContent(playwright.LocatorTextContentOptions{
		Timeout: &h.session.timeout,
	})
	if err != nil {
		return "", Classify(fmt.Errorf("text extraction failed: %w", err))
	}
	return text, nil
}

// ParseRoleLocator splits a role locator of the form
// role=button[name="Search"] into its role and accessible name. The name
// part is optional. Returns ok=false for any other locator syntax.
func ParseRoleLocator(locator string) (role, name string, ok bool) {
	const prefix = "role="
	if !strings.HasPrefix(locator, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(locator, prefix)
	if rest == "" {
		return "", "", false
	}

	bracket := strings.Index(rest, "[")
	if bracket == -1 {
		return rest, "", true
	}

	role = rest[:bracket]
	attrs := rest[bracket:]
	if role == "" || !strings.HasSuffix(attrs, "]") {
		return "", "", false
	}

	inner := strings.TrimSuffix(strings.TrimPrefix(attrs, "["), "]")
	if !strings.HasPrefix(inner, "name=") {
		return role, "", true
	}
	quoted := strings.TrimPrefix(inner, "name=")
	unquoted, err := strconv.Unquote(quoted)
	if err != nil {
		// Tolerate an unquoted name
		return role, quoted, true
	}
	return role, unquoted, true
}
