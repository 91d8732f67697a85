package recorder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// State is the controller lifecycle phase. Transitions only move
// forward; a session never re-enters capture after it starts stopping.
type State string

const (
	StateInit       State = "init"
	StateLaunching  State = "launching"
	StateCapturing  State = "capturing"
	StateStopping   State = "stopping"
	StateFinalizing State = "finalizing"
	StateClosed     State = "closed"
)

// Options configures one recording session.
type Options struct {
	// URL is the page the session opens after launch. The user can
	// navigate anywhere from there.
	URL string

	// OutputDir is where the session directory is created.
	OutputDir string

	// SessionID overrides the generated session identifier.
	SessionID string

	// AuthStatePath points at a storage-state file from an earlier
	// session; when set and present, the context starts authenticated.
	AuthStatePath string

	Headless  bool
	Viewport  Viewport
	UserAgent string

	// IgnoreURLGlobs exempts matching URLs from HTML snapshotting.
	IgnoreURLGlobs []string
}

func (o *Options) applyDefaults() {
	if o.SessionID == "" {
		o.SessionID = fmt.Sprintf("session_%s_%s",
			time.Now().Format("20060102_150405"), uuid.NewString()[:8])
	}
	if o.Viewport.Width == 0 {
		o.Viewport.Width = defaultViewportWidth
	}
	if o.Viewport.Height == 0 {
		o.Viewport.Height = defaultViewportHeight
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
}

// Controller owns a recording session end to end: browser launch,
// instrumentation install, supervision, and finalization. A session
// always ends with a best-effort persisted result; browser failures
// mid-capture degrade individual artifacts, never crash the run.
type Controller struct {
	log  *zap.Logger
	opts Options

	store   *sessionStore
	channel *eventChannel
	rec     *recorder
	monitor *htmlMonitor

	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	mu        sync.Mutex
	state     State
	startedAt time.Time

	// sawContent flips once the active page leaves the neutral blank
	// page; only the supervisory goroutine touches it.
	sawContent bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	finalErr error
}

// NewController validates options and prepares the session directory.
// The browser is not touched until Start.
func NewController(log *zap.Logger, opts Options) (*Controller, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("target URL is required")
	}
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	opts.applyDefaults()

	ignore := make([]glob.Glob, 0, len(opts.IgnoreURLGlobs))
	for _, pattern := range opts.IgnoreURLGlobs {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		ignore = append(ignore, g)
	}

	store, err := newSessionStore(sessionDir(opts.OutputDir, opts.SessionID), log)
	if err != nil {
		return nil, err
	}

	log = log.With(zap.String("session_id", opts.SessionID))
	channel := newEventChannel(log)
	rec := newRecorder(log, store, channel, opts.Viewport)

	c := &Controller{
		log:     log,
		opts:    opts,
		store:   store,
		channel: channel,
		rec:     rec,
		state:   StateInit,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	c.monitor = newHTMLMonitor(log, ignore, c.activePage)
	rec.setOnInterrupt(c.Stop)
	return c, nil
}

func sessionDir(outputDir, sessionID string) string {
	return filepath.Join(outputDir, sessionID)
}

// SessionID returns the session identifier, which names the session
// directory.
func (c *Controller) SessionID() string {
	return c.opts.SessionID
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log.Debug("state transition", zap.String("state", string(s)))
}

// Start launches the browser, installs instrumentation, opens the
// target URL and begins capturing. It returns once capture is running;
// the session then runs until Stop, element selection, or browser
// close. Use Wait to block until finalization completes.
func (c *Controller) Start() error {
	if c.State() != StateInit {
		return fmt.Errorf("controller already started")
	}
	c.setState(StateLaunching)
	c.startedAt = time.Now()

	if err := c.launch(); err != nil {
		c.teardownBrowser()
		c.setState(StateClosed)
		close(c.doneCh)
		return err
	}

	c.channel.start()
	c.rec.run()
	c.monitor.start()
	c.setState(StateCapturing)

	go c.supervise()

	c.log.Info("recording started",
		zap.String("url", c.opts.URL),
		zap.Bool("headless", c.opts.Headless))
	return nil
}

func (c *Controller) launch() error {
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(runOpts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	c.pw = pw

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(c.opts.Headless),
		Args:     []string{"--disable-blink-features=AutomationControlled"},
	})
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	c.browser = browser

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  c.opts.Viewport.Width,
			Height: c.opts.Viewport.Height,
		},
		UserAgent: playwright.String(c.opts.UserAgent),
	}
	if c.opts.AuthStatePath != "" {
		if _, err := os.Stat(c.opts.AuthStatePath); err == nil {
			contextOpts.StorageStatePath = playwright.String(c.opts.AuthStatePath)
			c.log.Info("resuming auth state", zap.String("path", c.opts.AuthStatePath))
		} else {
			c.log.Warn("auth state file not found, starting fresh",
				zap.String("path", c.opts.AuthStatePath))
		}
	}
	context, err := browser.NewContext(contextOpts)
	if err != nil {
		return fmt.Errorf("failed to create context: %w", err)
	}
	c.context = context

	// Instrumentation must be in place before the first document loads.
	if err := c.channel.install(context); err != nil {
		return err
	}

	page, err := context.NewPage()
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}
	c.page = page
	c.rec.setPrimary(page)

	// Neutral page first: proves the init script is in place before any
	// real document runs.
	if _, err := page.Goto(blankPage); err != nil {
		return fmt.Errorf("failed to open neutral page: %w", err)
	}

	if _, err := page.Goto(c.opts.URL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(pageReadyTimeout.Milliseconds())),
	}); err != nil {
		// Not fatal: the user can navigate manually and capture still
		// works on whatever loads.
		c.log.Warn("initial navigation did not complete", zap.Error(err))
	}
	return nil
}

// activePage is the page the monitor and selection mode act on: the
// most recently opened page that is still alive, falling back to the
// primary page.
func (c *Controller) activePage() playwright.Page {
	pages := c.channel.trackedPages()
	for i := len(pages) - 1; i >= 0; i-- {
		if !pages[i].IsClosed() {
			return pages[i]
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// supervise polls session health until something ends the run: an
// external Stop, a completed element selection, every page closed, or
// a fatal browser error. Transient errors (navigations, detached
// frames) are expected and ignored.
func (c *Controller) supervise() {
	ticker := time.NewTicker(superviseTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			c.finalize("stop requested")
			return
		case <-ticker.C:
			if c.rec.isInterrupted() {
				c.finalize("element selected")
				return
			}
			if reason, dead := c.sessionDead(); dead {
				c.finalize(reason)
				return
			}
		}
	}
}

func (c *Controller) sessionDead() (string, bool) {
	page := c.activePage()
	if page == nil || page.IsClosed() {
		return "all pages closed", true
	}

	// Landing back on the neutral page after real content means the
	// user closed or abandoned the session.
	if page.URL() == blankPage {
		if c.sawContent {
			return "returned to blank page", true
		}
	} else {
		c.sawContent = true
	}

	if _, err := evaluateWithTimeout(page, `() => 1`, nil, probeTimeout); err != nil {
		if isTransient(err) {
			return "", false
		}
		c.log.Warn("page stopped responding", zap.Error(err))
		return "page unresponsive", true
	}
	return "", false
}

// Stop requests termination. Safe to call from any goroutine and more
// than once; the first call wins.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// Wait blocks until the session has finalized and returns the first
// persistence error, if any.
func (c *Controller) Wait() error {
	<-c.doneCh
	return c.finalErr
}

// RecordAction injects a synthetic operation, for external replay and
// testing harnesses driving the session programmatically.
func (c *Controller) RecordAction(action Action, selector, value, pageURL string) (*Operation, error) {
	if s := c.State(); s != StateCapturing {
		return nil, fmt.Errorf("session not capturing (state %s)", s)
	}
	return c.rec.RecordAction(action, selector, value, pageURL), nil
}

// EnableElementSelection arms the in-page element picker. The session
// terminates automatically once the user picks an element.
func (c *Controller) EnableElementSelection() error {
	if s := c.State(); s != StateCapturing {
		return fmt.Errorf("session not capturing (state %s)", s)
	}
	return c.rec.EnableElementSelection()
}

// finalize flushes everything to disk and tears the browser down. Each
// artifact is written independently; one failure is logged and recorded
// but never blocks the others.
func (c *Controller) finalize(reason string) {
	c.setState(StateStopping)
	c.log.Info("finalizing session", zap.String("reason", reason))

	page := c.activePage()
	cache, timeline := c.monitor.finalize(page)

	// Stop the channel first so the recorder sees the stream end, then
	// drain remaining events while the browser is still alive.
	c.channel.stop()
	c.rec.wait()

	c.setState(StateFinalizing)

	keep := func(label string, err error) {
		if err != nil {
			c.log.Error("failed to persist artifact",
				zap.String("artifact", label), zap.Error(err))
			if c.finalErr == nil {
				c.finalErr = fmt.Errorf("failed to persist %s: %w", label, err)
			}
		}
	}

	keep("operations", c.store.writeOperations(c.rec.oplog.snapshot()))
	keep("html snapshots", c.store.writeHTMLSnapshots(cache, timeline))
	if c.context != nil {
		keep("auth state", c.store.writeAuthState(c.context))
	}
	keep("metadata", c.store.writeMetadata(c.buildMetadata(len(timeline))))

	c.teardownBrowser()
	c.setState(StateClosed)
	close(c.doneCh)
	c.log.Info("session closed", zap.String("dir", c.store.dir))
}

func (c *Controller) buildMetadata(pagesVisited int) *SessionMetadata {
	ended := time.Now()
	stats := c.rec.oplog.statistics()
	stats.PagesVisited = pagesVisited
	return &SessionMetadata{
		SessionID:              c.opts.SessionID,
		URL:                    c.opts.URL,
		PageTitle:              c.monitor.pageTitle(),
		Browser:                "chromium",
		StartedAt:              c.startedAt.UTC().Format(time.RFC3339Nano),
		EndedAt:                ended.UTC().Format(time.RFC3339Nano),
		DurationSeconds:        ended.Sub(c.startedAt).Seconds(),
		Viewport:               c.opts.Viewport,
		Interrupted:            c.rec.isInterrupted(),
		Statistics:             stats,
		ReturnReferenceElement: c.rec.selectedElement(),
		Analysis:               AnalysisState{Analyzed: false},
		OperationsFile:         operationsFile,
		AuthStateFile:          authStateFile,
	}
}

func (c *Controller) teardownBrowser() {
	if c.page != nil {
		_ = c.page.Close() // Ignore errors, continue cleanup
	}
	if c.context != nil {
		_ = c.context.Close() // Ignore errors, continue cleanup
	}
	if c.browser != nil {
		_ = c.browser.Close() // Ignore errors, continue cleanup
	}
	if c.pw != nil {
		_ = c.pw.Stop()
	}
}
