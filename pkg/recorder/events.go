package recorder

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// captureScript is the in-page instrumentation. It is installed as a
// context-level init script so every document, including nested frames
// and popups, is instrumented before its own scripts run.
//
//go:embed capture.js
var captureScript string

// drainScript pulls the queued events out of one frame. The guard keeps
// it safe on documents where the init script has not run (about:blank
// before install, chrome error pages).
const drainScript = `() => (window.__webrecDrain ? window.__webrecDrain() : [])`

// evaluator is the common Evaluate surface of playwright pages and
// frames.
type evaluator interface {
	Evaluate(expression string, options ...interface{}) (interface{}, error)
}

// evaluateWithTimeout bounds an Evaluate call. Playwright evaluations
// have no native timeout and can block indefinitely on a navigating
// frame; the call keeps running in the background after a timeout but
// the caller is released.
func evaluateWithTimeout(target evaluator, script string, arg interface{}, timeout time.Duration) (interface{}, error) {
	type result struct {
		value interface{}
		err   error
	}
	done := make(chan result, 1)

	go func() {
		var r result
		if arg == nil {
			r.value, r.err = target.Evaluate(script)
		} else {
			r.value, r.err = target.Evaluate(script, arg)
		}
		done <- r
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("evaluate timed out after %s", timeout)
	}
}

// eventChannel moves structured interaction events from the browser to
// the host over two paths. The push path is a context-exposed binding
// the page calls as each event happens; the poll path drains the
// per-frame queue on a ticker and catches events emitted while the
// binding was unavailable (mid-navigation, transient errors). Events
// that made it through the binding carry a delivered mark and are
// dropped by the poll path.
type eventChannel struct {
	log    *zap.Logger
	events chan *Event

	mu    sync.Mutex
	pages []playwright.Page

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func newEventChannel(log *zap.Logger) *eventChannel {
	return &eventChannel{
		log:    log,
		events: make(chan *Event, 256),
		done:   make(chan struct{}),
	}
}

// install wires the channel into a browser context: init script,
// binding, and page tracking. Must be called before the first page is
// created so no document escapes instrumentation.
func (c *eventChannel) install(ctx playwright.BrowserContext) error {
	if err := ctx.AddInitScript(playwright.Script{Content: playwright.String(captureScript)}); err != nil {
		return fmt.Errorf("failed to add capture init script: %w", err)
	}

	if err := ctx.ExposeBinding("__webrecEmit", c.onEmit); err != nil {
		return fmt.Errorf("failed to expose event binding: %w", err)
	}

	ctx.OnPage(c.trackPage)
	return nil
}

// start launches the poll-drain loop.
func (c *eventChannel) start() {
	c.wg.Add(1)
	go c.pollLoop()
}

// stop halts polling and closes the event stream after one final drain.
func (c *eventChannel) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.drainAll()
		close(c.events)
	})
}

func (c *eventChannel) trackPage(page playwright.Page) {
	c.mu.Lock()
	c.pages = append(c.pages, page)
	c.mu.Unlock()

	page.OnClose(func(closed playwright.Page) {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, p := range c.pages {
			if p == closed {
				c.pages = append(c.pages[:i], c.pages[i+1:]...)
				break
			}
		}
	})
}

func (c *eventChannel) trackedPages() []playwright.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]playwright.Page, len(c.pages))
	copy(out, c.pages)
	return out
}

// onEmit is the push path. The binding source names the originating
// page, which travels with the event so later screenshots and probes
// target the right page when popups are open.
func (c *eventChannel) onEmit(source *playwright.BindingSource, args ...interface{}) interface{} {
	if len(args) == 0 {
		return nil
	}
	event, err := decodeEvent(args[0])
	if err != nil {
		c.log.Debug("dropping undecodable pushed event", zap.Error(err))
		return nil
	}
	c.annotate(event, source.Page)
	c.deliver(event)
	return nil
}

// pollLoop drains every frame of every tracked page on a fixed tick.
func (c *eventChannel) pollLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(eventPollTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.drainAll()
		}
	}
}

func (c *eventChannel) drainAll() {
	for _, page := range c.trackedPages() {
		c.drainPage(page)
	}
}

func (c *eventChannel) drainPage(page playwright.Page) {
	if page.IsClosed() {
		return
	}
	for _, frame := range page.Frames() {
		raw, err := evaluateWithTimeout(frame, drainScript, nil, probeTimeout)
		if err != nil {
			if !isTransient(err) {
				c.log.Debug("event drain failed",
					zap.String("frame_url", frame.URL()),
					zap.Error(err))
			}
			continue
		}
		list, ok := raw.([]interface{})
		if !ok {
			continue
		}
		for _, item := range list {
			event, err := decodeEvent(item)
			if err != nil {
				c.log.Debug("dropping undecodable polled event", zap.Error(err))
				continue
			}
			// Already shipped through the binding.
			if event.Delivered {
				continue
			}
			c.annotate(event, page)
			c.deliver(event)
		}
	}
}

func (c *eventChannel) annotate(event *Event, page playwright.Page) {
	event.page = page
	if page != nil && !page.IsClosed() {
		event.PageURL = page.URL()
	}
}

// deliver hands an event to the consumer without blocking. The final
// drain runs after done is closed, so delivery must not depend on it;
// only a full buffer can drop an event.
func (c *eventChannel) deliver(event *Event) {
	select {
	case c.events <- event:
	default:
		// A full buffer means the consumer is wedged; dropping the
		// oldest semantics would reorder, so drop the newest and say so.
		c.log.Warn("event buffer full, dropping event", zap.String("type", event.Type))
	}
}

// decodeEvent converts the loosely typed structure playwright hands
// back into an Event via a JSON round trip, which tolerates missing and
// extra fields the same way on both delivery paths.
func decodeEvent(raw interface{}) (*Event, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode event: %w", err)
	}
	var event Event
	if err := json.Unmarshal(buf, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event has no type")
	}
	return &event, nil
}
