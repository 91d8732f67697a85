package recorder

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// recorder consumes instrumentation events and turns each one into a
// persisted Operation. All event processing runs behind a single
// serialization gate; the gate, not raw event arrival across frames and
// pages, is the ordering authority for the log.
type recorder struct {
	log         *zap.Logger
	store       *sessionStore
	oplog       *operationLog
	coalescer   *inputCoalescer
	highlighter *highlighter
	channel     *eventChannel
	viewport    Viewport

	// gate serializes event handling end to end, screenshot included.
	gate sync.Mutex

	mu          sync.Mutex
	primary     playwright.Page
	selected    *SelectedElement
	interrupted bool
	onInterrupt func()

	wg sync.WaitGroup
}

func newRecorder(log *zap.Logger, store *sessionStore, channel *eventChannel, viewport Viewport) *recorder {
	return &recorder{
		log:         log,
		store:       store,
		oplog:       newOperationLog(),
		coalescer:   newInputCoalescer(),
		highlighter: newHighlighter(log, store),
		channel:     channel,
		viewport:    viewport,
	}
}

// setPrimary updates the fallback page used when an event cannot be
// matched to an open page.
func (r *recorder) setPrimary(page playwright.Page) {
	r.mu.Lock()
	r.primary = page
	r.mu.Unlock()
}

func (r *recorder) primaryPage() playwright.Page {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.primary
}

// setOnInterrupt registers the controller callback fired when element
// selection completes.
func (r *recorder) setOnInterrupt(fn func()) {
	r.mu.Lock()
	r.onInterrupt = fn
	r.mu.Unlock()
}

func (r *recorder) isInterrupted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interrupted
}

func (r *recorder) selectedElement() *SelectedElement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// run consumes the event stream until the channel closes.
func (r *recorder) run() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for event := range r.channel.events {
			r.handleEvent(event)
		}
	}()
}

// wait blocks until the event stream is fully drained. Call after the
// channel is stopped.
func (r *recorder) wait() {
	r.wg.Wait()
}

func (r *recorder) handleEvent(event *Event) {
	r.gate.Lock()
	defer r.gate.Unlock()

	switch event.Type {
	case "click":
		r.recordInteraction(ActionClick, event)
	case "input":
		r.recordInteraction(ActionInput, event)
	case "navigation_intercepted":
		r.recordNavigation(event)
	case "element_selected":
		r.recordSelection(event)
	case "element_selection_mode_start":
		r.log.Info("element selection mode armed")
	default:
		r.log.Debug("ignoring unknown event type", zap.String("type", event.Type))
	}
}

// recordInteraction is the main capture path. Every internal failure
// still yields a fallback operation carrying the error, so the log is
// never silently short.
func (r *recorder) recordInteraction(action Action, event *Event) {
	stepID := r.oplog.nextStepID()

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("recovered while recording operation",
				zap.Int("step_id", stepID), zap.Any("panic", rec))
			r.appendFallback(stepID, action, event, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	page := r.resolvePage(event)
	pageURL := event.PageURL
	if pageURL == "" && page != nil && !page.IsClosed() {
		pageURL = page.URL()
	}

	// The in-page frame index is a guess; re-derive the first hop's
	// XPath from the live top document before composing the locator.
	if page != nil {
		correctFrameTrace(page, event.FrameTrace)
	}
	composed := composeFramePath(pageURL, event.FrameTrace, event.XPath)

	var screenshot *string
	var captureErr string
	if page != nil {
		path, err := r.highlighter.captureStep(page, event, stepID)
		if err != nil {
			captureErr = err.Error()
			r.log.Debug("screenshot skipped",
				zap.Int("step_id", stepID), zap.Error(err))
		} else if path != "" {
			screenshot = &path
		}
	}

	op := &Operation{
		StepID:        stepID,
		Timestamp:     nowStamp(),
		Action:        action,
		Selector:      event.Selector,
		InnerXPath:    event.XPath,
		ComposedXPath: composed,
		Value:         event.Value,
		TextContent:   normalizeText(event.TextContent),
		Screenshot:    screenshot,
		DOMContext:    r.domContext(event),
		ClickFrameURL: event.FrameURL,
		PageURL:       pageURL,
		Viewport:      r.viewport,
		Error:         captureErr,
	}
	r.oplog.append(op)

	if action == ActionInput {
		r.coalesceInput(event, op)
	}

	r.log.Info("recorded operation",
		zap.Int("step_id", stepID),
		zap.String("action", string(action)),
		zap.String("selector", event.Selector))
}

// coalesceInput applies replace-on-write: a newer input to the same
// element discards the superseded operation and its screenshot.
func (r *recorder) coalesceInput(event *Event, op *Operation) {
	shot := ""
	if op.Screenshot != nil {
		shot = *op.Screenshot
	}
	prev, ok := r.coalescer.observe(event.Selector, event.FrameURL, op.StepID, shot)
	if !ok {
		return
	}
	if r.oplog.remove(prev.StepID) {
		r.store.removeScreenshot(prev.Screenshot)
		r.log.Debug("superseded input operation removed",
			zap.Int("step_id", prev.StepID),
			zap.String("selector", event.Selector))
	}
}

func (r *recorder) recordNavigation(event *Event) {
	// The unloading document's inputs lose their identity; inputs in
	// frames that stay loaded keep coalescing.
	r.coalescer.resetFrame(event.URL)

	pageURL := event.URL
	if pageURL == "" {
		pageURL = event.PageURL
	}
	op := &Operation{
		StepID:    r.oplog.nextStepID(),
		Timestamp: nowStamp(),
		Action:    ActionNavigation,
		Value:     pageURL,
		PageURL:   pageURL,
		Viewport:  r.viewport,
	}
	r.oplog.append(op)
	r.log.Info("recorded navigation", zap.Int("step_id", op.StepID), zap.String("url", pageURL))
}

// appendFallback writes the minimal operation used when the capture
// path fails outright. The raw event travels along for diagnosis.
func (r *recorder) appendFallback(stepID int, action Action, event *Event, errMsg string) {
	dump := ""
	if buf, err := json.Marshal(event); err == nil {
		dump = string(buf)
	}
	r.oplog.append(&Operation{
		StepID:    stepID,
		Timestamp: nowStamp(),
		Action:    action,
		Selector:  event.Selector,
		Value:     event.Value,
		PageURL:   event.PageURL,
		Viewport:  r.viewport,
		Error:     errMsg,
		EventDump: dump,
	})
}

// domContext prefers the event's eagerly captured snapshot over a live
// DOM re-query; after a navigation a re-query can match the wrong
// element. Text fields are normalized on the way in.
func (r *recorder) domContext(event *Event) *DOMContext {
	if event.Snapshot == nil {
		if event.Selector == "" {
			return nil
		}
		return &DOMContext{
			Selector: event.Selector,
			Error:    "no snapshot captured at event time",
		}
	}
	ctx := *event.Snapshot
	if ctx.Element != nil {
		element := *ctx.Element
		element.TextContent = normalizeText(element.TextContent)
		ctx.Element = &element
	}
	if ctx.Parent != nil {
		parent := *ctx.Parent
		children := make([]ChildSummary, len(parent.Children))
		for i, child := range parent.Children {
			child.TextContent = normalizeText(child.TextContent)
			children[i] = child
		}
		parent.Children = children
		ctx.Parent = &parent
	}
	return &ctx
}

// resolvePage matches the event's carried page, then its URL against
// open pages, then the primary page.
func (r *recorder) resolvePage(event *Event) playwright.Page {
	if event.page != nil && !event.page.IsClosed() {
		return event.page
	}
	if event.PageURL != "" {
		for _, page := range r.channel.trackedPages() {
			if !page.IsClosed() && framesMatch(page.URL(), event.PageURL) {
				return page
			}
		}
	}
	primary := r.primaryPage()
	if primary != nil && !primary.IsClosed() {
		return primary
	}
	return nil
}

// RecordAction injects a synthetic operation without a live browser
// event, for external replay and testing harnesses. It passes through
// the same serialization gate as real events.
func (r *recorder) RecordAction(action Action, selector, value, pageURL string) *Operation {
	r.gate.Lock()
	defer r.gate.Unlock()

	op := &Operation{
		StepID:    r.oplog.nextStepID(),
		Timestamp: nowStamp(),
		Action:    action,
		Selector:  selector,
		Value:     value,
		PageURL:   pageURL,
		Viewport:  r.viewport,
	}
	r.oplog.append(op)
	return op
}
