package recorder

import (
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// Highlight palette. Interaction highlights are red; the
// element-selection anchor gets green so the two artifact kinds are
// distinguishable at a glance.
const (
	interactionColor = "#ff3b30"
	selectionColor   = "#28a745"
)

// readyProbeScript checks the document answers at all. A page mid-
// navigation blocks evaluations; the bounded probe turns that into a
// skipped screenshot instead of a stalled session.
const readyProbeScript = `() => document.readyState`

// elementRectScript resolves the element (XPath first, CSS selector as
// fallback) and returns its viewport rect in the frame's own
// coordinates, or null. Both locators are parameters, never spliced
// into the script source.
const elementRectScript = `(args) => {
	let el = null;
	if (args.xpath) {
		try {
			el = document.evaluate(args.xpath, document, null,
				XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		} catch (e) {}
	}
	if (!el && args.selector) {
		try { el = document.querySelector(args.selector); } catch (e) {}
	}
	if (!el || !el.getBoundingClientRect) return null;
	const r = el.getBoundingClientRect();
	return { x: r.x, y: r.y, width: r.width, height: r.height };
}`

// overlayScript draws a fixed-position highlight box plus an info box
// in whichever screen corner does not cover the target.
const overlayScript = `(args) => {
	const prev = document.getElementById('webrec-highlight-box');
	if (prev) prev.remove();
	const prevInfo = document.getElementById('webrec-highlight-info');
	if (prevInfo) prevInfo.remove();

	const pad = 3;
	const box = document.createElement('div');
	box.id = 'webrec-highlight-box';
	box.style.cssText = 'position:fixed;z-index:2147483646;pointer-events:none;' +
		'border:3px solid ' + args.color + ';border-radius:3px;' +
		'box-shadow:0 0 0 2px rgba(0,0,0,0.25);' +
		'left:' + (args.x - pad) + 'px;top:' + (args.y - pad) + 'px;' +
		'width:' + (args.width + 2 * pad) + 'px;height:' + (args.height + 2 * pad) + 'px;';
	document.documentElement.appendChild(box);

	const info = document.createElement('div');
	info.id = 'webrec-highlight-info';
	info.textContent = args.label;
	const inTopHalf = args.y + args.height / 2 < window.innerHeight / 2;
	const inLeftHalf = args.x + args.width / 2 < window.innerWidth / 2;
	info.style.cssText = 'position:fixed;z-index:2147483647;pointer-events:none;' +
		'background:' + args.color + ';color:#fff;padding:6px 12px;' +
		'border-radius:4px;font:13px/1.4 monospace;max-width:45vw;' +
		'overflow:hidden;text-overflow:ellipsis;white-space:nowrap;' +
		(inTopHalf ? 'bottom:16px;' : 'top:16px;') +
		(inLeftHalf ? 'right:16px;' : 'left:16px;');
	document.documentElement.appendChild(info);
	return true;
}`

// cleanupScript removes injected highlight nodes. Safe to run twice and
// on documents that were never highlighted.
const cleanupScript = `() => {
	for (const id of ['webrec-highlight-box', 'webrec-highlight-info']) {
		const el = document.getElementById(id);
		if (el) el.remove();
	}
	return true;
}`

// highlighter produces the per-operation screenshots: locate the
// element, draw a highlight overlay on the top document (translating
// nested-frame coordinates through the iframe's own box), screenshot,
// then remove the overlay. Every step is bounded and best-effort; the
// worst outcome is an operation without a screenshot.
type highlighter struct {
	log   *zap.Logger
	store *sessionStore
}

func newHighlighter(log *zap.Logger, store *sessionStore) *highlighter {
	return &highlighter{log: log, store: store}
}

// captureStep takes the highlighted screenshot for one operation and
// returns the written path. An empty path with a nil error means the
// screenshot was skipped (page not ready).
func (h *highlighter) captureStep(page playwright.Page, event *Event, stepID int) (string, error) {
	return h.capture(page, event, h.store.screenshotPath(stepID), interactionColor)
}

// captureSelection takes the green-highlighted anchor screenshot for
// element-selection mode.
func (h *highlighter) captureSelection(page playwright.Page, event *Event) (string, error) {
	return h.capture(page, event, h.store.selectedElementPath(), selectionColor)
}

func (h *highlighter) capture(page playwright.Page, event *Event, path, color string) (string, error) {
	if page == nil || page.IsClosed() {
		return "", fmt.Errorf("page is not available")
	}
	if _, err := evaluateWithTimeout(page, readyProbeScript, nil, probeTimeout); err != nil {
		return "", fmt.Errorf("page not ready for screenshot: %w", err)
	}

	rect, rectErr := h.locate(page, event)
	if rectErr == nil && rect != nil {
		label := event.Selector
		if label == "" {
			label = event.XPath
		}
		args := map[string]interface{}{
			"x": rect.X, "y": rect.Y,
			"width": rect.Width, "height": rect.Height,
			"color": color, "label": label,
		}
		if _, err := evaluateWithTimeout(page, overlayScript, args, highlightTimeout); err != nil {
			h.log.Debug("highlight injection failed", zap.Error(err))
		}
	} else if rectErr != nil {
		// Degraded capture: screenshot without highlight.
		h.log.Debug("element not located for highlight",
			zap.String("selector", event.Selector), zap.Error(rectErr))
	}

	_, err := page.Screenshot(playwright.PageScreenshotOptions{
		Path:    playwright.String(path),
		Timeout: playwright.Float(float64(screenshotTimeout.Milliseconds())),
	})

	h.cleanup(page)

	if err != nil {
		return "", fmt.Errorf("screenshot failed: %w", err)
	}
	return path, nil
}

// locate resolves the event's element to top-document viewport
// coordinates. For nested frames the element rect is measured inside
// its own frame and offset by the iframe element's box in the top
// document.
func (h *highlighter) locate(page playwright.Page, event *Event) (*Rect, error) {
	if event.Selector == "" && event.XPath == "" {
		return nil, fmt.Errorf("event has no locator")
	}

	frame := h.resolveFrame(page, event)
	locator := map[string]interface{}{
		"xpath":    event.XPath,
		"selector": event.Selector,
	}
	raw, err := evaluateWithTimeout(frame, elementRectScript, locator, probeTimeout)
	if err != nil {
		return nil, fmt.Errorf("element probe failed: %w", err)
	}
	rect, ok := decodeRect(raw)
	if !ok {
		return nil, fmt.Errorf("element not found: %s", event.Selector)
	}

	if frame != page.MainFrame() {
		element, err := frame.FrameElement()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve frame element: %w", err)
		}
		box, err := element.BoundingBox()
		if err != nil || box == nil {
			return nil, fmt.Errorf("failed to measure frame element: %w", err)
		}
		rect.X += box.X
		rect.Y += box.Y
	}
	return rect, nil
}

// resolveFrame matches the event's frame URL against the page's live
// frames, falling back to the main frame.
func (h *highlighter) resolveFrame(page playwright.Page, event *Event) playwright.Frame {
	main := page.MainFrame()
	if event.FrameURL == "" || event.FrameTrace == nil || len(event.FrameTrace.Chain) == 0 {
		return main
	}
	for _, frame := range page.Frames() {
		if framesMatch(frame.URL(), event.FrameURL) && frame != main {
			return frame
		}
	}
	return main
}

func framesMatch(a, b string) bool {
	if a == b {
		return true
	}
	return a != "" && b != "" && (strings.HasPrefix(a, b) || strings.HasPrefix(b, a))
}

// cleanup removes highlight artifacts from the top document. Idempotent
// and tolerant of pages that navigated away mid-capture.
func (h *highlighter) cleanup(page playwright.Page) {
	if page == nil || page.IsClosed() {
		return
	}
	if _, err := evaluateWithTimeout(page, cleanupScript, nil, probeTimeout); err != nil && !isTransient(err) {
		h.log.Debug("highlight cleanup failed", zap.Error(err))
	}
}

func decodeRect(raw interface{}) (*Rect, bool) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, false
	}
	num := func(key string) float64 {
		if v, vok := m[key].(float64); vok {
			return v
		}
		if v, vok := m[key].(int); vok {
			return float64(v)
		}
		return 0
	}
	return &Rect{X: num("x"), Y: num("y"), Width: num("width"), Height: num("height")}, true
}
