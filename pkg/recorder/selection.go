package recorder

import (
	"fmt"

	"go.uber.org/zap"
)

const enableSelectionScript = `() => {
	if (typeof window.__webrecEnableSelection !== 'function') return false;
	window.__webrecEnableSelection();
	return true;
}`

// disableSelectionScript tears selection mode down. Run when selection
// fails so a blocking overlay never strands the user.
const disableSelectionScript = `() => {
	if (typeof window.__webrecDisableSelection === 'function') {
		window.__webrecDisableSelection();
	}
	return true;
}`

// EnableElementSelection arms element-selection mode on the active
// page. The in-page side propagates activation into nested frames. The
// user can also arm it directly with the in-page hotkey.
func (r *recorder) EnableElementSelection() error {
	page := r.primaryPage()
	if page == nil || page.IsClosed() {
		return fmt.Errorf("no active page for element selection")
	}
	raw, err := evaluateWithTimeout(page, enableSelectionScript, nil, highlightTimeout)
	if err != nil {
		return fmt.Errorf("failed to enable element selection: %w", err)
	}
	if armed, ok := raw.(bool); !ok || !armed {
		return fmt.Errorf("capture instrumentation not present on page")
	}
	r.log.Info("element selection mode enabled")
	return nil
}

// recordSelection handles the single element_selected event: green
// anchor screenshot, descriptive metadata, an operation in the log, and
// the interrupted mark that makes the controller terminate recording.
func (r *recorder) recordSelection(event *Event) {
	page := r.resolvePage(event)
	pageURL := event.PageURL
	if pageURL == "" && page != nil && !page.IsClosed() {
		pageURL = page.URL()
	}

	if page != nil {
		correctFrameTrace(page, event.FrameTrace)
	}
	composed := composeFramePath(pageURL, event.FrameTrace, event.XPath)

	var screenshot *string
	if page != nil {
		path, err := r.highlighter.captureSelection(page, event)
		if err != nil {
			r.log.Warn("selection screenshot failed", zap.Error(err))
			// The overlay must never outlive a failed capture.
			_, _ = evaluateWithTimeout(page, disableSelectionScript, nil, probeTimeout)
		} else {
			screenshot = &path
		}
	}

	selected := &SelectedElement{
		Selector:       event.Selector,
		RobustSelector: event.Robust,
		ComposedXPath:  composed,
		TagName:        event.TagName,
		ID:             event.ID,
		ClassName:      event.ClassName,
		TextPreview:    normalizeText(event.TextContent),
		TimestampMS:    event.TimestampMS,
	}

	op := &Operation{
		StepID:        r.oplog.nextStepID(),
		Timestamp:     nowStamp(),
		Action:        ActionElementSelected,
		Selector:      event.Selector,
		InnerXPath:    event.XPath,
		ComposedXPath: composed,
		TextContent:   normalizeText(event.TextContent),
		Screenshot:    screenshot,
		ClickFrameURL: event.FrameURL,
		PageURL:       pageURL,
		Viewport:      r.viewport,
	}
	r.oplog.append(op)

	r.mu.Lock()
	r.selected = selected
	r.interrupted = true
	notify := r.onInterrupt
	r.mu.Unlock()

	r.log.Info("element selected, interrupting session",
		zap.String("selector", selected.Selector),
		zap.String("composed_xpath", selected.ComposedXPath))

	if notify != nil {
		// Off the gate's goroutine so the controller can stop the
		// channel without deadlocking on in-flight event handling.
		go notify()
	}
}
