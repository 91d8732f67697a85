package recorder

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRecorder(t *testing.T) *recorder {
	t.Helper()
	store := newTestStore(t)
	channel := newEventChannel(zap.NewNop())
	return newRecorder(zap.NewNop(), store, channel, Viewport{Width: 1280, Height: 720})
}

func TestRecordActionAssignsIncreasingStepIDs(t *testing.T) {
	r := newTestRecorder(t)

	first := r.RecordAction(ActionClick, "#buy", "", "https://example.com")
	second := r.RecordAction(ActionInput, "#email", "user@example.com", "https://example.com")

	if first.StepID != 1 || second.StepID != 2 {
		t.Errorf("expected step IDs 1, 2; got %d, %d", first.StepID, second.StepID)
	}
	if second.Value != "user@example.com" || second.Viewport.Width != 1280 {
		t.Errorf("synthetic operation fields wrong: %+v", second)
	}
	if len(r.oplog.snapshot()) != 2 {
		t.Errorf("expected 2 operations in log")
	}
}

func TestHandleClickEventWithoutPage(t *testing.T) {
	r := newTestRecorder(t)

	r.handleEvent(&Event{
		Type:        "click",
		Selector:    "#buy",
		XPath:       "//html[1]/body[1]/button[1]",
		TextContent: "  Buy \t now  ",
		FrameURL:    "https://example.com/shop",
		PageURL:     "https://example.com/shop",
		Snapshot: &DOMContext{
			Selector:  "#buy",
			PageTitle: "Shop",
			Element: &ElementSnapshot{
				TagName:     "BUTTON",
				TextContent: "  Buy \t now  ",
				IsVisible:   true,
			},
		},
	})

	ops := r.oplog.snapshot()
	if len(ops) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(ops))
	}
	op := ops[0]
	if op.Action != ActionClick || op.Selector != "#buy" {
		t.Errorf("wrong operation: %+v", op)
	}
	if op.TextContent != "Buy now" {
		t.Errorf("text not normalized: %q", op.TextContent)
	}
	if op.ComposedXPath != "//html[1]/body[1]/button[1]" {
		t.Errorf("top-level event should compose to the bare xpath, got %q", op.ComposedXPath)
	}
	if op.DOMContext == nil || op.DOMContext.Element == nil {
		t.Fatal("dom context lost")
	}
	if op.DOMContext.Element.TextContent != "Buy now" {
		t.Errorf("snapshot text not normalized: %q", op.DOMContext.Element.TextContent)
	}
	if op.Screenshot != nil {
		t.Error("no page available, screenshot must be nil")
	}
}

func TestHandleClickEventComposesFramePath(t *testing.T) {
	r := newTestRecorder(t)

	r.handleEvent(&Event{
		Type:     "click",
		Selector: "#pay",
		XPath:    "//html[1]/body[1]/button[1]",
		PageURL:  "https://shop.example.com/checkout",
		FrameURL: "https://pay.example.com/form",
		FrameTrace: &FrameTrace{
			Chain: []FrameHop{{
				XPathInParent: "//html[1]/body[1]/iframe[1]",
				FrameURL:      "https://pay.example.com/form",
			}},
			Depth: 1,
		},
	})

	ops := r.oplog.snapshot()
	if len(ops) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(ops))
	}
	want := "PAGE:https://shop.example.com/checkout -> //html[1]/body[1]/iframe[1] -> URL:https://pay.example.com/form -> //html[1]/body[1]/button[1]"
	if ops[0].ComposedXPath != want {
		t.Errorf("composed path mismatch:\n got %q\nwant %q", ops[0].ComposedXPath, want)
	}
	if ops[0].ClickFrameURL != "https://pay.example.com/form" {
		t.Errorf("click frame URL lost: %q", ops[0].ClickFrameURL)
	}
}

func TestInputEventsCoalesce(t *testing.T) {
	r := newTestRecorder(t)

	for _, value := range []string{"u", "us", "user@example.com"} {
		r.handleEvent(&Event{
			Type:     "input",
			Selector: "#email",
			Value:    value,
			FrameURL: "https://example.com",
			PageURL:  "https://example.com",
		})
	}

	ops := r.oplog.snapshot()
	if len(ops) != 1 {
		t.Fatalf("expected coalescing to leave 1 operation, got %d", len(ops))
	}
	if ops[0].Value != "user@example.com" {
		t.Errorf("expected final value to survive, got %q", ops[0].Value)
	}
	if ops[0].StepID != 3 {
		t.Errorf("surviving operation should be the latest (step 3), got %d", ops[0].StepID)
	}
}

func TestNavigationResetsInputCoalescing(t *testing.T) {
	r := newTestRecorder(t)
	page := "https://example.com/search"

	// The navigation event carries the unloading document's URL.
	r.handleEvent(&Event{Type: "input", Selector: "#q", Value: "shoes", FrameURL: page, PageURL: page})
	r.handleEvent(&Event{Type: "navigation_intercepted", URL: page})
	r.handleEvent(&Event{Type: "input", Selector: "#q", Value: "boots", FrameURL: page, PageURL: page})

	ops := r.oplog.snapshot()
	if len(ops) != 3 {
		t.Fatalf("post-navigation input must not supersede pre-navigation input; got %d operations", len(ops))
	}
	if ops[1].Action != ActionNavigation || ops[1].Value != page {
		t.Errorf("navigation operation wrong: %+v", ops[1])
	}
}

func TestIframeNavigationKeepsTopDocumentCoalescing(t *testing.T) {
	r := newTestRecorder(t)
	top := "https://example.com/checkout"
	ad := "https://ads.example.net/slot"

	// An iframe rotating to a new document must not split a typing
	// burst in the top document.
	r.handleEvent(&Event{Type: "input", Selector: "#card", Value: "4", FrameURL: top, PageURL: top})
	r.handleEvent(&Event{Type: "navigation_intercepted", URL: ad})
	r.handleEvent(&Event{Type: "input", Selector: "#card", Value: "42", FrameURL: top, PageURL: top})

	var inputs []*Operation
	for _, op := range r.oplog.snapshot() {
		if op.Action == ActionInput {
			inputs = append(inputs, op)
		}
	}
	if len(inputs) != 1 {
		t.Fatalf("expected top-document inputs to keep coalescing, got %d input operations", len(inputs))
	}
	if inputs[0].Value != "42" {
		t.Errorf("expected final value to survive, got %q", inputs[0].Value)
	}
}

func TestNavigationWithoutFrameURLResetsEverything(t *testing.T) {
	r := newTestRecorder(t)
	top := "https://example.com/form"

	r.handleEvent(&Event{Type: "input", Selector: "#name", Value: "a", FrameURL: top, PageURL: top})
	r.handleEvent(&Event{Type: "navigation_intercepted", PageURL: top})
	r.handleEvent(&Event{Type: "input", Selector: "#name", Value: "b", FrameURL: top, PageURL: top})

	ops := r.oplog.snapshot()
	if len(ops) != 3 {
		t.Fatalf("a navigation that does not name its frame must clear all records; got %d operations", len(ops))
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	r := newTestRecorder(t)
	r.handleEvent(&Event{Type: "mystery"})
	if len(r.oplog.snapshot()) != 0 {
		t.Error("unknown event types must not create operations")
	}
}

func TestDomContextWithoutSnapshot(t *testing.T) {
	r := newTestRecorder(t)

	ctx := r.domContext(&Event{Type: "click", Selector: "#a"})
	if ctx == nil || ctx.Error == "" {
		t.Errorf("missing snapshot should yield a context with an error note, got %+v", ctx)
	}

	if got := r.domContext(&Event{Type: "click"}); got != nil {
		t.Errorf("no selector and no snapshot should yield nil, got %+v", got)
	}
}

func TestElementSelectionInterruptsSession(t *testing.T) {
	r := newTestRecorder(t)
	interrupted := make(chan struct{})
	r.setOnInterrupt(func() { close(interrupted) })

	r.handleEvent(&Event{
		Type:        "element_selected",
		Selector:    "#total",
		XPath:       "//html[1]/body[1]/div[2]/span[1]",
		TagName:     "span",
		TextContent: " $42.00 ",
		PageURL:     "https://example.com/cart",
	})

	select {
	case <-interrupted:
	case <-time.After(time.Second):
		t.Fatal("interrupt callback never fired")
	}

	if !r.isInterrupted() {
		t.Error("session should be marked interrupted")
	}
	selected := r.selectedElement()
	if selected == nil {
		t.Fatal("selected element not stored")
	}
	if selected.Selector != "#total" || selected.TagName != "span" {
		t.Errorf("selected element fields wrong: %+v", selected)
	}
	if selected.TextPreview != "$42.00" {
		t.Errorf("text preview not normalized: %q", selected.TextPreview)
	}
	if selected.ComposedXPath == "" {
		t.Error("selected element must carry a composed locator")
	}

	ops := r.oplog.snapshot()
	if len(ops) != 1 || ops[0].Action != ActionElementSelected {
		t.Errorf("selection should append one element_selected operation: %+v", ops)
	}
}
