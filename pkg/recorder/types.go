package recorder

import (
	"time"

	"github.com/playwright-community/playwright-go"
)

// Action identifies the kind of user interaction an operation records.
type Action string

const (
	ActionClick           Action = "click"
	ActionInput           Action = "input"
	ActionNavigation      Action = "navigation"
	ActionElementSelected Action = "element_selected"
)

// Operation is one persisted, timestamped user action with its locator
// and context. Operations are appended in strictly increasing step-ID
// order; input operations for the same selector may later be deleted by
// the coalescer, leaving a strictly increasing subsequence.
type Operation struct {
	StepID        int             `json:"step_id"`
	Timestamp     string          `json:"timestamp"`
	Action        Action          `json:"action"`
	Selector      string          `json:"selector"`
	InnerXPath    string          `json:"inner_xpath,omitempty"`
	ComposedXPath string          `json:"composed_xpath,omitempty"`
	Value         string          `json:"value"`
	TextContent   string          `json:"text_content"`
	Screenshot    *string         `json:"screenshot"`
	DOMContext    *DOMContext     `json:"dom_context"`
	ClickFrameURL string          `json:"click_frame_url,omitempty"`
	PageURL       string          `json:"page_url"`
	Viewport      Viewport        `json:"viewport"`
	Error         string          `json:"error,omitempty"`
	EventDump     string          `json:"event_dump,omitempty"`
}

// Viewport is the page viewport in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DOMContext is the normalized element context stored with an
// operation. It is taken from the event's eagerly captured snapshot
// when available, so a navigation between event and recording cannot
// point it at the wrong element.
type DOMContext struct {
	Selector       string           `json:"selector,omitempty"`
	RobustSelector string           `json:"robust_selector,omitempty"`
	Element        *ElementSnapshot `json:"element,omitempty"`
	Parent         *ParentSummary   `json:"parent,omitempty"`
	PageTitle      string           `json:"page_title,omitempty"`
	PageURL        string           `json:"page_url,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// ElementSnapshot captures an element's state at event time, before any
// navigation can destroy or re-target it.
type ElementSnapshot struct {
	TagName     string            `json:"tagName"`
	ID          string            `json:"id,omitempty"`
	ClassName   string            `json:"className,omitempty"`
	TextContent string            `json:"textContent,omitempty"`
	InnerHTML   string            `json:"innerHTML,omitempty"`
	OuterHTML   string            `json:"outerHTML,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Rect        *Rect             `json:"boundingRect,omitempty"`
	IsVisible   bool              `json:"isVisible"`
}

// Rect is an element bounding box in frame-local coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ParentSummary describes the parent element and its first children,
// enough for a human or an analysis pass to re-locate the target.
type ParentSummary struct {
	TagName   string         `json:"tagName"`
	ID        string         `json:"id,omitempty"`
	ClassName string         `json:"className,omitempty"`
	Children  []ChildSummary `json:"children,omitempty"`
}

// ChildSummary is a compact sibling descriptor inside a ParentSummary.
type ChildSummary struct {
	TagName     string `json:"tagName"`
	ID          string `json:"id,omitempty"`
	ClassName   string `json:"className,omitempty"`
	TextContent string `json:"textContent,omitempty"`
}

// FrameHop describes one ancestor frame on the path from the top
// document down to the frame that produced an event. XPathInParent is
// only available for same-origin parents.
type FrameHop struct {
	Index         *int   `json:"index"`
	Name          string `json:"name,omitempty"`
	Selector      string `json:"selector,omitempty"`
	XPathInParent string `json:"xpath_in_parent,omitempty"`
	Tag           string `json:"tag,omitempty"`
	FrameURL      string `json:"frame_url,omitempty"`
}

// FrameTrace is the ordered chain of iframe ancestors, top to leaf.
type FrameTrace struct {
	Chain           []FrameHop `json:"chain"`
	Depth           int        `json:"depth"`
	CurrentFrameURL string     `json:"current_frame_url,omitempty"`
}

// Event is the structured message shipped by the in-page
// instrumentation. Delivered marks events pushed through the binding
// channel so the poll-drain fallback does not process them twice.
type Event struct {
	Type        string           `json:"type"`
	Selector    string           `json:"selector,omitempty"`
	Robust      string           `json:"robust_selector,omitempty"`
	XPath       string           `json:"xpath,omitempty"`
	Value       string           `json:"value,omitempty"`
	TextContent string           `json:"text_content,omitempty"`
	TimestampMS float64          `json:"timestamp,omitempty"`
	X           float64          `json:"x,omitempty"`
	Y           float64          `json:"y,omitempty"`
	FrameURL    string           `json:"frame_url,omitempty"`
	FrameTrace  *FrameTrace      `json:"frame_trace,omitempty"`
	Snapshot    *DOMContext      `json:"element_snapshot,omitempty"`
	TagName     string           `json:"tagName,omitempty"`
	ID          string           `json:"id,omitempty"`
	ClassName   string           `json:"className,omitempty"`
	URL         string           `json:"url,omitempty"`
	Delivered   bool             `json:"__delivered,omitempty"`

	// Host-side annotations, never produced by the page. The
	// originating page travels with the event so screenshots land on
	// the right page when popups are open.
	PageURL string          `json:"page_url,omitempty"`
	page    playwright.Page `json:"-"`
}

// SelectedElement is the session's "expected return value" anchor,
// produced by element-selection mode.
type SelectedElement struct {
	Selector       string `json:"selector"`
	RobustSelector string `json:"robust_selector,omitempty"`
	ComposedXPath  string `json:"composed_xpath,omitempty"`
	TagName        string `json:"tag_name"`
	ID             string `json:"id,omitempty"`
	ClassName      string `json:"class_name,omitempty"`
	TextPreview    string `json:"text_preview,omitempty"`
	TimestampMS    float64 `json:"selection_timestamp,omitempty"`
}

// URLVisit is one entry in the ordered visit timeline kept by the HTML
// snapshot monitor.
type URLVisit struct {
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
	Title     string `json:"title"`
}

// HTMLCacheEntry is the monitor's latest capture for one URL.
type HTMLCacheEntry struct {
	HTML        string `json:"-"`
	LastUpdated string `json:"last_updated"`
	ContentHash string `json:"content_hash"`
	SizeKB      int    `json:"size_kb"`
}

// Bounded, local timeouts so a stalled or navigating frame cannot stall
// the session.
const (
	probeTimeout      = 500 * time.Millisecond
	highlightTimeout  = 1 * time.Second
	screenshotTimeout = 3 * time.Second
	pageReadyTimeout  = 8 * time.Second

	superviseTick   = 100 * time.Millisecond
	eventPollTick   = 500 * time.Millisecond
	monitorTick     = 1 * time.Second
	monitorSlowTick = 3 * time.Second

	// After this many unchanged samples the monitor backs off to the
	// slow tick; any change snaps it back.
	quiescenceThreshold = 10

	blankPage = "about:blank"
)

const (
	defaultViewportWidth  = 1920
	defaultViewportHeight = 1080
	defaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Persisted artifact names. Downstream consumers read these by name, so
// they are part of the session directory contract.
const (
	operationsFile     = "operations.json"
	metadataFile       = "metadata.json"
	authStateFile      = "auth_state.json"
	screenshotsDir     = "screenshots"
	htmlSnapshotsDir   = "html_snapshots"
	selectedElementPNG = "selected_element_highlight.png"
)
