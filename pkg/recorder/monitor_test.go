package recorder

import (
	"strings"
	"testing"

	"github.com/gobwas/glob"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

func newTestMonitor(t *testing.T, patterns ...string) *htmlMonitor {
	t.Helper()
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			t.Fatalf("compiling glob %q: %v", p, err)
		}
		globs = append(globs, g)
	}
	return newHTMLMonitor(zap.NewNop(), globs, func() playwright.Page { return nil })
}

func TestMonitorIgnoredURLs(t *testing.T) {
	m := newTestMonitor(t, "*://accounts.google.com/*", "*login*")

	tests := []struct {
		url  string
		want bool
	}{
		{"https://accounts.google.com/signin", true},
		{"https://example.com/login?next=/", true},
		{"https://example.com/shop", false},
	}
	for _, tt := range tests {
		if got := m.ignored(tt.url); got != tt.want {
			t.Errorf("ignored(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestMonitorBackoffThreshold(t *testing.T) {
	m := newTestMonitor(t)

	if m.backedOff() {
		t.Error("fresh monitor should not be backed off")
	}
	m.mu.Lock()
	m.unchanged = quiescenceThreshold
	m.mu.Unlock()
	if !m.backedOff() {
		t.Error("monitor at threshold should back off")
	}
}

func TestMonitorFinalizeCleansCache(t *testing.T) {
	m := newTestMonitor(t)
	m.cache["https://example.com/"] = HTMLCacheEntry{
		HTML:        `<html><head><script>spy()</script></head><body onload="x()"><div id="a">hi</div></body></html>`,
		LastUpdated: "2026-08-28T10:00:00Z",
		ContentHash: "rawhash",
	}
	m.timeline = []URLVisit{{URL: "https://example.com/", Timestamp: "2026-08-28T10:00:00Z", Title: "Home"}}

	cache, timeline := m.finalize(nil)

	entry, ok := cache["https://example.com/"]
	if !ok {
		t.Fatal("cache entry lost during finalize")
	}
	if strings.Contains(entry.HTML, "<script") || strings.Contains(entry.HTML, "onload") {
		t.Errorf("finalized snapshot not cleaned:\n%s", entry.HTML)
	}
	if !strings.Contains(entry.HTML, `<div id="a">hi</div>`) {
		t.Errorf("finalized snapshot lost content:\n%s", entry.HTML)
	}
	if entry.ContentHash == "rawhash" || entry.ContentHash == "" {
		t.Errorf("hash should be recomputed over cleaned content, got %q", entry.ContentHash)
	}
	if entry.LastUpdated != "2026-08-28T10:00:00Z" {
		t.Errorf("capture time should be preserved, got %q", entry.LastUpdated)
	}
	if len(timeline) != 1 || timeline[0].Title != "Home" {
		t.Errorf("timeline not preserved: %+v", timeline)
	}
}

func TestMonitorFinalizeIdempotentStop(t *testing.T) {
	m := newTestMonitor(t)
	m.start()
	m.stop()
	// finalize after stop must not panic or deadlock
	cache, timeline := m.finalize(nil)
	if len(cache) != 0 || len(timeline) != 0 {
		t.Errorf("expected empty results, got %d cache entries, %d visits", len(cache), len(timeline))
	}
	m.stop()
}
