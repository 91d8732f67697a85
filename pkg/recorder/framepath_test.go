package recorder

import (
	"testing"
)

func intPtr(v int) *int { return &v }

func TestComposeFramePathNoTrace(t *testing.T) {
	got := composeFramePath("https://example.com", nil, "//div[1]/button[2]")
	if got != "//div[1]/button[2]" {
		t.Errorf("expected bare xpath, got %q", got)
	}

	got = composeFramePath("https://example.com", &FrameTrace{}, "//button[1]")
	if got != "//button[1]" {
		t.Errorf("expected bare xpath for empty chain, got %q", got)
	}
}

func TestComposeFramePathSingleFrame(t *testing.T) {
	trace := &FrameTrace{
		Chain: []FrameHop{{
			XPathInParent: "//html[1]/body[1]/iframe[1]",
			FrameURL:      "https://widget.example.com/form",
		}},
		Depth: 1,
	}
	got := composeFramePath("https://example.com/page", trace, "//input[2]")
	want := "PAGE:https://example.com/page -> //html[1]/body[1]/iframe[1] -> URL:https://widget.example.com/form -> //input[2]"
	if got != want {
		t.Errorf("composed path mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestComposeFramePathNestedFrames(t *testing.T) {
	trace := &FrameTrace{
		Chain: []FrameHop{
			{XPathInParent: "//html[1]/body[1]/iframe[1]", FrameURL: "https://a.example.com"},
			{Selector: "iframe.inner", FrameURL: "https://b.example.com"},
		},
		Depth: 2,
	}
	got := composeFramePath("https://top.example.com", trace, "//button[1]")
	want := "PAGE:https://top.example.com -> //html[1]/body[1]/iframe[1] -> URL:https://a.example.com -> iframe.inner -> URL:https://b.example.com -> //button[1]"
	if got != want {
		t.Errorf("composed path mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestComposeFramePathCollapsesDuplicateURLs(t *testing.T) {
	trace := &FrameTrace{
		Chain: []FrameHop{{
			XPathInParent: "//iframe[1]",
			FrameURL:      "https://example.com/page",
		}},
		Depth: 1,
	}
	got := composeFramePath("https://example.com/page", trace, "//a[1]")
	want := "PAGE:https://example.com/page -> //iframe[1] -> //a[1]"
	if got != want {
		t.Errorf("expected duplicate URL collapsed:\n got %q\nwant %q", got, want)
	}
}

func TestHopLocator(t *testing.T) {
	tests := []struct {
		name string
		hop  FrameHop
		want string
	}{
		{
			name: "prefers xpath in parent",
			hop:  FrameHop{XPathInParent: "//body[1]/iframe[2]", Selector: "#frame", Index: intPtr(0)},
			want: "//body[1]/iframe[2]",
		},
		{
			name: "falls back to selector",
			hop:  FrameHop{Selector: "#checkout-frame", Index: intPtr(3)},
			want: "#checkout-frame",
		},
		{
			name: "positional fallback is one-based",
			hop:  FrameHop{Index: intPtr(2), Tag: "iframe"},
			want: "//iframe[3]",
		},
		{
			name: "no information at all",
			hop:  FrameHop{},
			want: "//iframe",
		},
		{
			name: "frameset frame keeps its tag",
			hop:  FrameHop{Index: intPtr(0), Tag: "frame"},
			want: "//frame[1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hopLocator(tt.hop); got != tt.want {
				t.Errorf("hopLocator() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShortestCandidate(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		want       string
		found      bool
	}{
		{
			name:       "single candidate",
			candidates: []string{"//html[1]/body[1]/iframe[1]"},
			want:       "//html[1]/body[1]/iframe[1]",
			found:      true,
		},
		{
			name:       "shortest wins",
			candidates: []string{"//html[1]/body[1]/div[3]/iframe[1]", "//iframe[1]"},
			want:       "//iframe[1]",
			found:      true,
		},
		{
			name:       "empty strings ignored",
			candidates: []string{"", "//iframe[2]"},
			want:       "//iframe[2]",
			found:      true,
		},
		{
			name:       "no candidates",
			candidates: nil,
			want:       "",
			found:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := shortestCandidate(tt.candidates)
			if got != tt.want || found != tt.found {
				t.Errorf("shortestCandidate() = (%q, %v), want (%q, %v)",
					got, found, tt.want, tt.found)
			}
		})
	}
}

func TestCorrectFrameTraceNilSafe(t *testing.T) {
	// Must not panic without a page or trace.
	correctFrameTrace(nil, nil)
	correctFrameTrace(nil, &FrameTrace{Chain: []FrameHop{{FrameURL: "https://x.test"}}})
}
