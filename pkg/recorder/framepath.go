package recorder

import (
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"
)

// composeFramePath renders a frame trace plus an element XPath into one
// diagnosable locator string:
//
//	PAGE:<url> -> <iframe-xpath-in-parent> -> URL:<frame-url> -> ... -> <inner xpath>
//
// With an empty trace the inner XPath is returned exactly as given.
// Adjacent PAGE/URL segments naming the same URL are collapsed, so a
// top-level page that equals the first frame's document URL appears
// once.
func composeFramePath(pageURL string, trace *FrameTrace, innerXPath string) string {
	if trace == nil || len(trace.Chain) == 0 {
		return innerXPath
	}

	segments := make([]string, 0, 2*len(trace.Chain)+2)
	segments = append(segments, "PAGE:"+pageURL)
	for _, hop := range trace.Chain {
		segments = append(segments, hopLocator(hop))
		if hop.FrameURL != "" {
			segments = append(segments, "URL:"+hop.FrameURL)
		}
	}
	segments = append(segments, innerXPath)

	return strings.Join(collapseDuplicateURLs(segments), " -> ")
}

// hopLocator picks the best available locator for one frame hop:
// the XPath of the iframe element in its parent document, then the
// selector hint, then a positional fallback.
func hopLocator(hop FrameHop) string {
	if hop.XPathInParent != "" {
		return hop.XPathInParent
	}
	if hop.Selector != "" {
		return hop.Selector
	}
	tag := hop.Tag
	if tag == "" {
		tag = "iframe"
	}
	if hop.Index != nil {
		return fmt.Sprintf("//%s[%d]", tag, *hop.Index+1)
	}
	return "//" + tag
}

// collapseDuplicateURLs drops a URL-bearing segment when the previous
// kept segment names the same URL. The in-page trace frequently repeats
// the top document URL as the first frame's parent.
func collapseDuplicateURLs(segments []string) []string {
	out := segments[:0:0]
	for _, seg := range segments {
		if url, ok := segmentURL(seg); ok && len(out) > 0 {
			if prev, prevOK := segmentURL(out[len(out)-1]); prevOK && prev == url {
				continue
			}
		}
		out = append(out, seg)
	}
	return out
}

func segmentURL(seg string) (string, bool) {
	if u, ok := strings.CutPrefix(seg, "PAGE:"); ok {
		return u, true
	}
	if u, ok := strings.CutPrefix(seg, "URL:"); ok {
		return u, true
	}
	return "", false
}

// iframeXPathScript lists the absolute XPath of every iframe/frame
// element in the document whose src matches the target URL. The URL is
// passed as an Evaluate parameter, never spliced into the source.
const iframeXPathScript = `(targetURL) => {
	const absXPath = (el) => {
		const segs = [];
		let cur = el, depth = 0;
		while (cur && cur.nodeType === 1 && depth < 25) {
			let ix = 1, sib = cur;
			while ((sib = sib.previousElementSibling)) {
				if (sib.tagName === cur.tagName) ix++;
			}
			segs.unshift(cur.tagName.toLowerCase() + '[' + ix + ']');
			cur = cur.parentElement;
			depth++;
		}
		return '//' + segs.join('/');
	};
	const matches = (src) => {
		if (!src || !targetURL) return false;
		if (src === targetURL) return true;
		return targetURL.startsWith(src) || src.startsWith(targetURL);
	};
	const out = [];
	for (const f of document.querySelectorAll('iframe,frame')) {
		const src = f.src || f.getAttribute('src') || '';
		if (matches(src)) out.push(absXPath(f));
	}
	return out;
}`

// shortestCandidate picks the shortest path when several iframes share
// the target URL. This is a tie-break heuristic, not a proof of
// identity.
func shortestCandidate(candidates []string) (string, bool) {
	best := ""
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if best == "" || len(c) < len(best) {
			best = c
		}
	}
	return best, best != ""
}

// correctFrameTrace recomputes the top-document hop of a frame trace
// from the live DOM. The in-page frame index is a guess (window.frames
// order is not guaranteed to match DOM order), so the host re-derives
// the iframe XPath by matching the frame's URL against the top
// document's iframe elements. Failures leave the trace unchanged.
func correctFrameTrace(page playwright.Page, trace *FrameTrace) {
	if page == nil || trace == nil || len(trace.Chain) == 0 {
		return
	}
	hop := &trace.Chain[0]
	if hop.FrameURL == "" {
		return
	}

	raw, err := evaluateWithTimeout(page, iframeXPathScript, hop.FrameURL, probeTimeout)
	if err != nil {
		return
	}
	list, ok := raw.([]interface{})
	if !ok {
		return
	}
	candidates := make([]string, 0, len(list))
	for _, v := range list {
		if s, sok := v.(string); sok {
			candidates = append(candidates, s)
		}
	}
	if best, found := shortestCandidate(candidates); found {
		hop.XPathInParent = best
	}
}
