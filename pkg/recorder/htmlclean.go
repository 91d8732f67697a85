package recorder

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// cleanDocument strips a captured document down to what locator
// debugging needs: scripts, styles, comments, inline event handlers and
// presentational attributes are removed; structure, text and the
// selector-bearing attributes (id, class, name, type, ...) survive.
func cleanDocument(rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	cleanTree(doc)

	var builder strings.Builder
	if err := html.Render(&builder, doc); err != nil {
		return "", fmt.Errorf("failed to render HTML: %w", err)
	}
	return builder.String(), nil
}

// cleanTree removes unwanted nodes and attributes in place.
func cleanTree(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if shouldDropNode(c) {
			n.RemoveChild(c)
			continue
		}
		cleanTree(c)
	}

	if n.Type == html.ElementNode {
		kept := n.Attr[:0]
		for _, attr := range n.Attr {
			if keepSnapshotAttribute(attr.Key) {
				kept = append(kept, attr)
			}
		}
		n.Attr = kept
	}
}

func shouldDropNode(n *html.Node) bool {
	if n.Type == html.CommentNode {
		return true
	}
	if n.Type != html.ElementNode {
		return false
	}
	switch strings.ToLower(n.Data) {
	case "script", "style", "noscript":
		return true
	}
	return false
}

// keepSnapshotAttribute keeps attributes that identify or describe an
// element and drops behavior and presentation.
func keepSnapshotAttribute(name string) bool {
	name = strings.ToLower(name)
	if strings.HasPrefix(name, "on") {
		return false
	}
	switch name {
	case "style", "width", "height", "border", "cellpadding", "cellspacing",
		"bgcolor", "background", "color", "face", "size":
		return false
	}
	return true
}

// inlineIframes replaces each iframe's external-source reference in the
// cleaned top document with the frame's own captured, cleaned HTML,
// embedded as the iframe's content. frameDocs maps frame URL to cleaned
// HTML; a frame with no capture keeps its src untouched.
func inlineIframes(topHTML string, frameDocs map[string]string) (string, error) {
	if len(frameDocs) == 0 {
		return topHTML, nil
	}

	doc, err := html.Parse(strings.NewReader(topHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse top document: %w", err)
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			tag := strings.ToLower(n.Data)
			if tag == "iframe" || tag == "frame" {
				inlineOneFrame(n, frameDocs)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var builder strings.Builder
	if err := html.Render(&builder, doc); err != nil {
		return "", fmt.Errorf("failed to render inlined document: %w", err)
	}
	return builder.String(), nil
}

func inlineOneFrame(n *html.Node, frameDocs map[string]string) {
	src := ""
	for _, attr := range n.Attr {
		if strings.ToLower(attr.Key) == "src" {
			src = attr.Val
			break
		}
	}
	content, ok := matchFrameDoc(src, frameDocs)
	if !ok {
		return
	}

	frameDoc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return
	}
	root := findElement(frameDoc, "html")
	if root == nil {
		return
	}
	if root.Parent != nil {
		root.Parent.RemoveChild(root)
	}

	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
	kept := n.Attr[:0]
	for _, attr := range n.Attr {
		if strings.ToLower(attr.Key) == "src" {
			kept = append(kept, html.Attribute{Key: "data-inlined-src", Val: attr.Val})
			continue
		}
		kept = append(kept, attr)
	}
	n.Attr = kept
	n.AppendChild(root)
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, tag) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// matchFrameDoc resolves a frame src against captured frame URLs,
// tolerating relative src values by suffix/prefix comparison.
func matchFrameDoc(src string, frameDocs map[string]string) (string, bool) {
	if src == "" {
		return "", false
	}
	if doc, ok := frameDocs[src]; ok {
		return doc, true
	}
	for url, doc := range frameDocs {
		if strings.HasSuffix(url, src) || strings.HasPrefix(url, src) || strings.HasPrefix(src, url) {
			return doc, true
		}
	}
	return "", false
}
