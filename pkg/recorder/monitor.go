package recorder

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const htmlCaptureScript = `() => ({
	html: document.documentElement ? document.documentElement.outerHTML : '',
	title: document.title || ''
})`

// nowStamp is the single timestamp format used across artifacts.
func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// htmlMonitor samples the active page's document in the background and
// keeps the latest HTML per URL plus an ordered visit timeline. The
// tick adapts: after enough consecutive unchanged samples it backs off
// to the slow interval, and any change snaps it back.
type htmlMonitor struct {
	log    *zap.Logger
	ignore []glob.Glob
	pageFn func() playwright.Page

	mu       sync.Mutex
	cache    map[string]HTMLCacheEntry
	timeline []URLVisit

	lastURL   string
	lastHash  string
	lastTitle string
	unchanged int

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func newHTMLMonitor(log *zap.Logger, ignore []glob.Glob, pageFn func() playwright.Page) *htmlMonitor {
	return &htmlMonitor{
		log:    log,
		ignore: ignore,
		pageFn: pageFn,
		cache:  make(map[string]HTMLCacheEntry),
		done:   make(chan struct{}),
	}
}

func (m *htmlMonitor) start() {
	m.wg.Add(1)
	go m.loop()
}

func (m *htmlMonitor) stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func (m *htmlMonitor) loop() {
	defer m.wg.Done()
	interval := monitorTick
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-timer.C:
			if m.sample() {
				interval = monitorTick
			} else if m.backedOff() {
				interval = monitorSlowTick
			}
			timer.Reset(interval)
		}
	}
}

func (m *htmlMonitor) backedOff() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unchanged >= quiescenceThreshold
}

// sample reads the active page once and reports whether anything
// changed. Browser errors here are routine (mid-navigation) and only
// logged when they are not.
func (m *htmlMonitor) sample() bool {
	page := m.pageFn()
	if page == nil || page.IsClosed() {
		return false
	}
	pageURL := page.URL()
	if pageURL == "" || pageURL == blankPage || m.ignored(pageURL) {
		return false
	}

	raw, err := evaluateWithTimeout(page, htmlCaptureScript, nil, highlightTimeout)
	if err != nil {
		if !isTransient(err) {
			m.log.Debug("html sample failed", zap.String("url", pageURL), zap.Error(err))
		}
		return false
	}
	data, ok := raw.(map[string]interface{})
	if !ok {
		return false
	}
	html, _ := data["html"].(string)
	title, _ := data["title"].(string)
	if html == "" {
		return false
	}

	sum := md5.Sum([]byte(html))
	hash := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()

	if title != "" {
		m.lastTitle = title
	}

	changed := pageURL != m.lastURL || hash != m.lastHash
	if !changed {
		m.unchanged++
		// Keep the counter bounded; a change must win back the fast
		// tick for more than one interval.
		if m.unchanged > quiescenceThreshold {
			m.unchanged = quiescenceThreshold
		}
		return false
	}

	m.cache[pageURL] = HTMLCacheEntry{
		HTML:        html,
		LastUpdated: nowStamp(),
		ContentHash: hash,
		SizeKB:      len(html) / 1024,
	}
	if pageURL != m.lastURL {
		m.timeline = append(m.timeline, URLVisit{
			URL:       pageURL,
			Timestamp: nowStamp(),
			Title:     title,
		})
	}
	m.lastURL = pageURL
	m.lastHash = hash
	m.unchanged = 0
	return true
}

// pageTitle returns the most recently observed document title.
func (m *htmlMonitor) pageTitle() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTitle
}

func (m *htmlMonitor) ignored(pageURL string) bool {
	for _, g := range m.ignore {
		if g.Match(pageURL) {
			return true
		}
	}
	return false
}

// finalize stops sampling, takes a last capture of the live page and
// each of its frames, cleans every cached document, and inlines frame
// content into the final page's snapshot. Returns the cleaned cache and
// the visit timeline, ready for persistence.
func (m *htmlMonitor) finalize(page playwright.Page) (map[string]HTMLCacheEntry, []URLVisit) {
	m.stop()
	m.sampleFinal(page)
	frameDocs := m.collectFrames(page)

	m.mu.Lock()
	defer m.mu.Unlock()

	finalURL := ""
	if page != nil && !page.IsClosed() {
		finalURL = page.URL()
	}

	out := make(map[string]HTMLCacheEntry, len(m.cache))
	for pageURL, entry := range m.cache {
		cleaned, err := cleanDocument(entry.HTML)
		if err != nil {
			m.log.Warn("failed to clean snapshot, keeping raw",
				zap.String("url", pageURL), zap.Error(err))
			cleaned = entry.HTML
		}
		if pageURL == finalURL && len(frameDocs) > 0 {
			inlined, err := inlineIframes(cleaned, frameDocs)
			if err != nil {
				m.log.Warn("failed to inline frames", zap.Error(err))
			} else {
				cleaned = inlined
			}
		}
		sum := md5.Sum([]byte(cleaned))
		out[pageURL] = HTMLCacheEntry{
			HTML:        cleaned,
			LastUpdated: entry.LastUpdated,
			ContentHash: hex.EncodeToString(sum[:]),
			SizeKB:      len(cleaned) / 1024,
		}
	}

	timeline := make([]URLVisit, len(m.timeline))
	copy(timeline, m.timeline)
	return out, timeline
}

// sampleFinal forces one last capture of the top document so a page
// reached just before stop is not missing from the cache.
func (m *htmlMonitor) sampleFinal(page playwright.Page) {
	if page == nil || page.IsClosed() {
		return
	}
	m.sample()
}

// collectFrames captures and cleans the current document of every child
// frame, keyed by frame URL, for inlining. Best-effort per frame.
func (m *htmlMonitor) collectFrames(page playwright.Page) map[string]string {
	if page == nil || page.IsClosed() {
		return nil
	}
	docs := make(map[string]string)
	main := page.MainFrame()
	for _, frame := range page.Frames() {
		if frame == main {
			continue
		}
		frameURL := frame.URL()
		if frameURL == "" || frameURL == blankPage {
			continue
		}
		raw, err := evaluateWithTimeout(frame, htmlCaptureScript, nil, highlightTimeout)
		if err != nil {
			continue
		}
		data, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		html, _ := data["html"].(string)
		if html == "" {
			continue
		}
		cleaned, err := cleanDocument(html)
		if err != nil {
			cleaned = html
		}
		docs[frameURL] = cleaned
	}
	return docs
}
