package recorder

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// operationLog is the in-memory operation sequence. Step IDs are
// assigned in strictly increasing order at emission time; the coalescer
// may later delete superseded input operations, leaving a strictly
// increasing subsequence.
type operationLog struct {
	mu       sync.Mutex
	ops      []*Operation
	nextStep int
}

func newOperationLog() *operationLog {
	return &operationLog{nextStep: 1}
}

// nextStepID hands out the next step ID.
func (l *operationLog) nextStepID() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextStep
	l.nextStep++
	return id
}

func (l *operationLog) append(op *Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

// remove deletes the operation with the given step ID and reports
// whether it was present.
func (l *operationLog) remove(stepID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, op := range l.ops {
		if op.StepID == stepID {
			l.ops = append(l.ops[:i], l.ops[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns a copy of the current sequence.
func (l *operationLog) snapshot() []*Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Operation, len(l.ops))
	copy(out, l.ops)
	return out
}

// Statistics summarizes a finished session for metadata.json.
// PagesVisited comes from the monitor's visit timeline, not the log.
type Statistics struct {
	TotalOperations int `json:"total_operations"`
	Clicks          int `json:"clicks"`
	Inputs          int `json:"inputs"`
	Navigations     int `json:"navigations"`
	Screenshots     int `json:"screenshots"`
	PagesVisited    int `json:"pages_visited"`
}

func (l *operationLog) statistics() Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := Statistics{TotalOperations: len(l.ops)}
	for _, op := range l.ops {
		switch op.Action {
		case ActionClick:
			stats.Clicks++
		case ActionInput:
			stats.Inputs++
		case ActionNavigation:
			stats.Navigations++
		}
		if op.Screenshot != nil {
			stats.Screenshots++
		}
	}
	return stats
}

// SessionMetadata is the metadata.json document. Analysis is a
// placeholder claimed by downstream consumers; a fresh session writes
// it with analyzed set to false.
type SessionMetadata struct {
	SessionID              string           `json:"session_id"`
	URL                    string           `json:"url"`
	PageTitle              string           `json:"page_title"`
	Browser                string           `json:"browser"`
	StartedAt              string           `json:"started_at"`
	EndedAt                string           `json:"ended_at"`
	DurationSeconds        float64          `json:"duration_seconds"`
	Viewport               Viewport         `json:"viewport"`
	Interrupted            bool             `json:"interrupted"`
	Statistics             Statistics       `json:"statistics"`
	ReturnReferenceElement *SelectedElement `json:"return_reference_element"`
	Analysis               AnalysisState    `json:"analysis"`
	OperationsFile         string           `json:"operations_file"`
	AuthStateFile          string           `json:"auth_state_file"`
}

// AnalysisState is the downstream-analysis placeholder.
type AnalysisState struct {
	Analyzed bool        `json:"analyzed"`
	Result   interface{} `json:"result"`
}

// snapshotManifest is html_snapshots/metadata.json: the per-URL file
// mapping plus the ordered visit timeline.
type snapshotManifest struct {
	Snapshots map[string]snapshotEntry `json:"snapshots"`
	Timeline  []URLVisit               `json:"url_timeline"`
}

type snapshotEntry struct {
	Filename    string `json:"filename"`
	ContentHash string `json:"content_hash"`
	SizeKB      int    `json:"size_kb"`
	LastUpdated string `json:"last_updated"`
}

// sessionStore owns the session output directory and writes every
// persisted artifact. Each writer fails independently so one broken
// artifact cannot take its siblings down with it.
type sessionStore struct {
	dir string
	log *zap.Logger
}

func newSessionStore(dir string, log *zap.Logger) (*sessionStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory is required")
	}
	for _, sub := range []string{"", screenshotsDir, htmlSnapshotsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	return &sessionStore{dir: dir, log: log}, nil
}

func (s *sessionStore) screenshotPath(stepID int) string {
	return filepath.Join(s.dir, screenshotsDir, fmt.Sprintf("step_%d.png", stepID))
}

func (s *sessionStore) selectedElementPath() string {
	return filepath.Join(s.dir, selectedElementPNG)
}

// removeScreenshot deletes a superseded screenshot, tolerating one that
// was never written.
func (s *sessionStore) removeScreenshot(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("failed to remove superseded screenshot",
			zap.String("path", path), zap.Error(err))
	}
}

func (s *sessionStore) writeOperations(ops []*Operation) error {
	if ops == nil {
		ops = []*Operation{}
	}
	return s.writeJSON(filepath.Join(s.dir, operationsFile), ops)
}

func (s *sessionStore) writeMetadata(meta *SessionMetadata) error {
	return s.writeJSON(filepath.Join(s.dir, metadataFile), meta)
}

// writeAuthState saves the context's storage state (cookies, local
// storage) so a later session can resume authenticated.
func (s *sessionStore) writeAuthState(ctx playwright.BrowserContext) error {
	if ctx == nil {
		return fmt.Errorf("browser context is nil")
	}
	path := filepath.Join(s.dir, authStateFile)
	if _, err := ctx.StorageState(path); err != nil {
		return fmt.Errorf("failed to save auth state: %w", err)
	}
	return nil
}

// writeHTMLSnapshots persists one cleaned document per distinct URL
// plus the manifest. Documents are written concurrently; the manifest
// records only the files that were actually written.
func (s *sessionStore) writeHTMLSnapshots(cache map[string]HTMLCacheEntry, timeline []URLVisit) error {
	manifest := snapshotManifest{
		Snapshots: make(map[string]snapshotEntry, len(cache)),
		Timeline:  timeline,
	}
	if manifest.Timeline == nil {
		manifest.Timeline = []URLVisit{}
	}

	var mu sync.Mutex
	var group errgroup.Group
	for index, pageURL := range snapshotOrder(cache, timeline) {
		name := urlToFilename(index+1, pageURL)
		pageURL, entry := pageURL, cache[pageURL]
		group.Go(func() error {
			path := filepath.Join(s.dir, htmlSnapshotsDir, name)
			if err := os.WriteFile(path, []byte(entry.HTML), 0o644); err != nil {
				return fmt.Errorf("failed to write snapshot for %s: %w", pageURL, err)
			}
			mu.Lock()
			manifest.Snapshots[pageURL] = snapshotEntry{
				Filename:    name,
				ContentHash: entry.ContentHash,
				SizeKB:      entry.SizeKB,
				LastUpdated: entry.LastUpdated,
			}
			mu.Unlock()
			return nil
		})
	}
	writeErr := group.Wait()

	if err := s.writeJSON(filepath.Join(s.dir, htmlSnapshotsDir, metadataFile), manifest); err != nil {
		return err
	}
	return writeErr
}

func (s *sessionStore) writeJSON(path string, v interface{}) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// snapshotOrder fixes the numbering of snapshot files: first-visit
// order from the timeline, then any cached URL the timeline missed in
// lexical order. Map iteration must never decide a filename.
func snapshotOrder(cache map[string]HTMLCacheEntry, timeline []URLVisit) []string {
	ordered := make([]string, 0, len(cache))
	seen := make(map[string]bool, len(cache))
	for _, visit := range timeline {
		if _, ok := cache[visit.URL]; ok && !seen[visit.URL] {
			ordered = append(ordered, visit.URL)
			seen[visit.URL] = true
		}
	}
	rest := make([]string, 0, len(cache))
	for pageURL := range cache {
		if !seen[pageURL] {
			rest = append(rest, pageURL)
		}
	}
	sort.Strings(rest)
	return append(ordered, rest...)
}

// urlToFilename derives a stable, filesystem-safe snapshot name from a
// visit index and URL: zero-padded index, then host and path with
// non-alphanumeric runs replaced, truncated so names stay short.
func urlToFilename(index int, rawURL string) string {
	base := "page"
	if parsed, err := url.Parse(rawURL); err == nil {
		host := parsed.Host
		path := parsed.Path
		if host != "" || path != "" {
			base = sanitizeFilePart(host + path)
		}
	}
	if base == "" {
		base = "page"
	}
	if len(base) > 50 {
		base = base[:50]
	}
	return fmt.Sprintf("%03d_%s.html", index, base)
}

func sanitizeFilePart(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
