package recorder

import (
	"strings"
	"sync"
)

// inputRecord remembers the operation a selector's latest input event
// produced, so the next keystroke can supersede it.
type inputRecord struct {
	StepID     int
	Screenshot string
}

// inputCoalescer implements replace-on-write for input operations.
// Keystrokes arrive as one event per input mutation; only the last
// value of a typing burst matters, so when a new input targets the
// same element in the same frame the previous input operation and its
// screenshot are discarded. Clicks and selections do not disturb the
// map; navigating a frame clears that frame's records, because after a
// document change the same selector names a different element.
type inputCoalescer struct {
	mu   sync.Mutex
	last map[string]inputRecord
}

func newInputCoalescer() *inputCoalescer {
	return &inputCoalescer{last: make(map[string]inputRecord)}
}

// observe registers a just-recorded input operation and returns the
// record it supersedes, if any. The caller removes the superseded
// operation from the log and deletes its screenshot.
func (c *inputCoalescer) observe(selector, frameURL string, stepID int, screenshot string) (inputRecord, bool) {
	key := selector + "\x00" + frameURL

	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.last[key]
	c.last[key] = inputRecord{StepID: stepID, Screenshot: screenshot}
	return prev, ok
}

// reset forgets all pending input records.
func (c *inputCoalescer) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]inputRecord)
}

// resetFrame forgets the records belonging to one frame, identified by
// the URL of the document being unloaded. Records in other frames stay
// coalescable: an iframe navigating away must not split a typing burst
// in the top document. A navigation that does not name its frame falls
// back to a full reset.
func (c *inputCoalescer) resetFrame(frameURL string) {
	if frameURL == "" {
		c.reset()
		return
	}
	suffix := "\x00" + frameURL
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.last {
		if strings.HasSuffix(key, suffix) {
			delete(c.last, key)
		}
	}
}
