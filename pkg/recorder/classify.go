package recorder

import (
	"strings"
)

// errorClass is the supervisory loop's verdict on a browser error.
type errorClass int

const (
	// errTransient covers in-flight navigations and detached frames.
	// The session keeps running and the check is retried next tick.
	errTransient errorClass = iota

	// errFatal covers everything else: the page or context is gone and
	// the session must finalize.
	errFatal
)

// transientMarkers are substrings the browser engine emits while a
// navigation is in progress or a frame is being torn down. These are
// expected mid-recording and never terminate the session. Bounded
// evaluation timeouts count too: a slow navigation or a long-running
// page script can hold Evaluate past the probe deadline without the
// page being gone.
var transientMarkers = []string{
	"navigation",
	"navigating",
	"destroyed",
	"detached",
	"changing",
	"execution context was",
	"timed out",
}

// classifyBrowserError maps a browser-interaction error to a retry or
// terminate decision. A nil error is transient by definition.
func classifyBrowserError(err error) errorClass {
	if err == nil {
		return errTransient
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return errTransient
		}
	}
	return errFatal
}

// isTransient reports whether err should be retried on the next
// supervisory tick rather than terminating the session.
func isTransient(err error) bool {
	return classifyBrowserError(err) == errTransient
}
