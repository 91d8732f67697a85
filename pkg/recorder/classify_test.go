package recorder

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyBrowserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errorClass
	}{
		{
			name: "nil error is transient",
			err:  nil,
			want: errTransient,
		},
		{
			name: "navigation in progress",
			err:  errors.New("Execution context was destroyed, most likely because of a navigation"),
			want: errTransient,
		},
		{
			name: "detached frame",
			err:  errors.New("frame was detached"),
			want: errTransient,
		},
		{
			name: "page is navigating",
			err:  errors.New("Unable to adopt element handle from a different document while navigating"),
			want: errTransient,
		},
		{
			name: "document changing",
			err:  errors.New("Cannot find context with specified id: document is changing"),
			want: errTransient,
		},
		{
			name: "bounded evaluate timeout is transient",
			err:  errors.New("evaluate timed out after 500ms"),
			want: errTransient,
		},
		{
			name: "target closed is fatal",
			err:  errors.New("Target page, context or browser has been closed"),
			want: errFatal,
		},
		{
			name: "connection refused is fatal",
			err:  errors.New("websocket: close 1006 (abnormal closure)"),
			want: errFatal,
		},
		{
			name: "wrapped transient error",
			err:  fmt.Errorf("element probe failed: %w", errors.New("frame got detached")),
			want: errTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyBrowserError(tt.err); got != tt.want {
				t.Errorf("classifyBrowserError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	if !isTransient(errors.New("navigating to new page")) {
		t.Error("expected navigation error to be transient")
	}
	if isTransient(errors.New("browser process crashed")) {
		t.Error("expected crash to be fatal")
	}
}
