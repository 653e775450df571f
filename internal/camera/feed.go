// Package camera holds the kiosk camera feed. The browser owns the physical
// device and pushes its current video frame here; the session acquires the
// feed exclusively while it is capturing.
package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"scan-kiosk/internal/scan"
)

var (
	// ErrBusy is returned when the feed is already held by a capture stage.
	ErrBusy = errors.New("camera is already in use")
	// ErrReleased is returned by a handle used after Close.
	ErrReleased = errors.New("camera handle released")
)

// Feed is the latest-frame buffer for one kiosk.
type Feed struct {
	mu     sync.Mutex
	latest scan.Frame
	fault  error
	held   bool
	now    func() time.Time
}

func NewFeed() *Feed {
	return &Feed{now: time.Now}
}

// Push stores the newest preview frame. A successful push clears a
// previously reported device fault.
func (f *Feed) Push(frame scan.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = f.now()
	}
	f.latest = frame
	f.fault = nil
}

// Fail records a device fault reported by the kiosk (permission denied,
// no camera, playback failure).
func (f *Feed) Fail(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fault = fmt.Errorf("camera fault: %s", reason)
	f.latest = scan.Frame{}
}

// Acquire takes exclusive ownership of the feed.
func (f *Feed) Acquire() (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fault != nil {
		return nil, f.fault
	}
	if f.held {
		return nil, ErrBusy
	}
	f.held = true
	return &Handle{feed: f}, nil
}

// Handle is an exclusive lease on the feed.
type Handle struct {
	mu     sync.Mutex
	feed   *Feed
	closed bool
}

// Snapshot returns the latest full-resolution frame. The frame has zero
// width when the camera has not delivered anything yet.
func (h *Handle) Snapshot() (scan.Frame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return scan.Frame{}, ErrReleased
	}
	h.feed.mu.Lock()
	defer h.feed.mu.Unlock()
	if h.feed.fault != nil {
		return scan.Frame{}, h.feed.fault
	}
	fr := h.feed.latest
	fr.Data = append([]byte(nil), fr.Data...)
	return fr, nil
}

// Close releases the lease. It is safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.feed.mu.Lock()
	h.feed.held = false
	h.feed.mu.Unlock()
	return nil
}
