// Package transport is the event boundary between the controller radio and
// the rest of the system. The core treats a Link purely as a source of
// input reports and a sink for output reports; session management and
// reconnection live behind the interface.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotConnected   = errors.New("link not connected")
	ErrAlreadyStarted = errors.New("link already started")
	ErrSessionExpired = errors.New("session expired")
)

// Session identifies one continuous connection to a controller.
type Session struct {
	ID     uuid.UUID
	Opened time.Time
}

// Handler receives link events. Callbacks run on the link's pump goroutine
// and must not block; hand heavy work off.
type Handler interface {
	OnOpen(Session)
	OnClose(Session, error)
	OnReport(Session, []byte)
}

// Link is a controller connection. Start is non-blocking; the link runs
// until Stop or ctx cancellation and reconnects on its own after drops.
type Link interface {
	Start(ctx context.Context, h Handler) error
	Stop() error
	Connected() bool
	// SendOutputReport pushes one raw output report (haptic commands) to
	// the controller. Fails with ErrNotConnected between sessions.
	SendOutputReport(report []byte) error
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Open   func(Session)
	Close  func(Session, error)
	Report func(Session, []byte)
}

func (h HandlerFuncs) OnOpen(s Session) {
	if h.Open != nil {
		h.Open(s)
	}
}

func (h HandlerFuncs) OnClose(s Session, reason error) {
	if h.Close != nil {
		h.Close(s, reason)
	}
}

func (h HandlerFuncs) OnReport(s Session, raw []byte) {
	if h.Report != nil {
		h.Report(s, raw)
	}
}
