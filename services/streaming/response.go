package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrUpstream marks failures to open or read the upstream media stream.
	ErrUpstream = errors.New("upstream stream error")
	// ErrClientGone marks a transfer that ended because the client stopped reading.
	ErrClientGone = errors.New("client disconnected")
	// ErrUpstreamStalled marks an upstream that sent nothing for a whole idle timeout.
	ErrUpstreamStalled = errors.New("upstream stalled")
)

// UpstreamError describes an upstream that could not be opened, answered
// with an unusable status, or failed mid-read.
type UpstreamError struct {
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("upstream returned status %d: %v", e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("upstream returned status %d", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("upstream: %v", e.Err)
	default:
		return ErrUpstream.Error()
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Request encapsulates one relay request coming from the handler layer.
type Request struct {
	DirectURL   string
	RangeHeader string
	Method      string
	Shortcode   string
}

// Response is an open upstream stream plus the headers to send to the client.
// Close must be called exactly once by the owner; extra calls are no-ops.
type Response struct {
	Body          io.ReadCloser
	Headers       http.Header
	Status        int
	ContentLength int64
	Filename      string

	closeOnce sync.Once
	closeErr  error
	onClose   func()

	// idle cancels the upstream request when one wait on the upstream
	// outlasts idleTimeout. It runs only while a read is in flight.
	idle        *time.Timer
	idleTimeout time.Duration
	stalled     atomic.Bool
	cancel      context.CancelFunc
}

// newSession derives the upstream request context and arms the idle deadline
// for the open itself.
func newSession(ctx context.Context, idleTimeout time.Duration) (context.Context, *Response) {
	sessionCtx, cancel := context.WithCancel(ctx)
	resp := &Response{idleTimeout: idleTimeout, cancel: cancel}
	if idleTimeout > 0 {
		resp.idle = time.AfterFunc(idleTimeout, func() {
			resp.stalled.Store(true)
			cancel()
		})
	}
	return sessionCtx, resp
}

func (r *Response) armIdle() {
	if r.idle != nil {
		r.idle.Reset(r.idleTimeout)
	}
}

func (r *Response) disarmIdle() {
	if r.idle != nil {
		r.idle.Stop()
	}
}

// stallError reports whether err came from the idle deadline firing.
func (r *Response) stallError(err error) error {
	if !r.stalled.Load() {
		return nil
	}
	return &UpstreamError{Err: fmt.Errorf("%w: no data for %s: %w", ErrUpstreamStalled, r.idleTimeout, err)}
}

// Close closes the underlying upstream body if present.
func (r *Response) Close() error {
	if r == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		r.disarmIdle()
		if r.Body != nil {
			r.closeErr = r.Body.Close()
		}
		if r.cancel != nil {
			r.cancel()
		}
		if r.onClose != nil {
			r.onClose()
		}
	})
	return r.closeErr
}
