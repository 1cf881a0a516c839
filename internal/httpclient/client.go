// Package httpclient builds the HTTP clients used for feeds and episode
// downloads. Timeouts bound connection setup and silence on the wire, never
// the length of a transfer.
package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	// DefaultTimeout applies when a caller passes a non-positive timeout.
	DefaultTimeout = 60 * time.Second

	defaultMaxIdleConns        = 32
	defaultMaxIdleConnsPerHost = 4
	defaultIdleConnTimeout     = 90 * time.Second
	defaultKeepAlive           = 30 * time.Second
)

// ErrIdle reports a response body that delivered no data for a full idle
// timeout.
var ErrIdle = errors.New("no data received within idle timeout")

// New returns a client whose timeout bounds dialing, the TLS handshake, and
// the wait for response headers. Client.Timeout stays zero: bodies are
// bounded by an idle deadline from WithIdleTimeout.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: defaultKeepAlive}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: transport}
}

// Idle cancels a request once its body stops delivering data.
type Idle struct {
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
	cancel  context.CancelCauseFunc
}

// WithIdleTimeout returns a context for a request and the guard that cancels
// it after timeout without progress. The clock starts now and is pushed back
// by every read through Body. Stop must be called when the request is done.
// A non-positive timeout disables the guard.
func WithIdleTimeout(parent context.Context, timeout time.Duration) (context.Context, *Idle) {
	ctx, cancel := context.WithCancelCause(parent)
	idle := &Idle{timeout: timeout, cancel: cancel}
	if timeout > 0 {
		idle.timer = time.AfterFunc(timeout, func() {
			idle.expired.Store(true)
			cancel(ErrIdle)
		})
	}
	return ctx, idle
}

// Body wraps r so each read that returns data resets the idle deadline.
func (i *Idle) Body(r io.Reader) io.Reader {
	return &idleReader{r: r, idle: i}
}

// Expired reports whether the guard fired.
func (i *Idle) Expired() bool {
	return i.expired.Load()
}

// Stop releases the timer and the request context.
func (i *Idle) Stop() {
	if i.timer != nil {
		i.timer.Stop()
	}
	i.cancel(nil)
}

type idleReader struct {
	r    io.Reader
	idle *Idle
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 && r.idle.timer != nil && !r.idle.expired.Load() {
		r.idle.timer.Reset(r.idle.timeout)
	}
	if err != nil && r.idle.Expired() && !errors.Is(err, io.EOF) {
		return n, ErrIdle
	}
	return n, err
}
