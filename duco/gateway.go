package duco

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	// Empirically the communication print cannot handle more than two
	// concurrent requests.
	MaxConcurrentReads = 2
	RequestTimeout     = 10 * time.Second
)

type Observer interface {
	ObserveQueue(queued, inFlight int)
	ObserveRequest(kind string, duration time.Duration, err error)
}

// Gateway is shared by every client in the process. Reads wait in arrival
// order for one of MaxConcurrentReads slots, writes are sent immediately.
// RequestTimeout applies to each dispatched request; a queued read waits
// until the caller's context is done.
type Gateway struct {
	httpClient *http.Client
	reads      *semaphore.Weighted
	timeout    time.Duration
	observer   Observer

	queued   atomic.Int64
	inFlight atomic.Int64
}

func NewGateway(httpClient *http.Client, observer Observer) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Gateway{
		httpClient: httpClient,
		reads:      semaphore.NewWeighted(MaxConcurrentReads),
		timeout:    RequestTimeout,
		observer:   observer,
	}
}

func (g *Gateway) Read(ctx context.Context, url string) ([]byte, error) {
	return g.do(ctx, "read", url, true)
}

func (g *Gateway) Write(ctx context.Context, url string) ([]byte, error) {
	return g.do(ctx, "write", url, false)
}

func (g *Gateway) do(ctx context.Context, kind string, url string, limited bool) (body []byte, err error) {
	start := time.Now()
	defer func() {
		if g.observer != nil {
			g.observer.ObserveRequest(kind, time.Since(start), err)
		}
	}()

	if limited {
		g.queued.Add(1)
		g.report()

		acquireErr := g.reads.Acquire(ctx, 1)
		g.queued.Add(-1)
		if acquireErr != nil {
			g.report()
			return nil, transportError(ctx, url, acquireErr)
		}

		g.inFlight.Add(1)
		g.report()
		defer func() {
			g.reads.Release(1)
			g.inFlight.Add(-1)
			g.report()
		}()
	}

	// The timeout starts once the request is dispatched, not while it waits
	// for a slot.
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &HTTPError{URL: url, Err: err}
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{URL: url, Status: resp.StatusCode}
	}

	if body, err = io.ReadAll(resp.Body); err != nil {
		return nil, transportError(ctx, url, err)
	}

	return body, nil
}

func (g *Gateway) report() {
	if g.observer != nil {
		g.observer.ObserveQueue(int(g.queued.Load()), int(g.inFlight.Load()))
	}
}

func transportError(ctx context.Context, url string, err error) *HTTPError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &HTTPError{URL: url, Timeout: true, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &HTTPError{URL: url, Timeout: true, Err: err}
	}

	return &HTTPError{URL: url, Err: err}
}
