package api

import (
	"context"
	"time"
)

// RequestKind distinguishes lightweight snapshot lookups from the CSV
// export, which walks the whole bucket set and deserves a cooldown.
type RequestKind int

const (
	// RequestGeneral marks inexpensive snapshot reads. They still pass
	// through the per-IP queue so one client cannot flood the server with
	// concurrent requests.
	RequestGeneral RequestKind = iota
	// RequestHeavy marks the full-export endpoints. Each heavy call is
	// followed by a cooldown before the same IP may run another.
	RequestHeavy
)

// waitNoticeThreshold is the queue delay worth surfacing in logs.
// Anything shorter is normal handoff latency.
const waitNoticeThreshold = 500 * time.Millisecond

// ipQueueDepth buffers requests waiting behind a busy worker so the
// dispatch loop keeps serving other addresses. Only when one address has
// this many requests parked does dispatch wait on it.
const ipQueueDepth = 16

// RateLimiter sequences requests per client IP without mutexes. Each IP
// gets its own goroutine, following "Do not communicate by sharing
// memory; share memory by communicating".
type RateLimiter struct {
	heavyCooldown time.Duration
	requests      chan keyedRequest
	now           func() time.Time
}

type keyedRequest struct {
	ip  string
	req ipRequest
}

type ipRequest struct {
	ctx      context.Context
	kind     RequestKind
	arrived  time.Time
	response chan acquireResponse
}

type acquireResponse struct {
	release      chan struct{}
	wait         bool
	waitDuration time.Duration
	err          error
}

// Permit represents an acquired slot for one request. Release it when the
// handler is done so the next queued request for the same IP can proceed.
type Permit struct {
	release      chan struct{}
	WaitNotice   bool
	WaitDuration time.Duration
}

// Release signals the limiter goroutine that the request finished. The
// channel is nilled afterwards so double releases are harmless.
func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	close(p.release)
	p.release = nil
}

// NewRateLimiter constructs a limiter with the given cooldown for heavy
// endpoints and starts its coordination goroutine immediately. A nil
// limiter is valid and admits everything.
func NewRateLimiter(heavyCooldown time.Duration) *RateLimiter {
	limiter := &RateLimiter{
		heavyCooldown: heavyCooldown,
		requests:      make(chan keyedRequest),
		now:           time.Now,
	}

	go limiter.loop()

	return limiter
}

// Acquire reserves a slot for the given IP and request kind. The returned
// Permit must be released once the handler is done. A cancelled context
// surfaces as an error before the permit is granted.
func (l *RateLimiter) Acquire(ctx context.Context, ip string, kind RequestKind) (*Permit, error) {
	if l == nil {
		return nil, nil
	}

	respCh := make(chan acquireResponse, 1)
	req := ipRequest{
		ctx:      ctx,
		kind:     kind,
		arrived:  l.now(),
		response: respCh,
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case l.requests <- keyedRequest{ip: ip, req: req}:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-respCh:
		if resp.err != nil {
			return nil, resp.err
		}
		permit := &Permit{
			release:      resp.release,
			WaitNotice:   resp.wait,
			WaitDuration: resp.waitDuration,
		}
		return permit, nil
	}
}

func (l *RateLimiter) loop() {
	workers := make(map[string]chan ipRequest)

	for keyed := range l.requests {
		ch, ok := workers[keyed.ip]
		if !ok {
			ch = make(chan ipRequest, ipQueueDepth)
			workers[keyed.ip] = ch
			go l.runIPWorker(ch)
		}

		select {
		case ch <- keyed.req:
		case <-keyed.req.ctx.Done():
			keyed.req.response <- acquireResponse{err: keyed.req.ctx.Err()}
		}
	}
}

func (l *RateLimiter) runIPWorker(requests <-chan ipRequest) {
	var lastHeavyFinish time.Time

	for req := range requests {
		select {
		case <-req.ctx.Done():
			req.response <- acquireResponse{err: req.ctx.Err()}
			continue
		default:
		}

		now := l.now()
		queueWait := now.Sub(req.arrived)
		if queueWait < 0 {
			queueWait = 0
		}
		totalWait := queueWait

		if req.kind == RequestHeavy && !lastHeavyFinish.IsZero() {
			readyAt := lastHeavyFinish.Add(l.heavyCooldown)
			now = l.now()
			if now.Before(readyAt) {
				cooldownWait := readyAt.Sub(now)
				timer := time.NewTimer(cooldownWait)
				select {
				case <-req.ctx.Done():
					if !timer.Stop() {
						<-timer.C
					}
					req.response <- acquireResponse{err: req.ctx.Err()}
					continue
				case <-timer.C:
					totalWait += cooldownWait
				}
			}
		}

		release := make(chan struct{})
		resp := acquireResponse{
			release:      release,
			wait:         totalWait >= waitNoticeThreshold,
			waitDuration: totalWait,
		}

		select {
		case <-req.ctx.Done():
			req.response <- acquireResponse{err: req.ctx.Err()}
			continue
		case req.response <- resp:
		}

		select {
		case <-release:
		case <-req.ctx.Done():
			// The caller may have walked away between the grant send and
			// its receive, leaving the permit unclaimed in the response
			// buffer. Take back whichever side the permit sits on, or the
			// worker would wait here forever.
			select {
			case <-release:
			case <-req.response:
			}
		}

		if req.kind == RequestHeavy {
			lastHeavyFinish = l.now()
		}
	}
}
