// Package authpoll waits for an OAuth authorization task to complete by
// polling its status, with a visible countdown and a hard timeout.
package authpoll

import (
	"context"
	"errors"
	"sync"
	"time"
)

type Result int

const (
	Completed Result = iota + 1
	TimedOut
	Cancelled
)

func (r Result) String() string {
	switch r {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Poller runs three timers that share one cancellation token: the poll
// ticker, a one-second countdown ticker and the deadline timer. Whichever
// settles the token first decides the Result; the others observe it on
// their next tick and stop.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
	// Check reports whether the task is done. Errors are passed to OnError
	// and polling continues.
	Check   func(ctx context.Context) (bool, error)
	OnTick  func(remaining time.Duration)
	OnError func(err error)

	once  sync.Once
	token *token
}

func New(interval, timeout time.Duration, check func(ctx context.Context) (bool, error)) *Poller {
	return &Poller{Interval: interval, Timeout: timeout, Check: check}
}

type token struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	result Result
}

func (t *token) settle(r Result) {
	t.once.Do(func() {
		t.mu.Lock()
		t.result = r
		t.mu.Unlock()
		close(t.done)
	})
}

func (t *token) settled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *token) get() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

func (p *Poller) tok() *token {
	p.once.Do(func() {
		p.token = &token{done: make(chan struct{})}
	})
	return p.token
}

// Cancel stops polling. It only touches local timers and is safe to call
// more than once or before Run.
func (p *Poller) Cancel() {
	p.tok().settle(Cancelled)
}

// Run blocks until the check reports done, the timeout passes, Cancel is
// called or ctx ends.
func (p *Poller) Run(ctx context.Context) (Result, error) {
	if p.Check == nil {
		return 0, errors.New("authpoll: nil check")
	}
	if p.Interval <= 0 || p.Timeout <= 0 {
		return 0, errors.New("authpoll: interval and timeout must be positive")
	}

	t := p.tok()
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	deadline := time.Now().Add(p.Timeout)

	var wg sync.WaitGroup
	wg.Add(3)
	go p.poll(runCtx, t, &wg)
	go p.countdown(runCtx, t, deadline, &wg)
	go p.expire(runCtx, t, &wg)

	select {
	case <-t.done:
	case <-ctx.Done():
		t.settle(Cancelled)
	}
	stop()
	wg.Wait()
	return t.get(), nil
}

func (p *Poller) poll(ctx context.Context, t *token, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		if t.settled() {
			return
		}
		done, err := p.Check(ctx)
		if err != nil && p.OnError != nil && !t.settled() {
			p.OnError(err)
		}
		if done {
			t.settle(Completed)
			return
		}

		select {
		case <-ticker.C:
		case <-t.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) countdown(ctx context.Context, t *token, deadline time.Time, wg *sync.WaitGroup) {
	defer wg.Done()
	if p.OnTick == nil {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if t.settled() {
				return
			}
			p.OnTick(max(time.Until(deadline), 0))
		case <-t.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) expire(ctx context.Context, t *token, wg *sync.WaitGroup) {
	defer wg.Done()

	timer := time.NewTimer(p.Timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		t.settle(TimedOut)
	case <-t.done:
	case <-ctx.Done():
	}
}
