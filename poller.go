package combivox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	logp "github.com/charmbracelet/log"
)

// StatusFetcher is what the Poller polls. *Client implements it.
type StatusFetcher interface {
	Status(ctx context.Context) (Status, error)
}

// Update is sent to subscribers after every poll.
type Update struct {
	Status      Status
	Err         error
	Failures    int
	Unavailable bool
}

type PollerOption func(*Poller)

// WithMaxFailures sets after how many consecutive failures the panel is
// considered unavailable. Default is 2.
func WithMaxFailures(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.maxFailures = n
		}
	}
}

func WithPollerLogger(logger *logp.Logger) PollerOption {
	return func(p *Poller) {
		if logger != nil {
			p.log = logger
		}
	}
}

// Poller periodically fetches the status and keeps the latest one.
// Ticks that happen while a poll is still running are skipped.
type Poller struct {
	fetcher     StatusFetcher
	maxFailures int
	log         *logp.Logger

	interval atomic.Int64
	polling  atomic.Bool
	reset    chan time.Duration

	mu          sync.RWMutex
	current     Status
	hasCurrent  bool
	failures    int
	unavailable bool
	subs        []func(Update)

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewPoller(fetcher StatusFetcher, interval time.Duration, opts ...PollerOption) *Poller {
	p := &Poller{
		fetcher:     fetcher,
		maxFailures: 2,
		log:         log,
		reset:       make(chan time.Duration, 1),
		done:        make(chan struct{}),
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	p.interval.Store(int64(interval))
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers fn to be called after each poll, from the polling
// goroutine.
func (p *Poller) Subscribe(fn func(Update)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, fn)
}

// Current returns the last successfully fetched status.
func (p *Poller) Current() (Status, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.hasCurrent
}

func (p *Poller) Failures() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.failures
}

func (p *Poller) Unavailable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.unavailable
}

func (p *Poller) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// SetInterval changes the polling interval, taking effect on the next tick.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.interval.Store(int64(d))
	select {
	case p.reset <- d:
	default:
	}
}

// Poll fetches the status once. It fails with ErrAlreadyPolling if another
// poll is running. A poll interrupted by ctx is neither counted as a failure
// nor sent to subscribers.
func (p *Poller) Poll(ctx context.Context) (Status, error) {
	if !p.polling.CompareAndSwap(false, true) {
		return Status{}, ErrAlreadyPolling
	}
	defer p.polling.Store(false)

	status, err := p.fetcher.Status(ctx)
	if err != nil && ctx.Err() != nil {
		// canceled, not a panel failure
		return status, err
	}

	p.mu.Lock()
	if err != nil {
		p.failures++
		if p.failures >= p.maxFailures && !p.unavailable {
			p.unavailable = true
			p.log.Warn("panel unavailable", "failures", p.failures, "err", err)
		}
	} else {
		if p.unavailable {
			p.log.Info("panel available again")
		}
		p.failures = 0
		p.unavailable = false
		p.current = status
		p.hasCurrent = true
	}
	update := Update{
		Status:      status,
		Err:         err,
		Failures:    p.failures,
		Unavailable: p.unavailable,
	}
	subs := append([]func(Update){}, p.subs...)
	p.mu.Unlock()

	for _, fn := range subs {
		fn(update)
	}
	return status, err
}

// Start polls right away and then on every tick, until ctx is done or Stop
// is called. Calling it more than once has no effect.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		p.mu.Lock()
		p.cancel = cancel
		p.mu.Unlock()
		go p.run(ctx)
	})
}

func (p *Poller) run(ctx context.Context) {
	var wg sync.WaitGroup
	defer close(p.done)
	defer wg.Wait()
	tick := time.NewTicker(p.Interval())
	defer tick.Stop()

	poll := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Poll(ctx); err != nil {
				if errors.Is(err, ErrAlreadyPolling) {
					p.log.Debug("skipping tick, still polling")
					return
				}
				if ctx.Err() == nil {
					p.log.Error("could not poll status", "err", err)
				}
			}
		}()
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-p.reset:
			tick.Reset(d)
		case <-tick.C:
			poll()
		}
	}
}

// Stop stops polling. It is safe to call more than once, and before Start.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		// a later Start must not spawn a goroutine nobody stops
		p.startOnce.Do(func() {})
		p.mu.RLock()
		cancel := p.cancel
		p.mu.RUnlock()
		if cancel != nil {
			cancel()
			<-p.done
		}
	})
}
