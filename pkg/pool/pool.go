package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/hutchhq/hutch/pkg/log"
	"github.com/hutchhq/hutch/pkg/metrics"
)

// MaxWait is the longest a reservation waits for a free channel
// before failing with ErrPoolExhausted.
const MaxWait = 5 * time.Second

type idleChannel struct {
	ch    Channel
	since time.Time
}

// Pool is the bounded channel pool owned by one connection. Capacity
// is enforced with a weighted semaphore; released channels queue FIFO
// so the oldest idle channel is handed out first and validated on
// every return. Idle channels past the connection's idle limit are
// destroyed by the periodic eviction sweep.
type Pool struct {
	conn    *Connection
	driver  Driver
	sem     *semaphore.Weighted
	maxOpen int
	maxWait time.Duration

	// testOnBorrow validates channels when handed out rather than
	// only on return. Off by default to keep reservations cheap.
	testOnBorrow bool

	mu     sync.Mutex
	idle   []idleChannel
	open   int
	closed bool

	log zerolog.Logger
}

// NewPool creates a pool for the given connection and driver.
func NewPool(conn *Connection, driver Driver) *Pool {
	maxOpen := conn.MaxOpen()
	return &Pool{
		conn:    conn,
		driver:  driver,
		sem:     semaphore.NewWeighted(int64(maxOpen)),
		maxOpen: maxOpen,
		maxWait: MaxWait,
		log:     log.WithConnection(conn.ID()),
	}
}

// Reserve leases a channel for exclusive use, waiting up to MaxWait
// for capacity. The oldest idle channel is preferred; a new one is
// created when none idles. Cancelling ctx abandons the wait.
func (p *Pool) Reserve(ctx context.Context) (Channel, error) {
	start := time.Now()
	ch, err := p.reserve(ctx)
	p.conn.recordUse(start, err)
	return ch, err
}

func (p *Pool) reserve(ctx context.Context) (Channel, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.maxWait)
	defer cancel()
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("failed to reserve channel for %s: %w", p.conn.ID(), ctx.Err())
		}
		metrics.PoolExhaustedTotal.WithLabelValues(p.conn.ID()).Inc()
		return nil, fmt.Errorf("failed to reserve channel for %s: %w", p.conn.ID(), ErrPoolExhausted)
	}
	ch, err := p.takeOrCreate(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	if err := ch.Reserve(ctx); err != nil {
		p.discard(ch)
		p.sem.Release(1)
		return nil, &ChannelError{Connection: p.conn.ID(), Err: err}
	}
	p.updateGauges()
	return ch, nil
}

// takeOrCreate pops idle channels FIFO until a valid one turns up,
// then falls back to creating a fresh channel. Callers hold a permit.
func (p *Pool) takeOrCreate(ctx context.Context) (Channel, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		var ch Channel
		if len(p.idle) > 0 {
			ch = p.idle[0].ch
			p.idle = p.idle[1:]
		}
		p.mu.Unlock()
		if ch == nil {
			break
		}
		if !ch.IsValid() || (p.testOnBorrow && ch.Validate() != nil) {
			p.discard(ch)
			continue
		}
		return ch, nil
	}
	ch, err := p.driver.CreateChannel(ctx, p.conn)
	if err != nil {
		return nil, &ChannelError{Connection: p.conn.ID(), Err: err}
	}
	p.mu.Lock()
	p.open++
	p.mu.Unlock()
	return ch, nil
}

// Return gives a reserved channel back. A non-nil callErr means the
// caller's unit of work failed: the channel is rolled back before
// anything else. Channels are always validated on return; valid
// poolable ones are released into the idle queue, the rest are
// destroyed.
func (p *Pool) Return(ch Channel, callErr error) {
	defer p.sem.Release(1)
	defer p.updateGauges()
	if callErr != nil {
		if err := ch.Rollback(); err != nil {
			p.log.Warn().Err(err).Msg("Channel rollback failed")
			p.discard(ch)
			return
		}
	}
	if !ch.IsValid() || !ch.IsPoolable() || ch.Validate() != nil {
		p.discard(ch)
		return
	}
	ch.Release()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.discard(ch)
		return
	}
	p.idle = append(p.idle, idleChannel{ch: ch, since: time.Now()})
	p.mu.Unlock()
}

// Evict destroys idle channels unused longer than the connection's
// idle limit and drops idle channels that fail validation. Triggered
// by the owning connection's Passivate on every cache sweep.
func (p *Pool) Evict(now time.Time) {
	maxIdle := p.conn.MaxIdle()
	p.mu.Lock()
	var keep []idleChannel
	var doomed []Channel
	for _, entry := range p.idle {
		if now.Sub(entry.since) > maxIdle {
			doomed = append(doomed, entry.ch)
			continue
		}
		keep = append(keep, entry)
	}
	p.idle = keep
	p.mu.Unlock()

	// testWhileIdle: survivors must still validate.
	for _, entry := range p.snapshotIdle() {
		if entry.ch.Validate() != nil {
			p.removeIdle(entry.ch)
			doomed = append(doomed, entry.ch)
		}
	}
	for _, ch := range doomed {
		p.discard(ch)
	}
	if len(doomed) > 0 {
		p.log.Debug().Int("count", len(doomed)).Msg("Idle channels evicted")
	}
	p.updateGauges()
}

// Open returns the number of created channels, borrowed plus idle.
func (p *Pool) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Idle returns the number of channels waiting in the idle queue.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close destroys all idle channels and rejects further reservations.
// Borrowed channels are destroyed as they come back.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, entry := range idle {
		p.discard(entry.ch)
	}
	p.updateGauges()
}

// discard invalidates and destroys a channel, dropping it from the
// open count.
func (p *Pool) discard(ch Channel) {
	if base, ok := ch.(interface{ Invalidate() }); ok {
		base.Invalidate()
	}
	p.driver.DestroyChannel(ch)
	p.mu.Lock()
	if p.open > 0 {
		p.open--
	}
	p.mu.Unlock()
}

func (p *Pool) snapshotIdle() []idleChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]idleChannel, len(p.idle))
	copy(out, p.idle)
	return out
}

func (p *Pool) removeIdle(ch Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, entry := range p.idle {
		if entry.ch == ch {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return
		}
	}
}

func (p *Pool) updateGauges() {
	p.mu.Lock()
	open, idle := p.open, len(p.idle)
	p.mu.Unlock()
	metrics.PoolChannelsOpen.WithLabelValues(p.conn.ID()).Set(float64(open))
	metrics.PoolChannelsIdle.WithLabelValues(p.conn.ID()).Set(float64(idle))
}

// IsExhausted reports whether an error is a reservation timeout.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}
