package relay

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/notepid/relaybot/internal/metrics"
	"github.com/notepid/relaybot/internal/transport"
)

// ErrStopped is returned by Submit after the pool has stopped.
var ErrStopped = errors.New("dispatcher stopped")

// Handler processes one event.
type Handler interface {
	Handle(ctx context.Context, ev transport.Event) error
}

// Pool feeds events to a fixed set of workers. Events are sharded by sender
// id, so events from one sender are handled one at a time and in arrival
// order while different senders proceed in parallel.
type Pool struct {
	handler Handler
	shards  []chan transport.Event

	wg      sync.WaitGroup
	stop    chan struct{}
	stopped sync.Once
}

// NewPool creates a pool with workers shards of queueSize events each.
func NewPool(h Handler, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	p := &Pool{handler: h, stop: make(chan struct{})}
	p.shards = make([]chan transport.Event, workers)
	for i := range p.shards {
		p.shards[i] = make(chan transport.Event, queueSize)
	}
	return p
}

// Start launches the workers. They run until ctx ends or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	for i, ch := range p.shards {
		p.wg.Add(1)
		go p.work(ctx, i, ch)
	}
}

func (p *Pool) work(ctx context.Context, shard int, ch chan transport.Event) {
	defer p.wg.Done()
	for {
		select {
		case ev := <-ch:
			metrics.QueueDepth.Dec()
			p.handle(ctx, ev)
		case <-ctx.Done():
			return
		case <-p.stop:
			// Drain what is already queued.
			for {
				select {
				case ev := <-ch:
					metrics.QueueDepth.Dec()
					p.handle(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) handle(ctx context.Context, ev transport.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("user", ev.SenderID).Msg("event handler panicked")
		}
	}()
	if err := p.handler.Handle(ctx, ev); err != nil {
		log.Error().Err(err).Str("user", ev.SenderID).Msg("event not handled")
	}
}

func (p *Pool) shard(senderID string) chan transport.Event {
	h := fnv.New32a()
	h.Write([]byte(senderID))
	return p.shards[h.Sum32()%uint32(len(p.shards))]
}

// Submit queues ev, waiting for room in the sender's shard.
func (p *Pool) Submit(ctx context.Context, ev transport.Event) error {
	select {
	case <-p.stop:
		return ErrStopped
	default:
	}
	select {
	case p.shard(ev.SenderID) <- ev:
		metrics.QueueDepth.Inc()
		return nil
	case <-p.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new events, lets the workers finish the queued ones and
// waits for them to exit.
func (p *Pool) Stop() {
	p.stopped.Do(func() { close(p.stop) })
	p.wg.Wait()
}
