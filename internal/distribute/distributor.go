// Package distribute fans signals out to registered subscribers over
// bounded per-subscriber buffers. Delivery is lossy under load: when a
// buffer is full the signal is dropped and counted rather than blocking
// the producer.
package distribute

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/bus"
	"main/internal/schema"
	"main/pkg/exception"
)

// Mode selects how a signal maps onto subscribers.
type Mode uint8

const (
	ModeBroadcast Mode = iota
	ModeRoundRobin
	ModePriorityBased
	ModeLoadBalanced
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeBroadcast:
		return "broadcast"
	case ModeRoundRobin:
		return "round_robin"
	case ModePriorityBased:
		return "priority_based"
	case ModeLoadBalanced:
		return "load_balanced"
	default:
		return "unknown"
	}
}

const (
	defaultBufferSize     = 1000
	defaultMaxSubscribers = 64
)

// Config controls distribution behavior.
type Config struct {
	Mode           Mode
	BufferSize     int
	MaxSubscribers int

	// DisableBackpressure turns full-buffer drops into hard errors from
	// Distribute instead of silent counted drops.
	DisableBackpressure bool
}

// DefaultConfig returns a baseline distribution configuration.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeBroadcast,
		BufferSize:     defaultBufferSize,
		MaxSubscribers: defaultMaxSubscribers,
	}
}

func (c Config) withDefaults() Config {
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxSubscribers == 0 {
		c.MaxSubscribers = defaultMaxSubscribers
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Mode > ModeLoadBalanced {
		return fmt.Errorf("invalid distribute config: unknown mode %d", c.Mode)
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("invalid distribute config: BufferSize must be >= 1")
	}
	if c.MaxSubscribers < 1 {
		return fmt.Errorf("invalid distribute config: MaxSubscribers must be >= 1")
	}
	return nil
}

// Handle identifies a subscription.
type Handle uint64

// Stats holds cumulative distribution counters.
type Stats struct {
	Distributed        uint64
	Dropped            uint64
	BackpressureEvents uint64
	Subscribers        int
}

type subscriber struct {
	handle   Handle
	id       string
	priority uint8
	queue    *bus.Queue
}

// Distributor routes signals to subscribers according to the configured
// mode.
type Distributor struct {
	cfg Config

	mu          sync.RWMutex
	subscribers []*subscriber
	byHandle    map[Handle]*subscriber
	nextHandle  uint64

	rr  atomic.Uint64
	seq atomic.Uint64

	distributed  atomic.Uint64
	dropped      atomic.Uint64
	backpressure atomic.Uint64

	now func() int64
}

// NewDistributor creates a distributor.
func NewDistributor(cfg Config) (*Distributor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Distributor{
		cfg:      cfg,
		byHandle: make(map[Handle]*subscriber),
		now:      func() int64 { return time.Now().UnixNano() },
	}, nil
}

// Subscribe registers a consumer and returns its handle. Priority matters
// only under priority-based distribution, higher wins.
func (d *Distributor) Subscribe(id string, priority uint8) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.subscribers) >= d.cfg.MaxSubscribers {
		return 0, errors.Wrapf(exception.ErrSignalSubscriberLimit, "subscribe %q", id)
	}
	d.nextHandle++
	sub := &subscriber{
		handle:   Handle(d.nextHandle),
		id:       id,
		priority: priority,
		queue:    bus.NewQueue(d.cfg.BufferSize),
	}
	d.subscribers = append(d.subscribers, sub)
	d.byHandle[sub.handle] = sub
	return sub.handle, nil
}

// Unsubscribe removes a subscription and closes its buffer.
func (d *Distributor) Unsubscribe(h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.byHandle[h]
	if !ok {
		return errors.Wrapf(exception.ErrSignalUnknownSubscriber, "unsubscribe %d", h)
	}
	delete(d.byHandle, h)
	for i, s := range d.subscribers {
		if s.handle == h {
			d.subscribers = append(d.subscribers[:i], d.subscribers[i+1:]...)
			break
		}
	}
	sub.queue.Close()
	return nil
}

// Distribute routes one signal. With backpressure enabled (the default) a
// full target buffer drops the signal and counts it; with backpressure
// disabled the drop is surfaced as an error.
func (d *Distributor) Distribute(sig schema.CompactSignal) error {
	d.mu.RLock()
	targets := d.selectTargets(sig)
	d.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	e := bus.Event{
		Header: schema.NewHeader(schema.EventSignal, 0, d.seq.Add(1), int64(sig.PublishTimestampNs), d.now()),
		Signal: sig,
	}

	var dropErr error
	for _, sub := range targets {
		if err := sub.queue.TryPublish(e); err != nil {
			d.dropped.Add(1)
			if err == exception.ErrSignalQueueFull {
				d.backpressure.Add(1)
			}
			if d.cfg.DisableBackpressure && dropErr == nil {
				dropErr = errors.Wrapf(err, "distribute to %q", sub.id)
			}
			continue
		}
		d.distributed.Add(1)
	}
	return dropErr
}

// selectTargets picks the delivery set for a signal. Caller holds the read
// lock.
func (d *Distributor) selectTargets(sig schema.CompactSignal) []*subscriber {
	if len(d.subscribers) == 0 {
		return nil
	}
	switch d.cfg.Mode {
	case ModeRoundRobin:
		idx := int((d.rr.Add(1) - 1) % uint64(len(d.subscribers)))
		return []*subscriber{d.subscribers[idx]}
	case ModePriorityBased:
		return []*subscriber{d.pickByPriority()}
	case ModeLoadBalanced:
		return []*subscriber{d.pickLeastLoaded()}
	default:
		targets := make([]*subscriber, len(d.subscribers))
		copy(targets, d.subscribers)
		return targets
	}
}

// pickByPriority returns the highest-priority subscriber. A full buffer does
// not reroute delivery; the drop accounting in Distribute applies instead.
func (d *Distributor) pickByPriority() *subscriber {
	best := d.subscribers[0]
	for _, sub := range d.subscribers[1:] {
		if sub.priority > best.priority {
			best = sub
		}
	}
	return best
}

func (d *Distributor) pickLeastLoaded() *subscriber {
	best := d.subscribers[0]
	for _, sub := range d.subscribers[1:] {
		if sub.queue.Len() < best.queue.Len() {
			best = sub
		}
	}
	return best
}

// Poll returns the next buffered signal for a subscription without
// blocking.
func (d *Distributor) Poll(h Handle) (schema.CompactSignal, bool) {
	d.mu.RLock()
	sub, ok := d.byHandle[h]
	d.mu.RUnlock()
	if !ok {
		return schema.CompactSignal{}, false
	}
	e, ok := sub.queue.TryConsume()
	if !ok {
		return schema.CompactSignal{}, false
	}
	return e.Signal, true
}

// PollBatch drains up to max buffered signals for a subscription.
func (d *Distributor) PollBatch(h Handle, max int) []schema.CompactSignal {
	d.mu.RLock()
	sub, ok := d.byHandle[h]
	d.mu.RUnlock()
	if !ok || max <= 0 {
		return nil
	}
	out := make([]schema.CompactSignal, 0, max)
	for len(out) < max {
		e, ok := sub.queue.TryConsume()
		if !ok {
			break
		}
		out = append(out, e.Signal)
	}
	return out
}

// Pending returns the number of buffered signals for a subscription.
func (d *Distributor) Pending(h Handle) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if sub, ok := d.byHandle[h]; ok {
		return sub.queue.Len()
	}
	return 0
}

// Stats returns a snapshot of the distribution counters.
func (d *Distributor) Stats() Stats {
	d.mu.RLock()
	subs := len(d.subscribers)
	d.mu.RUnlock()
	return Stats{
		Distributed:        d.distributed.Load(),
		Dropped:            d.dropped.Load(),
		BackpressureEvents: d.backpressure.Load(),
		Subscribers:        subs,
	}
}
