package mediabox

import (
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// DeliveryMode selects a subscription's backpressure policy.
type DeliveryMode int

const (
	// DeliverDropOldest keeps the newest frames: when the subscriber's queue
	// is full the oldest undelivered frame is discarded. Default.
	DeliverDropOldest DeliveryMode = iota

	// DeliverOnDemand delivers only frames explicitly requested via
	// Subscription.Request. Frames arriving with no outstanding demand are
	// dropped. Used by the movie writer for its one-in-flight throttle.
	DeliverOnDemand
)

// SubscribeOptions configures one subscription.
type SubscribeOptions struct {
	Mode     DeliveryMode
	QueueLen int // Delivery queue length (default: 4; on-demand forces 1)
}

// SubscriptionStats counts frames delivered to and dropped for a subscriber.
type SubscriptionStats struct {
	Delivered uint64
	Dropped   uint64
}

// Subscription is one subscriber's private delivery path. A slow subscriber
// only ever loses its own frames; it never blocks the distributor or its
// peers.
type Subscription struct {
	id     string
	mode   DeliveryMode
	ch     chan FrameTexture
	demand atomic.Int64

	delivered atomic.Uint64
	dropped   atomic.Uint64

	cancelOnce sync.Once
	cancel     func(id string)
	closed     atomic.Bool
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Frames returns the delivery channel. It is closed on Cancel and when the
// distributor shuts down.
func (s *Subscription) Frames() <-chan FrameTexture { return s.ch }

// Request adds demand for n more frames. Only meaningful in on-demand mode.
func (s *Subscription) Request(n int) {
	if n > 0 {
		s.demand.Add(int64(n))
	}
}

// Stats returns delivery counters for this subscription.
func (s *Subscription) Stats() SubscriptionStats {
	return SubscriptionStats{
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Cancel detaches the subscription and closes its channel. Idempotent.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		s.cancel(s.id)
		s.closed.Store(true)
		close(s.ch)
	})
}

func (s *Subscription) offer(frame FrameTexture) {
	if s.closed.Load() {
		return
	}
	if s.mode == DeliverOnDemand {
		for {
			d := s.demand.Load()
			if d <= 0 {
				s.dropped.Add(1)
				return
			}
			if s.demand.CompareAndSwap(d, d-1) {
				break
			}
		}
	}
	for {
		select {
		case s.ch <- frame:
			s.delivered.Add(1)
			return
		default:
		}
		// Queue full: discard the oldest undelivered frame and retry.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// FrameDistributorConfig configures a FrameDistributor.
type FrameDistributorConfig struct {
	Context *RenderContext // Render resource handle (required)
	Filter  Filter         // Initial filter (default: IdentityFilter)
	Logger  zerolog.Logger
}

// DistributorStats counts frames through the distributor.
type DistributorStats struct {
	FramesIn  uint64
	FramesOut uint64 // Frames published (post-filter), regardless of deliveries
}

// FrameDistributor converts raw captured buffers into FrameTextures, applies
// the active filter, and republishes each frame to every subscriber over its
// own delivery queue. Frames are published in the exact order their events
// were raised.
//
// The filter is swapped with a single atomic store: in-flight frames use
// whichever filter was active when their distribution began, never a mix.
type FrameDistributor struct {
	ctx *RenderContext
	log zerolog.Logger

	filter atomic.Value // holds filterBox

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
}

type filterBox struct{ f Filter }

// NewFrameDistributor creates a distributor with the given initial filter.
func NewFrameDistributor(cfg FrameDistributorConfig) *FrameDistributor {
	f := cfg.Filter
	if f == nil {
		f = IdentityFilter{}
	}
	d := &FrameDistributor{
		ctx:  cfg.Context,
		log:  cfg.Logger,
		subs: make(map[string]*Subscription),
	}
	d.filter.Store(filterBox{f})
	return d
}

// Filter returns the currently active filter.
func (d *FrameDistributor) Filter() Filter {
	return d.filter.Load().(filterBox).f
}

// ChangeFilter swaps the active filter. Instantaneous and lock-free; frames
// already in distribution keep the previous filter, frames delivered earlier
// are not re-filtered.
func (d *FrameDistributor) ChangeFilter(f Filter) {
	if f == nil {
		f = IdentityFilter{}
	}
	d.filter.Store(filterBox{f})
	d.log.Debug().Str("filter", f.Name()).Msg("filter changed")
}

// Subscribe registers a new consumer and returns its private subscription.
func (d *FrameDistributor) Subscribe(opts SubscribeOptions) (*Subscription, error) {
	queueLen := opts.QueueLen
	if queueLen <= 0 {
		queueLen = 4
	}
	if opts.Mode == DeliverOnDemand {
		queueLen = 1
	}

	sub := &Subscription{
		id:     xid.New().String(),
		mode:   opts.Mode,
		ch:     make(chan FrameTexture, queueLen),
		cancel: d.remove,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDistributorClosed
	}
	d.subs[sub.id] = sub
	return sub, nil
}

func (d *FrameDistributor) remove(id string) {
	d.mu.Lock()
	delete(d.subs, id)
	d.mu.Unlock()
}

// OnRawFrame is the frame-available entry point; wire it as the session
// controller's frame delegate. It runs on the controller's frame loop, so
// calls are strictly ordered.
func (d *FrameDistributor) OnRawFrame(frame RawFrame) {
	d.framesIn.Add(1)

	tex := NewFrameTexture(frame.Data, frame.Desc, frame.TimestampNs)
	filtered := d.Filter().Render(tex)
	d.framesOut.Add(1)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, sub := range d.subs {
		sub.offer(filtered)
	}
}

// Stats returns frame counters for the distributor.
func (d *FrameDistributor) Stats() DistributorStats {
	return DistributorStats{
		FramesIn:  d.framesIn.Load(),
		FramesOut: d.framesOut.Load(),
	}
}

// Close cancels every subscription and rejects new ones.
func (d *FrameDistributor) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	subs := make([]*Subscription, 0, len(d.subs))
	for _, sub := range d.subs {
		subs = append(subs, sub)
	}
	d.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}
