package dmx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"dmxeffects/internal/logger"
)

const (
	// DefaultFrameStartPoll is the DMX512 break length; the line may stay idle
	// that long between frames.
	DefaultFrameStartPoll = 88 * time.Microsecond

	// DefaultSlotPoll is the retry interval once a frame has started.
	DefaultSlotPoll = 10 * time.Microsecond

	// DefaultStallWarning is how long a frame may stall before it is logged.
	// The protocol allows breaks of up to a second.
	DefaultStallWarning = time.Second
)

// Sink receives one reconstructed slot at a time. *Universe is the usual Sink.
type Sink interface {
	SetValue(channel, value int) error
}

// ListenerState is the position of the frame reconstruction state machine.
type ListenerState int

const (
	AwaitingFrameStart ListenerState = iota
	ReadingSlot
)

func (s ListenerState) String() string {
	switch s {
	case AwaitingFrameStart:
		return "awaiting-frame-start"
	case ReadingSlot:
		return "reading-slot"
	default:
		return "unknown"
	}
}

// ListenerStats are the counters kept by a running Listener.
type ListenerStats struct {
	Frames   uint64 // complete 512-slot frames delivered
	Slots    uint64 // slots polled from the queue
	Rejected uint64 // slots the sink refused
	Stalls   uint64 // mid-frame gaps longer than StallWarning
}

// Listener turns the sample stream in a Queue into frames of 512 slots and
// hands each slot to a Sink in channel order.
type Listener struct {
	log   logger.Logger
	queue *Queue
	sink  Sink

	FrameStartPoll time.Duration
	SlotPoll       time.Duration
	StallWarning   time.Duration

	startOnce sync.Once
	started   chan struct{}

	state    int32
	frames   uint64
	slots    uint64
	rejected uint64
	stalls   uint64
}

// NewListener returns a Listener using the default polling tiers.
func NewListener(log logger.Logger, queue *Queue, sink Sink) *Listener {
	return &Listener{
		log:            log,
		queue:          queue,
		sink:           sink,
		FrameStartPoll: DefaultFrameStartPoll,
		SlotPoll:       DefaultSlotPoll,
		StallWarning:   DefaultStallWarning,
		started:        make(chan struct{}),
	}
}

// Started is closed once Run has entered its loop.
func (l *Listener) Started() <-chan struct{} {
	return l.started
}

// State returns the current state of the reconstruction loop.
func (l *Listener) State() ListenerState {
	return ListenerState(atomic.LoadInt32(&l.state))
}

// Stats returns a copy of the listener counters.
func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Frames:   atomic.LoadUint64(&l.frames),
		Slots:    atomic.LoadUint64(&l.slots),
		Rejected: atomic.LoadUint64(&l.rejected),
		Stalls:   atomic.LoadUint64(&l.stalls),
	}
}

// Run reconstructs frames until ctx is cancelled and then returns ctx.Err().
// A frame interrupted by cancellation is not rolled back.
func (l *Listener) Run(ctx context.Context) error {
	log := l.log.With(logger.Fields{"module": "listener"})
	l.startOnce.Do(func() { close(l.started) })
	log.Info("DMX listener started")

	for {
		atomic.StoreInt32(&l.state, int32(AwaitingFrameStart))
		if err := l.awaitFrameStart(ctx); err != nil {
			log.Infof("DMX listener stopped: %v", err)
			return err
		}

		atomic.StoreInt32(&l.state, int32(ReadingSlot))
		for channel := MinChannel; channel <= MaxChannel; channel++ {
			sample, err := l.awaitSlot(ctx, channel)
			if err != nil {
				log.Infof("DMX listener stopped at channel %d: %v", channel, err)
				return err
			}
			atomic.AddUint64(&l.slots, 1)
			if err := l.sink.SetValue(channel, sample); err != nil {
				atomic.AddUint64(&l.rejected, 1)
				log.Warnf("slot %d rejected: %v", channel, err)
			}
		}
		atomic.AddUint64(&l.frames, 1)
	}
}

func (l *Listener) awaitFrameStart(ctx context.Context) error {
	for {
		if _, ok := l.queue.Peek(); ok {
			return nil
		}
		if err := sleep(ctx, l.FrameStartPoll); err != nil {
			return err
		}
	}
}

// awaitSlot waits for the next sample of a frame. Gaps are never fatal; a gap
// past StallWarning is logged once and the wait goes on.
func (l *Listener) awaitSlot(ctx context.Context, channel int) (int, error) {
	var (
		waitStart time.Time
		warned    bool
	)
	for {
		if _, ok := l.queue.Peek(); ok {
			sample, _ := l.queue.Poll()
			if warned {
				l.log.With(logger.Fields{"module": "listener"}).
					Infof("DMX signal resumed at channel %d after %v", channel, time.Since(waitStart))
			}
			return sample, nil
		}
		if waitStart.IsZero() {
			waitStart = time.Now()
		} else if !warned && l.StallWarning > 0 && time.Since(waitStart) > l.StallWarning {
			warned = true
			atomic.AddUint64(&l.stalls, 1)
			l.log.With(logger.Fields{"module": "listener"}).
				Warnf("DMX signal stalled at channel %d for more than %v", channel, l.StallWarning)
		}
		if err := sleep(ctx, l.SlotPoll); err != nil {
			return 0, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
