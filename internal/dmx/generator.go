package dmx

import (
	"math/rand"
	"sync"
	"time"
)

// SampleSink is the producer side of a Queue.
type SampleSink interface {
	Add(sample int)
}

// ValueSource reads the current value of a channel.
type ValueSource interface {
	Value(channel int) (int, error)
}

// Generator produces whole test frames for a Queue. Frames that change a single
// channel repeat the current values of every other channel from src.
type Generator struct {
	out SampleSink
	src ValueSource

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator returns a Generator writing to out and reading from src.
func NewGenerator(out SampleSink, src ValueSource) *Generator {
	return &Generator{
		out: out,
		src: src,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GenerateAll queues a frame of 512 random values.
func (g *Generator) GenerateAll() {
	for i := 0; i < Channels; i++ {
		g.out.Add(g.value())
	}
}

// Generate queues a frame with a random value on channel.
func (g *Generator) Generate(channel int) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	return g.frameWith(channel, g.value())
}

// Inject queues a frame with value on channel.
func (g *Generator) Inject(channel, value int) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	return g.frameWith(channel, value)
}

// frameWith reads the whole frame before queuing so that a read error queues nothing.
func (g *Generator) frameWith(channel, value int) error {
	var frame [Channels]int
	for i := range frame {
		if i+1 == channel {
			frame[i] = value
			continue
		}
		v, err := g.src.Value(i + 1)
		if err != nil {
			return err
		}
		frame[i] = v
	}
	for _, v := range frame {
		g.out.Add(v)
	}
	return nil
}

func (g *Generator) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Intn(MaxValue + 1)
}
