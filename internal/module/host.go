package module

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"dmxeffects/internal/dmx"
	"dmxeffects/internal/logger"
)

var (
	ErrModuleExists   = errors.New("module already registered")
	ErrModuleNotFound = errors.New("module not registered")
	ErrNoChannels     = errors.New("module has no control channels")
)

// Module is a pluggable consumer of DMX input.
type Module interface {
	// Name labels the universe channels assigned to the module.
	Name() string
	// ControlChannels are assigned consecutive universe channels in order.
	ControlChannels() []*dmx.ControlChannel
}

type registration struct {
	module       Module
	firstChannel int
}

// Host assigns universe channels to modules and triggers their control
// channels when the value of an assigned channel changes.
type Host struct {
	log      logger.Logger
	universe *dmx.Universe
	subID    string

	mu      sync.RWMutex
	modules map[string]*registration
	pending map[string]bool             // names with a Register in progress
	routes  map[int]*dmx.ControlChannel // universe channel -> control channel
	last    map[int]int                 // universe channel -> last triggered value
}

// NewHost subscribes to universe. Close releases the subscription.
func NewHost(log logger.Logger, universe *dmx.Universe) *Host {
	h := &Host{
		log:      log,
		universe: universe,
		modules:  map[string]*registration{},
		pending:  map[string]bool{},
		routes:   map[int]*dmx.ControlChannel{},
		last:     map[int]int{},
	}
	h.subID = universe.Subscribe(h.handle)
	return h
}

// Close stops routing universe events.
func (h *Host) Close() error {
	return h.universe.Unsubscribe(h.subID)
}

// Register associates the module's control channels with universe channels
// firstChannel, firstChannel+1, ... . If any association is refused the labels
// already applied are removed again, subject to the universe's confirmation.
func (h *Host) Register(ctx context.Context, m Module, firstChannel int) error {
	channels := m.ControlChannels()
	if len(channels) == 0 {
		return fmt.Errorf("%s: %w", m.Name(), ErrNoChannels)
	}
	last := firstChannel + len(channels) - 1
	if !dmx.ValidateChannelNumber(firstChannel) {
		return &dmx.ChannelNumberError{Channel: firstChannel}
	}
	if !dmx.ValidateChannelNumber(last) {
		return &dmx.ChannelNumberError{Channel: last}
	}

	name := m.Name()
	h.mu.Lock()
	_, exists := h.modules[name]
	if exists || h.pending[name] {
		h.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrModuleExists)
	}
	h.pending[name] = true
	h.mu.Unlock()

	// No lock is held here: SetAssociation publishes back into h.handle.
	for i := range channels {
		if err := h.universe.SetAssociation(ctx, firstChannel+i, name); err != nil {
			h.rollback(name, firstChannel, i)
			h.mu.Lock()
			delete(h.pending, name)
			h.mu.Unlock()
			return fmt.Errorf("associate %s with channel %d: %w", name, firstChannel+i, err)
		}
	}

	h.mu.Lock()
	delete(h.pending, name)
	h.modules[name] = &registration{module: m, firstChannel: firstChannel}
	for i, cc := range channels {
		h.routes[firstChannel+i] = cc
		delete(h.last, firstChannel+i)
	}
	h.mu.Unlock()

	h.log.With(logger.Fields{"module": "host"}).Infof("module %q assigned to channels %d-%d", name, firstChannel, last)
	return nil
}

// rollback removes the labels a failed Register applied to
// [firstChannel, firstChannel+count).
func (h *Host) rollback(name string, firstChannel, count int) {
	if count == 0 {
		return
	}
	// The caller's ctx may be the reason Register failed.
	if err := h.universe.RemoveAssociation(context.Background(), firstChannel, count); err != nil {
		h.log.With(logger.Fields{"module": "host"}).
			Warnf("channels %d-%d keep label %q: %v", firstChannel, firstChannel+count-1, name, err)
	}
}

// Unregister removes the associations still labelled with the module's name.
// Channels that were relabelled since Register are left alone.
func (h *Host) Unregister(ctx context.Context, name string) error {
	h.mu.RLock()
	_, ok := h.modules[name]
	var owned []int
	for ch, cc := range h.routes {
		if cc.Module() == name {
			owned = append(owned, ch)
		}
	}
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}

	var labelled []int
	for _, ch := range owned {
		if label, _ := h.universe.Association(ch); label == name {
			labelled = append(labelled, ch)
		}
	}
	sort.Ints(labelled)

	for _, r := range runs(labelled) {
		if err := h.universe.RemoveAssociation(ctx, r[0], r[1]); err != nil {
			return err
		}
	}

	h.mu.Lock()
	for ch, cc := range h.routes {
		if cc.Module() == name {
			delete(h.routes, ch)
			delete(h.last, ch)
		}
	}
	delete(h.modules, name)
	h.mu.Unlock()
	return nil
}

// runs splits sorted channels into consecutive {first, count} ranges.
func runs(channels []int) [][2]int {
	var out [][2]int
	for _, ch := range channels {
		if n := len(out); n > 0 && out[n-1][0]+out[n-1][1] == ch {
			out[n-1][1]++
			continue
		}
		out = append(out, [2]int{ch, 1})
	}
	return out
}

// FirstChannel returns the universe channel of the module's first control channel.
func (h *Host) FirstChannel(name string) (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	reg, ok := h.modules[name]
	if !ok {
		return 0, false
	}
	return reg.firstChannel, true
}

func (h *Host) handle(ev dmx.Event) {
	switch e := ev.(type) {
	case dmx.ValueChanged:
		// Every frame repeats every slot; only a new value fires an action.
		h.mu.Lock()
		cc := h.routes[e.Channel]
		prev, seen := h.last[e.Channel]
		if cc != nil {
			h.last[e.Channel] = e.Value
		}
		h.mu.Unlock()
		if cc == nil || (seen && prev == e.Value) {
			return
		}
		if err := cc.Trigger(e.Value); err != nil {
			h.log.With(logger.Fields{"module": "host"}).Errorf("trigger %s/%d: %v", cc.Module(), cc.Number(), err)
		}
	case dmx.AssociationsRemoved:
		h.mu.Lock()
		for ch := e.FirstChannel; ch < e.FirstChannel+e.Count; ch++ {
			h.unroute(ch)
		}
		h.mu.Unlock()
	case dmx.AssociationChanged:
		h.mu.Lock()
		if cc := h.routes[e.Channel]; cc != nil && cc.Module() != e.Label {
			h.unroute(e.Channel)
		}
		h.mu.Unlock()
	}
}

// unroute must be called with h.mu held.
func (h *Host) unroute(channel int) {
	cc, ok := h.routes[channel]
	if !ok {
		return
	}
	delete(h.routes, channel)
	delete(h.last, channel)
	h.log.With(logger.Fields{"module": "host"}).Infof("channel %d no longer controls %s/%d", channel, cc.Module(), cc.Number())

	for _, r := range h.routes {
		if r.Module() == cc.Module() {
			return
		}
	}
	delete(h.modules, cc.Module())
}
