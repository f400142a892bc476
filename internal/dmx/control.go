package dmx

import "sync"

// Action is run when its bound value is triggered. value is the triggering value.
type Action func(value int)

// ControlChannel maps each of the 256 slot values to at most one Action.
// Most values are expected to stay unbound.
type ControlChannel struct {
	number int
	module string

	mu       sync.RWMutex
	bindings [MaxValue + 1]Action
}

// NewControlChannel returns an empty table for the number-th channel of module.
func NewControlChannel(number int, module string) *ControlChannel {
	return &ControlChannel{number: number, module: module}
}

// Number is the channel's index within its module, not a universe channel.
func (c *ControlChannel) Number() int { return c.number }

// Module is the name of the owning module.
func (c *ControlChannel) Module() string { return c.module }

// SetBinding binds action to value, replacing any earlier binding.
// A nil action unbinds the value.
func (c *ControlChannel) SetBinding(value int, action Action) error {
	if err := checkValue(value); err != nil {
		return err
	}
	c.mu.Lock()
	c.bindings[value] = action
	c.mu.Unlock()
	return nil
}

// Binding returns the action bound to value, nil if there is none.
func (c *ControlChannel) Binding(value int) (Action, error) {
	if err := checkValue(value); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bindings[value], nil
}

// Trigger runs the action bound to value. An unbound value is a no-op.
func (c *ControlChannel) Trigger(value int) error {
	action, err := c.Binding(value)
	if err != nil {
		return err
	}
	if action != nil {
		action(value)
	}
	return nil
}

// Bound returns the bound values in increasing order.
func (c *ControlChannel) Bound() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var values []int
	for v, a := range c.bindings {
		if a != nil {
			values = append(values, v)
		}
	}
	return values
}
