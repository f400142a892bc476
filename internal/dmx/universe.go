package dmx

import (
	"context"
	"fmt"
	"sync"

	"dmxeffects/internal/logger"
)

// Confirmer asks the operator to approve a destructive association change.
// Confirm may block for as long as the operator takes to answer.
type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, message string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, message string) (bool, error) {
	return f(ctx, message)
}

var (
	// AlwaysConfirm approves every request. Used by unattended daemons.
	AlwaysConfirm Confirmer = ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })

	// NeverConfirm declines every request.
	NeverConfirm Confirmer = ConfirmFunc(func(context.Context, string) (bool, error) { return false, nil })
)

// Universe stores the 512 slot values and channel labels of one DMX universe.
// It is the only writer of that state; everything else observes it through Subscribe.
type Universe struct {
	log     logger.Logger
	confirm Confirmer
	events  publisher

	mu           sync.RWMutex
	values       [Channels]uint8
	associations [Channels]string
}

// NewUniverse returns a universe with every value 0 and no associations.
func NewUniverse(log logger.Logger, confirm Confirmer) *Universe {
	if confirm == nil {
		confirm = AlwaysConfirm
	}
	return &Universe{
		log:     log,
		confirm: confirm,
	}
}

// Subscribe registers h for every event and returns its subscription id.
func (u *Universe) Subscribe(h Handler) string {
	return u.events.subscribe(h)
}

// Unsubscribe removes a handler registered with Subscribe.
func (u *Universe) Unsubscribe(id string) error {
	return u.events.unsubscribe(id)
}

// SetValue stores value on channel and publishes ValueChanged.
func (u *Universe) SetValue(channel, value int) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}

	u.mu.Lock()
	u.values[channel-1] = uint8(value)
	u.mu.Unlock()

	u.events.publish(ValueChanged{Channel: channel, Value: value})
	return nil
}

// Value returns the stored value of channel, 0 if it was never set.
func (u *Universe) Value(channel int) (int, error) {
	if err := checkChannel(channel); err != nil {
		return 0, err
	}

	u.mu.RLock()
	defer u.mu.RUnlock()
	return int(u.values[channel-1]), nil
}

// Snapshot returns a copy of all 512 values, channel 1 first.
func (u *Universe) Snapshot() [Channels]uint8 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.values
}

// Association returns the label of channel, empty if unset.
func (u *Universe) Association(channel int) (string, error) {
	if err := checkChannel(channel); err != nil {
		return "", err
	}

	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.associations[channel-1], nil
}

// SetAssociation labels channel. An existing label is first removed through
// RemoveAssociation(channel, 1), so a declined confirmation leaves it in place
// and SetAssociation returns ErrOperationCancelled.
func (u *Universe) SetAssociation(ctx context.Context, channel int, label string) error {
	if err := checkChannel(channel); err != nil {
		return err
	}

	u.mu.RLock()
	existing := u.associations[channel-1]
	u.mu.RUnlock()

	if existing != "" {
		if err := u.RemoveAssociation(ctx, channel, 1); err != nil {
			return err
		}
	}

	u.mu.Lock()
	u.associations[channel-1] = label
	u.mu.Unlock()

	u.log.With(logger.Fields{"module": "universe"}).Debugf("channel %d associated with %q", channel, label)
	u.events.publish(AssociationChanged{Channel: channel, Label: label})
	return nil
}

// RemoveAssociation clears count labels starting at firstChannel once the
// Confirmer approves. Nothing changes unless the whole range is confirmed.
func (u *Universe) RemoveAssociation(ctx context.Context, firstChannel, count int) error {
	if err := checkChannel(firstChannel); err != nil {
		return err
	}
	if count < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}
	if err := checkChannel(firstChannel + count - 1); err != nil {
		return err
	}

	var message string
	if count > 1 {
		message = fmt.Sprintf("Please confirm that you wish to delete the associations for channels between %d and %d.",
			firstChannel, firstChannel+count)
	} else {
		message = fmt.Sprintf("Please confirm that you wish to delete the association for channel %d.", firstChannel)
	}

	// Readers keep seeing the old labels while the operator decides.
	ok, err := u.confirm.Confirm(ctx, message)
	if err != nil {
		return fmt.Errorf("%w: confirmation failed: %v", ErrOperationCancelled, err)
	}
	if !ok {
		u.log.With(logger.Fields{"module": "universe"}).Infof("association removal for channel %d (+%d) declined", firstChannel, count)
		return ErrOperationCancelled
	}

	u.mu.Lock()
	for i := 0; i < count; i++ {
		u.associations[firstChannel-1+i] = ""
	}
	u.mu.Unlock()

	u.events.publish(AssociationsRemoved{FirstChannel: firstChannel, Count: count})
	for i := 0; i < count; i++ {
		u.events.publish(AssociationChanged{Channel: firstChannel + i})
	}
	return nil
}
