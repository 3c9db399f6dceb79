package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DeliveryState is the acknowledgment state of one delivered message
type DeliveryState int

const (
	StateReceived DeliveryState = iota
	StateProcessing
	StateAcked
	StateNacked
)

func (s DeliveryState) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateProcessing:
		return "processing"
	case StateAcked:
		return "acked"
	case StateNacked:
		return "nacked"
	default:
		return fmt.Sprintf("DeliveryState(%d)", int(s))
	}
}

// Decided reports whether the state is terminal
func (s DeliveryState) Decided() bool {
	return s == StateAcked || s == StateNacked
}

var (
	// ErrAlreadyDecided is returned for any decision after the first one
	ErrAlreadyDecided = errors.New("delivery already acknowledged or rejected")
	// ErrInvalidTransition is returned for a transition the state machine
	// does not allow
	ErrInvalidTransition = errors.New("invalid delivery state transition")
)

// Acknowledger settles a message with its broker
type Acknowledger interface {
	Ack(ctx context.Context) error
	Nack(ctx context.Context, requeue bool, reason error) error
}

// Decision is the settlement chosen for a message
type Decision struct {
	Ack     bool
	Requeue bool
	Reason  error
}

func (d Decision) String() string {
	switch {
	case d.Ack:
		return "ack"
	case d.Requeue:
		return "nack-requeue"
	default:
		return "nack-dead"
	}
}

// Delivery tracks one message from receipt to its single ack or nack.
// Allowed transitions:
//
//	received   -> processing | nacked
//	processing -> acked | nacked
type Delivery struct {
	mu       sync.Mutex
	id       string
	body     []byte
	state    DeliveryState
	decision *Decision
	acker    Acknowledger
}

// NewDelivery wraps a received message body
func NewDelivery(id string, body []byte, acker Acknowledger) *Delivery {
	return &Delivery{id: id, body: body, acker: acker}
}

// ID returns the broker-level identifier of the delivery
func (d *Delivery) ID() string { return d.id }

// Body returns the raw message body
func (d *Delivery) Body() []byte { return d.body }

// State returns the current state
func (d *Delivery) State() DeliveryState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Decision returns the settlement, or nil while undecided
func (d *Delivery) Decision() *Decision {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.decision == nil {
		return nil
	}
	dec := *d.decision
	return &dec
}

// Start moves the delivery from received to processing
func (d *Delivery) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.state.Decided():
		return ErrAlreadyDecided
	case d.state != StateReceived:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.state, StateProcessing)
	}
	d.state = StateProcessing
	return nil
}

// Ack acknowledges a processing delivery
func (d *Delivery) Ack(ctx context.Context) error {
	return d.Settle(ctx, Decision{Ack: true})
}

// Nack rejects the delivery, asking the broker to requeue it or not
func (d *Delivery) Nack(ctx context.Context, requeue bool, reason error) error {
	return d.Settle(ctx, Decision{Requeue: requeue, Reason: reason})
}

// Settle applies dec. The state changes before the broker is called, so a
// broker failure still counts as the one decision for this delivery.
func (d *Delivery) Settle(ctx context.Context, dec Decision) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.Decided() {
		return ErrAlreadyDecided
	}
	next := StateNacked
	if dec.Ack {
		next = StateAcked
		if d.state != StateProcessing {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.state, next)
		}
	}

	d.state = next
	d.decision = &dec

	if d.acker == nil {
		return nil
	}
	if dec.Ack {
		return d.acker.Ack(ctx)
	}
	return d.acker.Nack(ctx, dec.Requeue, dec.Reason)
}
