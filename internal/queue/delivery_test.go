package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAcker struct {
	acks    atomic.Int32
	nacks   atomic.Int32
	requeue bool
	reason  error
	err     error
}

func (f *fakeAcker) Ack(ctx context.Context) error {
	f.acks.Add(1)
	return f.err
}

func (f *fakeAcker) Nack(ctx context.Context, requeue bool, reason error) error {
	f.nacks.Add(1)
	f.requeue, f.reason = requeue, reason
	return f.err
}

func TestDelivery_AckFlow(t *testing.T) {
	acker := &fakeAcker{}
	d := NewDelivery("d-1", []byte("{}"), acker)
	assert.Equal(t, StateReceived, d.State())
	assert.Nil(t, d.Decision())

	require.NoError(t, d.Start())
	assert.Equal(t, StateProcessing, d.State())

	require.NoError(t, d.Ack(context.Background()))
	assert.Equal(t, StateAcked, d.State())
	assert.True(t, d.Decision().Ack)
	assert.Equal(t, int32(1), acker.acks.Load())
}

func TestDelivery_SecondDecisionNeverReachesBroker(t *testing.T) {
	acker := &fakeAcker{}
	d := NewDelivery("d-2", nil, acker)
	require.NoError(t, d.Start())
	require.NoError(t, d.Nack(context.Background(), false, errors.New("boom")))

	assert.ErrorIs(t, d.Ack(context.Background()), ErrAlreadyDecided)
	assert.ErrorIs(t, d.Nack(context.Background(), true, nil), ErrAlreadyDecided)
	assert.ErrorIs(t, d.Start(), ErrAlreadyDecided)

	assert.Equal(t, int32(0), acker.acks.Load())
	assert.Equal(t, int32(1), acker.nacks.Load())
	assert.False(t, acker.requeue)
	assert.Equal(t, StateNacked, d.State())
}

func TestDelivery_InvalidTransitions(t *testing.T) {
	acker := &fakeAcker{}
	d := NewDelivery("d-3", nil, acker)

	assert.ErrorIs(t, d.Ack(context.Background()), ErrInvalidTransition, "ack before processing")
	assert.Equal(t, StateReceived, d.State())

	require.NoError(t, d.Start())
	assert.ErrorIs(t, d.Start(), ErrInvalidTransition)
	assert.Equal(t, int32(0), acker.acks.Load())
}

func TestDelivery_NackFromReceived(t *testing.T) {
	acker := &fakeAcker{}
	d := NewDelivery("d-4", []byte("not json"), acker)

	require.NoError(t, d.Nack(context.Background(), false, errors.New("poison")))

	assert.Equal(t, StateNacked, d.State())
	assert.Equal(t, int32(1), acker.nacks.Load())
}

func TestDelivery_BrokerFailureStillDecides(t *testing.T) {
	acker := &fakeAcker{err: errors.New("connection reset")}
	d := NewDelivery("d-5", nil, acker)
	require.NoError(t, d.Start())

	assert.Error(t, d.Ack(context.Background()))
	assert.Equal(t, StateAcked, d.State())
	assert.ErrorIs(t, d.Ack(context.Background()), ErrAlreadyDecided)
	assert.Equal(t, int32(1), acker.acks.Load())
}

func TestDelivery_ConcurrentDecisionsSettleOnce(t *testing.T) {
	acker := &fakeAcker{}
	d := NewDelivery("d-6", nil, acker)
	require.NoError(t, d.Start())

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = d.Ack(context.Background())
			} else {
				err = d.Nack(context.Background(), true, nil)
			}
			if err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), acker.acks.Load()+acker.nacks.Load())
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "ack", Decision{Ack: true}.String())
	assert.Equal(t, "nack-requeue", Decision{Requeue: true}.String())
	assert.Equal(t, "nack-dead", Decision{}.String())
	assert.Equal(t, "processing", StateProcessing.String())
}
