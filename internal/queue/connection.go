package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/redis/go-redis/v9"
)

// defaultMaxConnectionErrors is how many consecutive broker connection
// failures a consumer tolerates before it reports the broker as lost
const defaultMaxConnectionErrors = 5

// ErrBrokerLost is reported on a consumer's Err channel
var ErrBrokerLost = errors.New("broker connection lost")

// connectionMonitor counts consecutive connection failures and reports
// the broker as lost once, after max of them in a row
type connectionMonitor struct {
	max    int32
	count  atomic.Int32
	errCh  chan error
	once   sync.Once
	onLost func()
}

func newConnectionMonitor(max int, onLost func()) *connectionMonitor {
	if max <= 0 {
		max = defaultMaxConnectionErrors
	}
	return &connectionMonitor{
		max:    int32(max),
		errCh:  make(chan error, 1),
		onLost: onLost,
	}
}

// failure records one connection failure and reports whether the broker
// is now considered lost
func (m *connectionMonitor) failure(err error) bool {
	n := m.count.Add(1)
	if n < m.max {
		return false
	}
	m.once.Do(func() {
		m.errCh <- fmt.Errorf("%w after %d consecutive failures: %v", ErrBrokerLost, n, err)
		if m.onLost != nil {
			m.onLost()
		}
	})
	return true
}

// success resets the failure streak
func (m *connectionMonitor) success() {
	m.count.Store(0)
}

func (m *connectionMonitor) lost() <-chan error {
	return m.errCh
}

// isConnectionError reports whether err means the broker connection is
// unusable, as opposed to a failure of one command or message
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	// context errors satisfy net.Error
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
