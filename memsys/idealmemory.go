package memsys

import (
	"fmt"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/delayqueue"
)

// IdealMemory answers every access after a fixed latency. Each connected
// channel is one port; an access must name the port it arrived on.
type IdealMemory struct {
	name      string
	latency   uint64
	bandwidth int

	channels []*Channel
	inflight []*delayqueue.DelayQueue[*Access]

	served uint64
}

// NewIdealMemory creates a memory that accepts up to bandwidth accesses per
// port per cycle.
func NewIdealMemory(name string, latency uint64, bandwidth int) *IdealMemory {
	if bandwidth <= 0 {
		bandwidth = 1
	}

	return &IdealMemory{
		name:      name,
		latency:   latency,
		bandwidth: bandwidth,
	}
}

// Connect attaches a channel and returns its port index.
func (m *IdealMemory) Connect(ch *Channel) int {
	m.channels = append(m.channels, ch)
	m.inflight = append(m.inflight, delayqueue.New[*Access](
		fmt.Sprintf("%s.Port[%d]", m.name, len(m.inflight)), 0))

	return len(m.channels) - 1
}

// Radix returns the number of connected ports.
func (m *IdealMemory) Radix() int {
	return len(m.channels)
}

// Served returns the number of responses sent.
func (m *IdealMemory) Served() uint64 {
	return m.served
}

// Pending returns the number of accesses accepted but not yet answered.
func (m *IdealMemory) Pending() int {
	n := 0
	for _, q := range m.inflight {
		n += q.Len()
	}

	return n
}

// Cycle answers the accesses whose latency has elapsed, accepts new ones,
// and advances time.
func (m *IdealMemory) Cycle() error {
	for port, ch := range m.channels {
		q := m.inflight[port]

		for !q.Empty() && ch.Rsp.CanPush() {
			a := q.Pop()
			a.Response = true
			ch.Rsp.Push(a)
			m.served++
		}

		for i := 0; i < m.bandwidth; i++ {
			e := ch.Req.Peek()
			if e == nil {
				break
			}

			a := e.(*Access)
			if a.Channel != port {
				return fmt.Errorf("%w: access %s on port %d of %d",
					ErrBadChannel, a, port, len(m.channels))
			}

			ch.Req.Pop()
			q.Push(a, m.latency)
		}

		q.Cycle()
	}

	return nil
}
