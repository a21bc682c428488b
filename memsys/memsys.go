// Package memsys defines the boundary between an NDP unit and the memory
// subsystem behind it: the access object, the request/response channel
// pairs, and an ideal fixed-latency memory that answers them.
package memsys

import (
	"errors"
	"fmt"

	"github.com/rs/xid"
	"github.com/sarchlab/akita/v4/sim"
)

// ErrBadChannel is returned when an access names a channel beyond the
// memory's radix.
var ErrBadChannel = errors.New("channel index out of range")

// AccessType is the kind of a memory access.
type AccessType uint8

// Access types.
const (
	Read AccessType = iota
	Write
	Atomic
)

func (t AccessType) String() string {
	switch t {
	case Read:
		return "read"
	case Write:
		return "write"
	case Atomic:
		return "atomic"
	default:
		return "unknown"
	}
}

// Access is a request to, and the response from, the memory subsystem. ID
// is the correlation key a response carries back.
type Access struct {
	ID      string
	Addr    uint64
	Type    AccessType
	Size    int
	UnitID  int
	Channel int

	// Response is set by the memory when it sends the access back.
	Response bool
}

// NewAccess creates an access with a fresh correlation ID.
func NewAccess(
	t AccessType,
	addr uint64,
	size int,
	unitID int,
	channel int,
) *Access {
	return &Access{
		ID:      xid.New().String(),
		Addr:    addr,
		Type:    t,
		Size:    size,
		UnitID:  unitID,
		Channel: channel,
	}
}

func (a *Access) String() string {
	return fmt.Sprintf("%s %s 0x%x+%d ch%d", a.ID, a.Type, a.Addr, a.Size,
		a.Channel)
}

// Channel is a pair of bounded FIFOs. The unit pushes into Req and pops
// from Rsp; the memory does the reverse.
type Channel struct {
	Req sim.Buffer
	Rsp sim.Buffer
}

// NewChannel creates a channel whose FIFOs hold capacity accesses each.
func NewChannel(name string, capacity int) *Channel {
	return &Channel{
		Req: sim.NewBuffer(name+".Req", capacity),
		Rsp: sim.NewBuffer(name+".Rsp", capacity),
	}
}

// Send pushes an access into the request FIFO. It returns false if the
// FIFO is full.
func (c *Channel) Send(a *Access) bool {
	if !c.Req.CanPush() {
		return false
	}

	c.Req.Push(a)

	return true
}

// Receive pops one response, or returns nil.
func (c *Channel) Receive() *Access {
	e := c.Rsp.Pop()
	if e == nil {
		return nil
	}

	return e.(*Access)
}

// PeekResponse returns the oldest response without removing it.
func (c *Channel) PeekResponse() *Access {
	e := c.Rsp.Peek()
	if e == nil {
		return nil
	}

	return e.(*Access)
}
