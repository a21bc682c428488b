package cache

// Kind is the access type of a request.
type Kind uint8

// Request kinds.
const (
	KindRead Kind = iota
	KindWrite
	KindAtomic
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindAtomic:
		return "atomic"
	default:
		return "unknown"
	}
}

// Request is one access presented to a cache. The cache never inspects
// Payload; owners use it to find the instruction the request belongs to.
type Request struct {
	ID      string
	Addr    uint64
	Size    int
	Kind    Kind
	Local   bool
	Payload interface{}
}

// Status classifies an access.
type Status uint8

// Access outcomes. Filled is only returned by Fill.
const (
	Hit Status = iota
	HitReserved
	SectorMiss
	Miss
	ReservationFail
	PortBusy
	Filled
)

func (s Status) String() string {
	switch s {
	case Hit:
		return "HIT"
	case HitReserved:
		return "HIT_RESERVED"
	case SectorMiss:
		return "SECTOR_MISS"
	case Miss:
		return "MISS"
	case ReservationFail:
		return "RESERVATION_FAIL"
	case PortBusy:
		return "PORT_BUSY"
	case Filled:
		return "FILLED"
	default:
		return "UNKNOWN"
	}
}

// EventKind is the kind of traffic an access sends to the next level.
type EventKind uint8

// Events produced by Access and Flush.
const (
	EventReadRequest EventKind = iota
	EventWriteRequest
	EventWriteBack
)

func (k EventKind) String() string {
	switch k {
	case EventReadRequest:
		return "read-request"
	case EventWriteRequest:
		return "write-request"
	case EventWriteBack:
		return "write-back"
	default:
		return "unknown"
	}
}

// Event is a request the owner must forward to the next level. Req is nil
// for write-backs of evicted lines.
type Event struct {
	Kind EventKind
	Addr uint64
	Size int
	Req  *Request
}

// AccessResult is the outcome of Access.
type AccessResult struct {
	Status Status
	Events []Event

	// Waiting is set when the request was parked in the MSHR. It is handed
	// back through PopReady once the block is filled.
	Waiting bool
}

// WritesThrough returns true if the request itself was forwarded as a
// write and completes on the next level's acknowledgement.
func (r AccessResult) WritesThrough() bool {
	for _, e := range r.Events {
		if e.Kind == EventWriteRequest {
			return true
		}
	}

	return false
}
