package pipeline

import "sync/atomic"

// Stats 流水线计数
type Stats struct {
	Received     int64
	Decoded      int64
	DecodeErrors int64
	Unsupported  int64
	Routed       int64
	Persisted    int64
	StoreErrors  int64
	HandedOff    int64
	Dropped      int64
}

type counters struct {
	received     atomic.Int64
	decoded      atomic.Int64
	decodeErrors atomic.Int64
	unsupported  atomic.Int64
	routed       atomic.Int64
	persisted    atomic.Int64
	storeErrors  atomic.Int64
	handedOff    atomic.Int64
	dropped      atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Received:     c.received.Load(),
		Decoded:      c.decoded.Load(),
		DecodeErrors: c.decodeErrors.Load(),
		Unsupported:  c.unsupported.Load(),
		Routed:       c.routed.Load(),
		Persisted:    c.persisted.Load(),
		StoreErrors:  c.storeErrors.Load(),
		HandedOff:    c.handedOff.Load(),
		Dropped:      c.dropped.Load(),
	}
}
