package codec

import "sync"

// tagAllocator hands out tags from two disjoint, independently wrapping
// ranges: nack tags in [1, ackThreshold) and ack tags in
// [ackThreshold, maxTag). Allocation is serialized with encoding, so a
// plain mutex is enough — there is no cross-loop contention beyond what
// the encode path already imposes.
type tagAllocator struct {
	mu           sync.Mutex
	ackThreshold int
	maxTag       int
	nextNack     int
	nextAck      int
}

func newTagAllocator(cfg Config) *tagAllocator {
	return &tagAllocator{
		ackThreshold: cfg.AckThreshold,
		maxTag:       cfg.MaxTag,
		nextNack:     1,
		nextAck:      cfg.AckThreshold,
	}
}

// allocate returns the next tag in the nack range, or the ack range when
// ackNeeded is true.
func (a *tagAllocator) allocate(ackNeeded bool) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ackNeeded {
		tag := a.nextAck
		a.nextAck++
		if a.nextAck >= a.maxTag {
			a.nextAck = a.ackThreshold
		}
		return tag
	}

	tag := a.nextNack
	a.nextNack++
	if a.nextNack >= a.ackThreshold {
		a.nextNack = 1
	}
	return tag
}

// needsAck reports whether tag falls in the acknowledgement-bearing
// range for the allocator's configured threshold.
func (cfg Config) needsAck(tag int) bool {
	return tag >= cfg.AckThreshold
}
