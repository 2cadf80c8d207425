package engine

import (
	"container/heap"
	"net/netip"
	"time"
)

type timer struct {
	addr netip.Addr
	due  time.Time
	seq  uint64
}

// timerHeap is a min-heap of timers ordered by due time, then by arming
// order.
type timerHeap []timer

func (m timerHeap) Len() int {
	return len(m)
}

func (m timerHeap) Less(i, j int) bool {
	if m[i].due.Equal(m[j].due) {
		return m[i].seq < m[j].seq
	}
	return m[i].due.Before(m[j].due)
}

func (m timerHeap) Swap(i, j int) {
	m[i], m[j] = m[j], m[i]
}

func (m *timerHeap) Push(x any) {
	*m = append(*m, x.(timer))
}

func (m *timerHeap) Pop() any {
	old := *m
	n := len(old)
	item := old[n-1]
	*m = old[:n-1]
	return item
}

// schedule holds at most one live timer per address.
//
// Re-arming or disarming an address does not touch the heap: superseded
// timers stay in it and are skipped when they come due.
type schedule struct {
	timers timerHeap
	armed  map[netip.Addr]uint64
	seq    uint64
}

func newSchedule() *schedule {
	return &schedule{
		armed: map[netip.Addr]uint64{},
	}
}

// Arm schedules a timer for the given address, superseding any previous one.
func (m *schedule) Arm(addr netip.Addr, due time.Time) {
	m.seq++
	m.armed[addr] = m.seq
	heap.Push(&m.timers, timer{addr: addr, due: due, seq: m.seq})
}

// Disarm cancels the timer of the given address.
func (m *schedule) Disarm(addr netip.Addr) {
	delete(m.armed, addr)
}

// Armed reports whether the given address has a live timer.
func (m *schedule) Armed(addr netip.Addr) bool {
	_, ok := m.armed[addr]
	return ok
}

// Next returns the due time of the earliest live timer.
func (m *schedule) Next() (time.Time, bool) {
	for m.timers.Len() > 0 {
		top := m.timers[0]
		if m.armed[top.addr] == top.seq {
			return top.due, true
		}
		heap.Pop(&m.timers)
	}
	return time.Time{}, false
}

// PopDue removes and returns the earliest live timer due at or before now.
func (m *schedule) PopDue(now time.Time) (timer, bool) {
	for m.timers.Len() > 0 {
		top := m.timers[0]
		if m.armed[top.addr] != top.seq {
			heap.Pop(&m.timers)
			continue
		}
		if top.due.After(now) {
			return timer{}, false
		}

		heap.Pop(&m.timers)
		delete(m.armed, top.addr)
		return top, true
	}
	return timer{}, false
}

// Len returns the number of live timers.
func (m *schedule) Len() int {
	return len(m.armed)
}
