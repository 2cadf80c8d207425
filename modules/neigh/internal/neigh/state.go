package neigh

// State is a lifecycle state of a neighbour entry.
type State uint8

const (
	// StatePending means address resolution is in flight and no link-layer
	// address has been verified yet.
	StatePending State = iota
	// StateReachable means the link-layer address is verified and in use.
	StateReachable
	// StateStale means the link-layer address was verified, but not
	// confirmed within the reachability window.
	StateStale
	// StateProbe means a unicast re-verification of a stale entry is in
	// flight.
	StateProbe
	// StateExpired is terminal. The entry is removed from the next table
	// version.
	StateExpired
)

// String returns string representation of this state.
func (m State) String() string {
	switch m {
	case StatePending:
		return "PENDING"
	case StateReachable:
		return "REACHABLE"
	case StateStale:
		return "STALE"
	case StateProbe:
		return "PROBE"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Programmable reports whether entries in this state must be present in
// the hardware host table.
func (m State) Programmable() bool {
	switch m {
	case StateReachable, StateStale, StateProbe:
		return true
	default:
		return false
	}
}

// Retrying reports whether entries in this state count retries.
func (m State) Retrying() bool {
	return m == StatePending || m == StateProbe
}

func stateBit(s State) uint8 {
	return 1 << s
}

// transitions maps a state to the set of states it may move to.
//
// Self-loops are the in-state updates: a PENDING or PROBE retry and a
// REACHABLE refresh.
var transitions = [...]uint8{
	StatePending:   stateBit(StatePending) | stateBit(StateReachable) | stateBit(StateExpired),
	StateReachable: stateBit(StateReachable) | stateBit(StateStale) | stateBit(StateExpired),
	StateStale:     stateBit(StateReachable) | stateBit(StateProbe) | stateBit(StateExpired),
	StateProbe:     stateBit(StateProbe) | stateBit(StateReachable) | stateBit(StateExpired),
	StateExpired:   0,
}

// CanTransition reports whether an entry may move from this state to the
// given one.
func (m State) CanTransition(to State) bool {
	if int(m) >= len(transitions) || to > StateExpired {
		return false
	}
	return transitions[m]&stateBit(to) != 0
}

// Origin classifies how an entry came to exist.
type Origin uint8

const (
	// OriginResolved entries were actively resolved by this switch.
	OriginResolved Origin = iota
	// OriginLearned entries were learned from traffic not solicited by us.
	OriginLearned
	// OriginStatic entries come from configuration and never age.
	OriginStatic
)

// String returns string representation of this origin.
func (m Origin) String() string {
	switch m {
	case OriginResolved:
		return "resolved"
	case OriginLearned:
		return "learned"
	case OriginStatic:
		return "static"
	default:
		return "unknown"
	}
}
