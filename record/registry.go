package record

import "fmt"

// Parser builds a Record from its full wire text (`LEADER:NAME=VALUE`).
type Parser func(data string) (Record, error)

// registry maps LEADER to the parser for that record class. Populated by
// each record type's init(), which panics on a duplicate leader — the
// registry is assembled once at program startup, so a collision is a
// programming error, not a runtime condition to recover from.
var registry = make(map[string]Parser)

// MustRegister installs a parser for leader. It panics if leader is
// already registered, per spec: "a parser must reject duplicates at
// registration time."
func MustRegister(leader string, p Parser) {
	if _, exists := registry[leader]; exists {
		panic(fmt.Sprintf("record: duplicate leader registration: %s", leader))
	}
	registry[leader] = p
}

// Unpack parses text into the Record its leader identifies.
func Unpack(text string) (Record, error) {
	m := leaderRe.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, text)
	}
	leader := m[1]
	parser, ok := registry[leader]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLeader, leader)
	}
	return parser(text)
}
