// Package record implements the typed, self-describing text messages
// exchanged over the telemetry link: `LEADER:NAME=VALUE`.
//
// Records are immutable once constructed. Each concrete type owns its
// LEADER tag and the internal structure of its VALUE; Unpack dispatches to
// the right parser via the package Registry.
package record

import (
	"errors"
	"fmt"
	"regexp"
)

// matchRe mirrors the original implementation's BaseMessage.match_re:
// LEADER is uppercase alphanumeric, NAME is alphanumeric, VALUE is opaque.
var matchRe = regexp.MustCompile(`^([A-Z0-9]+):([a-zA-Z0-9]+)=(.*)$`)

var leaderRe = regexp.MustCompile(`^([A-Z0-9]+):`)

// ErrInvalidFormat is returned when text doesn't match the record grammar
// at all (no recognizable `LEADER:` prefix).
var ErrInvalidFormat = errors.New("record: invalid format")

// ErrUnknownLeader is returned when the leader doesn't match any
// registered record type.
var ErrUnknownLeader = errors.New("record: unknown leader")

// Record is the common surface every concrete message type implements.
type Record interface {
	Leader() string
	Name() string
	Value() string
}

// Format renders a Record in its wire form: `LEADER:NAME=VALUE`.
func Format(r Record) string {
	return fmt.Sprintf("%s:%s=%s", r.Leader(), r.Name(), r.Value())
}

// base carries the name/value pair shared by every record type. Concrete
// types embed it and supply their own Leader().
type base struct {
	name  string
	value string
}

func (b base) Name() string  { return b.name }
func (b base) Value() string { return b.value }

// matchNamedValue applies matchRe and additionally checks the leader and
// (when wantName is non-empty) the fixed name a class requires.
func matchNamedValue(leader, wantName, data string) (name, value string, err error) {
	m := matchRe.FindStringSubmatch(data)
	if m == nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidFormat, data)
	}
	if m[1] != leader {
		return "", "", fmt.Errorf("record: leader mismatch: %s != %s", leader, m[1])
	}
	name, value = m[2], m[3]
	if wantName != "" && name != wantName {
		return "", "", fmt.Errorf("record: name mismatch: %s != %s", wantName, name)
	}
	return name, value, nil
}
