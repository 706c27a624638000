// Package codec translates between typed record text and the frames that
// fit in one 240-byte radio payload: fragmenting oversize records on the
// way out, reassembling fragments on the way in, and tracking which tags
// need an acknowledgement.
package codec

// Config holds the tunables that govern framing, tagging, and
// acknowledgement. Zero-value Config is invalid; use DefaultConfig.
type Config struct {
	// SplitLength is the maximum payload size of a single frame's TEXT
	// slice, leaving headroom under the radio's 240-byte cap for the
	// leading `count/total|tag|` header.
	SplitLength int
	// AckThreshold is the tag value at and above which a frame demands
	// acknowledgement.
	AckThreshold int
	// MaxTag is the exclusive upper bound of the tag space.
	MaxTag int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		SplitLength:  220,
		AckThreshold: 50,
		MaxTag:       100,
	}
}
