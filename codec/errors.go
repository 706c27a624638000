package codec

import "errors"

// ErrMalformedFrame is returned by DecodeFrame for text matching neither
// the data-frame nor ack-frame grammar.
var ErrMalformedFrame = errors.New("codec: malformed frame")
