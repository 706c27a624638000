package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// dataFrameRe mirrors `^(?:(\d+)/(\d+))?\|(\d+)\|(.+)$`: an optional
// count/total pair, the tag, and the payload slice.
var dataFrameRe = regexp.MustCompile(`^(?:(\d+)/(\d+))?\|(\d+)\|(.+)$`)

// ackFrameRe matches a bare acknowledgement frame: `ACK:<tag>`.
var ackFrameRe = regexp.MustCompile(`^ACK:(\d+)$`)

// FrameKind distinguishes the two on-air shapes a decoded Frame can take.
type FrameKind int

const (
	DataFrame FrameKind = iota
	AckFrame
)

// Frame is one parsed on-air unit: either a data fragment or a bare ack.
type Frame struct {
	Kind FrameKind

	// Data frame fields. Count and Total are both 0 for a single-frame
	// message (the regex's optional group was absent).
	Count int
	Total int
	Tag   int
	Data  string

	// AckTag is populated only for Kind == AckFrame.
	AckTag int
}

// EncodeData renders a data frame's wire text.
func EncodeData(count, total, tag int, data string) string {
	if count == 0 && total == 0 {
		return fmt.Sprintf("|%d|%s", tag, data)
	}
	return fmt.Sprintf("%d/%d|%d|%s", count, total, tag, data)
}

// EncodeAck renders an acknowledgement frame's wire text.
func EncodeAck(tag int) string {
	return fmt.Sprintf("ACK:%d", tag)
}

// DecodeFrame parses one line of on-air frame text. A frame that matches
// neither shape returns ErrMalformedFrame; callers are expected to log
// and drop it rather than propagate it further.
func DecodeFrame(text string) (Frame, error) {
	if m := ackFrameRe.FindStringSubmatch(text); m != nil {
		tag, err := strconv.Atoi(m[1])
		if err != nil {
			return Frame{}, fmt.Errorf("%w: bad ack tag %q", ErrMalformedFrame, m[1])
		}
		return Frame{Kind: AckFrame, AckTag: tag}, nil
	}

	m := dataFrameRe.FindStringSubmatch(text)
	if m == nil {
		return Frame{}, fmt.Errorf("%w: %q", ErrMalformedFrame, text)
	}

	var count, total int
	var err error
	if m[1] != "" {
		count, err = strconv.Atoi(m[1])
		if err != nil {
			return Frame{}, fmt.Errorf("%w: bad count %q", ErrMalformedFrame, m[1])
		}
		total, err = strconv.Atoi(m[2])
		if err != nil {
			return Frame{}, fmt.Errorf("%w: bad total %q", ErrMalformedFrame, m[2])
		}
	}
	tag, err := strconv.Atoi(m[3])
	if err != nil {
		return Frame{}, fmt.Errorf("%w: bad tag %q", ErrMalformedFrame, m[3])
	}

	return Frame{Kind: DataFrame, Count: count, Total: total, Tag: tag, Data: m[4]}, nil
}

// ParseAckTag reports whether text is a bare ack frame and, if so, the
// tag it acknowledges. It's a thin convenience over DecodeFrame for
// callers that only care about routing acks before bothering with
// reassembly.
func ParseAckTag(text string) (tag int, ok bool) {
	f, err := DecodeFrame(text)
	if err != nil || f.Kind != AckFrame {
		return 0, false
	}
	return f.AckTag, true
}

// splitChunks breaks text into contiguous slices of at most n bytes each.
func splitChunks(text string, n int) []string {
	if len(text) <= n {
		return []string{text}
	}
	chunks := make([]string, 0, (len(text)+n-1)/n)
	for len(text) > 0 {
		cut := n
		if cut > len(text) {
			cut = len(text)
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks
}

// joinSlots concatenates a completed reassembly buffer's slots in order.
func joinSlots(slots []string) string {
	return strings.Join(slots, "")
}
