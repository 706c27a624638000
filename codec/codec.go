package codec

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Codec owns fragment reassembly state and tag allocation for one
// radio link. It is safe for concurrent use: the encode path is
// serialized internally, and decode is expected to be driven by a
// single consumer loop per §5's concurrency model, but the mutex makes
// it safe regardless.
type Codec struct {
	cfg   Config
	tags  *tagAllocator
	log   *log.Logger

	mu      sync.Mutex
	buffers map[int]*reassemblyBuffer

	// AckTags receives one tag per successfully decoded ack-bearing
	// fragment (duplicates included, per spec).
	AckTags chan int

	framesDecoded  prometheus.Counter
	framesDropped  prometheus.Counter
	staleDiscards  prometheus.Counter
	ackEmissions   prometheus.Counter
}

// NewCodec builds a Codec with a bounded ack-emission channel.
func NewCodec(cfg Config, logger *log.Logger) *Codec {
	if logger == nil {
		logger = log.Default()
	}
	return &Codec{
		cfg:     cfg,
		tags:    newTagAllocator(cfg),
		log:     logger.WithPrefix("codec"),
		buffers: make(map[int]*reassemblyBuffer),
		AckTags: make(chan int, 64),
		framesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_codec_frames_decoded_total",
			Help: "Data frames successfully decoded.",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_codec_frames_dropped_total",
			Help: "Frames dropped for failing to parse.",
		}),
		staleDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_codec_stale_discards_total",
			Help: "Reassembly buffers discarded as stale.",
		}),
		ackEmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_codec_ack_emissions_total",
			Help: "Tags pushed to the ack-emission channel.",
		}),
	}
}

// Collectors exposes the codec's prometheus collectors for registration
// by the host.
func (c *Codec) Collectors() []prometheus.Collector {
	return []prometheus.Collector{c.framesDecoded, c.framesDropped, c.staleDiscards, c.ackEmissions}
}

// Encode fragments record text into one or more on-air frame strings. It
// allocates a tag from the appropriate range unless tag is non-nil, in
// which case that exact tag is reused (retransmit's identity
// preservation requirement). It returns the frames in send order and the
// tag used.
func (c *Codec) Encode(text string, ackNeeded bool, reuseTag *int) (frames []string, tag int) {
	if reuseTag != nil {
		tag = *reuseTag
	} else {
		tag = c.tags.allocate(ackNeeded)
	}

	if len(text) <= c.cfg.SplitLength {
		return []string{EncodeData(0, 0, tag, text)}, tag
	}

	chunks := splitChunks(text, c.cfg.SplitLength)
	total := len(chunks)
	frames = make([]string, total)
	for i, chunk := range chunks {
		frames[i] = EncodeData(i+1, total, tag, chunk)
	}
	return frames, tag
}

// NeedsAck reports whether tag falls in the acknowledgement-bearing
// range under this codec's configuration.
func (c *Codec) NeedsAck(tag int) bool {
	return c.cfg.needsAck(tag)
}

// Decode consumes one line of inbound frame text. It returns a completed
// record text when a message is finished (either a single-frame arrival
// or the final fragment of a multi-frame one); ok is false when the
// frame merely updated in-progress buffer state or failed to parse.
// Parse failures are logged and swallowed, matching the codec's
// never-propagate-a-single-defect policy.
func (c *Codec) Decode(frameText string) (recordText string, ok bool) {
	f, err := DecodeFrame(frameText)
	if err != nil {
		c.framesDropped.Inc()
		c.log.Warn("dropping malformed frame", "text", frameText, "err", err)
		return "", false
	}
	if f.Kind == AckFrame {
		// Ack frames are handled by the scheduler's pending-ack table,
		// not by the codec's reassembly path; callers dispatch on Kind
		// via DecodeFrame directly when they need the ack tag. Decode
		// only ever completes data frames.
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.framesDecoded.Inc()

	if f.Count == 0 && f.Total == 0 {
		if _, exists := c.buffers[f.Tag]; exists {
			c.staleDiscards.Inc()
			c.log.Warn("discarding stale reassembly buffer on single-frame arrival", "tag", f.Tag)
			delete(c.buffers, f.Tag)
		}
		c.emitAckLocked(f.Tag)
		return f.Data, true
	}

	buf, exists := c.buffers[f.Tag]
	if !exists || buf.total != f.Total {
		if exists {
			c.staleDiscards.Inc()
			c.log.Warn("discarding stale reassembly buffer on total mismatch", "tag", f.Tag, "old_total", buf.total, "new_total", f.Total)
		}
		buf = newReassemblyBuffer(f.Total)
		c.buffers[f.Tag] = buf
	}

	buf.put(f.Count-1, f.Data)
	c.emitAckLocked(f.Tag)

	if buf.complete() {
		delete(c.buffers, f.Tag)
		return joinSlots(buf.slots), true
	}
	return "", false
}

// emitAckLocked pushes tag to AckTags when it falls in the ack-bearing
// range. Called with c.mu held; the send itself happens off-lock isn't
// necessary since AckTags is buffered and this is the only writer.
func (c *Codec) emitAckLocked(tag int) {
	if !c.cfg.needsAck(tag) {
		return
	}
	c.ackEmissions.Inc()
	select {
	case c.AckTags <- tag:
	default:
		c.log.Warn("ack-emission channel full, dropping ack notification", "tag", tag)
	}
}
