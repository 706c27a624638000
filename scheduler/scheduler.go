package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/qsgrc/telemetry-core/codec"
)

// RadioSender is the minimal surface the scheduler needs from a radio
// driver: transmit one frame to an address.
type RadioSender interface {
	Send(address int, data string) error
}

// Scheduler arbitrates the three priority queues, drives retransmission
// of ack-bearing frames, and forwards the codec's ack emissions at
// IMMEDIATE priority.
type Scheduler struct {
	cfg    Config
	codec  *codec.Codec
	sender RadioSender
	log    *log.Logger

	immediate *frameQueue
	high      *frameQueue
	low       *frameQueue

	pending *pendingAckTable

	highStreak int
	streakMu   sync.Mutex

	framesSent       prometheus.Counter
	framesRetried    prometheus.Counter
	framesAbandoned  prometheus.Counter
	pendingAckGauge  prometheus.Gauge
}

// NewScheduler wires a Scheduler to an already-constructed Codec and
// RadioSender.
func NewScheduler(cfg Config, c *codec.Codec, sender RadioSender, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		codec:     c,
		sender:    sender,
		log:       logger.WithPrefix("scheduler"),
		immediate: newFrameQueue(256),
		high:      newFrameQueue(256),
		low:       newFrameQueue(256),
		pending:   newPendingAckTable(),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_scheduler_frames_sent_total",
			Help: "Frames handed to the radio driver.",
		}),
		framesRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_scheduler_frames_retried_total",
			Help: "Retransmit attempts made by the resend monitor.",
		}),
		framesAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_scheduler_frames_abandoned_total",
			Help: "Ack-bearing frames dropped after exhausting retries.",
		}),
		pendingAckGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_scheduler_pending_acks",
			Help: "Current size of the pending-ack table.",
		}),
	}
}

// Collectors exposes the scheduler's prometheus collectors for
// registration by the host.
func (s *Scheduler) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.framesSent, s.framesRetried, s.framesAbandoned, s.pendingAckGauge}
}

// Enqueue fragments record text via the codec and pushes the resulting
// frame(s) onto the named priority queue. Fragments of one record share
// a tag and are pushed in count order; if the allocated tag falls in
// the ack-bearing range, the record is registered in the pending-ack
// table for the retransmit monitor to track.
func (s *Scheduler) Enqueue(recordText string, ackNeeded bool, priority Priority) int {
	frames, tag := s.codec.Encode(recordText, ackNeeded, nil)
	s.pushFrames(frames, priority)

	if s.codec.NeedsAck(tag) {
		s.pending.insert(tag, priority, recordText, s.cfg.ResendInterval)
		s.pendingAckGauge.Set(float64(s.pending.size()))
	}
	return tag
}

func (s *Scheduler) pushFrames(frames []string, priority Priority) {
	q := s.queueFor(priority)
	for _, f := range frames {
		q.push(f)
	}
}

func (s *Scheduler) queueFor(priority Priority) *frameQueue {
	switch priority {
	case Immediate:
		return s.immediate
	case High:
		return s.high
	default:
		return s.low
	}
}

// AckReceived notifies the scheduler that tag has been acknowledged,
// removing it from the pending-ack table. Safe to call more than once
// for the same tag.
func (s *Scheduler) AckReceived(tag int) {
	s.pending.ackReceived(tag)
	s.pendingAckGauge.Set(float64(s.pending.size()))
}

// PendingAckCount reports the current size of the pending-ack table,
// mostly useful for tests asserting retransmit bookkeeping.
func (s *Scheduler) PendingAckCount() int {
	return s.pending.size()
}

// Run launches the transmit loop, the ack-emission loop, and the
// retransmit monitor, blocking until ctx is cancelled. A radio send
// error is logged and the transmit loop continues; panics are not
// recovered. Cancellation unwinds all three.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.transmitLoop(ctx) }()
	go func() { defer wg.Done(); s.ackEmissionLoop(ctx) }()
	go func() { defer wg.Done(); s.retransmitLoop(ctx) }()
	wg.Wait()
}

// transmitLoop implements the corrected priority arbitration: consult
// IMMEDIATE first on every iteration; only when IMMEDIATE is empty does
// the HIGH-streak guard apply; LOW gets a frame whenever HIGH is either
// exhausted or the streak limit is reached. The streak resets exactly
// when a non-HIGH frame is served or the limit is hit — never merely
// because HIGH's queue momentarily drained.
func (s *Scheduler) transmitLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, origin, ok := s.selectFrame()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.TransmitIdle):
			}
			continue
		}

		if err := s.sender.Send(s.cfg.TargetAddress, frame); err != nil {
			s.log.Error("radio send failed", "origin", origin, "err", err)
		} else {
			s.framesSent.Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.PostSend):
		}
	}
}

// selectFrame applies the four-step algorithm from a single entry
// point, so the streak's increment/reset is never conditioned on
// anything but which branch actually fired.
func (s *Scheduler) selectFrame() (frame string, origin Priority, ok bool) {
	if f, ok := s.immediate.tryPop(); ok {
		s.resetStreak()
		return f, Immediate, true
	}

	s.streakMu.Lock()
	streakOK := s.highStreak < s.cfg.HighPrioritySendLimit
	s.streakMu.Unlock()

	if streakOK {
		if f, ok := s.high.tryPop(); ok {
			s.incrementStreak()
			return f, High, true
		}
	}

	if f, ok := s.low.tryPop(); ok {
		s.resetStreak()
		return f, Low, true
	}

	if !streakOK {
		// The limit was hit and LOW had nothing to send: start a fresh
		// streak rather than stalling HIGH.
		if f, ok := s.high.tryPop(); ok {
			s.resetStreak()
			s.incrementStreak()
			return f, High, true
		}
	}

	return "", 0, false
}

func (s *Scheduler) incrementStreak() {
	s.streakMu.Lock()
	s.highStreak++
	s.streakMu.Unlock()
}

func (s *Scheduler) resetStreak() {
	s.streakMu.Lock()
	s.highStreak = 0
	s.streakMu.Unlock()
}

// ackEmissionLoop drains the codec's ack-emission channel and pushes
// each tag onto IMMEDIATE as an `ACK:<tag>` frame; acks always preempt
// data frames.
func (s *Scheduler) ackEmissionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tag, ok := <-s.codec.AckTags:
			if !ok {
				return
			}
			s.immediate.push(codec.EncodeAck(tag))
		}
	}
}

// retransmitLoop walks the pending-ack table every AckPollInterval.
// Entries past their deadline are either dropped (retries exhausted) or
// re-fragmented with the SAME tag and re-enqueued, promoted to HIGH if
// their origin was LOW (a late LOW frame is more valuable than a fresh
// one) or left at IMMEDIATE if that was the origin.
func (s *Scheduler) retransmitLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.AckPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.retransmitExpired()
		}
	}
}

func (s *Scheduler) retransmitExpired() {
	now := time.Now()
	for _, tag := range s.pending.expired(now) {
		entry, ok := s.pending.get(tag)
		if !ok {
			continue
		}

		if entry.attempts >= s.cfg.MaxRetries {
			s.log.Warn("ack exhausted, abandoning record", "tag", tag, "attempts", entry.attempts)
			s.pending.remove(tag)
			s.framesAbandoned.Inc()
			s.pendingAckGauge.Set(float64(s.pending.size()))
			continue
		}

		reuseTag := tag
		frames, _ := s.codec.Encode(entry.text, true, &reuseTag)

		resendOrigin := entry.origin
		if resendOrigin == Low {
			resendOrigin = High
		}
		s.pushFrames(frames, resendOrigin)

		attempts := entry.attempts + 1
		s.pending.reinsert(tag, entry.origin, entry.text, attempts, s.cfg.ResendInterval)
		s.framesRetried.Inc()
		s.log.Info("resending unacked record", "tag", tag, "attempt", attempts)
	}
}
