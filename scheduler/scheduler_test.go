package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qsgrc/telemetry-core/codec"
)

// recordingSender captures every frame handed to it in order. It never
// produces acks, so a test decides when (or whether) to call AckReceived.
type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) Send(address int, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, data)
	return nil
}

func (r *recordingSender) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	copy(out, r.sent)
	return out
}

func testCodec(t *testing.T) *codec.Codec {
	t.Helper()
	return codec.NewCodec(codec.DefaultConfig(), log.Default())
}

func fastConfig() Config {
	cfg := DefaultConfig(7)
	cfg.TransmitIdle = 5 * time.Millisecond
	cfg.PostSend = time.Millisecond
	cfg.AckPollInterval = 20 * time.Millisecond
	cfg.ResendInterval = 40 * time.Millisecond
	cfg.HighPrioritySendLimit = 3
	return cfg
}

func TestScheduler_LowNotStarvedBeyondHighLimit(t *testing.T) {
	c := testCodec(t)
	sender := &recordingSender{}
	s := NewScheduler(fastConfig(), c, sender, log.Default())

	for i := 0; i < 5; i++ {
		s.Enqueue(fmt.Sprintf("LOW:%d", i), false, Low)
	}
	for i := 0; i < 3; i++ {
		s.Enqueue(fmt.Sprintf("HIGH:%d", i), false, High)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	sent := sender.snapshot()
	require.GreaterOrEqual(t, len(sent), 8)

	// HIGH must never run for more than HighPrioritySendLimit frames in a
	// row without a LOW (or IMMEDIATE) frame interleaved.
	streak := 0
	for _, frame := range sent {
		if containsPrefix(frame, "HIGH:") {
			streak++
			assert.LessOrEqual(t, streak, 3)
		} else {
			streak = 0
		}
	}
}

func TestScheduler_ImmediatePreemptsMidDrain(t *testing.T) {
	c := testCodec(t)
	sender := &recordingSender{}
	s := NewScheduler(fastConfig(), c, sender, log.Default())

	for i := 0; i < 5; i++ {
		s.Enqueue(fmt.Sprintf("LOW:%d", i), false, Low)
	}
	for i := 0; i < 3; i++ {
		s.Enqueue(fmt.Sprintf("HIGH:%d", i), false, High)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Enqueue("IMMEDIATE:0", false, Immediate)
	}()
	defer cancel()
	s.Run(ctx)

	sent := sender.snapshot()
	found := false
	for _, frame := range sent {
		if containsPrefix(frame, "IMMEDIATE:") {
			found = true
			break
		}
	}
	assert.True(t, found, "expected the injected IMMEDIATE frame to be sent")
}

func TestScheduler_RetransmitsWithSameTagThenStops(t *testing.T) {
	c := testCodec(t)
	sender := &recordingSender{}
	cfg := fastConfig()
	s := NewScheduler(cfg, c, sender, log.Default())

	tag := s.Enqueue("X:needs-ack", true, High)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	go func() {
		time.Sleep(110 * time.Millisecond)
		s.AckReceived(tag)
	}()
	defer cancel()
	s.Run(ctx)

	sent := sender.snapshot()
	tagFrame := fmt.Sprintf("|%d|", tag)
	count := 0
	for _, frame := range sent {
		if containsSub(frame, tagFrame) {
			count++
		}
	}
	assert.GreaterOrEqual(t, count, 2, "expected at least one retransmit beyond the initial send")
	assert.Equal(t, 0, s.PendingAckCount())
}

func TestScheduler_DropsAfterMaxRetries(t *testing.T) {
	c := testCodec(t)
	sender := &recordingSender{}
	cfg := fastConfig()
	cfg.MaxRetries = 2
	s := NewScheduler(cfg, c, sender, log.Default())

	s.Enqueue("X:never-acked", true, High)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, 0, s.PendingAckCount(), "entry should be dropped after exhausting retries")
}

func containsPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func containsSub(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
