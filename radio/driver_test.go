package radio

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hostserial "github.com/qsgrc/telemetry-core/serial"
)

// fakeModem is an in-memory serial.Port standing in for the modem: it
// lets a test script canned reply lines in response to commands the
// driver writes, and lets a test inject spontaneous lines (`+READY`,
// `+RCV=...`) independent of any command.
type fakeModem struct {
	mu        sync.Mutex
	toDriverW *writerPipe
	written   []string
	respond   func(cmd string) string // optional canned-reply hook
}

type writerPipe struct {
	mu   sync.Mutex
	data []byte
	cond *sync.Cond
}

func newWriterPipe() *writerPipe {
	w := &writerPipe{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *writerPipe) push(s string) {
	w.mu.Lock()
	w.data = append(w.data, []byte(s)...)
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *writerPipe) Read(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.data) == 0 {
		w.cond.Wait()
	}
	n := copy(p, w.data)
	w.data = w.data[n:]
	return n, nil
}

func newFakeModem() *fakeModem {
	return &fakeModem{toDriverW: newWriterPipe()}
}

func (f *fakeModem) Read(p []byte) (int, error)  { return f.toDriverW.Read(p) }
func (f *fakeModem) Close() error                { return nil }
func (f *fakeModem) Flush() error                { return nil }

func (f *fakeModem) Write(p []byte) (int, error) {
	f.mu.Lock()
	line := strings.TrimRight(string(p), "\r\n")
	f.written = append(f.written, line)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		if reply := respond(line); reply != "" {
			f.toDriverW.push(reply + "\r\n")
		}
	}
	return len(p), nil
}

func (f *fakeModem) lastWritten() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	copy(out, f.written)
	return out
}

var _ hostserial.Port = (*fakeModem)(nil)

// stopReceiveLoop clears the run flag and pushes a throwaway line so the
// loop's blocked read returns and it observes the flag on its next pass,
// rather than relying on Driver.Stop's own (slower) unblock-via-Ping path.
func stopReceiveLoop(d *Driver, modem *fakeModem) {
	d.running.Store(false)
	modem.toDriverW.push("\r\n")
	<-d.stopDone
}

func newTestDriver(t *testing.T, modem *fakeModem) *Driver {
	t.Helper()
	d := &Driver{
		cfg:            DefaultConfig("fake"),
		port:           modem,
		log:            log.Default(),
		commandReply:   make(chan string, 1),
		stopDone:       make(chan struct{}),
		ReceivedFrames: make(chan string, 64),
	}
	d.commandsSent = prometheus.NewCounter(prometheus.CounterOpts{Name: "test_commands_sent"})
	d.commandErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "test_command_errors"})
	d.commandTimeouts = prometheus.NewCounter(prometheus.CounterOpts{Name: "test_command_timeouts"})
	return d
}

func TestPing_SucceedsOnOKReply(t *testing.T) {
	modem := newFakeModem()
	modem.respond = func(cmd string) string {
		if cmd == "AT" {
			return "OK"
		}
		return ""
	}
	d := newTestDriver(t, modem)
	d.running.Store(true)
	go d.receiveLoop()
	defer stopReceiveLoop(d, modem)

	err := d.Ping()
	require.NoError(t, err)
	assert.True(t, d.ready.Load())
}

func TestSendCommand_TranslatesATErr(t *testing.T) {
	modem := newFakeModem()
	modem.respond = func(cmd string) string {
		if strings.HasPrefix(cmd, "AT+ADDRESS=") {
			return "+ERR=3"
		}
		return ""
	}
	d := newTestDriver(t, modem)
	d.running.Store(true)
	d.ready.Store(true)
	go d.receiveLoop()
	defer stopReceiveLoop(d, modem)

	err := d.SetAddress(42)
	require.Error(t, err)
	atErr, ok := err.(*ATError)
	require.True(t, ok)
	assert.Equal(t, 3, atErr.Code)
}

func TestSendCommand_NotReadyRejectsLocally(t *testing.T) {
	modem := newFakeModem()
	d := newTestDriver(t, modem)
	d.running.Store(true)
	go d.receiveLoop()
	defer stopReceiveLoop(d, modem)

	_, err := d.sendCommand("AT+ADDRESS?", false)
	assert.Equal(t, ErrNotReady, err)
	assert.Empty(t, modem.lastWritten())
}

func TestStartupHandshake_SendsCommandsInOrder(t *testing.T) {
	modem := newFakeModem()
	modem.respond = func(cmd string) string {
		switch {
		case cmd == "AT":
			return "OK"
		case strings.HasPrefix(cmd, "AT+NETWORKID="),
			strings.HasPrefix(cmd, "AT+PARAMETER="),
			strings.HasPrefix(cmd, "AT+ADDRESS="),
			strings.HasPrefix(cmd, "AT+CPIN="):
			return "OK"
		}
		return ""
	}
	cfg := DefaultConfig("fake")
	cfg.NetworkID = 2
	cfg.Address = 5
	cfg.SpreadingFactor, cfg.Bandwidth, cfg.CodingRate, cfg.Preamble = 10, 9, 1, 4
	cfg.Password = "trackday"

	d := newTestDriver(t, modem)
	d.cfg = cfg

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer stopReceiveLoop(d, modem)

	written := modem.lastWritten()
	require.GreaterOrEqual(t, len(written), 5)
	assert.Equal(t, "AT", written[0])
	assert.Equal(t, "AT+NETWORKID=2", written[1])
	assert.Equal(t, "AT+PARAMETER=10,9,1,4", written[2])
	assert.Equal(t, "AT+ADDRESS=5", written[3])
	assert.True(t, strings.HasPrefix(written[4], "AT+CPIN="))
	assert.Len(t, strings.TrimPrefix(written[4], "AT+CPIN="), 32)
}

func TestReceiveLoop_ClassifiesRCVFrames(t *testing.T) {
	modem := newFakeModem()
	d := newTestDriver(t, modem)
	d.running.Store(true)
	go d.receiveLoop()
	defer stopReceiveLoop(d, modem)

	modem.toDriverW.push("+RCV=10,5,hello,-80,9\r\n")

	select {
	case payload := <-d.ReceivedFrames:
		assert.Equal(t, "hello", payload)
	case <-time.After(time.Second):
		t.Fatal("expected a received frame")
	}
}
