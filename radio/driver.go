// Package radio drives an RYLR896-style LoRa modem over a serial port:
// a line-oriented AT command dialect with a spontaneous `+READY` on
// power-up, `+RCV=...` for inbound payloads, and `+ERR=<code>` for
// command failures. One goroutine owns the port's read side; every
// other caller serializes through a single send lock.
package radio

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	hostserial "github.com/qsgrc/telemetry-core/serial"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 5 * time.Second
	pingRetryDelay = 200 * time.Millisecond
	pingRetryBudget = 25 // attempts 200ms apart; each may also wait up to commandTimeout
	interCommandSpacing = 50 * time.Millisecond
)

// Driver owns one serial-connected modem.
type Driver struct {
	cfg  Config
	port hostserial.Port
	log  *log.Logger

	sendMu sync.Mutex

	ready   atomic.Bool
	running atomic.Bool

	commandReply chan string
	stopDone     chan struct{}

	// ReceivedFrames carries the verbatim payload of every `+RCV=...`
	// line; the codec drains it.
	ReceivedFrames chan string

	commandsSent    prometheus.Counter
	commandErrors   prometheus.Counter
	commandTimeouts prometheus.Counter
}

// NewDriver opens the serial port described by cfg and returns a Driver
// not yet started; call Start to launch the receive loop and run the
// handshake.
func NewDriver(cfg Config, logger *log.Logger) (*Driver, error) {
	port, err := hostserial.Open(&hostserial.Config{
		Device:      cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: 100,
	})
	if err != nil {
		return nil, fmt.Errorf("radio: open serial port: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	sessionID := xid.New().String()
	return &Driver{
		cfg:            cfg,
		port:           port,
		log:            logger.WithPrefix("radio").With("session", sessionID),
		commandReply:   make(chan string, 1),
		stopDone:       make(chan struct{}),
		ReceivedFrames: make(chan string, 64),
		commandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_radio_commands_sent_total",
			Help: "AT commands written to the modem.",
		}),
		commandErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_radio_command_errors_total",
			Help: "AT commands that returned +ERR.",
		}),
		commandTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_radio_command_timeouts_total",
			Help: "AT commands that timed out awaiting a reply.",
		}),
	}, nil
}

// Collectors exposes the driver's prometheus collectors for registration
// by the host.
func (d *Driver) Collectors() []prometheus.Collector {
	return []prometheus.Collector{d.commandsSent, d.commandErrors, d.commandTimeouts}
}

// Start launches the receive loop, pings the modem until it replies,
// then pushes network id, parameters, address, and the derived password
// in order with a short inter-command spacing.
func (d *Driver) Start(ctx context.Context) error {
	d.running.Store(true)
	go d.receiveLoop()

	if err := d.pingUntilReady(ctx); err != nil {
		return err
	}

	steps := []func() error{
		func() error { return d.SetNetworkID(d.cfg.NetworkID) },
		func() error {
			return d.SetParameters(d.cfg.SpreadingFactor, d.cfg.Bandwidth, d.cfg.CodingRate, d.cfg.Preamble)
		},
		func() error { return d.SetAddress(d.cfg.Address) },
	}
	if d.cfg.Password != "" {
		steps = append(steps, func() error { return d.SetPassword(d.cfg.Password) })
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
		time.Sleep(interCommandSpacing)
	}
	return nil
}

func (d *Driver) pingUntilReady(ctx context.Context) error {
	for attempt := 0; attempt < pingRetryBudget; attempt++ {
		if err := d.Ping(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pingRetryDelay):
		}
	}
	return fmt.Errorf("radio: modem did not become ready within the startup budget")
}

// Stop clears the run flag, sends one ping to unblock any pending read,
// waits up to stopTimeout for the receive loop to exit, then closes the
// port regardless.
func (d *Driver) Stop() error {
	d.running.Store(false)
	// Written directly: sendCommand refuses once running is false.
	d.sendMu.Lock()
	_, _ = d.port.Write([]byte("AT\r\n"))
	d.sendMu.Unlock()

	select {
	case <-d.stopDone:
	case <-time.After(stopTimeout):
		d.log.Warn("receive loop did not exit within the stop budget, closing port anyway")
	}
	return d.port.Close()
}

// Ping issues a bare `AT` and reports readiness; pinging is permitted
// even while the modem isn't marked ready yet, since that's exactly how
// the start-up handshake discovers readiness.
func (d *Driver) Ping() error {
	_, err := d.sendCommand("AT", true)
	if err != nil {
		d.ready.Store(false)
		return err
	}
	d.ready.Store(true)
	return nil
}

// SoftReset issues AT+RESET and clears the readiness flag; the modem is
// expected to re-emit `+READY` once it comes back up.
func (d *Driver) SoftReset() error {
	_, err := d.sendCommand("AT+RESET", false)
	d.ready.Store(false)
	return err
}

// Send transmits data to address (0 broadcasts to every address in the
// network). data must be ASCII and at most 240 bytes, matching the
// modem's one-frame payload cap.
func (d *Driver) Send(address int, data string) error {
	if address < 0 || address > 65535 {
		address = 0
	}
	if len(data) > 240 {
		return errTXDataOverflow
	}
	_, err := d.sendCommand(fmt.Sprintf("AT+SEND=%d,%d,%s", address, len(data), data), false)
	return err
}

func (d *Driver) SetAddress(address int) error {
	if err := validateAddress(address); err != nil {
		return err
	}
	_, err := d.sendCommand(fmt.Sprintf("AT+ADDRESS=%d", address), false)
	return err
}

func (d *Driver) GetAddress() (int, error) {
	reply, err := d.sendCommand("AT+ADDRESS?", false)
	if err != nil {
		return 0, err
	}
	return parseIntReply(reply)
}

func (d *Driver) SetNetworkID(networkID int) error {
	if err := validateNetworkID(networkID); err != nil {
		return err
	}
	_, err := d.sendCommand(fmt.Sprintf("AT+NETWORKID=%d", networkID), false)
	return err
}

func (d *Driver) GetNetworkID() (int, error) {
	reply, err := d.sendCommand("AT+NETWORKID?", false)
	if err != nil {
		return 0, err
	}
	return parseIntReply(reply)
}

func (d *Driver) SetBaud(rate int) error {
	if err := validateBaud(rate); err != nil {
		return err
	}
	_, err := d.sendCommand(fmt.Sprintf("AT+IPR=%d", rate), false)
	return err
}

func (d *Driver) GetBaud() (int, error) {
	reply, err := d.sendCommand("AT+IPR?", false)
	if err != nil {
		return 0, err
	}
	return parseIntReply(reply)
}

type Parameters struct {
	SpreadingFactor int
	Bandwidth       int
	CodingRate      int
	Preamble        int
}

func (d *Driver) SetParameters(spreadingFactor, bandwidth, codingRate, preamble int) error {
	if err := validateParameters(spreadingFactor, bandwidth, codingRate, preamble); err != nil {
		return err
	}
	_, err := d.sendCommand(fmt.Sprintf("AT+PARAMETER=%d,%d,%d,%d", spreadingFactor, bandwidth, codingRate, preamble), false)
	return err
}

func (d *Driver) GetParameters() (Parameters, error) {
	reply, err := d.sendCommand("AT+PARAMETER?", false)
	if err != nil {
		return Parameters{}, err
	}
	parts := strings.Split(replyValue(reply), ",")
	if len(parts) != 4 {
		return Parameters{}, fmt.Errorf("radio: malformed +PARAMETER reply: %q", reply)
	}
	nums := make([]int, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Parameters{}, fmt.Errorf("radio: malformed +PARAMETER reply: %q", reply)
		}
		nums[i] = n
	}
	return Parameters{SpreadingFactor: nums[0], Bandwidth: nums[1], CodingRate: nums[2], Preamble: nums[3]}, nil
}

func (d *Driver) SetFreq(freq Frequency) error {
	_, err := d.sendCommand(fmt.Sprintf("AT+BAND=%d", int(freq)), false)
	return err
}

func (d *Driver) GetFreq() (Frequency, error) {
	reply, err := d.sendCommand("AT+BAND?", false)
	if err != nil {
		return 0, err
	}
	value, err := parseIntReply(reply)
	if err != nil {
		return 0, err
	}
	return Frequency(value), nil
}

// SetPassword derives the modem's 32-hex-character AES key from an
// operator-facing source string via SHA-256 truncation and pushes it
// with AT+CPIN.
func (d *Driver) SetPassword(source string) error {
	sum := sha256.Sum256([]byte(source))
	key := hex.EncodeToString(sum[:])[:32]
	_, err := d.sendCommand(fmt.Sprintf("AT+CPIN=%s", key), false)
	return err
}

func (d *Driver) SetPower(power int) error {
	if err := validatePower(power); err != nil {
		return err
	}
	_, err := d.sendCommand(fmt.Sprintf("AT+CRFOP=%d", power), false)
	return err
}

func (d *Driver) GetPower() (int, error) {
	reply, err := d.sendCommand("AT+CRFOP?", false)
	if err != nil {
		return 0, err
	}
	return parseIntReply(reply)
}

// sendCommand serializes one command/reply round trip: drain any stale
// reply, write the line, await exactly one reply with a timeout. If the
// reply is a `+ERR=<n>` it is turned into the matching ATError;
// otherwise it's returned verbatim for the caller to parse.
func (d *Driver) sendCommand(line string, ignoreReady bool) (string, error) {
	if !d.running.Load() {
		return "", ErrReceiveLoopNotRunning
	}
	if !d.ready.Load() && !ignoreReady {
		return "", ErrNotReady
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	drainCommandReply(d.commandReply)

	d.log.Debug("sending", "command", line)
	if _, err := d.port.Write([]byte(line + "\r\n")); err != nil {
		return "", fmt.Errorf("radio: write: %w", err)
	}
	d.commandsSent.Inc()

	select {
	case reply := <-d.commandReply:
		d.log.Debug("reply received", "reply", reply)
		if strings.HasPrefix(reply, "+ERR") {
			d.commandErrors.Inc()
			code, _ := parseIntReply(reply)
			return "", errorByCodeOrUnknown(code)
		}
		return reply, nil
	case <-time.After(commandTimeout):
		d.commandTimeouts.Inc()
		return "", fmt.Errorf("radio: command %q timed out awaiting reply", line)
	}
}

func drainCommandReply(ch chan string) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// receiveLoop reads one line at a time for the driver's lifetime,
// classifying each into the error/ready/receive/other-reply streams.
// I/O errors are logged and the loop continues after a short sleep;
// only the caller's Stop (clearing running) ends it.
func (d *Driver) receiveLoop() {
	defer close(d.stopDone)
	reader := bufio.NewReader(d.port)

	for d.running.Load() {
		line, err := reader.ReadString('\n')
		if err != nil {
			d.log.Error("read line error", "err", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "+ERR"):
			d.log.Error("modem reported error", "line", line)
			d.pushCommandReply(line)
		case strings.HasPrefix(line, "+READY"):
			d.ready.Store(true)
		case strings.HasPrefix(line, "+RCV"):
			d.pushReceivedFrame(line)
		default:
			d.pushCommandReply(line)
		}
	}
}

func (d *Driver) pushCommandReply(line string) {
	select {
	case d.commandReply <- line:
	default:
		// A stale slot occupant means the prior sender already timed
		// out; replace it so the next sendCommand drains something
		// fresh rather than this leftover.
		drainCommandReply(d.commandReply)
		d.commandReply <- line
	}
}

func (d *Driver) pushReceivedFrame(line string) {
	payload, err := parseRCV(line)
	if err != nil {
		d.log.Warn("dropping malformed +RCV line", "line", line, "err", err)
		return
	}
	select {
	case d.ReceivedFrames <- payload:
	default:
		d.log.Warn("received-frames channel full, dropping frame")
	}
}

// parseRCV extracts the payload from `+RCV=<src>,<len>,<payload>,<rssi>,<snr>`.
func parseRCV(line string) (string, error) {
	value := replyValue(line)
	parts := strings.SplitN(value, ",", 3)
	if len(parts) < 3 {
		return "", fmt.Errorf("radio: malformed +RCV line: %q", line)
	}
	length, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", fmt.Errorf("radio: malformed +RCV length: %q", line)
	}
	// parts[2] is "<payload>,<rssi>,<snr>"; the payload is exactly
	// length bytes, trailing metadata is discarded.
	rest := parts[2]
	if len(rest) < length {
		return "", fmt.Errorf("radio: +RCV payload shorter than declared length: %q", line)
	}
	return rest[:length], nil
}

// replyValue strips a reply's leading `+NAME=` (or bare `+NAME`), ready
// for value parsing.
func replyValue(reply string) string {
	if idx := strings.IndexByte(reply, '='); idx >= 0 {
		return reply[idx+1:]
	}
	return reply
}

func parseIntReply(reply string) (int, error) {
	return strconv.Atoi(replyValue(reply))
}
