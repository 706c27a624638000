// Command telemetry-core runs the track-side link: a radio driver
// talking to an RYLR896-class LoRa module, a frame codec, a priority
// transmit scheduler, and an alert rule engine, wired together and
// exposed over a prometheus metrics endpoint.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/qsgrc/telemetry-core/alert"
	"github.com/qsgrc/telemetry-core/codec"
	"github.com/qsgrc/telemetry-core/radio"
	"github.com/qsgrc/telemetry-core/record"
	"github.com/qsgrc/telemetry-core/scheduler"
)

func main() {
	var (
		device       = pflag.String("device", "/dev/ttyUSB0", "serial device path for the radio module")
		baud         = pflag.Int("radio-baud", 115200, "radio UART baud rate")
		address      = pflag.Int("radio-address", 10, "this node's radio address")
		networkID    = pflag.Int("radio-network-id", 3, "radio network id (0-16)")
		sf           = pflag.Int("radio-sf", 10, "LoRa spreading factor")
		bw           = pflag.Int("radio-bw", 9, "LoRa bandwidth index")
		cr           = pflag.Int("radio-cr", 1, "LoRa coding rate")
		preamble     = pflag.Int("radio-preamble", 4, "LoRa preamble length")
		password     = pflag.String("radio-password", "", "source string used to derive the AES128 network password")
		targetAddr   = pflag.Int("target-address", 1, "radio address of the pit-side receiver")
		splitLength  = pflag.Int("split-length", 220, "max payload bytes per transmitted frame")
		ackThreshold = pflag.Int("ack-threshold", 50, "first tag value requiring an ack")
		maxTag       = pflag.Int("max-tag", 100, "tag values wrap at this bound")
		maxRetries   = pflag.Int("max-retries", 3, "retransmit attempts before an unacked frame is abandoned")
		resendSecs   = pflag.Float64("resend-interval-s", 5, "seconds to wait for an ack before resending")
		highLimit    = pflag.Int("high-priority-send-limit", 5, "consecutive HIGH frames served before LOW gets a turn")
		idleMillis   = pflag.Int("transmit-idle-ms", 250, "idle tick when all queues are empty")
		postSendMs   = pflag.Int("post-send-ms", 100, "pacing delay after each sent frame")
		ackPollMs    = pflag.Int("ack-poll-ms", 500, "retransmit monitor poll interval")
		metricsAddr  = pflag.String("metrics-addr", ":9090", "listen address for the prometheus /metrics endpoint")
	)
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "telemetry-core"})

	radioCfg := radio.DefaultConfig(*device)
	radioCfg.Baud = *baud
	radioCfg.Address = *address
	radioCfg.NetworkID = *networkID
	radioCfg.SpreadingFactor = *sf
	radioCfg.Bandwidth = *bw
	radioCfg.CodingRate = *cr
	radioCfg.Preamble = *preamble
	radioCfg.Password = *password

	driver, err := radio.NewDriver(radioCfg, logger)
	if err != nil {
		logger.Fatal("failed to open radio", "err", err)
	}

	codecCfg := codec.Config{SplitLength: *splitLength, AckThreshold: *ackThreshold, MaxTag: *maxTag}
	c := codec.NewCodec(codecCfg, logger)

	schedCfg := scheduler.Config{
		MaxRetries:            *maxRetries,
		ResendInterval:        time.Duration(*resendSecs * float64(time.Second)),
		HighPrioritySendLimit: *highLimit,
		TransmitIdle:          time.Duration(*idleMillis) * time.Millisecond,
		PostSend:              time.Duration(*postSendMs) * time.Millisecond,
		AckPollInterval:       time.Duration(*ackPollMs) * time.Millisecond,
		TargetAddress:         *targetAddr,
	}
	sched := scheduler.NewScheduler(schedCfg, c, driver, logger)

	warningMonitor := alert.NewMonitor("warning", 64, logger)
	alertMonitor := alert.NewMonitor("alert", 64, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(c.Collectors()...)
	registry.MustRegister(driver.Collectors()...)
	registry.MustRegister(sched.Collectors()...)
	registry.MustRegister(warningMonitor.Collectors()...)
	registry.MustRegister(alertMonitor.Collectors()...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if err := driver.Start(ctx); err != nil {
		logger.Fatal("radio startup handshake failed", "err", err)
	}
	defer driver.Stop()

	monitorsByName := map[string]*alert.Monitor{
		"warning": warningMonitor,
		"alert":   alertMonitor,
	}

	go sched.Run(ctx)
	go dispatchReceivedFrames(ctx, driver, c, sched, monitorsByName, logger)
	go forwardAlerts(ctx, warningMonitor, sched, logger)
	go forwardAlerts(ctx, alertMonitor, sched, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		logger.Info("serving metrics", "addr", *metricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}

// dispatchReceivedFrames decodes inbound radio lines: data frames
// become registry records fed to the alert monitors when they carry a
// numeric sample, and ack frames are routed to the scheduler via a
// lightweight "ACK:<tag>" convention so the codec doesn't need to know
// about the scheduler.
func dispatchReceivedFrames(ctx context.Context, driver *radio.Driver, c *codec.Codec, sched *scheduler.Scheduler, monitors map[string]*alert.Monitor, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-driver.ReceivedFrames:
			if !ok {
				return
			}
			handleReceivedLine(line, c, sched, monitors, logger)
		}
	}
}

func handleReceivedLine(line string, c *codec.Codec, sched *scheduler.Scheduler, monitors map[string]*alert.Monitor, logger *log.Logger) {
	if tag, ok := codec.ParseAckTag(line); ok {
		sched.AckReceived(tag)
		return
	}

	recordText, ok := c.Decode(line)
	if !ok {
		return
	}

	rec, err := record.Unpack(recordText)
	if err != nil {
		logger.Warn("failed to unpack decoded record", "text", recordText, "err", err)
		return
	}
	logger.Debug("received record", "leader", rec.Leader(), "name", rec.Name())

	switch r := rec.(type) {
	case *record.AlertConfig:
		if m, ok := monitors[r.Name()]; ok {
			m.ApplyConfig(r)
		}
	case *record.AlertConditionSet:
		if m, ok := monitors[r.Name()]; ok {
			m.ClearCondition(r.ListenTo())
		}
	case *record.OBD2Datapoint:
		for _, m := range monitors {
			m.Check(r.ListenFor, r.Val)
		}
	}
}

// forwardAlerts relays a monitor's emitted alert records onto the
// outbound scheduler as HIGH priority, ack-bearing frames.
func forwardAlerts(ctx context.Context, m *alert.Monitor, sched *scheduler.Scheduler, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-m.Out:
			if !ok {
				return
			}
			sched.Enqueue(record.Format(a), true, scheduler.High)
		}
	}
}
