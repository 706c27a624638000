package record

import (
	"fmt"
	"strconv"
	"strings"
)

// OBDPriority mirrors the original's OBD2Priority enum: how a monitored
// PID's datapoints are routed once polled.
type OBDPriority int

const (
	OBDImmediate OBDPriority = iota
	OBDHigh
	OBDLow
	OBDRemove
)

func (p OBDPriority) String() string {
	switch p {
	case OBDImmediate:
		return "IMMEDIATE"
	case OBDHigh:
		return "HIGH"
	case OBDLow:
		return "LOW"
	case OBDRemove:
		return "REMOVE"
	default:
		return fmt.Sprintf("OBDPriority(%d)", int(p))
	}
}

// OBDCommandMap translates a full OBD2 PID name to the short code carried
// on the wire (the link's 240-byte payload cap makes every byte count).
// OBDShortCommandMap is the inverse lookup used when decoding.
var OBDCommandMap = map[string]string{
	"engine_rpm":           "rpm",
	"vehicle_speed":        "spd",
	"coolant_temp":         "clt",
	"intake_air_temp":      "iat",
	"throttle_position":    "tps",
	"engine_load":          "load",
	"fuel_level":           "fuel",
	"oil_temp":             "oil",
	"battery_voltage":      "batt",
	"intake_manifold_pres": "map",
}

var OBDShortCommandMap = invertCommandMap(OBDCommandMap)

func invertCommandMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// OBD2Datapoint is leader "OBD": a polled sample. Name carries the PID
// key; value is `numeric|unit`.
const OBD2DatapointLeader = "OBD"

type OBD2Datapoint struct {
	base
	ListenFor string
	Val       float64
	Unit      string
}

func NewOBD2Datapoint(listenFor string, val float64, unit string) *OBD2Datapoint {
	value := fmt.Sprintf("%s|%s", formatFloat(val), unit)
	return &OBD2Datapoint{base: base{name: listenFor, value: value}, ListenFor: listenFor, Val: val, Unit: unit}
}

func (d *OBD2Datapoint) Leader() string { return OBD2DatapointLeader }

func ParseOBD2Datapoint(data string) (Record, error) {
	name, value, err := matchNamedValue(OBD2DatapointLeader, "", data)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(value, "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("record: invalid OBD2Datapoint format: %s", value)
	}
	val, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, fmt.Errorf("record: invalid OBD2Datapoint value: %w", err)
	}
	return NewOBD2Datapoint(name, val, parts[1]), nil
}

func init() { MustRegister(OBD2DatapointLeader, ParseOBD2Datapoint) }

// OBD2MonitorConfig is leader "COBD1", fixed name "MONCONF": configures
// polling priority and pit-forwarding for a named PID. Value is
// `shortcmd.priority.toPit01`.
const OBD2MonitorConfigLeader = "COBD1"
const obd2MonitorConfigName = "MONCONF"

type OBD2MonitorConfig struct {
	base
	ListenTo  string
	SendToPit bool
	Priority  OBDPriority
}

func NewOBD2MonitorConfig(listenTo string, sendToPit bool, priority OBDPriority) (*OBD2MonitorConfig, error) {
	short, ok := OBDCommandMap[listenTo]
	if !ok {
		return nil, fmt.Errorf("record: unknown OBD2 command: %s", listenTo)
	}
	value := fmt.Sprintf("%s.%d.%d", short, int(priority), boolToInt(sendToPit))
	return &OBD2MonitorConfig{
		base:      base{name: obd2MonitorConfigName, value: value},
		ListenTo:  listenTo,
		SendToPit: sendToPit,
		Priority:  priority,
	}, nil
}

func (c *OBD2MonitorConfig) Leader() string { return OBD2MonitorConfigLeader }

func ParseOBD2MonitorConfig(data string) (Record, error) {
	_, value, err := matchNamedValue(OBD2MonitorConfigLeader, obd2MonitorConfigName, data)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("record: invalid OBD2MonitorConfig format, expecting 3 parts: %v", parts)
	}
	listenTo, ok := OBDShortCommandMap[parts[0]]
	if !ok {
		return nil, fmt.Errorf("record: unknown OBD2 short command: %s", parts[0])
	}
	priorityNum, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("record: invalid OBD2MonitorConfig priority: %w", err)
	}
	sendToPit, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("record: invalid OBD2MonitorConfig pit flag: %w", err)
	}
	return NewOBD2MonitorConfig(listenTo, sendToPit != 0, OBDPriority(priorityNum))
}

func init() { MustRegister(OBD2MonitorConfigLeader, ParseOBD2MonitorConfig) }
