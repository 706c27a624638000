// Package serial abstracts the physical transport under the radio driver.
package serial

import (
	"io"
)

// Port represents a serial port interface.
// This abstraction allows for different implementations:
//   - Native serial (using github.com/tarm/serial)
//   - An in-memory pipe (for tests)
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data.
	Flush() error
}

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate. The RYLR896 radio defaults to 115200.
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns a default configuration for a RYLR896-class radio.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}
