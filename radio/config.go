package radio

import "fmt"

// Frequency selects the modem's centre-frequency band.
type Frequency int

const (
	FreqLow  Frequency = 868500000
	FreqHigh Frequency = 915000000
)

// validBaudRates are the only values the modem's AT+IPR accepts.
var validBaudRates = map[int]bool{
	300: true, 1200: true, 4800: true, 9600: true,
	28800: true, 38400: true, 57600: true, 115200: true,
}

// Config bundles the serial device and the power-up AT parameters the
// driver pushes during its start-up handshake.
type Config struct {
	Device    string
	Baud      int
	Address   int
	NetworkID int

	SpreadingFactor int
	Bandwidth       int
	CodingRate      int
	Preamble        int

	// Password is the operator-facing source string; the driver derives
	// the 32-hex-character AES key via SHA-256 truncation.
	Password string
}

// DefaultConfig returns the spec's documented radio defaults.
func DefaultConfig(device string) Config {
	return Config{
		Device:          device,
		Baud:            115200,
		Address:         10,
		NetworkID:       3,
		SpreadingFactor: 10,
		Bandwidth:       9,
		CodingRate:      1,
		Preamble:        4,
	}
}

func validateAddress(address int) error {
	if address < 0 || address > 65535 {
		return fmt.Errorf("radio: address out of range: %d", address)
	}
	return nil
}

func validateNetworkID(networkID int) error {
	if networkID < 0 || networkID > 16 {
		return fmt.Errorf("radio: network id must be between 0 and 16: %d", networkID)
	}
	return nil
}

func validateBaud(rate int) error {
	if !validBaudRates[rate] {
		return fmt.Errorf("radio: %d is not a valid baud rate", rate)
	}
	return nil
}

func validateParameters(spreadingFactor, bandwidth, codingRate, preamble int) error {
	if !(5 <= spreadingFactor && spreadingFactor <= 15) ||
		!(0 <= bandwidth && bandwidth <= 9) ||
		!(1 <= codingRate && codingRate <= 10) ||
		!(0 <= preamble && preamble <= 15) {
		return fmt.Errorf("radio: parameters out of range: sf=%d bw=%d cr=%d preamble=%d",
			spreadingFactor, bandwidth, codingRate, preamble)
	}
	return nil
}

func validatePower(power int) error {
	if power < 0 || power > 20 {
		return fmt.Errorf("radio: power must be between 0 and 20: %d", power)
	}
	return nil
}
