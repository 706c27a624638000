package radio

import "fmt"

// ATError is the radio's bounded error taxonomy: the AT error codes the
// RYLR896-style modem reports on `+ERR=<code>`, plus two local
// conditions (NotReady, ReceiveLoopNotRunning) that never cross the
// wire but share the same surface since callers handle them the same
// way — retry or report.
type ATError struct {
	Code    int
	Message string
}

func (e *ATError) Error() string {
	return fmt.Sprintf("radio: +ERR=%d: %s", e.Code, e.Message)
}

// Sentinel codes for conditions the driver raises locally; chosen
// outside the modem's documented 1-15 range so they are unambiguous in
// logs.
const (
	codeNotReady             = -1
	codeReceiveLoopNotRunning = -2
)

var (
	ErrNotReady             = &ATError{Code: codeNotReady, Message: "radio not ready"}
	ErrReceiveLoopNotRunning = &ATError{Code: codeReceiveLoopNotRunning, Message: "receive loop not running"}

	errNoTerminator        = &ATError{Code: 1, Message: "no terminator at end of command"}
	errInvalidCommandHead  = &ATError{Code: 2, Message: "head of AT command is not 'AT'"}
	errMissingEqualSymbol  = &ATError{Code: 3, Message: "no '=' symbol in the AT command"}
	errUnknownCommand      = &ATError{Code: 4, Message: "unknown command"}
	errTXOverTimes         = &ATError{Code: 10, Message: "TX is over times"}
	errRXOverTimes         = &ATError{Code: 11, Message: "RX is over times"}
	errCRC                 = &ATError{Code: 12, Message: "CRC error"}
	errTXDataOverflow      = &ATError{Code: 13, Message: "TX data is more than 240 bytes"}
	errUnknown             = &ATError{Code: 15, Message: "unknown error"}
)

var errorByCode = map[int]*ATError{
	1:  errNoTerminator,
	2:  errInvalidCommandHead,
	3:  errMissingEqualSymbol,
	4:  errUnknownCommand,
	10: errTXOverTimes,
	11: errRXOverTimes,
	12: errCRC,
	13: errTXDataOverflow,
	15: errUnknown,
}

// errorByCodeOrUnknown maps a `+ERR=<n>` code to its ATError, falling
// back to errUnknown for any code the dialect doesn't document.
func errorByCodeOrUnknown(code int) *ATError {
	if e, ok := errorByCode[code]; ok {
		return e
	}
	return errUnknown
}
