package record

import (
	"fmt"
	"strconv"
	"strings"
)

// ShortTextMessage is leader "SM", fixed name "MSG": a free-text message
// for the pit display, value `displaySeconds|message`.
const ShortTextMessageLeader = "SM"
const shortTextMessageName = "MSG"

type ShortTextMessage struct {
	base
	DisplaySeconds int
	Message        string
}

func NewShortTextMessage(displaySeconds int, message string) *ShortTextMessage {
	value := fmt.Sprintf("%d|%s", displaySeconds, message)
	return &ShortTextMessage{
		base:           base{name: shortTextMessageName, value: value},
		DisplaySeconds: displaySeconds,
		Message:        message,
	}
}

func (m *ShortTextMessage) Leader() string { return ShortTextMessageLeader }

func ParseShortTextMessage(data string) (Record, error) {
	_, value, err := matchNamedValue(ShortTextMessageLeader, shortTextMessageName, data)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(value, "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("record: invalid ShortTextMessage format: %s", value)
	}
	seconds, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("record: invalid display seconds: %w", err)
	}
	return NewShortTextMessage(seconds, parts[1]), nil
}

func init() { MustRegister(ShortTextMessageLeader, ParseShortTextMessage) }
