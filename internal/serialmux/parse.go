package serialmux

import (
	"fmt"
	"strconv"
	"strings"
)

// ResponseKind classifies a line received from the controller's ASCII
// command interface.
type ResponseKind int

const (
	// ResponseUnknown is a line that does not match any known response shape.
	ResponseUnknown ResponseKind = iota
	// ResponseAck is a bare success acknowledgement ("%").
	ResponseAck
	// ResponseValue is a success acknowledgement carrying a numeric result,
	// e.g. "%-12.0625" in reply to a position query.
	ResponseValue
	// ResponseInvalid indicates the controller rejected the command ("!").
	ResponseInvalid
	// ResponseFault indicates the command raised an axis fault ("#").
	ResponseFault
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseAck:
		return "ack"
	case ResponseValue:
		return "value"
	case ResponseInvalid:
		return "invalid"
	case ResponseFault:
		return "fault"
	default:
		return "unknown"
	}
}

// ClassifyResponse determines the kind of a response line. The controller
// prefixes every reply with a single status character: "%" for success,
// "!" for a malformed or rejected command, and "#" when the command
// triggered a fault.
func ClassifyResponse(line string) ResponseKind {
	line = strings.TrimSpace(line)
	if line == "" {
		return ResponseUnknown
	}
	switch line[0] {
	case '%':
		if len(line) > 1 {
			return ResponseValue
		}
		return ResponseAck
	case '!':
		return ResponseInvalid
	case '#':
		return ResponseFault
	}
	return ResponseUnknown
}

// ParseValue extracts the numeric payload from a value response. It returns
// an error for any other response kind.
func ParseValue(line string) (float64, error) {
	line = strings.TrimSpace(line)
	if ClassifyResponse(line) != ResponseValue {
		return 0, fmt.Errorf("response %q carries no value", line)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(line[1:]), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse value response %q: %w", line, err)
	}
	return v, nil
}
