package main

import "strings"

// Allow list of controller command verbs that may be sent through the API.
// Anything not listed here (parameter writes, firmware commands, program
// execution) stays off limits to remote callers.
var allowedCommandPrefixes = []string{
	// Pulse generator setup
	"PSOCONTROL ",  // reset, arm, or disarm the pulse generator
	"PSOOUTPUT ",   // select the output pin and pulse source
	"PSOPULSE ",    // set pulse on/off times
	"PSOTRACK ",    // select the encoder input to track
	"PSODISTANCE ", // set the fixed pulse spacing in counts
	"PSOWINDOW ",   // configure the encoder gating window

	// Motion
	"MOVEABS ", // absolute move with speed
	"ABORT ",   // halt motion on an axis
	"HOME ",    // home an axis
	"ENABLE ",  // enable an axis
	"DISABLE ", // disable an axis

	// Status queries
	"PFBK ",        // position feedback
	"VFBK ",        // velocity feedback
	"AXISSTATUS ",  // axis status word
	"AXISFAULT ",   // axis fault word

	// Session mode commands
	"ACKNOWLEDGEALL", // clear latched faults
	"WAIT MODE ",     // blocking behaviour of the ASCII interface
	"RAMP MODE ",     // acceleration ramp type
}

// IsAllowedCommand reports whether the command may be forwarded to the
// controller.
func IsAllowedCommand(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	for _, prefix := range allowedCommandPrefixes {
		if strings.HasSuffix(prefix, " ") {
			if strings.HasPrefix(command, prefix) {
				return true
			}
		} else if command == prefix {
			return true
		}
	}
	return false
}
