package serialmux

import (
	"io"
)

// SerialPorter is the interface for a serial port, providing basic I/O.
type SerialPorter interface {
	io.ReadWriteCloser
}
