package serialmux

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockControllerPort implements SerialPorter as a simulated motion
// controller. Every command line written to the port is acknowledged with
// "%", and a small set of commands are interpreted so that moves and
// position queries behave plausibly:
//
//	MOVEABS <axis> <pos> F<speed>  starts a simulated move
//	ABORT <axis>                   halts the simulated move
//	PFBK <axis>                    replies "%<position>"
//
// All other commands (PSO setup, mode commands) are acknowledged and
// recorded but otherwise ignored.
type MockControllerPort struct {
	mu sync.Mutex

	// MoveDuration is how long a simulated move takes regardless of
	// distance. Zero means moves complete immediately.
	MoveDuration time.Duration

	// WriteError is returned by the next Write call if set.
	WriteError error

	position  float64
	target    float64
	moveStart time.Time
	moveFrom  float64

	commands []string
	pending  bytes.Buffer
	replies  bytes.Buffer
	closed   bool
	readCond *sync.Cond
}

func NewMockControllerPort() *MockControllerPort {
	p := &MockControllerPort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// Read returns queued reply lines, blocking until a reply is available or
// the port is closed.
func (p *MockControllerPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && p.replies.Len() == 0 {
		p.readCond.Wait()
	}
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	return p.replies.Read(buf)
}

// Write accepts command bytes, splitting them into newline-terminated
// commands and queueing a reply for each complete line.
func (p *MockControllerPort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}

	p.pending.Write(buf)
	for {
		line, err := p.pending.ReadString('\n')
		if err != nil {
			// partial command, keep for the next Write
			p.pending.WriteString(line)
			break
		}
		p.handleCommand(strings.TrimSpace(line))
	}
	p.readCond.Broadcast()
	return len(buf), nil
}

func (p *MockControllerPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readCond.Broadcast()
	return nil
}

// Commands returns a copy of every command line the port has received.
func (p *MockControllerPort) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.commands))
	copy(out, p.commands)
	return out
}

// Position returns the simulated axis position at the current time.
func (p *MockControllerPort) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

// handleCommand is called with p.mu held.
func (p *MockControllerPort) handleCommand(line string) {
	if line == "" {
		return
	}
	p.commands = append(p.commands, line)

	fields := strings.Fields(line)
	switch fields[0] {
	case "MOVEABS":
		if len(fields) >= 3 {
			if target, err := strconv.ParseFloat(fields[2], 64); err == nil {
				p.moveFrom = p.positionLocked()
				p.target = target
				p.moveStart = time.Now()
			}
		}
		p.replies.WriteString("%\n")
	case "ABORT":
		p.position = p.positionLocked()
		p.target = p.position
		p.moveFrom = p.position
		p.replies.WriteString("%\n")
	case "PFBK":
		fmt.Fprintf(&p.replies, "%%%g\n", p.positionLocked())
	default:
		p.replies.WriteString("%\n")
	}
}

// positionLocked interpolates the simulated move. Called with p.mu held.
func (p *MockControllerPort) positionLocked() float64 {
	if p.MoveDuration <= 0 {
		p.position = p.target
		return p.position
	}
	elapsed := time.Since(p.moveStart)
	if elapsed >= p.MoveDuration {
		p.position = p.target
		return p.position
	}
	frac := float64(elapsed) / float64(p.MoveDuration)
	p.position = p.moveFrom + frac*(p.target-p.moveFrom)
	if math.Abs(p.target-p.moveFrom) < 1e-12 {
		p.position = p.target
	}
	return p.position
}

// NewMockSerialMux creates a SerialMux backed by a simulated controller
// port, for development without hardware.
func NewMockSerialMux() (*SerialMux[*MockControllerPort], *MockControllerPort) {
	port := NewMockControllerPort()
	return NewSerialMux(port), port
}
