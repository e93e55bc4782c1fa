package hid

import (
	"fmt"
	"os"
	"sync"
)

// Gadget writes boot keyboard reports to a USB HID gadget device node
// (typically /dev/hidg0). It satisfies the player's Sink interface and
// keeps the full report state so overlapping holds render correctly.
type Gadget struct {
	mu     sync.Mutex
	file   *os.File
	report Report
}

// OpenGadget opens the gadget device for writing.
func OpenGadget(device string) (*Gadget, error) {
	f, err := os.OpenFile(device, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open hid gadget %s: %w", device, err)
	}
	return &Gadget{file: f}, nil
}

func (g *Gadget) AssertDown(usage uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.report.Press(usage); err != nil {
		return err
	}
	return g.flush()
}

func (g *Gadget) AssertUp(usage uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.report.Release(usage)
	return g.flush()
}

func (g *Gadget) flush() error {
	buf := g.report.Bytes()
	if _, err := g.file.Write(buf[:]); err != nil {
		return fmt.Errorf("write hid report: %w", err)
	}
	return nil
}

// Close releases all keys and closes the device.
func (g *Gadget) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var flushErr error
	if !g.report.Empty() {
		g.report = Report{}
		flushErr = g.flush()
	}
	if err := g.file.Close(); err != nil {
		return err
	}
	return flushErr
}
