package serialmux

import (
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the UART rate of the heart rate bridge firmware.
const DefaultBaudRate = 115200

// Port is what a Mux reads lines from and writes commands to. Tests use
// MemoryPort in place of a UART.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens a multiplexed bridge connection. Device code takes an Opener
// so tests can substitute an in-memory port.
type Opener func(path string, opts PortOptions) (Interface, error)

// PortOptions are the UART settings of the bridge. The JSON/YAML names match
// the "serial" block of the tuning file.
type PortOptions struct {
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`
	Parity   string `json:"parity" yaml:"parity"`
}

var parities = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

var parityAliases = map[string]string{
	"":     "N",
	"NONE": "N",
	"EVEN": "E",
	"ODD":  "O",
}

// Normalize fills unset fields with the bridge defaults (8N1 at
// DefaultBaudRate) and rejects settings the firmware cannot use.
func (o PortOptions) Normalize() (PortOptions, error) {
	n := o
	if n.BaudRate <= 0 {
		n.BaudRate = DefaultBaudRate
	}
	if n.DataBits == 0 {
		n.DataBits = 8
	}
	if n.StopBits == 0 {
		n.StopBits = 1
	}

	if n.DataBits < 5 || n.DataBits > 8 {
		return o, fmt.Errorf("data bits %d out of range 5-8", n.DataBits)
	}
	if n.StopBits != 1 && n.StopBits != 2 {
		return o, fmt.Errorf("stop bits %d: want 1 or 2", n.StopBits)
	}

	p := strings.ToUpper(strings.TrimSpace(n.Parity))
	if alias, ok := parityAliases[p]; ok {
		p = alias
	}
	if _, ok := parities[p]; !ok {
		return o, fmt.Errorf("parity %q: want N, E or O", o.Parity)
	}
	n.Parity = p
	return n, nil
}

// String formats the options the way serial terminals do, e.g. "115200 8N1".
func (o PortOptions) String() string {
	n, err := o.Normalize()
	if err != nil {
		return fmt.Sprintf("invalid (%v)", err)
	}
	return fmt.Sprintf("%d %d%s%d", n.BaudRate, n.DataBits, n.Parity, n.StopBits)
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	stop := serial.OneStopBit
	if n.StopBits == 2 {
		stop = serial.TwoStopBits
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		Parity:   parities[n.Parity],
		StopBits: stop,
	}, nil
}

// Open is the Opener for hardware ports.
func Open(path string, opts PortOptions) (Interface, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s at %s: %w", path, opts, err)
	}
	return New[serial.Port](port), nil
}
