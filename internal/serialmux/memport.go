package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

// ErrPortClosed is returned by MemoryPort once it is closed.
var ErrPortClosed = errors.New("serial port closed")

// MemoryPort is an in-memory Port. Reads block until bridge output is fed
// in or the port is closed, like a UART idling between notifications.
type MemoryPort struct {
	mu      sync.Mutex
	cond    *sync.Cond
	in      bytes.Buffer
	out     bytes.Buffer
	closed  bool
	failing error
}

// NewMemoryPort returns an open port with nothing to read.
func NewMemoryPort() *MemoryPort {
	p := &MemoryPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Feed queues bridge output for Read.
func (p *MemoryPort) Feed(s string) {
	p.mu.Lock()
	p.in.WriteString(s)
	p.mu.Unlock()
	p.cond.Broadcast()
}

// FailNextWrite makes the next Write return err.
func (p *MemoryPort) FailNextWrite(err error) {
	p.mu.Lock()
	p.failing = err
	p.mu.Unlock()
}

func (p *MemoryPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.in.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.in.Len() == 0 {
		return 0, ErrPortClosed
	}
	return p.in.Read(b)
}

func (p *MemoryPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return 0, ErrPortClosed
	case p.failing != nil:
		err := p.failing
		p.failing = nil
		return 0, err
	}
	return p.out.Write(b)
}

func (p *MemoryPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}

// Commands returns everything written to the port.
func (p *MemoryPort) Commands() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

// Closed reports whether Close has been called.
func (p *MemoryPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
