package device

import (
	"context"
	"sync"
)

// DisabledDevice never emits. It stands in when no heart rate source is
// configured so the rest of the stack can run unchanged.
type DisabledDevice struct {
	listener

	mu        sync.Mutex
	connected bool
}

func NewDisabled() *DisabledDevice { return &DisabledDevice{} }

func (d *DisabledDevice) Name() string              { return "No device" }
func (d *DisabledDevice) Mode() Mode                { return ModeNone }
func (d *DisabledDevice) Subscribe(h Handler) error { return d.set(h) }
func (d *DisabledDevice) Unsubscribe()              { d.clear() }

func (d *DisabledDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *DisabledDevice) Connect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *DisabledDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}
