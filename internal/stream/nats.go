// Package stream fans engine output out to a NATS bus.
package stream

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/banshee-data/pulse.report/internal/monitoring"
)

var logger = monitoring.NewLogger("[stream] ")

// Subject suffixes under the publisher's prefix.
const (
	SubjectMetrics = "metrics" // playback snapshot, JSON
	SubjectLive    = "live"    // live monitor snapshot, JSON
	SubjectWave    = "wave"    // display waveform, float32 little endian
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "pulse"

func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Opsf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Opsf("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher encodes values onto subjects below a prefix.
type Publisher struct {
	conn   Conn
	prefix string

	published atomic.Int64
	failed    atomic.Int64
}

func NewPublisher(conn Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// Subject returns the full subject for a suffix.
func (p *Publisher) Subject(suffix string) string {
	return p.prefix + "." + suffix
}

// PublishJSON marshals v onto prefix.suffix.
func (p *Publisher) PublishJSON(suffix string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", suffix, err)
	}
	return p.publish(suffix, b)
}

// PublishWave sends samples as packed float32 little endian values.
func (p *Publisher) PublishWave(samples []float64) error {
	b := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(float32(v)))
	}
	return p.publish(SubjectWave, b)
}

func (p *Publisher) publish(suffix string, b []byte) error {
	subject := p.Subject(suffix)
	if err := p.conn.Publish(subject, b); err != nil {
		if p.failed.Add(1) == 1 {
			logger.Opsf("publish to %s failed: %v", subject, err)
		}
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.published.Add(1)
	logger.Tracef("published %d bytes to %s", len(b), subject)
	return nil
}

// Stats returns the published and failed message counts.
func (p *Publisher) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

// DecodeWave unpacks a PublishWave payload.
func DecodeWave(b []byte) []float64 {
	out := make([]float64, len(b)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
	}
	return out
}
