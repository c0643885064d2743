package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Heart Rate Measurement (GATT characteristic 0x2A37) flag bits.
const (
	flagRate16        = 1 << 0
	flagContactStatus = 1 << 1
	flagContactSup    = 1 << 2
	flagEnergy        = 1 << 3
	flagRR            = 1 << 4
)

// ErrShortPayload is returned when a measurement ends before the fields its
// flags announce.
var ErrShortPayload = errors.New("heart rate measurement payload too short")

// Measurement is one decoded Heart Rate Measurement notification.
type Measurement struct {
	Flags            byte
	BPM              int
	ContactSupported bool
	ContactDetected  bool
	// EnergyExpended is in kilojoules; nil when the field is absent.
	EnergyExpended *uint16
	// RawRR holds the RR intervals in 1/1024 s ticks as transmitted.
	RawRR []uint16
	// RRIntervals holds RawRR converted to milliseconds, unrounded.
	RRIntervals []float64
}

// DisplayRR returns RRIntervals rounded to the whole millisecond. Only for
// display; HRV statistics use RRIntervals.
func (m Measurement) DisplayRR() []float64 {
	out := make([]float64, len(m.RRIntervals))
	for i, rr := range m.RRIntervals {
		out[i] = math.Round(rr)
	}
	return out
}

// RRMillis converts a 1/1024 s RR tick count to milliseconds.
func RRMillis(raw uint16) float64 {
	return float64(raw) / 1024 * 1000
}

// DecodeHeartRateMeasurement parses a little-endian 0x2A37 payload. A
// trailing odd byte in the RR block is ignored.
func DecodeHeartRateMeasurement(b []byte) (Measurement, error) {
	if len(b) < 2 {
		return Measurement{}, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(b))
	}
	flags := b[0]
	m := Measurement{
		Flags:            flags,
		ContactSupported: flags&flagContactSup != 0,
		ContactDetected:  flags&flagContactSup != 0 && flags&flagContactStatus != 0,
	}

	off := 1
	if flags&flagRate16 != 0 {
		if len(b) < off+2 {
			return Measurement{}, fmt.Errorf("%w: 16-bit heart rate needs 3 bytes, got %d", ErrShortPayload, len(b))
		}
		m.BPM = int(binary.LittleEndian.Uint16(b[off:]))
		off += 2
	} else {
		m.BPM = int(b[off])
		off++
	}

	if flags&flagEnergy != 0 {
		if len(b) < off+2 {
			return Measurement{}, fmt.Errorf("%w: energy expended field truncated", ErrShortPayload)
		}
		e := binary.LittleEndian.Uint16(b[off:])
		m.EnergyExpended = &e
		off += 2
	}

	if flags&flagRR != 0 {
		for ; off+2 <= len(b); off += 2 {
			raw := binary.LittleEndian.Uint16(b[off:])
			m.RawRR = append(m.RawRR, raw)
			m.RRIntervals = append(m.RRIntervals, RRMillis(raw))
		}
	}
	return m, nil
}
