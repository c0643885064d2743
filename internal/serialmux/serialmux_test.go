package serialmux

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func next(t *testing.T, lines chan string) string {
	t.Helper()
	select {
	case line, ok := <-lines:
		require.True(t, ok, "subscriber closed")
		return line
	case <-time.After(time.Second):
		t.Fatal("no line within 1s")
		return ""
	}
}

func monitor(t *testing.T, m Interface) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- m.Monitor(ctx) }()
	return cancel, done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return")
		return nil
	}
}

func TestMux_FansOutBridgeLines(t *testing.T) {
	port := NewMemoryPort()
	m := New(port)
	strap, lines := m.Subscribe()
	_, tail := m.Subscribe()
	cancel, done := monitor(t, m)

	port.Feed("# device Polar H10\r\n\r\nHRM 10 48 33 03\r\n")

	for _, ch := range []chan string{lines, tail} {
		assert.Equal(t, "# device Polar H10", next(t, ch))
		assert.Equal(t, "HRM 10 48 33 03", next(t, ch))
	}
	assert.Equal(t, Stats{Lines: 2}, m.Stats())

	m.Unsubscribe(strap)
	_, ok := <-lines
	assert.False(t, ok)
	m.Unsubscribe(strap)

	cancel()
	assert.ErrorIs(t, waitErr(t, done), context.Canceled)
}

func TestMux_SlowSubscriberDropsLines(t *testing.T) {
	port := NewMemoryPort()
	m := New(port)
	_, slow := m.Subscribe()
	_, done := monitor(t, m)

	var feed strings.Builder
	for i := 0; i < SubscriberBuffer+6; i++ {
		feed.WriteString("HRM 0048\n")
	}
	port.Feed(feed.String())

	require.Eventually(t, func() bool { return m.Stats().Lines == SubscriberBuffer+6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(6), m.Stats().Dropped)
	assert.Len(t, slow, SubscriberBuffer)

	require.NoError(t, port.Close())
	assert.ErrorIs(t, waitErr(t, done), ErrPortClosed)
}

func TestMux_LineTooLong(t *testing.T) {
	port := NewMemoryPort()
	m := New(port)
	_, done := monitor(t, m)

	port.Feed(strings.Repeat("f", MaxLineLength+1) + "\n")
	assert.Error(t, waitErr(t, done))
}

func TestMux_SendCommand(t *testing.T) {
	port := NewMemoryPort()
	m := New(port)

	require.NoError(t, m.SendCommand("INIT"))
	require.NoError(t, m.SendCommand("SCAN\r\n"))
	assert.Equal(t, "INIT\nSCAN\n", port.Commands())

	boom := errors.New("uart fault")
	port.FailNextWrite(boom)
	assert.ErrorIs(t, m.SendCommand("INIT"), boom)
	require.NoError(t, m.SendCommand("INIT"))
}

func TestMux_Close(t *testing.T) {
	port := NewMemoryPort()
	m := New(port)
	_, lines := m.Subscribe()

	require.NoError(t, m.Close())
	_, ok := <-lines
	assert.False(t, ok)
	assert.True(t, port.Closed())

	// late subscribers get a closed channel instead of blocking forever
	_, late := m.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
	assert.ErrorIs(t, m.SendCommand("INIT"), ErrPortClosed)
}

func debugRequest(method, target string, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	return req
}

func TestMux_AdminRoutes(t *testing.T) {
	port := NewMemoryPort()
	m := New(port)
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	tests := []struct {
		name   string
		method string
		form   url.Values
		want   int
	}{
		{"get", http.MethodGet, nil, http.StatusMethodNotAllowed},
		{"blank command", http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest},
		{"init", http.MethodPost, url.Values{"command": {"INIT"}}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, debugRequest(tt.method, "/debug/bridge-command", tt.form.Encode()))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, "INIT\n", port.Commands())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, debugRequest(http.MethodGet, "/debug/bridge-stats", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, Stats{}, stats)
}

func TestClassifyLine(t *testing.T) {
	tests := map[string]string{
		"HRM 10483303": LineTypeHRM,
		"  HRM 0048\r": LineTypeHRM,
		"# connected":  LineTypeStatus,
		"garbage":      LineTypeUnknown,
		"":             LineTypeUnknown,
		"HRMX 00":      LineTypeUnknown,
	}
	for line, want := range tests {
		assert.Equal(t, want, ClassifyLine(line), "line %q", line)
	}
}

func TestParseHRMLine(t *testing.T) {
	b, err := ParseHRMLine("HRM 10 48 33 03")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x48, 0x33, 0x03}, b)

	_, err = ParseHRMLine("HRM zz")
	assert.Error(t, err)
	_, err = ParseHRMLine("# status")
	assert.Error(t, err)
}

func TestPortOptions(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		str     string
		wantErr string
	}{
		{name: "bridge defaults", want: PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, str: "115200 8N1"},
		{name: "words", in: PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: " even "}, want: PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}, str: "9600 7E2"},
		{name: "none", in: PortOptions{Parity: "none"}, want: PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, str: "115200 8N1"},
		{name: "data bits", in: PortOptions{DataBits: 9}, wantErr: "data bits"},
		{name: "stop bits", in: PortOptions{StopBits: 3}, wantErr: "stop bits"},
		{name: "negative stop bits", in: PortOptions{StopBits: -1}, wantErr: "stop bits"},
		{name: "mark parity", in: PortOptions{Parity: "mark"}, wantErr: "parity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Contains(t, tt.in.String(), "invalid")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.str, tt.in.String())
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{Parity: "O", StopBits: 2}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: DefaultBaudRate, DataBits: 8, Parity: serial.OddParity, StopBits: serial.TwoStopBits}, mode)

	_, err = PortOptions{Parity: "x"}.SerialMode()
	assert.Error(t, err)
}

func TestOpen_MissingDevice(t *testing.T) {
	_, err := Open("/dev/nonexistent-heart-rate-bridge", PortOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "115200 8N1")
}
