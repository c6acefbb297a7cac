package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppp-gateway/internal/serial"
)

type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }

// modem replies with canned bytes once the expected command has been written
type modem struct {
	clock    *mockClock
	replies  map[string]string
	pending  []byte
	written  []byte
	line     []byte
	writeErr error
	reads    int
}

func (m *modem) ReadOne(timeout time.Duration) (byte, error) {
	m.reads++
	if len(m.pending) == 0 {
		m.clock.now = m.clock.now.Add(timeout)
		return 0, serial.ErrTimeout
	}
	b := m.pending[0]
	m.pending = m.pending[1:]
	return b, nil
}

func (m *modem) WriteOne(b byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, b)
	m.line = append(m.line, b)
	if reply, ok := m.replies[string(m.line)]; ok {
		m.pending = append(m.pending, reply...)
		m.line = m.line[:0]
	}
	return nil
}

func newModem(greeting string, replies map[string]string) (*modem, *mockClock) {
	clock := &mockClock{now: time.Unix(1000, 0)}
	return &modem{clock: clock, replies: replies, pending: []byte(greeting)}, clock
}

func TestParse(t *testing.T) {
	script, err := Parse(`
		TIMEOUT 10
		ABORT "NO CARRIER"
		ABORT BUSY
		"" AT
		OK "AT+CGDCONT=1,\"IP\",\"internet\""
		OK ATD*99#\c
		CONNECT
	`)
	require.NoError(t, err)

	assert.Equal(t, []string{"NO CARRIER", "BUSY"}, script.Aborts)
	require.Len(t, script.Steps, 4)

	assert.Equal(t, Step{Expect: "", Send: "AT", HasSend: true, Timeout: 10 * time.Second}, script.Steps[0])
	assert.Equal(t, `AT+CGDCONT=1,"IP","internet"`, script.Steps[1].Send)
	assert.Equal(t, "ATD*99#", script.Steps[2].Send)
	assert.True(t, script.Steps[2].NoTerminator)
	assert.Equal(t, "CONNECT", script.Steps[3].Expect)
	assert.False(t, script.Steps[3].HasSend)
}

func TestParseAbortsApplyFromRegistration(t *testing.T) {
	script, err := Parse(`"" AT OK ATZ ABORT ERROR OK ATD`)
	require.NoError(t, err)
	require.Len(t, script.Steps, 3)

	assert.Empty(t, script.ActiveAborts(0))
	assert.Empty(t, script.ActiveAborts(1))
	assert.Equal(t, []string{"ERROR"}, script.ActiveAborts(2))
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"timeout without value": `"" AT TIMEOUT`,
		"timeout not a number":  `TIMEOUT soon "" AT`,
		"timeout zero":          `TIMEOUT 0 "" AT`,
		"abort without pattern": `ABORT`,
		"unterminated quote":    `"" "AT`,
		"unknown escape":        `"" A\qT`,
		"nosend in expect":      `OK\c AT`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(text)
			assert.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestScriptStringRoundTrip(t *testing.T) {
	src := MustParse(`TIMEOUT 5 ABORT "NO CARRIER" "" "AT\t1" OK ATD\c CONNECT`)
	again, err := Parse(src.String())
	require.NoError(t, err)
	assert.Equal(t, src.Steps, again.Steps)
	assert.Equal(t, src.Aborts, again.Aborts)
}

func TestRunWritesExactlyTheSends(t *testing.T) {
	m, clock := newModem("", map[string]string{
		"AT\r\n":   "\r\nOK\r\n",
		"ATE0\r\n": "\r\nOK\r\n",
		"ATD*99#":  "\r\nCONNECT 150000000\r\n",
	})
	e := NewExecutor(m, nil, Options{Clock: clock})

	err := e.Run(MustParse(`"" AT OK ATE0 OK ATD*99#\c CONNECT`))
	require.NoError(t, err)
	assert.Equal(t, "AT\r\nATE0\r\nATD*99#", string(m.written))
}

func TestRunAbortBeforeTimeout(t *testing.T) {
	m, clock := newModem("", map[string]string{
		"ATD*99#\r\n": "\r\nNO CARRIER\r\n",
	})
	start := clock.now
	e := NewExecutor(m, nil, Options{Clock: clock})

	err := e.Run(MustParse(`ABORT "NO CARRIER" "" ATD*99# CONNECT ""`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAborted))
	assert.Contains(t, err.Error(), "NO CARRIER")
	assert.Less(t, clock.now.Sub(start), DefaultTimeout)
}

func TestRunAbortWinsTie(t *testing.T) {
	m, clock := newModem("ERROR", nil)
	e := NewExecutor(m, nil, Options{Clock: clock})

	err := e.Run(MustParse(`ABORT ERROR ERROR ""`))
	assert.ErrorIs(t, err, ErrAborted)
}

func TestRunTimeoutDirective(t *testing.T) {
	m, clock := newModem("", nil)
	start := clock.now
	e := NewExecutor(m, nil, Options{Clock: clock})

	err := e.Run(MustParse(`TIMEOUT 3 OK AT`))
	assert.ErrorIs(t, err, ErrTimeout)

	elapsed := clock.now.Sub(start)
	assert.GreaterOrEqual(t, elapsed, 3*time.Second)
	assert.Less(t, elapsed, 3*time.Second+readSlice+time.Millisecond)
	assert.Empty(t, m.written)
}

func TestRunDefaultTimeout(t *testing.T) {
	m, clock := newModem("", nil)
	start := clock.now
	e := NewExecutor(m, nil, Options{Clock: clock, Timeout: 2 * time.Second})

	err := e.Run(MustParse(`OK AT`))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, clock.now.Sub(start), 2*time.Second)
}

func TestRunMatchesAcrossNoise(t *testing.T) {
	noise := "garbage garbage garbage garbage garbage garbage OK"
	m, clock := newModem(noise, nil)
	e := NewExecutor(m, nil, Options{Clock: clock, Echo: true, Verbose: true})

	require.NoError(t, e.Run(MustParse(`OK ""`)))
	assert.Equal(t, "\r\n", string(m.written))
}

func TestRunWriteError(t *testing.T) {
	m, clock := newModem("", nil)
	m.writeErr = serial.ErrTimeout
	e := NewExecutor(m, nil, Options{Clock: clock})

	err := e.Run(MustParse(`"" AT`))
	assert.ErrorIs(t, err, serial.ErrTimeout)
	assert.NotErrorIs(t, err, ErrTimeout)
}
