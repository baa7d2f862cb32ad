package serialport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestNormalizeAppliesDefaults(t *testing.T) {
	opts, err := Options{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, Options{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, opts)
}

func TestNormalizeRejectsInvalidSettings(t *testing.T) {
	cases := map[string]Options{
		"data bits": {DataBits: 9},
		"stop bits": {StopBits: 3},
		"parity":    {Parity: "mark"},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := opts.Normalize()
			require.Error(t, err)
		})
	}
}

func TestModeMapsParityAndStopBits(t *testing.T) {
	mode, err := Options{BaudRate: 9600, StopBits: 2, Parity: "even"}.Mode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ", Options{}, 0)
	require.Error(t, err)
}

func TestOpenWrapsOpenerError(t *testing.T) {
	prev := open
	t.Cleanup(func() { open = prev })
	var gotMode *serial.Mode
	open = func(path string, mode *serial.Mode) (serial.Port, error) {
		gotMode = mode
		return nil, errors.New("port busy")
	}
	_, err := Open("/dev/ttyS9", Options{BaudRate: 57600}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/ttyS9")
	require.NotNil(t, gotMode)
	assert.Equal(t, 57600, gotMode.BaudRate)
}
