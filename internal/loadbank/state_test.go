package loadbank

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"cv", ModeVoltage},
		{"Voltage", ModeVoltage},
		{"mode VOLTAGE", ModeVoltage},
		{"ci", ModeCurrent},
		{"CURRENT", ModeCurrent},
		{"mode current", ModeCurrent},
		{"cp", ModePower},
		{"Power", ModePower},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseMode("resistance")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseMode("")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestModeCodes(t *testing.T) {
	assert.Equal(t, 1, ModeCurrent.MatlabCode())
	assert.Equal(t, 2, ModeVoltage.MatlabCode())
	assert.Equal(t, 3, ModePower.MatlabCode())
	assert.Equal(t, 999, ModeUnknown.MatlabCode())

	assert.Equal(t, "ci", ModeCurrent.Register())
	assert.Equal(t, "", ModeUnknown.Register())
}

func TestDeviceStateJSON(t *testing.T) {
	s := DeviceState{Mode: ModePower, ConstantPower: 50, LoadOn: true, Range: 9}
	b, err := json.Marshal(s)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "POWER", m["mode"])
	assert.Equal(t, 50.0, m["constant_power"])
	assert.Equal(t, true, m["load_on"])

	v, ok := s.Setpoint(ModePower)
	assert.True(t, ok)
	assert.Equal(t, 50.0, v)
	_, ok = s.Setpoint(ModeUnknown)
	assert.False(t, ok)
}
