package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, "v?\r", string(Encode("v", "")))
	assert.Equal(t, "ci 2.0\rci?\r", string(Encode("ci", "2.0")))
	assert.Equal(t, "load on\rload?\r", string(Encode("load", "on")))
}

func TestExpectedToken(t *testing.T) {
	tests := map[string]string{
		"v":    TokenVolts,
		"vl":   TokenVolts,
		"uv":   TokenVolts,
		"cv":   TokenVolts,
		"i":    TokenAmps,
		"il":   TokenAmps,
		"ci":   TokenAmps,
		"p":    TokenWatts,
		"pl":   TokenWatts,
		"cp":   TokenWatts,
		"rng":  TokenRange,
		"RNG":  TokenRange,
		"load": Terminator,
		"mode": Terminator,
		"xyz":  Terminator,
	}
	for cmd, want := range tests {
		assert.Equal(t, want, ExpectedToken(cmd), cmd)
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindQuery, KindOf(""))
	assert.Equal(t, KindSet, KindOf("1.0"))
	assert.Equal(t, "set", KindSet.String())
}

func TestExtractReply(t *testing.T) {
	assert.Equal(t, "2.0 amps", extractReply([]byte("ci 2.0\rci?\r2.0 amps"), TokenAmps))
	assert.Equal(t, "12.3 volts", extractReply([]byte("\r\n12.3 volts"), TokenVolts))
	assert.Equal(t, "", extractReply([]byte("#~%\r"), TokenVolts))
	assert.Equal(t, "", extractReply(nil, TokenVolts))
	assert.Equal(t, "load on", extractReply([]byte(" load on \r"), Terminator))
	assert.Equal(t, "", extractReply([]byte("  \r"), Terminator))
	assert.Equal(t, "", extractReply([]byte("load o"), Terminator))
	assert.Equal(t, "mode CURRENT", extractReply([]byte("\nmode CURRENT\r"), Terminator))
}

func TestField(t *testing.T) {
	assert.Equal(t, "12.3", Field("12.3 volts", 0))
	assert.Equal(t, "volts", Field("12.3 volts", 1))
	assert.Equal(t, "", Field("12.3 volts", 2))
	assert.Equal(t, "", Field("", 0))
	assert.Equal(t, "", Field("x", -1))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "2.0", FormatValue(2))
	assert.Equal(t, "0.0", FormatValue(0))
	assert.Equal(t, "0.001", FormatValue(0.001))
	assert.Equal(t, "30.5", FormatValue(30.5))
}
