package simulator

import (
	"bufio"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startSim(t *testing.T, cfg Config) (*Loadbank, net.Conn, *bufio.Reader) {
	t.Helper()
	sim := New(cfg, zap.NewNop())
	require.NoError(t, sim.Start("127.0.0.1:0"))
	t.Cleanup(func() { sim.Close() })

	conn, err := net.Dial("tcp", net.JoinHostPort(sim.Host(), strconv.Itoa(sim.Port())))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return sim, conn, bufio.NewReader(conn)
}

func send(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	_, err := conn.Write([]byte(line + "\r"))
	require.NoError(t, err)
}

func reply(t *testing.T, conn net.Conn, r *bufio.Reader) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := r.ReadString('\r')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\r")
}

func TestQueries(t *testing.T) {
	_, conn, r := startSim(t, Config{
		Initial: Registers{Mode: ModeCurrent, Range: 4, ConstCurrent: 2.5, VoltageLimit: 35},
	})

	tests := []struct {
		query string
		want  string
	}{
		{"v?", "24 volts"},
		{"i?", "0 amps"},
		{"ci?", "2.5 amps"},
		{"vl?", "35 volts"},
		{"rng?", "4 AMP"},
		{"load?", "load off"},
		{"mode?", "mode CURRENT"},
		{"bogus?", "ERR"},
	}

	for _, tt := range tests {
		send(t, conn, tt.query)
		assert.Equal(t, tt.want, reply(t, conn, r), tt.query)
	}
}

func TestElectricalModel(t *testing.T) {
	sim, conn, r := startSim(t, Config{SourceVoltage: 24, SourceResistance: 0.5})

	send(t, conn, "ci 10.0")
	send(t, conn, "load on")
	send(t, conn, "v?")
	assert.Equal(t, "19 volts", reply(t, conn, r))
	send(t, conn, "p?")
	assert.Equal(t, "190 watts", reply(t, conn, r))

	send(t, conn, "mode cv")
	send(t, conn, "cv 22.0")
	send(t, conn, "i?")
	assert.Equal(t, "4 amps", reply(t, conn, r))

	regs := sim.Registers()
	assert.Equal(t, ModeVoltage, regs.Mode)
	assert.True(t, regs.Load)
	assert.Equal(t, []string{"ci 10.0", "load on", "mode cv", "cv 22.0"}, sim.Sets())
}

func TestPassword(t *testing.T) {
	_, conn, r := startSim(t, Config{Password: "secret"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	prompt := make([]byte, len("Password ? "))
	_, err := io.ReadFull(r, prompt)
	require.NoError(t, err)
	assert.Equal(t, "Password ? ", string(prompt))

	_, err = conn.Write([]byte("secret\r\n"))
	require.NoError(t, err)

	send(t, conn, "rng?")
	assert.Equal(t, "9 AMP", reply(t, conn, r))
}

func TestFaultInjection(t *testing.T) {
	sim, conn, r := startSim(t, Config{})

	sim.GarbleNext(1)
	send(t, conn, "v?")
	assert.Equal(t, garbage, reply(t, conn, r))

	sim.DropNext(1)
	send(t, conn, "v?")
	send(t, conn, "load?")
	assert.Equal(t, "load off", reply(t, conn, r))
	assert.Equal(t, 3, sim.Queries())
}

func TestCloseIdempotent(t *testing.T) {
	sim := New(Config{}, nil)
	require.NoError(t, sim.Start("127.0.0.1:0"))
	assert.NoError(t, sim.Close())
	assert.NoError(t, sim.Close())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_address: 127.0.0.1:0
password: pw
source_voltage: 48
reply_delay: 5ms
initial:
  mode: VOLTAGE
  cv: 40
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "pw", cfg.Password)
	assert.Equal(t, 48.0, cfg.SourceVoltage)
	assert.Equal(t, 0.1, cfg.SourceResistance)
	assert.Equal(t, 5*time.Millisecond, cfg.ReplyDelay)
	assert.Equal(t, ModeVoltage, cfg.Initial.Mode)
	assert.Equal(t, 40.0, cfg.Initial.ConstVoltage)
	assert.Equal(t, 9, cfg.Initial.Range)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
