package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/media"
)

const sample = `
[general]
loglevel = debug
metrics = :9108
waittimeout = 3s
faxtimeout = 5m

[ISDN1]
controller = 1
devices = 2
group = 1,3
isdnmode = did
incomingmsn = 4711, 4712
context = isdn-in
b3mode = always
law = ulaw

[ISDN2]
controller = 2
dchannel = yes
incomingmsn = *
context = isdn-in2
`

func TestParseSample(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	g := cfg.General
	assert.Equal(t, "/dev/capi20", g.Device)
	assert.Equal(t, "debug", g.LogLevel)
	assert.Equal(t, "debug", g.ConsoleLevel, "по умолчанию берется из loglevel")
	assert.Equal(t, ":9108", g.MetricsAddr)
	assert.Equal(t, 3*time.Second, g.WaitTimeout)
	assert.Equal(t, 500*time.Millisecond, g.PollInterval)
	assert.Equal(t, 5*time.Minute, g.FaxTimeout)
	assert.Equal(t, 7, g.MaxB3Blocks)

	require.Len(t, cfg.Lines, 2)
	l := cfg.Lines[0]
	assert.Equal(t, "ISDN1", l.Name)
	assert.Equal(t, uint8(1), l.Controller)
	assert.Equal(t, uint64(1<<1|1<<3), l.Group)
	assert.Equal(t, ModeDID, l.Mode)
	assert.Equal(t, []string{"4711", "4712"}, l.IncomingMSN)
	assert.Equal(t, callstate.B3Always, l.B3Policy)
	assert.Equal(t, media.ULaw, l.Law)
	assert.True(t, l.EchoCancel)

	l2 := cfg.Lines[1]
	assert.True(t, l2.DChannel)
	assert.Equal(t, ModeMSN, l2.Mode)
	assert.Equal(t, []string{"*"}, l2.IncomingMSN)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"нет линий", "[general]\nloglevel=info\n", "ни одной линии"},
		{"нет context", "[L1]\ncontroller=1\n", "context"},
		{"плохой isdnmode", "[L1]\ncontext=x\nisdnmode=pri\n", "isdnmode"},
		{"плохой b3mode", "[L1]\ncontext=x\nb3mode=maybe\n", "b3mode"},
		{"плохой controller", "[L1]\ncontext=x\ncontroller=200\n", "controller"},
		{"плохая группа", "[L1]\ncontext=x\ngroup=a\n", "group"},
		{"maxb3blocks", "[general]\nmaxb3blocks=9\n[L1]\ncontext=x\n", "maxb3blocks"},
		{"faxtimeout", "[general]\nfaxtimeout=1s\n[L1]\ncontext=x\n", "faxtimeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capi.conf")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Lines, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.conf"))
	assert.Error(t, err)
}
