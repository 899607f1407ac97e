package pbx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderDialplanMatch(t *testing.T) {
	r := NewRecorder()
	r.AddExtension("isdn-in", "4711")
	r.AddExtension("isdn-in", "_47.")

	tests := []struct {
		exten  string
		exists bool
		more   bool
	}{
		{"4711", true, true},
		{"47", false, true},
		{"4", false, true},
		{"4799", true, true},
		{"5", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.exten, func(t *testing.T) {
			assert.Equal(t, tt.exists, r.ExtensionExists("isdn-in", tt.exten, ""))
			assert.Equal(t, tt.more, r.CanMatchMore("isdn-in", tt.exten, ""))
		})
	}
	assert.False(t, r.ExtensionExists("other", "4711", ""))
}

func TestRecorderChannelLifecycle(t *testing.T) {
	r := NewRecorder()
	ch, err := r.AllocateChannel(CallInfo{Interface: "ISDN1", Exten: "4711", Incoming: true})
	require.NoError(t, err)
	assert.Contains(t, ch.Name(), "CAPI/ISDN1/4711-")

	r.SetVariable(ch, VarHangupCause, "16")
	assert.Equal(t, "16", r.Variable(ch, VarHangupCause))

	r.QueueControl(ch, ControlRinging)
	r.QueueControl(ch, ControlBusy)
	assert.Equal(t, []string{"RINGING", "BUSY"}, r.Controls(ch))

	r.SetChannelState(ch, StateUp)
	assert.Equal(t, StateUp, r.State(ch))

	require.NoError(t, r.StartDialplan(ch, "isdn-in", "4711", 1))
	assert.True(t, r.WaitEvent("dialplan", "isdn-in/4711", time.Second))

	r.DestroyChannel(ch)
	assert.True(t, r.Destroyed(ch))
}

func TestControlForCause(t *testing.T) {
	assert.Equal(t, ControlBusy, ControlForCause(17))
	for _, c := range []int{34, 38, 41, 42, 44, 47} {
		assert.Equal(t, ControlCongestion, ControlForCause(c), "cause %d", c)
	}
	assert.Equal(t, ControlHangup, ControlForCause(16))
	assert.Equal(t, ControlHangup, ControlForCause(0))
}
