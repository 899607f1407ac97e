package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/pbx"
)

func TestSelectDisconnectCase(t *testing.T) {
	tests := []struct {
		name       string
		in         disconnectInput
		wantCase   int
		wantAction disconnectAction
	}{
		{
			name:       "плечо на удержании",
			in:         disconnectInput{Outgoing: true, Policy: callstate.B3Always, State: callstate.Connected, Orphan: true},
			wantCase:   0,
			wantAction: actionDisconnect,
		},
		{
			name:       "исходящий без раннего B3 до ответа",
			in:         disconnectInput{Outgoing: true, Policy: callstate.B3Never, State: callstate.ConnectPending},
			wantCase:   1,
			wantAction: actionDisconnect,
		},
		{
			name:       "исходящий без раннего B3 в разговоре",
			in:         disconnectInput{Outgoing: true, Policy: callstate.B3Never, State: callstate.Connected},
			wantCase:   1,
			wantAction: actionQueueCause,
		},
		{
			name:       "исходящий B3 при успехе до ответа",
			in:         disconnectInput{Outgoing: true, Policy: callstate.B3OnSuccess, State: callstate.ConnectPending},
			wantCase:   1,
			wantAction: actionDisconnect,
		},
		{
			name:       "исходящий B3 при успехе после ответа",
			in:         disconnectInput{Outgoing: true, Policy: callstate.B3OnSuccess, State: callstate.Connected, B3Up: true},
			wantCase:   2,
			wantAction: actionQueueCause,
		},
		{
			name:       "исходящий B3 всегда, разговор",
			in:         disconnectInput{Outgoing: true, Policy: callstate.B3Always, State: callstate.Connected, B3Up: true},
			wantCase:   4,
			wantAction: actionQueueCause,
		},
		{
			name:       "исходящий B3 всегда, тоны сети",
			in:         disconnectInput{Outgoing: true, Policy: callstate.B3Always, State: callstate.ConnectPending, B3Up: true},
			wantCase:   4,
			wantAction: actionWaitNetwork,
		},
		{
			name:       "входящий",
			in:         disconnectInput{State: callstate.Connected, B3Up: true},
			wantCase:   3,
			wantAction: actionQueueCause,
		},
		{
			name:       "входящий факс",
			in:         disconnectInput{State: callstate.Connected, B3Up: true, FaxActive: true},
			wantCase:   3,
			wantAction: actionDisconnect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, action := selectDisconnectCase(tt.in)
			assert.Equal(t, tt.wantCase, n)
			assert.Equal(t, tt.wantAction, action, "действие %s", action)
		})
	}
}

func TestDisconnectIndReleasesInterface(t *testing.T) {
	d, stack, host := newTestDriver(t)
	ch, i := connectedCall(t, d, stack, host)
	ctx := context.Background()

	require.NoError(t, d.HandleMessage(ctx, stack.DisconnectInd(testPLCI, capi.Info(0x3490))))

	assert.Equal(t, callstate.Disconnected, i.State.Current())
	assert.False(t, i.HasLivePLCI())
	assert.NotNil(t, stack.LastSent(capi.DisconnectResp))
	assert.Contains(t, host.Controls(ch), pbx.ControlHangup.String(), "АТС получает завершение по cause 16")
	assert.Equal(t, "16", host.Variable(ch, pbx.VarHangupCause))

	// АТС кладет трубку, интерфейс освобождается
	require.NoError(t, d.Hangup(ctx, ch, 0))
	assert.False(t, i.Used())
	assert.Equal(t, 0, d.Registry().CountUsed())
}

func TestStalePLCIAfterDisconnect(t *testing.T) {
	d, stack, host := newTestDriver(t)
	ch, _ := connectedCall(t, d, stack, host)
	ctx := context.Background()

	require.NoError(t, d.Hangup(ctx, ch, 16))
	require.NotNil(t, stack.LastSent(capi.DisconnectReq), "без B3 уходит DISCONNECT_REQ")
	require.NoError(t, d.HandleMessage(ctx, stack.DisconnectInd(testPLCI, capi.Info(0x3490))))
	assert.Equal(t, 0, d.Registry().CountUsed())
	_, stale := d.Registry().StaleOwner(testPLCI)
	assert.True(t, stale)

	// запоздавший INFO_IND по освобожденному PLCI только подтверждается
	stack.ClearSent()
	require.NoError(t, d.HandleMessage(ctx, stack.InfoInd(testPLCI, capi.IECause, []byte{0x80, 0x90})))
	assert.Equal(t, []capi.Kind{capi.InfoResp}, stack.SentKinds())
	assert.Nil(t, d.Registry().FindByPLCI(testPLCI))
}

func TestNetworkDisconnectQueuesCause(t *testing.T) {
	d, stack, host := newTestDriver(t)
	ch, _ := connectedCall(t, d, stack, host)
	ctx := context.Background()

	require.NoError(t, d.HandleMessage(ctx, stack.InfoInd(testPLCI, capi.IECause, []byte{0x80, 0x91})))
	require.NoError(t, d.HandleMessage(ctx, stack.InfoInd(testPLCI, capi.MsgDisconnect, nil)))

	assert.Contains(t, host.Controls(ch), pbx.ControlBusy.String(), "cause 17 превращается в BUSY")
	assert.Empty(t, stack.SentOf(capi.DisconnectReq), "входящий без факса ждет решения АТС")
}
