package driver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/capi/capitest"
	"github.com/arzzra/isdn_capi/pkg/pbx"
	"github.com/arzzra/isdn_capi/pkg/supplementary"
)

func TestDTMFIndicationQueuesFrames(t *testing.T) {
	d, stack, host := newTestDriver(t)
	ch, _ := connectedCall(t, d, stack, host)

	require.NoError(t, d.HandleMessage(context.Background(),
		stack.FacilityInd(testPLCI, capi.FacilityDTMF, []byte("1#X"))))

	frames := host.Frames(ch)
	require.Len(t, frames, 2, "служебный тон пропускается")
	assert.Equal(t, pbx.FrameDTMF, frames[0].Kind)
	assert.Equal(t, '1', frames[0].Digit)
	assert.Equal(t, '#', frames[1].Digit)
	assert.NotNil(t, stack.LastSent(capi.FacilityResp))
}

func TestSendDigitsRequiresB3(t *testing.T) {
	d, stack, host := newTestDriver(t)
	ch, _ := connectedCall(t, d, stack, host)

	err := d.SendDigits(context.Background(), ch, "12")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState("", "", nil)))
	assert.Empty(t, stack.SentOf(capi.FacilityReq))
}

func TestSendDigitsInband(t *testing.T) {
	const ncci uint32 = 0x00010101
	tests := []struct {
		name        string
		rtp         bool
		wantErr     error
		wantPackets int
	}{
		{name: "линия с RTP", rtp: true, wantPackets: 6},
		{name: "голосовая линия", rtp: false, wantErr: ErrServiceNotSupported("", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := testLine()
			line.SoftDTMF = true
			line.RTP = tt.rtp
			d, stack, host := newTestDriver(t, line)
			ch, _ := connectedCall(t, d, stack, host)
			b3Active(t, d, stack, ncci)
			stack.ClearSent()

			err := d.SendDigits(context.Background(), ch, "5")
			assert.Empty(t, stack.SentOf(capi.FacilityReq), "FACILITY DTMF не используется")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Empty(t, stack.SentOf(capi.DataB3Req))
				return
			}
			require.NoError(t, err)
			sent := stack.SentOf(capi.DataB3Req)
			require.Len(t, sent, tt.wantPackets)
			assert.Equal(t, ncci, sent[0].ID)

			var pkt rtp.Packet
			require.NoError(t, pkt.Unmarshal(sent[0].Data))
			assert.Equal(t, uint8(101), pkt.PayloadType)
			assert.Equal(t, byte(5), pkt.Payload[0], "событие цифры 5")
		})
	}
}

// busyCall исходящий вызов, получивший занято с сохранением linkage id
func busyCall(t *testing.T, d *Driver, stack *capitest.FakeStack, host *pbx.Recorder) (pbx.Channel, uint32) {
	t.Helper()
	ctx := context.Background()
	const plci uint32 = 0x0201

	ch, err := d.Dial(ctx, "ISDN1/5551234", "100")
	require.NoError(t, err)
	req := stack.LastSent(capi.ConnectReq)
	require.NotNil(t, req)
	require.NoError(t, d.HandleMessage(ctx, stack.ConnectConf(req.Number, plci, capi.InfoOK)))

	require.NoError(t, d.HandleMessage(ctx, stack.SupplementaryInd(plci, capi.SuppCCBSInfoRetain, capitest.Word(5))))
	handle := supplementary.LinkageHandle(5, plci)
	assert.Equal(t, fmt.Sprintf("%d", handle), host.Variable(ch, pbx.VarCCBSLinkage))

	require.NoError(t, d.HandleMessage(ctx, stack.DisconnectInd(plci, capi.Info(0x3491))))
	assert.Contains(t, host.Controls(ch), "BUSY")
	require.NoError(t, d.Hangup(ctx, ch, 0))
	require.Equal(t, 0, d.Registry().CountUsed())
	return ch, handle
}

func TestCCBSLifecycle(t *testing.T) {
	d, stack, host := newTestDriver(t)
	ctx := context.Background()
	ch, handle := busyCall(t, d, stack, host)

	ctrl, _ := d.Registry().Controller(1)
	ctrl.SetServices(capi.ServiceCCBS)
	stack.ClearSent()

	done := make(chan error, 1)
	go func() { done <- d.CCBSRequest(ctx, ch, handle, "in", "4711", 1) }()

	req := stack.WaitSent(capi.FacilityReq, time.Second)
	require.NotNil(t, req, "запрос CCBS отправлен")
	assert.Equal(t, uint32(0x0201), req.ID, "запрос адресуется PLCI занятого вызова")

	body, err := capi.Pack("www", uint16(0), uint16(0), uint16(9))
	require.NoError(t, err)
	require.NoError(t, d.HandleMessage(ctx, stack.SupplementaryConf(req.Number, 0x0201, capi.InfoOK, capi.SuppCCBSRequest, body)))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("CCBSRequest не завершился")
	}
	assert.Equal(t, "ACTIVATED", host.Variable(ch, pbx.VarCCBSStatus))
	rec, ok := d.Linkages().Get(handle)
	require.True(t, ok)
	assert.Equal(t, supplementary.Activated, rec.State)
	assert.Equal(t, uint16(9), rec.Reference)
	assert.Equal(t, 0, d.Registry().CountUsed(), "служебный интерфейс освобожден")
	assert.Len(t, d.Registry().Interfaces(), 2)

	// абонент освободился: вызов продолжается в заданном месте плана набора
	require.NoError(t, d.HandleMessage(ctx, stack.SupplementaryInd(1, capi.SuppCCBSRemoteUserFree, capitest.Word(9))))
	starts := host.Starts()
	require.Len(t, starts, 1)
	assert.Equal(t, "in", starts[0].Context)
	assert.Equal(t, "4711", starts[0].Exten)
	assert.Equal(t, "FREE", host.Variable(starts[0].Channel, pbx.VarCCBSStatus))

	stack.ClearSent()
	require.NoError(t, d.CCBSDeactivate(ctx, handle))
	deact := stack.LastSent(capi.FacilityReq)
	require.NotNil(t, deact)
	assert.Equal(t, uint32(1), deact.ID)
	_, ok = d.Linkages().Get(handle)
	assert.False(t, ok)
}

// activateCCBS активирует запись handle с номером reference
func activateCCBS(t *testing.T, d *Driver, stack *capitest.FakeStack, ch pbx.Channel, handle uint32, reference uint16) {
	t.Helper()
	ctx := context.Background()
	ctrl, _ := d.Registry().Controller(1)
	ctrl.SetServices(capi.ServiceCCBS)
	stack.ClearSent()

	done := make(chan error, 1)
	go func() { done <- d.CCBSRequest(ctx, ch, handle, "in", "4711", 1) }()
	req := stack.WaitSent(capi.FacilityReq, time.Second)
	require.NotNil(t, req)
	body, err := capi.Pack("www", uint16(0), uint16(0), reference)
	require.NoError(t, err)
	require.NoError(t, d.HandleMessage(ctx, stack.SupplementaryConf(req.Number, req.ID, capi.InfoOK, capi.SuppCCBSRequest, body)))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("CCBSRequest не завершился")
	}
}

func TestCCBSStatusReportsPartyBusy(t *testing.T) {
	tests := []struct {
		name  string
		marks []bool
		want  bool
	}{
		{name: "по умолчанию свободен", want: false},
		{name: "занят", marks: []bool{true}, want: true},
		{name: "освободился", marks: []bool{true, false}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, stack, host := newTestDriver(t)
			ctx := context.Background()
			ch, handle := busyCall(t, d, stack, host)
			activateCCBS(t, d, stack, ch, handle, 9)

			for _, busy := range tt.marks {
				require.NoError(t, d.CCBSPartyBusy(handle, busy))
			}
			stack.ClearSent()
			require.NoError(t, d.HandleMessage(ctx, stack.SupplementaryInd(1, capi.SuppCCBSStatus, capitest.Word(9))))

			resp := stack.LastSent(capi.FacilityResp)
			require.NotNil(t, resp, "запрос статуса подтвержден")
			want, err := supplementary.CCBSStatusResponse(tt.want)
			require.NoError(t, err)
			assert.Equal(t, want, resp.Params)
		})
	}

	t.Run("неизвестная запись", func(t *testing.T) {
		d, _, _ := newTestDriver(t)
		err := d.CCBSPartyBusy(0xdead, true)
		require.Error(t, err)
		var de *DriverError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "NO_LINKAGE", de.Code)
	})
}

func TestCCBSRequestRejected(t *testing.T) {
	d, stack, host := newTestDriver(t)
	ctx := context.Background()
	ch, handle := busyCall(t, d, stack, host)

	ctrl, _ := d.Registry().Controller(1)
	ctrl.SetServices(capi.ServiceCCBS)
	stack.ClearSent()

	done := make(chan error, 1)
	go func() { done <- d.CCBSRequest(ctx, ch, handle, "in", "4711", 1) }()
	req := stack.WaitSent(capi.FacilityReq, time.Second)
	require.NotNil(t, req)
	require.NoError(t, d.HandleMessage(ctx,
		stack.SupplementaryConf(req.Number, 0x0201, capi.InfoOK, capi.SuppCCBSRequest, capitest.Word(0x3702))))

	select {
	case err := <-done:
		require.Error(t, err)
		var de *DriverError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "CCBS_REJECTED", de.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("CCBSRequest не завершился")
	}
	assert.Equal(t, "ERROR", host.Variable(ch, pbx.VarCCBSStatus))
	rec, ok := d.Linkages().Get(handle)
	require.True(t, ok)
	assert.Equal(t, supplementary.Available, rec.State, "запись снова доступна")
}

func TestCCBSRequestUnknownHandle(t *testing.T) {
	d, _, host := newTestDriver(t)
	ch := pbx.NewTestChannel("SIP/peer-1")

	err := d.CCBSRequest(context.Background(), ch, 0xdead, "in", "4711", 1)
	require.Error(t, err)
	assert.Equal(t, "ERROR", host.Variable(ch, pbx.VarCCBSStatus))
}

func TestChatJoinAndLeave(t *testing.T) {
	d, stack, host := newTestDriver(t)
	ch, i := connectedCall(t, d, stack, host)
	ctx := context.Background()
	b3Active(t, d, stack, 0x00010101)
	stack.ClearSent()

	number, err := d.ChatJoin(ctx, ch, "conf")
	require.NoError(t, err)
	assert.NotZero(t, number)
	assert.Equal(t, number, i.RoomNumber)
	assert.Len(t, d.rooms.Members(number), 1)
	assert.Empty(t, stack.SentOf(capi.FacilityReq), "одному участнику соединять некого")

	require.NoError(t, d.ChatLeave(ctx, ch))
	assert.Zero(t, i.RoomNumber)
	assert.Empty(t, d.rooms.Members(number))
}

func TestChatJoinWaitsForB3(t *testing.T) {
	d, stack, host := newTestDriver(t)
	ch, i := connectedCall(t, d, stack, host)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := d.ChatJoin(ctx, ch, "conf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Zero(t, i.RoomNumber, "без B3 в комнату не входит")

	// B3 поднимается во время ожидания
	done := make(chan error, 1)
	go func() {
		_, err := d.ChatJoin(context.Background(), ch, "conf")
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	b3Active(t, d, stack, 0x00010101)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ChatJoin не дождался B3")
	}
	assert.NotZero(t, i.RoomNumber)
}
