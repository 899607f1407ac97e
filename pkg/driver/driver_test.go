package driver

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/capi/capitest"
	"github.com/arzzra/isdn_capi/pkg/config"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/pbx"
	"github.com/arzzra/isdn_capi/pkg/registry"
)

const testPLCI uint32 = 0x0101

func testLine() config.Line {
	return config.Line{
		Name:        "ISDN1",
		Controller:  1,
		Devices:     2,
		Context:     "in",
		IncomingMSN: []string{"4711"},
		B3Policy:    callstate.B3Never,
	}
}

func testConfig(lines ...config.Line) *config.Config {
	if len(lines) == 0 {
		lines = []config.Line{testLine()}
	}
	general := config.DefaultGeneral()
	general.WaitTimeout = time.Second
	general.PollInterval = 20 * time.Millisecond
	return &config.Config{General: general, Lines: lines}
}

// newTestDriver драйвер поверх фейкового стека и записывающей АТС,
// уже зарегистрированный (Start выполнен, отправленные сообщения очищены)
func newTestDriver(t *testing.T, lines ...config.Line) (*Driver, *capitest.FakeStack, *pbx.Recorder) {
	t.Helper()
	stack := capitest.New()
	host := pbx.NewRecorder()
	d, err := New(testConfig(lines...), stack, host)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	stack.ClearSent()
	return d, stack, host
}

// incomingCall доставляет CONNECT_IND на 4711 и возвращает канал АТС
func incomingCall(t *testing.T, d *Driver, stack *capitest.FakeStack, host *pbx.Recorder) (pbx.Channel, *registry.Interface) {
	t.Helper()
	return incomingCallOn(t, d, stack, host, testPLCI)
}

func incomingCallOn(t *testing.T, d *Driver, stack *capitest.FakeStack, host *pbx.Recorder, plci uint32) (pbx.Channel, *registry.Interface) {
	t.Helper()
	host.AddExtension("in", "4711")
	require.NoError(t, d.HandleMessage(context.Background(), stack.ConnectInd(plci, "4711", "123")))

	i := d.Registry().FindByPLCI(plci)
	require.NotNil(t, i, "интерфейс должен получить PLCI")
	require.NotNil(t, i.Owner, "канал АТС должен быть создан")
	return i.Owner, i
}

// connectedCall входящий вызов, принятый через Answer
func connectedCall(t *testing.T, d *Driver, stack *capitest.FakeStack, host *pbx.Recorder) (pbx.Channel, *registry.Interface) {
	t.Helper()
	return connectedCallOn(t, d, stack, host, testPLCI)
}

func connectedCallOn(t *testing.T, d *Driver, stack *capitest.FakeStack, host *pbx.Recorder, plci uint32) (pbx.Channel, *registry.Interface) {
	t.Helper()
	ch, i := incomingCallOn(t, d, stack, host, plci)

	done := make(chan error, 1)
	go func() { done <- d.Answer(context.Background(), ch) }()

	require.NotNil(t, stack.WaitSent(capi.ConnectResp, time.Second), "CONNECT_RESP не отправлен")
	require.NoError(t, d.HandleMessage(context.Background(), stack.ConnectActiveInd(plci)))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Answer не завершился")
	}
	require.Equal(t, callstate.Connected, i.State.Current())
	stack.ClearSent()
	return ch, i
}

// b3Active поднимает B3 со стороны сети
func b3Active(t *testing.T, d *Driver, stack *capitest.FakeStack, ncci uint32) {
	t.Helper()
	require.NoError(t, d.HandleMessage(context.Background(), stack.ConnectB3Ind(ncci)))
	require.NoError(t, d.HandleMessage(context.Background(), stack.ConnectB3ActiveInd(ncci)))
}

func TestNewValidation(t *testing.T) {
	stack := capitest.New()
	host := pbx.NewRecorder()

	_, err := New(&config.Config{General: config.DefaultGeneral()}, stack, host)
	require.Error(t, err)
	var de *DriverError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "NO_LINES", de.Code)

	_, err = New(testConfig(), nil, host)
	require.Error(t, err, "без транспорта драйвер не создается")

	d, err := New(testConfig(), stack, host)
	require.NoError(t, err)
	assert.Len(t, d.Registry().Interfaces(), 2)
}

func TestStartRegistersAndListens(t *testing.T) {
	stack := capitest.New()
	d, err := New(testConfig(), stack, pbx.NewRecorder())
	require.NoError(t, err)

	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, uint16(1), d.AppID())

	listen := stack.LastSent(capi.ListenReq)
	require.NotNil(t, listen, "LISTEN_REQ должен быть отправлен")
	assert.Equal(t, uint32(1), listen.ID)
	assert.Len(t, stack.SentOf(capi.FacilityReq), 2, "запрос услуг и уведомлений supplementary services")

	// повторный Start ничего не отправляет
	stack.ClearSent()
	require.NoError(t, d.Start(context.Background()))
	assert.Empty(t, stack.Sent())
}

func TestDriverErrors(t *testing.T) {
	timeout := ErrWaitTimeout("ISDN1#1", "HOLD_IND", time.Second)
	assert.True(t, IsTimeout(timeout))
	assert.True(t, timeout.Retryable)
	assert.False(t, IsFatal(timeout))

	fatal := ErrApplicationInvalid(capi.ErrApplicationInvalid)
	assert.True(t, IsFatal(fatal))
	assert.True(t, errors.Is(fatal, capi.ErrApplicationInvalid), "причина доступна через errors.Is")

	assert.True(t, errors.Is(ErrNoFreeInterface("g1"), ErrNoFreeInterface("")), "сравнение по коду")
	assert.False(t, errors.Is(ErrNoFreeInterface("g1"), ErrNoDestination("")))
	assert.Contains(t, ErrAlreadyOnHold("ISDN1#2").Error(), "ISDN1#2")
}

func TestCloseWarnsAboutActiveCalls(t *testing.T) {
	tests := []struct {
		name     string
		call     bool
		wantWarn bool
	}{
		{name: "без вызовов"},
		{name: "с активным вызовом", call: true, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := logging.DefaultConfig()
			cfg.Level = logging.LogLevelWarn
			cfg.Console = &buf

			stack := capitest.New()
			host := pbx.NewRecorder()
			d, err := New(testConfig(), stack, host, WithLogger(logging.New(cfg)))
			require.NoError(t, err)
			require.NoError(t, d.Start(context.Background()))
			stack.ClearSent()
			if tt.call {
				connectedCall(t, d, stack, host)
			}

			require.NoError(t, d.Close())
			assert.True(t, stack.Closed())
			if !tt.wantWarn {
				assert.NotContains(t, buf.String(), "closing with active calls")
				return
			}
			assert.Contains(t, buf.String(), "closing with active calls")
			assert.Contains(t, buf.String(), "active_calls=1")
		})
	}
}
