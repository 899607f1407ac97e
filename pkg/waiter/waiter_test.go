package waiter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/isdn_capi/pkg/capi"
)

func TestSignalBeforeWait(t *testing.T) {
	var s Slot
	w, err := s.Arm(On(HoldInd))
	require.NoError(t, err)

	assert.True(t, s.Signal(On(HoldInd)), "сигнал должен дойти до заявленного ожидания")
	assert.Equal(t, Signaled, w.Wait(context.Background(), time.Second))

	_, pending := s.Pending()
	assert.False(t, pending)
}

func TestSignalFromOtherGoroutine(t *testing.T) {
	var s Slot
	w, err := s.Arm(On(B3Up))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Signal(On(B3Up))
	}()

	start := time.Now()
	assert.Equal(t, Signaled, w.Wait(context.Background(), 2*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSignalWrongEvent(t *testing.T) {
	var s Slot
	w, err := s.Arm(OnConf(capi.FacilityConf))
	require.NoError(t, err)

	assert.False(t, s.Signal(On(B3Up)))
	assert.False(t, s.Signal(OnConf(capi.ConnectConf)), "подтверждение другой команды")
	assert.True(t, s.Signal(OnConf(capi.FacilityConf)))
	assert.Equal(t, Signaled, w.Wait(context.Background(), time.Second))
}

func TestSingleOutstandingWait(t *testing.T) {
	var s Slot
	_, err := s.Arm(On(HoldInd))
	require.NoError(t, err)

	_, err = s.Arm(On(ECTInd))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))
}

func TestWaitTimeout(t *testing.T) {
	var s Slot
	w, err := s.Arm(On(RetrieveInd))
	require.NoError(t, err)

	assert.Equal(t, TimedOut, w.Wait(context.Background(), 30*time.Millisecond))

	// после таймаута слот свободен, поздний сигнал игнорируется
	assert.False(t, s.Signal(On(RetrieveInd)))
	_, err = s.Arm(On(RetrieveInd))
	assert.NoError(t, err)
}

func TestReleaseAborts(t *testing.T) {
	var s Slot
	w, err := s.Arm(On(AnswerFinished))
	require.NoError(t, err)

	go s.Release()
	assert.Equal(t, Aborted, w.Wait(context.Background(), time.Second))
	assert.False(t, s.Release(), "повторный release ничего не делает")
}

func TestWaitCanceled(t *testing.T) {
	var s Slot
	w, err := s.Arm(On(B3Down))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, Canceled, w.Wait(ctx, time.Second))
}

func TestPoll(t *testing.T) {
	var flag atomic.Bool
	go func() {
		time.Sleep(30 * time.Millisecond)
		flag.Store(true)
	}()
	assert.True(t, Poll(context.Background(), time.Second, 5*time.Millisecond, flag.Load))

	assert.False(t, Poll(context.Background(), 20*time.Millisecond, 5*time.Millisecond, func() bool { return false }),
		"опрос должен завершиться по таймауту")
}
