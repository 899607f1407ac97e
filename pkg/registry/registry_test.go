package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/config"
)

func testLines() []config.Line {
	return []config.Line{
		{Name: "ISDN1", Controller: 1, Devices: 2, DChannel: true, Group: 1 << 1, Context: "in"},
		{Name: "ISDN2", Controller: 2, Devices: 1, Group: 1 << 2, Context: "in2"},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(testLines(), 4, nil)
	require.NoError(t, err)
	return r
}

func TestNewRegistryLayout(t *testing.T) {
	r := newTestRegistry(t)
	ifaces := r.Interfaces()
	require.Len(t, ifaces, 4)
	assert.Equal(t, "ISDN1#1", ifaces[0].String())
	assert.Equal(t, ChannelD, ifaces[2].Type)
	assert.Equal(t, callstate.Disconnected, ifaces[0].State.Current())

	ctrls := r.Controllers()
	require.Len(t, ctrls, 2)
	assert.Equal(t, uint8(1), ctrls[0].Number)
	assert.Equal(t, uint8(2), ctrls[1].Number)
}

func TestFindFreeInterfacePrefersB(t *testing.T) {
	r := newTestRegistry(t)

	a := r.FindFreeInterface(Selector{Name: "isdn1"})
	b := r.FindFreeInterface(Selector{Name: "ISDN1"})
	d := r.FindFreeInterface(Selector{Name: "ISDN1"})
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, d)
	assert.Equal(t, ChannelB, a.Type)
	assert.Equal(t, ChannelB, b.Type)
	assert.Equal(t, ChannelD, d.Type, "D-канал выдается последним")
	assert.Nil(t, r.FindFreeInterface(Selector{Name: "ISDN1"}), "свободных не осталось")

	r.Cleanup(a)
	assert.Same(t, a, r.FindFreeInterface(Selector{Controller: 1}))
}

func TestFindFreeInterfaceSelectors(t *testing.T) {
	r := newTestRegistry(t)

	i := r.FindFreeInterface(Selector{Group: 1 << 2})
	require.NotNil(t, i)
	assert.Equal(t, "ISDN2", i.Name)

	assert.Nil(t, r.FindFreeInterface(Selector{Controller: 3}))
	assert.Nil(t, r.FindFreeInterface(Selector{Controller: 1, Match: func(*Interface) bool { return false }}))
}

func TestFindFreeInterfaceConcurrentClaim(t *testing.T) {
	r := newTestRegistry(t)

	var wg sync.WaitGroup
	claimed := make(chan *Interface, 32)
	for n := 0; n < 32; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i := r.FindFreeInterface(Selector{Controller: 1}); i != nil {
				claimed <- i
			}
		}()
	}
	wg.Wait()
	close(claimed)

	seen := make(map[*Interface]bool)
	for i := range claimed {
		assert.False(t, seen[i], "интерфейс выдан дважды: %s", i)
		seen[i] = true
	}
	assert.Len(t, seen, 3)
}

func TestPLCIIndexUniqueness(t *testing.T) {
	r := newTestRegistry(t)
	a := r.FindFreeInterface(Selector{Controller: 1})
	b := r.FindFreeInterface(Selector{Controller: 1})

	require.NoError(t, r.SetPLCI(a, 0x101))
	assert.Same(t, a, r.FindByPLCI(0x101))

	err := r.SetPLCI(b, 0x101)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPLCIInUse))
	assert.Equal(t, uint32(0), b.PLCI())

	require.NoError(t, r.SetPLCI(a, 0x201))
	assert.Nil(t, r.FindByPLCI(0x101), "старый PLCI удален из индекса")
	assert.Same(t, a, r.FindByPLCI(0x201))

	// для всех интерфейсов с PLCI != 0 поиск находит ровно их
	for _, i := range r.Interfaces() {
		if i.HasLivePLCI() {
			assert.Same(t, i, r.FindByPLCI(i.PLCI()))
		}
	}
}

func TestInvalidatePLCI(t *testing.T) {
	r := newTestRegistry(t)
	a := r.FindFreeInterface(Selector{Controller: 1})
	require.NoError(t, r.SetPLCI(a, 0x101))

	r.InvalidatePLCI(a)
	assert.Equal(t, PLCIInvalid, a.PLCI())
	assert.False(t, a.HasLivePLCI())
	assert.Nil(t, r.FindByPLCI(0x101), "устаревший PLCI не находит интерфейс")
	assert.Nil(t, r.FindByPLCI(PLCIInvalid))
	assert.Nil(t, r.FindByPLCI(0))

	owner, ok := r.StaleOwner(0x101)
	assert.True(t, ok)
	assert.Equal(t, a.String(), owner)
	_, ok = r.StaleOwner(0x202)
	assert.False(t, ok)
}

func TestFindByPendingMessageNumber(t *testing.T) {
	r := newTestRegistry(t)
	a := r.FindFreeInterface(Selector{Controller: 1})
	a.Lock()
	a.SetMessageNumber(42)
	a.Unlock()

	assert.Same(t, a, r.FindByPendingMessageNumber(42))
	assert.Nil(t, r.FindByPendingMessageNumber(43))
	assert.Nil(t, r.FindByPendingMessageNumber(0))

	require.NoError(t, r.SetPLCI(a, 0x101))
	assert.Nil(t, r.FindByPendingMessageNumber(42), "только интерфейсы без PLCI")
}

func TestCleanupResetsCall(t *testing.T) {
	r := newTestRegistry(t)
	a := r.FindFreeInterface(Selector{Controller: 1})

	a.Lock()
	a.BeginCall(true)
	require.NotEmpty(t, a.CallID)
	require.NotNil(t, a.Pipe)
	require.NoError(t, a.State.Fire(callstate.EventDial, ""))
	a.Isdn = a.Isdn.With(callstate.B3Up)
	a.DNID = "4711"
	require.NoError(t, r.SetPLCI(a, 0x101))
	r.Cleanup(a)
	a.Unlock()

	assert.False(t, a.Used())
	assert.Equal(t, uint32(0), a.PLCI())
	assert.Equal(t, callstate.Disconnected, a.State.Current())
	assert.Equal(t, callstate.IsdnState(0), a.Isdn)
	assert.Empty(t, a.DNID)
	assert.Nil(t, a.Pipe)
	assert.Nil(t, r.FindByPLCI(0x101))
}

func TestNullInterface(t *testing.T) {
	r := newTestRegistry(t)
	n := r.NewNullInterface(1, "ccbs")
	assert.Equal(t, ChannelNull, n.Type)
	assert.True(t, n.Used())
	assert.Len(t, r.Interfaces(), 5)

	assert.NotSame(t, n, r.FindFreeInterface(Selector{Name: n.Name}))

	n.Lock()
	r.Cleanup(n)
	n.Unlock()
	assert.Len(t, r.Interfaces(), 4, "NULL интерфейс удаляется при освобождении")
}

func TestControllerCounters(t *testing.T) {
	r := newTestRegistry(t)
	c, ok := r.Controller(1)
	require.True(t, ok)

	c.SetProfile(capi.Profile{BChannels: 2})
	assert.Equal(t, 2, c.Free())
	assert.Equal(t, 1, c.TakeChannel())
	assert.Equal(t, 2, c.ReturnChannel())
	assert.Equal(t, 2, c.Total())

	assert.False(t, c.Ready())
	c.SetServices(capi.ServiceHoldRetrieve | capi.ServiceECT)
	assert.True(t, c.Ready())
	assert.True(t, c.Supports(capi.ServiceECT))
	assert.False(t, c.Supports(capi.ServiceCCBS))
}

func TestSnapshot(t *testing.T) {
	r := newTestRegistry(t)
	a := r.FindFreeInterface(Selector{Controller: 1})
	a.Lock()
	a.BeginCall(false)
	a.CID = "0301234"
	a.Unlock()

	s := a.Snapshot()
	assert.True(t, s.Used)
	assert.Equal(t, "0301234", s.CID)
	assert.Equal(t, "ISDN1#1", s.Name)
	assert.Empty(t, s.Owner)
}
