package supplementary

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkageSelectTwice(t *testing.T) {
	tbl := NewLinkageTable(0)
	h, err := tbl.Register(CCBS, 0x0101, 7)
	require.NoError(t, err)
	assert.Equal(t, uint32(7<<16|0x0101), h)

	assert.Equal(t, h, tbl.SelectForActivation(h, "callback", "100", 1))
	assert.Zero(t, tbl.SelectForActivation(h, "callback", "100", 1), "повторная активация должна быть отклонена")

	l, ok := tbl.Get(h)
	require.True(t, ok)
	assert.Equal(t, Requested, l.State)
	assert.Equal(t, "callback", l.Context)
	assert.Equal(t, "100", l.Exten)
}

func TestLinkageLifecycle(t *testing.T) {
	tbl := NewLinkageTable(4)
	h, err := tbl.Register(CCNR, 0x0201, 3)
	require.NoError(t, err)

	assert.False(t, tbl.Activate(h, 9), "активация без запроса")
	require.NotZero(t, tbl.SelectForActivation(h, "c", "200", 2))

	tbl.Revert(h)
	l, _ := tbl.Get(h)
	assert.Equal(t, Available, l.State)

	require.NotZero(t, tbl.SelectForActivation(h, "c", "200", 2))
	require.True(t, tbl.Activate(h, 9))

	assert.True(t, tbl.MarkPartyBusy(h, true))
	busy, found := tbl.PartyBusyByReference(9)
	assert.True(t, found)
	assert.True(t, busy)

	got, ok := tbl.ByReference(9)
	require.True(t, ok)
	assert.Equal(t, CCNR, got.Type)
	assert.Equal(t, 2, got.Priority)

	assert.True(t, tbl.RemoveByReference(9))
	assert.Zero(t, tbl.Len())
	_, found = tbl.PartyBusyByReference(9)
	assert.False(t, found)
}

func TestLinkageRemoveByID(t *testing.T) {
	tbl := NewLinkageTable(4)
	avail, err := tbl.Register(CCBS, 0x0101, 1)
	require.NoError(t, err)
	active, err := tbl.Register(CCBS, 0x0201, 2)
	require.NoError(t, err)
	tbl.SelectForActivation(active, "c", "1", 1)
	require.True(t, tbl.Activate(active, 5))

	assert.True(t, tbl.RemoveByID(0x0001, 1))
	_, ok := tbl.Get(avail)
	assert.False(t, ok, "доступная запись удаляется")

	assert.True(t, tbl.RemoveByID(0x0001, 2))
	l, ok := tbl.ByReference(5)
	require.True(t, ok, "активированная запись остается")
	assert.Equal(t, LinkageIDDeactivated, l.ID)

	assert.False(t, tbl.RemoveByID(0x0001, 42))
}

func TestLinkageTableFull(t *testing.T) {
	tbl := NewLinkageTable(2)
	_, err := tbl.Register(CCBS, 0x0101, 1)
	require.NoError(t, err)
	_, err = tbl.Register(CCBS, 0x0101, 2)
	require.NoError(t, err)

	_, err = tbl.Register(CCBS, 0x0101, 1)
	assert.NoError(t, err, "повторная регистрация не занимает место")

	_, err = tbl.Register(CCBS, 0x0101, 3)
	assert.True(t, errors.Is(err, ErrTableFull))
	assert.Equal(t, 2, tbl.Len())
}
