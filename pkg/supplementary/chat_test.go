package supplementary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomsPlan(t *testing.T) {
	r := NewRooms()
	n := r.Join("conf", "a", 0)
	assert.Equal(t, n, r.Join("conf", "b", 0))
	assert.NotEqual(t, n, r.Join("other", "c", 0))

	assert.Nil(t, r.Plan(n), "нет активных участников")

	r.Update("a", 0x0101, true)
	assert.Nil(t, r.Plan(n), "один активный участник")

	r.Update("b", 0x0201, true)
	plan := r.Plan(n)
	require.Len(t, plan, 1)
	assert.Equal(t, MixerAction{PLCI: 0x0101, Peers: []uint32{0x0201}, Connect: true}, plan[0])

	_, err := plan[0].Request()
	assert.NoError(t, err)
}

func TestRoomsLeave(t *testing.T) {
	r := NewRooms()
	n := r.Join("conf", "a", 0x0101)
	r.Join("conf", "b", 0x0201)
	r.Update("a", 0x0101, true)
	r.Update("b", 0x0201, true)

	got, actions := r.Leave("a")
	assert.Equal(t, n, got)
	require.Len(t, actions, 1)
	assert.False(t, actions[0].Connect)
	assert.Equal(t, []uint32{0x0201}, actions[0].Peers)
	assert.Len(t, r.Members(n), 1)

	got, actions = r.Leave("b")
	assert.Equal(t, n, got)
	assert.Empty(t, actions)
	assert.Empty(t, r.Members(n))

	got, _ = r.Leave("nobody")
	assert.Zero(t, got)
	assert.False(t, r.Update("nobody", 1, true))
}
