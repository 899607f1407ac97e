package supplementary

import (
	"sort"
	"sync"
)

// Member участник комнаты
type Member struct {
	Name   string
	Room   string
	Number int
	PLCI   uint32
	Active bool
}

// MixerAction операция line interconnect для плеча PLCI
type MixerAction struct {
	PLCI    uint32
	Peers   []uint32
	Connect bool
}

// Rooms комнаты конференций поверх line interconnect
type Rooms struct {
	mu      sync.Mutex
	members map[string]*Member
	numbers map[string]int
	last    int
}

// NewRooms создает пустой набор комнат
func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]*Member),
		numbers: make(map[string]int),
	}
}

// Join добавляет участника в комнату и возвращает номер комнаты.
// Повторный Join того же участника переносит его в новую комнату.
func (r *Rooms) Join(room, member string, plci uint32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(member)
	number, ok := r.numbers[room]
	if !ok {
		r.last++
		number = r.last
		r.numbers[room] = number
	}
	r.members[member] = &Member{Name: member, Room: room, Number: number, PLCI: plci}
	return number
}

// Leave удаляет участника. Возвращает номер комнаты и план разъединения
// для оставшихся активных участников.
func (r *Rooms) Leave(member string) (int, []MixerAction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[member]
	if !ok {
		return 0, nil
	}
	var actions []MixerAction
	if m.Active {
		peers := r.activePLCIs(m.Number, member)
		if len(peers) > 0 {
			actions = append(actions, MixerAction{PLCI: m.PLCI, Peers: peers})
		}
	}
	number := m.Number
	r.leaveLocked(member)
	return number, actions
}

func (r *Rooms) leaveLocked(member string) {
	m, ok := r.members[member]
	if !ok {
		return
	}
	delete(r.members, member)
	for _, other := range r.members {
		if other.Number == m.Number {
			return
		}
	}
	delete(r.numbers, m.Room)
}

// Update отмечает PLCI участника и готовность его B3
func (r *Rooms) Update(member string, plci uint32, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[member]
	if !ok {
		return false
	}
	m.PLCI = plci
	m.Active = active && plci != 0
	return true
}

// Members участники комнаты, отсортированные по имени
func (r *Rooms) Members(number int) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Member
	for _, m := range r.members {
		if m.Number == number {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Plan план микшера: первое активное плечо соединяется со всеми
// остальными активными. Меньше двух активных участников: пустой план.
func (r *Rooms) Plan(number int) []MixerAction {
	r.mu.Lock()
	defer r.mu.Unlock()

	var active []*Member
	for _, m := range r.members {
		if m.Number == number && m.Active {
			active = append(active, m)
		}
	}
	if len(active) < 2 {
		return nil
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	peers := make([]uint32, 0, len(active)-1)
	for _, m := range active[1:] {
		peers = append(peers, m.PLCI)
	}
	return []MixerAction{{PLCI: active[0].PLCI, Peers: peers, Connect: true}}
}

func (r *Rooms) activePLCIs(number int, except string) []uint32 {
	var names []string
	for name, m := range r.members {
		if m.Number == number && m.Active && name != except {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]uint32, 0, len(names))
	for _, name := range names {
		out = append(out, r.members[name].PLCI)
	}
	return out
}

// Request параметры FACILITY_REQ для действия
func (a MixerAction) Request() ([]byte, error) {
	if a.Connect {
		return LineInterconnectRequest(a.Peers)
	}
	return LineDisconnectRequest(a.Peers)
}
