package callstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// События автомата
const (
	EventDial          = "dial"
	EventOffer         = "offer"
	EventOfferDID      = "offer_did"
	EventAlert         = "alert"
	EventAnswer        = "answer"
	EventConnect       = "connect"
	EventHoldBegin     = "hold_begin"
	EventHold          = "hold"
	EventHoldFail      = "hold_fail"
	EventRetrieveBegin = "retrieve_begin"
	EventRetrieve      = "retrieve"
	EventRetrieveFail  = "retrieve_fail"
	EventHangup        = "hangup"
	EventDisconnect    = "disconnect"
	EventForced        = "FORCED"
)

const historyLimit = 20

// Transition запись истории переходов
type Transition struct {
	From   State
	To     State
	Event  string
	Reason string
	At     time.Time
}

// ErrInvalidTransition событие недопустимо в текущем состоянии
var ErrInvalidTransition = errors.New("недопустимый переход состояния")

// Machine автомат состояния вызова одного интерфейса.
// Все изменения выполняются под блокировкой интерфейса, собственный мьютекс
// защищает только чтение из интроспекции.
type Machine struct {
	mu      sync.RWMutex
	fsm     *fsm.FSM
	history []Transition
	reason  string
}

func events() fsm.Events {
	s := func(states ...State) []string {
		out := make([]string, len(states))
		for i, st := range states {
			out[i] = string(st)
		}
		return out
	}
	active := s(Incall, DID, Alerting, Answering, Connected, OnHold, PuttingOnHold, Retrieving, ConnectPending)

	return fsm.Events{
		{Name: EventDial, Src: s(Disconnected), Dst: string(ConnectPending)},
		{Name: EventOffer, Src: s(Disconnected, DID), Dst: string(Incall)},
		{Name: EventOfferDID, Src: s(Disconnected), Dst: string(DID)},
		{Name: EventAlert, Src: s(Incall, DID), Dst: string(Alerting)},
		{Name: EventAnswer, Src: s(Incall, DID, Alerting), Dst: string(Answering)},
		{Name: EventConnect, Src: s(ConnectPending, Answering, Incall, DID, Alerting, OnHold, PuttingOnHold, Retrieving), Dst: string(Connected)},
		{Name: EventHoldBegin, Src: s(Connected), Dst: string(PuttingOnHold)},
		{Name: EventHold, Src: s(Connected, PuttingOnHold), Dst: string(OnHold)},
		{Name: EventHoldFail, Src: s(PuttingOnHold), Dst: string(Connected)},
		{Name: EventRetrieveBegin, Src: s(OnHold), Dst: string(Retrieving)},
		{Name: EventRetrieve, Src: s(OnHold, Retrieving), Dst: string(Connected)},
		{Name: EventRetrieveFail, Src: s(Retrieving), Dst: string(OnHold)},
		{Name: EventHangup, Src: active, Dst: string(Disconnecting)},
		{Name: EventDisconnect, Src: append(active, string(Disconnecting)), Dst: string(Disconnected)},
	}
}

// NewMachine создает автомат в состоянии DISCONNECTED
func NewMachine() *Machine {
	m := &Machine{history: make([]Transition, 0, 10)}
	m.fsm = fsm.NewFSM(string(Disconnected), events(), fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			m.record(State(e.Src), State(e.Dst), e.Event)
		},
	})
	return m
}

func (m *Machine) record(from, to State, event string) {
	m.history = append(m.history, Transition{From: from, To: to, Event: event, Reason: m.reason, At: time.Now()})
	if len(m.history) > historyLimit {
		m.history = m.history[1:]
	}
}

// Current текущее состояние
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State(m.fsm.Current())
}

// Can проверяет, допустимо ли событие
func (m *Machine) Can(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// Fire выполняет переход по событию. Событие, не меняющее состояние,
// ошибкой не считается.
func (m *Machine) Fire(event, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reason = reason
	err := m.fsm.Event(context.Background(), event)
	m.reason = ""
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return fmt.Errorf("%w [%s из %s]: %v", ErrInvalidTransition, event, m.fsm.Current(), err)
}

// Force устанавливает состояние без проверки (сброс интерфейса, аварийные случаи)
func (m *Machine) Force(s State, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := State(m.fsm.Current())
	m.fsm.SetState(string(s))
	if from != s {
		m.reason = reason
		m.record(from, s, EventForced)
		m.reason = ""
	}
}

// History копия истории переходов
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}
