// Package waiter мост между действиями АТС и потоком монитора: действие
// заявляет ожидаемое событие, монитор сигнализирует его после обработки
// сообщения. На интерфейсе допускается одно ожидание одновременно.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arzzra/isdn_capi/pkg/capi"
)

// DefaultTimeout таймаут ожидания по умолчанию
const DefaultTimeout = 2 * time.Second

// Tag тип ожидаемого события
type Tag int

const (
	None Tag = iota
	B3Up
	B3Down
	AnswerFinished
	HoldInd
	RetrieveInd
	ECTInd
	Confirmation
)

func (t Tag) String() string {
	switch t {
	case B3Up:
		return "B3_UP"
	case B3Down:
		return "B3_DOWN"
	case AnswerFinished:
		return "ANSWER_FINISHED"
	case HoldInd:
		return "HOLD_IND"
	case RetrieveInd:
		return "RETRIEVE_IND"
	case ECTInd:
		return "ECT_IND"
	case Confirmation:
		return "CONF"
	default:
		return "NONE"
	}
}

// Event ожидаемое событие. Для Confirmation Command задает подтверждение.
type Event struct {
	Tag     Tag
	Command capi.Kind
}

// On событие без команды
func On(tag Tag) Event { return Event{Tag: tag} }

// OnConf ожидание подтверждения kind
func OnConf(kind capi.Kind) Event { return Event{Tag: Confirmation, Command: kind} }

func (e Event) String() string {
	if e.Tag == Confirmation {
		return fmt.Sprintf("CONF(%s)", e.Command)
	}
	return e.Tag.String()
}

func (e Event) matches(other Event) bool {
	if e.Tag != other.Tag {
		return false
	}
	return e.Tag != Confirmation || e.Command == other.Command
}

// Result исход ожидания
type Result int

const (
	Signaled Result = iota
	TimedOut
	Aborted
	Canceled
)

func (r Result) String() string {
	switch r {
	case Signaled:
		return "signaled"
	case TimedOut:
		return "timeout"
	case Aborted:
		return "aborted"
	default:
		return "canceled"
	}
}

// ErrBusy на интерфейсе уже есть незавершенное ожидание
var ErrBusy = errors.New("waiter: уже есть ожидание на интерфейсе")

// Wait заявленное ожидание
type Wait struct {
	slot  *Slot
	event Event
	done  chan Result
}

// Event ожидаемое событие
func (w *Wait) Event() Event { return w.event }

// Slot точка ожидания интерфейса
type Slot struct {
	mu      sync.Mutex
	pending *Wait
}

// Arm заявляет ожидание. Вызывается до отправки запроса, чтобы ответ,
// пришедший раньше начала Wait, не был потерян.
func (s *Slot) Arm(ev Event) (*Wait, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return nil, fmt.Errorf("%w: %s", ErrBusy, s.pending.event)
	}
	w := &Wait{slot: s, event: ev, done: make(chan Result, 1)}
	s.pending = w
	return w, nil
}

// Pending текущее ожидаемое событие
func (s *Slot) Pending() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Event{}, false
	}
	return s.pending.event, true
}

func (s *Slot) finish(ev *Event, r Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.pending
	if w == nil || (ev != nil && !w.event.matches(*ev)) {
		return false
	}
	s.pending = nil
	w.done <- r
	return true
}

// Signal завершает ожидание, если оно ждет именно ev
func (s *Slot) Signal(ev Event) bool {
	return s.finish(&ev, Signaled)
}

// Release прерывает любое ожидание (вызов завершен)
func (s *Slot) Release() bool {
	return s.finish(nil, Aborted)
}

func (s *Slot) cancel(w *Wait, r Result) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == w {
		s.pending = nil
		return r
	}
	// сигнал пришел одновременно с таймаутом
	return <-w.done
}

// Wait блокирует до сигнала, таймаута или отмены ctx.
// Вызывается без блокировки интерфейса.
func (w *Wait) Wait(ctx context.Context, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-w.done:
		return r
	case <-timer.C:
		return w.slot.cancel(w, TimedOut)
	case <-ctx.Done():
		return w.slot.cancel(w, Canceled)
	}
}

// Poll опрашивает cond с интервалом до успеха или таймаута
func Poll(ctx context.Context, timeout, interval time.Duration, cond func() bool) bool {
	if cond() {
		return true
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			if cond() {
				return true
			}
		case <-deadline.C:
			return cond()
		case <-ctx.Done():
			return false
		}
	}
}
