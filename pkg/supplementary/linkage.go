// Package supplementary дополнительные услуги поверх FACILITY:
// CCBS/CCNR, ECT, 3PTY, line interconnect и конференции.
package supplementary

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// LinkageType вид отложенного вызова
type LinkageType int

const (
	CCBS LinkageType = iota
	CCNR
)

func (t LinkageType) String() string {
	if t == CCNR {
		return "CCNR"
	}
	return "CCBS"
}

// LinkageState состояние записи
type LinkageState int

const (
	Available LinkageState = iota
	Requested
	Activated
)

func (s LinkageState) String() string {
	switch s {
	case Requested:
		return "REQUESTED"
	case Activated:
		return "ACTIVATED"
	default:
		return "AVAILABLE"
	}
}

// LinkageIDDeactivated идентификатор записи, снятой сетью, на которую
// еще ссылается активированный запрос
const LinkageIDDeactivated uint16 = 0xdead

// DefaultMaxLinkages емкость таблицы
const DefaultMaxLinkages = 32

// ErrTableFull таблица связей заполнена
var ErrTableFull = errors.New("supplementary: таблица CCBS/CCNR заполнена")

// Linkage запись отложенного вызова
type Linkage struct {
	Type      LinkageType
	PLCI      uint32
	ID        uint16
	Handle    uint32
	State     LinkageState
	Reference uint16
	Busy      bool
	Context   string
	Exten     string
	Priority  int
	Created   time.Time
}

// LinkageHandle handle из идентификатора сети и PLCI
func LinkageHandle(id uint16, plci uint32) uint32 {
	return uint32(id)<<16 | plci&0xffff
}

// LinkageTable таблица CCBS/CCNR
type LinkageTable struct {
	mu      sync.Mutex
	records []*Linkage
	max     int
}

// NewLinkageTable создает таблицу емкостью max
func NewLinkageTable(max int) *LinkageTable {
	if max <= 0 {
		max = DefaultMaxLinkages
	}
	return &LinkageTable{max: max}
}

func (t *LinkageTable) find(match func(*Linkage) bool) (int, *Linkage) {
	for n, l := range t.records {
		if match(l) {
			return n, l
		}
	}
	return -1, nil
}

// Register регистрирует связь из "info retain" и возвращает handle.
// Повторная регистрация того же id и PLCI обновляет тип.
func (t *LinkageTable) Register(typ LinkageType, plci uint32, id uint16) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	handle := LinkageHandle(id, plci)
	if _, l := t.find(func(l *Linkage) bool { return l.Handle == handle && l.ID != LinkageIDDeactivated }); l != nil {
		l.Type = typ
		return handle, nil
	}
	if len(t.records) >= t.max {
		return 0, fmt.Errorf("%w (%d)", ErrTableFull, t.max)
	}
	t.records = append(t.records, &Linkage{
		Type:    typ,
		PLCI:    plci,
		ID:      id,
		Handle:  handle,
		State:   Available,
		Created: time.Now(),
	})
	return handle, nil
}

// SelectForActivation переводит доступную запись в REQUESTED и запоминает
// цель обратного вызова. Возвращает 0, если записи в AVAILABLE нет.
func (t *LinkageTable) SelectForActivation(handle uint32, context, exten string, priority int) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, l := t.find(func(l *Linkage) bool { return l.Handle == handle && l.State == Available })
	if l == nil {
		return 0
	}
	l.State = Requested
	l.Context = context
	l.Exten = exten
	l.Priority = priority
	return handle
}

// Activate запрос подтвержден сетью с номером reference
func (t *LinkageTable) Activate(handle uint32, reference uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, l := t.find(func(l *Linkage) bool { return l.Handle == handle && l.State == Requested })
	if l == nil {
		return false
	}
	l.State = Activated
	l.Reference = reference
	return true
}

// Revert запрос отклонен: запись снова доступна
func (t *LinkageTable) Revert(handle uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, l := t.find(func(l *Linkage) bool { return l.Handle == handle && l.State == Requested }); l != nil {
		l.State = Available
	}
}

// MarkPartyBusy запоминает занятость вызывающей стороны для ответа на CCBS status
func (t *LinkageTable) MarkPartyBusy(handle uint32, busy bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, l := t.find(func(l *Linkage) bool { return l.Handle == handle })
	if l == nil {
		return false
	}
	l.Busy = busy
	return true
}

// PartyBusyByReference занятость для записи с номером reference
func (t *LinkageTable) PartyBusyByReference(reference uint16) (bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, l := t.find(func(l *Linkage) bool { return l.State == Activated && l.Reference == reference })
	if l == nil {
		return false, false
	}
	return l.Busy, true
}

// ByReference копия активированной записи
func (t *LinkageTable) ByReference(reference uint16) (Linkage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, l := t.find(func(l *Linkage) bool { return l.State == Activated && l.Reference == reference })
	if l == nil {
		return Linkage{}, false
	}
	return *l, true
}

// Get копия записи по handle
func (t *LinkageTable) Get(handle uint32) (Linkage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, l := t.find(func(l *Linkage) bool { return l.Handle == handle })
	if l == nil {
		return Linkage{}, false
	}
	return *l, true
}

// RemoveByID сеть сняла linkage id. Активированная запись остается
// с идентификатором LinkageIDDeactivated, остальные удаляются.
func (t *LinkageTable) RemoveByID(plci uint32, id uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, l := t.find(func(l *Linkage) bool { return l.ID == id && l.PLCI&0x7f == plci&0x7f })
	if l == nil {
		return false
	}
	if l.State == Activated {
		l.ID = LinkageIDDeactivated
		return true
	}
	t.records = append(t.records[:n], t.records[n+1:]...)
	return true
}

// RemoveByReference удаляет активированную запись (CCBS erase, deactivate)
func (t *LinkageTable) RemoveByReference(reference uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, l := t.find(func(l *Linkage) bool { return l.State == Activated && l.Reference == reference })
	if l == nil {
		return false
	}
	t.records = append(t.records[:n], t.records[n+1:]...)
	return true
}

// Len число записей
func (t *LinkageTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
