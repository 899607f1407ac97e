// Package registry реестр интерфейсов (каналов линий) и контроллеров.
//
// Порядок блокировок: блокировка интерфейса берется раньше блокировки
// списка. Поиск выполняется под блокировкой списка, после чего она
// снимается, и вызывающий берет блокировку найденного интерфейса.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/arzzra/isdn_capi/pkg/config"
	"github.com/arzzra/isdn_capi/pkg/logging"
)

// DefaultReleasedCache размер кэша освобожденных PLCI
const DefaultReleasedCache = 64

// ErrPLCIInUse PLCI уже принадлежит другому интерфейсу
var ErrPLCIInUse = errors.New("registry: PLCI уже назначен другому интерфейсу")

// ErrCallReleased вызов освобожден до завершения сеанса
var ErrCallReleased = errors.New("registry: вызов освобожден")

// Selector критерий выбора свободного интерфейса.
// Заполняется одно из Name, Group, Controller; Match уточняет выбор.
type Selector struct {
	Name       string
	Group      uint64
	Controller uint8
	// Match дополнительная проверка (например сопоставление MSN)
	Match func(*Interface) bool
}

func (s Selector) String() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Group != 0:
		return fmt.Sprintf("group 0x%x", s.Group)
	case s.Controller != 0:
		return fmt.Sprintf("contr%d", s.Controller)
	}
	return "any"
}

func (s Selector) accepts(i *Interface) bool {
	switch {
	case s.Name != "":
		if !strings.EqualFold(i.Name, s.Name) {
			return false
		}
	case s.Group != 0:
		if i.Line.Group&s.Group == 0 {
			return false
		}
	}
	if s.Controller != 0 && i.Controller != s.Controller {
		return false
	}
	return s.Match == nil || s.Match(i)
}

// Registry список интерфейсов и таблица контроллеров
type Registry struct {
	mu          sync.Mutex
	ifaces      []*Interface
	byPLCI      map[uint32]*Interface
	controllers map[uint8]*Controller
	released    *lru.Cache
	logger      logging.StructuredLogger
}

// New создает реестр по конфигурации линий: devices B-интерфейсов
// и, если задан dchannel, один D-интерфейс на линию
func New(lines []config.Line, releasedCache int, logger logging.StructuredLogger) (*Registry, error) {
	if releasedCache <= 0 {
		releasedCache = DefaultReleasedCache
	}
	cache, err := lru.New(releasedCache)
	if err != nil {
		return nil, fmt.Errorf("кэш освобожденных PLCI: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	r := &Registry{
		byPLCI:      make(map[uint32]*Interface),
		controllers: make(map[uint8]*Controller),
		released:    cache,
		logger:      logger.WithComponent("registry"),
	}
	for _, line := range lines {
		if _, ok := r.controllers[line.Controller]; !ok {
			r.controllers[line.Controller] = &Controller{Number: line.Controller}
		}
		for n := 0; n < line.Devices; n++ {
			r.ifaces = append(r.ifaces, newInterface(line, ChannelB, n+1))
		}
		if line.DChannel {
			r.ifaces = append(r.ifaces, newInterface(line, ChannelD, 0))
		}
	}
	return r, nil
}

// Interfaces копия списка интерфейсов
func (r *Registry) Interfaces() []*Interface {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Interface(nil), r.ifaces...)
}

// Controller контроллер по номеру
func (r *Registry) Controller(n uint8) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[n]
	return c, ok
}

// Controllers контроллеры по возрастанию номера
func (r *Registry) Controllers() []*Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Number < out[b].Number })
	return out
}

// FindByPLCI интерфейс с живым PLCI. 0 и PLCIInvalid не совпадают ни с чем.
func (r *Registry) FindByPLCI(plci uint32) *Interface {
	if plci == 0 || plci == PLCIInvalid {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byPLCI[plci]
}

// FindByPendingMessageNumber интерфейс без PLCI, ожидающий подтверждение
// запроса с номером num (CONNECT_CONF приходит раньше назначения PLCI)
func (r *Registry) FindByPendingMessageNumber(num uint16) *Interface {
	if num == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.ifaces {
		if i.PLCI() == 0 && i.Used() && i.MessageNumber() == num {
			return i
		}
	}
	return nil
}

// FindFreeInterface захватывает свободный интерфейс. B-каналы
// предпочтительнее D-канала. Возвращает nil, если подходящих нет.
func (r *Registry) FindFreeInterface(sel Selector) *Interface {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, typ := range []ChannelType{ChannelB, ChannelD} {
		for _, i := range r.ifaces {
			if i.Type != typ || i.Used() || !sel.accepts(i) {
				continue
			}
			if i.used.CompareAndSwap(false, true) {
				return i
			}
		}
	}
	return nil
}

// NewNullInterface временный интерфейс только для сигнализации
// (CCBS, facility без B-канала). Возвращается уже захваченным.
func (r *Registry) NewNullInterface(controller uint8, context string) *Interface {
	line := config.Line{Name: fmt.Sprintf("NULL%d", controller), Controller: controller, Context: context}
	i := newInterface(line, ChannelNull, 0)
	i.used.Store(true)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ifaces = append(r.ifaces, i)
	return i
}

// SetPLCI назначает PLCI интерфейсу. Вызывается под блокировкой интерфейса.
func (r *Registry) SetPLCI(i *Interface, plci uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if other, ok := r.byPLCI[plci]; ok && other != i {
		return fmt.Errorf("%w: 0x%04x у %s", ErrPLCIInUse, plci, other)
	}
	if old := i.PLCI(); old != 0 && r.byPLCI[old] == i {
		delete(r.byPLCI, old)
	}
	i.plci.Store(plci)
	if plci != 0 && plci != PLCIInvalid {
		r.byPLCI[plci] = i
	}
	return nil
}

// InvalidatePLCI заменяет PLCI на PLCIInvalid после DISCONNECT_IND и
// запоминает его как освобожденный. Вызывается под блокировкой интерфейса.
func (r *Registry) InvalidatePLCI(i *Interface) {
	old := i.PLCI()
	r.mu.Lock()
	if old != 0 && r.byPLCI[old] == i {
		delete(r.byPLCI, old)
	}
	i.plci.Store(PLCIInvalid)
	r.mu.Unlock()

	if old != 0 && old != PLCIInvalid {
		r.released.Add(old, i.String())
	}
}

// StaleOwner интерфейс, которому принадлежал освобожденный PLCI
func (r *Registry) StaleOwner(plci uint32) (string, bool) {
	v, ok := r.released.Get(plci)
	if !ok {
		return "", false
	}
	name, _ := v.(string)
	return name, true
}

// Cleanup сбрасывает вызов и освобождает интерфейс.
// Вызывается под блокировкой интерфейса.
func (r *Registry) Cleanup(i *Interface) {
	old := i.PLCI()
	i.resetCall()
	i.Waiter.Release()

	r.mu.Lock()
	if old != 0 && r.byPLCI[old] == i {
		delete(r.byPLCI, old)
	}
	i.plci.Store(0)
	if i.Type == ChannelNull {
		for n, x := range r.ifaces {
			if x == i {
				r.ifaces = append(r.ifaces[:n], r.ifaces[n+1:]...)
				break
			}
		}
	}
	i.used.Store(false)
	r.mu.Unlock()

	r.logger.Debug(context.Background(), "interface released", logging.String("interface", i.String()))
}

// CountUsed число занятых интерфейсов
func (r *Registry) CountUsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, i := range r.ifaces {
		if i.Used() {
			n++
		}
	}
	return n
}
