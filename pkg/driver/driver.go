// Package driver ядро канального драйвера CAPI: монитор сообщений стека,
// таблица обработчиков, автомат вызова и действия, вызываемые АТС.
//
// Монитор (Run) обрабатывает сообщения строго по одному. Действия АТС
// выполняются в своих горутинах, берут блокировку интерфейса и при
// необходимости ждут события через waiter.Slot интерфейса.
package driver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/config"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/metrics"
	"github.com/arzzra/isdn_capi/pkg/pbx"
	"github.com/arzzra/isdn_capi/pkg/registry"
	"github.com/arzzra/isdn_capi/pkg/supplementary"
)

// Option настройка драйвера
type Option func(*Driver)

// WithLogger задает логгер
func WithLogger(l logging.StructuredLogger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics задает сборщик метрик
func WithMetrics(m *metrics.Collector) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithRegisterParams переопределяет параметры регистрации в стеке
func WithRegisterParams(p capi.RegisterParams) Option {
	return func(d *Driver) { d.register = &p }
}

// Driver состояние драйвера на время работы процесса
type Driver struct {
	transport capi.Transport
	host      pbx.Host
	reg       *registry.Registry
	general   config.General
	lines     []config.Line
	logger    logging.StructuredLogger
	metrics   *metrics.Collector
	register  *capi.RegisterParams

	linkages *supplementary.LinkageTable
	rooms    *supplementary.Rooms
	numbers  capi.MessageNumbers
	handlers map[capi.Kind]handler

	appID   atomic.Uint32
	sendMu  sync.Mutex
	owners  sync.Map // имя канала АТС -> *registry.Interface
	ccbs    sync.Map // *registry.Interface (NULL) -> handle запроса CCBS
	started atomic.Bool
}

// New создает драйвер по загруженной конфигурации
func New(cfg *config.Config, transport capi.Transport, host pbx.Host, opts ...Option) (*Driver, error) {
	if cfg == nil || len(cfg.Lines) == 0 {
		return nil, NewDriverError("NO_LINES", "в конфигурации нет линий", ErrorCategoryConfig, ErrorSeverityCritical)
	}
	if transport == nil || host == nil {
		return nil, NewDriverError("NO_COLLABORATOR", "не задан транспорт CAPI или АТС", ErrorCategoryConfig, ErrorSeverityCritical)
	}

	d := &Driver{
		transport: transport,
		host:      host,
		general:   cfg.General,
		lines:     cfg.Lines,
		logger:    logging.NewNop(),
		linkages:  supplementary.NewLinkageTable(supplementary.DefaultMaxLinkages),
		rooms:     supplementary.NewRooms(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.general.WaitTimeout <= 0 {
		d.general.WaitTimeout = config.DefaultGeneral().WaitTimeout
	}
	if d.general.PollInterval <= 0 {
		d.general.PollInterval = config.DefaultGeneral().PollInterval
	}

	reg, err := registry.New(cfg.Lines, cfg.General.LinkageCache, d.logger)
	if err != nil {
		return nil, err
	}
	d.reg = reg
	d.logger = d.logger.WithComponent("driver")
	d.handlers = d.handlerTable()
	return d, nil
}

// Registry реестр интерфейсов
func (d *Driver) Registry() *registry.Registry { return d.reg }

// Linkages таблица CCBS/CCNR
func (d *Driver) Linkages() *supplementary.LinkageTable { return d.linkages }

// AppID идентификатор приложения в стеке
func (d *Driver) AppID() uint16 { return uint16(d.appID.Load()) }

func (d *Driver) waitTimeout() time.Duration { return d.general.WaitTimeout }

// send отправляет сообщение с новым номером. Возвращает номер.
func (d *Driver) send(kind capi.Kind, id uint32, format string, args ...interface{}) (uint16, error) {
	params, err := capi.Pack(format, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", kind, err)
	}
	return d.sendRaw(kind, id, params)
}

// sendRaw отправляет сообщение с готовыми параметрами
func (d *Driver) sendRaw(kind capi.Kind, id uint32, params []byte) (uint16, error) {
	num := d.numbers.Next()
	return num, d.put(kind, num, id, params, nil)
}

// sendFor отправляет запрос от имени интерфейса и запоминает его номер
// для сопоставления подтверждения. Вызывается под блокировкой интерфейса.
func (d *Driver) sendFor(i *registry.Interface, kind capi.Kind, id uint32, format string, args ...interface{}) (uint16, error) {
	params, err := capi.Pack(format, args...)
	if err != nil {
		return 0, ErrRequestFailed(i.String(), kind.String(), err)
	}
	return d.sendRawFor(i, kind, id, params, nil)
}

// sendRawFor как sendFor, но с готовыми параметрами и данными DATA_B3
func (d *Driver) sendRawFor(i *registry.Interface, kind capi.Kind, id uint32, params, data []byte) (uint16, error) {
	num := d.numbers.Next()
	i.SetMessageNumber(num)
	if err := d.put(kind, num, id, params, data); err != nil {
		return num, ErrRequestFailed(i.String(), kind.String(), err)
	}
	return num, nil
}

// respond отправляет RESP на индикацию m
func (d *Driver) respond(m *capi.Message, format string, args ...interface{}) error {
	params, err := capi.Pack(format, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", m.Kind().Response(), err)
	}
	return d.put(m.Kind().Response(), m.Number, m.ID, params, nil)
}

func (d *Driver) put(kind capi.Kind, num uint16, id uint32, params, data []byte) error {
	msg := &capi.Message{
		AppID:   d.AppID(),
		Command: kind.Command(),
		Sub:     kind.Sub(),
		Number:  num,
		ID:      id,
		Params:  params,
		Data:    data,
	}
	if msg.Len() > capi.MaxMessageSize {
		return fmt.Errorf("%s: %w", kind, capi.ErrLengthOverflow)
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	if err := d.transport.Put(msg); err != nil {
		return fmt.Errorf("put %s: %w", kind, err)
	}
	if d.logger.IsEnabled(logging.LogLevelTrace) {
		d.logger.Trace(context.Background(), "message sent",
			logging.String("kind", kind.String()),
			logging.Hex("id", id),
			logging.Int("number", int(num)))
	}
	return nil
}

// ifaceFor интерфейс канала АТС
func (d *Driver) ifaceFor(ch pbx.Channel) (*registry.Interface, error) {
	if ch == nil {
		return nil, ErrUnknownChannel("<nil>")
	}
	v, ok := d.owners.Load(ch.Name())
	if !ok {
		return nil, ErrUnknownChannel(ch.Name())
	}
	return v.(*registry.Interface), nil
}

// bind связывает канал АТС с интерфейсом. Вызывается под блокировкой интерфейса.
func (d *Driver) bind(i *registry.Interface, ch pbx.Channel) {
	i.Owner = ch
	d.owners.Store(ch.Name(), i)
	d.host.SetVariable(ch, pbx.VarCallID, i.CallID)
}

// cleanup отвязывает канал и освобождает интерфейс. Вызывается под блокировкой интерфейса.
func (d *Driver) cleanup(i *registry.Interface) {
	if i.Owner != nil {
		d.owners.Delete(i.Owner.Name())
	}
	d.leaveRoom(context.Background(), i)
	d.reg.Cleanup(i)
}

func (d *Driver) ifaceLogger(i *registry.Interface) logging.StructuredLogger {
	return d.logger.WithFields(
		logging.String("interface", i.String()),
		logging.Hex("plci", i.PLCI()),
		logging.String("call_id", i.CallID),
	)
}
