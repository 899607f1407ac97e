package driver

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/registry"
	"github.com/arzzra/isdn_capi/pkg/waiter"
)

// handler обработчик одного вида сообщения. Интерфейс в dispatch (если
// найден) заблокирован на все время вызова.
type handler func(x *dispatch) error

// dispatch контекст обработки одного сообщения
type dispatch struct {
	ctx   context.Context
	msg   *capi.Message
	iface *registry.Interface
	log   logging.StructuredLogger

	// события для ожидающих действий, сигнализируются после обработчика
	signals []waiter.Event
	// действия, выполняемые после снятия блокировки интерфейса
	after []func()
}

func (x *dispatch) signal(tag waiter.Tag) {
	x.signals = append(x.signals, waiter.On(tag))
}

func (x *dispatch) later(f func()) {
	x.after = append(x.after, f)
}

func (d *Driver) handlerTable() map[capi.Kind]handler {
	return map[capi.Kind]handler{
		capi.ConnectInd:            d.handleConnectInd,
		capi.ConnectConf:           d.handleConnectConf,
		capi.ConnectActiveInd:      d.handleConnectActiveInd,
		capi.ConnectB3Ind:          d.handleConnectB3Ind,
		capi.ConnectB3Conf:         d.handleConnectB3Conf,
		capi.ConnectB3ActiveInd:    d.handleConnectB3ActiveInd,
		capi.DisconnectB3Ind:       d.handleDisconnectB3Ind,
		capi.DisconnectInd:         d.handleDisconnectInd,
		capi.InfoInd:               d.handleInfoInd,
		capi.FacilityInd:           d.handleFacilityInd,
		capi.FacilityConf:          d.handleFacilityConf,
		capi.DataB3Ind:             d.handleDataB3Ind,
		capi.DataB3Conf:            d.handleDataB3Conf,
		capi.DisconnectConf:        d.handleDisconnectConf,
		capi.ListenConf:            d.handleGenericConf,
		capi.AlertConf:             d.handleGenericConf,
		capi.InfoConf:              d.handleGenericConf,
		capi.SelectBProtocolConf:   d.handleSelectBProtocolConf,
		capi.DisconnectB3Conf:      d.handleGenericConf,
		capi.ResetB3Conf:           d.handleGenericConf,
		capi.ConnectB3T90ActiveInd: d.handleConnectB3ActiveInd,
		capi.ResetB3Ind:            d.handleBareInd,
		capi.ManufacturerInd:       d.handleBareInd,
	}
}

// resolve находит и блокирует интерфейс сообщения. PLCI перепроверяется
// под блокировкой: интерфейс мог освободиться между поиском и захватом.
func (d *Driver) resolve(m *capi.Message) *registry.Interface {
	kind := m.Kind()
	if kind == capi.ConnectConf {
		i := d.reg.FindByPendingMessageNumber(m.Number)
		if i == nil {
			return nil
		}
		i.Lock()
		if i.PLCI() != 0 || i.MessageNumber() != m.Number {
			i.Unlock()
			return nil
		}
		return i
	}
	if capi.IsControllerID(m.ID) {
		return nil
	}

	plci := capi.PLCIOf(m.ID)
	i := d.reg.FindByPLCI(plci)
	if i == nil && kind.IsConfirmation() {
		i = d.reg.FindByPendingMessageNumber(m.Number)
		if i != nil {
			i.Lock()
			if i.MessageNumber() != m.Number {
				i.Unlock()
				return nil
			}
			return i
		}
	}
	if i == nil {
		return nil
	}
	i.Lock()
	if i.PLCI() != plci {
		i.Unlock()
		return nil
	}
	return i
}

// HandleMessage обрабатывает одно сообщение стека. Ошибка возвращается
// только для фатальных условий, остальные решаются и логируются на месте.
func (d *Driver) HandleMessage(ctx context.Context, m *capi.Message) (err error) {
	kind := m.Kind()
	d.metrics.Message(kind.String())

	if kind.IsConfirmation() {
		if info, ok := confInfo(m); ok && info.IsFatal() {
			d.logger.Error(ctx, "application id rejected by CAPI stack",
				logging.String("kind", kind.String()), logging.Hex("info", uint32(info)))
			return ErrApplicationInvalid(&capi.Error{Info: info, Op: kind.String()})
		}
	}

	x := &dispatch{ctx: ctx, msg: m, log: d.logger}
	x.iface = d.resolve(m)
	if x.iface != nil {
		x.log = d.ifaceLogger(x.iface)
	}
	if d.logger.IsEnabled(logging.LogLevelDebug) {
		x.log.Debug(ctx, "message received",
			logging.String("kind", kind.String()),
			logging.Hex("id", m.ID),
			logging.Int("number", int(m.Number)))
	}

	defer func() {
		if x.iface != nil {
			for _, ev := range x.signals {
				x.iface.Waiter.Signal(ev)
			}
			if kind.IsConfirmation() {
				x.iface.Waiter.Signal(waiter.OnConf(kind))
			}
			x.iface.Unlock()
		}
		for _, f := range x.after {
			f()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			x.log.Error(ctx, "panic in message handler",
				logging.String("kind", kind.String()),
				logging.Any("panic_value", r),
				logging.String("stack_trace", string(debug.Stack())))
			err = nil
		}
	}()

	h, ok := d.handlers[kind]
	if !ok {
		d.unhandled(x)
		return nil
	}
	if herr := h(x); herr != nil {
		if IsFatal(herr) {
			return herr
		}
		x.log.LogError(ctx, herr, "message handling failed", logging.String("kind", kind.String()))
	}
	return nil
}

func (d *Driver) unhandled(x *dispatch) {
	m := x.msg
	if m.Kind().IsIndication() {
		if err := d.respond(m, ""); err != nil {
			x.log.LogError(x.ctx, err, "bare response failed")
		}
		x.log.Info(x.ctx, "unhandled indication answered", logging.String("kind", m.Kind().String()))
		return
	}
	x.log.Warn(x.ctx, "unhandled message", logging.String("kind", m.Kind().String()))
}

// untargeted сообщение без интерфейса. Поздние сообщения по недавно
// освобожденному PLCI ожидаемы и логируются тише.
func (d *Driver) untargeted(x *dispatch) {
	m := x.msg
	d.metrics.Untargeted(m.Kind().String())
	plci := capi.PLCIOf(m.ID)
	if owner, ok := d.reg.StaleOwner(plci); ok {
		x.log.Debug(x.ctx, "message for released PLCI dropped",
			logging.String("kind", m.Kind().String()),
			logging.Hex("plci", plci),
			logging.String("last_owner", owner))
		return
	}
	x.log.Warn(x.ctx, "message without interface dropped",
		logging.String("kind", m.Kind().String()),
		logging.Hex("id", m.ID),
		logging.Int("number", int(m.Number)))
}

// confInfo info подтверждения: первое слово, у DATA_B3_CONF второе
func confInfo(m *capi.Message) (capi.Info, bool) {
	if m.Kind() == capi.DataB3Conf {
		p, err := capi.DecodeDataB3Conf(m)
		return p.Info, err == nil
	}
	if len(m.Params) < 2 {
		return 0, false
	}
	info, err := capi.DecodeInfo(&capi.Message{Params: m.Params[:2]})
	return info, err == nil
}

// logInfo логирует ненулевой info подтверждения: ожидаемые при гонках коды тише
func (d *Driver) logInfo(x *dispatch, info capi.Info) {
	if info.IsOK() {
		return
	}
	class := "error"
	if info.IsBenign() {
		class = "benign"
	}
	d.metrics.InfoCode(class)
	fields := []logging.Field{
		logging.String("kind", x.msg.Kind().String()),
		logging.Hex("info", uint32(info)),
		logging.String("reason", info.String()),
	}
	if info.IsBenign() {
		x.log.Debug(x.ctx, "confirmation with info", fields...)
		return
	}
	x.log.Warn(x.ctx, "confirmation with error", fields...)
}

func (d *Driver) handleGenericConf(x *dispatch) error {
	info, _ := confInfo(x.msg)
	d.logInfo(x, info)
	return nil
}

func (d *Driver) handleBareInd(x *dispatch) error {
	if err := d.respond(x.msg, ""); err != nil {
		return fmt.Errorf("%s resp: %w", x.msg.Kind(), err)
	}
	return nil
}
