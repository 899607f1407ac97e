package driver

import (
	"strconv"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/pbx"
	"github.com/arzzra/isdn_capi/pkg/registry"
)

// disconnectAction реакция на сообщение DISCONNECT из сети
type disconnectAction int

const (
	// actionWaitNetwork ничего не делать, сеть сама пришлет DISCONNECT_IND
	actionWaitNetwork disconnectAction = iota
	// actionQueueCause отдать АТС кадр завершения по cause
	actionQueueCause
	// actionDisconnect сразу разорвать физическое соединение
	actionDisconnect
)

func (a disconnectAction) String() string {
	switch a {
	case actionQueueCause:
		return "queue_cause"
	case actionDisconnect:
		return "disconnect"
	default:
		return "wait_network"
	}
}

// disconnectInput состояние вызова на момент DISCONNECT
type disconnectInput struct {
	Outgoing  bool
	Policy    callstate.B3Policy
	State     callstate.State
	B3Up      bool
	FaxActive bool
	// Orphan плечо на удержании или уже переданное ECT
	Orphan bool
}

// selectDisconnectCase выбирает случай обработки DISCONNECT. Случай 0:
// осиротевшее плечо, 1 и 2: исходящий без B3 always, 3: входящий,
// 4: исходящий с B3 always. Неотвеченный исходящий без B3 (случай 1)
// разрывается сразу, причину АТС получит с DISCONNECT_IND.
func selectDisconnectCase(in disconnectInput) (int, disconnectAction) {
	if in.Orphan {
		return 0, actionDisconnect
	}
	connected := in.State == callstate.Connected

	if in.Outgoing {
		switch {
		case in.Policy != callstate.B3Always && !(in.Policy == callstate.B3OnSuccess && connected):
			if connected {
				return 1, actionQueueCause
			}
			return 1, actionDisconnect
		case in.Policy == callstate.B3OnSuccess && connected:
			return 2, actionQueueCause
		default:
			if connected && in.B3Up {
				return 4, actionQueueCause
			}
			// тоны сети идут по B3, ждем разрыва от сети
			return 4, actionWaitNetwork
		}
	}
	if in.FaxActive {
		return 3, actionDisconnect
	}
	return 3, actionQueueCause
}

// infoDisconnect сообщение DISCONNECT в INFO_IND. Вызывается под блокировкой интерфейса.
func (d *Driver) infoDisconnect(x *dispatch, i *registry.Interface) error {
	plci := capi.PLCIOf(x.msg.ID)
	in := disconnectInput{
		Outgoing:  i.Outgoing,
		Policy:    i.B3Policy,
		State:     i.State.Current(),
		B3Up:      i.Isdn.Has(callstate.B3Up),
		FaxActive: i.FaxActive,
		Orphan:    plci == i.OnHoldPLCI || i.Isdn.Has(callstate.ECT),
	}
	i.Isdn = i.Isdn.With(callstate.DisconnectInProgress)

	n, action := selectDisconnectCase(in)
	x.log.Debug(x.ctx, "network disconnect",
		logging.Int("case", n),
		logging.String("action", action.String()),
		logging.String("state", in.State.String()),
		logging.String("b3_policy", in.Policy.String()))

	switch action {
	case actionDisconnect:
		// состояние не трогаем: это не локальный отбой, канал АТС
		// получит причину по DISCONNECT_IND
		_, err := d.sendFor(i, capi.DisconnectReq, plci, "(ccccc)", nil, nil, nil, nil, nil)
		return err
	case actionQueueCause:
		if i.Owner != nil {
			d.host.QueueControl(i.Owner, pbx.ControlForCause(causeOrNormal(i.Cause)))
		}
	}
	return nil
}

func causeOrNormal(cause int) int {
	if cause == 0 {
		return 16
	}
	return cause
}

func (d *Driver) handleDisconnectInd(x *dispatch) error {
	if err := d.respond(x.msg, ""); err != nil {
		x.log.LogError(x.ctx, err, "DISCONNECT_RESP failed")
	}
	p, err := capi.DecodeDisconnectInd(x.msg)
	if err != nil {
		return err
	}

	i := x.iface
	if i == nil {
		d.untargeted(x)
		return nil
	}

	if i.Cause == 0 {
		if p.Reason.IsNetworkCause() {
			i.Cause = p.Reason.Cause()
		} else {
			i.Cause = 16
		}
	}
	if i.Owner != nil && d.host.Variable(i.Owner, pbx.VarHangupCause) == "" {
		d.host.SetVariable(i.Owner, pbx.VarHangupCause, strconv.Itoa(i.Cause))
	}

	prev := i.State.Current()
	if err := i.State.Fire(callstate.EventDisconnect, p.Reason.String()); err != nil {
		x.log.Debug(x.ctx, "disconnect from unexpected state", logging.Err(err))
		i.State.Force(callstate.Disconnected, "DISCONNECT_IND")
	}
	d.b3Down(i)

	plci := i.PLCI()
	d.reg.InvalidatePLCI(i)
	x.log.Info(x.ctx, "call disconnected",
		logging.Hex("reason", uint32(p.Reason)),
		logging.Int("cause", i.Cause),
		logging.String("previous_state", prev.String()))

	if i.OnHoldPLCI != 0 && i.OnHoldPLCI == plci {
		i.OnHoldPLCI = 0
		i.Isdn = i.Isdn.Without(callstate.Hold)
	}

	switch {
	case i.Owner == nil:
		d.cleanup(i)
	case i.IsIncoming() && !i.Isdn.Has(callstate.PBXStarted):
		ch := i.Owner
		d.cleanup(i)
		d.host.DestroyChannel(ch)
	default:
		d.host.QueueControl(i.Owner, pbx.ControlForCause(i.Cause))
	}
	i.Waiter.Release()
	return nil
}

func (d *Driver) handleDisconnectConf(x *dispatch) error {
	i := x.iface
	if i == nil {
		d.untargeted(x)
		return nil
	}
	info, err := capi.DecodeInfo(x.msg)
	if err != nil {
		return err
	}
	d.logInfo(x, info)
	return nil
}
