package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/config"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/pbx"
	"github.com/arzzra/isdn_capi/pkg/registry"
	"github.com/arzzra/isdn_capi/pkg/waiter"
)

// msnMatches сопоставляет набранный номер со списком incomingmsn линии.
// В режиме MSN номер должен совпасть целиком, в режиме DID номер и
// шаблон должны быть префиксами друг друга (цифры могут досылаться).
func msnMatches(line config.Line, called string) bool {
	if len(line.IncomingMSN) == 0 {
		return true
	}
	for _, msn := range line.IncomingMSN {
		switch {
		case msn == "*":
			return true
		case line.Mode == config.ModeDID:
			if strings.HasPrefix(called, msn) || strings.HasPrefix(msn, called) {
				return true
			}
		case msn == called:
			return true
		}
	}
	return false
}

func bProtocol(line config.Line) capi.BProtocol {
	if line.RTP {
		return capi.RTPVoice()
	}
	return capi.TransparentVoice()
}

func (d *Driver) handleConnectInd(x *dispatch) error {
	m := x.msg
	p, err := capi.DecodeConnectInd(m)
	if err != nil {
		d.respondConnect(m.Number, m.ID, capi.RejectIgnore)
		return err
	}
	called := capi.ParseCalledPartyNumber(p.CalledNumber)
	calling := capi.ParseCallingPartyNumber(p.CallingNumber)
	ctrl := m.Controller()

	i := d.reg.FindFreeInterface(registry.Selector{
		Controller: ctrl,
		Match:      func(i *registry.Interface) bool { return msnMatches(i.Line, called.Digits) },
	})
	if i == nil {
		x.log.Info(x.ctx, "incoming call ignored: no matching interface",
			logging.Int("controller", int(ctrl)),
			logging.String("called", called.Digits),
			logging.Hex("plci", m.ID))
		return d.respondConnect(m.Number, m.ID, capi.RejectIgnore)
	}
	i.Lock()
	x.iface = i

	i.BeginCall(false)
	if err := d.reg.SetPLCI(i, m.ID); err != nil {
		d.respondConnect(m.Number, m.ID, capi.RejectIgnore)
		d.cleanup(i)
		return err
	}
	x.log = d.ifaceLogger(i)
	i.ConnectIndNumber = m.Number
	i.DNID = called.Digits
	i.CID = calling.WithPrefix(d.general.NationalPrefix, d.general.InternationalPrefix)
	if i.CID == "" {
		i.CID = i.Line.DefaultCID
	}
	i.Overlap = p.Additional.SendingComplete == nil && i.Line.Mode == config.ModeDID

	event := callstate.EventOffer
	if i.Line.Mode == config.ModeDID {
		event = callstate.EventOfferDID
	}
	if err := i.State.Fire(event, "CONNECT_IND"); err != nil {
		d.respondConnect(m.Number, m.ID, capi.RejectIgnore)
		d.cleanup(i)
		return err
	}
	d.metrics.Call("incoming")

	ch, err := d.host.AllocateChannel(pbx.CallInfo{
		Interface:   i.String(),
		Controller:  i.Controller,
		CallerID:    i.CID,
		Exten:       i.DNID,
		Context:     i.Line.Context,
		Language:    i.Line.Language,
		AccountCode: i.Line.AccountCode,
		Incoming:    true,
	})
	if err != nil {
		x.log.LogError(x.ctx, err, "channel allocation failed")
		d.rejectIncoming(x.ctx, i, capi.RejectChannelUnavail)
		return nil
	}
	d.bind(i, ch)
	d.host.SetVariable(ch, pbx.VarPLCI, fmt.Sprintf("0x%04x", m.ID))
	d.host.SetVariable(ch, pbx.VarCalledTON, fmt.Sprintf("%d", called.TypeOfNumber))
	d.host.SetChannelState(ch, pbx.StateRing)

	x.log.Info(x.ctx, "incoming call",
		logging.String("called", i.DNID),
		logging.String("calling", i.CID),
		logging.String("state", i.State.Current().String()))

	d.evaluateDialplan(x, i, !i.Overlap)
	return nil
}

// evaluateDialplan решает судьбу входящего вызова по плану набора:
// запуск, ожидание цифр (DID) или отказ. Вызывается под блокировкой интерфейса.
func (d *Driver) evaluateDialplan(x *dispatch, i *registry.Interface, complete bool) {
	if i.Isdn.Has(callstate.PBXStarted) || i.Owner == nil {
		return
	}
	exten := i.DNID
	if exten == "" && (i.Line.Immediate || i.Line.Mode == config.ModeMSN) {
		exten = "s"
	}

	switch {
	case exten != "" && d.host.ExtensionExists(i.Line.Context, exten, i.CID):
		d.startDialplan(x, i, exten)
	case i.Line.Immediate:
		d.startDialplan(x, i, "s")
	case !complete && i.Line.Mode == config.ModeDID &&
		(exten == "" || d.host.CanMatchMore(i.Line.Context, exten, i.CID)):
		i.Overlap = true
		x.log.Debug(x.ctx, "waiting for more digits", logging.String("dnid", exten))
	default:
		x.log.Info(x.ctx, "no extension for incoming call",
			logging.String("context", i.Line.Context), logging.String("exten", exten))
		d.rejectIncoming(x.ctx, i, capi.RejectIgnore)
	}
}

func (d *Driver) startDialplan(x *dispatch, i *registry.Interface, exten string) {
	i.Isdn = i.Isdn.With(callstate.PBXStarted)
	i.Overlap = false
	ch, dpContext := i.Owner, i.Line.Context
	x.log.Info(x.ctx, "starting dialplan", logging.String("context", dpContext), logging.String("exten", exten))
	x.later(func() {
		if err := d.host.StartDialplan(ch, dpContext, exten, 1); err != nil {
			d.logger.LogError(x.ctx, err, "dialplan start failed", logging.String("channel", ch.Name()))
			_ = d.Hangup(x.ctx, ch, 34)
		}
	})
}

// respondConnect отвечает на CONNECT_IND с кодом reject (без интерфейса)
func (d *Driver) respondConnect(number uint16, plci uint32, reject uint16) error {
	params, err := capi.ConnectRespParams{Reject: reject}.Pack()
	if err != nil {
		return err
	}
	return d.put(capi.ConnectResp, number, plci, params, nil)
}

// rejectIncoming отклоняет еще не принятый входящий вызов. Канал АТС
// уничтожается, интерфейс освобождается по DISCONNECT_IND.
// Вызывается под блокировкой интерфейса.
func (d *Driver) rejectIncoming(ctx context.Context, i *registry.Interface, reject uint16) {
	d.sendReject(ctx, i, reject)
	if ch := i.Owner; ch != nil {
		d.owners.Delete(ch.Name())
		i.Owner = nil
		d.host.DestroyChannel(ch)
	}
}

// sendReject отвечает CONNECT_RESP с отказом на отложенный CONNECT_IND.
// Вызывается под блокировкой интерфейса.
func (d *Driver) sendReject(ctx context.Context, i *registry.Interface, reject uint16) {
	if i.ConnectIndNumber != 0 {
		if err := d.respondConnect(i.ConnectIndNumber, i.PLCI(), reject); err != nil {
			d.ifaceLogger(i).LogError(ctx, err, "CONNECT_RESP reject failed")
		}
		i.ConnectIndNumber = 0
	}
	_ = i.State.Fire(callstate.EventHangup, fmt.Sprintf("reject 0x%04x", reject))
}

func (d *Driver) handleConnectConf(x *dispatch) error {
	i := x.iface
	if i == nil {
		d.untargeted(x)
		return nil
	}
	info, err := capi.DecodeInfo(x.msg)
	if err != nil {
		return err
	}
	if info.IsOK() || info.IsWarning() {
		if err := d.reg.SetPLCI(i, x.msg.ID); err != nil {
			x.log.LogError(x.ctx, err, "PLCI assignment failed")
			info = capi.InfoIllegalIdentifier
		}
	}
	if !info.IsOK() && !info.IsWarning() {
		d.logInfo(x, info)
		_ = i.State.Fire(callstate.EventDisconnect, "CONNECT_CONF "+info.String())
		if i.Owner == nil {
			d.cleanup(i)
			return nil
		}
		i.Cause = 34
		d.host.SetVariable(i.Owner, pbx.VarHangupCause, "34")
		d.host.QueueControl(i.Owner, pbx.ControlBusy)
		return nil
	}

	x.log = d.ifaceLogger(i)
	x.log.Debug(x.ctx, "outgoing call got PLCI")
	if i.Owner != nil {
		d.host.SetVariable(i.Owner, pbx.VarPLCI, fmt.Sprintf("0x%04x", x.msg.ID))
	}
	if i.State.Current() == callstate.Disconnecting {
		// положили трубку до получения PLCI
		_, err := d.sendFor(i, capi.DisconnectReq, i.PLCI(), "(ccccc)", nil, nil, nil, nil, nil)
		return err
	}
	return nil
}

func (d *Driver) handleConnectActiveInd(x *dispatch) error {
	if err := d.respond(x.msg, ""); err != nil {
		x.log.LogError(x.ctx, err, "CONNECT_ACTIVE_RESP failed")
	}
	i := x.iface
	if i == nil {
		d.untargeted(x)
		return nil
	}
	if err := i.State.Fire(callstate.EventConnect, "CONNECT_ACTIVE_IND"); err != nil {
		return err
	}
	x.signal(waiter.AnswerFinished)

	if i.Owner != nil && i.IsIncoming() {
		d.host.SetChannelState(i.Owner, pbx.StateUp)
	}
	if i.Outgoing {
		if i.Isdn.Has(callstate.B3Up) && i.Owner != nil {
			// B3 поднят раньше для тонов сети
			d.host.SetChannelState(i.Owner, pbx.StateUp)
			d.host.QueueControl(i.Owner, pbx.ControlAnswer)
		}
		if !i.Isdn.Has(callstate.B3Up) && !i.Isdn.Has(callstate.B3Pending) {
			return d.connectB3(x, i)
		}
	}
	return nil
}

// connectB3 запрашивает B3 соединение. Вызывается под блокировкой интерфейса.
func (d *Driver) connectB3(x *dispatch, i *registry.Interface) error {
	i.Isdn = i.Isdn.With(callstate.B3Pending)
	_, err := d.sendFor(i, capi.ConnectB3Req, i.PLCI(), "c", nil)
	if err != nil {
		i.Isdn = i.Isdn.Without(callstate.B3Pending)
	}
	return err
}
