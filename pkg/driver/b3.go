package driver

import (
	"strconv"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/pbx"
	"github.com/arzzra/isdn_capi/pkg/registry"
	"github.com/arzzra/isdn_capi/pkg/supplementary"
	"github.com/arzzra/isdn_capi/pkg/waiter"
)

func (d *Driver) handleConnectB3Ind(x *dispatch) error {
	i := x.iface
	if i == nil {
		// B3 без вызова отклоняем
		d.untargeted(x)
		return d.respond(x.msg, "wc", uint16(2), nil)
	}
	if err := d.respond(x.msg, "wc", uint16(0), nil); err != nil {
		return err
	}
	i.NCCI = x.msg.ID
	i.Isdn = i.Isdn.With(callstate.B3Pending)
	return nil
}

func (d *Driver) handleConnectB3Conf(x *dispatch) error {
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
		i.NCCI = x.msg.ID
		return nil
	}
	d.logInfo(x, info)
	i.Isdn = i.Isdn.Without(callstate.B3Pending)
	return nil
}

func (d *Driver) handleConnectB3ActiveInd(x *dispatch) error {
	if err := d.respond(x.msg, ""); err != nil {
		x.log.LogError(x.ctx, err, "B3 active response failed")
	}
	i := x.iface
	if i == nil {
		d.untargeted(x)
		return nil
	}

	i.NCCI = x.msg.ID
	if !i.Isdn.Has(callstate.B3Up) {
		if c, ok := d.reg.Controller(i.Controller); ok {
			free := c.TakeChannel()
			d.metrics.FreeChannels(strconv.Itoa(int(i.Controller)), free)
		}
		d.metrics.B3Up()
	}
	i.Isdn = i.Isdn.With(callstate.B3Up).Without(callstate.B3Pending)
	x.signal(waiter.B3Up)
	x.log.Debug(x.ctx, "B3 up", logging.Hex("ncci", i.NCCI))

	if !i.FaxActive {
		d.enableFeatures(x, i)
	} else if faxSending(i) {
		if err := d.faxSendNext(x, i); err != nil {
			x.log.LogError(x.ctx, err, "fax send failed")
		}
	}

	if i.Owner != nil && i.Outgoing && !i.FaxActive {
		if i.State.Current() == callstate.Connected {
			d.host.SetChannelState(i.Owner, pbx.StateUp)
			d.host.QueueControl(i.Owner, pbx.ControlAnswer)
		} else if !i.Isdn.Has(callstate.ProgressSent) {
			i.Isdn = i.Isdn.With(callstate.ProgressSent)
			d.host.QueueControl(i.Owner, pbx.ControlProgress)
		}
	}

	if i.RoomNumber != 0 && i.Owner != nil {
		d.rooms.Update(i.Owner.Name(), i.PLCI(), true)
		number := i.RoomNumber
		x.later(func() { d.applyMixer(x.ctx, d.rooms.Plan(number)) })
	}
	return nil
}

// enableFeatures включает эхоподавление и распознавание DTMF на поднятом B3.
// Вызывается под блокировкой интерфейса.
func (d *Driver) enableFeatures(x *dispatch, i *registry.Interface) {
	c, ok := d.reg.Controller(i.Controller)
	if !ok {
		return
	}
	profile := c.Profile()

	if i.Line.EchoCancel && profile.Supports(capi.ProfileEchoCancel) && !i.Isdn.Has(callstate.ECActive) {
		params, err := supplementary.EchoCancelRequest(true)
		if err == nil {
			_, err = d.sendRawFor(i, capi.FacilityReq, i.PLCI(), params, nil)
		}
		if err != nil {
			x.log.LogError(x.ctx, err, "echo cancel enable failed")
		} else {
			i.Isdn = i.Isdn.With(callstate.ECActive)
		}
	}

	if !i.Line.SoftDTMF && profile.Supports(capi.ProfileDTMF) && !i.Isdn.Has(callstate.DTMFActive) {
		params, err := supplementary.DTMFListenRequest(true)
		if err == nil {
			_, err = d.sendRawFor(i, capi.FacilityReq, i.NCCI, params, nil)
		}
		if err != nil {
			x.log.LogError(x.ctx, err, "DTMF listen failed")
		} else {
			i.Isdn = i.Isdn.With(callstate.DTMFActive)
		}
	}
}

// b3Down снимает флаги B3 и возвращает канал контроллеру.
// Вызывается под блокировкой интерфейса.
func (d *Driver) b3Down(i *registry.Interface) bool {
	wasUp := i.Isdn.Has(callstate.B3Up)
	if wasUp {
		if c, ok := d.reg.Controller(i.Controller); ok {
			free := c.ReturnChannel()
			d.metrics.FreeChannels(strconv.Itoa(int(i.Controller)), free)
		}
		d.metrics.B3Down()
	}
	i.Isdn = i.Isdn.Without(callstate.B3Up | callstate.B3Pending | callstate.DTMFActive | callstate.ECActive)
	i.NCCI = 0
	return wasUp
}

func (d *Driver) handleDisconnectB3Ind(x *dispatch) error {
	if err := d.respond(x.msg, ""); err != nil {
		x.log.LogError(x.ctx, err, "DISCONNECT_B3_RESP failed")
	}
	i := x.iface
	if i == nil {
		d.untargeted(x)
		return nil
	}
	p, err := capi.DecodeDisconnectB3Ind(x.msg)
	if err != nil {
		return err
	}

	d.b3Down(i)
	x.signal(waiter.B3Down)
	x.log.Debug(x.ctx, "B3 down", logging.Hex("reason", uint32(p.ReasonB3)))
	if i.FaxActive && i.Fax != nil {
		d.finishFax(x, i, p)
	}

	if i.RoomNumber != 0 && i.Owner != nil {
		d.rooms.Update(i.Owner.Name(), i.PLCI(), false)
	}
	if i.State.Current() == callstate.Disconnecting && i.HasLivePLCI() {
		_, err := d.sendFor(i, capi.DisconnectReq, i.PLCI(), "(ccccc)", nil, nil, nil, nil, nil)
		return err
	}
	return nil
}
