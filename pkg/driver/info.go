package driver

import (
	"strconv"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/media"
	"github.com/arzzra/isdn_capi/pkg/pbx"
	"github.com/arzzra/isdn_capi/pkg/registry"
)

// parseCause Q.931 cause из элемента CAUSE: октет 3, необязательный 3a, значение
func parseCause(element []byte) (int, bool) {
	if len(element) < 2 {
		return 0, false
	}
	idx := 1
	if element[0]&0x80 == 0 {
		idx = 2
	}
	if idx >= len(element) {
		return 0, false
	}
	return int(element[idx] & 0x7f), true
}

// progressInband индикатор прогресса сообщает о тонах в B-канале
func progressInband(element []byte) bool {
	if len(element) < 2 {
		return false
	}
	desc := element[1] & 0x7f
	return desc == 1 || desc == 8
}

func (d *Driver) handleInfoInd(x *dispatch) error {
	if err := d.respond(x.msg, ""); err != nil {
		x.log.LogError(x.ctx, err, "INFO_RESP failed")
	}
	p, err := capi.DecodeInfoInd(x.msg)
	if err != nil {
		return err
	}
	i := x.iface
	if i == nil {
		d.untargeted(x)
		return nil
	}
	x.log.Debug(x.ctx, "info", logging.String("info", p.Number.String()), logging.Int("length", len(p.Element)))

	switch p.Number {
	case capi.IECause:
		if cause, ok := parseCause(p.Element); ok {
			i.Cause = cause
			if i.Owner != nil {
				d.host.SetVariable(i.Owner, pbx.VarHangupCause, strconv.Itoa(cause))
			}
		}
	case capi.IEProgress:
		if progressInband(p.Element) {
			return d.inbandAvailable(x, i)
		}
	case capi.IEChargeUnits:
		if len(p.Element) >= 4 && i.Owner != nil {
			units := capi.NewReader(p.Element).Dword()
			d.host.SetVariable(i.Owner, pbx.VarChargeUnits, strconv.FormatUint(uint64(units), 10))
		}
	case capi.IERedirectingNumber:
		if i.Owner != nil {
			num := capi.ParseCallingPartyNumber(p.Element)
			d.host.SetVariable(i.Owner, pbx.VarRedirectingNum,
				num.WithPrefix(d.general.NationalPrefix, d.general.InternationalPrefix))
		}
	case capi.IECalledParty:
		if i.State.Current() == callstate.DID && i.Overlap {
			i.DNID += capi.ParseCalledPartyNumber(p.Element).Digits
			d.evaluateDialplan(x, i, false)
		}
	case capi.IESendingComplete:
		if i.State.Current() == callstate.DID {
			d.evaluateDialplan(x, i, true)
		}
	case capi.IEKeypad:
		d.keypad(i, string(p.Element))
	case capi.MsgAlerting:
		if i.Owner != nil && i.Outgoing {
			d.host.SetChannelState(i.Owner, pbx.StateRinging)
			d.host.QueueControl(i.Owner, pbx.ControlRinging)
		}
		if i.Outgoing && i.B3Policy == callstate.B3Always {
			return d.inbandAvailable(x, i)
		}
	case capi.MsgCallProceeding:
		if i.Owner != nil && i.Outgoing {
			d.host.QueueControl(i.Owner, pbx.ControlProceeding)
		}
	case capi.MsgProgress:
		if i.Owner != nil && i.Outgoing && !i.Isdn.Has(callstate.ProgressSent) {
			i.Isdn = i.Isdn.With(callstate.ProgressSent)
			d.host.QueueControl(i.Owner, pbx.ControlProgress)
		}
	case capi.MsgSetupAck:
		i.Isdn = i.Isdn.With(callstate.SetupAckSent)
	case capi.MsgDisconnect:
		return d.infoDisconnect(x, i)
	case capi.MsgConnect, capi.MsgConnectAck, capi.MsgRelease, capi.MsgReleaseComplete,
		capi.MsgSetup, capi.MsgFacility, capi.MsgNotify, capi.MsgInformation,
		capi.IEDisplay, capi.IEDateTime, capi.IEUserUser, capi.IENotification,
		capi.IEChannelID, capi.IEFacility, capi.IERedirectionNumber, capi.IEChargeCurrency:
		// только для журнала
	default:
		x.log.Debug(x.ctx, "unknown info element", logging.Hex("info", uint32(p.Number)))
	}
	return nil
}

// inbandAvailable сеть дает тоны в B-канале: для исходящих с политикой
// B3 success/always поднимаем B3 заранее
func (d *Driver) inbandAvailable(x *dispatch, i *registry.Interface) error {
	if !i.Outgoing || i.B3Policy == callstate.B3Never {
		return nil
	}
	if i.Isdn.Has(callstate.B3Up) || i.Isdn.Has(callstate.B3Pending) || !i.HasLivePLCI() {
		return nil
	}
	x.log.Debug(x.ctx, "early B3 for in-band tones")
	return d.connectB3(x, i)
}

// keypad цифры keypad на установленном вызове передаются в АТС как DTMF
func (d *Driver) keypad(i *registry.Interface, digits string) {
	if i.Owner == nil || i.State.Current() != callstate.Connected {
		return
	}
	for _, r := range digits {
		digit, err := media.ParseDigit(r)
		if err != nil {
			continue
		}
		d.host.QueueFrame(i.Owner, pbx.Frame{Kind: pbx.FrameDTMF, Digit: digit.Rune()})
	}
}
