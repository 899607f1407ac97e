package driver

import (
	"fmt"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/media"
	"github.com/arzzra/isdn_capi/pkg/pbx"
	"github.com/arzzra/isdn_capi/pkg/registry"
	"github.com/arzzra/isdn_capi/pkg/supplementary"
	"github.com/arzzra/isdn_capi/pkg/waiter"
)

func (d *Driver) handleFacilityInd(x *dispatch) error {
	p, err := capi.DecodeFacilityInd(x.msg)
	if err != nil {
		_ = d.respond(x.msg, "w()", uint16(0))
		return err
	}

	if p.Selector != capi.FacilitySupplementary {
		if err := d.respond(x.msg, "w()", p.Selector); err != nil {
			x.log.LogError(x.ctx, err, "FACILITY_RESP failed")
		}
	}

	switch p.Selector {
	case capi.FacilityDTMF:
		d.dtmfIndication(x, string(p.Parameter))
	case capi.FacilitySupplementary:
		return d.supplementaryIndication(x, p.Parameter)
	case capi.FacilityLineInterconn, capi.FacilityEchoCancel:
		x.log.Debug(x.ctx, "facility indication", logging.Int("selector", int(p.Selector)))
	default:
		x.log.Info(x.ctx, "unknown facility selector", logging.Int("selector", int(p.Selector)))
	}
	return nil
}

func (d *Driver) dtmfIndication(x *dispatch, digits string) {
	i := x.iface
	if i == nil {
		d.untargeted(x)
		return
	}
	if i.Owner == nil {
		return
	}
	for _, r := range digits {
		digit, err := media.ParseDigit(r)
		if err != nil {
			// тоны факса и прочие служебные символы
			x.log.Debug(x.ctx, "non-DTMF tone ignored", logging.Int("code", int(r)))
			continue
		}
		d.host.QueueFrame(i.Owner, pbx.Frame{Kind: pbx.FrameDTMF, Digit: digit.Rune()})
	}
}

func (d *Driver) supplementaryIndication(x *dispatch, param []byte) error {
	sp, err := capi.DecodeSupplementary(param)
	if err != nil {
		_ = d.respond(x.msg, "w(w())", capi.FacilitySupplementary, uint16(0))
		return err
	}
	fn := sp.Function

	if fn == capi.SuppCCBSStatus {
		ref := capi.NewReader(sp.Body).Word()
		busy, _ := d.linkages.PartyBusyByReference(ref)
		resp, err := supplementary.CCBSStatusResponse(busy)
		if err != nil {
			return err
		}
		x.log.Debug(x.ctx, "CCBS status", logging.Int("reference", int(ref)), logging.Bool("busy", busy))
		return d.put(capi.FacilityResp, x.msg.Number, x.msg.ID, resp, nil)
	}
	resp, err := supplementary.FacilityResponse(capi.FacilitySupplementary, fn)
	if err == nil {
		err = d.put(capi.FacilityResp, x.msg.Number, x.msg.ID, resp, nil)
	}
	if err != nil {
		x.log.LogError(x.ctx, err, "FACILITY_RESP failed")
	}

	switch fn {
	case capi.SuppCCBSInfoRetain, capi.SuppCCNRInfoRetain:
		typ := supplementary.CCBS
		if fn == capi.SuppCCNRInfoRetain {
			typ = supplementary.CCNR
		}
		id := capi.NewReader(sp.Body).Word()
		handle, err := d.linkages.Register(typ, capi.PLCIOf(x.msg.ID), id)
		if err != nil {
			return NewDriverError("LINKAGE_TABLE_FULL", "нет места для CCBS/CCNR", ErrorCategoryResource, ErrorSeverityWarning).WithCause(err)
		}
		if i := x.iface; i != nil && i.Owner != nil {
			d.host.SetVariable(i.Owner, pbx.VarCCBSLinkage, fmt.Sprintf("%d", handle))
		}
		x.log.Info(x.ctx, "linkage registered", logging.String("type", typ.String()), logging.Int("linkage_id", int(id)))
		return nil
	case capi.SuppCCBSEraseLinkageID:
		id := capi.NewReader(sp.Body).Word()
		d.linkages.RemoveByID(x.msg.ID, id)
		return nil
	case capi.SuppCCBSErase, capi.SuppCCBSStopAlerting:
		ref := capi.NewReader(sp.Body).Word()
		if fn == capi.SuppCCBSErase {
			d.linkages.RemoveByReference(ref)
		}
		x.log.Debug(x.ctx, "CCBS erase", logging.Int("reference", int(ref)))
		return nil
	case capi.SuppCCBSRemoteUserFree:
		return d.remoteUserFree(x, capi.NewReader(sp.Body).Word())
	}

	i := x.iface
	if i == nil {
		d.untargeted(x)
		return nil
	}
	info := sp.SupplementaryInfo()

	switch fn {
	case capi.SuppHold:
		if info.IsOK() {
			i.Isdn = i.Isdn.With(callstate.Hold)
			i.OnHoldPLCI = i.PLCI()
			if err := i.State.Fire(callstate.EventHold, "HOLD_IND"); err != nil {
				x.log.LogError(x.ctx, err, "hold state")
			}
		} else {
			_ = i.State.Fire(callstate.EventHoldFail, info.String())
			x.log.Warn(x.ctx, "hold rejected", logging.Hex("info", uint32(info)), logging.String("reason", info.String()))
		}
		x.signal(waiter.HoldInd)
	case capi.SuppRetrieve:
		if info.IsOK() {
			i.Isdn = i.Isdn.Without(callstate.Hold)
			i.OnHoldPLCI = 0
			if err := i.State.Fire(callstate.EventRetrieve, "RETRIEVE_IND"); err != nil {
				x.log.LogError(x.ctx, err, "retrieve state")
			}
			if !i.Isdn.Has(callstate.B3Up) && !i.Isdn.Has(callstate.B3Pending) {
				if err := d.connectB3(x, i); err != nil {
					x.log.LogError(x.ctx, err, "B3 after retrieve failed")
				}
			}
		} else {
			_ = i.State.Fire(callstate.EventRetrieveFail, info.String())
			x.log.Warn(x.ctx, "retrieve rejected", logging.Hex("info", uint32(info)))
		}
		x.signal(waiter.RetrieveInd)
	case capi.SuppECT:
		status := "OK"
		if info.IsOK() {
			i.Isdn = i.Isdn.With(callstate.ECT)
		} else {
			status = "FAILED"
		}
		if i.Owner != nil {
			d.host.SetVariable(i.Owner, pbx.VarECTStatus, status)
		}
		x.signal(waiter.ECTInd)
	case capi.Supp3PTYBegin:
		if info.IsOK() {
			i.Isdn = i.Isdn.With(callstate.ThreePTY)
		}
	case capi.Supp3PTYEnd:
		i.Isdn = i.Isdn.Without(callstate.ThreePTY)
	case capi.SuppHoldNotify:
		if i.Owner != nil {
			d.host.QueueControl(i.Owner, pbx.ControlHold)
		}
	case capi.SuppRetrieveNotify:
		if i.Owner != nil {
			d.host.QueueControl(i.Owner, pbx.ControlUnhold)
		}
	default:
		x.log.Debug(x.ctx, "supplementary indication", logging.Hex("function", uint32(fn)))
	}
	return nil
}

// remoteUserFree абонент освободился: запускаем отложенный вызов через АТС
func (d *Driver) remoteUserFree(x *dispatch, ref uint16) error {
	l, ok := d.linkages.ByReference(ref)
	if !ok {
		x.log.Info(x.ctx, "remote user free for unknown reference", logging.Int("reference", int(ref)))
		return nil
	}
	ch, err := d.host.AllocateChannel(pbx.CallInfo{
		Interface:  fmt.Sprintf("CCBS%d", capi.ControllerOf(l.PLCI)),
		Controller: capi.ControllerOf(l.PLCI),
		Exten:      l.Exten,
		Context:    l.Context,
	})
	if err != nil {
		return NewDriverError("CCBS_CALLBACK", "не удалось создать канал обратного вызова", ErrorCategoryResource, ErrorSeverityWarning).WithCause(err)
	}
	d.host.SetVariable(ch, pbx.VarCCBSStatus, "FREE")
	d.host.SetVariable(ch, pbx.VarCCBSLinkage, fmt.Sprintf("%d", l.Handle))
	x.log.Info(x.ctx, "CCBS remote user free", logging.String("context", l.Context), logging.String("exten", l.Exten))
	x.later(func() {
		if err := d.host.StartDialplan(ch, l.Context, l.Exten, l.Priority); err != nil {
			d.logger.LogError(x.ctx, err, "CCBS callback dialplan failed")
			d.host.DestroyChannel(ch)
		}
	})
	return nil
}

func (d *Driver) handleFacilityConf(x *dispatch) error {
	p, err := capi.DecodeFacilityConf(x.msg)
	if err != nil {
		return err
	}
	if !p.Info.IsOK() {
		d.logInfo(x, p.Info)
	}

	switch p.Selector {
	case capi.FacilitySupplementary:
		return d.supplementaryConf(x, p)
	case capi.FacilityDTMF, capi.FacilityLineInterconn, capi.FacilityEchoCancel:
		if x.iface == nil {
			d.untargeted(x)
		}
	}
	return nil
}

func (d *Driver) supplementaryConf(x *dispatch, p capi.FacilityConfParams) error {
	sp, err := capi.DecodeSupplementary(p.Parameter)
	if err != nil {
		return err
	}
	info := p.Info
	if info.IsOK() {
		info = sp.SupplementaryInfo()
	}

	if sp.Function == capi.SuppGetSupportedServices {
		r := capi.NewReader(sp.Body)
		r.Word()
		mask := r.Dword()
		c, ok := d.reg.Controller(x.msg.Controller())
		if !ok {
			return nil
		}
		if !info.IsOK() || r.Err() != nil {
			// без ответа сервисы считаются неподдерживаемыми
			c.SetServices(0)
			return nil
		}
		c.SetServices(capi.ServiceSet(mask))
		x.log.Info(x.ctx, "supplementary services",
			logging.Int("controller", int(c.Number)), logging.Hex("services", mask))
		return nil
	}

	i := x.iface
	if i == nil {
		if sp.Function != capi.SuppListen {
			d.untargeted(x)
		}
		return nil
	}
	if info.IsOK() {
		if sp.Function == capi.SuppCCBSRequest || sp.Function == capi.SuppCCNRRequest {
			d.ccbsResult(i, sp.Body, true)
		}
		return nil
	}

	x.log.Warn(x.ctx, "supplementary request failed",
		logging.Hex("function", uint32(sp.Function)),
		logging.Hex("info", uint32(info)),
		logging.String("reason", info.String()))
	switch sp.Function {
	case capi.SuppHold:
		_ = i.State.Fire(callstate.EventHoldFail, info.String())
		x.signal(waiter.HoldInd)
	case capi.SuppRetrieve:
		_ = i.State.Fire(callstate.EventRetrieveFail, info.String())
		x.signal(waiter.RetrieveInd)
	case capi.SuppECT:
		if i.Owner != nil {
			d.host.SetVariable(i.Owner, pbx.VarECTStatus, "FAILED")
		}
		x.signal(waiter.ECTInd)
	case capi.SuppCCBSRequest, capi.SuppCCNRRequest:
		d.ccbsResult(i, sp.Body, false)
	}
	return nil
}

// ccbsResult результат запроса CCBS/CCNR: тело "w info, w recall mode, w reference"
func (d *Driver) ccbsResult(i *registry.Interface, body []byte, ok bool) {
	v, found := d.ccbs.Load(i)
	if !found {
		return
	}
	handle := v.(uint32)
	if !ok {
		d.linkages.Revert(handle)
		return
	}
	r := capi.NewReader(body)
	r.Word()
	r.Word()
	ref := r.Word()
	if r.Err() != nil || !d.linkages.Activate(handle, ref) {
		d.linkages.Revert(handle)
	}
}
