package driver

import (
	"context"
	"fmt"

	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/pbx"
	"github.com/arzzra/isdn_capi/pkg/supplementary"
	"github.com/arzzra/isdn_capi/pkg/waiter"
)

// CCBSRequest активирует CCBS/CCNR по handle из CCLINKAGEID. Когда абонент
// освободится, вызов продолжится в context/exten/priority. Результат
// записывается в CCBSSTATUS канала ch.
func (d *Driver) CCBSRequest(ctx context.Context, ch pbx.Channel, handle uint32, dpContext, exten string, priority int) error {
	status := "ERROR"
	defer func() {
		if ch != nil {
			d.host.SetVariable(ch, pbx.VarCCBSStatus, status)
		}
	}()

	h := d.linkages.SelectForActivation(handle, dpContext, exten, priority)
	if h == 0 {
		return NewDriverError("NO_LINKAGE", fmt.Sprintf("нет доступной записи CCBS 0x%08x", handle),
			ErrorCategoryValidation, ErrorSeverityWarning)
	}
	l, _ := d.linkages.Get(h)
	req, err := supplementary.CCBSRequest(l.Type, l.ID)
	if err != nil {
		d.linkages.Revert(h)
		return err
	}

	ctrl := capi.ControllerOf(l.PLCI)
	i := d.reg.NewNullInterface(ctrl, dpContext)
	i.Lock()
	i.BeginCall(true)
	need := capi.ServiceCCBS
	if l.Type == supplementary.CCNR {
		need = capi.ServiceCCNR
	}
	if err := d.checkService(i, need, l.Type.String()); err != nil {
		d.linkages.Revert(h)
		d.cleanup(i)
		i.Unlock()
		return err
	}
	w, err := i.Waiter.Arm(waiter.OnConf(capi.FacilityConf))
	if err == nil {
		d.ccbs.Store(i, h)
		_, err = d.sendRawFor(i, capi.FacilityReq, h&0xffff, req, nil)
	}
	if err != nil {
		d.ccbs.Delete(i)
		d.linkages.Revert(h)
		d.cleanup(i)
		i.Unlock()
		return err
	}
	i.Unlock()

	werr := d.await(ctx, i, w)

	i.Lock()
	d.ccbs.Delete(i)
	d.cleanup(i)
	i.Unlock()

	if werr != nil {
		d.linkages.Revert(h)
		return werr
	}
	if rec, ok := d.linkages.Get(h); ok && rec.State == supplementary.Activated {
		status = "ACTIVATED"
		d.logger.Info(ctx, "call completion activated",
			logging.String("type", rec.Type.String()),
			logging.Int("reference", int(rec.Reference)),
			logging.String("exten", exten))
		return nil
	}
	return NewDriverError("CCBS_REJECTED", "сеть отклонила запрос CCBS", ErrorCategoryProtocol, ErrorSeverityWarning)
}

// CCBSDeactivate снимает активированный запрос по reference
func (d *Driver) CCBSDeactivate(ctx context.Context, handle uint32) error {
	l, ok := d.linkages.Get(handle)
	if !ok || l.State != supplementary.Activated {
		return NewDriverError("NO_LINKAGE", fmt.Sprintf("нет активного CCBS 0x%08x", handle),
			ErrorCategoryValidation, ErrorSeverityWarning)
	}
	req, err := supplementary.CCBSDeactivateRequest(l.Type, l.Reference)
	if err != nil {
		return err
	}
	if _, err := d.sendRaw(capi.FacilityReq, uint32(capi.ControllerOf(l.PLCI)), req); err != nil {
		return err
	}
	d.linkages.RemoveByReference(l.Reference)
	d.logger.Debug(ctx, "call completion deactivated", logging.Int("reference", int(l.Reference)))
	return nil
}

// CCBSPartyBusy отмечает занятость вызывающей стороны для записи handle.
// Сеть узнает ее в ответе на запрос статуса CCBS.
func (d *Driver) CCBSPartyBusy(handle uint32, busy bool) error {
	if !d.linkages.MarkPartyBusy(handle, busy) {
		return NewDriverError("NO_LINKAGE", fmt.Sprintf("нет записи CCBS 0x%08x", handle),
			ErrorCategoryValidation, ErrorSeverityWarning)
	}
	d.logger.Debug(context.Background(), "CCBS party busy", logging.Hex("handle", handle), logging.Bool("busy", busy))
	return nil
}
