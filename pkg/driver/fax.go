package driver

import (
	"context"
	"io"
	"strconv"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/media"
	"github.com/arzzra/isdn_capi/pkg/pbx"
	"github.com/arzzra/isdn_capi/pkg/registry"
	"github.com/arzzra/isdn_capi/pkg/waiter"
)

// FaxOptions параметры станции для сеанса T.30
type FaxOptions struct {
	StationID string
	Headline  string
	HighRes   bool
}

// ReceiveFax переключает B-канал разговора на T.30 и пишет принятый документ
// (SFF) в w. Возвращается после DISCONNECT_B3_IND с итогом сеанса.
func (d *Driver) ReceiveFax(ctx context.Context, ch pbx.Channel, w io.Writer, opts FaxOptions) (media.FaxResult, error) {
	return d.runFax(ctx, ch, media.NewFaxReceive(w), opts)
}

// SendFax передает документ (SFF) из r. Следующий блок уходит по DATA_B3_CONF,
// после конца данных B3 разрывается.
func (d *Driver) SendFax(ctx context.Context, ch pbx.Channel, r io.Reader, opts FaxOptions) (media.FaxResult, error) {
	return d.runFax(ctx, ch, media.NewFaxSend(r), opts)
}

func (d *Driver) runFax(ctx context.Context, ch pbx.Channel, job *media.FaxTransfer, opts FaxOptions) (media.FaxResult, error) {
	i, err := d.ifaceFor(ch)
	if err != nil {
		return media.FaxResult{}, err
	}
	bp, err := capi.FaxG3(opts.HighRes, opts.StationID, opts.Headline)
	if err != nil {
		return media.FaxResult{}, err
	}
	params, err := bp.Pack()
	if err != nil {
		return media.FaxResult{}, err
	}
	log := d.ifaceLogger(i)

	i.Lock()
	if st := i.State.Current(); st != callstate.Connected {
		i.Unlock()
		return media.FaxResult{}, ErrInvalidState(i.String(), "fax", st)
	}
	if i.FaxActive {
		i.Unlock()
		return media.FaxResult{}, ifaceError(i.String(), "FAX_ACTIVE", "факс уже идет", ErrorCategoryState, ErrorSeverityWarning)
	}

	// голосовой B3 разрывается до смены B-протокола
	if i.Isdn.Has(callstate.B3Up) {
		w, err := i.Waiter.Arm(waiter.On(waiter.B3Down))
		if err != nil {
			i.Unlock()
			return media.FaxResult{}, ifaceError(i.String(), "WAIT_BUSY", "уже есть незавершенный запрос", ErrorCategoryState, ErrorSeverityWarning).WithCause(err)
		}
		if _, err := d.sendFor(i, capi.DisconnectB3Req, i.NCCI, "c", nil); err != nil {
			i.Waiter.Release()
			i.Unlock()
			return media.FaxResult{}, err
		}
		i.Unlock()
		if err := d.await(ctx, i, w); err != nil {
			return media.FaxResult{}, err
		}
		i.Lock()
		if st := i.State.Current(); st != callstate.Connected {
			i.Unlock()
			return media.FaxResult{}, ErrInvalidState(i.String(), "fax", st)
		}
	}

	i.FaxActive = true
	i.Fax = job
	i.TxQueue = nil
	w, err := i.Waiter.Arm(waiter.On(waiter.B3Up))
	if err != nil {
		i.Unlock()
		return media.FaxResult{}, ifaceError(i.String(), "WAIT_BUSY", "уже есть незавершенный запрос", ErrorCategoryState, ErrorSeverityWarning).WithCause(err)
	}
	if _, err := d.sendRawFor(i, capi.SelectBProtocolReq, i.PLCI(), params, nil); err != nil {
		i.Waiter.Release()
		i.FaxActive, i.Fax = false, nil
		i.Unlock()
		return media.FaxResult{}, err
	}
	i.Unlock()
	log.Info(ctx, "fax started", logging.Bool("sending", job.Sending()), logging.Bool("high_res", opts.HighRes))

	if err := d.await(ctx, i, w); err != nil && !job.Done() {
		d.abortFax(i, job, err)
		return job.Result()
	}

	timeout := d.general.FaxTimeout
	if !waiter.Poll(ctx, timeout, d.general.PollInterval, job.Done) {
		err := ctx.Err()
		if err == nil {
			err = ErrWaitTimeout(i.String(), "FAX", timeout)
		}
		d.abortFax(i, job, err)
	}
	res, ferr := job.Result()
	if ferr != nil {
		log.Warn(ctx, "fax failed", logging.Err(ferr), logging.Int("pages", int(res.Pages)))
	} else {
		log.Info(ctx, "fax done", logging.Int("pages", int(res.Pages)), logging.Int("rate", int(res.Rate)))
	}
	return res, ferr
}

// abortFax завершает сеанс с ошибкой и разрывает B3, если он поднят
func (d *Driver) abortFax(i *registry.Interface, job *media.FaxTransfer, err error) {
	i.Lock()
	defer i.Unlock()
	job.Finish(media.FaxResult{}, err)
	if i.Fax == job && i.Isdn.Has(callstate.B3Up) && i.NCCI != 0 {
		if _, serr := d.sendFor(i, capi.DisconnectB3Req, i.NCCI, "c", nil); serr != nil {
			d.ifaceLogger(i).LogError(context.Background(), serr, "fax B3 disconnect failed")
		}
	}
}

func (d *Driver) handleSelectBProtocolConf(x *dispatch) error {
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
		if i.Outgoing && i.FaxActive {
			return d.connectB3(x, i)
		}
		return nil
	}
	d.logInfo(x, info)
	if i.Fax != nil {
		i.Fax.Finish(media.FaxResult{}, ErrFaxFailed(i.String(), info))
	}
	// B-протокол не сменился, разговор остается голосовым
	i.FaxActive, i.Fax = false, nil
	x.signal(waiter.B3Up)
	return nil
}

// faxSendNext дочитывает документ в очередь передачи и после последнего
// подтвержденного блока разрывает B3. Под блокировкой интерфейса.
func (d *Driver) faxSendNext(x *dispatch, i *registry.Interface) error {
	job := i.Fax
	limit := d.general.MaxB3Blocks
	if limit <= 0 {
		limit = 1
	}
	size := d.general.MaxB3Size
	if size <= 0 {
		size = 2048
	}
	for len(i.TxQueue)+i.TxPending < limit {
		block, err := job.NextBlock(size)
		if err != nil {
			x.log.LogError(x.ctx, err, "fax read failed")
			job.Finish(media.FaxResult{}, err)
			_, serr := d.sendFor(i, capi.DisconnectB3Req, i.NCCI, "c", nil)
			return serr
		}
		if block == nil {
			break
		}
		i.TxQueue = append(i.TxQueue, block)
	}
	if err := d.flushTx(i); err != nil {
		return err
	}
	if job.EOF() && len(i.TxQueue) == 0 && i.TxPending == 0 && i.NCCI != 0 {
		x.log.Debug(x.ctx, "fax document sent")
		_, err := d.sendFor(i, capi.DisconnectB3Req, i.NCCI, "c", nil)
		return err
	}
	return nil
}

// faxSending B3 передает документ
func faxSending(i *registry.Interface) bool {
	return i.FaxActive && i.Fax != nil && i.Fax.Sending()
}

// finishFax итог сеанса по DISCONNECT_B3_IND и переменные FAX* канала АТС.
// Под блокировкой интерфейса.
func (d *Driver) finishFax(x *dispatch, i *registry.Interface, p capi.DisconnectB3IndParams) {
	var res media.FaxResult
	if len(p.NCPI) > 0 {
		n, err := capi.DecodeFaxNCPI(p.NCPI)
		if err != nil {
			x.log.Debug(x.ctx, "fax NCPI", logging.Err(err))
		}
		res = media.FaxResult{Pages: n.Pages, Rate: n.Rate, Resolution: n.Resolution, RemoteID: n.RemoteID}
	}
	var ferr error
	if !p.ReasonB3.IsOK() {
		ferr = ErrFaxFailed(i.String(), p.ReasonB3)
	}
	i.Fax.Finish(res, ferr)
	i.TxQueue = nil

	if i.Owner == nil {
		return
	}
	status := "0"
	if ferr != nil {
		status = "1"
	}
	d.host.SetVariable(i.Owner, pbx.VarFaxStatus, status)
	d.host.SetVariable(i.Owner, pbx.VarFaxReason, strconv.Itoa(int(p.ReasonB3)))
	d.host.SetVariable(i.Owner, pbx.VarFaxRate, strconv.Itoa(int(res.Rate)))
	d.host.SetVariable(i.Owner, pbx.VarFaxResolution, strconv.Itoa(int(res.Resolution)))
	d.host.SetVariable(i.Owner, pbx.VarFaxPages, strconv.Itoa(int(res.Pages)))
	d.host.SetVariable(i.Owner, pbx.VarFaxID, res.RemoteID)
}
