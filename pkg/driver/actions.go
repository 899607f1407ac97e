package driver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/media"
	"github.com/arzzra/isdn_capi/pkg/pbx"
	"github.com/arzzra/isdn_capi/pkg/registry"
	"github.com/arzzra/isdn_capi/pkg/supplementary"
	"github.com/arzzra/isdn_capi/pkg/waiter"
)

// dialString разобранная строка набора <интерфейс>/[<cid>:]<номер>[/<флаги>]
type dialString struct {
	selector   registry.Selector
	callerID   string
	digits     string
	policy     callstate.B3Policy
	policySet  bool
	overlap    bool
	defaultCID bool
}

func isNumber(s string) bool {
	return s != "" && strings.Trim(s, "0123456789") == ""
}

func parseDialString(dial string) (dialString, error) {
	var ds dialString
	parts := strings.SplitN(dial, "/", 3)
	if len(parts) < 2 || parts[0] == "" {
		return ds, ErrBadDialString(dial, "ожидается <интерфейс>/<номер>")
	}

	sel := parts[0]
	switch {
	case strings.HasPrefix(sel, "contr") && isNumber(sel[5:]):
		n, err := strconv.ParseUint(sel[5:], 10, 8)
		if err != nil || n == 0 {
			return ds, ErrBadDialString(dial, "неверный номер контроллера")
		}
		ds.selector.Controller = uint8(n)
	case (sel[0] == 'g' || sel[0] == 'G') && isNumber(sel[1:]):
		n, err := strconv.Atoi(sel[1:])
		if err != nil || n > 63 {
			return ds, ErrBadDialString(dial, "неверный номер группы")
		}
		ds.selector.Group = 1 << uint(n)
	default:
		ds.selector.Name = sel
	}

	number := parts[1]
	if k := strings.IndexByte(number, ':'); k >= 0 {
		ds.callerID, number = number[:k], number[k+1:]
	}
	ds.digits = number

	if len(parts) == 3 {
		for _, f := range parts[2] {
			switch f {
			case 'b':
				ds.policy, ds.policySet = callstate.B3Always, true
			case 'B':
				ds.policy, ds.policySet = callstate.B3OnSuccess, true
			case 'o':
				ds.overlap = true
			case 'd':
				ds.defaultCID = true
			default:
				return ds, ErrBadDialString(dial, fmt.Sprintf("неизвестный флаг %q", f))
			}
		}
	}

	if ds.digits == "" && !ds.overlap && !(ds.policySet && ds.policy == callstate.B3Always) {
		return ds, ErrNoDestination(dial)
	}
	return ds, nil
}

// await ждет событие, заявленное до отправки запроса.
// Вызывается без блокировки интерфейса.
func (d *Driver) await(ctx context.Context, i *registry.Interface, w *waiter.Wait) error {
	timeout := d.waitTimeout()
	r := w.Wait(ctx, timeout)
	d.metrics.Wait(w.Event().String(), r.String())
	switch r {
	case waiter.Signaled:
		return nil
	case waiter.TimedOut:
		return ErrWaitTimeout(i.String(), w.Event().String(), timeout)
	case waiter.Canceled:
		return ctx.Err()
	}
	return ifaceError(i.String(), "CALL_ENDED", "вызов завершен во время ожидания", ErrorCategoryState, ErrorSeverityWarning)
}

// waitB3Up ждет подъема B3 у всех плеч. Вызывается без блокировок.
func (d *Driver) waitB3Up(ctx context.Context, ifaces ...*registry.Interface) error {
	up := func() bool {
		for _, i := range ifaces {
			i.Lock()
			ok := i.Isdn.Has(callstate.B3Up)
			i.Unlock()
			if !ok {
				return false
			}
		}
		return true
	}
	timeout := d.waitTimeout()
	if waiter.Poll(ctx, timeout, d.general.PollInterval, up) {
		d.metrics.Wait(waiter.B3Up.String(), waiter.Signaled.String())
		return nil
	}
	if err := ctx.Err(); err != nil {
		d.metrics.Wait(waiter.B3Up.String(), waiter.Canceled.String())
		return err
	}
	d.metrics.Wait(waiter.B3Up.String(), waiter.TimedOut.String())
	return ErrWaitTimeout(ifaces[0].String(), waiter.On(waiter.B3Up).String(), timeout)
}

// checkService проверяет supplementary услугу контроллера интерфейса
func (d *Driver) checkService(i *registry.Interface, need capi.ServiceSet, name string) error {
	if c, ok := d.reg.Controller(i.Controller); ok && c.Supports(need) {
		return nil
	}
	return ErrServiceNotSupported(i.String(), name)
}

func (d *Driver) profile(i *registry.Interface) capi.Profile {
	if c, ok := d.reg.Controller(i.Controller); ok {
		return c.Profile()
	}
	return capi.Profile{}
}

// Dial начинает исходящий вызов по строке набора и возвращает канал АТС
func (d *Driver) Dial(ctx context.Context, dial, callerID string) (pbx.Channel, error) {
	ds, err := parseDialString(dial)
	if err != nil {
		return nil, err
	}
	i := d.reg.FindFreeInterface(ds.selector)
	if i == nil {
		return nil, ErrNoFreeInterface(ds.selector.String())
	}

	cid := ds.callerID
	if cid == "" {
		cid = callerID
	}
	if ds.defaultCID || cid == "" {
		cid = i.Line.DefaultCID
	}

	// канал АТС создается до блокировки интерфейса: АТС блокируется первой
	ch, err := d.host.AllocateChannel(pbx.CallInfo{
		Interface:   i.String(),
		Controller:  i.Controller,
		CallerID:    cid,
		Exten:       ds.digits,
		Context:     i.Line.Context,
		Language:    i.Line.Language,
		AccountCode: i.Line.AccountCode,
	})
	if err != nil {
		i.Lock()
		d.cleanup(i)
		i.Unlock()
		return nil, NewDriverError("CHANNEL_ALLOCATION", "АТС не создала канал", ErrorCategoryResource, ErrorSeverityError).WithCause(err)
	}

	i.Lock()
	defer i.Unlock()
	i.BeginCall(true)
	if ds.policySet {
		i.B3Policy = ds.policy
	}
	i.Overlap = ds.overlap
	i.CID = cid
	i.DNID = ds.digits
	log := d.ifaceLogger(i)

	d.bind(i, ch)
	if err := i.State.Fire(callstate.EventDial, dial); err != nil {
		d.cleanup(i)
		d.host.DestroyChannel(ch)
		return nil, err
	}

	req := capi.ConnectReqParams{
		CIP:           capi.CIPTelephony,
		CalledNumber:  capi.CalledPartyNumber(ds.digits),
		CallingNumber: capi.CallingPartyNumber(cid, capi.PresAllowed),
		BProtocol:     bProtocol(i.Line),
	}
	if !ds.overlap {
		req.Additional.SendingComplete = capi.SendingCompleteIE
	}
	params, err := req.Pack()
	if err == nil {
		_, err = d.sendRawFor(i, capi.ConnectReq, uint32(i.Controller), params, nil)
	}
	if err != nil {
		d.cleanup(i)
		d.host.DestroyChannel(ch)
		return nil, err
	}

	d.metrics.Call("outgoing")
	d.host.SetChannelState(ch, pbx.StateDialing)
	log.Info(ctx, "outgoing call",
		logging.String("digits", ds.digits),
		logging.String("cid", cid),
		logging.String("b3", i.B3Policy.String()),
		logging.Bool("overlap", ds.overlap))
	return ch, nil
}

// Answer принимает входящий вызов и ждет CONNECT_ACTIVE_IND
func (d *Driver) Answer(ctx context.Context, ch pbx.Channel) error {
	i, err := d.ifaceFor(ch)
	if err != nil {
		return err
	}
	i.Lock()
	st := i.State.Current()
	if !st.IsInbound() || i.ConnectIndNumber == 0 {
		i.Unlock()
		return ErrInvalidState(i.String(), "answer", st)
	}
	params, err := capi.ConnectRespParams{Reject: capi.RejectAccept, BProtocol: bProtocol(i.Line)}.Pack()
	if err != nil {
		i.Unlock()
		return err
	}
	w, err := i.Waiter.Arm(waiter.On(waiter.AnswerFinished))
	if err != nil {
		i.Unlock()
		return err
	}
	if err := d.put(capi.ConnectResp, i.ConnectIndNumber, i.PLCI(), params, nil); err != nil {
		i.Waiter.Release()
		i.Unlock()
		return ErrRequestFailed(i.String(), capi.ConnectResp.String(), err)
	}
	i.ConnectIndNumber = 0
	_ = i.State.Fire(callstate.EventAnswer, "answer")
	d.ifaceLogger(i).Info(ctx, "call answered")
	i.Unlock()

	return d.await(ctx, i, w)
}

// Indicate обрабатывает индикацию АТС для канала (звонок, занято)
func (d *Driver) Indicate(ctx context.Context, ch pbx.Channel, c pbx.Control) error {
	i, err := d.ifaceFor(ch)
	if err != nil {
		return err
	}
	i.Lock()
	defer i.Unlock()
	st := i.State.Current()
	unanswered := st.IsInbound() && i.ConnectIndNumber != 0

	switch c {
	case pbx.ControlRinging:
		if !unanswered || st == callstate.Alerting {
			return nil
		}
		if _, err := d.sendFor(i, capi.AlertReq, i.PLCI(), "(ccccc)", nil, nil, nil, nil, nil); err != nil {
			return err
		}
		return i.State.Fire(callstate.EventAlert, "ringing")
	case pbx.ControlBusy:
		if unanswered {
			d.sendReject(ctx, i, capi.RejectUserBusy)
		}
	case pbx.ControlCongestion:
		if unanswered {
			d.sendReject(ctx, i, capi.RejectCause(34))
		}
	}
	return nil
}

// Hangup завершает вызов канала. cause: Q.931 cause для отказа входящему.
// Интерфейс освобождается по DISCONNECT_IND.
func (d *Driver) Hangup(ctx context.Context, ch pbx.Channel, cause int) error {
	i, err := d.ifaceFor(ch)
	if err != nil {
		return err
	}
	i.Lock()
	defer i.Unlock()
	if i.Owner == nil || i.Owner.Name() != ch.Name() {
		return ErrUnknownChannel(ch.Name())
	}
	log := d.ifaceLogger(i)
	if i.Cause == 0 && cause != 0 {
		i.Cause = cause
	}

	st := i.State.Current()
	log.Info(ctx, "hangup", logging.String("state", st.String()), logging.Int("cause", cause))
	switch {
	case st == callstate.Disconnected:
		d.cleanup(i)
		return nil
	case st.IsInbound() && i.ConnectIndNumber != 0:
		d.sendReject(ctx, i, capi.RejectCause(causeOrNormal(cause)))
	case st == callstate.Disconnecting:
	case !i.HasLivePLCI():
		// DISCONNECT_REQ уйдет по приходу CONNECT_CONF
		_ = i.State.Fire(callstate.EventHangup, "hangup before PLCI")
	default:
		_ = i.State.Fire(callstate.EventHangup, "hangup")
		if i.Isdn.Has(callstate.B3Up) {
			_, err = d.sendFor(i, capi.DisconnectB3Req, i.NCCI, "c", nil)
		} else {
			_, err = d.sendFor(i, capi.DisconnectReq, i.PLCI(), "(ccccc)", nil, nil, nil, nil, nil)
		}
	}
	i.Isdn = i.Isdn.With(callstate.DisconnectInProgress)
	d.leaveRoom(ctx, i)
	d.owners.Delete(ch.Name())
	i.Owner = nil
	return err
}

// Hold ставит вызов на удержание и ждет ответа сети
func (d *Driver) Hold(ctx context.Context, ch pbx.Channel) error {
	i, err := d.ifaceFor(ch)
	if err != nil {
		return err
	}
	i.Lock()
	st := i.State.Current()
	if i.Isdn.Has(callstate.Hold) || st == callstate.OnHold || st == callstate.PuttingOnHold {
		i.Unlock()
		return ErrAlreadyOnHold(i.String())
	}
	if st != callstate.Connected {
		i.Unlock()
		return ErrInvalidState(i.String(), "hold", st)
	}
	if err := d.checkService(i, capi.ServiceHoldRetrieve, "HOLD"); err != nil {
		i.Unlock()
		return err
	}
	w, err := d.request(i, waiter.On(waiter.HoldInd), i.PLCI(), supplementary.HoldRequest)
	if err != nil {
		i.Unlock()
		return err
	}
	_ = i.State.Fire(callstate.EventHoldBegin, "hold")
	i.Unlock()

	werr := d.await(ctx, i, w)

	i.Lock()
	defer i.Unlock()
	if i.State.Current() == callstate.OnHold {
		return nil
	}
	if i.State.Current() == callstate.PuttingOnHold {
		_ = i.State.Fire(callstate.EventHoldFail, "no answer")
	}
	if werr != nil {
		return werr
	}
	return NewDriverError("HOLD_REJECTED", "сеть отклонила удержание", ErrorCategoryProtocol, ErrorSeverityWarning)
}

// Retrieve снимает вызов с удержания
func (d *Driver) Retrieve(ctx context.Context, ch pbx.Channel) error {
	i, err := d.ifaceFor(ch)
	if err != nil {
		return err
	}
	i.Lock()
	if i.State.Current() != callstate.OnHold {
		i.Unlock()
		return ErrNotOnHold(i.String())
	}
	if err := d.checkService(i, capi.ServiceHoldRetrieve, "RETRIEVE"); err != nil {
		i.Unlock()
		return err
	}
	plci := i.OnHoldPLCI
	if plci == 0 {
		plci = i.PLCI()
	}
	w, err := d.request(i, waiter.On(waiter.RetrieveInd), plci, supplementary.RetrieveRequest)
	if err != nil {
		i.Unlock()
		return err
	}
	_ = i.State.Fire(callstate.EventRetrieveBegin, "retrieve")
	i.Unlock()

	werr := d.await(ctx, i, w)

	i.Lock()
	defer i.Unlock()
	switch i.State.Current() {
	case callstate.Connected:
		return nil
	case callstate.Retrieving:
		_ = i.State.Fire(callstate.EventRetrieveFail, "no answer")
	}
	if werr != nil {
		return werr
	}
	return NewDriverError("RETRIEVE_REJECTED", "сеть отклонила снятие с удержания", ErrorCategoryProtocol, ErrorSeverityWarning)
}

// checkHeld предусловие ECT/3PTY: услуга контроллера и удержание второго плеча
func (d *Driver) checkHeld(i, held *registry.Interface, need capi.ServiceSet, name string, onHold bool) error {
	var services capi.ServiceSet
	if c, ok := d.reg.Controller(i.Controller); ok {
		services = c.Services()
	}
	err := supplementary.CheckHeld(services, need, onHold)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, supplementary.ErrNotOnHold):
		return ErrNotOnHold(held.String())
	}
	return ErrServiceNotSupported(i.String(), name).WithCause(err)
}

// heldPLCI PLCI второго плеча и признак удержания
func (d *Driver) heldPLCI(held pbx.Channel) (*registry.Interface, uint32, bool, error) {
	h, err := d.ifaceFor(held)
	if err != nil {
		return nil, 0, false, err
	}
	h.Lock()
	defer h.Unlock()
	return h, h.PLCI(), h.State.Current() == callstate.OnHold, nil
}

// ECT соединяет активный вызов ch с удерживаемым held и ждет результата
func (d *Driver) ECT(ctx context.Context, ch, held pbx.Channel) error {
	i, err := d.ifaceFor(ch)
	if err != nil {
		return err
	}
	h, plci, onHold, err := d.heldPLCI(held)
	if err != nil {
		return err
	}

	i.Lock()
	if err := d.checkHeld(i, h, capi.ServiceECT, "ECT", onHold); err != nil {
		i.Unlock()
		return err
	}
	w, err := d.request(i, waiter.On(waiter.ECTInd), i.PLCI(), func() ([]byte, error) {
		return supplementary.ECTRequest(plci)
	})
	if err != nil {
		i.Unlock()
		return err
	}
	d.ifaceLogger(i).Info(ctx, "explicit call transfer", logging.Hex("held_plci", plci))
	i.Unlock()

	if err := d.await(ctx, i, w); err != nil {
		return err
	}
	if status := d.host.Variable(ch, pbx.VarECTStatus); status == "FAILED" {
		return NewDriverError("ECT_REJECTED", "сеть отклонила передачу вызова", ErrorCategoryProtocol, ErrorSeverityWarning)
	}
	return nil
}

// ThreePTY начинает или завершает конференцию с удерживаемым вызовом
func (d *Driver) ThreePTY(ctx context.Context, ch, held pbx.Channel, begin bool) error {
	i, err := d.ifaceFor(ch)
	if err != nil {
		return err
	}
	h, plci, onHold, err := d.heldPLCI(held)
	if err != nil {
		return err
	}

	i.Lock()
	defer i.Unlock()
	if begin {
		if err := d.checkHeld(i, h, capi.Service3PTY, "3PTY", onHold); err != nil {
			return err
		}
	} else if err := d.checkService(i, capi.Service3PTY, "3PTY"); err != nil {
		return err
	}
	build := supplementary.ThreePTYEndRequest
	if begin {
		build = supplementary.ThreePTYBeginRequest
	}
	req, err := build(plci)
	if err != nil {
		return err
	}
	_, err = d.sendRawFor(i, capi.FacilityReq, i.PLCI(), req, nil)
	return err
}

// LineInterconnect соединяет (или разъединяет) B-каналы двух вызовов в
// контроллере. Соединение ждет подъема B3 у обоих плеч.
func (d *Driver) LineInterconnect(ctx context.Context, ch, peer pbx.Channel, connect bool) error {
	i, err := d.ifaceFor(ch)
	if err != nil {
		return err
	}
	p, err := d.ifaceFor(peer)
	if err != nil {
		return err
	}
	if !d.profile(i).Supports(capi.ProfileLineInterc) {
		return ErrServiceNotSupported(i.String(), "LINE INTERCONNECT")
	}
	if connect {
		if err := d.waitB3Up(ctx, i, p); err != nil {
			return err
		}
	}
	p.Lock()
	peerPLCI := p.PLCI()
	p.Unlock()

	i.Lock()
	defer i.Unlock()
	if !i.HasLivePLCI() || peerPLCI == 0 || peerPLCI == registry.PLCIInvalid {
		return ErrInvalidState(i.String(), "line interconnect", i.State.Current())
	}
	build := supplementary.LineDisconnectRequest
	if connect {
		build = supplementary.LineInterconnectRequest
	}
	req, err := build([]uint32{peerPLCI})
	if err != nil {
		return err
	}
	if _, err := d.sendRawFor(i, capi.FacilityReq, i.PLCI(), req, nil); err != nil {
		return err
	}
	if connect {
		i.Isdn = i.Isdn.With(callstate.LineInterconnect)
	} else {
		i.Isdn = i.Isdn.Without(callstate.LineInterconnect)
	}
	d.ifaceLogger(i).Debug(ctx, "line interconnect", logging.Hex("peer_plci", peerPLCI), logging.Bool("connect", connect))
	return nil
}

// SendDigits передает цифры: при досылке номера INFO_REQ, в разговоре DTMF
// через FACILITY. Без DTMF в контроллере (или softdtmf) линия с RTP
// отправляет события RFC 4733 в B-канал, обычная линия возвращает
// ErrServiceNotSupported: АТС генерирует тоны сама.
func (d *Driver) SendDigits(ctx context.Context, ch pbx.Channel, digits string) error {
	i, err := d.ifaceFor(ch)
	if err != nil {
		return err
	}
	i.Lock()
	defer i.Unlock()
	st := i.State.Current()

	if i.Overlap && st == callstate.ConnectPending {
		if !i.HasLivePLCI() {
			return ErrInvalidState(i.String(), "overlap digits", st)
		}
		_, err := d.sendFor(i, capi.InfoReq, i.PLCI(), "c(ccccc)",
			capi.CalledPartyNumber(digits), nil, nil, nil, nil, nil)
		if err == nil {
			i.DNID += digits
		}
		return err
	}

	parsed, err := media.ParseDTMFString(digits)
	if err != nil {
		return NewDriverError("BAD_DIGITS", fmt.Sprintf("недопустимые цифры %q", digits), ErrorCategoryValidation, ErrorSeverityWarning).WithCause(err)
	}
	inband := i.Line.SoftDTMF || !d.profile(i).Supports(capi.ProfileDTMF)
	if inband && !i.Line.RTP {
		return ErrServiceNotSupported(i.String(), "DTMF")
	}
	if !i.Isdn.Has(callstate.B3Up) {
		return ErrInvalidState(i.String(), "send digits", st)
	}
	if inband {
		blocks, err := i.Media.DTMFBlocks(parsed)
		if err != nil {
			return err
		}
		i.TxQueue = append(i.TxQueue, blocks...)
		d.ifaceLogger(i).Debug(ctx, "RFC 4733 digits", logging.String("digits", digits), logging.Int("packets", len(blocks)))
		return d.flushTx(i)
	}
	req, err := supplementary.DTMFSendRequest(digits)
	if err != nil {
		return err
	}
	_, err = d.sendRawFor(i, capi.FacilityReq, i.NCCI, req, nil)
	return err
}

// request заявляет ожидание и отправляет FACILITY_REQ. Под блокировкой интерфейса.
func (d *Driver) request(i *registry.Interface, ev waiter.Event, id uint32, build func() ([]byte, error)) (*waiter.Wait, error) {
	req, err := build()
	if err != nil {
		return nil, err
	}
	w, err := i.Waiter.Arm(ev)
	if err != nil {
		return nil, ifaceError(i.String(), "WAIT_BUSY", "уже есть незавершенный запрос", ErrorCategoryState, ErrorSeverityWarning).WithCause(err)
	}
	if _, err := d.sendRawFor(i, capi.FacilityReq, id, req, nil); err != nil {
		i.Waiter.Release()
		return nil, err
	}
	return w, nil
}
