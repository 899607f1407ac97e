package driver

import (
	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/media"
	"github.com/arzzra/isdn_capi/pkg/pbx"
	"github.com/arzzra/isdn_capi/pkg/registry"
)

func (d *Driver) handleDataB3Ind(x *dispatch) error {
	p, err := capi.DecodeDataB3Ind(x.msg)
	if rerr := d.respond(x.msg, "w", p.Handle); rerr != nil {
		x.log.LogError(x.ctx, rerr, "DATA_B3_RESP failed")
	}
	if err != nil {
		return err
	}

	i := x.iface
	if i == nil {
		d.untargeted(x)
		return nil
	}
	if i.FaxActive {
		if i.Fax == nil {
			return nil
		}
		if err := i.Fax.Sink(p.Data); err != nil {
			x.log.LogError(x.ctx, err, "fax write failed")
			i.Fax.Finish(media.FaxResult{}, err)
			_, serr := d.sendFor(i, capi.DisconnectB3Req, i.NCCI, "c", nil)
			return serr
		}
		return nil
	}
	if i.Owner == nil || !i.Isdn.Has(callstate.B3Up) || i.Pipe == nil {
		return nil
	}

	frames, err := i.Media.FromCAPI(p.Data)
	if err != nil {
		x.log.Debug(x.ctx, "data block dropped", logging.Err(err))
		return nil
	}
	for _, f := range frames {
		if f.Kind == pbx.FrameDTMF {
			d.host.QueueFrame(i.Owner, f)
			continue
		}
		if !i.Pipe.Write(f) {
			x.log.Trace(x.ctx, "frame queue full", logging.Int("handle", int(p.Handle)))
		}
	}
	return nil
}

func (d *Driver) handleDataB3Conf(x *dispatch) error {
	p, err := capi.DecodeDataB3Conf(x.msg)
	if err != nil {
		return err
	}
	i := x.iface
	if i == nil {
		d.untargeted(x)
		return nil
	}
	if i.TxPending > 0 {
		i.TxPending--
	}
	if !p.Info.IsOK() {
		d.logInfo(x, p.Info)
	}
	if faxSending(i) {
		return d.faxSendNext(x, i)
	}
	return d.flushTx(i)
}

// flushTx отправляет блоки из очереди, пока стек принимает их без
// подтверждения. Вызывается под блокировкой интерфейса.
func (d *Driver) flushTx(i *registry.Interface) error {
	limit := d.general.MaxB3Blocks
	if limit <= 0 {
		limit = 1
	}
	for len(i.TxQueue) > 0 && i.TxPending < limit {
		if !i.Isdn.Has(callstate.B3Up) || i.NCCI == 0 {
			i.TxQueue = nil
			return nil
		}
		block := i.TxQueue[0]
		i.TxQueue = i.TxQueue[1:]
		i.DataHandle++
		params, err := capi.Pack("dwww", uint32(0), uint16(len(block)), i.DataHandle, uint16(0))
		if err != nil {
			return err
		}
		num := d.numbers.Next()
		if err := d.put(capi.DataB3Req, num, i.NCCI, params, block); err != nil {
			return ErrRequestFailed(i.String(), capi.DataB3Req.String(), err)
		}
		i.TxPending++
	}
	return nil
}
