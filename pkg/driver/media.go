package driver

import (
	"context"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/media"
	"github.com/arzzra/isdn_capi/pkg/pbx"
)

// Write передает кадр АТС в B-канал. Пока стек не подтвердил
// MaxB3Blocks блоков, кадры ждут в очереди интерфейса; при переполнении
// очереди самый старый кадр отбрасывается. Во время факса кадры не передаются.
func (d *Driver) Write(ctx context.Context, ch pbx.Channel, f pbx.Frame) error {
	if f.Kind == pbx.FrameDTMF {
		// цифры в разговоре уходят через FACILITY
		return d.SendDigits(ctx, ch, string(f.Digit))
	}
	i, err := d.ifaceFor(ch)
	if err != nil {
		return err
	}
	i.Lock()
	defer i.Unlock()
	if !i.Isdn.Has(callstate.B3Up) || i.NCCI == 0 || i.FaxActive {
		return nil
	}

	block, err := i.Media.ToCAPI(f)
	if err != nil {
		return err
	}
	if block == nil {
		return nil
	}
	limit := d.general.MaxB3Blocks
	if limit <= 0 {
		limit = 1
	}
	if len(i.TxQueue) >= limit {
		i.TxQueue = i.TxQueue[1:]
	}
	i.TxQueue = append(i.TxQueue, block)
	return d.flushTx(i)
}

// ReadFrame следующий кадр из B-канала для цикла чтения АТС
func (d *Driver) ReadFrame(ctx context.Context, ch pbx.Channel) (pbx.Frame, error) {
	i, err := d.ifaceFor(ch)
	if err != nil {
		return pbx.Frame{}, err
	}
	i.Lock()
	pipe := i.Pipe
	i.Unlock()
	if pipe == nil {
		return pbx.Frame{}, media.ErrPipeClosed
	}
	return pipe.Read(ctx)
}

// MediaDescription описание RTP потока для линий с rtp=yes, nil для
// обычных голосовых линий
func (d *Driver) MediaDescription(ch pbx.Channel) (*sdp.MediaDescription, error) {
	i, err := d.ifaceFor(ch)
	if err != nil {
		return nil, err
	}
	if !i.Line.RTP {
		return nil, nil
	}
	return media.DefaultRTPProfile(i.Line.Law).MediaDescription(), nil
}
