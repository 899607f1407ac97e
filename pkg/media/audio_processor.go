package media

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/arzzra/isdn_capi/pkg/pbx"
)

// Параметры подавления эха
const (
	echoTxCount          = 5   // 5 x 20ms = 100ms истории передачи
	echoEffectiveTxCount = 3   // учитываются первые 60ms
	echoTxRxRatio        = 2.3 // прием тише передачи в это число раз считается эхом
)

// Генерируемые цифры RFC 4733
const (
	dtmfDuration = 100 * time.Millisecond
	dtmfGap      = 50 * time.Millisecond
	dtmfVolume   = -10
)

// AdapterConfig конфигурация медиа пути интерфейса
type AdapterConfig struct {
	Interface   string
	Law         Law
	EchoSquelch bool
	RTP         bool
	// DTMFPayloadType тип RTP payload для RFC 4733 событий
	DTMFPayloadType uint8
	// MaxFrameSize ограничение размера блока DATA_B3
	MaxFrameSize int
}

// DefaultAdapterConfig A-law, без RTP, блоки до 2048 байт
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		Law:             ALaw,
		DTMFPayloadType: 101,
		MaxFrameSize:    2048,
	}
}

// AdapterStatistics счетчики медиа пути
type AdapterStatistics struct {
	FramesIn     uint64
	FramesOut    uint64
	BytesIn      uint64
	BytesOut     uint64
	Squelched    uint64
	DTMFReceived uint64
	DTMFSent     uint64
}

// Adapter преобразует полезную нагрузку DATA_B3 в кадры АТС и обратно.
// Голос: обращение бит и подавление эха. RTP: пакет проходит как есть,
// события RFC 4733 становятся DTMF кадрами.
type Adapter struct {
	cfg AdapterConfig
	mu  sync.Mutex

	txavg [echoTxCount]int
	dtmf  *DTMFReceiver
	stats AdapterStatistics

	// исходящий RTP поток: события DTMF продолжают его SSRC и нумерацию
	txSSRC uint32
	txSeq  uint16
	txTS   uint32
}

// NewAdapter создает адаптер
func NewAdapter(cfg AdapterConfig) *Adapter {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = 2048
	}
	if cfg.DTMFPayloadType == 0 {
		cfg.DTMFPayloadType = 101
	}
	return &Adapter{
		cfg:    cfg,
		dtmf:   NewDTMFReceiver(cfg.DTMFPayloadType),
		txSSRC: rand.Uint32(),
		txSeq:  uint16(rand.Uint32()),
	}
}

// Config текущая конфигурация
func (a *Adapter) Config() AdapterConfig { return a.cfg }

// FromCAPI преобразует данные DATA_B3_IND в кадры для АТС
func (a *Adapter) FromCAPI(data []byte) ([]pbx.Frame, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) > a.cfg.MaxFrameSize {
		return nil, NewMediaError(ErrorCodeFrameSizeInvalid, a.cfg.Interface, "блок больше максимального размера")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.FramesIn++
	a.stats.BytesIn += uint64(len(data))

	if a.cfg.RTP {
		return a.fromRTP(data)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	ReverseBits(buf)
	if a.cfg.EchoSquelch && a.squelch(buf) {
		a.stats.Squelched++
	}
	return []pbx.Frame{{Kind: pbx.FrameVoice, Payload: buf, Samples: len(buf)}}, nil
}

func (a *Adapter) fromRTP(data []byte) ([]pbx.Frame, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, WrapMediaError(ErrorCodeRTPInvalid, a.cfg.Interface, "разбор RTP пакета", err)
	}

	var started *DTMFEvent
	a.dtmf.SetCallback(func(ev DTMFEvent) { started = &ev })
	isDTMF, err := a.dtmf.ProcessPacket(&pkt)
	if err != nil {
		return nil, WrapMediaError(ErrorCodeRTPInvalid, a.cfg.Interface, "разбор DTMF события", err)
	}
	if isDTMF {
		if started == nil {
			return nil, nil
		}
		a.stats.DTMFReceived++
		return []pbx.Frame{{Kind: pbx.FrameDTMF, Digit: rune(started.Digit.String()[0])}}, nil
	}

	raw := make([]byte, len(data))
	copy(raw, data)
	return []pbx.Frame{{Kind: pbx.FrameRTP, Payload: raw, Samples: len(pkt.Payload)}}, nil
}

// ToCAPI преобразует кадр АТС в данные DATA_B3_REQ
func (a *Adapter) ToCAPI(f pbx.Frame) ([]byte, error) {
	if len(f.Payload) > a.cfg.MaxFrameSize {
		return nil, NewMediaError(ErrorCodeFrameSizeInvalid, a.cfg.Interface, "кадр больше максимального размера блока")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch f.Kind {
	case pbx.FrameRTP:
		if !a.cfg.RTP {
			return nil, NewMediaError(ErrorCodeRTPInvalid, a.cfg.Interface, "RTP кадр на линии без RTP")
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(f.Payload); err != nil {
			return nil, WrapMediaError(ErrorCodeRTPInvalid, a.cfg.Interface, "разбор RTP пакета", err)
		}
		a.txSSRC = pkt.SSRC
		a.txSeq = pkt.SequenceNumber + 1
		a.txTS = pkt.Timestamp + uint32(len(pkt.Payload))
	case pbx.FrameVoice:
	default:
		return nil, nil
	}

	out := make([]byte, len(f.Payload))
	copy(out, f.Payload)
	if f.Kind == pbx.FrameVoice {
		if a.cfg.EchoSquelch {
			a.recordTx(out)
		}
		ReverseBits(out)
	}
	a.stats.FramesOut++
	a.stats.BytesOut += uint64(len(out))
	return out, nil
}

// DTMFBlocks RTP пакеты RFC 4733 для цифр, готовые к отправке в DATA_B3.
// Только для линий с RTP.
func (a *Adapter) DTMFBlocks(digits []DTMFDigit) ([][]byte, error) {
	if !a.cfg.RTP {
		return nil, NewMediaError(ErrorCodeRTPInvalid, a.cfg.Interface, "RFC 4733 только на линии с RTP")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sender := NewDTMFSender(a.cfg.DTMFPayloadType, a.txSSRC)
	sender.seqNum = a.txSeq
	step := uint32((dtmfDuration + dtmfGap).Seconds() * 8000)

	var blocks [][]byte
	for _, d := range digits {
		pkts, err := sender.GeneratePackets(DTMFEvent{Digit: d, Duration: dtmfDuration, Volume: dtmfVolume, Timestamp: a.txTS})
		if err != nil {
			return nil, err
		}
		for _, p := range pkts {
			raw, err := p.Marshal()
			if err != nil {
				return nil, WrapMediaError(ErrorCodeRTPInvalid, a.cfg.Interface, "сборка DTMF пакета", err)
			}
			blocks = append(blocks, raw)
		}
		a.txTS += step
		a.stats.DTMFSent++
	}
	a.txSeq = sender.seqNum
	return blocks, nil
}

func (a *Adapter) average(buf []byte) int {
	sum := 0
	for _, b := range buf {
		v := int(a.cfg.Law.ToLinear(b))
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum / len(buf)
}

func (a *Adapter) recordTx(buf []byte) {
	if len(buf) == 0 {
		return
	}
	copy(a.txavg[:], a.txavg[1:])
	a.txavg[echoTxCount-1] = a.average(buf)
}

// squelch глушит принятый блок, если он заметно тише недавней передачи
func (a *Adapter) squelch(buf []byte) bool {
	rxavg := a.average(buf)
	txavg := 0
	for j := 0; j < echoEffectiveTxCount; j++ {
		txavg += a.txavg[j]
	}
	txavg /= echoEffectiveTxCount

	if float64(txavg)/echoTxRxRatio > float64(rxavg) {
		silence := a.cfg.Law.Silence()
		for i := range buf {
			buf[i] = silence
		}
		return true
	}
	return false
}

// Statistics копия счетчиков
func (a *Adapter) Statistics() AdapterStatistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
