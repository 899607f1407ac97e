package media

import (
	"fmt"
	"strings"
	"time"

	"github.com/pion/rtp"
)

// DTMFDigit код события RFC 4733 (0-15)
type DTMFDigit uint8

const dtmfSymbols = "0123456789*#ABCD"

const (
	DTMF0     DTMFDigit = 0
	DTMFStar  DTMFDigit = 10
	DTMFPound DTMFDigit = 11
	DTMFA     DTMFDigit = 12
	DTMFD     DTMFDigit = 15
)

func (d DTMFDigit) String() string {
	if int(d) < len(dtmfSymbols) {
		return dtmfSymbols[d : d+1]
	}
	return "?"
}

// Rune символ цифры
func (d DTMFDigit) Rune() rune {
	return rune(d.String()[0])
}

// ParseDigit разбирает символ DTMF; строчные a-d допускаются
func ParseDigit(r rune) (DTMFDigit, error) {
	idx := strings.IndexRune(dtmfSymbols, r)
	if idx < 0 && r >= 'a' && r <= 'd' {
		idx = strings.IndexRune(dtmfSymbols, r-'a'+'A')
	}
	if idx < 0 {
		return 0, NewMediaError(ErrorCodeDTMFInvalidDigit, "", fmt.Sprintf("недопустимый DTMF символ: %q", r))
	}
	return DTMFDigit(idx), nil
}

// ParseDTMFString преобразует строку в последовательность цифр
func ParseDTMFString(s string) ([]DTMFDigit, error) {
	digits := make([]DTMFDigit, 0, len(s))
	for _, r := range s {
		d, err := ParseDigit(r)
		if err != nil {
			return nil, err
		}
		digits = append(digits, d)
	}
	return digits, nil
}

// DTMFEvent DTMF событие
type DTMFEvent struct {
	Digit     DTMFDigit
	Duration  time.Duration
	Volume    int8 // от 0 до -63 dBm
	Timestamp uint32
}

// DTMFSender формирует RTP пакеты RFC 4733 для линий с RTP
type DTMFSender struct {
	payloadType uint8
	ssrc        uint32
	seqNum      uint16
}

// NewDTMFSender создает отправитель
func NewDTMFSender(payloadType uint8, ssrc uint32) *DTMFSender {
	return &DTMFSender{payloadType: payloadType, ssrc: ssrc}
}

// GeneratePackets три начальных пакета и три с флагом конца события
func (ds *DTMFSender) GeneratePackets(event DTMFEvent) ([]*rtp.Packet, error) {
	if event.Duration <= 0 {
		return nil, NewMediaError(ErrorCodeDTMFDurationInvalid, "", "длительность DTMF должна быть положительной")
	}

	volume := uint8(0)
	if event.Volume < 0 {
		volume = uint8(-event.Volume)
		if volume > 63 {
			volume = 63
		}
	}
	duration := uint16(event.Duration.Seconds() * 8000)

	packets := make([]*rtp.Packet, 0, 6)
	for i := 0; i < 6; i++ {
		end := i >= 3
		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == 0,
				PayloadType:    ds.payloadType,
				SequenceNumber: ds.seqNum,
				Timestamp:      event.Timestamp,
				SSRC:           ds.ssrc,
			},
			Payload: encodeDTMFPayload(event.Digit, end, volume, duration),
		})
		ds.seqNum++
	}
	return packets, nil
}

func encodeDTMFPayload(digit DTMFDigit, end bool, volume uint8, duration uint16) []byte {
	data := make([]byte, 4)
	data[0] = uint8(digit) & 0x0f
	if end {
		data[1] |= 0x80
	}
	data[1] |= volume & 0x3f
	data[2] = byte(duration >> 8)
	data[3] = byte(duration)
	return data
}

// DTMFReceiver распознает события RFC 4733 в RTP потоке.
// Callback вызывается один раз в начале события.
type DTMFReceiver struct {
	payloadType uint8
	onDigit     func(DTMFEvent)
	active      bool
	last        DTMFDigit
	lastTS      uint32
}

// NewDTMFReceiver создает приемник
func NewDTMFReceiver(payloadType uint8) *DTMFReceiver {
	return &DTMFReceiver{payloadType: payloadType}
}

// SetCallback задает обработчик начала события
func (dr *DTMFReceiver) SetCallback(cb func(DTMFEvent)) {
	dr.onDigit = cb
}

// ProcessPacket возвращает true, если пакет является DTMF событием
func (dr *DTMFReceiver) ProcessPacket(packet *rtp.Packet) (bool, error) {
	if packet.PayloadType != dr.payloadType {
		return false, nil
	}
	data := packet.Payload
	if len(data) < 4 {
		return false, fmt.Errorf("некорректный размер DTMF payload: %d", len(data))
	}

	event := DTMFEvent{
		Digit:     DTMFDigit(data[0] & 0x0f),
		Duration:  time.Duration(uint16(data[2])<<8|uint16(data[3])) * time.Second / 8000,
		Volume:    -int8(data[1] & 0x3f),
		Timestamp: packet.Timestamp,
	}

	if data[1]&0x80 != 0 {
		dr.active = false
		return true, nil
	}
	if !dr.active || dr.last != event.Digit || dr.lastTS != event.Timestamp {
		dr.active = true
		dr.last = event.Digit
		dr.lastTS = event.Timestamp
		if dr.onDigit != nil {
			dr.onDigit(event)
		}
	}
	return true, nil
}
