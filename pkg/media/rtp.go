package media

import (
	"strconv"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
)

// RTPProfile параметры RTP для линий, где контроллер передает RTP
// вместо прозрачного голоса
type RTPProfile struct {
	Law             Law
	Port            int
	DTMFPayloadType uint8
	PacketTime      int // мс
}

// DefaultRTPProfile G.711 20ms с RFC 4733
func DefaultRTPProfile(law Law) RTPProfile {
	return RTPProfile{Law: law, DTMFPayloadType: 101, PacketTime: 20}
}

// PayloadType статический тип payload для закона
func (p RTPProfile) PayloadType() uint8 {
	if p.Law == ULaw {
		return 0
	}
	return 8
}

// MediaDescription описание медиа для обмена с RTP частью АТС
func (p RTPProfile) MediaDescription() *sdp.MediaDescription {
	name := "PCMA"
	if p.Law == ULaw {
		name = "PCMU"
	}
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "audio",
			Port:   sdp.RangedPort{Value: p.Port},
			Protos: []string{"RTP", "AVP"},
		},
	}
	md = md.WithCodec(p.PayloadType(), name, 8000, 0, "")
	if p.DTMFPayloadType != 0 {
		md = md.WithCodec(p.DTMFPayloadType, "telephone-event", 8000, 0, "0-15")
	}
	if p.PacketTime > 0 {
		md = md.WithValueAttribute("ptime", strconv.Itoa(p.PacketTime))
	}
	return md.WithPropertyAttribute("sendrecv")
}

// VoicePacket упаковывает голосовой блок в RTP пакет профиля
func (p RTPProfile) VoicePacket(seq uint16, ts, ssrc uint32, payload []byte) ([]byte, error) {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    p.PayloadType(),
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
	return pkt.Marshal()
}
