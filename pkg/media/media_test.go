package media

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/isdn_capi/pkg/pbx"
)

func TestReverseBits(t *testing.T) {
	buf := []byte{0x01, 0x80, 0xf0, 0x00, 0xff}
	ReverseBits(buf)
	assert.Equal(t, []byte{0x80, 0x01, 0x0f, 0x00, 0xff}, buf)

	for i := 0; i < 256; i++ {
		b := []byte{byte(i)}
		ReverseBits(b)
		ReverseBits(b)
		assert.Equal(t, byte(i), b[0])
	}
}

func TestLawRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		assert.Equal(t, b, ALaw.FromLinear(ALaw.ToLinear(b)), "A-law 0x%02x", b)
		if b == 0x7f {
			// отрицательный ноль mu-law кодируется как положительный
			continue
		}
		assert.Equal(t, b, ULaw.FromLinear(ULaw.ToLinear(b)), "mu-law 0x%02x", b)
	}
}

func TestLawSilence(t *testing.T) {
	assert.Equal(t, byte(0xd5), ALaw.Silence())
	assert.Equal(t, byte(0xff), ULaw.Silence())
	assert.Equal(t, int16(0), ULaw.ToLinear(0xff))
	assert.Greater(t, ALaw.ToLinear(0xaa), int16(1000))
}

func TestParseLaw(t *testing.T) {
	l, err := ParseLaw("ulaw")
	require.NoError(t, err)
	assert.Equal(t, ULaw, l)

	_, err = ParseLaw("g722")
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrorCodeLawUnsupported))
}

func TestAdapterVoiceRoundTrip(t *testing.T) {
	a := NewAdapter(DefaultAdapterConfig())
	voice := []byte{0x10, 0x20, 0x30, 0xd5}

	wire, err := a.ToCAPI(pbx.Frame{Kind: pbx.FrameVoice, Payload: voice})
	require.NoError(t, err)
	assert.NotEqual(t, voice, wire, "на линии порядок бит обращен")

	frames, err := a.FromCAPI(wire)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, pbx.FrameVoice, frames[0].Kind)
	assert.Equal(t, voice, frames[0].Payload)
	assert.Equal(t, 4, frames[0].Samples)

	st := a.Statistics()
	assert.Equal(t, uint64(1), st.FramesIn)
	assert.Equal(t, uint64(1), st.FramesOut)
}

func TestAdapterEchoSquelch(t *testing.T) {
	cfg := DefaultAdapterConfig()
	cfg.EchoSquelch = true
	a := NewAdapter(cfg)

	loud := make([]byte, 160)
	for i := range loud {
		loud[i] = ALaw.FromLinear(8000)
	}
	for i := 0; i < echoTxCount; i++ {
		_, err := a.ToCAPI(pbx.Frame{Kind: pbx.FrameVoice, Payload: loud})
		require.NoError(t, err)
	}

	quiet := make([]byte, 160)
	for i := range quiet {
		quiet[i] = ALaw.FromLinear(500)
	}
	wire := append([]byte(nil), quiet...)
	ReverseBits(wire)

	frames, err := a.FromCAPI(wire)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, strings.Repeat(string([]byte{0xd5}), 160), string(frames[0].Payload), "тихий прием при громкой передаче глушится")
	assert.Equal(t, uint64(1), a.Statistics().Squelched)

	// громкий прием проходит
	wire = append([]byte(nil), loud...)
	ReverseBits(wire)
	frames, err = a.FromCAPI(wire)
	require.NoError(t, err)
	assert.Equal(t, loud, frames[0].Payload)
}

func TestAdapterRTPPassthrough(t *testing.T) {
	cfg := DefaultAdapterConfig()
	cfg.RTP = true
	a := NewAdapter(cfg)

	profile := DefaultRTPProfile(ALaw)
	raw, err := profile.VoicePacket(1, 160, 0x1234, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	frames, err := a.FromCAPI(raw)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, pbx.FrameRTP, frames[0].Kind)
	assert.Equal(t, raw, frames[0].Payload)

	out, err := a.ToCAPI(frames[0])
	require.NoError(t, err)
	assert.Equal(t, raw, out, "RTP проходит без изменений")

	_, err = a.FromCAPI([]byte{0x00})
	assert.True(t, HasErrorCode(err, ErrorCodeRTPInvalid))
}

func TestAdapterRTPDTMF(t *testing.T) {
	cfg := DefaultAdapterConfig()
	cfg.RTP = true
	a := NewAdapter(cfg)

	sender := NewDTMFSender(101, 0x55)
	pkts, err := sender.GeneratePackets(DTMFEvent{Digit: DTMFPound, Duration: 100 * time.Millisecond, Timestamp: 800})
	require.NoError(t, err)
	require.Len(t, pkts, 6)

	var digits []rune
	for _, p := range pkts {
		raw, err := p.Marshal()
		require.NoError(t, err)
		frames, err := a.FromCAPI(raw)
		require.NoError(t, err)
		for _, f := range frames {
			if f.Kind == pbx.FrameDTMF {
				digits = append(digits, f.Digit)
			}
		}
	}
	assert.Equal(t, []rune{'#'}, digits, "одна цифра на событие")
	assert.Equal(t, uint64(1), a.Statistics().DTMFReceived)
}

func TestAdapterDTMFBlocks(t *testing.T) {
	cfg := DefaultAdapterConfig()
	cfg.RTP = true
	a := NewAdapter(cfg)

	voice := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 8, SequenceNumber: 10, Timestamp: 1000, SSRC: 0x1234},
		Payload: make([]byte, 160),
	}
	raw, err := voice.Marshal()
	require.NoError(t, err)
	_, err = a.ToCAPI(pbx.Frame{Kind: pbx.FrameRTP, Payload: raw})
	require.NoError(t, err)

	digits, err := ParseDTMFString("1#")
	require.NoError(t, err)
	blocks, err := a.DTMFBlocks(digits)
	require.NoError(t, err)
	require.Len(t, blocks, 12, "шесть пакетов на цифру")

	var first rtp.Packet
	require.NoError(t, first.Unmarshal(blocks[0]))
	assert.Equal(t, uint32(0x1234), first.SSRC, "событие продолжает исходящий поток")
	assert.Equal(t, uint16(11), first.SequenceNumber)
	assert.Equal(t, uint32(1160), first.Timestamp)
	assert.Equal(t, uint8(101), first.PayloadType)
	assert.True(t, first.Marker)

	// приемник на другой стороне видит обе цифры
	rx := NewAdapter(cfg)
	var got []rune
	for _, b := range blocks {
		frames, err := rx.FromCAPI(b)
		require.NoError(t, err)
		for _, f := range frames {
			got = append(got, f.Digit)
		}
	}
	assert.Equal(t, []rune{'1', '#'}, got)
	assert.Equal(t, uint64(2), a.Statistics().DTMFSent)

	_, err = NewAdapter(DefaultAdapterConfig()).DTMFBlocks(digits)
	assert.True(t, HasErrorCode(err, ErrorCodeRTPInvalid), "без RTP события не формируются")
}

func TestParseDTMF(t *testing.T) {
	digits, err := ParseDTMFString("19*#ad")
	require.NoError(t, err)
	require.Len(t, digits, 6)
	assert.Equal(t, DTMFStar, digits[2])
	assert.Equal(t, DTMFA, digits[4])
	assert.Equal(t, DTMFD, digits[5])
	assert.Equal(t, '#', digits[3].Rune())

	_, err = ParseDTMFString("12x")
	assert.True(t, HasErrorCode(err, ErrorCodeDTMFInvalidDigit))

	_, err = NewDTMFSender(101, 1).GeneratePackets(DTMFEvent{Digit: DTMF0})
	assert.True(t, HasErrorCode(err, ErrorCodeDTMFDurationInvalid))
}

func TestDTMFReceiverIgnoresOtherPayload(t *testing.T) {
	r := NewDTMFReceiver(101)
	ok, err := r.ProcessPacket(&rtp.Packet{Header: rtp.Header{PayloadType: 8}, Payload: []byte{1, 2}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRTPProfileMediaDescription(t *testing.T) {
	p := DefaultRTPProfile(ULaw)
	p.Port = 40000
	md := p.MediaDescription()

	assert.Equal(t, "audio", md.MediaName.Media)
	assert.Equal(t, 40000, md.MediaName.Port.Value)
	assert.Equal(t, []string{"0", "101"}, md.MediaName.Formats)

	v, ok := md.Attribute("rtpmap")
	require.True(t, ok)
	assert.Equal(t, "0 PCMU/8000", v)
	_, ok = md.Attribute("sendrecv")
	assert.True(t, ok)
	v, _ = md.Attribute("ptime")
	assert.Equal(t, "20", v)
}

func TestPipe(t *testing.T) {
	p := NewPipe(2)
	assert.True(t, p.Write(pbx.Frame{Samples: 1}))
	assert.True(t, p.Write(pbx.Frame{Samples: 2}))
	assert.False(t, p.Write(pbx.Frame{Samples: 3}), "очередь полна")
	assert.Equal(t, uint64(1), p.Dropped())

	f, err := p.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.Samples)

	p.Close()
	assert.False(t, p.Write(pbx.Frame{}))
	f, err = p.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.Samples, "остаток дочитывается после закрытия")
	_, err = p.Read(context.Background())
	assert.ErrorIs(t, err, ErrPipeClosed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewPipe(1).Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
