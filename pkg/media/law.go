package media

import "fmt"

// Law закон компандирования G.711
type Law int

const (
	ALaw Law = iota
	ULaw
)

func (l Law) String() string {
	if l == ULaw {
		return "ulaw"
	}
	return "alaw"
}

// ParseLaw разбирает имя закона
func ParseLaw(s string) (Law, error) {
	switch s {
	case "alaw", "a-law", "":
		return ALaw, nil
	case "ulaw", "mulaw", "u-law":
		return ULaw, nil
	}
	return ALaw, NewMediaError(ErrorCodeLawUnsupported, "", fmt.Sprintf("неизвестный закон %q", s))
}

// reversed таблица обращения порядка бит: на ISDN линии октеты идут
// младшим битом вперед
var reversed [256]byte

func init() {
	for i := 0; i < 256; i++ {
		var r byte
		for b := 0; b < 8; b++ {
			if i&(1<<b) != 0 {
				r |= 0x80 >> b
			}
		}
		reversed[i] = r
	}
}

// ReverseBits обращает порядок бит в каждом октете на месте
func ReverseBits(buf []byte) {
	for i, b := range buf {
		buf[i] = reversed[b]
	}
}

// ToLinear декодирует отсчет в 16-битный линейный
func (l Law) ToLinear(b byte) int16 {
	if l == ULaw {
		return ulawToLinear(b)
	}
	return alawToLinear(b)
}

// FromLinear кодирует линейный отсчет
func (l Law) FromLinear(v int16) byte {
	if l == ULaw {
		return linearToULaw(v)
	}
	return linearToALaw(v)
}

// Silence октет тишины
func (l Law) Silence() byte {
	return l.FromLinear(0)
}

func alawToLinear(a byte) int16 {
	a ^= 0x55
	t := int32(a&0x0f) << 4
	seg := (a & 0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

var alawSegEnd = [8]int32{0x1f, 0x3f, 0x7f, 0xff, 0x1ff, 0x3ff, 0x7ff, 0xfff}

func linearToALaw(pcm int16) byte {
	v := int32(pcm) >> 3
	mask := byte(0xd5)
	if v < 0 {
		mask = 0x55
		v = -v - 1
	}
	seg := segment(v, alawSegEnd)
	if seg >= 8 {
		return 0x7f ^ mask
	}
	aval := byte(seg) << 4
	if seg < 2 {
		aval |= byte(v>>1) & 0x0f
	} else {
		aval |= byte(v>>uint(seg)) & 0x0f
	}
	return aval ^ mask
}

const (
	ulawBias = 0x84
	ulawClip = 8159
)

func ulawToLinear(u byte) int16 {
	u = ^u
	t := (int32(u&0x0f) << 3) + ulawBias
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(ulawBias - t)
	}
	return int16(t - ulawBias)
}

var ulawSegEnd = [8]int32{0x3f, 0x7f, 0xff, 0x1ff, 0x3ff, 0x7ff, 0xfff, 0x1fff}

func linearToULaw(pcm int16) byte {
	v := int32(pcm) >> 2
	mask := byte(0xff)
	if v < 0 {
		v = -v
		mask = 0x7f
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias >> 2
	seg := segment(v, ulawSegEnd)
	if seg >= 8 {
		return 0x7f ^ mask
	}
	uval := byte(seg)<<4 | byte(v>>uint(seg+1))&0x0f
	return uval ^ mask
}

func segment(v int32, table [8]int32) int {
	for i, end := range table {
		if v <= end {
			return i
		}
	}
	return 8
}
