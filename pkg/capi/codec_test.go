package capi

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackPrimitives(t *testing.T) {
	b, err := Pack("bwd", 0x01, 0x0203, 0x04050607)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x03, 0x02, 0x07, 0x06, 0x05, 0x04}, b, "числа должны быть little-endian")
}

func TestPackStructs(t *testing.T) {
	tests := []struct {
		name   string
		format string
		args   []interface{}
		want   []byte
	}{
		{"пустая c", "c", []interface{}{nil}, []byte{0x00}},
		{"c с данными", "c", []interface{}{[]byte{0xaa, 0xbb}}, []byte{0x02, 0xaa, 0xbb}},
		{"a строка", "a", []interface{}{"12"}, []byte{0x02, '1', '2'}},
		{"s копируется как есть", "s", []interface{}{[]byte{0x02, 0x10, 0x20, 0x99}}, []byte{0x02, 0x10, 0x20}},
		{"s nil", "s", []interface{}{nil}, []byte{0x00}},
		{"пустая вложенная", "()", nil, []byte{0x00}},
		{"вложенная с полями", "w(bw)", []interface{}{1, 2, 3}, []byte{0x01, 0x00, 0x03, 0x02, 0x03, 0x00}},
		{"двойная вложенность", "(b(w))", []interface{}{7, 0x0102}, []byte{0x04, 0x07, 0x02, 0x02, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Pack(tt.format, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b)
		})
	}
}

func TestPackLongStruct(t *testing.T) {
	content := make([]byte, 300)
	b, err := Pack("c", content)
	require.NoError(t, err)
	require.Len(t, b, 303)
	assert.Equal(t, []byte{0xff, 0x2c, 0x01}, b[:3], "длинная структура кодируется как 0xff + word")

	vals, err := Unpack("c", b)
	require.NoError(t, err)
	assert.Len(t, vals[0].([]byte), 300)
}

func TestPackErrors(t *testing.T) {
	tests := []struct {
		name   string
		format string
		args   []interface{}
		want   error
	}{
		{"переполнение сообщения", "c", []interface{}{make([]byte, MaxParamsSize)}, ErrLengthOverflow},
		{"переполнение вложенной", "(c)", []interface{}{make([]byte, 300)}, ErrLengthOverflow},
		{"слишком длинная строка a", "a", []interface{}{strings.Repeat("1", 255)}, ErrLengthOverflow},
		{"байт вне диапазона", "b", []interface{}{256}, ErrLengthOverflow},
		{"неизвестный символ", "x", nil, ErrBadFormat},
		{"незакрытая скобка", "(w", []interface{}{1}, ErrUnbalanced},
		{"лишняя скобка", "w)", []interface{}{1}, ErrUnbalanced},
		{"мало аргументов", "ww", []interface{}{1}, ErrArgCount},
		{"много аргументов", "w", []interface{}{1, 2}, ErrArgCount},
		{"тип аргумента", "w", []interface{}{"1"}, ErrArgType},
		{"короткая s", "s", []interface{}{[]byte{0x05, 0x01}}, ErrShortBuffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Pack(tt.format, tt.args...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "ожидали %v, получили %v", tt.want, err)

			var ce *CodecError
			assert.True(t, errors.As(err, &ce), "ошибка должна быть CodecError")
		})
	}
}

func TestRoundTripNestedDepths(t *testing.T) {
	for depth := 1; depth <= 16; depth++ {
		format := strings.Repeat("(", depth) + "wbd" + strings.Repeat(")", depth)
		b, err := Pack(format, 0xbeef, 0x42, 0xdeadbeef)
		require.NoError(t, err, "глубина %d", depth)

		// байты длины: внешняя структура включает все внутренние префиксы
		for j := 0; j < depth; j++ {
			assert.Equal(t, byte(7+depth-1-j), b[j], "длина уровня %d при глубине %d", j, depth)
		}

		vals, err := Unpack(format, b)
		require.NoError(t, err, "глубина %d", depth)
		assert.Equal(t, []interface{}{uint16(0xbeef), uint8(0x42), uint32(0xdeadbeef)}, vals)
	}
}

func TestRoundTripAllMarkers(t *testing.T) {
	raw := []byte{0x03, 0x01, 0x02, 0x03}
	format := "bwd(sac(w))c"
	b, err := Pack(format, 1, 2, 3, raw, "4711", []byte{9, 9}, 5, []byte{})
	require.NoError(t, err)

	vals, err := Unpack(format, b)
	require.NoError(t, err)
	require.Len(t, vals, 8)
	assert.Equal(t, uint8(1), vals[0])
	assert.Equal(t, uint16(2), vals[1])
	assert.Equal(t, uint32(3), vals[2])
	assert.Equal(t, raw, vals[3])
	assert.Equal(t, "4711", vals[4])
	assert.Equal(t, []byte{9, 9}, vals[5])
	assert.Equal(t, uint16(5), vals[6])
	assert.Empty(t, vals[7])
}

func TestUnpackShortBuffer(t *testing.T) {
	_, err := Unpack("wd", []byte{0x01, 0x00, 0x02})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShortBuffer)

	// длина вложенной структуры больше доступных данных
	_, err = Unpack("(w)", []byte{0x05, 0x01, 0x00})
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestUnpackSkipsUnknownTail(t *testing.T) {
	// вложенная структура длиннее, чем ожидает формат: хвост пропускается
	vals, err := Unpack("(w)b", []byte{0x04, 0x01, 0x00, 0xee, 0xee, 0x07})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{uint16(1), uint8(7)}, vals)
}

func TestConnectReqRoundTrip(t *testing.T) {
	p := ConnectReqParams{
		CIP:           CIPTelephony,
		CalledNumber:  CalledPartyNumber("4711"),
		CallingNumber: CallingPartyNumber("0815", PresAllowed),
		BProtocol:     TransparentVoice(),
		Additional:    AdditionalInfo{SendingComplete: SendingCompleteIE},
	}
	b, err := p.Pack()
	require.NoError(t, err)

	vals, err := Unpack(connectReqFormat, b)
	require.NoError(t, err)
	require.Len(t, vals, 19)
	assert.Equal(t, CIPTelephony, vals[0])
	assert.Equal(t, "4711", ParseCalledPartyNumber(vals[1].([]byte)).Digits)
	assert.Equal(t, "0815", ParseCallingPartyNumber(vals[2].([]byte)).Digits)
	assert.Equal(t, B1Transparent64k, vals[5])
	assert.Equal(t, SendingCompleteIE, vals[18])
}

func TestFaxG3Protocol(t *testing.T) {
	bp, err := FaxG3(true, "+49 30 1234", "ISDN")
	require.NoError(t, err)
	assert.Equal(t, B3FaxG3, bp.B3)

	b, err := bp.Pack()
	require.NoError(t, err)
	r := NewReader(b)
	r.Open()
	assert.Equal(t, B1FaxG3, r.Word())
	assert.Equal(t, B2FaxG3, r.Word())
	assert.Equal(t, B3FaxG3, r.Word())
	assert.Empty(t, r.Struct())
	assert.Empty(t, r.Struct())
	cfg := NewReader(r.Struct())
	r.Close()
	require.NoError(t, r.Err())

	assert.Equal(t, FaxResolutionHigh, cfg.Word())
	assert.Equal(t, FaxFormatSFF, cfg.Word())
	assert.Equal(t, "+49 30 1234", string(cfg.Struct()))
	assert.Equal(t, "ISDN", string(cfg.Struct()))
}

func TestDecodeFaxNCPI(t *testing.T) {
	tests := []struct {
		name    string
		ncpi    []byte
		want    FaxNCPI
		wantErr bool
	}{
		{
			name: "с идентификатором станции",
			ncpi: mustPack(t, "wwwwa", uint16(14400), uint16(1), uint16(0), uint16(3), " 4930555 "),
			want: FaxNCPI{Rate: 14400, Resolution: 1, Pages: 3, RemoteID: "4930555"},
		},
		{
			name: "без идентификатора",
			ncpi: mustPack(t, "wwww", uint16(9600), uint16(0), uint16(0), uint16(1)),
			want: FaxNCPI{Rate: 9600, Pages: 1},
		},
		{
			name:    "обрезанная структура",
			ncpi:    []byte{0x80, 0x25},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := DecodeFaxNCPI(tt.ncpi)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func mustPack(t *testing.T, format string, args ...interface{}) []byte {
	t.Helper()
	b, err := Pack(format, args...)
	require.NoError(t, err)
	return b
}
