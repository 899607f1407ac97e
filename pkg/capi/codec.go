package capi

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Размеры сообщений CAPI
const (
	// HeaderSize фиксированный заголовок: длина, ApplID, команда, подкоманда, номер
	HeaderSize = 8
	// MinMessageSize заголовок плюс dword адреса (Controller/PLCI/NCCI)
	MinMessageSize = HeaderSize + 4
	// MaxMessageSize верхняя граница длины сообщения без данных DATA_B3
	MaxMessageSize = 2048
	// MaxParamsSize максимальная длина параметров после адресного dword
	MaxParamsSize = MaxMessageSize - MinMessageSize

	// maxShortStruct структуры длиннее кодируются как 0xff + word
	maxShortStruct = 254
)

var (
	// ErrLengthOverflow результат не помещается в сообщение или структуру
	ErrLengthOverflow = errors.New("capi: length overflow")
	// ErrShortBuffer данных меньше, чем требует формат
	ErrShortBuffer = errors.New("capi: short buffer")
	// ErrBadFormat неизвестный символ формата
	ErrBadFormat = errors.New("capi: bad format")
	// ErrUnbalanced непарные скобки вложенной структуры
	ErrUnbalanced = errors.New("capi: unbalanced struct brackets")
	// ErrArgCount число аргументов не совпадает с форматом
	ErrArgCount = errors.New("capi: argument count mismatch")
	// ErrArgType аргумент не подходит для символа формата
	ErrArgType = errors.New("capi: argument type mismatch")
)

// CodecError ошибка кодека с позицией в строке формата
type CodecError struct {
	Format string
	Pos    int
	Err    error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("%v (format %q at %d)", e.Err, e.Format, e.Pos)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Pack кодирует аргументы по строке формата.
//
// Символы формата:
//
//	b  1 байт
//	w  2 байта little-endian
//	d  4 байта little-endian
//	s  готовая структура []byte, первый байт длина, копируется как есть (nil = пустая)
//	a  строка ASCII, кодируется как структура с байтом длины
//	c  содержимое []byte, длина вычисляется (>254 байт: 0xff + word)
//	(  открыть вложенную структуру, байт длины дописывается на )
//	)  закрыть вложенную структуру
//
// Длина структуры всегда считает только следующие за ней байты.
func Pack(format string, args ...interface{}) ([]byte, error) {
	return packLimit(MaxParamsSize, format, args...)
}

func packLimit(limit int, format string, args ...interface{}) ([]byte, error) {
	e := encoder{buf: make([]byte, 0, 64), limit: limit}
	argi := 0
	next := func() (interface{}, error) {
		if argi >= len(args) {
			return nil, ErrArgCount
		}
		a := args[argi]
		argi++
		return a, nil
	}

	for pos := 0; pos < len(format); pos++ {
		var err error
		switch f := format[pos]; f {
		case 'b', 'w', 'd':
			var a interface{}
			if a, err = next(); err == nil {
				err = e.putNumber(f, a)
			}
		case 's':
			var a interface{}
			if a, err = next(); err == nil {
				err = e.putRawStruct(a)
			}
		case 'a':
			var a interface{}
			if a, err = next(); err == nil {
				s, ok := a.(string)
				if !ok {
					err = ErrArgType
					break
				}
				if len(s) > maxShortStruct {
					err = ErrLengthOverflow
					break
				}
				if err = e.put(byte(len(s))); err == nil {
					err = e.put([]byte(s)...)
				}
			}
		case 'c':
			var a interface{}
			if a, err = next(); err == nil {
				b, ok := a.([]byte)
				if !ok && a != nil {
					err = ErrArgType
					break
				}
				err = e.putStruct(b)
			}
		case '(':
			e.opens = append(e.opens, len(e.buf))
			err = e.put(0)
		case ')':
			err = e.close()
		case ' ':
		default:
			err = ErrBadFormat
		}
		if err != nil {
			return nil, &CodecError{Format: format, Pos: pos, Err: err}
		}
	}

	if len(e.opens) != 0 {
		return nil, &CodecError{Format: format, Pos: len(format), Err: ErrUnbalanced}
	}
	if argi != len(args) {
		return nil, &CodecError{Format: format, Pos: len(format), Err: ErrArgCount}
	}
	return e.buf, nil
}

type encoder struct {
	buf   []byte
	limit int
	opens []int
}

func (e *encoder) put(b ...byte) error {
	if len(e.buf)+len(b) > e.limit {
		return ErrLengthOverflow
	}
	e.buf = append(e.buf, b...)
	return nil
}

func (e *encoder) putNumber(f byte, a interface{}) error {
	v, ok := toUint64(a)
	if !ok {
		return ErrArgType
	}
	switch f {
	case 'b':
		if v > 0xff {
			return ErrLengthOverflow
		}
		return e.put(byte(v))
	case 'w':
		if v > 0xffff {
			return ErrLengthOverflow
		}
		return e.put(byte(v), byte(v>>8))
	default:
		if v > 0xffffffff {
			return ErrLengthOverflow
		}
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(v))
		return e.put(tmp[:]...)
	}
}

func (e *encoder) putRawStruct(a interface{}) error {
	if a == nil {
		return e.put(0)
	}
	s, ok := a.([]byte)
	if !ok {
		return ErrArgType
	}
	if len(s) == 0 {
		return e.put(0)
	}
	n := int(s[0]) + 1
	if s[0] == 0xff {
		if len(s) < 3 {
			return ErrShortBuffer
		}
		n = int(binary.LittleEndian.Uint16(s[1:3])) + 3
	}
	if len(s) < n {
		return ErrShortBuffer
	}
	return e.put(s[:n]...)
}

func (e *encoder) putStruct(b []byte) error {
	if len(b) > maxShortStruct {
		if len(b) > 0xffff {
			return ErrLengthOverflow
		}
		if err := e.put(0xff, byte(len(b)), byte(len(b)>>8)); err != nil {
			return err
		}
		return e.put(b...)
	}
	if err := e.put(byte(len(b))); err != nil {
		return err
	}
	return e.put(b...)
}

func (e *encoder) close() error {
	if len(e.opens) == 0 {
		return ErrUnbalanced
	}
	off := e.opens[len(e.opens)-1]
	e.opens = e.opens[:len(e.opens)-1]
	n := len(e.buf) - off - 1
	if n > maxShortStruct {
		return ErrLengthOverflow
	}
	e.buf[off] = byte(n)
	return nil
}

func toUint64(a interface{}) (uint64, bool) {
	switch v := a.(type) {
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case uint:
		return uint64(v), true
	case Info:
		return uint64(v), true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int8:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int16:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int32:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Unpack разбирает данные по строке формата, зеркально Pack.
// Возвращаемые значения: b uint8, w uint16, d uint32, s []byte (со своим
// префиксом длины), a string, c []byte (содержимое). Скобки значений не дают,
// но проверяют длину вложенной структуры.
func Unpack(format string, data []byte) ([]interface{}, error) {
	r := NewReader(data)
	out := make([]interface{}, 0, len(format))
	for pos := 0; pos < len(format); pos++ {
		switch format[pos] {
		case 'b':
			out = append(out, r.Byte())
		case 'w':
			out = append(out, r.Word())
		case 'd':
			out = append(out, r.Dword())
		case 's':
			out = append(out, r.RawStruct())
		case 'a':
			out = append(out, string(r.Struct()))
		case 'c':
			out = append(out, r.Struct())
		case '(':
			r.Open()
		case ')':
			r.Close()
		case ' ':
		default:
			return nil, &CodecError{Format: format, Pos: pos, Err: ErrBadFormat}
		}
		if err := r.Err(); err != nil {
			return nil, &CodecError{Format: format, Pos: pos, Err: err}
		}
	}
	if r.Depth() != 0 {
		return nil, &CodecError{Format: format, Pos: len(format), Err: ErrUnbalanced}
	}
	return out, nil
}

// Reader последовательное чтение параметров сообщения.
// Первая ошибка запоминается, последующие чтения возвращают нули.
type Reader struct {
	data []byte
	pos  int
	ends []int
	err  error
}

// NewReader создает Reader над data
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err первая ошибка чтения
func (r *Reader) Err() error { return r.err }

// Depth текущая глубина вложенных структур
func (r *Reader) Depth() int { return len(r.ends) }

// Remaining число непрочитанных байт в текущей структуре
func (r *Reader) Remaining() int {
	return r.limit() - r.pos
}

func (r *Reader) limit() int {
	if len(r.ends) > 0 {
		return r.ends[len(r.ends)-1]
	}
	return len(r.data)
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > r.limit() {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Byte читает 1 байт
func (r *Reader) Byte() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Word читает 2 байта little-endian
func (r *Reader) Word() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// Dword читает 4 байта little-endian
func (r *Reader) Dword() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) structLen() (prefix, n int) {
	l := r.Byte()
	if r.err != nil {
		return 0, 0
	}
	if l == 0xff {
		return 3, int(r.Word())
	}
	return 1, int(l)
}

// Struct читает структуру и возвращает ее содержимое без префикса длины
func (r *Reader) Struct() []byte {
	_, n := r.structLen()
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// RawStruct читает структуру вместе с префиксом длины
func (r *Reader) RawStruct() []byte {
	start := r.pos
	_, n := r.structLen()
	if r.take(n) == nil && n > 0 {
		return nil
	}
	if r.err != nil {
		return nil
	}
	out := make([]byte, r.pos-start)
	copy(out, r.data[start:r.pos])
	return out
}

// Open входит во вложенную структуру
func (r *Reader) Open() {
	n := int(r.Byte())
	if r.err != nil {
		return
	}
	end := r.pos + n
	if end > r.limit() {
		r.err = ErrShortBuffer
		return
	}
	r.ends = append(r.ends, end)
}

// Close выходит из вложенной структуры, пропуская непрочитанный хвост
func (r *Reader) Close() {
	if r.err != nil {
		return
	}
	if len(r.ends) == 0 {
		r.err = ErrUnbalanced
		return
	}
	end := r.ends[len(r.ends)-1]
	r.ends = r.ends[:len(r.ends)-1]
	r.pos = end
}

// Optional true если в текущей структуре остались данные
func (r *Reader) Optional() bool {
	return r.err == nil && r.Remaining() > 0
}
