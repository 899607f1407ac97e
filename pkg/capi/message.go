package capi

import (
	"encoding/binary"
	"fmt"
)

// Message сообщение CAPI в разобранном виде.
// Params содержит параметры после адресного dword, Data полезную нагрузку
// DATA_B3, которая на проводе идет сразу за сообщением.
type Message struct {
	AppID   uint16
	Command Command
	Sub     Subcommand
	Number  uint16
	ID      uint32
	Params  []byte
	Data    []byte
}

// Kind возвращает упакованную пару command/subcommand
func (m *Message) Kind() Kind {
	return NewKind(m.Command, m.Sub)
}

// Controller номер контроллера из адресного dword
func (m *Message) Controller() uint8 {
	return ControllerOf(m.ID)
}

// Len полная длина сообщения без данных DATA_B3
func (m *Message) Len() int {
	return MinMessageSize + len(m.Params)
}

func (m *Message) String() string {
	return fmt.Sprintf("%s id=0x%08x num=%d app=%d len=%d", m.Kind(), m.ID, m.Number, m.AppID, m.Len())
}

// Marshal сериализует сообщение в формат провода
func (m *Message) Marshal() ([]byte, error) {
	total := m.Len()
	if total > MaxMessageSize {
		return nil, ErrLengthOverflow
	}
	buf := make([]byte, total, total+len(m.Data))
	binary.LittleEndian.PutUint16(buf[0:], uint16(total))
	binary.LittleEndian.PutUint16(buf[2:], m.AppID)
	buf[4] = byte(m.Command)
	buf[5] = byte(m.Sub)
	binary.LittleEndian.PutUint16(buf[6:], m.Number)
	binary.LittleEndian.PutUint32(buf[8:], m.ID)
	copy(buf[MinMessageSize:], m.Params)
	return append(buf, m.Data...), nil
}

// Unmarshal разбирает сообщение с провода. Байты после заявленной длины
// считаются данными DATA_B3.
func Unmarshal(b []byte) (*Message, error) {
	if len(b) < MinMessageSize {
		return nil, ErrShortBuffer
	}
	total := int(binary.LittleEndian.Uint16(b[0:]))
	if total < MinMessageSize || total > len(b) {
		return nil, fmt.Errorf("capi: bad message length %d of %d: %w", total, len(b), ErrShortBuffer)
	}
	m := &Message{
		AppID:   binary.LittleEndian.Uint16(b[2:]),
		Command: Command(b[4]),
		Sub:     Subcommand(b[5]),
		Number:  binary.LittleEndian.Uint16(b[6:]),
		ID:      binary.LittleEndian.Uint32(b[8:]),
	}
	m.Params = append([]byte(nil), b[MinMessageSize:total]...)
	if len(b) > total {
		m.Data = append([]byte(nil), b[total:]...)
	}
	return m, nil
}

// Encode кодирует сообщение kind с адресом id и номером корреляции number
// по строке формата (см. Pack) и возвращает готовый буфер провода.
func Encode(kind Kind, appID, number uint16, id uint32, format string, args ...interface{}) ([]byte, error) {
	m, err := NewMessage(kind, appID, number, id, format, args...)
	if err != nil {
		return nil, err
	}
	return m.Marshal()
}

// NewMessage собирает Message с параметрами по строке формата
func NewMessage(kind Kind, appID, number uint16, id uint32, format string, args ...interface{}) (*Message, error) {
	params, err := Pack(format, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	return &Message{
		AppID:   appID,
		Command: kind.Command(),
		Sub:     kind.Sub(),
		Number:  number,
		ID:      id,
		Params:  params,
	}, nil
}

// ControllerOf извлекает номер контроллера из Controller/PLCI/NCCI
func ControllerOf(id uint32) uint8 {
	return uint8(id & 0x7f)
}

// PLCIOf извлекает PLCI из NCCI
func PLCIOf(id uint32) uint32 {
	return id & 0xffff
}

// IsControllerID адрес указывает только контроллер (без PLCI)
func IsControllerID(id uint32) bool {
	return id&0xffffff80 == 0
}
