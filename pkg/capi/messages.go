package capi

import (
	"fmt"
	"strings"
)

// BProtocol параметры B-канала (B1/B2/B3 и их конфигурации)
type BProtocol struct {
	B1, B2, B3                   uint16
	B1Config, B2Config, B3Config []byte
}

// TransparentVoice прозрачный 64 кбит/с голосовой канал
func TransparentVoice() BProtocol {
	return BProtocol{B1: B1Transparent64k, B2: B2Transparent, B3: B3Transparent}
}

// RTPVoice B-протокол RTP для контроллеров с VoIP
func RTPVoice() BProtocol {
	return BProtocol{B1: B1RTP, B2: B2RTP, B3: B3RTP}
}

// FaxG3 B-протокол T.30 с B3 configuration: разрешение, формат SFF,
// идентификатор станции и заголовок страницы
func FaxG3(highRes bool, stationID, headline string) (BProtocol, error) {
	res := FaxResolutionStandard
	if highRes {
		res = FaxResolutionHigh
	}
	cfg, err := Pack("wwaa", res, FaxFormatSFF, stationID, headline)
	if err != nil {
		return BProtocol{}, err
	}
	return BProtocol{B1: B1FaxG3, B2: B2FaxG3, B3: B3FaxG3, B3Config: cfg}, nil
}

// Pack кодирует B protocol как структуру для SELECT_B_PROTOCOL_REQ
func (bp BProtocol) Pack() ([]byte, error) {
	return Pack("(wwwccc)", bp.args()...)
}

func (bp BProtocol) args() []interface{} {
	return []interface{}{bp.B1, bp.B2, bp.B3, bp.B1Config, bp.B2Config, bp.B3Config}
}

// AdditionalInfo структура Additional Info
type AdditionalInfo struct {
	BChannel        []byte
	Keypad          []byte
	UserUser        []byte
	Facility        []byte
	SendingComplete []byte
}

func (ai AdditionalInfo) args() []interface{} {
	return []interface{}{ai.BChannel, ai.Keypad, ai.UserUser, ai.Facility, ai.SendingComplete}
}

// Bytes содержимое структуры Additional Info
func (ai AdditionalInfo) Bytes() []byte {
	b, _ := Pack("ccccc", ai.args()...)
	return b
}

// ParseAdditionalInfo разбирает содержимое Additional Info; отсутствующие поля пустые
func ParseAdditionalInfo(b []byte) AdditionalInfo {
	var ai AdditionalInfo
	r := NewReader(b)
	fields := []*[]byte{&ai.BChannel, &ai.Keypad, &ai.UserUser, &ai.Facility, &ai.SendingComplete}
	for _, f := range fields {
		if !r.Optional() {
			break
		}
		*f = r.Struct()
	}
	return ai
}

// SendingCompleteIE элемент "sending complete" для Additional Info
var SendingCompleteIE = []byte{0x01, 0x00}

// ConnectReqParams CONNECT_REQ (адрес: контроллер)
type ConnectReqParams struct {
	CIP               uint16
	CalledNumber      []byte
	CallingNumber     []byte
	CalledSubaddress  []byte
	CallingSubaddress []byte
	BProtocol         BProtocol
	BC, LLC, HLC      []byte
	Additional        AdditionalInfo
}

const connectReqFormat = "wcccc(wwwccc)ccc(ccccc)"

// Pack кодирует параметры
func (p ConnectReqParams) Pack() ([]byte, error) {
	args := []interface{}{p.CIP, p.CalledNumber, p.CallingNumber, p.CalledSubaddress, p.CallingSubaddress}
	args = append(args, p.BProtocol.args()...)
	args = append(args, p.BC, p.LLC, p.HLC)
	args = append(args, p.Additional.args()...)
	return Pack(connectReqFormat, args...)
}

// ConnectIndParams CONNECT_IND (адрес: PLCI)
type ConnectIndParams struct {
	CIP               uint16
	CalledNumber      []byte
	CallingNumber     []byte
	CalledSubaddress  []byte
	CallingSubaddress []byte
	BC, LLC, HLC      []byte
	Additional        AdditionalInfo
}

// DecodeConnectInd разбирает CONNECT_IND
func DecodeConnectInd(m *Message) (ConnectIndParams, error) {
	var p ConnectIndParams
	r := NewReader(m.Params)
	p.CIP = r.Word()
	p.CalledNumber = r.Struct()
	p.CallingNumber = r.Struct()
	p.CalledSubaddress = r.Struct()
	p.CallingSubaddress = r.Struct()
	p.BC = r.Struct()
	p.LLC = r.Struct()
	p.HLC = r.Struct()
	if r.Optional() {
		p.Additional = ParseAdditionalInfo(r.Struct())
	}
	return p, wrapDecode(m, r)
}

// ConnectRespParams CONNECT_RESP
type ConnectRespParams struct {
	Reject              uint16
	BProtocol           BProtocol
	ConnectedNumber     []byte
	ConnectedSubaddress []byte
	LLC                 []byte
	Additional          AdditionalInfo
}

// Pack кодирует параметры
func (p ConnectRespParams) Pack() ([]byte, error) {
	args := []interface{}{p.Reject}
	args = append(args, p.BProtocol.args()...)
	args = append(args, p.ConnectedNumber, p.ConnectedSubaddress, p.LLC)
	args = append(args, p.Additional.args()...)
	return Pack("w(wwwccc)ccc(ccccc)", args...)
}

// DecodeInfo разбирает подтверждение из одного info
func DecodeInfo(m *Message) (Info, error) {
	r := NewReader(m.Params)
	info := Info(r.Word())
	return info, wrapDecode(m, r)
}

// DisconnectIndParams DISCONNECT_IND
type DisconnectIndParams struct {
	Reason Info
}

// DecodeDisconnectInd разбирает DISCONNECT_IND
func DecodeDisconnectInd(m *Message) (DisconnectIndParams, error) {
	r := NewReader(m.Params)
	p := DisconnectIndParams{Reason: Info(r.Word())}
	return p, wrapDecode(m, r)
}

// DisconnectB3IndParams DISCONNECT_B3_IND
type DisconnectB3IndParams struct {
	ReasonB3 Info
	NCPI     []byte
}

// DecodeDisconnectB3Ind разбирает DISCONNECT_B3_IND
func DecodeDisconnectB3Ind(m *Message) (DisconnectB3IndParams, error) {
	r := NewReader(m.Params)
	p := DisconnectB3IndParams{ReasonB3: Info(r.Word())}
	if r.Optional() {
		p.NCPI = r.Struct()
	}
	return p, wrapDecode(m, r)
}

// FaxNCPI NCPI протокола T.30 в CONNECT_B3_ACTIVE_IND и DISCONNECT_B3_IND
type FaxNCPI struct {
	Rate       uint16
	Resolution uint16
	Format     uint16
	Pages      uint16
	RemoteID   string
}

// DecodeFaxNCPI разбирает NCPI факса; идентификатор удаленной станции необязателен
func DecodeFaxNCPI(b []byte) (FaxNCPI, error) {
	r := NewReader(b)
	n := FaxNCPI{Rate: r.Word(), Resolution: r.Word(), Format: r.Word(), Pages: r.Word()}
	if r.Err() == nil && r.Optional() {
		n.RemoteID = strings.TrimSpace(string(r.Struct()))
	}
	return n, r.Err()
}

// InfoIndParams INFO_IND
type InfoIndParams struct {
	Number  InfoNumber
	Element []byte
}

// DecodeInfoInd разбирает INFO_IND
func DecodeInfoInd(m *Message) (InfoIndParams, error) {
	r := NewReader(m.Params)
	p := InfoIndParams{Number: InfoNumber(r.Word())}
	p.Element = r.Struct()
	return p, wrapDecode(m, r)
}

// FacilityIndParams FACILITY_IND
type FacilityIndParams struct {
	Selector  uint16
	Parameter []byte
}

// DecodeFacilityInd разбирает FACILITY_IND
func DecodeFacilityInd(m *Message) (FacilityIndParams, error) {
	r := NewReader(m.Params)
	p := FacilityIndParams{Selector: r.Word()}
	p.Parameter = r.Struct()
	return p, wrapDecode(m, r)
}

// FacilityConfParams FACILITY_CONF
type FacilityConfParams struct {
	Info      Info
	Selector  uint16
	Parameter []byte
}

// DecodeFacilityConf разбирает FACILITY_CONF
func DecodeFacilityConf(m *Message) (FacilityConfParams, error) {
	r := NewReader(m.Params)
	p := FacilityConfParams{Info: Info(r.Word()), Selector: r.Word()}
	if r.Optional() {
		p.Parameter = r.Struct()
	}
	return p, wrapDecode(m, r)
}

// SupplementaryParams параметр supplementary services: функция и вложенная структура
type SupplementaryParams struct {
	Function uint16
	Body     []byte
}

// DecodeSupplementary разбирает параметр facility selector 3
func DecodeSupplementary(param []byte) (SupplementaryParams, error) {
	r := NewReader(param)
	p := SupplementaryParams{Function: r.Word()}
	if r.Optional() {
		p.Body = r.Struct()
	}
	return p, r.Err()
}

// SupplementaryInfo первый word тела: supplementary service info
func (p SupplementaryParams) SupplementaryInfo() Info {
	if len(p.Body) < 2 {
		return InfoOK
	}
	return Info(uint16(p.Body[0]) | uint16(p.Body[1])<<8)
}

// DataB3IndParams DATA_B3_IND
type DataB3IndParams struct {
	Length uint16
	Handle uint16
	Flags  uint16
	Data   []byte
}

// DecodeDataB3Ind разбирает DATA_B3_IND. Данные берутся из хвоста сообщения.
func DecodeDataB3Ind(m *Message) (DataB3IndParams, error) {
	r := NewReader(m.Params)
	r.Dword()
	p := DataB3IndParams{Length: r.Word(), Handle: r.Word(), Flags: r.Word()}
	if err := wrapDecode(m, r); err != nil {
		return p, err
	}
	if int(p.Length) > len(m.Data) {
		return p, fmt.Errorf("%s: data length %d, got %d: %w", m.Kind(), p.Length, len(m.Data), ErrShortBuffer)
	}
	p.Data = m.Data[:p.Length]
	return p, nil
}

// DataB3ConfParams DATA_B3_CONF
type DataB3ConfParams struct {
	Handle uint16
	Info   Info
}

// DecodeDataB3Conf разбирает DATA_B3_CONF
func DecodeDataB3Conf(m *Message) (DataB3ConfParams, error) {
	r := NewReader(m.Params)
	p := DataB3ConfParams{Handle: r.Word(), Info: Info(r.Word())}
	return p, wrapDecode(m, r)
}

func wrapDecode(m *Message, r *Reader) error {
	if err := r.Err(); err != nil {
		return fmt.Errorf("decode %s: %w", m.Kind(), err)
	}
	return nil
}
