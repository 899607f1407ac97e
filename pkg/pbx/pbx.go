// Package pbx граница между драйвером и абстракцией каналов АТС.
package pbx

import "fmt"

// ChannelState состояние канала АТС
type ChannelState int

const (
	StateDown ChannelState = iota
	StateRing
	StateRinging
	StateUp
	StateDialing
	StateBusy
)

func (s ChannelState) String() string {
	switch s {
	case StateRing:
		return "Ring"
	case StateRinging:
		return "Ringing"
	case StateUp:
		return "Up"
	case StateDialing:
		return "Dialing"
	case StateBusy:
		return "Busy"
	default:
		return "Down"
	}
}

// Control управляющий кадр вверх в АТС
type Control int

const (
	ControlRinging Control = iota + 1
	ControlAnswer
	ControlBusy
	ControlCongestion
	ControlHangup
	ControlProgress
	ControlProceeding
	ControlHold
	ControlUnhold
)

var controlNames = map[Control]string{
	ControlRinging:    "RINGING",
	ControlAnswer:     "ANSWER",
	ControlBusy:       "BUSY",
	ControlCongestion: "CONGESTION",
	ControlHangup:     "HANGUP",
	ControlProgress:   "PROGRESS",
	ControlProceeding: "PROCEEDING",
	ControlHold:       "HOLD",
	ControlUnhold:     "UNHOLD",
}

func (c Control) String() string {
	if s, ok := controlNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CONTROL(%d)", int(c))
}

// ControlForCause кадр завершения по Q.931 cause
func ControlForCause(cause int) Control {
	switch cause {
	case 17:
		return ControlBusy
	case 34, 38, 41, 42, 44, 47:
		return ControlCongestion
	}
	return ControlHangup
}

// FrameKind тип кадра
type FrameKind int

const (
	FrameVoice FrameKind = iota
	FrameDTMF
	FrameRTP
)

// Frame кадр между драйвером и АТС
type Frame struct {
	Kind    FrameKind
	Payload []byte
	Samples int
	Digit   rune
}

// Channel канал АТС. Драйвер хранит только слабую ссылку.
type Channel interface {
	Name() string
	UniqueID() string
}

// CallInfo данные нового канала
type CallInfo struct {
	Interface   string
	Controller  uint8
	CallerID    string
	Exten       string
	Context     string
	Language    string
	AccountCode string
	Incoming    bool
}

// Стандартные имена переменных канала
const (
	VarHangupCause    = "HANGUPCAUSE"
	VarPLCI           = "CAPIPLCI"
	VarCallID         = "CAPICALLID"
	VarRedirectingNum = "REDIRECTINGNUMBER"
	VarCCBSLinkage    = "CCLINKAGEID"
	VarCCBSStatus     = "CCBSSTATUS"
	VarCalledTON      = "CALLEDTON"
	VarECTStatus      = "ECTSTATUS"
	VarChargeUnits    = "CHARGEUNITS"
	VarFaxStatus      = "FAXSTATUS"
	VarFaxReason      = "FAXREASON"
	VarFaxRate        = "FAXRATE"
	VarFaxResolution  = "FAXRESOLUTION"
	VarFaxPages       = "FAXPAGES"
	VarFaxID          = "FAXID"
)

// Host сервисы АТС, потребляемые драйвером
type Host interface {
	AllocateChannel(info CallInfo) (Channel, error)
	DestroyChannel(ch Channel)
	QueueControl(ch Channel, c Control)
	QueueFrame(ch Channel, f Frame)
	SetChannelState(ch Channel, s ChannelState)
	Variable(ch Channel, name string) string
	SetVariable(ch Channel, name, value string)
	ExtensionExists(context, exten, callerID string) bool
	CanMatchMore(context, exten, callerID string) bool
	StartDialplan(ch Channel, context, exten string, priority int) error
}
