package capi

import "fmt"

// Command код команды CAPI 2.0 (старший байт пары command/subcommand)
type Command uint8

const (
	CmdAlert              Command = 0x01
	CmdConnect            Command = 0x02
	CmdConnectActive      Command = 0x03
	CmdDisconnect         Command = 0x04
	CmdListen             Command = 0x05
	CmdInfo               Command = 0x08
	CmdSelectBProtocol    Command = 0x41
	CmdFacility           Command = 0x80
	CmdConnectB3          Command = 0x82
	CmdConnectB3Active    Command = 0x83
	CmdDisconnectB3       Command = 0x84
	CmdDataB3             Command = 0x86
	CmdResetB3            Command = 0x87
	CmdConnectB3T90Active Command = 0x88
	CmdManufacturer       Command = 0xff
)

var commandNames = map[Command]string{
	CmdAlert:              "ALERT",
	CmdConnect:            "CONNECT",
	CmdConnectActive:      "CONNECT_ACTIVE",
	CmdDisconnect:         "DISCONNECT",
	CmdListen:             "LISTEN",
	CmdInfo:               "INFO",
	CmdSelectBProtocol:    "SELECT_B_PROTOCOL",
	CmdFacility:           "FACILITY",
	CmdConnectB3:          "CONNECT_B3",
	CmdConnectB3Active:    "CONNECT_B3_ACTIVE",
	CmdDisconnectB3:       "DISCONNECT_B3",
	CmdDataB3:             "DATA_B3",
	CmdResetB3:            "RESET_B3",
	CmdConnectB3T90Active: "CONNECT_B3_T90_ACTIVE",
	CmdManufacturer:       "MANUFACTURER",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CMD(0x%02x)", uint8(c))
}

// Subcommand направление сообщения
type Subcommand uint8

const (
	SubReq  Subcommand = 0x80
	SubConf Subcommand = 0x81
	SubInd  Subcommand = 0x82
	SubResp Subcommand = 0x83
)

func (s Subcommand) String() string {
	switch s {
	case SubReq:
		return "REQ"
	case SubConf:
		return "CONF"
	case SubInd:
		return "IND"
	case SubResp:
		return "RESP"
	default:
		return fmt.Sprintf("SUB(0x%02x)", uint8(s))
	}
}

// Kind упакованная пара command/subcommand, ключ таблицы диспетчеризации
type Kind uint16

// NewKind собирает Kind из команды и подкоманды
func NewKind(cmd Command, sub Subcommand) Kind {
	return Kind(cmd)<<8 | Kind(sub)
}

const (
	AlertReq  = Kind(CmdAlert)<<8 | Kind(SubReq)
	AlertConf = Kind(CmdAlert)<<8 | Kind(SubConf)

	ConnectReq  = Kind(CmdConnect)<<8 | Kind(SubReq)
	ConnectConf = Kind(CmdConnect)<<8 | Kind(SubConf)
	ConnectInd  = Kind(CmdConnect)<<8 | Kind(SubInd)
	ConnectResp = Kind(CmdConnect)<<8 | Kind(SubResp)

	ConnectActiveInd  = Kind(CmdConnectActive)<<8 | Kind(SubInd)
	ConnectActiveResp = Kind(CmdConnectActive)<<8 | Kind(SubResp)

	DisconnectReq  = Kind(CmdDisconnect)<<8 | Kind(SubReq)
	DisconnectConf = Kind(CmdDisconnect)<<8 | Kind(SubConf)
	DisconnectInd  = Kind(CmdDisconnect)<<8 | Kind(SubInd)
	DisconnectResp = Kind(CmdDisconnect)<<8 | Kind(SubResp)

	ListenReq  = Kind(CmdListen)<<8 | Kind(SubReq)
	ListenConf = Kind(CmdListen)<<8 | Kind(SubConf)

	InfoReq  = Kind(CmdInfo)<<8 | Kind(SubReq)
	InfoConf = Kind(CmdInfo)<<8 | Kind(SubConf)
	InfoInd  = Kind(CmdInfo)<<8 | Kind(SubInd)
	InfoResp = Kind(CmdInfo)<<8 | Kind(SubResp)

	SelectBProtocolReq  = Kind(CmdSelectBProtocol)<<8 | Kind(SubReq)
	SelectBProtocolConf = Kind(CmdSelectBProtocol)<<8 | Kind(SubConf)

	FacilityReq  = Kind(CmdFacility)<<8 | Kind(SubReq)
	FacilityConf = Kind(CmdFacility)<<8 | Kind(SubConf)
	FacilityInd  = Kind(CmdFacility)<<8 | Kind(SubInd)
	FacilityResp = Kind(CmdFacility)<<8 | Kind(SubResp)

	ConnectB3Req  = Kind(CmdConnectB3)<<8 | Kind(SubReq)
	ConnectB3Conf = Kind(CmdConnectB3)<<8 | Kind(SubConf)
	ConnectB3Ind  = Kind(CmdConnectB3)<<8 | Kind(SubInd)
	ConnectB3Resp = Kind(CmdConnectB3)<<8 | Kind(SubResp)

	ConnectB3ActiveInd  = Kind(CmdConnectB3Active)<<8 | Kind(SubInd)
	ConnectB3ActiveResp = Kind(CmdConnectB3Active)<<8 | Kind(SubResp)

	ConnectB3T90ActiveInd  = Kind(CmdConnectB3T90Active)<<8 | Kind(SubInd)
	ConnectB3T90ActiveResp = Kind(CmdConnectB3T90Active)<<8 | Kind(SubResp)

	DisconnectB3Req  = Kind(CmdDisconnectB3)<<8 | Kind(SubReq)
	DisconnectB3Conf = Kind(CmdDisconnectB3)<<8 | Kind(SubConf)
	DisconnectB3Ind  = Kind(CmdDisconnectB3)<<8 | Kind(SubInd)
	DisconnectB3Resp = Kind(CmdDisconnectB3)<<8 | Kind(SubResp)

	DataB3Req  = Kind(CmdDataB3)<<8 | Kind(SubReq)
	DataB3Conf = Kind(CmdDataB3)<<8 | Kind(SubConf)
	DataB3Ind  = Kind(CmdDataB3)<<8 | Kind(SubInd)
	DataB3Resp = Kind(CmdDataB3)<<8 | Kind(SubResp)

	ResetB3Req  = Kind(CmdResetB3)<<8 | Kind(SubReq)
	ResetB3Conf = Kind(CmdResetB3)<<8 | Kind(SubConf)
	ResetB3Ind  = Kind(CmdResetB3)<<8 | Kind(SubInd)
	ResetB3Resp = Kind(CmdResetB3)<<8 | Kind(SubResp)

	ManufacturerInd  = Kind(CmdManufacturer)<<8 | Kind(SubInd)
	ManufacturerResp = Kind(CmdManufacturer)<<8 | Kind(SubResp)
)

// Command возвращает команду
func (k Kind) Command() Command { return Command(k >> 8) }

// Sub возвращает подкоманду
func (k Kind) Sub() Subcommand { return Subcommand(k & 0xff) }

// IsIndication сообщение от стека, требующее RESP
func (k Kind) IsIndication() bool { return k.Sub() == SubInd }

// IsConfirmation ответ стека на наш REQ
func (k Kind) IsConfirmation() bool { return k.Sub() == SubConf }

// Response возвращает RESP для индикации
func (k Kind) Response() Kind { return NewKind(k.Command(), SubResp) }

func (k Kind) String() string {
	return k.Command().String() + "_" + k.Sub().String()
}
