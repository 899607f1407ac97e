package capi

import "fmt"

// Info код info/reason из подтверждений и индикаций CAPI
type Info uint16

const (
	InfoOK                     Info = 0x0000
	InfoNCPINotSupported       Info = 0x0001
	InfoFlagsNotSupported      Info = 0x0002
	InfoAlertAlreadySent       Info = 0x0003
	InfoIllegalAppID           Info = 0x1101
	InfoIllegalCommand         Info = 0x1102
	InfoQueueFull              Info = 0x1103
	InfoQueueEmpty             Info = 0x1104
	InfoQueueOverflow          Info = 0x1105
	InfoResourceError          Info = 0x1107
	InfoOSResourceError        Info = 0x1108
	InfoNotInstalled           Info = 0x1109
	InfoWrongState             Info = 0x2001
	InfoIllegalIdentifier      Info = 0x2002
	InfoOutOfPLCI              Info = 0x2003
	InfoOutOfNCCI              Info = 0x2004
	InfoOutOfListen            Info = 0x2005
	InfoIllegalParameter       Info = 0x2007
	InfoFacilityNotSupported   Info = 0x300b
	InfoSupplementaryNotSupp   Info = 0x300e
	InfoAnotherAppGotCall      Info = 0x3304
	InfoClearedBySupplementary Info = 0x3305
	InfoNetworkCauseBase       Info = 0x3400
)

// infoStrings человекочитаемые расшифровки кодов
var infoStrings = map[Info]string{
	0x0000: "No error",
	0x0001: "NCPI not supported by current protocol, NCPI ignored",
	0x0002: "Flags not supported by current protocol, flags ignored",
	0x0003: "Alert already sent by another application",

	0x1001: "Too many applications",
	0x1002: "Logical block size too small; must be at least 128 bytes",
	0x1003: "Buffer exceeds 64 kbytes",
	0x1004: "Message buffer size too small, must be at least 1024 bytes",
	0x1005: "Max. number of logical connections not supported",
	0x1006: "Reserved",
	0x1007: "The message could not be accepted because of an internal busy condition",
	0x1008: "OS resource error (out of memory?)",
	0x1009: "CAPI not installed",
	0x100a: "Controller does not support external equipment",
	0x100b: "Controller does only support external equipment",

	0x1101: "Illegal application number",
	0x1102: "Illegal command or subcommand, or message length less than 12 octets",
	0x1103: "The message could not be accepted because of a queue full condition",
	0x1104: "Queue is empty",
	0x1105: "Queue overflow: a message was lost",
	0x1106: "Unknown notification parameter",
	0x1107: "The message could not be accepted because of an internal busy condition",
	0x1108: "OS resource error (out of memory?)",
	0x1109: "CAPI not installed",
	0x110a: "Controller does not support external equipment",
	0x110b: "Controller does only support external equipment",

	0x2001: "Message not supported in current state",
	0x2002: "Illegal Controller/PLCI/NCCI",
	0x2003: "Out of PLCI",
	0x2004: "Out of NCCI",
	0x2005: "Out of LISTEN",
	0x2006: "Out of FAX resources (protocol T.30)",
	0x2007: "Illegal message parameter coding",

	0x3001: "B1 protocol not supported",
	0x3002: "B2 protocol not supported",
	0x3003: "B3 protocol not supported",
	0x3004: "B1 protocol parameter not supported",
	0x3005: "B2 protocol parameter not supported",
	0x3006: "B3 protocol parameter not supported",
	0x3007: "B protocol combination not supported",
	0x3008: "NCPI not supported",
	0x3009: "CIP Value unknown",
	0x300a: "Flags not supported (reserved bits)",
	0x300b: "Facility not supported",
	0x300c: "Data length not supported by current protocol",
	0x300d: "Reset procedure not supported by current protocol",
	0x300e: "Supplementary service not supported",
	0x300f: "Unsupported interoperability",
	0x3010: "Request not allowed in this state",
	0x3011: "Facility specific function not supported",

	0x3301: "Protocol error layer 1 (broken line or B-channel removed by signalling protocol)",
	0x3302: "Protocol error layer 2",
	0x3303: "Protocol error layer 3",
	0x3304: "Another application got that call",
	0x3305: "Cleared by Call Control Supervision",

	0x3400: "Disconnect cause from the network (unknown)",
	0x3480: "Normal termination",
	0x3481: "Unallocated (unassigned) number",
	0x3482: "No route to specified transit network",
	0x3483: "No route to destination",
	0x3486: "Channel unacceptable",
	0x3487: "Call awarded and being delivered in an established channel",
	0x3490: "Normal call clearing",
	0x3491: "User busy",
	0x3492: "No user responding",
	0x3493: "No answer from user (user alerted)",
	0x3495: "Call rejected",
	0x3496: "Number changed",
	0x349a: "Non-selected user clearing",
	0x349b: "Destination out of order",
	0x349c: "Invalid number format",
	0x349d: "Facility rejected",
	0x349e: "Response to STATUS ENQUIRY",
	0x349f: "Normal, unspecified",
	0x34a2: "No circuit / channel available",
	0x34a6: "Network out of order",
	0x34a9: "Temporary failure",
	0x34aa: "Switching equipment congestion",
	0x34ab: "Access information discarded",
	0x34ac: "Requested circuit / channel not available",
	0x34af: "Resources unavailable, unspecified",
	0x34b1: "Quality of service unavailable",
	0x34b2: "Requested facility not subscribed",
	0x34b9: "Bearer capability not authorized",
	0x34ba: "Bearer capability not presently available",
	0x34bf: "Service or option not available, unspecified",
	0x34c1: "Bearer capability not implemented",
	0x34c2: "Channel type not implemented",
	0x34c5: "Requested facility not implemented",
	0x34c6: "Only restricted digital information bearer capability is available",
	0x34cf: "Service or option not implemented, unspecified",
	0x34d1: "Invalid call reference value",
	0x34d2: "Identified channel does not exist",
	0x34d3: "A suspended call exists, but this call identity does not",
	0x34d4: "Call identity in use",
	0x34d5: "No call suspended",
	0x34d6: "Call having the requested call identity has been cleared",
	0x34d8: "Incompatible destination",
	0x34db: "Invalid transit network selection",
	0x34df: "Invalid message, unspecified",
	0x34e0: "Mandatory information element is missing",
	0x34e1: "Message type non-existent or not implemented",
	0x34e2: "Message not compatible with call state or message type non-existent or not implemented",
	0x34e3: "Information element non-existent or not implemented",
	0x34e4: "Invalid information element contents",
	0x34e5: "Message not compatible with call state",
	0x34e6: "Recovery on timer expiry",
	0x34ef: "Protocol error, unspecified",
	0x34ff: "Interworking, unspecified",

	0x3500: "Normal end of connection",
	0x3501: "Carrier lost",
	0x3502: "Error on negotiation, i.e. no modem with error correction at other end",
	0x3503: "No answer to protocol request",
	0x3504: "Remote modem only works in synchronous mode",
	0x3505: "Framing fails",
	0x3506: "Protocol negotiation fails",
	0x3507: "Other modem sends wrong protocol request",
	0x3508: "Sync information (data or flags) missing",
	0x3509: "Normal end of connection from the other modem",
	0x350a: "No answer from other modem",
	0x350b: "Protocol error",
	0x350c: "Error on compression",
	0x350d: "No connect (timeout or wrong modulation)",
	0x350e: "No protocol fall-back allowed",
	0x350f: "No modem or fax at requested number",
	0x3510: "Handshake error",

	0x3600: "Supplementary service: no error",
	0x3603: "Supplementary service: resource unavailable",
	0x3607: "Supplementary service: not subscribed",
	0x3609: "Supplementary service: not available",
	0x3610: "Supplementary service: not implemented",
	0x3611: "Supplementary service: invalid served user number",
	0x3612: "Supplementary service: invalid call state",
	0x3613: "Supplementary service: basic service not provided",
	0x3614: "Supplementary service: not incoming call",
	0x3615: "Supplementary service: supplementary service interaction not allowed",
	0x3616: "Supplementary service: resource unavailable",
	0x3617: "Supplementary service: duplicate invocation",
	0x3618: "Supplementary service: invalid divert number",
	0x3619: "Supplementary service: special service number",
	0x361a: "Supplementary service: diversion to served user number",
	0x361b: "Supplementary service: incoming call accepted",
	0x361c: "Supplementary service: number of diversions exceeded",
	0x361d: "Supplementary service: not activated",
	0x361e: "Supplementary service: request already accepted",
	0x3700: "Supplementary service: invalid linkage id",
	0x3701: "Supplementary service: CCBS not available",
	0x3702: "Supplementary service: CCBS queue full",
	0x3703: "Supplementary service: CCBS not found",
	0x3704: "Supplementary service: CCBS short term denial",
	0x3705: "Supplementary service: CCBS long term denial",
}

func (i Info) String() string {
	if s, ok := infoStrings[i]; ok {
		return s
	}
	if i&0xff00 == InfoNetworkCauseBase {
		return fmt.Sprintf("Disconnect cause from the network (0x%02x)", uint8(i))
	}
	return fmt.Sprintf("Unknown info 0x%04x", uint16(i))
}

// IsOK нулевой код
func (i Info) IsOK() bool { return i == InfoOK }

// IsWarning коды 0x00xx: запрос выполнен, параметры частично проигнорированы
func (i Info) IsWarning() bool { return i != InfoOK && i < 0x0100 }

// IsError код означает невыполненный запрос
func (i Info) IsError() bool { return i >= 0x1000 }

// IsBenign ожидаемые при гонках коды, логируются с пониженной важностью
func (i Info) IsBenign() bool {
	return i.IsWarning() || i == InfoWrongState || i == InfoIllegalIdentifier
}

// IsFatal стек больше не знает наш ApplID, работа невозможна
func (i Info) IsFatal() bool { return i == InfoIllegalAppID }

// IsNetworkCause reason 0x34xx содержит Q.931 cause
func (i Info) IsNetworkCause() bool { return i&0xff00 == InfoNetworkCauseBase }

// Cause Q.931 cause для reason 0x34xx, иначе 0
func (i Info) Cause() int {
	if !i.IsNetworkCause() {
		return 0
	}
	return int(i & 0x7f)
}

// Error позволяет использовать Info как error
type Error struct {
	Info Info
	Op   string
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("capi: %s: %s (0x%04x)", e.Op, e.Info, uint16(e.Info))
	}
	return fmt.Sprintf("capi: %s (0x%04x)", e.Info, uint16(e.Info))
}

// Is сравнивает по коду info
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Info == e.Info
}

// ErrApplicationInvalid стек больше не принимает ApplID
var ErrApplicationInvalid = &Error{Info: InfoIllegalAppID}

// ErrQueueEmpty очередь входящих сообщений пуста (таймаут опроса)
var ErrQueueEmpty = &Error{Info: InfoQueueEmpty}
