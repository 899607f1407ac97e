package capi

import "fmt"

// InfoNumber номер элемента в INFO_IND
type InfoNumber uint16

const (
	IECause             InfoNumber = 0x0008
	IEChannelID         InfoNumber = 0x0018
	IEFacility          InfoNumber = 0x001c
	IEProgress          InfoNumber = 0x001e
	IENotification      InfoNumber = 0x0027
	IEDisplay           InfoNumber = 0x0028
	IEDateTime          InfoNumber = 0x0029
	IEKeypad            InfoNumber = 0x002c
	IECalledParty       InfoNumber = 0x0070
	IERedirectingNumber InfoNumber = 0x0074
	IERedirectionNumber InfoNumber = 0x0076
	IEUserUser          InfoNumber = 0x007e
	IESendingComplete   InfoNumber = 0x00a1
	IEChargeUnits       InfoNumber = 0x4000
	IEChargeCurrency    InfoNumber = 0x4001
	MsgAlerting         InfoNumber = 0x8001
	MsgCallProceeding   InfoNumber = 0x8002
	MsgProgress         InfoNumber = 0x8003
	MsgSetup            InfoNumber = 0x8005
	MsgConnect          InfoNumber = 0x8007
	MsgSetupAck         InfoNumber = 0x800d
	MsgConnectAck       InfoNumber = 0x800f
	MsgDisconnect       InfoNumber = 0x8045
	MsgRelease          InfoNumber = 0x804d
	MsgReleaseComplete  InfoNumber = 0x805a
	MsgFacility         InfoNumber = 0x8062
	MsgNotify           InfoNumber = 0x806e
	MsgInformation      InfoNumber = 0x807b
)

var infoNumberNames = map[InfoNumber]string{
	IECause:             "CAUSE",
	IEChannelID:         "CHANNEL IDENTIFICATION",
	IEFacility:          "FACILITY",
	IEProgress:          "PROGRESS INDICATOR",
	IENotification:      "NOTIFICATION INDICATOR",
	IEDisplay:           "DISPLAY",
	IEDateTime:          "DATE/TIME",
	IEKeypad:            "KEYPAD",
	IECalledParty:       "CALLED PARTY NUMBER",
	IERedirectingNumber: "REDIRECTING NUMBER",
	IERedirectionNumber: "REDIRECTION NUMBER",
	IEUserUser:          "USER-USER",
	IESendingComplete:   "SENDING COMPLETE",
	IEChargeUnits:       "CHARGE UNITS",
	IEChargeCurrency:    "CHARGE CURRENCY",
	MsgAlerting:         "ALERTING",
	MsgCallProceeding:   "CALL PROCEEDING",
	MsgProgress:         "PROGRESS",
	MsgSetup:            "SETUP",
	MsgConnect:          "CONNECT",
	MsgSetupAck:         "SETUP ACK",
	MsgConnectAck:       "CONNECT ACK",
	MsgDisconnect:       "DISCONNECT",
	MsgRelease:          "RELEASE",
	MsgReleaseComplete:  "RELEASE COMPLETE",
	MsgFacility:         "FACILITY MESSAGE",
	MsgNotify:           "NOTIFY",
	MsgInformation:      "INFORMATION",
}

func (n InfoNumber) String() string {
	if s, ok := infoNumberNames[n]; ok {
		return s
	}
	return fmt.Sprintf("INFO(0x%04x)", uint16(n))
}

// Facility selectors
const (
	FacilityHandset       uint16 = 0x0000
	FacilityDTMF          uint16 = 0x0001
	FacilityV42bis        uint16 = 0x0002
	FacilitySupplementary uint16 = 0x0003
	FacilityPower         uint16 = 0x0004
	FacilityLineInterconn uint16 = 0x0005
	FacilityEchoCancel    uint16 = 0x0008
)

// Функции supplementary services (selector 3)
const (
	SuppGetSupportedServices uint16 = 0x0000
	SuppListen               uint16 = 0x0001
	SuppHold                 uint16 = 0x0002
	SuppRetrieve             uint16 = 0x0003
	SuppSuspend              uint16 = 0x0004
	SuppResume               uint16 = 0x0005
	SuppECT                  uint16 = 0x0006
	Supp3PTYBegin            uint16 = 0x0007
	Supp3PTYEnd              uint16 = 0x0008
	SuppCallDeflection       uint16 = 0x000d
	SuppMCID                 uint16 = 0x000e
	SuppCCBSRequest          uint16 = 0x000f
	SuppCCBSDeactivate       uint16 = 0x0010
	SuppCCBSInterrogate      uint16 = 0x0011
	SuppCCBSCall             uint16 = 0x0012
	SuppCCNRRequest          uint16 = 0x0017
	SuppCCNRDeactivate       uint16 = 0x0018

	SuppHoldNotify         uint16 = 0x8000
	SuppRetrieveNotify     uint16 = 0x8001
	SuppCCBSEraseLinkageID uint16 = 0x800d
	SuppCCBSStatus         uint16 = 0x800e
	SuppCCBSRemoteUserFree uint16 = 0x800f
	SuppCCBSBFree          uint16 = 0x8010
	SuppCCBSErase          uint16 = 0x8011
	SuppCCBSStopAlerting   uint16 = 0x8012
	SuppCCBSInfoRetain     uint16 = 0x8013
	SuppCCNRInfoRetain     uint16 = 0x8015
)

// Функции DTMF (selector 1)
const (
	DTMFStartListen uint16 = 1
	DTMFStopListen  uint16 = 2
	DTMFSend        uint16 = 3
)

// Функции line interconnect (selector 5)
const (
	LIGetSupported uint16 = 0
	LIConnect      uint16 = 1
	LIDisconnect   uint16 = 2
)

// Функции эхоподавления (selector 8)
const (
	ECEnable  uint16 = 1
	ECDisable uint16 = 2
)

// ServiceSet битовая маска поддерживаемых supplementary services контроллера
type ServiceSet uint32

const (
	ServiceHoldRetrieve ServiceSet = 1 << iota
	ServiceTerminalPortability
	ServiceECT
	Service3PTY
	ServiceCallForwarding
	ServiceCallDeflection
	ServiceMCID
	ServiceCCBS
	ServiceMWI
	ServiceCCNR
	ServiceConference
)

// Has проверяет наличие всех сервисов s
func (set ServiceSet) Has(s ServiceSet) bool { return set&s == s }

// CIP values
const (
	CIPNone       uint16 = 0
	CIPSpeech     uint16 = 1
	CIPUnrestrict uint16 = 2
	CIP3k1Audio   uint16 = 4
	CIPTelephony  uint16 = 16
	CIPFaxG3      uint16 = 17
)

// Маски LISTEN_REQ
const (
	DefaultInfoMask uint32 = 0x000007ff
	AllServicesCIP  uint32 = 0x1fff03ff
)

// Reject значения CONNECT_RESP
const (
	RejectAccept           uint16 = 0
	RejectIgnore           uint16 = 1
	RejectNormalClearing   uint16 = 2
	RejectUserBusy         uint16 = 3
	RejectChannelUnavail   uint16 = 4
	RejectIncompatible     uint16 = 7
	RejectOutOfOrder       uint16 = 8
	rejectNetworkCauseBase uint16 = 0x3480
)

// RejectCause reject с явным Q.931 cause
func RejectCause(cause int) uint16 {
	return rejectNetworkCauseBase | uint16(cause&0x7f)
}

// Global options профиля контроллера
const (
	ProfileInternal     uint32 = 1 << 0
	ProfileExternal     uint32 = 1 << 1
	ProfileHandset      uint32 = 1 << 2
	ProfileDTMF         uint32 = 1 << 3
	ProfileSupplServ    uint32 = 1 << 4
	ProfileChannelAlloc uint32 = 1 << 5
	ProfileBChannelOp   uint32 = 1 << 6
	ProfileLineInterc   uint32 = 1 << 7
	ProfileEchoCancel   uint32 = 1 << 8
)

// Profile профиль контроллера (CAPI_GET_PROFILE)
type Profile struct {
	Controllers   uint16
	BChannels     uint16
	GlobalOptions uint32
	B1Protocols   uint32
	B2Protocols   uint32
	B3Protocols   uint32
}

// Supports проверяет global option
func (p Profile) Supports(opt uint32) bool { return p.GlobalOptions&opt != 0 }

// B-протоколы
const (
	B1Transparent64k uint16 = 1
	B2Transparent    uint16 = 1
	B3Transparent    uint16 = 0
	B1RTP            uint16 = 0x1f
	B2RTP            uint16 = 0x1f
	B3RTP            uint16 = 0x1f
	B1FaxG3          uint16 = 4
	B2FaxG3          uint16 = 4
	B3FaxG3          uint16 = 4
)

// Параметры B3 configuration протокола T.30
const (
	FaxResolutionStandard uint16 = 0
	FaxResolutionHigh     uint16 = 1
	FaxFormatSFF          uint16 = 0
)
