package supplementary

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arzzra/isdn_capi/pkg/capi"
)

var (
	// ErrServiceNotSupported контроллер не поддерживает услугу
	ErrServiceNotSupported = errors.New("supplementary: услуга не поддерживается контроллером")
	// ErrNotOnHold передаваемое плечо не на удержании
	ErrNotOnHold = errors.New("supplementary: вызов не на удержании")
	// ErrNoPeers нет плеч для соединения
	ErrNoPeers = errors.New("supplementary: нет плеч для соединения")
)

// Параметры DTMF по умолчанию, мс
const (
	DTMFToneDuration = 100
	DTMFGapDuration  = 100
	DTMFListenTone   = 40
	DTMFListenGap    = 40
)

// Маска уведомлений supplementary Listen: hold/retrieve, ECT, 3PTY, CCBS
const ListenNotificationMask uint32 = 0x0000079f

// Эхоподавление: опции и длина хвоста
const (
	ECOptions  uint16 = 0x0000
	ECTailMs   uint16 = 64
	ECPreDelay uint16 = 0
)

// CheckService проверяет услугу контроллера
func CheckService(services capi.ServiceSet, need capi.ServiceSet) error {
	if !services.Has(need) {
		return fmt.Errorf("%w: нужно 0x%x, есть 0x%x", ErrServiceNotSupported, uint32(need), uint32(services))
	}
	return nil
}

// CheckHeld проверяет предусловие ECT/3PTY: услуга есть, плечо на удержании
func CheckHeld(services capi.ServiceSet, need capi.ServiceSet, heldOnHold bool) error {
	if err := CheckService(services, need); err != nil {
		return err
	}
	if !heldOnHold {
		return ErrNotOnHold
	}
	return nil
}

func supplementary(function uint16, inner string, args ...interface{}) ([]byte, error) {
	all := append([]interface{}{capi.FacilitySupplementary, function}, args...)
	return capi.Pack("w(w("+inner+"))", all...)
}

// GetSupportedServicesRequest запрос списка услуг контроллера
func GetSupportedServicesRequest() ([]byte, error) {
	return supplementary(capi.SuppGetSupportedServices, "")
}

// ListenRequest включает уведомления supplementary services
func ListenRequest(mask uint32) ([]byte, error) {
	return supplementary(capi.SuppListen, "d", mask)
}

// HoldRequest удержание вызова
func HoldRequest() ([]byte, error) {
	return supplementary(capi.SuppHold, "")
}

// RetrieveRequest возврат с удержания
func RetrieveRequest() ([]byte, error) {
	return supplementary(capi.SuppRetrieve, "")
}

// ECTRequest перевод: активное плечо соединяется с удерживаемым heldPLCI
func ECTRequest(heldPLCI uint32) ([]byte, error) {
	return supplementary(capi.SuppECT, "d", heldPLCI)
}

// ThreePTYBeginRequest конференция с удерживаемым heldPLCI
func ThreePTYBeginRequest(heldPLCI uint32) ([]byte, error) {
	return supplementary(capi.Supp3PTYBegin, "d", heldPLCI)
}

// ThreePTYEndRequest конец конференции
func ThreePTYEndRequest(heldPLCI uint32) ([]byte, error) {
	return supplementary(capi.Supp3PTYEnd, "d", heldPLCI)
}

// CallDeflectionRequest переадресация входящего вызова на номер
func CallDeflectionRequest(number string) ([]byte, error) {
	if number == "" {
		return nil, errors.New("supplementary: пустой номер переадресации")
	}
	// presentation allowed, номер в формате party number
	return supplementary(capi.SuppCallDeflection, "wc", uint16(1), append([]byte{0x00}, number...))
}

// CCBSRequest запрос CCBS/CCNR по linkage id
func CCBSRequest(typ LinkageType, linkageID uint16) ([]byte, error) {
	fn := capi.SuppCCBSRequest
	if typ == CCNR {
		fn = capi.SuppCCNRRequest
	}
	return supplementary(fn, "w", linkageID)
}

// CCBSDeactivateRequest отмена активированного запроса
func CCBSDeactivateRequest(typ LinkageType, reference uint16) ([]byte, error) {
	fn := capi.SuppCCBSDeactivate
	if typ == CCNR {
		fn = capi.SuppCCNRDeactivate
	}
	return supplementary(fn, "w", reference)
}

// CCBSStatusResponse ответ FACILITY_RESP на CCBS status: 0 свободен, 1 занят
func CCBSStatusResponse(busy bool) ([]byte, error) {
	var v uint16
	if busy {
		v = 1
	}
	return supplementary(capi.SuppCCBSStatus, "w", v)
}

// FacilityResponse параметры FACILITY_RESP: селектор и пустая структура
func FacilityResponse(selector uint16, function uint16) ([]byte, error) {
	if selector == capi.FacilitySupplementary {
		return capi.Pack("w(w())", selector, function)
	}
	return capi.Pack("w()", selector)
}

// DTMFSendRequest отправка цифр
func DTMFSendRequest(digits string) ([]byte, error) {
	return capi.Pack("w(wwwa())", capi.FacilityDTMF, capi.DTMFSend,
		uint16(DTMFToneDuration), uint16(DTMFGapDuration), digits)
}

// DTMFListenRequest включение (start=true) или выключение распознавания DTMF
func DTMFListenRequest(start bool) ([]byte, error) {
	fn := capi.DTMFStopListen
	if start {
		fn = capi.DTMFStartListen
	}
	return capi.Pack("w(www()())", capi.FacilityDTMF, fn, uint16(DTMFListenTone), uint16(DTMFListenGap))
}

// EchoCancelRequest включение или выключение эхоподавления
func EchoCancelRequest(enable bool) ([]byte, error) {
	if !enable {
		return capi.Pack("w(w())", capi.FacilityEchoCancel, capi.ECDisable)
	}
	return capi.Pack("w(w(www))", capi.FacilityEchoCancel, capi.ECEnable, ECOptions, ECTailMs, ECPreDelay)
}

// LineInterconnectRequest соединяет плечо с peers
func LineInterconnectRequest(peers []uint32) ([]byte, error) {
	if len(peers) == 0 {
		return nil, ErrNoPeers
	}
	args := []interface{}{capi.FacilityLineInterconn, capi.LIConnect, uint32(0)}
	for _, p := range peers {
		args = append(args, p, uint32(0x00000003))
	}
	return capi.Pack("w(w(d("+strings.Repeat("(dd)", len(peers))+")))", args...)
}

// LineDisconnectRequest разъединяет плечо с peers
func LineDisconnectRequest(peers []uint32) ([]byte, error) {
	if len(peers) == 0 {
		return nil, ErrNoPeers
	}
	args := []interface{}{capi.FacilityLineInterconn, capi.LIDisconnect}
	for _, p := range peers {
		args = append(args, p)
	}
	return capi.Pack("w(w("+strings.Repeat("(d)", len(peers))+"))", args...)
}
