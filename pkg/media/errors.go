package media

import (
	"errors"
	"fmt"
)

// MediaErrorCode коды ошибок медиа пути
type MediaErrorCode int

const (
	ErrorCodeFrameSizeInvalid MediaErrorCode = iota + 1000
	ErrorCodeLawUnsupported
	ErrorCodeRTPInvalid
	ErrorCodeDTMFInvalidDigit
	ErrorCodeDTMFDurationInvalid
	ErrorCodePipeClosed
	ErrorCodeFaxIO
)

func (code MediaErrorCode) String() string {
	switch code {
	case ErrorCodeFrameSizeInvalid:
		return "FrameSizeInvalid"
	case ErrorCodeLawUnsupported:
		return "LawUnsupported"
	case ErrorCodeRTPInvalid:
		return "RTPInvalid"
	case ErrorCodeDTMFInvalidDigit:
		return "DTMFInvalidDigit"
	case ErrorCodeDTMFDurationInvalid:
		return "DTMFDurationInvalid"
	case ErrorCodePipeClosed:
		return "PipeClosed"
	case ErrorCodeFaxIO:
		return "FaxIO"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// MediaError ошибка медиа пути интерфейса
type MediaError struct {
	Code      MediaErrorCode
	Message   string
	Interface string
	Wrapped   error
}

func (e *MediaError) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.Interface != "" {
		prefix = fmt.Sprintf("[%s] %s:", e.Code, e.Interface)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

func (e *MediaError) Unwrap() error { return e.Wrapped }

// NewMediaError создает ошибку
func NewMediaError(code MediaErrorCode, iface, message string) *MediaError {
	return &MediaError{Code: code, Message: message, Interface: iface}
}

// WrapMediaError оборачивает ошибку с кодом
func WrapMediaError(code MediaErrorCode, iface, message string, err error) *MediaError {
	return &MediaError{Code: code, Message: message, Interface: iface, Wrapped: err}
}

// HasErrorCode проверяет код ошибки в цепочке
func HasErrorCode(err error, code MediaErrorCode) bool {
	var me *MediaError
	return errors.As(err, &me) && me.Code == code
}

// ErrPipeClosed канал кадров закрыт
var ErrPipeClosed = NewMediaError(ErrorCodePipeClosed, "", "канал кадров закрыт")
