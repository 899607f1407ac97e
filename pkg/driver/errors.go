package driver

import (
	"errors"
	"fmt"
	"time"

	"github.com/arzzra/isdn_capi/pkg/capi"
)

// ErrorCategory категории ошибок драйвера
type ErrorCategory string

const (
	ErrorCategoryState      ErrorCategory = "STATE"
	ErrorCategoryResource   ErrorCategory = "RESOURCE"
	ErrorCategoryTimeout    ErrorCategory = "TIMEOUT"
	ErrorCategoryProtocol   ErrorCategory = "PROTOCOL"
	ErrorCategoryFatal      ErrorCategory = "FATAL"
	ErrorCategoryConfig     ErrorCategory = "CONFIG"
	ErrorCategoryValidation ErrorCategory = "VALIDATION"
)

func (ec ErrorCategory) String() string { return string(ec) }

// ErrorSeverity уровень критичности
type ErrorSeverity string

const (
	ErrorSeverityCritical ErrorSeverity = "CRITICAL"
	ErrorSeverityError    ErrorSeverity = "ERROR"
	ErrorSeverityWarning  ErrorSeverity = "WARNING"
)

// DriverError структурированная ошибка действия или монитора
type DriverError struct {
	Code      string
	Message   string
	Category  ErrorCategory
	Severity  ErrorSeverity
	Interface string
	Timestamp time.Time
	Fields    map[string]interface{}
	Cause     error
	Retryable bool
}

func (e *DriverError) Error() string {
	msg := fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
	if e.Interface != "" {
		msg += " (" + e.Interface + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap для errors.Is и errors.As
func (e *DriverError) Unwrap() error { return e.Cause }

// Is сравнивает по коду: errors.Is(err, ErrNoFreeInterface(""))
func (e *DriverError) Is(target error) bool {
	t, ok := target.(*DriverError)
	return ok && t.Code == e.Code
}

// ErrorCode код для логгера
func (e *DriverError) ErrorCode() string { return e.Code }

// ErrorCategory категория для логгера
func (e *DriverError) ErrorCategory() string { return string(e.Category) }

// WithField добавляет поле контекста
func (e *DriverError) WithField(key string, value interface{}) *DriverError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// WithCause добавляет исходную ошибку
func (e *DriverError) WithCause(cause error) *DriverError {
	e.Cause = cause
	return e
}

// NewDriverError создает ошибку
func NewDriverError(code, message string, category ErrorCategory, severity ErrorSeverity) *DriverError {
	return &DriverError{
		Code:      code,
		Message:   message,
		Category:  category,
		Severity:  severity,
		Timestamp: time.Now(),
	}
}

func ifaceError(iface, code, message string, category ErrorCategory, severity ErrorSeverity) *DriverError {
	e := NewDriverError(code, message, category, severity)
	e.Interface = iface
	return e
}

// ErrNoFreeInterface нет свободного интерфейса для набора
func ErrNoFreeInterface(selector string) *DriverError {
	return NewDriverError("NO_FREE_INTERFACE", fmt.Sprintf("нет свободного интерфейса для %q", selector),
		ErrorCategoryResource, ErrorSeverityWarning).WithField("selector", selector)
}

// ErrNoDestination пустой номер без флагов b/o
func ErrNoDestination(dial string) *DriverError {
	return NewDriverError("NO_DESTINATION", "не указан набираемый номер",
		ErrorCategoryValidation, ErrorSeverityWarning).WithField("dial", dial)
}

// ErrBadDialString строка набора не разобрана
func ErrBadDialString(dial, reason string) *DriverError {
	return NewDriverError("BAD_DIAL_STRING", fmt.Sprintf("строка набора %q: %s", dial, reason),
		ErrorCategoryValidation, ErrorSeverityWarning)
}

// ErrAlreadyOnHold повторный HOLD
func ErrAlreadyOnHold(iface string) *DriverError {
	return ifaceError(iface, "ALREADY_ON_HOLD", "вызов уже на удержании", ErrorCategoryState, ErrorSeverityWarning)
}

// ErrNotOnHold вызов не на удержании
func ErrNotOnHold(iface string) *DriverError {
	return ifaceError(iface, "NOT_ON_HOLD", "вызов не на удержании", ErrorCategoryState, ErrorSeverityWarning)
}

// ErrServiceNotSupported контроллер не поддерживает услугу
func ErrServiceNotSupported(iface, service string) *DriverError {
	return ifaceError(iface, "SERVICE_NOT_SUPPORTED", fmt.Sprintf("услуга %s не поддерживается", service),
		ErrorCategoryResource, ErrorSeverityWarning).WithField("service", service)
}

// ErrWaitTimeout ожидание события истекло
func ErrWaitTimeout(iface, event string, timeout time.Duration) *DriverError {
	e := ifaceError(iface, "WAIT_TIMEOUT", fmt.Sprintf("нет %s за %v", event, timeout), ErrorCategoryTimeout, ErrorSeverityWarning)
	e.Retryable = true
	return e.WithField("event", event)
}

// ErrApplicationInvalid стек CAPI отозвал ApplID
func ErrApplicationInvalid(cause error) *DriverError {
	return NewDriverError("APPLICATION_INVALID", "стек CAPI больше не принимает приложение, требуется перезапуск",
		ErrorCategoryFatal, ErrorSeverityCritical).WithCause(cause)
}

// ErrInvalidState действие недопустимо в состоянии вызова
func ErrInvalidState(iface, op string, state fmt.Stringer) *DriverError {
	return ifaceError(iface, "INVALID_STATE", fmt.Sprintf("%s невозможно в состоянии %s", op, state),
		ErrorCategoryState, ErrorSeverityWarning).WithField("operation", op)
}

// ErrReloadNotSupported перезагрузка конфигурации не поддерживается
func ErrReloadNotSupported() *DriverError {
	return NewDriverError("RELOAD_NOT_SUPPORTED", "перезагрузка конфигурации не поддерживается",
		ErrorCategoryConfig, ErrorSeverityWarning)
}

// ErrRequestFailed запрос не отправлен или отклонен стеком
func ErrRequestFailed(iface, request string, cause error) *DriverError {
	return ifaceError(iface, "REQUEST_FAILED", request+" не выполнен", ErrorCategoryProtocol, ErrorSeverityError).WithCause(cause)
}

// ErrUnknownChannel канал не принадлежит драйверу
func ErrUnknownChannel(name string) *DriverError {
	return NewDriverError("UNKNOWN_CHANNEL", fmt.Sprintf("канал %s не найден", name),
		ErrorCategoryState, ErrorSeverityWarning)
}

// ErrFaxFailed сеанс факса завершился с ошибкой T.30 или B-протокола
func ErrFaxFailed(iface string, reason capi.Info) *DriverError {
	return ifaceError(iface, "FAX_FAILED", fmt.Sprintf("факс не передан: %s", reason), ErrorCategoryProtocol, ErrorSeverityWarning).
		WithField("reason", fmt.Sprintf("0x%04x", uint16(reason)))
}

// IsTimeout ошибка таймаута
func IsTimeout(err error) bool {
	var de *DriverError
	return errors.As(err, &de) && de.Category == ErrorCategoryTimeout
}

// IsFatal ошибка требует перезапуска драйвера
func IsFatal(err error) bool {
	var de *DriverError
	return errors.As(err, &de) && de.Category == ErrorCategoryFatal
}
