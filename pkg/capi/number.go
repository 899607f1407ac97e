package capi

// Type of number (Q.931), биты 4..6 первого октета
const (
	TONUnknown       = 0
	TONInternational = 1
	TONNational      = 2
	TONSubscriber    = 4
)

// Presentation indicator
const (
	PresAllowed    = 0x00
	PresRestricted = 0x20
	PresNotAvail   = 0x40
)

// CalledPartyNumber кодирует called party number: тип/план + цифры
func CalledPartyNumber(digits string) []byte {
	if digits == "" {
		return nil
	}
	b := make([]byte, 0, len(digits)+1)
	b = append(b, 0x80|TONUnknown<<4|0x01)
	return append(b, digits...)
}

// CallingPartyNumber кодирует calling party number с presentation/screening
func CallingPartyNumber(digits string, presentation byte) []byte {
	if digits == "" && presentation == PresAllowed {
		return nil
	}
	b := make([]byte, 0, len(digits)+2)
	b = append(b, TONUnknown<<4|0x01, 0x80|presentation)
	return append(b, digits...)
}

// PartyNumber разобранный номер из IE
type PartyNumber struct {
	TypeOfNumber int
	Plan         int
	Presentation byte
	Screening    byte
	Digits       string
}

// ParseCalledPartyNumber разбирает called party number
func ParseCalledPartyNumber(b []byte) PartyNumber {
	if len(b) == 0 {
		return PartyNumber{}
	}
	return PartyNumber{
		TypeOfNumber: int(b[0]>>4) & 0x07,
		Plan:         int(b[0]) & 0x0f,
		Digits:       string(b[1:]),
	}
}

// ParseCallingPartyNumber разбирает calling/redirecting number.
// Если бит расширения первого октета сброшен, второй октет несет presentation.
func ParseCallingPartyNumber(b []byte) PartyNumber {
	if len(b) == 0 {
		return PartyNumber{}
	}
	p := PartyNumber{
		TypeOfNumber: int(b[0]>>4) & 0x07,
		Plan:         int(b[0]) & 0x0f,
	}
	rest := b[1:]
	if b[0]&0x80 == 0 && len(rest) > 0 {
		p.Presentation = rest[0] & 0x60
		p.Screening = rest[0] & 0x03
		rest = rest[1:]
	}
	p.Digits = string(rest)
	return p
}

// WithPrefix добавляет национальный или международный префикс по типу номера
func (p PartyNumber) WithPrefix(national, international string) string {
	if p.Digits == "" {
		return ""
	}
	switch p.TypeOfNumber {
	case TONInternational:
		return international + p.Digits
	case TONNational:
		return national + p.Digits
	}
	return p.Digits
}
