// Package callstate состояние вызова на одном интерфейсе: основной автомат
// (looplab/fsm) и ортогональные флаги isdnstate.
package callstate

import "strings"

// State состояние интерфейса
type State string

const (
	Disconnected   State = "DISCONNECTED"
	ConnectPending State = "CONNECTPENDING"
	Incall         State = "INCALL"
	DID            State = "DID"
	Alerting       State = "ALERTING"
	Answering      State = "ANSWERING"
	Connected      State = "CONNECTED"
	Disconnecting  State = "DISCONNECTING"
	OnHold         State = "ONHOLD"
	PuttingOnHold  State = "PUTTINGONHOLD"
	Retrieving     State = "RETRIEVING"
)

func (s State) String() string { return string(s) }

// IsIdle интерфейс свободен для нового вызова
func (s State) IsIdle() bool { return s == Disconnected }

// IsInbound входящий вызов еще не отвечен
func (s State) IsInbound() bool { return s == Incall || s == DID || s == Alerting }

// IsdnState битовая маска флагов вызова, не зависящих от основного состояния
type IsdnState uint32

const (
	B3Up IsdnState = 1 << iota
	B3Pending
	DTMFActive
	ECActive
	ProgressSent
	Hold
	ECT
	ThreePTY
	LineInterconnect
	PBXStarted
	DisconnectInProgress
	SetupAckSent
)

var isdnStateNames = []struct {
	flag IsdnState
	name string
}{
	{B3Up, "B3_UP"},
	{B3Pending, "B3_PEND"},
	{DTMFActive, "DTMF"},
	{ECActive, "EC"},
	{ProgressSent, "PROGRESS"},
	{Hold, "HOLD"},
	{ECT, "ECT"},
	{ThreePTY, "3PTY"},
	{LineInterconnect, "LI"},
	{PBXStarted, "PBX"},
	{DisconnectInProgress, "DISCONNECT"},
	{SetupAckSent, "SETUP_ACK"},
}

// Has проверяет флаг
func (s IsdnState) Has(f IsdnState) bool { return s&f != 0 }

// With возвращает маску с установленными флагами
func (s IsdnState) With(f IsdnState) IsdnState { return s | f }

// Without возвращает маску со сброшенными флагами
func (s IsdnState) Without(f IsdnState) IsdnState { return s &^ f }

func (s IsdnState) String() string {
	if s == 0 {
		return "-"
	}
	var parts []string
	for _, n := range isdnStateNames {
		if s.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// B3Policy когда поднимать B3 для исходящих вызовов
type B3Policy int

const (
	// B3Never B3 поднимается только после CONNECT_ACTIVE
	B3Never B3Policy = iota
	// B3OnSuccess ранний B3, сохраняется только при успешном соединении
	B3OnSuccess
	// B3Always ранний B3, сохраняется и при отказе (in-band сообщения сети)
	B3Always
)

func (p B3Policy) String() string {
	switch p {
	case B3OnSuccess:
		return "success"
	case B3Always:
		return "always"
	default:
		return "never"
	}
}

// ParseB3Policy разбирает значение b3mode из конфигурации
func ParseB3Policy(s string) (B3Policy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "never", "no":
		return B3Never, true
	case "success", "onsuccess":
		return B3OnSuccess, true
	case "always", "yes":
		return B3Always, true
	}
	return B3Never, false
}
