package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/segmentio/ksuid"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/config"
	"github.com/arzzra/isdn_capi/pkg/media"
	"github.com/arzzra/isdn_capi/pkg/pbx"
	"github.com/arzzra/isdn_capi/pkg/waiter"
)

// PLCIInvalid значение PLCI после DISCONNECT_IND. Никогда не совпадает
// с настоящим PLCI (16 бит), поэтому поздние сообщения не находят интерфейс.
const PLCIInvalid uint32 = 0xffffffff

// ChannelType тип интерфейса
type ChannelType int

const (
	ChannelB ChannelType = iota
	ChannelD
	ChannelNull
)

func (t ChannelType) String() string {
	switch t {
	case ChannelD:
		return "D"
	case ChannelNull:
		return "NULL"
	default:
		return "B"
	}
}

// Interface управляющий блок одного канала линии. Создается при загрузке
// конфигурации и переиспользуется между вызовами.
//
// Поля вызова защищены Lock. PLCI и номер ожидаемого сообщения доступны
// также реестру для поиска без блокировки интерфейса.
type Interface struct {
	Name       string
	Index      int
	Type       ChannelType
	Controller uint8
	Line       config.Line

	mu     sync.Mutex
	used   atomic.Bool
	plci   atomic.Uint32
	msgNum atomic.Uint32

	NCCI       uint32
	OnHoldPLCI uint32

	// ConnectIndNumber номер CONNECT_IND, ответ на который отложен до решения
	ConnectIndNumber uint16

	State      *callstate.Machine
	Isdn       callstate.IsdnState
	Outgoing   bool
	Owner      pbx.Channel
	CallID     string
	CID        string
	DNID       string
	Cause      int
	B3Policy   callstate.B3Policy
	FaxActive  bool
	Overlap    bool
	DataHandle uint16
	TxQueue    [][]byte
	TxPending  int
	RoomNumber int

	Waiter waiter.Slot
	Media  *media.Adapter
	Pipe   *media.Pipe

	// Fax сеанс T.30, пока FaxActive
	Fax *media.FaxTransfer
}

func newInterface(line config.Line, typ ChannelType, index int) *Interface {
	i := &Interface{
		Name:       line.Name,
		Index:      index,
		Type:       typ,
		Controller: line.Controller,
		Line:       line,
		State:      callstate.NewMachine(),
		B3Policy:   line.B3Policy,
	}
	i.Media = media.NewAdapter(media.AdapterConfig{
		Interface:   i.String(),
		Law:         line.Law,
		EchoSquelch: line.EchoSquelch,
		RTP:         line.RTP,
	})
	return i
}

func (i *Interface) String() string {
	return fmt.Sprintf("%s#%d", i.Name, i.Index)
}

// Lock блокировка интерфейса
func (i *Interface) Lock() { i.mu.Lock() }

// Unlock снимает блокировку интерфейса
func (i *Interface) Unlock() { i.mu.Unlock() }

// Used занят ли интерфейс вызовом
func (i *Interface) Used() bool { return i.used.Load() }

// PLCI текущий PLCI (0 до CONNECT_CONF, PLCIInvalid после DISCONNECT_IND)
func (i *Interface) PLCI() uint32 { return i.plci.Load() }

// HasLivePLCI PLCI назначен и еще не инвалидирован
func (i *Interface) HasLivePLCI() bool {
	p := i.PLCI()
	return p != 0 && p != PLCIInvalid
}

// MessageNumber номер последнего запроса, ожидающего подтверждения
func (i *Interface) MessageNumber() uint16 { return uint16(i.msgNum.Load()) }

// SetMessageNumber запоминает номер запроса. Вызывается под Lock.
func (i *Interface) SetMessageNumber(n uint16) { i.msgNum.Store(uint32(n)) }

// IsIncoming вызов входящий
func (i *Interface) IsIncoming() bool { return !i.Outgoing }

// Snapshot копия состояния для интроспекции
type Snapshot struct {
	Name       string
	Type       ChannelType
	Controller uint8
	Used       bool
	PLCI       uint32
	NCCI       uint32
	OnHoldPLCI uint32
	State      callstate.State
	Isdn       callstate.IsdnState
	Outgoing   bool
	Owner      string
	CallID     string
	CID        string
	DNID       string
	Cause      int
	Media      media.AdapterStatistics
}

// Snapshot снимает состояние под блокировкой интерфейса
func (i *Interface) Snapshot() Snapshot {
	i.Lock()
	defer i.Unlock()
	s := Snapshot{
		Name:       i.String(),
		Type:       i.Type,
		Controller: i.Controller,
		Used:       i.Used(),
		PLCI:       i.PLCI(),
		NCCI:       i.NCCI,
		OnHoldPLCI: i.OnHoldPLCI,
		State:      i.State.Current(),
		Isdn:       i.Isdn,
		Outgoing:   i.Outgoing,
		CallID:     i.CallID,
		CID:        i.CID,
		DNID:       i.DNID,
		Cause:      i.Cause,
		Media:      i.Media.Statistics(),
	}
	if i.Owner != nil {
		s.Owner = i.Owner.Name()
	}
	return s
}

// BeginCall готовит интерфейс к новому вызову: идентификатор вызова и
// очередь кадров. Вызывается под Lock после захвата.
func (i *Interface) BeginCall(outgoing bool) {
	i.resetCall()
	i.Outgoing = outgoing
	i.CallID = ksuid.New().String()
	i.Pipe = media.NewPipe(media.DefaultPipeDepth)
}

// resetCall сбрасывает поля вызова. Вызывается под Lock.
func (i *Interface) resetCall() {
	i.NCCI = 0
	i.OnHoldPLCI = 0
	i.ConnectIndNumber = 0
	i.State.Force(callstate.Disconnected, "cleanup")
	i.Isdn = 0
	i.Outgoing = false
	i.Owner = nil
	i.CallID = ""
	i.CID = ""
	i.DNID = ""
	i.Cause = 0
	i.B3Policy = i.Line.B3Policy
	i.FaxActive = false
	if i.Fax != nil {
		i.Fax.Finish(media.FaxResult{}, ErrCallReleased)
		i.Fax = nil
	}
	i.Overlap = false
	i.TxQueue = nil
	i.TxPending = 0
	i.RoomNumber = 0
	i.msgNum.Store(0)
	if i.Pipe != nil {
		i.Pipe.Close()
		i.Pipe = nil
	}
}
