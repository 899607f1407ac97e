// Package capitest содержит поддельный стек CAPI для тестов драйвера.
package capitest

import (
	"context"
	"sync"
	"time"

	"github.com/arzzra/isdn_capi/pkg/capi"
)

// FakeStack реализует capi.Transport в памяти.
// Входящие сообщения подаются через Inject, отправленные драйвером
// сохраняются и доступны через Sent.
type FakeStack struct {
	mu       sync.Mutex
	appID    uint16
	in       chan *capi.Message
	sent     []*capi.Message
	notify   chan struct{}
	profiles map[uint8]capi.Profile
	closed   bool
	number   uint16

	// PutErr если задан, возвращается из Put
	PutErr error
}

// New создает стек с одним контроллером на 2 B-канала
func New() *FakeStack {
	return &FakeStack{
		in:     make(chan *capi.Message, 256),
		notify: make(chan struct{}, 1),
		profiles: map[uint8]capi.Profile{
			0: {Controllers: 1},
			1: {
				Controllers:   1,
				BChannels:     2,
				GlobalOptions: capi.ProfileInternal | capi.ProfileDTMF | capi.ProfileSupplServ | capi.ProfileLineInterc | capi.ProfileEchoCancel,
			},
		},
	}
}

// Register выдает ApplID 1
func (f *FakeStack) Register(p capi.RegisterParams) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appID = 1
	return f.appID, nil
}

// Put сохраняет копию отправленного сообщения
func (f *FakeStack) Put(m *capi.Message) error {
	f.mu.Lock()
	if f.PutErr != nil {
		err := f.PutErr
		f.mu.Unlock()
		return err
	}
	cp := *m
	cp.Params = append([]byte(nil), m.Params...)
	cp.Data = append([]byte(nil), m.Data...)
	f.sent = append(f.sent, &cp)
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
	return nil
}

// Get отдает следующее введенное сообщение
func (f *FakeStack) Get(ctx context.Context, timeout time.Duration) (*capi.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-f.in:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, capi.ErrQueueEmpty
	}
}

// Profile возвращает заданный профиль
func (f *FakeStack) Profile(controller uint8) (capi.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[controller]
	if !ok {
		return capi.Profile{}, &capi.Error{Info: capi.InfoIllegalIdentifier, Op: "profile"}
	}
	return p, nil
}

// SetProfile задает профиль контроллера
func (f *FakeStack) SetProfile(controller uint8, p capi.Profile) {
	f.mu.Lock()
	f.profiles[controller] = p
	f.mu.Unlock()
}

// Close помечает стек закрытым
func (f *FakeStack) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed был ли вызван Close
func (f *FakeStack) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Inject ставит сообщение в очередь для Get
func (f *FakeStack) Inject(m *capi.Message) {
	f.in <- m
}

// Sent копия списка отправленных сообщений
func (f *FakeStack) Sent() []*capi.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*capi.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentKinds виды отправленных сообщений по порядку
func (f *FakeStack) SentKinds() []capi.Kind {
	sent := f.Sent()
	kinds := make([]capi.Kind, len(sent))
	for i, m := range sent {
		kinds[i] = m.Kind()
	}
	return kinds
}

// SentOf отправленные сообщения вида kind
func (f *FakeStack) SentOf(kind capi.Kind) []*capi.Message {
	var out []*capi.Message
	for _, m := range f.Sent() {
		if m.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

// LastSent последнее отправленное сообщение вида kind или nil
func (f *FakeStack) LastSent(kind capi.Kind) *capi.Message {
	msgs := f.SentOf(kind)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// WaitSent ждет, пока будет отправлено сообщение вида kind
func (f *FakeStack) WaitSent(kind capi.Kind, timeout time.Duration) *capi.Message {
	deadline := time.Now().Add(timeout)
	for {
		if m := f.LastSent(kind); m != nil {
			return m
		}
		left := time.Until(deadline)
		if left <= 0 {
			return nil
		}
		select {
		case <-f.notify:
		case <-time.After(left):
		}
	}
}

// ClearSent забывает отправленные сообщения
func (f *FakeStack) ClearSent() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

func (f *FakeStack) nextNumber() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.number++
	return f.number
}
