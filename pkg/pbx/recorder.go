package pbx

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type recChannel struct {
	name string
	id   string
}

func (c *recChannel) Name() string     { return c.name }
func (c *recChannel) UniqueID() string { return c.id }

// ChannelEvent запись о действии над каналом
type ChannelEvent struct {
	Channel string
	Kind    string
	Value   string
}

// DialplanStart запуск диалплана
type DialplanStart struct {
	Channel  Channel
	Context  string
	Exten    string
	Priority int
}

// Recorder реализация Host в памяти: план набора задается шаблонами,
// все действия записываются. Используется в тестах и в режиме --dump.
type Recorder struct {
	mu         sync.Mutex
	seq        atomic.Int64
	extensions map[string][]string
	vars       map[string]map[string]string
	states     map[string]ChannelState
	events     []ChannelEvent
	frames     map[string][]Frame
	starts     []DialplanStart
	destroyed  map[string]bool
	notify     chan struct{}

	// AllocateErr если задан, AllocateChannel возвращает ошибку
	AllocateErr error
	// OnAllocate вызывается из AllocateChannel до создания канала
	OnAllocate func(CallInfo)
}

// NewRecorder создает пустой host
func NewRecorder() *Recorder {
	return &Recorder{
		extensions: make(map[string][]string),
		vars:       make(map[string]map[string]string),
		states:     make(map[string]ChannelState),
		frames:     make(map[string][]Frame),
		destroyed:  make(map[string]bool),
		notify:     make(chan struct{}, 1),
	}
}

// AddExtension добавляет номер в контекст. Шаблон с "_" в начале
// сопоставляется как префикс с точкой ("_47." совпадает с 47xx).
func (r *Recorder) AddExtension(context, exten string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extensions[context] = append(r.extensions[context], exten)
}

func matchExten(pattern, exten string) (exact, more bool) {
	if !strings.HasPrefix(pattern, "_") {
		return pattern == exten, strings.HasPrefix(pattern, exten) && len(pattern) > len(exten)
	}
	p := strings.TrimPrefix(pattern, "_")
	if strings.HasSuffix(p, ".") {
		prefix := strings.TrimSuffix(p, ".")
		if strings.HasPrefix(exten, prefix) && len(exten) > len(prefix) {
			return true, true
		}
		return false, strings.HasPrefix(prefix, exten)
	}
	return p == exten, strings.HasPrefix(p, exten) && len(p) > len(exten)
}

func (r *Recorder) record(ch Channel, kind, value string) {
	name := ""
	if ch != nil {
		name = ch.Name()
	}
	r.events = append(r.events, ChannelEvent{Channel: name, Kind: kind, Value: value})
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// AllocateChannel создает канал CAPI/<interface>/<exten>-<n>
func (r *Recorder) AllocateChannel(info CallInfo) (Channel, error) {
	if r.OnAllocate != nil {
		r.OnAllocate(info)
	}
	if r.AllocateErr != nil {
		return nil, r.AllocateErr
	}
	n := r.seq.Add(1)
	ch := &recChannel{
		name: fmt.Sprintf("CAPI/%s/%s-%x", info.Interface, info.Exten, n),
		id:   fmt.Sprintf("%d.%d", time.Now().Unix(), n),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vars[ch.name] = make(map[string]string)
	r.record(ch, "allocate", info.Exten)
	return ch, nil
}

func (r *Recorder) DestroyChannel(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed[ch.Name()] = true
	r.record(ch, "destroy", "")
}

func (r *Recorder) QueueControl(ch Channel, c Control) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(ch, "control", c.String())
}

func (r *Recorder) QueueFrame(ch Channel, f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames[ch.Name()] = append(r.frames[ch.Name()], f)
	if f.Kind == FrameDTMF {
		r.record(ch, "dtmf", string(f.Digit))
	}
}

func (r *Recorder) SetChannelState(ch Channel, s ChannelState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[ch.Name()] = s
	r.record(ch, "state", s.String())
}

func (r *Recorder) Variable(ch Channel, name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vars[ch.Name()][name]
}

func (r *Recorder) SetVariable(ch Channel, name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vars := r.vars[ch.Name()]
	if vars == nil {
		vars = make(map[string]string)
		r.vars[ch.Name()] = vars
	}
	vars[name] = value
}

func (r *Recorder) ExtensionExists(context, exten, _ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.extensions[context] {
		if exact, _ := matchExten(p, exten); exact {
			return true
		}
	}
	return false
}

func (r *Recorder) CanMatchMore(context, exten, _ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.extensions[context] {
		if _, more := matchExten(p, exten); more {
			return true
		}
	}
	return false
}

func (r *Recorder) StartDialplan(ch Channel, context, exten string, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, DialplanStart{Channel: ch, Context: context, Exten: exten, Priority: priority})
	r.record(ch, "dialplan", context+"/"+exten)
	return nil
}

// Starts записанные запуски диалплана
func (r *Recorder) Starts() []DialplanStart {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DialplanStart(nil), r.starts...)
}

// Events все записанные события
func (r *Recorder) Events() []ChannelEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChannelEvent(nil), r.events...)
}

// Controls управляющие кадры канала по порядку
func (r *Recorder) Controls(ch Channel) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Kind == "control" && e.Channel == ch.Name() {
			out = append(out, e.Value)
		}
	}
	return out
}

// Frames кадры, полученные каналом
func (r *Recorder) Frames(ch Channel) []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames[ch.Name()]...)
}

// State последнее установленное состояние канала
func (r *Recorder) State(ch Channel) ChannelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[ch.Name()]
}

// Destroyed был ли канал уничтожен драйвером
func (r *Recorder) Destroyed(ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed[ch.Name()]
}

// WaitEvent ждет событие kind на любом канале
func (r *Recorder) WaitEvent(kind, value string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		for _, e := range r.events {
			if e.Kind == kind && (value == "" || e.Value == value) {
				r.mu.Unlock()
				return true
			}
		}
		r.mu.Unlock()
		select {
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			return false
		}
	}
}

// NewTestChannel канал, созданный вне драйвера (исходящие вызовы из АТС)
func NewTestChannel(name string) Channel {
	return &recChannel{name: name, id: name}
}
