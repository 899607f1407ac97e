package media

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arzzra/isdn_capi/pkg/pbx"
)

// DefaultPipeDepth число кадров в очереди интерфейса
const DefaultPipeDepth = 64

// Pipe очередь кадров от потока монитора к циклу чтения АТС.
// Запись не блокирует монитор: при переполнении кадр отбрасывается.
type Pipe struct {
	frames  chan pbx.Frame
	closeMu sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewPipe создает очередь глубиной depth
func NewPipe(depth int) *Pipe {
	if depth <= 0 {
		depth = DefaultPipeDepth
	}
	return &Pipe{frames: make(chan pbx.Frame, depth)}
}

// Write ставит кадр в очередь; false если кадр отброшен
func (p *Pipe) Write(f pbx.Frame) bool {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.frames <- f:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Read ждет следующий кадр
func (p *Pipe) Read(ctx context.Context) (pbx.Frame, error) {
	select {
	case f, ok := <-p.frames:
		if !ok {
			return pbx.Frame{}, ErrPipeClosed
		}
		return f, nil
	case <-ctx.Done():
		return pbx.Frame{}, ctx.Err()
	}
}

// Len число кадров в очереди
func (p *Pipe) Len() int { return len(p.frames) }

// Dropped число отброшенных кадров
func (p *Pipe) Dropped() uint64 { return p.dropped.Load() }

// Close закрывает очередь; оставшиеся кадры можно дочитать
func (p *Pipe) Close() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.frames)
	}
}
