package registry

import (
	"sync"
	"sync/atomic"

	"github.com/arzzra/isdn_capi/pkg/capi"
)

// Controller состояние контроллера CAPI
type Controller struct {
	Number uint8

	mu       sync.RWMutex
	profile  capi.Profile
	services capi.ServiceSet
	ready    bool

	total int32
	free  atomic.Int32
}

// Profile профиль контроллера
func (c *Controller) Profile() capi.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

// SetProfile сохраняет профиль, число B-каналов задает счетчик свободных
func (c *Controller) SetProfile(p capi.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = p
	c.total = int32(p.BChannels)
	c.free.Store(c.total)
}

// Services поддерживаемые supplementary services
func (c *Controller) Services() capi.ServiceSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.services
}

// SetServices результат GetSupportedServices
func (c *Controller) SetServices(s capi.ServiceSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = s
	c.ready = true
}

// Ready ответ GetSupportedServices получен
func (c *Controller) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Supports сервис поддержан контроллером
func (c *Controller) Supports(s capi.ServiceSet) bool {
	return c.Services().Has(s)
}

// Total число B-каналов
func (c *Controller) Total() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int(c.total)
}

// Free свободные B-каналы
func (c *Controller) Free() int { return int(c.free.Load()) }

// TakeChannel B3 поднят. Вызывается только потоком монитора.
func (c *Controller) TakeChannel() int { return int(c.free.Add(-1)) }

// ReturnChannel B3 разобран. Вызывается только потоком монитора.
func (c *Controller) ReturnChannel() int { return int(c.free.Add(1)) }
