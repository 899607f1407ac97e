package driver

import (
	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/registry"
)

// LineStatus состояние контроллера для оператора
type LineStatus struct {
	Controller uint8
	Total      int
	Free       int
	Services   capi.ServiceSet
	Ready      bool
	Used       int
}

// LineStatus свободные и занятые B-каналы по контроллерам
func (d *Driver) LineStatus() []LineStatus {
	used := make(map[uint8]int)
	for _, i := range d.reg.Interfaces() {
		if i.Used() {
			used[i.Controller]++
		}
	}
	var out []LineStatus
	for _, c := range d.reg.Controllers() {
		out = append(out, LineStatus{
			Controller: c.Number,
			Total:      c.Total(),
			Free:       c.Free(),
			Services:   c.Services(),
			Ready:      c.Ready(),
			Used:       used[c.Number],
		})
	}
	return out
}

// ChannelDump снимок всех интерфейсов
func (d *Driver) ChannelDump() []registry.Snapshot {
	ifaces := d.reg.Interfaces()
	out := make([]registry.Snapshot, 0, len(ifaces))
	for _, i := range ifaces {
		out = append(out, i.Snapshot())
	}
	return out
}

// SetDebug включает отладочное логирование
func (d *Driver) SetDebug(on bool) {
	if on {
		d.logger.SetLevel(logging.LogLevelDebug)
		return
	}
	d.logger.SetLevel(logging.LogLevelInfo)
}

// Reload перечитывание конфигурации на ходу не поддерживается
func (d *Driver) Reload() error {
	return ErrReloadNotSupported()
}
