package driver

import (
	"context"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/pbx"
	"github.com/arzzra/isdn_capi/pkg/registry"
	"github.com/arzzra/isdn_capi/pkg/supplementary"
)

// ChatJoin добавляет вызов в комнату room после подъема его B3. Плечи
// соединяются через line interconnect; участник, потерявший B3,
// подключается снова при следующем CONNECT_B3_ACTIVE_IND.
func (d *Driver) ChatJoin(ctx context.Context, ch pbx.Channel, room string) (int, error) {
	i, err := d.ifaceFor(ch)
	if err != nil {
		return 0, err
	}
	if !d.profile(i).Supports(capi.ProfileLineInterc) {
		return 0, ErrServiceNotSupported(i.String(), "LINE INTERCONNECT")
	}
	if err := d.waitB3Up(ctx, i); err != nil {
		return 0, err
	}
	i.Lock()
	number := d.rooms.Join(room, ch.Name(), i.PLCI())
	i.RoomNumber = number
	d.rooms.Update(ch.Name(), i.PLCI(), i.Isdn.Has(callstate.B3Up))
	d.ifaceLogger(i).Info(ctx, "chat join", logging.String("room", room), logging.Int("room_number", number))
	i.Unlock()

	d.applyMixer(ctx, d.rooms.Plan(number))
	return number, nil
}

// ChatLeave выводит вызов из комнаты
func (d *Driver) ChatLeave(ctx context.Context, ch pbx.Channel) error {
	i, err := d.ifaceFor(ch)
	if err != nil {
		return err
	}
	i.Lock()
	defer i.Unlock()
	d.leaveRoom(ctx, i)
	return nil
}

// leaveRoom разъединяет плечо с комнатой. Вызывается под блокировкой интерфейса.
func (d *Driver) leaveRoom(ctx context.Context, i *registry.Interface) {
	if i.RoomNumber == 0 || i.Owner == nil {
		return
	}
	number, actions := d.rooms.Leave(i.Owner.Name())
	i.RoomNumber = 0
	i.Isdn = i.Isdn.Without(callstate.LineInterconnect)
	d.applyMixer(ctx, actions)
	// оставшиеся участники соединяются заново
	d.applyMixer(ctx, d.rooms.Plan(number))
}

// applyMixer отправляет FACILITY_REQ line interconnect по плану.
// Блокировки интерфейсов не берет.
func (d *Driver) applyMixer(ctx context.Context, actions []supplementary.MixerAction) {
	for _, a := range actions {
		req, err := a.Request()
		if err == nil {
			_, err = d.sendRaw(capi.FacilityReq, a.PLCI, req)
		}
		if err != nil {
			d.logger.LogError(ctx, err, "mixer request failed", logging.Hex("plci", a.PLCI))
			continue
		}
		d.logger.Debug(ctx, "mixer",
			logging.Hex("plci", a.PLCI),
			logging.Int("peers", len(a.Peers)),
			logging.Bool("connect", a.Connect))
	}
}
