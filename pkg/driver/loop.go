package driver

import (
	"context"
	"errors"
	"strconv"

	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/supplementary"
)

// Start регистрирует приложение в стеке и поднимает контроллеры:
// профиль, LISTEN_REQ, запрос supplementary services и их уведомлений.
func (d *Driver) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return nil
	}

	params := capi.DefaultRegisterParams(len(d.reg.Interfaces()))
	if d.general.MaxB3Blocks > 0 {
		params.DataBlocks = uint32(d.general.MaxB3Blocks)
	}
	if d.general.MaxB3Size > 0 {
		params.DataBlockSize = uint32(d.general.MaxB3Size)
	}
	if d.register != nil {
		params = *d.register
	}
	appID, err := d.transport.Register(params)
	if err != nil {
		d.started.Store(false)
		return NewDriverError("REGISTER_FAILED", "регистрация в стеке CAPI", ErrorCategoryFatal, ErrorSeverityCritical).WithCause(err)
	}
	d.appID.Store(uint32(appID))
	d.logger.Info(ctx, "registered with CAPI",
		logging.Int("appl_id", int(appID)),
		logging.Int("connections", int(params.Level3Connections)),
		logging.Int("blocks", int(params.DataBlocks)),
		logging.Int("block_size", int(params.DataBlockSize)))

	for _, c := range d.reg.Controllers() {
		log := d.logger.WithFields(logging.Int("controller", int(c.Number)))
		profile, err := d.transport.Profile(c.Number)
		if err != nil {
			log.LogError(ctx, err, "controller profile unavailable")
			continue
		}
		c.SetProfile(profile)
		d.metrics.FreeChannels(strconv.Itoa(int(c.Number)), c.Free())
		log.Info(ctx, "controller",
			logging.Int("bchannels", int(profile.BChannels)),
			logging.Hex("options", profile.GlobalOptions))

		ctrl := uint32(c.Number)
		if _, err := d.send(capi.ListenReq, ctrl, "dddcc",
			capi.DefaultInfoMask, capi.AllServicesCIP, uint32(0), nil, nil); err != nil {
			return err
		}
		if !profile.Supports(capi.ProfileSupplServ) {
			continue
		}
		for _, build := range []func() ([]byte, error){
			supplementary.GetSupportedServicesRequest,
			func() ([]byte, error) { return supplementary.ListenRequest(supplementary.ListenNotificationMask) },
		} {
			req, err := build()
			if err == nil {
				_, err = d.sendRaw(capi.FacilityReq, ctrl, req)
			}
			if err != nil {
				log.LogError(ctx, err, "supplementary services request failed")
			}
		}
	}
	return nil
}

// Run монитор: забирает сообщения стека по одному и обрабатывает их до
// отмены ctx. Возвращает ошибку, только если работа дальше невозможна
// (стек отверг ApplID); процесс в этом случае нужно перезапустить.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	d.logger.Info(ctx, "monitor started", logging.Duration("poll", d.general.PollInterval))
	defer d.logger.Info(ctx, "monitor stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		m, err := d.transport.Get(ctx, d.general.PollInterval)
		switch {
		case err == nil:
		case errors.Is(err, capi.ErrQueueEmpty):
			continue
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, capi.ErrApplicationInvalid):
			d.logger.Error(ctx, "CAPI stack dropped the application")
			return ErrApplicationInvalid(err)
		default:
			d.logger.LogError(ctx, err, "CAPI get failed")
			continue
		}

		if err := d.HandleMessage(ctx, m); err != nil && IsFatal(err) {
			return err
		}
	}
}

// Close освобождает приложение в стеке
func (d *Driver) Close() error {
	d.started.Store(false)
	if n := d.reg.CountUsed(); n > 0 {
		d.logger.Warn(context.Background(), "closing with active calls", logging.Int("active_calls", n))
	}
	return d.transport.Close()
}
