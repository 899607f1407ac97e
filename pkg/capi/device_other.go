//go:build !linux

package capi

import (
	"context"
	"errors"
	"time"
)

// DefaultDevicePath символьное устройство ядра
const DefaultDevicePath = "/dev/capi20"

var errNoDevice = errors.New("capi: /dev/capi20 is only available on linux")

// Device заглушка для платформ без capi20
type Device struct{}

// OpenDevice всегда возвращает ошибку вне linux
func OpenDevice(path string) (*Device, error) { return nil, errNoDevice }

func (d *Device) Register(p RegisterParams) (uint16, error) { return 0, errNoDevice }
func (d *Device) Profile(controller uint8) (Profile, error) { return Profile{}, errNoDevice }
func (d *Device) Put(m *Message) error                     { return errNoDevice }
func (d *Device) Close() error                             { return nil }
func (d *Device) Get(ctx context.Context, timeout time.Duration) (*Message, error) {
	return nil, errNoDevice
}
