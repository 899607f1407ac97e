//go:build linux

package capi

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultDevicePath символьное устройство ядра
const DefaultDevicePath = "/dev/capi20"

// ioctl коды capi20 (linux/capi.h)
const (
	ioctlRegister   = 0x400c4301
	ioctlGetProfile = 0xc0404309
)

// Device транспорт через /dev/capi20
type Device struct {
	path  string
	fd    int
	appID uint16
	mu    sync.Mutex // сериализует запись
	buf   []byte
}

// OpenDevice открывает устройство CAPI
func OpenDevice(path string) (*Device, error) {
	if path == "" {
		path = DefaultDevicePath
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Device{
		path: path,
		fd:   fd,
		buf:  make([]byte, MaxMessageSize+4096),
	}, nil
}

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) (uintptr, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
	if errno != 0 {
		return 0, errno
	}
	return r, nil
}

// Register выполняет CAPI_REGISTER
func (d *Device) Register(p RegisterParams) (uint16, error) {
	var params [12]byte
	binary.LittleEndian.PutUint32(params[0:], p.Level3Connections)
	binary.LittleEndian.PutUint32(params[4:], p.DataBlocks)
	binary.LittleEndian.PutUint32(params[8:], p.DataBlockSize)
	r, err := d.ioctl(ioctlRegister, unsafe.Pointer(&params[0]))
	if err != nil {
		return 0, fmt.Errorf("CAPI_REGISTER on %s: %w", d.path, err)
	}
	d.appID = uint16(r)
	return d.appID, nil
}

// Profile выполняет CAPI_GET_PROFILE
func (d *Device) Profile(controller uint8) (Profile, error) {
	var buf [128]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(controller))
	if _, err := d.ioctl(ioctlGetProfile, unsafe.Pointer(&buf[0])); err != nil {
		return Profile{}, fmt.Errorf("CAPI_GET_PROFILE %d: %w", controller, err)
	}
	return Profile{
		Controllers:   binary.LittleEndian.Uint16(buf[0:]),
		BChannels:     binary.LittleEndian.Uint16(buf[2:]),
		GlobalOptions: binary.LittleEndian.Uint32(buf[4:]),
		B1Protocols:   binary.LittleEndian.Uint32(buf[8:]),
		B2Protocols:   binary.LittleEndian.Uint32(buf[12:]),
		B3Protocols:   binary.LittleEndian.Uint32(buf[16:]),
	}, nil
}

// Put пишет сообщение в устройство
func (d *Device) Put(m *Message) error {
	if m.AppID == 0 {
		m.AppID = d.appID
	}
	b, err := m.Marshal()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := unix.Write(d.fd, b); err != nil {
		return errnoToInfo("put", err)
	}
	return nil
}

// Get ждет сообщение с ограниченным poll
func (d *Device) Get(ctx context.Context, timeout time.Duration) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, ErrQueueEmpty
		}
		return nil, errnoToInfo("poll", err)
	}
	if n == 0 {
		return nil, ErrQueueEmpty
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return nil, &Error{Info: InfoIllegalAppID, Op: "poll"}
	}
	rn, err := unix.Read(d.fd, d.buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil, ErrQueueEmpty
		}
		return nil, errnoToInfo("get", err)
	}
	return Unmarshal(d.buf[:rn])
}

// Close закрывает устройство, ядро освобождает ApplID
func (d *Device) Close() error {
	return unix.Close(d.fd)
}

func errnoToInfo(op string, err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch errno {
	case unix.EIO, unix.EBADF, unix.ENODEV:
		return &Error{Info: InfoIllegalAppID, Op: op}
	case unix.EAGAIN:
		return &Error{Info: InfoQueueFull, Op: op}
	default:
		return &Error{Info: InfoOSResourceError, Op: op + ": " + errno.Error()}
	}
}
