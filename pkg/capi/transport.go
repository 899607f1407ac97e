package capi

import (
	"context"
	"time"
)

// RegisterParams параметры регистрации приложения в стеке CAPI
type RegisterParams struct {
	Level3Connections uint32
	DataBlocks        uint32
	DataBlockSize     uint32
}

// DefaultRegisterParams параметры по умолчанию: 7 блоков по 2048 байт на соединение
func DefaultRegisterParams(connections int) RegisterParams {
	return RegisterParams{
		Level3Connections: uint32(connections),
		DataBlocks:        7,
		DataBlockSize:     2048,
	}
}

// Transport очередь сообщений стека CAPI
type Transport interface {
	// Register регистрирует приложение и возвращает ApplID
	Register(p RegisterParams) (uint16, error)
	// Put отправляет сообщение в стек
	Put(m *Message) error
	// Get ждет следующее сообщение не дольше timeout.
	// По истечении возвращает ErrQueueEmpty.
	Get(ctx context.Context, timeout time.Duration) (*Message, error)
	// Profile возвращает профиль контроллера (0: число контроллеров)
	Profile(controller uint8) (Profile, error)
	// Close освобождает приложение
	Close() error
}
