package capi

import "sync"

// MessageNumbers выдает номера корреляции запросов.
// Номер 16-битный, монотонно растет и при переполнении пропускает 0:
// ноль означает "нет ожидающего запроса".
type MessageNumbers struct {
	mu   sync.Mutex
	last uint16
}

// Next возвращает следующий ненулевой номер
func (n *MessageNumbers) Next() uint16 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last++
	if n.last == 0 {
		n.last = 1
	}
	return n.last
}

// Last последний выданный номер
func (n *MessageNumbers) Last() uint16 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

// Reset устанавливает счетчик так, что следующим будет start+1
func (n *MessageNumbers) Reset(start uint16) {
	n.mu.Lock()
	n.last = start
	n.mu.Unlock()
}
