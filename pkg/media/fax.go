package media

import (
	"errors"
	"io"
	"sync"
)

// FaxResult итог сеанса T.30
type FaxResult struct {
	Pages      uint16
	Rate       uint16
	Resolution uint16
	RemoteID   string
	Bytes      int64
}

// FaxTransfer поток SFF данных между B-каналом и приложением. Прием пишет
// блоки DATA_B3_IND в io.Writer, передача читает блоки DATA_B3_REQ из
// io.Reader. Сеанс завершается один раз через Finish.
type FaxTransfer struct {
	w io.Writer
	r io.Reader

	mu     sync.Mutex
	eof    bool
	done   bool
	err    error
	result FaxResult
}

// NewFaxReceive сеанс приема в w
func NewFaxReceive(w io.Writer) *FaxTransfer {
	return &FaxTransfer{w: w}
}

// NewFaxSend сеанс передачи из r
func NewFaxSend(r io.Reader) *FaxTransfer {
	return &FaxTransfer{r: r}
}

// Sending сеанс передачи
func (f *FaxTransfer) Sending() bool { return f.r != nil }

// Sink записывает принятый блок
func (f *FaxTransfer) Sink(data []byte) error {
	if f.w == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return nil
	}
	n, err := f.w.Write(data)
	f.result.Bytes += int64(n)
	if err != nil {
		return WrapMediaError(ErrorCodeFaxIO, "", "запись принятого факса", err)
	}
	return nil
}

// NextBlock следующий блок до max байт. После конца данных возвращает nil.
func (f *FaxTransfer) NextBlock(max int) ([]byte, error) {
	if f.r == nil {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eof || f.done {
		return nil, nil
	}
	buf := make([]byte, max)
	n, err := io.ReadFull(f.r, buf)
	f.result.Bytes += int64(n)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		f.eof = true
	case err != nil:
		return nil, WrapMediaError(ErrorCodeFaxIO, "", "чтение факса для передачи", err)
	}
	if n == 0 {
		return nil, nil
	}
	return buf[:n], nil
}

// EOF данные для передачи закончились
func (f *FaxTransfer) EOF() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eof
}

// Finish завершает сеанс. Повторный вызов ничего не меняет.
func (f *FaxTransfer) Finish(res FaxResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
	res.Bytes = f.result.Bytes
	f.result = res
	f.err = err
	f.done = true
}

// Done сеанс завершен
func (f *FaxTransfer) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Result итог сеанса и ошибка, с которой он завершился
func (f *FaxTransfer) Result() (FaxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}
