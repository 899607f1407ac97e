package media

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("диск заполнен") }

func TestFaxTransferSend(t *testing.T) {
	f := NewFaxSend(strings.NewReader("abcde"))
	require.True(t, f.Sending())

	var blocks []string
	for {
		b, err := f.NextBlock(2)
		require.NoError(t, err)
		if b == nil {
			break
		}
		blocks = append(blocks, string(b))
	}
	assert.Equal(t, []string{"ab", "cd", "e"}, blocks)
	assert.True(t, f.EOF())
	assert.False(t, f.Done(), "конец данных еще не конец сеанса")

	f.Finish(FaxResult{Pages: 1, Rate: 9600}, nil)
	f.Finish(FaxResult{Pages: 7}, errors.New("повтор"))
	res, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), res.Pages, "сеанс завершается один раз")
	assert.Equal(t, int64(5), res.Bytes)
}

func TestFaxTransferReceive(t *testing.T) {
	tests := []struct {
		name    string
		w       func() (*bytes.Buffer, *FaxTransfer)
		wantErr bool
	}{
		{
			name: "запись в буфер",
			w: func() (*bytes.Buffer, *FaxTransfer) {
				var buf bytes.Buffer
				return &buf, NewFaxReceive(&buf)
			},
		},
		{
			name: "ошибка записи",
			w: func() (*bytes.Buffer, *FaxTransfer) {
				return nil, NewFaxReceive(failingWriter{})
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, f := tt.w()
			assert.False(t, f.Sending())
			err := f.Sink([]byte("page"))
			if tt.wantErr {
				assert.True(t, HasErrorCode(err, ErrorCodeFaxIO))
				return
			}
			require.NoError(t, err)
			require.NoError(t, f.Sink([]byte("-2")))
			assert.Equal(t, "page-2", buf.String())

			f.Finish(FaxResult{Pages: 2}, nil)
			require.NoError(t, f.Sink([]byte("late")), "после завершения блоки не пишутся")
			assert.Equal(t, "page-2", buf.String())
			res, _ := f.Result()
			assert.Equal(t, int64(6), res.Bytes)
		})
	}
}
