package supplementary

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/isdn_capi/pkg/capi"
)

func TestSupplementaryRequests(t *testing.T) {
	tests := []struct {
		name  string
		build func() ([]byte, error)
		want  []byte
	}{
		{"hold", HoldRequest, []byte{0x03, 0x00, 0x03, 0x02, 0x00, 0x00}},
		{"retrieve", RetrieveRequest, []byte{0x03, 0x00, 0x03, 0x03, 0x00, 0x00}},
		{"ect", func() ([]byte, error) { return ECTRequest(0x0101) }, []byte{0x03, 0x00, 0x07, 0x06, 0x00, 0x04, 0x01, 0x01, 0x00, 0x00}},
		{"ccbs status busy", func() ([]byte, error) { return CCBSStatusResponse(true) }, []byte{0x03, 0x00, 0x05, 0x0e, 0x80, 0x02, 0x01, 0x00}},
		{"echo cancel off", func() ([]byte, error) { return EchoCancelRequest(false) }, []byte{0x08, 0x00, 0x03, 0x02, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.build()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLineInterconnectRequest(t *testing.T) {
	b, err := LineInterconnectRequest([]uint32{0x0201, 0x0301})
	require.NoError(t, err)
	assert.Len(t, b, 29)

	vals, err := capi.Unpack("w(w(d((dd)(dd))))", b)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{
		capi.FacilityLineInterconn, capi.LIConnect, uint32(0),
		uint32(0x0201), uint32(3), uint32(0x0301), uint32(3),
	}, vals)

	_, err = LineInterconnectRequest(nil)
	assert.True(t, errors.Is(err, ErrNoPeers))
	_, err = LineDisconnectRequest(nil)
	assert.True(t, errors.Is(err, ErrNoPeers))
}

func TestDTMFSendRequest(t *testing.T) {
	b, err := DTMFSendRequest("123")
	require.NoError(t, err)
	vals, err := capi.Unpack("w(wwwa())", b)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{capi.FacilityDTMF, capi.DTMFSend, uint16(100), uint16(100), "123"}, vals)
}

func TestCheckHeld(t *testing.T) {
	all := capi.ServiceHoldRetrieve | capi.ServiceECT

	assert.NoError(t, CheckHeld(all, capi.ServiceECT, true))
	assert.True(t, errors.Is(CheckHeld(all, capi.ServiceECT, false), ErrNotOnHold))
	assert.True(t, errors.Is(CheckHeld(all, capi.Service3PTY, true), ErrServiceNotSupported))
	assert.True(t, errors.Is(CheckService(0, capi.ServiceHoldRetrieve), ErrServiceNotSupported))
}
