package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSample(t *testing.T) {
	payload := []byte{16, 128, 235, 128, 0, 0, 255}
	b := EncodeSample(Sample{Key: "camera/frames", Encoding: EncodingOctetStream, Payload: payload})

	got, err := DecodeSample(b)
	require.NoError(t, err)
	assert.Equal(t, "camera/frames", got.Key)
	assert.Equal(t, EncodingOctetStream, got.Encoding)
	assert.Equal(t, payload, got.Payload)

	key, err := decodeKey(b)
	require.NoError(t, err)
	assert.Equal(t, "camera/frames", key)
}

func TestDecodeSample_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "空", data: nil},
		{name: "キー長が実データより長い", data: []byte{10, 'a', 'b'}},
		{name: "空のキー", data: []byte{0, 0}},
		{name: "エンコーディング欠落", data: []byte{1, 'k'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSample(tt.data)
			assert.ErrorIs(t, err, ErrMalformedSample)
		})
	}
}

func TestDecodeSample_EmptyPayload(t *testing.T) {
	b := EncodeSample(Sample{Key: "k", Encoding: ""})
	got, err := DecodeSample(b)
	require.NoError(t, err)
	assert.Equal(t, "k", got.Key)
	assert.Empty(t, got.Encoding)
	assert.Empty(t, got.Payload)
}
