package frame

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyBase64RoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		[]byte("hi"),
		make([]byte, 1<<20), // 1 MiB
	}
	for _, b := range cases {
		encoded := EncodeBody(b)
		decoded, err := DecodeBody(encoded)
		require.NoError(t, err)
		assert.Equal(t, len(b), len(decoded))
	}
	assert.Equal(t, "", EncodeBody(nil))
	assert.Equal(t, "", EncodeBody([]byte{}))
}

func TestSanitizeHeadersStripsHopByHop(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "text/plain")
	h.Set("Connection", "keep-alive")
	h.Set("Proxy-Connection", "Keep-Alive")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Upgrade", "websocket")
	h.Set("TE", "trailers")
	h.Set("Trailers", "x")
	h.Set("Keep-Alive", "timeout=5")

	out := SanitizeHeaders(h)
	assert.Equal(t, "text/plain", out.Get("Content-Type"))
	for _, k := range hopByHop {
		assert.Empty(t, out.Get(k))
	}
}

func TestMarshalUnmarshalFrame(t *testing.T) {
	f := Frame{
		Type:       TypeHTTPResponse,
		ID:         "abc",
		Status:     200,
		BodyBase64: EncodeBody([]byte("hi")),
	}
	data, err := Marshal(f)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}
