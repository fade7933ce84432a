package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubscribeFrame(t *testing.T) {
	raw := []byte("SUBSCRIBE\nid:sub-0\ndestination:/topic/inventory\n\n\x00")

	frame, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, CommandSubscribe, frame.Command)
	assert.Equal(t, "sub-0", frame.Header("id"))
	assert.Equal(t, "/topic/inventory", frame.Header("destination"))
	assert.Empty(t, frame.Body)
}

func TestParseFrameWithBody(t *testing.T) {
	raw := []byte("SEND\ndestination:/topic/inventory\n\n{\"sku\":\"A-1\"}\x00")

	frame, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, CommandSend, frame.Command)
	assert.Equal(t, `{"sku":"A-1"}`, string(frame.Body))
}

func TestParseCRLFLineEndings(t *testing.T) {
	raw := []byte("SUBSCRIBE\r\nid:sub-0\r\ndestination:/topic/inventory\r\n\r\n\x00")

	frame, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, CommandSubscribe, frame.Command)
	assert.Equal(t, "sub-0", frame.Header("id"))
	assert.Equal(t, "/topic/inventory", frame.Header("destination"))
	assert.Empty(t, frame.Body)

	withBody, err := Parse([]byte("SEND\r\ndestination:/topic/inventory\r\n\r\nhello\x00"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(withBody.Body))
}

func TestParseRejectsMalformedFrames(t *testing.T) {
	_, err := Parse([]byte("\n\n\x00"))
	assert.Error(t, err)

	_, err = Parse([]byte("SUBSCRIBE\nno-colon-here\n\n\x00"))
	assert.Error(t, err)
}

func TestParseFirstHeaderWins(t *testing.T) {
	raw := []byte("SUBSCRIBE\nid:sub-0\nid:sub-9\ndestination:/topic/inventory\n\n\x00")

	frame, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "sub-0", frame.Header("id"))
}

func TestMarshalRoundTrip(t *testing.T) {
	frame := NewFrame(CommandMessage, map[string]string{
		"destination":  "/topic/orders/alice",
		"subscription": "sub-1",
	})
	frame.Body = []byte(`{"orderId":"o-1"}`)

	parsed, err := Parse(frame.Marshal())
	require.NoError(t, err)
	assert.Equal(t, frame.Command, parsed.Command)
	assert.Equal(t, frame.Headers, parsed.Headers)
	assert.Equal(t, frame.Body, parsed.Body)
}
