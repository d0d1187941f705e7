package qrelay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	tests := []struct {
		desc    string
		id      FrameID
		payload []byte
	}{
		{desc: "empty-payload", id: FrameNoData, payload: nil},
		{desc: "small-payload", id: FrameText, payload: []byte("hello")},
		{desc: "max-payload", id: FrameCustomC, payload: make([]byte, FrameSize-1)},
	}
	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			buf, err := EncodeFrame(tc.id, tc.payload)
			require.NoError(t, err)
			assert.Len(t, buf, FrameSize)

			f, err := DecodeFrame(buf)
			require.NoError(t, err)
			assert.Equal(t, tc.id, f.ID)
			assert.True(t, len(f.Payload) == FrameSize-1)
		})
	}
}

func TestEncodeFrameRejectsUnknownID(t *testing.T) {
	_, err := EncodeFrame(frameIDCount, nil)
	assert.ErrorIs(t, err, ErrUnknownFrame)
}

func TestEncodeFrameRejectsOversizePayload(t *testing.T) {
	_, err := EncodeFrame(FrameText, make([]byte, FrameSize))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeFrameRejectsShortBuffer(t *testing.T) {
	_, err := DecodeFrame(make([]byte, FrameSize-1))
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestDecodeFrameRejectsUnknownID(t *testing.T) {
	buf := make([]byte, FrameSize)
	buf[0] = 0xFF
	_, err := DecodeFrame(buf)
	assert.ErrorIs(t, err, ErrUnknownFrame)
}

func TestFixedStringRoundTrip(t *testing.T) {
	dst := make([]byte, deviceKeyFieldLen)
	putFixedString(dst, "device-123", deviceKeyFieldLen)
	assert.Equal(t, "device-123", getFixedString(dst, deviceKeyFieldLen))
}

func TestFixedStringTruncatesOverlongInput(t *testing.T) {
	dst := make([]byte, 4)
	putFixedString(dst, "toolong", 4)
	assert.Equal(t, "tool", getFixedString(dst, 4))
}

func TestAuthRequestRoundTrip(t *testing.T) {
	req := AuthRequest{Mail: "user@example.com", DeviceKey: "abc123", Actor: ActorPlatform, Version: ProtocolVersion}
	buf, err := EncodeAuthRequest(req)
	require.NoError(t, err)

	f, err := DecodeFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, FrameAuthRequest, f.ID)

	got, err := DecodeAuthRequest(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestChannelResponseRoundTrip(t *testing.T) {
	resp := ChannelResponse{Name: "assistant", Address: "10.0.0.5", Port: 9001, Result: ResultNone}
	buf, err := EncodeChannelResponse(resp)
	require.NoError(t, err)

	f, err := DecodeFrame(buf)
	require.NoError(t, err)
	got, err := DecodeChannelResponse(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestActorTypeOther(t *testing.T) {
	assert.Equal(t, ActorPlatform, ActorApp.Other())
	assert.Equal(t, ActorApp, ActorPlatform.Other())
}

func TestActorTypeValid(t *testing.T) {
	assert.True(t, ActorApp.Valid())
	assert.True(t, ActorPlatform.Valid())
	assert.False(t, ActorUnset.Valid())
}
