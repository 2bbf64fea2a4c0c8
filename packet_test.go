package siox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/siox/codec"
)

func intPtr(v int) *int { return &v }

func TestPacketEncode(t *testing.T) {
	cases := []struct {
		name   string
		packet Packet
		want   string
	}{
		{"connect default namespace", Packet{Type: PacketTypeConnect, Namespace: "/", Data: map[string]any{"sid": "abc"}}, `0{"sid":"abc"}`},
		{"disconnect custom namespace", Packet{Type: PacketTypeDisconnect, Namespace: "/admin"}, `1/admin,`},
		{"event", Packet{Type: PacketTypeEvent, Namespace: "/", Data: []any{"hello", 1}}, `2["hello",1]`},
		{"ack with id", Packet{Type: PacketTypeAck, Namespace: "/chat", Data: []any{}, ID: intPtr(12)}, `3/chat,12[]`},
		{"connect error", Packet{Type: PacketTypeConnectError, Namespace: "/chat", Data: map[string]any{"message": "unauthorized!"}}, `4/chat,{"message":"unauthorized!"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.packet.Encode(codec.Default)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPacketEncodeUsesCodec(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got, err := (&Packet{Type: PacketTypeEvent, Data: []any{"at", ts}}).Encode(codec.Default)
	require.NoError(t, err)
	assert.Equal(t, `2["at","2024-05-01T12:00:00Z"]`, got)

	_, err = (&Packet{Type: PacketTypeEvent, Data: []any{"bad", struct{}{}}}).Encode(codec.Default)
	assert.ErrorIs(t, err, codec.ErrUnsupportedType)
}

func TestDecodePacket(t *testing.T) {
	p, err := DecodePacket(`2/admin,7["create-widget",{"name":"x"}]`, codec.Default)
	require.NoError(t, err)
	assert.Equal(t, PacketTypeEvent, p.Type)
	assert.Equal(t, "/admin", p.Namespace)
	require.NotNil(t, p.ID)
	assert.Equal(t, 7, *p.ID)
	assert.Equal(t, []any{"create-widget", map[string]any{"name": "x"}}, p.Data)

	p, err = DecodePacket(`0`, codec.Default)
	require.NoError(t, err)
	assert.Equal(t, PacketTypeConnect, p.Type)
	assert.Equal(t, "/", p.Namespace)
	assert.Nil(t, p.Data)

	p, err = DecodePacket(`1/chat`, codec.Default)
	require.NoError(t, err)
	assert.Equal(t, "/chat", p.Namespace)

	p, err = DecodePacket(`0/chat,{"token":"t"}`, codec.Default)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"token": "t"}, p.Data)
}

func TestDecodePacketErrors(t *testing.T) {
	_, err := DecodePacket("", codec.Default)
	assert.ErrorIs(t, err, ErrEmptyPacket)

	_, err = DecodePacket("9", codec.Default)
	assert.Error(t, err)

	_, err = DecodePacket(`51-["upload",{"_placeholder":true,"num":0}]`, codec.Default)
	assert.ErrorIs(t, err, ErrBinaryUnsupported)

	_, err = DecodePacket(`2["unterminated"`, codec.Default)
	assert.Error(t, err)
}

func TestEnvelopeRender(t *testing.T) {
	assert.Equal(t, map[string]any{"code": 200}, Envelope{}.Render())
	assert.Equal(t, map[string]any{"code": 404, "message": "Not found"}, Envelope{Code: 404, Message: "Not found"}.Render())
	assert.Equal(t, map[string]any{"code": 200, "data": false}, Envelope{Data: false}.Render(), "false is data, not absent")
}

func TestNormalizeNamespace(t *testing.T) {
	assert.Equal(t, "/", normalizeNamespace(""))
	assert.Equal(t, "/", normalizeNamespace("/"))
	assert.Equal(t, "/chat", normalizeNamespace("chat"))
	assert.Equal(t, "/chat", normalizeNamespace("/chat"))
}
