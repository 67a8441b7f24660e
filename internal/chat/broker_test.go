package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-livechat/internal/protocol"
)

func TestLocalBrokerFansOut(t *testing.T) {
	b := NewLocalBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := b.Subscribe(ctx)
	require.NoError(t, err)
	second, err := b.Subscribe(ctx)
	require.NoError(t, err)

	env := Envelope{Origin: "i1", From: protocol.RoleCustomer, Frame: protocol.NewTyping("s1", protocol.SenderCustomer, true)}
	require.NoError(t, b.Publish(ctx, env))

	for _, ch := range []<-chan Envelope{first, second} {
		select {
		case got := <-ch:
			assert.Equal(t, "i1", got.Origin)
			assert.Equal(t, protocol.TypeTyping, got.Frame.Type)
		case <-time.After(time.Second):
			t.Fatal("envelope not delivered")
		}
	}
}

func TestLocalBrokerUnsubscribesOnCancel(t *testing.T) {
	b := NewLocalBroker()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed")
	}
	require.NoError(t, b.Publish(context.Background(), Envelope{}))

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), Envelope{}), ErrBrokerClosed)
	_, err = b.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestEnvelopeWireFormat(t *testing.T) {
	env := Envelope{
		Origin: "i1",
		ConnID: "c1",
		From:   protocol.RoleAdmin,
		Frame:  protocol.NewMessage("s1", "admin-msg-1", protocol.SenderAdmin, "hi", "2024-05-01T10:00:00.000Z"),
	}
	b, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"origin": "i1",
		"connId": "c1",
		"from": "admin",
		"frame": {"type":"message","sessionId":"s1","messageId":"admin-msg-1","content":"hi","sender":"admin","timestamp":"2024-05-01T10:00:00.000Z"}
	}`, string(b))
}
