package messaging

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getNATSConn(t *testing.T) *nats.Conn {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := Connect(url, "reseller-test", nil)
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	return nc
}

func TestConnect_EmptyURLDisablesMessaging(t *testing.T) {
	nc, err := Connect("", "reseller-test", nil)
	require.NoError(t, err)
	assert.Nil(t, nc)
}

func TestNATSPublisher_Publish(t *testing.T) {
	nc := getNATSConn(t)
	defer nc.Close()

	sub, err := nc.SubscribeSync("orders.test")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pub := NewNATSPublisher(nc)
	require.NoError(t, pub.Publish(context.Background(), "orders.test", []byte(`{"order_id":"o-1"}`)))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(msg.Data))
}

func TestNATSPublisher_CancelledContext(t *testing.T) {
	nc := getNATSConn(t)
	defer nc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewNATSPublisher(nc).Publish(ctx, "orders.test", []byte("{}"))
	assert.ErrorIs(t, err, context.Canceled)
}
