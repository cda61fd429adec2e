package broadcast

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderwatch/orderwatch/internal/order"
)

func TestNewFeed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *FeedConfig
		wantErr bool
	}{
		{
			name:    "missing registry",
			cfg:     &FeedConfig{Address: "127.0.0.1", Port: 0},
			wantErr: true,
		},
		{
			name:    "invalid port",
			cfg:     &FeedConfig{Address: "127.0.0.1", Port: -1, Registry: &Manager{}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := NewFeed(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				require.Nil(t, f)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, f)
		})
	}
}

func TestFeed_EndToEnd(t *testing.T) {
	t.Parallel()

	registry := newTestManager(t)
	require.NoError(t, registry.Start())
	t.Cleanup(func() { _ = registry.Stop() })

	// bind an ephemeral port first so the test does not race other listeners
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := probe.Addr().(*net.TCPAddr).Port
	require.NoError(t, probe.Close())

	feed, err := NewFeed(&FeedConfig{
		Address:  "127.0.0.1",
		Port:     port,
		Registry: registry,
	})
	require.NoError(t, err)
	require.NoError(t, feed.Start())
	t.Cleanup(func() { _ = feed.Stop() })

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	reader := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// first frame is the connection-established notification
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	var hello struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(line, &hello))
	assert.Equal(t, helloMessage, hello.Message)

	id := order.NewID()
	registry.Deliver(order.ChangeEvent{
		Operation: order.OperationInsert,
		ID:        id,
		Data:      &order.Order{ID: id, CustomerName: "Ada", ProductName: "Widget", Status: "pending", UpdatedAt: time.Now()},
	})

	line, err = reader.ReadBytes('\n')
	require.NoError(t, err)
	var ev order.ChangeEvent
	require.NoError(t, json.Unmarshal(line, &ev))
	assert.Equal(t, order.OperationInsert, ev.Operation)
	assert.Equal(t, id, ev.ID)
	require.NotNil(t, ev.Data)
	assert.Equal(t, "Ada", ev.Data.CustomerName)
}
