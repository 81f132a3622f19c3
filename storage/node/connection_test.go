package node

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/longphanquangminh/midnight-explorer/storage"
)

func newWebsocketServer(t *testing.T, fake *fakeChain) (*httptest.Server, *rpc.Server) {
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName(subscriptionNamespace, fake))
	ts := httptest.NewServer(server.WebsocketHandler([]string{"*"}))
	t.Cleanup(func() {
		ts.Close()
		server.Stop()
	})
	return ts, server
}

func TestManagerSubscribesOverWebsocket(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testing in short mode")
	}

	fake := newFakeChain(10)
	ts, _ := newWebsocketServer(t, fake)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	client := newScannerClient(t, wsURL, "")

	blocks, err := client.LatestBlocks(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, int64(10), blocks[0].Height)

	// The first dial also subscribed to new heads for connection liveness.
	require.Equal(t, 1, fake.callCount(subscriptionNewHeads))
}

func TestManagerDropsDeadConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testing in short mode")
	}

	fake := newFakeChain(10)
	ts, server := newWebsocketServer(t, fake)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	client := newScannerClient(t, wsURL, "")
	ctx := context.Background()

	_, err := client.LatestBlocks(ctx, 1)
	require.NoError(t, err)

	server.Stop()
	ts.Close()

	// The dead connection surfaces as a ConnectionError, either on the call
	// itself or on the redial that follows the drop.
	require.Eventually(t, func() bool {
		_, err := client.LatestBlocks(ctx, 1)
		return err != nil && storage.IsConnectionError(err)
	}, 5*time.Second, 50*time.Millisecond)
}
