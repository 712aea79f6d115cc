package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setsync/setsync/internal/core/observability/log"
)

// dialSilentStore connects to a peer that accepts the upgrade and then
// reads frames without ever responding.
func dialSilentStore(t *testing.T) *RemoteStore {
	t.Helper()
	up := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	store, err := Dial(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"), log.New(log.LevelError))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRemoteStoreCloseUnblocksPendingCalls(t *testing.T) {
	store := dialSilentStore(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := store.List(context.Background(), CollectionSongs)
		errCh <- err
	}()

	// Let the call register and write before tearing down.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, store.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call did not unblock on close")
	}
}

func TestRemoteStoreCloseLeavesResponseChannelsOpen(t *testing.T) {
	store := dialSilentStore(t)

	// Stand in for the read pump mid-dispatch: it fetched the channel
	// under the lock, then Close ran before the send.
	ch := make(chan Frame, 1)
	store.pendingMu.Lock()
	store.pending[42] = ch
	store.pendingMu.Unlock()

	require.NoError(t, store.Close())

	store.pendingMu.Lock()
	assert.Empty(t, store.pending)
	store.pendingMu.Unlock()

	// With the channel still open the late send lands in the buffer
	// instead of panicking the read pump.
	ch <- Frame{Seq: 42}
}

func TestRemoteStoreCallAfterClose(t *testing.T) {
	store := dialSilentStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "second close is a no-op")

	_, err := store.List(context.Background(), CollectionSongs)
	assert.ErrorIs(t, err, ErrClosed)
}
