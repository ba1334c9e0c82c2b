package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ameba1399/MES/internal/core"
)

// newSocketPair dials a real websocket against an in-process server and
// hands back the server-side endpoint.
func newSocketPair(t *testing.T) *wsConn {
	t.Helper()
	up := websocket.Upgrader{}
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		accepted <- ws
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return newWSConn(<-accepted)
}

func TestTrySendQueuesFIFO(t *testing.T) {
	c := newWSConn(nil)
	require.NoError(t, c.TrySend(core.Frame("one")))
	require.NoError(t, c.TrySend(core.Frame("two")))

	assert.Equal(t, core.Frame("one"), <-c.send)
	assert.Equal(t, core.Frame("two"), <-c.send)
}

func TestTrySendBackpressure(t *testing.T) {
	c := newWSConn(nil)
	for i := 0; i < cap(c.send); i++ {
		require.NoError(t, c.TrySend(core.Frame("x")))
	}
	assert.ErrorIs(t, c.TrySend(core.Frame("overflow")), ErrBackpressure)

	// draining one slot unblocks the queue
	<-c.send
	assert.NoError(t, c.TrySend(core.Frame("again")))
}

func TestCloseIsIdempotentAndStopsSends(t *testing.T) {
	c := newSocketPair(t)
	require.NoError(t, c.TrySend(core.Frame("queued")))

	c.Close()
	c.Close()

	assert.Error(t, c.TrySend(core.Frame("late")))

	// the write pump sees the channel close after the queued frames
	f, ok := <-c.send
	assert.True(t, ok)
	assert.Equal(t, core.Frame("queued"), f)
	_, ok = <-c.send
	assert.False(t, ok)
}
