package dse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{}

type feedServer struct {
	t      *testing.T
	srv    *httptest.Server
	frames chan subscribeFrame
	conns  chan *websocket.Conn
	dials  atomic.Int32
}

func newFeedServer(t *testing.T) *feedServer {
	fs := &feedServer{
		t:      t,
		frames: make(chan subscribeFrame, 64),
		conns:  make(chan *websocket.Conn, 8),
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
		for {
			var frame subscribeFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			fs.frames <- frame
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *feedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *feedServer) waitConn() *websocket.Conn {
	select {
	case conn := <-fs.conns:
		return conn
	case <-time.After(3 * time.Second):
		fs.t.Fatal("no websocket connection arrived")
		return nil
	}
}

func (fs *feedServer) collectFrames(n int) []subscribeFrame {
	out := make([]subscribeFrame, 0, n)
	for len(out) < n {
		select {
		case f := <-fs.frames:
			out = append(out, f)
		case <-time.After(3 * time.Second):
			fs.t.Fatalf("timed out waiting for frames, got %d of %d", len(out), n)
		}
	}
	return out
}

func fastPolicy(attempts int) ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: 10 * time.Millisecond,
		Factor:       1.0,
		MaxDelay:     10 * time.Millisecond,
		MaxAttempts:  attempts,
	}
}

func TestFeedClient_ResubscribesExactlySubscriptionSet(t *testing.T) {
	fs := newFeedServer(t)
	subs := NewMemorySubscriptionStore()
	ctx := context.Background()
	require.NoError(t, subs.Add(ctx, "CRDB"))
	require.NoError(t, subs.Add(ctx, "TBL"))

	client := NewFeedClient(fs.wsURL(), "tok", fastPolicy(5), subs, zap.NewNop())
	defer client.Close()
	client.Start(ctx)

	fs.waitConn()
	frames := fs.collectFrames(2)
	symbols := map[string]bool{}
	for _, f := range frames {
		require.Equal(t, "subscribe", f.Action)
		require.Equal(t, "tok", f.Token)
		symbols[f.Symbol] = true
	}
	require.Equal(t, map[string]bool{"CRDB": true, "TBL": true}, symbols)

	// No extra frames beyond the subscription set.
	select {
	case f := <-fs.frames:
		t.Fatalf("unexpected extra frame for %q", f.Symbol)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFeedClient_DeliversMessages(t *testing.T) {
	fs := newFeedServer(t)
	client := NewFeedClient(fs.wsURL(), "", fastPolicy(5), nil, zap.NewNop())
	defer client.Close()
	client.Start(context.Background())

	conn := fs.waitConn()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": MsgPriceUpdate,
		"data": map[string]interface{}{"symbol": "CRDB", "price": "500"},
	}))

	select {
	case msg := <-client.Messages():
		require.Equal(t, MsgPriceUpdate, msg.Type)
		require.Contains(t, string(msg.Data), "CRDB")
	case <-time.After(3 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestFeedClient_ReconnectsAndResubscribes(t *testing.T) {
	fs := newFeedServer(t)
	subs := NewMemorySubscriptionStore()
	ctx := context.Background()
	require.NoError(t, subs.Add(ctx, "NMB"))

	client := NewFeedClient(fs.wsURL(), "", fastPolicy(5), subs, zap.NewNop())
	defer client.Close()
	client.Start(ctx)

	first := fs.waitConn()
	fs.collectFrames(1)

	// Drop the connection server-side; the client must come back and
	// replay the subscription.
	first.Close()

	fs.waitConn()
	frames := fs.collectFrames(1)
	require.Equal(t, "NMB", frames[0].Symbol)
	require.GreaterOrEqual(t, fs.dials.Load(), int32(2))
}

func TestFeedClient_SubscribeWhileConnected(t *testing.T) {
	fs := newFeedServer(t)
	client := NewFeedClient(fs.wsURL(), "", fastPolicy(5), nil, zap.NewNop())
	defer client.Close()
	ctx := context.Background()
	client.Start(ctx)

	fs.waitConn()
	require.Eventually(t, func() bool {
		return client.State() == StateConnected
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Subscribe(ctx, "DCB"))
	frames := fs.collectFrames(1)
	require.Equal(t, subscribeFrame{Action: "subscribe", Symbol: "DCB"}, frames[0])

	require.NoError(t, client.Unsubscribe(ctx, "DCB"))
	frames = fs.collectFrames(1)
	require.Equal(t, "unsubscribe", frames[0].Action)
}

func TestFeedClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		http.Error(w, "no", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewFeedClient("ws"+strings.TrimPrefix(srv.URL, "http"), "", fastPolicy(3), nil, zap.NewNop())
	defer client.Close()
	client.Start(context.Background())

	select {
	case <-client.Failed():
	case <-time.After(3 * time.Second):
		t.Fatal("client never gave up")
	}
	require.EqualValues(t, 3, dials.Load(), "exactly MaxAttempts dials")
	require.Equal(t, StateDisconnected, client.State())

	// Permanently stopped: no further dials happen.
	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 3, dials.Load())
}

func TestReconnectPolicy_Delay(t *testing.T) {
	p := ReconnectPolicy{
		InitialDelay: time.Second,
		Factor:       2.0,
		MaxDelay:     5 * time.Second,
		MaxAttempts:  10,
	}
	require.Equal(t, time.Second, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(2))
	require.Equal(t, 4*time.Second, p.Delay(3))
	require.Equal(t, 5*time.Second, p.Delay(4))

	fixed := DefaultReconnectPolicy()
	require.Equal(t, 5*time.Second, fixed.Delay(1))
	require.Equal(t, 5*time.Second, fixed.Delay(5))
	require.Equal(t, 5, fixed.MaxAttempts)
}
