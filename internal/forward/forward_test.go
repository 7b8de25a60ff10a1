package forward

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshe-huli/ringforge/fem/internal/store"
)

// phoenixServer answers every request with a phx_reply and records pushes.
type phoenixServer struct {
	*httptest.Server

	mu     sync.Mutex
	auth   string
	pushes []PhoenixMessage
	reject map[string]bool // paths whose push is answered with an error
}

func newPhoenixServer(t *testing.T) *phoenixServer {
	t.Helper()
	ps := &phoenixServer{reject: make(map[string]bool)}
	upgrader := websocket.Upgrader{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.auth = r.Header.Get("Authorization")
		ps.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var msg PhoenixMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			status := "ok"
			if msg.Event == EventChanged {
				var p Payload
				_ = json.Unmarshal(msg.Payload, &p)
				ps.mu.Lock()
				ps.pushes = append(ps.pushes, msg)
				if ps.reject[p.Path] {
					status = "error"
				}
				ps.mu.Unlock()
			}
			body, _ := json.Marshal(map[string]any{"status": status, "response": map[string]any{}})
			if err := conn.WriteJSON(PhoenixMessage{
				JoinRef: msg.JoinRef,
				Ref:     msg.Ref,
				Topic:   msg.Topic,
				Event:   "phx_reply",
				Payload: body,
			}); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *phoenixServer) url() string {
	return "ws" + strings.TrimPrefix(ps.URL, "http")
}

func (ps *phoenixServer) payloads(t *testing.T) []Payload {
	t.Helper()
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]Payload, 0, len(ps.pushes))
	for _, msg := range ps.pushes {
		var p Payload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		out = append(out, p)
	}
	return out
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "fem.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dial(t *testing.T, ps *phoenixServer, token string) *Client {
	t.Helper()
	c, err := New(ps.url(), token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewSendsBearerToken(t *testing.T) {
	ps := newPhoenixServer(t)
	dial(t, ps, "secret")

	ps.mu.Lock()
	defer ps.mu.Unlock()
	assert.Equal(t, "Bearer secret", ps.auth)
}

func TestNewFailsOnUnreachableServer(t *testing.T) {
	_, err := New("ws://127.0.0.1:1/socket", "", nil)
	assert.Error(t, err)
}

func TestChannelPushRequiresJoin(t *testing.T) {
	ps := newPhoenixServer(t)
	c := dial(t, ps, "")

	ch := NewChannel(c, Topic, nil)
	_, err := ch.Push(EventChanged, Payload{}, time.Second)
	require.Error(t, err)

	require.NoError(t, ch.Join(time.Second))
	_, err = ch.Push(EventChanged, Payload{Path: "/tmp/a"}, time.Second)
	require.NoError(t, err)

	require.NoError(t, ch.Leave())
	_, err = ch.Push(EventChanged, Payload{}, time.Second)
	assert.Error(t, err)
}

func TestFlushForwardsPendingEntries(t *testing.T) {
	ps := newPhoenixServer(t)
	c := dial(t, ps, "")
	s := openStore(t)

	require.NoError(t, s.Enqueue(store.Record{FileID: 1, Path: "/tmp/a", Mask: 2, Hash: []byte{0xab, 0xcd}}))
	require.NoError(t, s.Enqueue(store.Record{FileID: 2, Path: "/tmp/b", Mask: 512}))

	n, err := Flush(c, s, "instance-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := s.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, pending)

	got := ps.payloads(t)
	require.Len(t, got, 2)
	assert.Equal(t, "instance-1", got[0].Instance)
	assert.Equal(t, uint64(1), got[0].ID)
	assert.Equal(t, "/tmp/a", got[0].Path)
	assert.Equal(t, uint32(2), got[0].Mask)
	assert.Equal(t, "abcd", got[0].Hash)
	assert.NotEmpty(t, got[0].At)
	assert.Empty(t, got[1].Hash)

	// Nothing left to send.
	n, err = Flush(c, s, "instance-1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, ps.payloads(t), 2)
}

func TestFlushKeepsRejectedEntriesPending(t *testing.T) {
	ps := newPhoenixServer(t)
	ps.reject["/tmp/bad"] = true
	c := dial(t, ps, "")
	s := openStore(t)

	require.NoError(t, s.Enqueue(store.Record{FileID: 1, Path: "/tmp/bad", Mask: 2}))
	require.NoError(t, s.Enqueue(store.Record{FileID: 2, Path: "/tmp/good", Mask: 2}))

	n, err := Flush(c, s, "instance-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err := s.PendingItems(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "/tmp/bad", items[0].Path)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Contains(t, items[0].LastError, "rejected")
}
