package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/metrics"
)

type fakeConn struct {
	id     string
	fail   bool
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("broken pipe")
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeConn) Close(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestMessageWireFormat(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 123, time.FixedZone("CEST", 2*60*60))

	data, err := NewFullReload(now).Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"full_reload","files":null,"timestamp":"2024-05-06T05:08:09Z"}`, string(data))

	data, err = NewAssetReload(CSSReload, "/css/site.css", now).Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"css_reload","files":["/css/site.css"],"timestamp":"2024-05-06T05:08:09Z"}`, string(data))
}

func TestAddRemove(t *testing.T) {
	c := NewReloadChannel(ChannelOptions{}, logging.NewNop(), metrics.New(nil))
	assert.False(t, c.HasConnections())

	a, b := &fakeConn{id: "a"}, &fakeConn{id: "b"}
	c.Add(a)
	c.Add(b)
	c.Add(a)
	assert.Equal(t, 2, c.ConnectionCount())

	c.Remove(a)
	c.Remove(a)
	assert.Equal(t, 1, c.ConnectionCount())
	assert.True(t, c.HasConnections())
}

func TestBroadcastPrunesFailedConnections(t *testing.T) {
	c := NewReloadChannel(ChannelOptions{}, logging.NewNop(), nil)

	good1 := &fakeConn{id: "good1"}
	bad := &fakeConn{id: "bad", fail: true}
	good2 := &fakeConn{id: "good2"}
	for _, conn := range []*fakeConn{good1, bad, good2} {
		c.Add(conn)
	}

	msg := NewFullReload(time.Now())
	delivered := c.Broadcast(context.Background(), msg)

	assert.Equal(t, 2, delivered)
	assert.Equal(t, 2, c.ConnectionCount())
	assert.True(t, bad.closed)
	assert.False(t, good1.closed)

	want, err := msg.Marshal()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{want}, good1.sent)
	assert.Equal(t, [][]byte{want}, good2.sent)

	// the pruned connection is not tried again
	assert.Equal(t, 2, c.Broadcast(context.Background(), msg))
	assert.Len(t, good1.sent, 2)
}

func TestBroadcastWithoutConnections(t *testing.T) {
	c := NewReloadChannel(ChannelOptions{}, logging.NewNop(), nil)
	assert.Equal(t, 0, c.Broadcast(context.Background(), NewFullReload(time.Now())))
}

func TestShutdownClosesConnections(t *testing.T) {
	c := NewReloadChannel(ChannelOptions{}, logging.NewNop(), nil)
	a := &fakeConn{id: "a"}
	c.Add(a)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.True(t, a.closed)
	assert.Equal(t, 0, c.ConnectionCount())
}

func TestHandleWebSocket(t *testing.T) {
	c := NewReloadChannel(ChannelOptions{}, logging.NewNop(), nil)
	srv := httptest.NewServer(http.HandlerFunc(c.HandleWebSocket))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer client.CloseNow()

	require.Eventually(t, c.HasConnections, 5*time.Second, 10*time.Millisecond)

	msg := NewAssetReload(JSReload, "/js/app.js", time.Now())
	assert.Equal(t, 1, c.Broadcast(ctx, msg))

	typ, data, err := client.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	want, err := msg.Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(data))

	require.NoError(t, client.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return !c.HasConnections() }, 5*time.Second, 10*time.Millisecond)
}

func TestHandleWebSocketRejectsForeignOrigin(t *testing.T) {
	c := NewReloadChannel(ChannelOptions{}, logging.NewNop(), nil)
	srv := httptest.NewServer(http.HandlerFunc(c.HandleWebSocket))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{
		HTTPHeader: header,
	})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
	assert.False(t, c.HasConnections())
}
