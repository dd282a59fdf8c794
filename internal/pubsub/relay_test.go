package pubsub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelay(t *testing.T) (*Relay, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	relay := NewRelay()
	router := gin.New()
	router.GET("/pubsub", relay.Handler())
	router.GET("/pubsub/peers", relay.PeersHandler())
	router.GET("/pubsub/discovery", relay.DiscoveryHandler("/pubsub"))

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		relay.Close()
		srv.Close()
	})
	return relay, srv.URL
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/pubsub"
}

func openTestSession(t *testing.T, endpoint string) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Open(ctx, SessionConfig{Endpoints: []string{endpoint}})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRelay_DeliversInOrder(t *testing.T) {
	_, base := newTestRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subSession := openTestSession(t, wsURL(base))
	pubSession := openTestSession(t, wsURL(base))

	sub, err := subSession.DeclareSubscriber(ctx, "camera/frames")
	require.NoError(t, err)

	pub, err := pubSession.DeclarePublisher("camera/frames")
	require.NoError(t, err)

	const total = 100
	for i := 0; i < total; i++ {
		require.NoError(t, pub.Put(ctx, []byte{byte(i), 128, byte(i), 128}))
	}

	for i := 0; i < total; i++ {
		sample, err := sub.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, "camera/frames", sample.Key)
		assert.Equal(t, EncodingOctetStream, sample.Encoding)
		require.Equal(t, byte(i), sample.Payload[0])
	}
}

func TestRelay_OnlyMatchingKey(t *testing.T) {
	_, base := newTestRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subSession := openTestSession(t, wsURL(base))
	pubSession := openTestSession(t, wsURL(base))

	sub, err := subSession.DeclareSubscriber(ctx, "a")
	require.NoError(t, err)

	other, err := pubSession.DeclarePublisher("b")
	require.NoError(t, err)
	want, err := pubSession.DeclarePublisher("a")
	require.NoError(t, err)

	require.NoError(t, other.Put(ctx, []byte("ignored")))
	require.NoError(t, want.Put(ctx, []byte("hello")))

	sample, err := sub.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", sample.Key)
	assert.Equal(t, []byte("hello"), sample.Payload)
}

func TestRelay_PeersHandler(t *testing.T) {
	relay, base := newTestRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := openTestSession(t, wsURL(base))
	_, err := s.DeclareSubscriber(ctx, "camera/frames")
	require.NoError(t, err)

	res, err := http.Get(base + "/pubsub/peers")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Peers []PeerInfo `json:"peers"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Len(t, body.Peers, 1)
	assert.Equal(t, []string{"camera/frames"}, body.Peers[0].Keys)
	assert.Equal(t, 1, relay.Stats().Peers)
}

func TestRelay_CloseEndsSubscriber(t *testing.T) {
	relay, base := newTestRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := openTestSession(t, wsURL(base))
	sub, err := s.DeclareSubscriber(ctx, "camera/frames")
	require.NoError(t, err)

	require.NoError(t, relay.Close())

	_, err = sub.Recv(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)

	select {
	case <-s.Done():
	case <-ctx.Done():
		t.Fatal("セッションが終了しませんでした")
	}
}

func TestSubscriber_Undeclare(t *testing.T) {
	relay, base := newTestRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := openTestSession(t, wsURL(base))
	sub, err := s.DeclareSubscriber(ctx, "camera/frames")
	require.NoError(t, err)
	require.NoError(t, sub.Undeclare(ctx))

	peers := relay.Peers()
	require.Len(t, peers, 1)
	assert.Empty(t, peers[0].Keys)

	_, err = sub.Recv(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestOpen_Discovery(t *testing.T) {
	_, base := newTestRelay(t)

	disc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(discoveryDocument{Endpoints: []string{wsURL(base)}})
	}))
	defer disc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Open(ctx, SessionConfig{Discovery: disc.URL})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, wsURL(base), s.Endpoint())
	assert.NotEmpty(t, s.ID())
}

func TestRelay_DiscoveryHandler(t *testing.T) {
	_, base := newTestRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Open(ctx, SessionConfig{Discovery: base + "/pubsub/discovery"})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, wsURL(base), s.Endpoint())
}

func TestOpen_Failures(t *testing.T) {
	t.Run("接続先なし", func(t *testing.T) {
		_, err := Open(context.Background(), SessionConfig{})
		assert.ErrorIs(t, err, ErrNoEndpoints)
	})

	t.Run("接続できない", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := wsURL(srv.URL)
		srv.Close()

		_, err := Open(context.Background(), SessionConfig{
			Endpoints:   []string{url},
			DialTimeout: time.Second,
		})
		assert.Error(t, err)
	})
}

func TestSession_CloseRejectsDeclare(t *testing.T) {
	_, base := newTestRelay(t)
	s := openTestSession(t, wsURL(base))
	require.NoError(t, s.Close())

	_, err := s.DeclareSubscriber(context.Background(), "k")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Err(), ErrSessionClosed)
}
