package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/telestream/internal/client"
	"github.com/xtxerr/telestream/internal/codec"
	"github.com/xtxerr/telestream/internal/constants"
	"github.com/xtxerr/telestream/internal/handler"
	"github.com/xtxerr/telestream/internal/message"
	"github.com/xtxerr/telestream/internal/store"
	"github.com/xtxerr/telestream/internal/testutil"
	"github.com/xtxerr/telestream/internal/types"
)

func tempStore() *store.Store {
	st := store.New()
	st.AddSample("temp", 100, types.Number(20.5))
	st.AddSample("temp", 200, types.Number(21.0))
	return st
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func dial(t *testing.T, s *Server) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), "ws://"+s.Addr()+"/datastore", client.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// A request-only session answers a ranged sync over WebSocket.
func TestServer_SyncOverWebSocket(t *testing.T) {
	s := startServer(t, Config{Store: tempStore()})
	c := dial(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	window := message.Range{0, 150}
	updates, err := c.Sync(ctx, message.Request{Topics: []string{"temp", "missing"}, Range: &window})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, types.Series{{Time: 100, Value: types.Number(20.5)}}.Equal(updates[0].Data))
}

func TestServer_StreamsColumnar(t *testing.T) {
	s := startServer(t, Config{
		Store:       store.New(),
		Topic:       "rover",
		Compression: codec.CompressionLZ4,
		Session:     handler.SessionConfig{RateHz: 50, Encoding: codec.EncodingColumnar},
	})
	c := dial(t, s)

	var last uint64
	for i := 0; i < 5; i++ {
		select {
		case got := <-c.Datapoints():
			assert.Equal(t, "rover", got.Topic)
			assert.Equal(t, 12, got.Value.NumFields())
			if i > 0 {
				assert.Greater(t, got.Time, last)
			}
			last = got.Time
		case <-time.After(2 * time.Second):
			t.Fatal("no datapoint")
		}
	}
}

func TestServer_StoreSourceOverTCP(t *testing.T) {
	st := store.New()
	st.AddSample("replay", 0, types.Text("idle"))

	s := startServer(t, Config{
		Store:     st,
		TCPListen: "127.0.0.1:0",
		Topic:     "replay",
		Source:    constants.SourceStore,
		Session:   handler.SessionConfig{RateHz: 20},
	})
	require.NotEmpty(t, s.TCPAddr())

	c, err := client.DialTCP(context.Background(), s.TCPAddr(), client.Options{})
	require.NoError(t, err)
	defer c.Close()

	select {
	case got := <-c.Datapoints():
		assert.Equal(t, "replay", got.Topic)
		assert.True(t, types.Text("idle").Equal(got.Value))
	case <-time.After(2 * time.Second):
		t.Fatal("no datapoint")
	}

	updates, err := c.Sync(context.Background(), message.Request{Topics: []string{"replay"}})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, []uint64{0}, updates[0].Data.Times())
}

func TestServer_IngestAndRecord(t *testing.T) {
	st := store.New()
	s := startServer(t, Config{
		Store:         st,
		Handler:       handler.Config{AcceptIngest: true},
		Topic:         "rec",
		RecordToStore: true,
		Session:       handler.SessionConfig{RateHz: 100},
	})
	c := dial(t, s)

	require.NoError(t, c.Publish(types.Sample{Topic: "in", Time: 1, Value: types.Number(1)}))
	require.NoError(t, testutil.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		_, in := st.Series("in")
		_, rec := st.Series("rec")
		return in && rec
	}))
}

func TestServer_HealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := startServer(t, Config{Store: tempStore(), Registry: reg})
	c := dial(t, s)
	_, err := c.Sync(context.Background(), message.Request{Topics: []string{"temp"}})
	require.NoError(t, err)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var h Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, Health{Status: "ok", Sessions: 1, Topics: 1, Points: 2}, h)

	mresp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	body, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "telestream_sync_requests_total 1")
	assert.Contains(t, string(body), "telestream_store_points 2")
	assert.Contains(t, string(body), "telestream_session_active 1")
}

func TestServer_NoMetricsWithoutRegistry(t *testing.T) {
	s := startServer(t, Config{Store: store.New()})
	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Nil(t, s.Metrics())
}

func TestServer_PlainHTTPOnStreamPath(t *testing.T) {
	s := startServer(t, Config{Store: store.New()})
	resp, err := http.Get("http://" + s.Addr() + "/datastore")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_ShutdownEndsSessions(t *testing.T) {
	s, err := New(Config{Addr: "127.0.0.1:0", Store: store.New(),
		Session: handler.SessionConfig{RateHz: 10}})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	c, err := client.Dial(context.Background(), "ws://"+s.Addr()+"/datastore", client.Options{})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, testutil.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return s.Sessions().Count() == 1
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, 0, s.Sessions().Count())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client still connected after shutdown")
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s, err := New(Config{Addr: "127.0.0.1:0", Store: store.New()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Second) }()

	require.NoError(t, testutil.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return s.Addr() != ""
	}))
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{Store: store.New(), Source: "random"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "random"))
}
