package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/telestream/internal/codec"
	"github.com/xtxerr/telestream/internal/errors"
	"github.com/xtxerr/telestream/internal/handler"
	"github.com/xtxerr/telestream/internal/message"
	"github.com/xtxerr/telestream/internal/store"
	"github.com/xtxerr/telestream/internal/testutil"
	"github.com/xtxerr/telestream/internal/types"
	"github.com/xtxerr/telestream/internal/wire"
)

// serve runs a request-only session on the server end of a pipe.
func serve(t *testing.T, st *store.Store, cfg handler.Config) *Client {
	t.Helper()
	server, conn := testutil.Pipe()
	s := handler.NewSession(server, handler.NewHandler(st, nil, cfg), nil, nil, nil, handler.SessionConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c := New(conn, Options{})
	t.Cleanup(func() { c.Close() })
	return c
}

func tempStore() *store.Store {
	st := store.New()
	st.AddSample("temp", 100, types.Number(20.5))
	st.AddSample("temp", 200, types.Number(21.0))
	return st
}

func TestClient_Sync(t *testing.T) {
	c := serve(t, tempStore(), handler.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	window := message.Range{0, 150}
	updates, err := c.Sync(ctx, message.Request{Topics: []string{"temp", "missing"}, Range: &window})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "temp", updates[0].Topic)
	assert.True(t, types.Series{{Time: 100, Value: types.Number(20.5)}}.Equal(updates[0].Data))

	updates, err = c.Sync(ctx, message.Request{Topics: []string{"missing"}})
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestClient_ConcurrentSyncsLineUp(t *testing.T) {
	st := store.New()
	for i := 0; i < 20; i++ {
		st.AddSample("t", uint64(i), types.Number(float64(i)))
	}
	c := serve(t, st, handler.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			window := message.Range{uint64(i), uint64(i)}
			updates, err := c.Sync(ctx, message.Request{Topics: []string{"t"}, Range: &window})
			if assert.NoError(t, err) && assert.Len(t, updates, 1) {
				assert.Equal(t, []uint64{uint64(i)}, updates[0].Data.Times())
			}
		}(i)
	}
	wg.Wait()
}

func TestClient_PublishIngests(t *testing.T) {
	st := store.New()
	c := serve(t, st, handler.Config{AcceptIngest: true})

	require.NoError(t, c.Publish(types.Sample{Topic: "up", Time: 7, Value: types.Text("hi")}))

	// Requests are answered after earlier frames, so the reply sees the sample.
	updates, err := c.Sync(context.Background(), message.Request{Topics: []string{"up"}})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, []uint64{7}, updates[0].Data.Times())
}

func TestClient_Datapoints(t *testing.T) {
	server, conn := testutil.Pipe()
	c := New(conn, Options{})
	defer c.Close()

	plain, err := codec.EncodePlain(types.Sample{Topic: "a", Time: 1, Value: types.Number(1)})
	require.NoError(t, err)
	col, err := codec.New().EncodeColumnar(types.Sample{Topic: "b", Time: 2,
		Value: types.Record(types.NumberField("x", 1), types.NumberField("y", 2))})
	require.NoError(t, err)

	require.NoError(t, server.WriteFrame(wire.Text(plain)))
	require.NoError(t, server.WriteFrame(wire.Binary([]byte("garbage"))))
	require.NoError(t, server.WriteFrame(wire.Binary(col)))
	require.NoError(t, server.WriteFrame(wire.Text([]byte(`{"Update":{"topic":"c","data":[[3,{"Number":3}]]}}`))))

	var got []types.Sample
	for len(got) < 3 {
		select {
		case s := <-c.Datapoints():
			got = append(got, s)
		case <-time.After(2 * time.Second):
			t.Fatal("datapoint not delivered")
		}
	}
	assert.Equal(t, "a", got[0].Topic)
	assert.Equal(t, "b", got[1].Topic)
	assert.Equal(t, 2, got[1].Value.NumFields())
	assert.Equal(t, "c", got[2].Topic)
}

func TestClient_DropsOnFullBuffer(t *testing.T) {
	server, conn := testutil.Pipe()
	c := New(conn, Options{BufferSize: 1})
	defer c.Close()

	for i := 0; i < 3; i++ {
		b, err := codec.EncodePlain(types.Sample{Topic: "a", Time: uint64(i), Value: types.Number(1)})
		require.NoError(t, err)
		require.NoError(t, server.WriteFrame(wire.Text(b)))
	}
	require.NoError(t, testutil.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return c.Dropped() == 2
	}))
}

func TestClient_PeerClose(t *testing.T) {
	server, conn := testutil.Pipe()
	c := New(conn, Options{})

	server.Close()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice peer close")
	}

	assert.Equal(t, StateDisconnected, c.State())
	assert.NoError(t, c.Err())
	_, ok := <-c.Datapoints()
	assert.False(t, ok)

	_, err := c.Sync(context.Background(), message.Request{Topics: []string{"x"}})
	assert.ErrorIs(t, err, errors.ErrNotConnected)

	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
}

func TestClient_PendingSyncFailsOnDisconnect(t *testing.T) {
	server, conn := testutil.Pipe()
	c := New(conn, Options{})
	defer c.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Sync(context.Background(), message.Request{Topics: []string{"x"}})
		errCh <- err
	}()

	_, err := server.ReadFrame()
	require.NoError(t, err)
	server.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errors.ErrPeerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not fail")
	}
}

func TestClient_SyncContextCancelled(t *testing.T) {
	server, conn := testutil.Pipe()
	c := New(conn, Options{})
	defer c.Close()
	_ = server

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Sync(ctx, message.Request{Topics: []string{"x"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	_, conn := testutil.Pipe()
	c := New(conn, Options{})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown(9)", State(9).String())
}
