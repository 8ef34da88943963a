package handler

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/telestream/internal/codec"
	"github.com/xtxerr/telestream/internal/errors"
	"github.com/xtxerr/telestream/internal/message"
	"github.com/xtxerr/telestream/internal/store"
	"github.com/xtxerr/telestream/internal/testutil"
	"github.com/xtxerr/telestream/internal/types"
	"github.com/xtxerr/telestream/internal/wire"
)

type runResult struct {
	err error
}

func startSession(t *testing.T, s *Session) (context.CancelFunc, <-chan runResult) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan runResult, 1)
	go func() { done <- runResult{err: s.Run(ctx)} }()
	return cancel, done
}

func waitDone(t *testing.T, done <-chan runResult) error {
	t.Helper()
	select {
	case r := <-done:
		return r.err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not stop")
		return nil
	}
}

func decodeFrame(t *testing.T, f wire.Frame) types.Sample {
	t.Helper()
	s, err := codec.Decode(f.Payload, f.IsBinary())
	require.NoError(t, err)
	return s
}

// At 10 Hz a one second window yields 9 to 11 frames with strictly
// increasing times.
func TestSession_Rate(t *testing.T) {
	for _, enc := range []codec.Encoding{codec.EncodingPlain, codec.EncodingColumnar} {
		t.Run(enc.String(), func(t *testing.T) {
			server, client := testutil.Pipe()
			defer client.Close()

			st := store.New()
			s := NewSession(server, NewHandler(st, nil, Config{}),
				&SyntheticSource{Topic: "rover"}, nil, nil,
				SessionConfig{RateHz: 10, Encoding: enc})

			cancel, done := startSession(t, s)
			time.Sleep(time.Second)
			cancel()
			require.NoError(t, waitDone(t, done))
			assert.True(t, server.Closed())

			frames := server.Written()
			assert.GreaterOrEqual(t, len(frames), 9)
			assert.LessOrEqual(t, len(frames), 11)

			var last uint64
			for i, f := range frames {
				assert.Equal(t, enc.Binary(), f.IsBinary())
				sample := decodeFrame(t, f)
				assert.Equal(t, "rover", sample.Topic)
				assert.Equal(t, types.KindRecord, sample.Value.Kind())
				if i > 0 {
					assert.Greater(t, sample.Time, last)
				}
				last = sample.Time
			}
		})
	}
}

// A Record that breaks its topic's pinned shape is sent in plain form for
// that tick with the same content.
func TestSession_EncodeFallback(t *testing.T) {
	server, client := testutil.Pipe()
	defer client.Close()

	full := types.Record(types.NumberField("x", 1), types.NumberField("y", 2))
	broken := types.Record(types.NumberField("x", 3))

	var n atomic.Int32
	src := SourceFunc(func(_ context.Context, elapsed uint64) (types.Sample, bool) {
		v := full
		if n.Add(1) == 2 {
			v = broken
		}
		return types.Sample{Topic: "shape", Time: elapsed, Value: v}, true
	})

	s := NewSession(server, NewHandler(store.New(), nil, Config{}), src, nil, nil,
		SessionConfig{RateHz: 100, Encoding: codec.EncodingColumnar})
	cancel, done := startSession(t, s)
	defer cancel()

	var got []wire.Frame
	for len(got) < 3 {
		f, err := client.ReadFrame()
		require.NoError(t, err)
		got = append(got, f)
	}
	cancel()
	require.NoError(t, waitDone(t, done))

	assert.True(t, got[0].IsBinary())
	assert.False(t, got[1].IsBinary())
	assert.True(t, got[2].IsBinary())

	second := decodeFrame(t, got[1])
	assert.Equal(t, "shape", second.Topic)
	assert.True(t, broken.Equal(second.Value))
	assert.Greater(t, second.Time, decodeFrame(t, got[0]).Time)

	assert.Equal(t, uint64(1), s.Stats().Fallbacks)
}

func TestSession_RequestReply(t *testing.T) {
	server, client := testutil.Pipe()
	defer client.Close()

	s := NewSession(server, NewHandler(tempStore(), nil, Config{}), nil, nil, nil, SessionConfig{})
	cancel, done := startSession(t, s)
	defer cancel()

	// A malformed frame is discarded and the session stays open.
	require.NoError(t, client.WriteFrame(wire.Text([]byte("not json"))))

	window := message.Range{0, 150}
	req, err := message.Marshal(message.NewRequest([]string{"temp", "missing"}, &window))
	require.NoError(t, err)
	require.NoError(t, client.WriteFrame(wire.Text(req)))

	f, err := client.ReadFrame()
	require.NoError(t, err)
	msgs, err := message.UnmarshalBatch(f.Payload)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "temp", msgs[0].Update.Topic)
	assert.True(t, types.Series{{Time: 100, Value: types.Number(20.5)}}.Equal(msgs[0].Update.Data))

	client.Close()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, uint64(1), s.Stats().DecodeErrors)
	assert.True(t, s.IsClosed())
}

func TestSession_WriteErrorIsFatal(t *testing.T) {
	server, client := testutil.Pipe()
	defer client.Close()
	server.FailWrites(fmt.Errorf("connection reset"))

	s := NewSession(server, NewHandler(store.New(), nil, Config{}),
		&SyntheticSource{Topic: "t"}, nil, nil, SessionConfig{RateHz: 50})
	_, done := startSession(t, s)

	err := waitDone(t, done)
	require.Error(t, err)
	assert.True(t, server.Closed())
}

func TestSession_StoreSource(t *testing.T) {
	server, client := testutil.Pipe()
	defer client.Close()

	st := store.New()
	st.AddSample("replay", 0, types.Number(1))
	st.AddSample("replay", 60, types.Number(2))

	s := NewSession(server, NewHandler(st, nil, Config{}),
		&StoreSource{Topic: "replay", Store: st}, nil, nil, SessionConfig{RateHz: 20})
	cancel, done := startSession(t, s)
	defer cancel()

	first := decodeFrame(t, mustRead(t, client))
	second := decodeFrame(t, mustRead(t, client))
	cancel()
	require.NoError(t, waitDone(t, done))

	// Ticks land on the 50 ms grid and carry the value as of their time.
	for _, got := range []types.Sample{first, second} {
		assert.Zero(t, got.Time%50)
		want, ok := st.AtOrBefore("replay", got.Time)
		require.True(t, ok)
		assert.True(t, want.Equal(got.Value))
	}
	assert.Greater(t, second.Time, first.Time)
}

// Epoch-millisecond data is replayed from a fixed origin or from the topic's
// first point.
func TestSession_StoreSourceOrigin(t *testing.T) {
	const epoch = uint64(1_700_000_000_000)

	tests := []struct {
		name string
		src  *StoreSource
	}{
		{"explicit origin", &StoreSource{Topic: "replay", Origin: epoch}},
		{"from first point", &StoreSource{Topic: "replay", FromFirst: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client := testutil.Pipe()
			defer client.Close()

			st := store.New()
			st.AddSample("replay", epoch, types.Number(1))
			st.AddSample("replay", epoch+60, types.Number(2))
			tt.src.Store = st

			s := NewSession(server, NewHandler(st, nil, Config{}), tt.src, nil, nil, SessionConfig{RateHz: 20})
			cancel, done := startSession(t, s)
			defer cancel()

			got := decodeFrame(t, mustRead(t, client))
			cancel()
			require.NoError(t, waitDone(t, done))

			assert.GreaterOrEqual(t, got.Time, epoch)
			want, ok := st.AtOrBefore("replay", got.Time)
			require.True(t, ok)
			assert.True(t, want.Equal(got.Value))
		})
	}
}

// Plain frames carry non-finite numbers, so such ticks are still sent.
func TestSession_PlainNonFinite(t *testing.T) {
	server, client := testutil.Pipe()
	defer client.Close()

	st := store.New()
	st.AddSample("nan", 0, types.Number(math.NaN()))

	s := NewSession(server, NewHandler(st, nil, Config{}),
		&StoreSource{Topic: "nan", Store: st}, nil, nil,
		SessionConfig{RateHz: 20, Encoding: codec.EncodingPlain})
	cancel, done := startSession(t, s)
	defer cancel()

	got := decodeFrame(t, mustRead(t, client))
	cancel()
	require.NoError(t, waitDone(t, done))

	f, ok := got.Value.Number()
	require.True(t, ok)
	assert.True(t, math.IsNaN(f))
}

func mustRead(t *testing.T, c *testutil.Conn) wire.Frame {
	t.Helper()
	f, err := c.ReadFrame()
	require.NoError(t, err)
	return f
}

func TestSession_SyntheticRecordsToStore(t *testing.T) {
	st := store.New()
	src := &SyntheticSource{Topic: "rec", Store: st}

	s, ok := src.Sample(context.Background(), 1500)
	require.True(t, ok)
	assert.Equal(t, uint64(1500), s.Time)
	assert.Equal(t, 12, s.Value.NumFields())

	v, ok := st.AtOrBefore("rec", 2000)
	require.True(t, ok)
	assert.True(t, s.Value.Equal(v))
}

func TestSession_TickSkipsMissedIntervals(t *testing.T) {
	server, _ := testutil.Pipe()
	s := NewSession(server, NewHandler(store.New(), nil, Config{}),
		&SyntheticSource{Topic: "t"}, nil, nil, SessionConfig{RateHz: 10})

	s.tick(context.Background(), 100, 100)
	s.tick(context.Background(), 457, 100)

	assert.Equal(t, uint64(400), s.lastSend)
	assert.Equal(t, uint64(2), s.Stats().TicksSkipped)
	assert.Len(t, s.sendCh, 2)
}

func TestSession_EnqueueDropsWhenFull(t *testing.T) {
	server, _ := testutil.Pipe()
	s := NewSession(server, NewHandler(store.New(), nil, Config{}), nil, nil, nil,
		SessionConfig{QueueSize: 1, SendTimeout: 10 * time.Millisecond})

	ctx := context.Background()
	assert.True(t, s.enqueue(ctx, wire.Text([]byte("a"))))
	assert.False(t, s.enqueue(ctx, wire.Text([]byte("b"))))
	assert.Equal(t, uint64(1), s.Stats().Dropped)
}

func TestSessionConfig_Interval(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, SessionConfig{RateHz: 10}.Interval())
	assert.Equal(t, time.Millisecond, SessionConfig{RateHz: 1e6}.Interval())
	assert.Equal(t, time.Duration(0), SessionConfig{}.Interval())
}

func TestSessionManager(t *testing.T) {
	sm := NewSessionManager()
	h := NewHandler(store.New(), nil, Config{})

	var clients []*testutil.Conn
	for i := 0; i < 3; i++ {
		server, client := testutil.Pipe()
		clients = append(clients, client)
		s := NewSession(server, h, nil, nil, nil, SessionConfig{})
		go sm.Serve(context.Background(), s)
	}
	require.NoError(t, testutil.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return sm.Count() == 3
	}))

	clients[0].Close()
	require.NoError(t, testutil.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return sm.Count() == 2
	}))

	require.NoError(t, testutil.WithTimeout(2*time.Second, func() error {
		sm.CloseAll()
		return nil
	}))
	assert.Equal(t, 0, sm.Count())

	server, _ := testutil.Pipe()
	late := NewSession(server, h, nil, nil, nil, SessionConfig{})
	assert.ErrorIs(t, sm.Serve(context.Background(), late), errors.ErrSessionClosed)
	assert.True(t, server.Closed())
}
