package wire

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xtxerr/telestream/internal/errors"
)

// bufferConn is an in-memory byte stream.
type bufferConn struct {
	bytes.Buffer
	closed bool
}

func (b *bufferConn) Close() error {
	b.closed = true
	return nil
}

func TestStreamConn_RoundTrip(t *testing.T) {
	buf := &bufferConn{}
	c := NewStreamConn(buf, 0)

	frames := []Frame{
		Text([]byte(`{"Request":{"topics":["a"]}}`)),
		Binary(bytes.Repeat([]byte{0xAB}, 300)),
		Text(nil),
	}
	for _, f := range frames {
		require.NoError(t, c.WriteFrame(f))
	}

	for _, want := range frames {
		got, err := c.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, len(want.Payload), len(got.Payload))
		assert.True(t, bytes.Equal(want.Payload, got.Payload))
	}

	_, err := c.ReadFrame()
	assert.True(t, errors.Is(err, errors.ErrPeerClosed))
	assert.True(t, errors.IsTransport(err))
}

func TestStreamConn_Layout(t *testing.T) {
	b := AppendFrame(nil, Binary([]byte("xyz")))
	n, m := protowire.ConsumeVarint(b)
	require.Equal(t, 1, m)
	assert.Equal(t, uint64(4), n)
	assert.Equal(t, byte(KindBinary), b[1])
	assert.Equal(t, "xyz", string(b[2:]))
}

func TestStreamConn_OversizedSkipped(t *testing.T) {
	buf := &bufferConn{}
	big := AppendFrame(nil, Binary(make([]byte, 64)))
	buf.Write(big)
	buf.Write(AppendFrame(nil, Text([]byte("ok"))))

	c := NewStreamConn(buf, 16)
	_, err := c.ReadFrame()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMessageTooLarge))
	assert.Equal(t, errors.KindDecode, errors.KindOf(err))

	f, err := c.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(f.Payload))

	err = c.WriteFrame(Binary(make([]byte, 64)))
	assert.True(t, errors.IsEncode(err))
}

func TestStreamConn_UnknownKind(t *testing.T) {
	buf := &bufferConn{}
	buf.Write(AppendFrame(nil, Frame{Kind: 9, Payload: []byte("?")}))
	buf.Write(AppendFrame(nil, Text([]byte("next"))))

	c := NewStreamConn(buf, 0)
	_, err := c.ReadFrame()
	assert.True(t, errors.Is(err, errors.ErrUnexpectedFrame))

	f, err := c.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "next", string(f.Payload))
}

func TestStreamConn_Truncated(t *testing.T) {
	buf := &bufferConn{}
	full := AppendFrame(nil, Text([]byte("truncated payload")))
	buf.Write(full[:5])

	c := NewStreamConn(buf, 0)
	_, err := c.ReadFrame()
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
	assert.False(t, errors.Is(err, errors.ErrPeerClosed))
}

func TestStreamConn_Close(t *testing.T) {
	buf := &bufferConn{}
	c := NewStreamConn(buf, 0)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, buf.closed)
	assert.True(t, errors.IsTransport(c.WriteFrame(Text(nil))))
}

func TestWSConn_Echo(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewWSConn(ws, 0, time.Second)
		defer c.Close()
		for {
			f, err := c.ReadFrame()
			if err != nil {
				return
			}
			if err := c.WriteFrame(f); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	c := NewWSConn(ws, 0, time.Second)
	defer c.Close()

	require.NoError(t, c.WriteFrame(Text([]byte("hello"))))
	require.NoError(t, c.WriteFrame(Binary([]byte{1, 2, 3})))

	f, err := c.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, KindText, f.Kind)
	assert.Equal(t, "hello", string(f.Payload))

	f, err = c.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, KindBinary, f.Kind)
	assert.Equal(t, []byte{1, 2, 3}, f.Payload)

	assert.NotEmpty(t, c.RemoteAddr())
	require.NoError(t, c.Close())
	assert.True(t, errors.IsTransport(c.WriteFrame(Text(nil))))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "text", KindText.String())
	assert.Equal(t, "binary", KindBinary.String())
	assert.False(t, Kind(0).Valid())
}
