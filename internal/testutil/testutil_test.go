package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/telestream/internal/errors"
	"github.com/xtxerr/telestream/internal/wire"
)

func TestPipe_OrderAndRecording(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	gt := NewGoroutineTest(t, 5*time.Second)
	defer gt.Wait()

	gt.Go(func(ctx context.Context) error {
		for i := 0; i < 100; i++ {
			f, err := b.ReadFrame()
			if err != nil {
				return fmt.Errorf("read %d: %w", i, err)
			}
			if string(f.Payload) != fmt.Sprint(i) {
				return fmt.Errorf("frame %d: got %q", i, f.Payload)
			}
		}
		return nil
	})

	for i := 0; i < 100; i++ {
		require.NoError(t, a.WriteFrame(wire.Text([]byte(fmt.Sprint(i)))))
	}
	assert.Len(t, a.Written(), 100)
	assert.Len(t, a.WriteTimes(), 100)
}

func TestPipe_Close(t *testing.T) {
	a, b := Pipe()
	require.NoError(t, a.WriteFrame(wire.Binary([]byte{1})))
	require.NoError(t, a.Close())
	assert.True(t, a.Closed())

	f, err := b.ReadFrame()
	require.NoError(t, err)
	assert.True(t, f.IsBinary())

	_, err = b.ReadFrame()
	assert.True(t, errors.Is(err, errors.ErrPeerClosed))
	assert.True(t, errors.IsTransport(err))

	err = b.WriteFrame(wire.Text(nil))
	assert.True(t, errors.IsTransport(err))
}

func TestPipe_FailWrites(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	a.FailWrites(fmt.Errorf("broken pipe"))
	assert.True(t, errors.IsTransport(a.WriteFrame(wire.Text([]byte("x")))))
	assert.Empty(t, a.Written())

	a.FailWrites(nil)
	assert.NoError(t, a.WriteFrame(wire.Text([]byte("x"))))
}

func TestEventually(t *testing.T) {
	start := time.Now()
	require.NoError(t, Eventually(time.Second, time.Millisecond, func() bool {
		return time.Since(start) > 10*time.Millisecond
	}))
	assert.Error(t, Eventually(5*time.Millisecond, time.Millisecond, func() bool { return false }))
}

func TestWithTimeout(t *testing.T) {
	assert.NoError(t, WithTimeout(time.Second, func() error { return nil }))
	assert.Error(t, WithTimeout(5*time.Millisecond, func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}))
}
