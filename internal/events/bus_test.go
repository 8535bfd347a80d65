package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitSyncDeliversToAllHandlers(t *testing.T) {
	bus := NewEventBus()
	var calls int32

	for _, name := range []string{"a", "b"} {
		bus.Subscribe(EventSessionClosed, name, func(ctx context.Context, e Event) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}

	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventSessionClosed}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, bus.HandlerCount(EventSessionClosed))
}

func TestEmitSyncReturnsHandlerError(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	bus.Subscribe(EventKickSession, "fails", func(ctx context.Context, e Event) error { return boom })
	bus.Subscribe(EventKickSession, "panics", func(ctx context.Context, e Event) error { panic("bad") })

	err := bus.EmitSync(context.Background(), Event{Type: EventKickSession})
	assert.ErrorIs(t, err, boom)
}

func TestEmitIsAsyncAndStopWaits(t *testing.T) {
	bus := NewEventBus()
	done := make(chan struct{})
	bus.Subscribe(EventNotifyMQTT, "slow", func(ctx context.Context, e Event) error {
		time.Sleep(10 * time.Millisecond)
		close(done)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventNotifyMQTT})
	bus.Stop()

	select {
	case <-done:
	default:
		t.Fatal("Stop returned before in-flight handler finished")
	}

	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventNotifyMQTT})
}

func TestStopDuringConcurrentEmit(t *testing.T) {
	bus := NewEventBus()
	var running, finished int32
	bus.Subscribe(EventSessionOpened, "counter", func(ctx context.Context, e Event) error {
		atomic.AddInt32(&running, 1)
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&running, -1)
		atomic.AddInt32(&finished, 1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				bus.Emit(context.Background(), Event{Type: EventSessionOpened})
			}
		}()
	}

	time.Sleep(2 * time.Millisecond)
	bus.Stop()
	assert.Equal(t, int32(0), atomic.LoadInt32(&running), "Stop returned with handlers in flight")
	after := atomic.LoadInt32(&finished)

	wg.Wait()
	bus.Emit(context.Background(), Event{Type: EventSessionOpened})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&finished), "no handler may start after Stop")
}

func TestSessionPhaseJSON(t *testing.T) {
	b, err := PhasePlaying.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"playing"`, string(b))
	assert.Equal(t, "unknown", SessionPhase(42).String())
}
