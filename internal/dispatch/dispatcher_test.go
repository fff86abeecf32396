package dispatch

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netinfo/internal/models"
)

func snapshotOf(t models.ConnectionType) models.Snapshot {
	return models.Snapshot{Type: t, IsConnected: t != models.ConnectionNone}
}

type recorder struct {
	mu    sync.Mutex
	snaps []models.Snapshot
}

func (r *recorder) listen(s models.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func TestPublishSuppressesIdenticalSnapshots(t *testing.T) {
	d := New(nil, Hooks{})
	rec := &recorder{}
	d.Subscribe(rec.listen)

	assert.True(t, d.Publish(snapshotOf(models.ConnectionWifi)))
	assert.False(t, d.Publish(snapshotOf(models.ConnectionWifi)))
	assert.False(t, d.Publish(snapshotOf(models.ConnectionWifi)))
	assert.Equal(t, 1, rec.count())

	assert.True(t, d.Publish(snapshotOf(models.ConnectionCellular)))
	assert.True(t, d.Publish(snapshotOf(models.ConnectionWifi)))
	assert.Equal(t, 3, rec.count())
}

func TestUnsubscribeStopsOnlyThatListener(t *testing.T) {
	d := New(nil, Hooks{})
	a, b := &recorder{}, &recorder{}
	ha := d.Subscribe(a.listen)
	d.Subscribe(b.listen)

	d.Publish(snapshotOf(models.ConnectionWifi))
	require.True(t, d.Unsubscribe(ha))
	assert.False(t, d.Unsubscribe(ha), "second unsubscribe must report unknown handle")

	d.Publish(snapshotOf(models.ConnectionEthernet))

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 2, b.count())
}

func TestPanickingListenerIsIsolated(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	panics := 0
	d := New(logger, Hooks{OnPanic: func() { panics++ }})

	before, after := &recorder{}, &recorder{}
	d.Subscribe(before.listen)
	d.Subscribe(func(models.Snapshot) { panic("boom") })
	d.Subscribe(after.listen)

	assert.NotPanics(t, func() { d.Publish(snapshotOf(models.ConnectionWifi)) })
	assert.Equal(t, 1, before.count())
	assert.Equal(t, 1, after.count())
	assert.Equal(t, 1, panics)
	assert.Contains(t, logs.String(), "listener panicked")
	assert.Contains(t, logs.String(), "boom")
}

func TestHooksFollowListenerCount(t *testing.T) {
	var events []string
	d := New(nil, Hooks{
		OnActive: func() { events = append(events, "active") },
		OnIdle:   func() { events = append(events, "idle") },
	})

	h1 := d.Subscribe(func(models.Snapshot) {})
	h2 := d.Subscribe(func(models.Snapshot) {})
	assert.Equal(t, 2, d.ListenerCount())
	d.Unsubscribe(h1)
	assert.Equal(t, []string{"active"}, events)

	d.Unsubscribe(h2)
	assert.Equal(t, 0, d.ListenerCount())
	assert.Equal(t, []string{"active", "idle"}, events)

	d.AddListeners(2)
	d.RemoveListeners(1)
	assert.Equal(t, 1, d.ListenerCount())
	d.RemoveListeners(5)
	assert.Equal(t, 0, d.ListenerCount())
	d.RemoveListeners(1)
	assert.Equal(t, []string{"active", "idle", "active", "idle"}, events)
}

func TestPublishWithoutListenersRecordsLast(t *testing.T) {
	d := New(nil, Hooks{})
	_, ok := d.Last()
	assert.False(t, ok)

	assert.True(t, d.Publish(snapshotOf(models.ConnectionWifi)))
	last, ok := d.Last()
	require.True(t, ok)
	assert.Equal(t, models.ConnectionWifi, last.Type)

	rec := &recorder{}
	d.Subscribe(rec.listen)
	assert.False(t, d.Publish(snapshotOf(models.ConnectionWifi)))
	assert.Equal(t, 0, rec.count())
}

func TestListenerMayUnsubscribeDuringDelivery(t *testing.T) {
	d := New(nil, Hooks{})
	var h Handle
	calls := 0
	h = d.Subscribe(func(models.Snapshot) {
		calls++
		d.Unsubscribe(h)
	})

	d.Publish(snapshotOf(models.ConnectionWifi))
	d.Publish(snapshotOf(models.ConnectionNone))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, d.ListenerCount())
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	d := New(nil, Hooks{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h := d.Subscribe(func(models.Snapshot) {})
			d.Unsubscribe(h)
		}()
		go func(i int) {
			defer wg.Done()
			types := []models.ConnectionType{models.ConnectionWifi, models.ConnectionNone}
			d.Publish(snapshotOf(types[i%2]))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, d.ListenerCount())
}

func TestEmitterServesRemoteListeners(t *testing.T) {
	d := New(nil, Hooks{})
	remote := &recorder{}
	d.SetEmitter(remote.listen)

	d.Publish(snapshotOf(models.ConnectionWifi))
	assert.Equal(t, 0, remote.count(), "no remote listeners yet")

	d.AddListeners(1)
	d.Publish(snapshotOf(models.ConnectionEthernet))
	assert.Equal(t, 1, remote.count())

	d.RemoveListeners(1)
	d.Publish(snapshotOf(models.ConnectionNone))
	assert.Equal(t, 1, remote.count())
}

func TestEmitterPanicIsIsolated(t *testing.T) {
	panics := 0
	d := New(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), Hooks{OnPanic: func() { panics++ }})
	d.SetEmitter(func(models.Snapshot) { panic("emitter broke") })
	local := &recorder{}
	d.Subscribe(local.listen)
	d.AddListeners(1)

	assert.NotPanics(t, func() { d.Publish(snapshotOf(models.ConnectionWifi)) })
	assert.Equal(t, 1, local.count())
	assert.Equal(t, 1, panics)
}
