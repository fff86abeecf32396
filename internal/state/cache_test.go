package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netinfo/internal/models"
)

func connectedSnapshot() models.Snapshot {
	return models.Snapshot{
		Type:                models.ConnectionWifi,
		IsConnected:         true,
		IsInternetReachable: models.ReachabilityUnknown,
		Details:             &models.Details{Interface: "wlan0", IPAddress: "10.0.0.5", Subnet: "255.255.255.0"},
		Interfaces: []models.InterfaceState{
			{Name: "wlan0", Type: models.ConnectionWifi, Up: true, Details: models.Details{Interface: "wlan0", IPAddress: "10.0.0.5"}},
			{Name: "rmnet0", Type: models.ConnectionCellular, Up: true, Details: models.Details{Interface: "rmnet0", IPAddress: "100.64.1.2"}},
		},
		ObservedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestCurrentBeforeFirstObservationIsUnknown(t *testing.T) {
	c := NewCache()

	done := make(chan models.Snapshot, 1)
	go func() { done <- c.Current() }()

	select {
	case snap := <-done:
		assert.Equal(t, models.ConnectionUnknown, snap.Type)
		assert.False(t, snap.IsConnected)
		assert.Equal(t, models.ReachabilityUnknown, snap.IsInternetReachable)
	case <-time.After(time.Second):
		t.Fatal("Current blocked before first observation")
	}
	assert.False(t, c.Observed())
	assert.Equal(t, models.ConnectionUnknown, c.CurrentFor("wifi").Type)
}

func TestUpdateReplacesWholesale(t *testing.T) {
	c := NewCache()
	c.Update(connectedSnapshot())

	next := models.Snapshot{Type: models.ConnectionNone, IsInternetReachable: models.ReachabilityUnreachable}
	got := c.Update(next)

	assert.True(t, got.Equal(next))
	assert.True(t, c.Current().Equal(next))
	assert.Nil(t, c.Current().Details)
}

func TestUpdateStoresCopy(t *testing.T) {
	c := NewCache()
	snap := connectedSnapshot()
	c.Update(snap)
	snap.Details.IPAddress = "mutated"

	assert.Equal(t, "10.0.0.5", c.Current().Details.IPAddress)
}

func TestReachabilityOverrideOnlyTouchesReachability(t *testing.T) {
	c := NewCache()
	base := connectedSnapshot()
	c.Update(base)

	c.SetReachabilityOverride(true)
	got := c.Current()
	assert.Equal(t, models.ReachabilityReachable, got.IsInternetReachable)

	got.IsInternetReachable = base.IsInternetReachable
	assert.True(t, got.Equal(base), "override changed more than reachability")

	c.Update(models.Snapshot{Type: models.ConnectionNone, IsInternetReachable: models.ReachabilityUnreachable})
	assert.Equal(t, models.ReachabilityUnreachable, c.Current().IsInternetReachable, "override ignored while disconnected")

	c.Update(base)
	c.ClearReachabilityOverride()
	assert.Equal(t, models.ReachabilityUnknown, c.Current().IsInternetReachable)
}

func TestCurrentFor(t *testing.T) {
	c := NewCache()
	c.Update(connectedSnapshot())
	c.SetReachabilityOverride(true)

	t.Run("empty filter", func(t *testing.T) {
		assert.True(t, c.CurrentFor("").Equal(c.Current()))
	})

	t.Run("primary by type", func(t *testing.T) {
		got := c.CurrentFor("wifi")
		assert.True(t, got.Equal(c.Current()))
		assert.Equal(t, models.ReachabilityReachable, got.IsInternetReachable)
	})

	t.Run("primary by name", func(t *testing.T) {
		assert.True(t, c.CurrentFor("WLAN0").Equal(c.Current()))
	})

	t.Run("secondary interface", func(t *testing.T) {
		got := c.CurrentFor("cellular")
		assert.Equal(t, models.ConnectionCellular, got.Type)
		assert.True(t, got.IsConnected)
		assert.Equal(t, models.ReachabilityUnknown, got.IsInternetReachable)
		require.NotNil(t, got.Details)
		assert.Equal(t, "rmnet0", got.Details.Interface)
		assert.Empty(t, got.Interfaces)
	})

	t.Run("missing interface", func(t *testing.T) {
		got := c.CurrentFor("ethernet")
		assert.Equal(t, models.ConnectionEthernet, got.Type)
		assert.False(t, got.IsConnected)
		assert.Equal(t, models.ReachabilityUnreachable, got.IsInternetReachable)
		assert.Nil(t, got.Details)

		got = c.CurrentFor("eth7")
		assert.Equal(t, models.ConnectionUnknown, got.Type)
		assert.False(t, got.IsConnected)
	})
}

func TestConcurrentReadWrite(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Update(connectedSnapshot())
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = c.CurrentFor("wifi")
			}
		}()
	}
	wg.Wait()
	assert.True(t, c.Current().Equal(connectedSnapshot()))
}
