package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ms-booking/internal/booking"
)

func TestSweeperReleasesExpiredHolds(t *testing.T) {
	manager, bunDB, clock := newTestLockManager(t)
	defer bunDB.Close()
	listing := createListing(t, bunDB, 10, false, 72*time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := manager.Acquire(ctx, listing.ID, "user-a", "1")
	require.NoError(t, err)

	clock.Advance(booking.DefaultLockTTL + time.Second)

	sweeper := booking.NewSweeper(manager, 10*time.Millisecond, nil)
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		held, err := manager.DB.HeldCount(ctx, listing.ID, clock.Now())
		return err == nil && held == 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}

func TestSweeperDefaultsInterval(t *testing.T) {
	manager, bunDB, _ := newTestLockManager(t)
	defer bunDB.Close()

	sweeper := booking.NewSweeper(manager, 0, nil)
	require.Equal(t, time.Minute, sweeper.Interval)
}
