package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forEachStore runs fn against every embedded backend.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("json", func(t *testing.T) {
		s, err := NewJSONStore(filepath.Join(t.TempDir(), "store.json"))
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLStore(context.Background(), DialectSQLite, filepath.Join(t.TempDir(), "store.db"))
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
}

func TestStore_Tokens(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetTokens(ctx, "alice")
		require.ErrorIs(t, err, ErrNotFound)

		expiry := time.Now().Add(time.Hour).Truncate(time.Millisecond)
		require.NoError(t, s.PutTokens(ctx, &Credentials{UserID: "alice", AccessToken: "a1", RefreshToken: "r1", Expiry: expiry}))
		// A refresh overwrites the access token.
		require.NoError(t, s.PutTokens(ctx, &Credentials{UserID: "alice", AccessToken: "a2", RefreshToken: "r1", Expiry: expiry}))

		got, err := s.GetTokens(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "a2", got.AccessToken)
		assert.Equal(t, "r1", got.RefreshToken)
		assert.True(t, got.Expiry.Equal(expiry), "expiry = %v, want %v", got.Expiry, expiry)

		assert.ErrorIs(t, s.PutTokens(ctx, &Credentials{}), ErrInvalidInput)
	})
}

func TestStore_Settings(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		defaults := Settings{MonitorInterval: 300, DefaultQuality: "1080p", Privacy: "public"}

		got, err := SettingsOrDefault(ctx, s, "bob", defaults)
		require.NoError(t, err)
		assert.Equal(t, "bob", got.UserID)
		assert.Equal(t, 300, got.MonitorInterval)
		assert.Equal(t, "1080p", got.DefaultQuality)

		require.NoError(t, s.PutSettings(ctx, &Settings{UserID: "bob", MonitorInterval: 60, APIKey: "key"}))
		got, err = SettingsOrDefault(ctx, s, "bob", defaults)
		require.NoError(t, err)
		assert.Equal(t, 60, got.MonitorInterval)
		assert.Equal(t, "key", got.APIKey)
		// Empty fields are backfilled from the defaults.
		assert.Equal(t, "1080p", got.DefaultQuality)
		assert.Equal(t, "public", got.Privacy)
		assert.Equal(t, time.Minute, got.Interval())
	})
}

func TestStore_Channels(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		for _, id := range []string{"UCaaa", "UCbbb"} {
			ch := &MonitoredChannel{UserID: "u1", ChannelID: id, Name: "Channel " + id, LastVideoCount: 10, Quality: "1080p"}
			require.NoError(t, s.AddChannel(ctx, ch), id)
		}

		err := s.AddChannel(ctx, &MonitoredChannel{UserID: "u1", ChannelID: "UCaaa"})
		assert.ErrorIs(t, err, ErrAlreadyExists)
		// Another user may monitor the same channel.
		assert.NoError(t, s.AddChannel(ctx, &MonitoredChannel{UserID: "u2", ChannelID: "UCaaa"}))

		channels, err := s.ListChannels(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, channels, 2)
		assert.Equal(t, "UCaaa", channels[0].ChannelID, "insertion order")
		assert.Equal(t, "UCbbb", channels[1].ChannelID, "insertion order")
		assert.False(t, channels[0].AddedAt.IsZero(), "AddChannel did not stamp AddedAt")

		ch := channels[1]
		ch.LastVideoCount = 12
		ch.LastChecked = time.Now()
		require.NoError(t, s.UpdateChannel(ctx, ch))
		channels, _ = s.ListChannels(ctx, "u1")
		assert.Equal(t, int64(12), channels[1].LastVideoCount)

		require.NoError(t, s.RemoveChannel(ctx, "u1", "UCaaa"))
		assert.ErrorIs(t, s.RemoveChannel(ctx, "u1", "UCaaa"), ErrNotFound)
		assert.ErrorIs(t, s.UpdateChannel(ctx, &MonitoredChannel{UserID: "u1", ChannelID: "UCzzz"}), ErrNotFound)

		channels, _ = s.ListChannels(ctx, "nobody")
		assert.NotNil(t, channels)
		assert.Empty(t, channels)
	})
}

func TestStore_LogsRetentionAndCountdown(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			require.NoError(t, s.AppendLog(ctx, "u1", LogEntry{Level: LogInfo, Message: fmt.Sprintf("line %d", i)}, 3))
		}
		logs, err := s.ListLogs(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, logs, 3)
		assert.Equal(t, "line 2", logs[0].Message)
		assert.Equal(t, "line 4", logs[2].Message)

		for _, msg := range []string{"Cooldown: 0m 3s remaining", "Cooldown: 0m 2s remaining"} {
			require.NoError(t, s.AppendLog(ctx, "u1", LogEntry{Level: LogInfo, Message: msg, Countdown: true}, 10))
		}
		logs, _ = s.ListLogs(ctx, "u1", 0)
		require.Len(t, logs, 4, "countdown lines replace each other")
		assert.Equal(t, "Cooldown: 0m 2s remaining", logs[3].Message)
		assert.True(t, logs[3].Countdown)

		logs, _ = s.ListLogs(ctx, "u1", 2)
		require.Len(t, logs, 2)
		assert.True(t, logs[1].Countdown, "newest two, oldest first")

		require.NoError(t, s.ClearLogs(ctx, "u1"))
		logs, _ = s.ListLogs(ctx, "u1", 0)
		assert.Empty(t, logs)
	})
}

func TestStore_ServiceState(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		enabled, err := s.ServiceEnabled(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, enabled)

		require.NoError(t, s.SetServiceEnabled(ctx, "u1", true))
		enabled, _ = s.ServiceEnabled(ctx, "u1")
		assert.True(t, enabled)

		require.NoError(t, s.SetServiceEnabled(ctx, "u1", false))
		enabled, _ = s.ServiceEnabled(ctx, "u1")
		assert.False(t, enabled)
	})
}

func TestStore_HistoryCap(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < 55; i++ {
			e := HistoryEntry{JobID: fmt.Sprintf("job-%d", i), VideoID: "v", Platform: "vimeo"}
			require.NoError(t, s.AppendHistory(ctx, "u1", e, 50))
		}
		history, err := s.ListHistory(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, history, 50)
		assert.Equal(t, "job-5", history[0].JobID)
		assert.Equal(t, "job-54", history[49].JobID)
	})
}

func TestStore_ConcurrentAppends(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const n = 20
		var wg sync.WaitGroup
		errCh := make(chan error, n)

		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := s.AppendLog(ctx, "u1", LogEntry{Level: LogInfo, Message: fmt.Sprint(i)}, 1000); err != nil {
					errCh <- err
				}
			}(i)
		}
		wg.Wait()
		close(errCh)

		for err := range errCh {
			assert.NoError(t, err)
		}
		logs, _ := s.ListLogs(ctx, "u1", 0)
		assert.Len(t, logs, n)
	})
}

func TestStorageError(t *testing.T) {
	err := &StorageError{
		Op:     "read",
		Entity: "channel",
		ID:     "UC123",
		Err:    ErrNotFound,
	}
	assert.EqualError(t, err, "storage: read channel UC123: storage: not found")
	assert.ErrorIs(t, err, ErrNotFound)

	noID := &StorageError{Op: "write", Entity: "store", Err: ErrStorageCorrupt}
	assert.EqualError(t, noID, "storage: write store: storage: data corruption detected")
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mongo", "", "")
	assert.Error(t, err)
}
