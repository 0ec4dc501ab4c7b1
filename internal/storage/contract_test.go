package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"bsewatch/internal/model"
	logx "bsewatch/pkg/logx"
)

// runStoreContract exercises behaviour every driver must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("registry", func(t *testing.T) {
		ctx := context.Background()
		st := open(t)

		require.NoError(t, st.AddWatched(ctx, model.WatchedInstrument{SubscriberID: "u1", ExchangeCode: "500325", DisplayName: "Reliance"}))
		require.NoError(t, st.AddWatched(ctx, model.WatchedInstrument{SubscriberID: "u1", ExchangeCode: "532540"}))
		require.NoError(t, st.AddWatched(ctx, model.WatchedInstrument{SubscriberID: "u2", ExchangeCode: "500325"}))
		// upsert keeps one row and refreshes the name
		require.NoError(t, st.AddWatched(ctx, model.WatchedInstrument{SubscriberID: "u1", ExchangeCode: "532540", DisplayName: "TCS"}))
		require.ErrorIs(t, st.AddWatched(ctx, model.WatchedInstrument{SubscriberID: "u1"}), ErrInvalid)

		all, err := st.ListAllWatched(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)

		u1, err := st.ListWatched(ctx, "u1")
		require.NoError(t, err)
		require.ElementsMatch(t, []model.WatchedInstrument{
			{SubscriberID: "u1", ExchangeCode: "500325", DisplayName: "Reliance"},
			{SubscriberID: "u1", ExchangeCode: "532540", DisplayName: "TCS"},
		}, u1)

		ok, err := st.RemoveWatched(ctx, "u2", "500325")
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = st.RemoveWatched(ctx, "u2", "500325")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("recipient reassignment", func(t *testing.T) {
		ctx := context.Background()
		st := open(t)

		prev, err := st.AddRecipient(ctx, model.Recipient{SubscriberID: "u1", ChannelAddress: "111"})
		require.NoError(t, err)
		require.Empty(t, prev)

		prev, err = st.AddRecipient(ctx, model.Recipient{SubscriberID: "u2", ChannelAddress: "111"})
		require.NoError(t, err)
		require.Equal(t, model.SubscriberID("u1"), prev)

		all, err := st.ListAllRecipients(ctx)
		require.NoError(t, err)
		require.Equal(t, []model.Recipient{{SubscriberID: "u2", ChannelAddress: "111"}}, all)

		u1, err := st.ListRecipients(ctx, "u1")
		require.NoError(t, err)
		require.Empty(t, u1)

		ok, err := st.RemoveRecipient(ctx, "111")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("ledger", func(t *testing.T) {
		ctx := context.Background()
		st := open(t)

		seen, err := st.HasSeen(ctx, "u1", "N1")
		require.NoError(t, err)
		require.False(t, seen)

		row := model.SeenDisclosure{
			SubscriberID:   "u1",
			DisclosureID:   "N1",
			ExchangeCode:   "500325",
			Headline:       "Board meeting",
			AttachmentName: "a.pdf",
			DisclosureTime: time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC),
			Caption:        "Company: Reliance",
		}
		require.NoError(t, st.MarkSeen(ctx, row))
		require.NoError(t, st.MarkSeen(ctx, row), "MarkSeen must be idempotent")

		seen, err = st.HasSeen(ctx, "u1", "N1")
		require.NoError(t, err)
		require.True(t, seen)

		seen, err = st.HasSeen(ctx, "u2", "N1")
		require.NoError(t, err)
		require.False(t, seen, "ledger is per subscriber")
	})

	t.Run("run log", func(t *testing.T) {
		ctx := context.Background()
		st := open(t)

		base := time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)
		r1, r2 := uuid.NewString(), uuid.NewString()
		require.NoError(t, st.AppendRun(ctx, model.RunLogEntry{RunID: r1, Job: "bse_announcements", SubscriberID: "u1", Processed: true, NotificationsSent: 2, RecipientCount: 1, RunAt: base}))
		require.NoError(t, st.AppendRun(ctx, model.RunLogEntry{RunID: r1, Job: "bse_announcements", SubscriberID: "u2", RunAt: base}))
		require.NoError(t, st.AppendRun(ctx, model.RunLogEntry{RunID: r2, Job: "evening_summary", SubscriberID: "u1", Processed: true, Error: "", RunAt: base.Add(time.Hour)}))

		runs, err := st.RecentRuns(ctx, 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		require.Equal(t, r2, runs[0].RunID)
		require.Equal(t, "evening_summary", runs[0].Job)
		require.True(t, runs[0].RunAt.Equal(base.Add(time.Hour)))
		require.Equal(t, r1, runs[1].RunID)
		require.NotZero(t, runs[0].ID)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemory() })
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bsewatch.db")}, logx.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestFileStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		st, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bsewatch.json")}, logx.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bsewatch.json")}

	st, err := Open(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.AddWatched(ctx, model.WatchedInstrument{SubscriberID: "u1", ExchangeCode: "500325"}))
	_, err = st.AddRecipient(ctx, model.Recipient{SubscriberID: "u1", ChannelAddress: "42"})
	require.NoError(t, err)
	require.NoError(t, st.MarkSeen(ctx, model.SeenDisclosure{SubscriberID: "u1", DisclosureID: "N1"}))
	require.NoError(t, st.AppendRun(ctx, model.RunLogEntry{RunID: "r", Job: "j", SubscriberID: "u1"}))

	// simulate a crash: journal only, no compaction
	fs := st.(*fileStore)
	require.NoError(t, fs.journal.Close())
	fs.journal = nil

	st2, err := Open(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	defer st2.Close()

	w, err := st2.ListAllWatched(ctx)
	require.NoError(t, err)
	require.Len(t, w, 1)
	seen, err := st2.HasSeen(ctx, "u1", "N1")
	require.NoError(t, err)
	require.True(t, seen)
	runs, err := st2.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	// compaction on close, then a clean reopen from the snapshot
	require.NoError(t, st2.Close())
	st3, err := Open(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	defer st3.Close()
	r, err := st3.ListRecipients(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, r, 1)
	require.NoError(t, st3.AppendRun(ctx, model.RunLogEntry{RunID: "r2", Job: "j", SubscriberID: "u1"}))
	runs, err = st3.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.NotEqual(t, runs[0].ID, runs[1].ID)
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	_, err := Open(context.Background(), Config{}, logx.Nop())
	require.ErrorIs(t, err, ErrDisabled)
	_, err = Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
}
