package engine

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soradb/sora/cfg"
	"github.com/soradb/sora/storage"
	"github.com/soradb/sora/thread"
	"github.com/soradb/sora/txn"
)

func testConfig() cfg.Configuration {
	return cfg.Configuration{
		EngineID: 1,
		Thread: cfg.ThreadConfiguration{
			NumaNodes:      2,
			ThreadsPerNode: 2,
			PinThreads:     false,
		},
		Epoch:  cfg.EpochConfiguration{AdvanceIntervalMS: 5},
		Memory: cfg.MemoryConfiguration{FramesPerNode: 256, FrameSize: 64},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	e := New(testConfig())
	require.NoError(t, e.Initialize())
	t.Cleanup(func() {
		if err := e.Uninitialize(); err != nil && err != ErrNotInitialized {
			t.Errorf("uninitialize: %v", err)
		}
	})
	return e
}

func TestEngine_InitializeTwice(t *testing.T) {
	e := newTestEngine(t)
	require.ErrorIs(t, e.Initialize(), ErrAlreadyInitialized)
}

func TestEngine_DoubleUninitializeRecoverable(t *testing.T) {
	e := New(testConfig())
	require.NoError(t, e.Initialize())

	require.NoError(t, e.Uninitialize())
	require.ErrorIs(t, e.Uninitialize(), ErrNotInitialized)

	// A fully torn down engine can come back up
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Uninitialize())
}

func TestEngine_ImpersonateRequiresInitialize(t *testing.T) {
	e := New(testConfig())
	_, err := e.Impersonate(context.Background(), thread.TaskFunc(func(ctx context.Context, tc *thread.Context) error {
		return nil
	}))
	require.ErrorIs(t, err, ErrNotInitialized)
}

// addTask returns a task that transactionally adds delta to one record,
// retrying from Begin whenever commit validation loses a race.
func addTask(arr *storage.Array, rid storage.RecordID, delta uint64) thread.TaskFunc {
	return func(ctx context.Context, tc *thread.Context) error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := tc.Txns.Begin(tc.Txn, txn.Serializable); err != nil {
				return err
			}
			cur, err := tc.Txn.Read(arr, rid)
			if err != nil {
				return err
			}
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, binary.LittleEndian.Uint64(cur)+delta)
			if err := tc.Txn.Write(arr, rid, buf); err != nil {
				return err
			}
			if _, err := tc.Txns.Precommit(tc.Txn); err != nil {
				if txn.IsRaceAbort(err) {
					continue
				}
				return err
			}
			return nil
		}
	}
}

// readAllTask reads every record of the array in one serializable
// transaction and decodes the values into out.
func readAllTask(arr *storage.Array, out []uint64) thread.TaskFunc {
	return func(ctx context.Context, tc *thread.Context) error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := tc.Txns.Begin(tc.Txn, txn.Serializable); err != nil {
				return err
			}
			for rid := range out {
				val, err := tc.Txn.Read(arr, storage.RecordID(rid))
				if err != nil {
					return err
				}
				out[rid] = binary.LittleEndian.Uint64(val)
			}
			if _, err := tc.Txns.Precommit(tc.Txn); err != nil {
				if txn.IsRaceAbort(err) {
					continue
				}
				return err
			}
			return nil
		}
	}
}

// Ten concurrent transactions add i*20+4 to a record chosen by a grouping
// function. No matter how the writers collide, every delta must land
// exactly once.
func TestEngine_ConcurrentIncrements(t *testing.T) {
	const (
		writers = 10
		records = 16
	)

	cases := []struct {
		name  string
		group func(i int) storage.RecordID
	}{
		{"distinct_records", func(i int) storage.RecordID { return storage.RecordID(i) }},
		{"pairs_share_record", func(i int) storage.RecordID { return storage.RecordID(i / 2) }},
		{"fives_share_record", func(i int) storage.RecordID { return storage.RecordID(i / 5) }},
		{"all_on_one_record", func(i int) storage.RecordID { return 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t)
			arr, err := e.Storage().CreateArray("accounts", 8, records)
			require.NoError(t, err)

			ctx := context.Background()
			sessions := make([]*thread.Session, writers)
			for i := 0; i < writers; i++ {
				s, err := e.Impersonate(ctx, addTask(arr, tc.group(i), uint64(i*20+4)))
				require.NoError(t, err)
				sessions[i] = s
			}
			for i, s := range sessions {
				require.NoError(t, s.Wait(), "writer %d", i)
			}

			expected := make([]uint64, records)
			for i := 0; i < writers; i++ {
				expected[tc.group(i)] += uint64(i*20 + 4)
			}

			got := make([]uint64, records)
			s, err := e.Impersonate(ctx, readAllTask(arr, got))
			require.NoError(t, err)
			require.NoError(t, s.Wait())

			require.Equal(t, expected, got)
		})
	}
}

func TestEngine_CommittedStampsCarryEpoch(t *testing.T) {
	e := newTestEngine(t)
	arr, err := e.Storage().CreateArray("stamped", 8, 4)
	require.NoError(t, err)

	s, err := e.Impersonate(context.Background(), addTask(arr, 2, 7))
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	stamp, err := arr.Version(2)
	require.NoError(t, err)
	require.False(t, stamp.Locked())
	require.NotZero(t, stamp.Epoch())
	require.LessOrEqual(t, stamp.Epoch(), uint64(e.EpochClock().Current()))
}

func TestEngine_StorageLifecycle(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Storage().CreateArray("a", 8, 4)
	require.NoError(t, err)

	var exists storage.ErrStorageExists
	_, err = e.Storage().CreateArray("a", 8, 4)
	require.ErrorAs(t, err, &exists)

	require.NoError(t, e.Storage().Drop("a"))

	var missing storage.ErrStorageNotFound
	_, err = e.Storage().Get("a")
	require.ErrorAs(t, err, &missing)
}
