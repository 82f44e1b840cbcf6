package audit

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "audit.db")
	s, err := OpenStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestAppendChains(t *testing.T) {
	s, _ := newTestStore(t)

	e1, err := s.Append(EntryRestart, RestartData{Instance: "reef-a", Success: true, Method: "gateway"})
	require.NoError(t, err)
	assert.Equal(t, FirstSequence, e1.Sequence)
	assert.Empty(t, e1.PrevHash)
	assert.NotEmpty(t, e1.Hash)

	e2, err := s.Append(EntryMigration, MigrationData{Source: "reef-a", Destination: "reef-b", AgentID: "hal", Success: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e2.Sequence)
	assert.Equal(t, e1.Hash, e2.PrevHash)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	want, err := s.Append(EntryFileWrite, FileWriteData{Instance: "reef-a", Path: "~/.openclaw/openclaw.json", Bytes: 12, SHA256: "ab"})
	require.NoError(t, err)

	got, err := s.Get(want.Sequence)
	require.NoError(t, err)
	assert.Equal(t, want.Hash, got.Hash)
	assert.True(t, got.Verify(), "hash must survive a database round trip")
	assert.True(t, want.Timestamp.Equal(got.Timestamp))

	var data FileWriteData
	require.NoError(t, got.Decode(&data))
	assert.Equal(t, "~/.openclaw/openclaw.json", data.Path)

	_, err = s.Get(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRangeAndRecent(t *testing.T) {
	s, _ := newTestStore(t)
	for _, typ := range []EntryType{EntryRestart, EntryBackup, EntryRestart, EntrySweep, EntryRestart} {
		_, err := s.Append(typ, map[string]string{"instance": "reef-a"})
		require.NoError(t, err)
	}

	r, err := s.Range(2, 4)
	require.NoError(t, err)
	require.Len(t, r, 3)
	assert.Equal(t, EntryBackup, r[0].Type)
	assert.Equal(t, EntrySweep, r[2].Type)

	recent, err := s.Recent(2, "")
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(4), recent[0].Sequence)
	assert.Equal(t, uint64(5), recent[1].Sequence)

	restarts, err := s.Recent(10, EntryRestart)
	require.NoError(t, err)
	var seqs []uint64
	for _, e := range restarts {
		seqs = append(seqs, e.Sequence)
	}
	assert.Equal(t, []uint64{1, 3, 5}, seqs)
}

func TestVerifyChain(t *testing.T) {
	s, _ := newTestStore(t)

	res, err := s.VerifyChain()
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Zero(t, res.EntryCount)

	for i := 0; i < 4; i++ {
		_, err := s.Append(EntryRestart, RestartData{Instance: "reef-a", Method: "gateway", Success: true})
		require.NoError(t, err)
	}
	res, err = s.VerifyChain()
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, uint64(4), res.EntryCount)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		tamper string
		broken uint64
		reason string
	}{
		{
			name:   "edited data",
			tamper: `UPDATE entries SET data = '{"instance":"reef-z"}' WHERE seq = 2`,
			broken: 2,
			reason: "hash mismatch",
		},
		{
			name:   "deleted entry",
			tamper: `DELETE FROM entries WHERE seq = 2`,
			broken: 2,
			reason: "sequence gap",
		},
		{
			name:   "relinked entry",
			tamper: `UPDATE entries SET prev_hash = 'forged' WHERE seq = 3`,
			broken: 3,
			reason: "does not link",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, path := newTestStore(t)
			for _, inst := range []string{"reef-a", "reef-b", "reef-c"} {
				_, err := s.Append(EntryRestart, RestartData{Instance: inst})
				require.NoError(t, err)
			}

			db, err := sql.Open("sqlite", path)
			require.NoError(t, err)
			_, err = db.Exec(tt.tamper)
			require.NoError(t, err)
			require.NoError(t, db.Close())

			res, err := s.VerifyChain()
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Equal(t, tt.broken, res.BrokenAt)
			assert.Contains(t, res.Error, tt.reason)
		})
	}
}

func TestAppendFromTwoHandles(t *testing.T) {
	s1, path := newTestStore(t)
	s2, err := OpenStore(path)
	require.NoError(t, err)
	defer s2.Close()

	for i := 0; i < 3; i++ {
		_, err := s1.Append(EntrySweep, SweepData{Command: "fleet health", Units: i})
		require.NoError(t, err)
		_, err = s2.Append(EntrySweep, SweepData{Command: "fleet overview", Units: i})
		require.NoError(t, err)
	}

	res, err := s1.VerifyChain()
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Error)
	assert.Equal(t, uint64(6), res.EntryCount)
}

func TestNewEntryRejectsUnmarshalable(t *testing.T) {
	_, err := NewEntry(1, "", EntrySweep, map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}
