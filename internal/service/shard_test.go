package service

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-dev/canopy"
)

func TestShard_BeginIndexing_SingleFlight(t *testing.T) {
	s := &Shard{}
	ok, gen := s.beginIndexing()
	require.True(t, ok)
	assert.Equal(t, canopy.Generation(0), gen)

	ok2, gen2 := s.beginIndexing()
	assert.False(t, ok2, "a second beginIndexing while one is in flight must be rejected")
	assert.Equal(t, canopy.Generation(0), gen2)
}

func TestShard_FinishIndexing_AdvancesGenerationOnSuccess(t *testing.T) {
	s := &Shard{}
	_, _ = s.beginIndexing()
	gen := s.finishIndexing("abc123", nil)
	assert.Equal(t, canopy.Generation(1), gen)
	assert.Equal(t, StatusReady, s.Status)
	assert.Equal(t, "abc123", s.CommitSHA)
	assert.Empty(t, s.LastError)
}

func TestShard_FinishIndexing_LeavesGenerationOnError(t *testing.T) {
	s := &Shard{}
	_, _ = s.beginIndexing()
	gen := s.finishIndexing("", assert.AnError)
	assert.Equal(t, canopy.Generation(0), gen, "generation only advances on success (I6: never decreases, but also never advances on failure)")
	assert.Equal(t, StatusError, s.Status)
	assert.Equal(t, assert.AnError.Error(), s.LastError)
}

func TestShard_BeginIndexing_ReleasedAfterFinish(t *testing.T) {
	s := &Shard{}
	_, _ = s.beginIndexing()
	s.finishIndexing("", nil)
	ok, _ := s.beginIndexing()
	assert.True(t, ok, "the single-flight guard must release once finishIndexing has run")
}

func TestShard_ShadowPath_KeyedByGenerationNotAccretingSuffixes(t *testing.T) {
	s := &Shard{basePath: "/data/repo/index.db"}
	assert.Equal(t, "/data/repo/index.db.gen1", s.shadowPath(1))
	assert.Equal(t, "/data/repo/index.db.gen2", s.shadowPath(2))
}

func TestShard_Promote_SwapsEngineAndAdvancesGeneration(t *testing.T) {
	oldDBPath := filepath.Join(t.TempDir(), "old.db")
	oldEngine, err := canopy.Open(oldDBPath)
	require.NoError(t, err)

	newDBPath := filepath.Join(t.TempDir(), "new.db")
	newEngine, err := canopy.Open(newDBPath)
	require.NoError(t, err)

	s := &Shard{engine: oldEngine, DBPath: oldDBPath, basePath: oldDBPath}
	gen := s.promote(newEngine, newDBPath, "deadbeef")

	assert.Equal(t, canopy.Generation(1), gen)
	assert.Equal(t, canopy.Generation(1), s.Generation)
	assert.Equal(t, "deadbeef", s.CommitSHA)
	assert.Equal(t, StatusReady, s.Status)
	assert.False(t, s.indexing)
	assert.Same(t, newEngine, s.engine, "promote must swap the live engine pointer")

	_, statErr := os.Stat(oldDBPath)
	assert.True(t, os.IsNotExist(statErr), "promote must remove the superseded generation's file")
}

func TestShard_Snapshot_IsConsistentUnderConcurrentAccess(t *testing.T) {
	s := &Shard{ID: "r1", Name: "repo"}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.beginIndexing()
			s.finishIndexing("sha", nil)
		}()
	}
	wg.Wait()
	snap := s.snapshot()
	assert.Equal(t, "r1", snap.ID)
	assert.False(t, snap.Indexing)
}
