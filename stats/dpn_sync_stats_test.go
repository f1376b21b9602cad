package stats_test

import (
	"fmt"
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func makeSyncResult(node string, withError bool) *models.SyncResult {
	result := models.NewSyncResult(node)
	result.AddToFetchCount(dpn.DPNTypeReplication, 5)
	result.AddToSyncCount(dpn.DPNTypeReplication, 3)
	result.ObserveUpdate(time.Date(2016, 6, 1, 0, 0, 0, 0, time.UTC))
	if withError {
		result.AddError(dpn.DPNTypeReplication, fmt.Errorf("Remote said no"))
	}
	return result
}

func TestNewDPNSyncStats(t *testing.T) {
	_stats := stats.NewDPNSyncStats()
	require.NotNil(t, _stats)
	assert.NotNil(t, _stats.Nodes)
	assert.NotNil(t, _stats.Created)
	assert.NotNil(t, _stats.Updated)
	assert.False(t, _stats.HasErrors())
}

func TestSyncStats_AddResult(t *testing.T) {
	_stats := stats.NewDPNSyncStats()
	_stats.AddResult(makeSyncResult("chron", false))
	summary := _stats.Nodes["chron"]
	require.NotNil(t, summary)
	assert.Equal(t, 5, summary.Fetched)
	assert.Equal(t, 3, summary.Synced)
	assert.False(t, _stats.HasErrors())

	_stats.AddResult(makeSyncResult("sdr", true))
	assert.True(t, _stats.HasErrors())
	assert.Equal(t, []string{"Replication: Remote said no"}, _stats.Nodes["sdr"].Errors)
}

func TestSyncStats_AddError(t *testing.T) {
	_stats := stats.NewDPNSyncStats()
	_stats.AddError("Could not reach local registry")
	assert.True(t, _stats.HasErrors())
}

func TestSyncStats_DumpAndLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "sync_stats_test")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	_stats := stats.NewDPNSyncStats()
	_stats.AddResult(makeSyncResult("chron", true))
	_stats.AddCreated("repl-1")
	_stats.AddUpdated("repl-2")

	pathToFile := filepath.Join(dir, "sync_stats.json")
	require.Nil(t, _stats.DumpToFile(pathToFile))
	loaded, err := stats.DPNSyncStatsLoadFromFile(pathToFile)
	require.Nil(t, err)
	assert.Equal(t, []string{"repl-1"}, loaded.Created)
	assert.Equal(t, []string{"repl-2"}, loaded.Updated)
	assert.Equal(t, 5, loaded.Nodes["chron"].Fetched)
	assert.True(t, loaded.HasErrors())

	// Won't clobber a non-JSON file.
	otherFile := filepath.Join(dir, "important.txt")
	require.Nil(t, ioutil.WriteFile(otherFile, []byte("keep me"), 0644))
	assert.NotNil(t, _stats.DumpToFile(otherFile))

	_, err = stats.DPNSyncStatsLoadFromFile(filepath.Join(dir, "missing.json"))
	assert.NotNil(t, err)
}
