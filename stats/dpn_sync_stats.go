package stats

import (
	"encoding/json"
	"fmt"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/util/fileutil"
	"io/ioutil"
	"regexp"
	"sort"
	"sync"
	"time"
)

// NodeSyncSummary is the JSON-friendly form of one node's SyncResult.
type NodeSyncSummary struct {
	Node         string
	Fetched      int
	Synced       int
	Errors       []string
	NewestUpdate time.Time
}

// DPNSyncStats records information about what dpn_registry sync
// did, so integration tests and operators can inspect a run.
type DPNSyncStats struct {
	Nodes   map[string]*NodeSyncSummary
	Created []string
	Updated []string
	Errors  []string
	mutex   sync.Mutex
}

// NewDPNSyncStats creates a new, empty DPNSyncStats object.
func NewDPNSyncStats() *DPNSyncStats {
	return &DPNSyncStats{
		Nodes:   make(map[string]*NodeSyncSummary),
		Created: make([]string, 0),
		Updated: make([]string, 0),
		Errors:  make([]string, 0),
	}
}

// DPNSyncStatsLoadFromFile loads DPNSyncStats from a JSON file.
func DPNSyncStatsLoadFromFile(pathToFile string) (*DPNSyncStats, error) {
	file, err := ioutil.ReadFile(pathToFile)
	if err != nil {
		detailedError := fmt.Errorf("Error reading file '%s': %v\n",
			pathToFile, err)
		return nil, detailedError
	}
	_stats := &DPNSyncStats{}
	err = json.Unmarshal(file, _stats)
	if err != nil {
		detailedError := fmt.Errorf("Error parsing JSON from file '%s': %v",
			pathToFile, err)
		return nil, detailedError
	}
	return _stats, nil
}

// DumpToFile dumps a JSON representation of this object to a file at the specified
// path. This will overwrite the existing file, if the existing file has
// a .json extension. See also DPNSyncStatsLoadFromFile.
func (stats *DPNSyncStats) DumpToFile(pathToFile string) error {
	// Matches .json, or tempfile with random ending, like .json43272
	fileNameLooksSafe, err := regexp.MatchString("\\.json\\d*$", pathToFile)
	if err != nil {
		return fmt.Errorf("DumpToFile(): path '%s'?? : %v", pathToFile, err)
	}
	if fileutil.FileExists(pathToFile) && !fileNameLooksSafe {
		return fmt.Errorf("DumpToFile() will not overwrite existing file "+
			"'%s' because that might be dangerous. Give your output file a .json "+
			"extension to be safe.", pathToFile)
	}

	stats.mutex.Lock()
	jsonData, err := json.MarshalIndent(stats, "", "  ")
	stats.mutex.Unlock()
	if err != nil {
		return err
	}
	return ioutil.WriteFile(pathToFile, jsonData, 0644)
}

// AddResult summarizes one node's sync result.
func (stats *DPNSyncStats) AddResult(result *models.SyncResult) {
	summary := &NodeSyncSummary{
		Node:         result.NodeName,
		Errors:       make([]string, 0),
		NewestUpdate: result.NewestUpdate,
	}
	for _, count := range result.FetchCounts {
		summary.Fetched += count
	}
	for _, count := range result.SyncCounts {
		summary.Synced += count
	}
	for objectType, errs := range result.Errors {
		for _, err := range errs {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", objectType, err))
		}
	}
	sort.Strings(summary.Errors)
	stats.mutex.Lock()
	defer stats.mutex.Unlock()
	stats.Nodes[result.NodeName] = summary
}

// AddCreated records the id of a replication created locally.
func (stats *DPNSyncStats) AddCreated(replicationId string) {
	stats.mutex.Lock()
	defer stats.mutex.Unlock()
	stats.Created = append(stats.Created, replicationId)
}

// AddUpdated records the id of a replication updated locally.
func (stats *DPNSyncStats) AddUpdated(replicationId string) {
	stats.mutex.Lock()
	defer stats.mutex.Unlock()
	stats.Updated = append(stats.Updated, replicationId)
}

// Adds an error message to the stats.
func (stats *DPNSyncStats) AddError(message string) {
	stats.mutex.Lock()
	defer stats.mutex.Unlock()
	stats.Errors = append(stats.Errors, message)
}

// Returns true if this object contains any errors, at the top
// level or for any node.
func (stats *DPNSyncStats) HasErrors() bool {
	stats.mutex.Lock()
	defer stats.mutex.Unlock()
	if len(stats.Errors) > 0 {
		return true
	}
	for _, summary := range stats.Nodes {
		if len(summary.Errors) > 0 {
			return true
		}
	}
	return false
}
