package models

import (
	"github.com/APTrust/dpn-registry/dpn"
	"time"
)

// SyncResult describes the result of pulling replication transfers
// from one remote node into our local registry.
type SyncResult struct {
	NodeName    string
	FetchCounts map[dpn.DPNObjectType]int
	SyncCounts  map[dpn.DPNObjectType]int
	Errors      map[dpn.DPNObjectType][]error

	// NewestUpdate is the latest UpdatedAt among the records we
	// fetched. After a clean run, it becomes the node's LastPullDate.
	NewestUpdate time.Time
}

// NewSyncResult creates a new SyncResult.
func NewSyncResult(nodeName string) *SyncResult {
	return &SyncResult{
		NodeName:    nodeName,
		FetchCounts: make(map[dpn.DPNObjectType]int),
		SyncCounts:  make(map[dpn.DPNObjectType]int),
		Errors:      make(map[dpn.DPNObjectType][]error),
	}
}

// AddToFetchCount adds increment to the fetch count for objectType.
func (syncResult *SyncResult) AddToFetchCount(objectType dpn.DPNObjectType, increment int) {
	syncResult.FetchCounts[objectType] += increment
}

// AddToSyncCount adds increment to the sync count for objectType.
func (syncResult *SyncResult) AddToSyncCount(objectType dpn.DPNObjectType, increment int) {
	syncResult.SyncCounts[objectType] += increment
}

// AddError adds an error for the specified objectType.
func (syncResult *SyncResult) AddError(objectType dpn.DPNObjectType, err error) {
	syncResult.Errors[objectType] = append(syncResult.Errors[objectType], err)
}

// ObserveUpdate records updatedAt if it is newer than anything
// seen so far.
func (syncResult *SyncResult) ObserveUpdate(updatedAt time.Time) {
	if updatedAt.After(syncResult.NewestUpdate) {
		syncResult.NewestUpdate = updatedAt
	}
}

// HasErrors returns true if there are any errors for the specified objectType.
// If objectType is empty, this will check for errors in all object types.
func (syncResult *SyncResult) HasErrors(objectType dpn.DPNObjectType) bool {
	if objectType != "" {
		return len(syncResult.Errors[objectType]) > 0
	}
	for _, errors := range syncResult.Errors {
		if len(errors) > 0 {
			return true
		}
	}
	return false
}
