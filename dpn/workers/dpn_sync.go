package workers

import (
	stdcontext "context"
	"errors"
	"fmt"
	"github.com/APTrust/dpn-registry/context"
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/dpn/network"
	"github.com/APTrust/dpn-registry/dpn/registry"
	"github.com/APTrust/dpn-registry/dpn/replication"
	"github.com/APTrust/dpn-registry/stats"
	"github.com/op/go-logging"
	"golang.org/x/sync/errgroup"
	"net/url"
	"sort"
	"time"
)

// DPNSync pulls replication transfers from remote DPN nodes into our
// local registry. Each node is the authority on the transfers it
// originated, so when synching from node X, we ask only for
// transfers where X is the from_node. This is a pull-only sync: we
// never write to other nodes.
//
// Every local write goes through the replication Updater with our
// own node as the requester, so synced records obey the same
// transition rules as anything else.
type DPNSync struct {
	// Registry is our local node registry. It tells us each remote
	// node's LastPullDate.
	Registry *registry.Registry
	// Updater applies creates and updates to our local store.
	Updater *replication.Updater
	// RemoteClients is a collection of clients that talk to the
	// DPN REST servers on other nodes. The key is the namespace
	// of the remote node.
	RemoteClients map[string]*network.DPNRestClient
	// Results contains the result of the sync with each node.
	// Key is the node namespace.
	Results map[string]*models.SyncResult
	// BatchSize is the number of records to request per page.
	BatchSize int
	// Concurrency is the number of nodes to sync at once.
	Concurrency int
	// Metrics and Stats are optional.
	Metrics *stats.Metrics
	Stats   *stats.DPNSyncStats
	// Context is optional. If set, its success and failure counters
	// are incremented for each record.
	Context *context.Context

	log *logging.Logger
}

// NewDPNSync creates a DPNSync with a client for every remote node
// that has a token in the config file.
func NewDPNSync(ctx stdcontext.Context, _context *context.Context) (*DPNSync, error) {
	if _context == nil || _context.Updater == nil {
		return nil, fmt.Errorf("Param _context must be initialized with a registry.")
	}
	remoteClients, err := network.GetRemoteClients(ctx, _context.Registry, _context.Config.DPN)
	if err != nil {
		return nil, fmt.Errorf("Error creating remote DPN REST client: %v", err)
	}
	dpnSync := NewDPNSyncWithClients(_context.Registry, _context.Updater, remoteClients, _context.MessageLog)
	dpnSync.BatchSize = _context.Config.DPN.SyncBatchSize
	dpnSync.Concurrency = _context.Config.DPN.SyncConcurrency
	dpnSync.Metrics = _context.Metrics
	dpnSync.Context = _context
	return dpnSync, nil
}

// NewDPNSyncWithClients creates a DPNSync that pulls from the
// specified clients.
func NewDPNSyncWithClients(reg *registry.Registry, updater *replication.Updater, remoteClients map[string]*network.DPNRestClient, log *logging.Logger) *DPNSync {
	results := make(map[string]*models.SyncResult)
	for nodeName := range remoteClients {
		results[nodeName] = models.NewSyncResult(nodeName)
	}
	return &DPNSync{
		Registry:      reg,
		Updater:       updater,
		RemoteClients: remoteClients,
		Results:       results,
		BatchSize:     50,
		Concurrency:   4,
		Stats:         stats.NewDPNSyncStats(),
		log:           log,
	}
}

// LocalNodeName returns the namespace of our local DPN node.
func (dpnSync *DPNSync) LocalNodeName() string {
	return dpnSync.Updater.LocalNodeName()
}

// RemoteNodeNames returns the namespaces of all remote nodes we
// have clients for, in sorted order.
func (dpnSync *DPNSync) RemoteNodeNames() []string {
	remoteNodeNames := make([]string, 0, len(dpnSync.RemoteClients))
	for namespace := range dpnSync.RemoteClients {
		remoteNodeNames = append(remoteNodeNames, namespace)
	}
	sort.Strings(remoteNodeNames)
	return remoteNodeNames
}

// Run syncs from all remote nodes, Concurrency nodes at a time.
// It returns true if every node synced without error. Nodes that
// synced cleanly have their LastPullDate advanced; the others are
// pulled again from the same point next time.
func (dpnSync *DPNSync) Run(ctx stdcontext.Context) bool {
	group := &errgroup.Group{}
	if dpnSync.Concurrency > 0 {
		group.SetLimit(dpnSync.Concurrency)
	}
	for _, namespace := range dpnSync.RemoteNodeNames() {
		namespace := namespace
		group.Go(func() error {
			dpnSync.SyncReplicationRequests(ctx, namespace)
			return nil
		})
	}
	group.Wait()

	ok := true
	for _, namespace := range dpnSync.RemoteNodeNames() {
		result := dpnSync.Results[namespace]
		if !result.HasErrors("") {
			dpnSync.updateLastPullDate(ctx, result)
		}
		if result.HasErrors("") {
			ok = false
		}
		dpnSync.logResult(result)
		if dpnSync.Metrics != nil {
			dpnSync.Metrics.RecordSync(result)
		}
		if dpnSync.Stats != nil {
			dpnSync.Stats.AddResult(result)
		}
	}
	return ok
}

// SyncReplicationRequests copies new and updated replication transfers
// originating at the specified node into our registry.
func (dpnSync *DPNSync) SyncReplicationRequests(ctx stdcontext.Context, namespace string) {
	result := dpnSync.Results[namespace]
	remoteClient := dpnSync.RemoteClients[namespace]
	if remoteClient == nil {
		result.AddError(dpn.DPNTypeNode, fmt.Errorf("No client for node %s. Check RemoteNodeTokens in config.", namespace))
		return
	}
	remoteNode, err := dpnSync.Registry.GetNode(ctx, namespace)
	if err != nil {
		result.AddError(dpn.DPNTypeNode, fmt.Errorf("Cannot load node %s from local registry: %v", namespace, err))
		return
	}
	pageNumber := 0
	err = remoteClient.ReplicationTransferPaginate(ctx, dpnSync.replicationParams(remoteNode), dpnSync.BatchSize,
		func(xfers []*models.ReplicationTransfer) error {
			pageNumber++
			dpnSync.log.Debug("Got page %d (%d replication requests) from %s", pageNumber, len(xfers), namespace)
			result.AddToFetchCount(dpn.DPNTypeReplication, len(xfers))
			dpnSync.syncReplicationRequests(ctx, namespace, xfers, result)
			return ctx.Err()
		})
	if err != nil {
		result.AddError(dpn.DPNTypeReplication, err)
	}
	dpnSync.log.Debug("Replications from %s: fetched %d, synched %d", namespace,
		result.FetchCounts[dpn.DPNTypeReplication], result.SyncCounts[dpn.DPNTypeReplication])
}

func (dpnSync *DPNSync) syncReplicationRequests(ctx stdcontext.Context, namespace string, xfers []*models.ReplicationTransfer, result *models.SyncResult) {
	local := dpnSync.LocalNodeName()
	for _, xfer := range xfers {
		if xfer == nil {
			dpnSync.log.Debug("Skipping nil replication transfer record")
			continue
		}
		if models.NormalizeNamespace(xfer.FromNode) != namespace {
			dpnSync.recordError(result, fmt.Errorf("Node %s sent replication %s, which belongs to %s",
				namespace, xfer.ReplicationId, xfer.FromNode))
			continue
		}
		result.ObserveUpdate(xfer.UpdatedAt)

		existing := dpnSync.Updater.GetAs(ctx, local, xfer.ReplicationId)
		switch {
		case existing.Outcome == replication.OutcomeNotFound:
			dpnSync.log.Debug("Creating new replication request %s", xfer.ReplicationId)
			dpnSync.apply(result, dpnSync.Updater.CreateAs(ctx, local, xfer))
		case !existing.Outcome.Succeeded():
			dpnSync.recordError(result, existing.Error)
		case !existing.Transfer.UpdatedAt.Before(xfer.UpdatedAt):
			dpnSync.log.Debug("Skipping replication %s, because ours is same age or newer.", xfer.ReplicationId)
		case existing.Transfer.Status == xfer.Status:
			dpnSync.log.Debug("Skipping replication %s, status is still %s.", xfer.ReplicationId, xfer.Status)
		default:
			dpnSync.log.Debug("Updating replication %s from %s to %s", xfer.ReplicationId,
				existing.Transfer.Status, xfer.Status)
			req := replication.NewUpdateRequest(xfer)
			req.UpdatedAt = xfer.UpdatedAt
			dpnSync.apply(result, dpnSync.Updater.UpdateAs(ctx, local, req))
		}
	}
}

// apply records the outcome of one local create or update. Anything
// but Created or Updated is a sync error. We don't retry.
func (dpnSync *DPNSync) apply(result *models.SyncResult, opResult *replication.Result) {
	switch opResult.Outcome {
	case replication.OutcomeCreated:
		result.AddToSyncCount(dpn.DPNTypeReplication, 1)
		if dpnSync.Stats != nil {
			dpnSync.Stats.AddCreated(opResult.ReplicationId)
		}
		dpnSync.incrementSucceeded()
	case replication.OutcomeUpdated:
		result.AddToSyncCount(dpn.DPNTypeReplication, 1)
		if dpnSync.Stats != nil {
			dpnSync.Stats.AddUpdated(opResult.ReplicationId)
		}
		dpnSync.incrementSucceeded()
	default:
		err := opResult.Error
		if err == nil {
			err = errors.New(opResult.Outcome.String())
		}
		dpnSync.recordError(result, fmt.Errorf("%s of %s: %s: %v", opResult.Operation,
			opResult.ReplicationId, opResult.Outcome, err))
	}
}

func (dpnSync *DPNSync) recordError(result *models.SyncResult, err error) {
	result.AddError(dpn.DPNTypeReplication, err)
	if dpnSync.Context != nil {
		dpnSync.Context.IncrementFailed()
	}
}

func (dpnSync *DPNSync) incrementSucceeded() {
	if dpnSync.Context != nil {
		dpnSync.Context.IncrementSucceeded()
	}
}

// replicationParams asks for transfers updated since the last time we
// pulled from this node, where this node is the from_node.
func (dpnSync *DPNSync) replicationParams(remoteNode *models.Node) url.Values {
	params := url.Values{}
	if !remoteNode.LastPullDate.IsZero() {
		params.Set("after", remoteNode.LastPullDate.Format(time.RFC3339Nano))
	}
	params.Set("from_node", remoteNode.Namespace)
	params.Set("order_by", "updated_at")
	return params
}

func (dpnSync *DPNSync) updateLastPullDate(ctx stdcontext.Context, result *models.SyncResult) {
	if result.NewestUpdate.IsZero() {
		return
	}
	err := dpnSync.Registry.UpdateLastPullDate(ctx, result.NodeName, result.NewestUpdate)
	if err != nil {
		result.AddError(dpn.DPNTypeNode, fmt.Errorf("Cannot update LastPullDate: %v", err))
		return
	}
	dpnSync.log.Info("LastPullDate for %s is now %s", result.NodeName,
		result.NewestUpdate.Format(time.RFC3339Nano))
}

func (dpnSync *DPNSync) logResult(syncResult *models.SyncResult) {
	for _, dpnType := range []dpn.DPNObjectType{dpn.DPNTypeReplication} {
		dpnSync.log.Info("Node %s %s: Fetched %d, Synched %d",
			syncResult.NodeName, dpnType, syncResult.FetchCounts[dpnType],
			syncResult.SyncCounts[dpnType])
	}
	for _, dpnType := range dpn.DPNTypes {
		for _, err := range syncResult.Errors[dpnType] {
			dpnSync.log.Error("Node %s %s: %v", syncResult.NodeName, dpnType, err)
		}
	}
}
