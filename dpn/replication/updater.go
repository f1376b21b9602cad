package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/util/storage"
	"github.com/op/go-logging"
	stdlog "log"
	"time"
)

// DEFAULT_STORE_TIMEOUT bounds each store call made on behalf of
// one request.
const DEFAULT_STORE_TIMEOUT = 5 * time.Second

// TransferStore persists replication transfers. UpdateReplication
// must be an atomic compare-and-swap on status, returning
// storage.ErrConflict when the stored status is no longer expected.
type TransferStore interface {
	GetReplication(ctx context.Context, replicationId string) (*models.ReplicationTransfer, error)
	CreateReplication(ctx context.Context, xfer *models.ReplicationTransfer) error
	UpdateReplication(ctx context.Context, replicationId string, expected dpn.ReplicationStatus, update *models.ReplicationUpdate) (*models.ReplicationTransfer, error)
	ListReplications(ctx context.Context, filter models.ReplicationFilter) ([]*models.ReplicationTransfer, int, error)
}

// NodeResolver answers "who is calling" and "who are we".
type NodeResolver interface {
	Resolve(ctx context.Context, credential string) (*models.Node, error)
	LocalNode() *models.Node
	GetNode(ctx context.Context, namespace string) (*models.Node, error)
}

// Notifier publishes a transfer after it has been created or
// changed. previous is empty for new transfers.
type Notifier interface {
	Publish(previous dpn.ReplicationStatus, xfer *models.ReplicationTransfer) error
}

// OutcomeRecorder counts outcomes for metrics.
type OutcomeRecorder interface {
	RecordOutcome(operation, role, outcome string)
}

// UpdateRequest carries the fields a caller may change on an
// existing transfer. Identity fields (nodes, bag, link) cannot
// change and are not part of the request.
type UpdateRequest struct {
	ReplicationId string
	Status        dpn.ReplicationStatus
	FixityValue   *string
	FixityAccept  *bool
	BagValid      *bool
	// UpdatedAt, if set, is stamped on the record instead of the
	// current time. Only the local node may set it. Sync uses it to
	// keep the originating node's timestamp.
	UpdatedAt time.Time
}

// NewUpdateRequest builds an UpdateRequest from a transfer record,
// such as a PUT body or a record pulled from a peer.
func NewUpdateRequest(xfer *models.ReplicationTransfer) *UpdateRequest {
	return &UpdateRequest{
		ReplicationId: xfer.ReplicationId,
		Status:        xfer.Status,
		FixityValue:   xfer.FixityValue,
		FixityAccept:  xfer.FixityAccept,
		BagValid:      xfer.BagValid,
	}
}

// Result describes what happened to one request.
type Result struct {
	Operation     string
	Requester     string
	ReplicationId string
	Role          Role
	Outcome       Outcome
	// Transfer is the stored record after a successful get, create
	// or update. It is nil for every other outcome.
	Transfer *models.ReplicationTransfer
	// Transfers and Total are set by List.
	Transfers []*models.ReplicationTransfer
	Total     int
	Error     error
}

func (result *Result) fail(outcome Outcome, err error) *Result {
	result.Outcome = outcome
	result.Error = err
	result.Transfer = nil
	return result
}

// Updater is the only writer of replication status. It resolves the
// caller, loads the transfer, works out the caller's role and asks
// the transition table whether the change is allowed before writing
// with a compare-and-swap on the status it read.
type Updater struct {
	store        TransferStore
	nodes        NodeResolver
	log          *logging.Logger
	AuditLog     *stdlog.Logger
	Notifier     Notifier
	Stats        OutcomeRecorder
	StoreTimeout time.Duration
	now          func() time.Time
}

// NewUpdater returns an Updater with no notifier, stats or audit log.
// Set those fields before use if you want them.
func NewUpdater(store TransferStore, nodes NodeResolver, log *logging.Logger) *Updater {
	return &Updater{
		store:        store,
		nodes:        nodes,
		log:          log,
		StoreTimeout: DEFAULT_STORE_TIMEOUT,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// LocalNodeName returns the namespace of this deployment's node.
func (updater *Updater) LocalNodeName() string {
	return updater.nodes.LocalNode().Namespace
}

// Update applies req on behalf of whoever holds credential.
func (updater *Updater) Update(ctx context.Context, credential string, req *UpdateRequest) *Result {
	node, err := updater.nodes.Resolve(ctx, credential)
	if err != nil {
		result := &Result{Operation: "update", ReplicationId: req.ReplicationId}
		return updater.finish(updater.authFailure(result, err))
	}
	return updater.UpdateAs(ctx, node.Namespace, req)
}

// UpdateAs applies req on behalf of an already resolved requester.
// The sync worker calls this with the local node's namespace.
func (updater *Updater) UpdateAs(ctx context.Context, requester string, req *UpdateRequest) *Result {
	result := &Result{
		Operation:     "update",
		Requester:     requester,
		ReplicationId: req.ReplicationId,
		Role:          Unauthorized,
	}
	storeCtx, cancel := updater.storeContext(ctx)
	defer cancel()

	xfer, err := updater.store.GetReplication(storeCtx, req.ReplicationId)
	if err != nil {
		return updater.finish(updater.storeFailure(result, err))
	}

	result.Role = ResolveRole(requester, updater.LocalNodeName(), xfer)
	switch Authorize(result.Role, xfer.Status, req.Status) {
	case Forbidden:
		return updater.finish(result.fail(OutcomeForbidden,
			fmt.Errorf("Node %s has no standing to update replication %s",
				requester, req.ReplicationId)))
	case InvalidTransition:
		return updater.finish(result.fail(OutcomeValidationFailed,
			fmt.Errorf("%s may not change replication %s from %s to %s",
				result.Role, req.ReplicationId, xfer.Status, req.Status)))
	}

	update := &models.ReplicationUpdate{
		Status:       req.Status,
		FixityValue:  req.FixityValue,
		FixityAccept: req.FixityAccept,
		BagValid:     req.BagValid,
		UpdatedAt:    updater.now(),
	}
	// fixity_accept is the originator's call, not the recipient's.
	if result.Role == RemoteRecipient {
		update.FixityAccept = nil
	}
	if !req.UpdatedAt.IsZero() && requester == updater.LocalNodeName() {
		update.UpdatedAt = req.UpdatedAt.UTC()
	}
	updated, err := updater.store.UpdateReplication(storeCtx, req.ReplicationId, xfer.Status, update)
	if err != nil {
		return updater.finish(updater.storeFailure(result, err))
	}
	result.Outcome = OutcomeUpdated
	result.Transfer = updated
	updater.notify(xfer.Status, updated)
	return updater.finish(result)
}

// Create saves a new transfer on behalf of whoever holds credential.
func (updater *Updater) Create(ctx context.Context, credential string, xfer *models.ReplicationTransfer) *Result {
	node, err := updater.nodes.Resolve(ctx, credential)
	if err != nil {
		result := &Result{Operation: "create", ReplicationId: xfer.ReplicationId}
		return updater.finish(updater.authFailure(result, err))
	}
	return updater.CreateAs(ctx, node.Namespace, xfer)
}

// CreateAs saves a new transfer on behalf of requester. The from_node
// may create a transfer in status requested. The local node may
// create one in any status, which is how records pulled from peers
// are mirrored locally. No one else may create transfers here.
func (updater *Updater) CreateAs(ctx context.Context, requester string, xfer *models.ReplicationTransfer) *Result {
	xfer = xfer.Copy()
	xfer.FromNode = models.NormalizeNamespace(xfer.FromNode)
	xfer.ToNode = models.NormalizeNamespace(xfer.ToNode)
	if xfer.Status == "" {
		xfer.Status = dpn.StatusRequested
	}
	local := updater.LocalNodeName()
	result := &Result{
		Operation:     "create",
		Requester:     requester,
		ReplicationId: xfer.ReplicationId,
		Role:          ResolveRole(requester, local, xfer),
	}
	if err := xfer.Validate(); err != nil {
		return updater.finish(result.fail(OutcomeValidationFailed, err))
	}
	if requester != local && requester != xfer.FromNode {
		return updater.finish(result.fail(OutcomeForbidden,
			fmt.Errorf("Node %s cannot create a replication from %s to %s",
				requester, xfer.FromNode, xfer.ToNode)))
	}
	if requester != local && xfer.Status != dpn.StatusRequested {
		return updater.finish(result.fail(OutcomeValidationFailed,
			fmt.Errorf("New replication requests must have status %s, not %s",
				dpn.StatusRequested, xfer.Status)))
	}

	storeCtx, cancel := updater.storeContext(ctx)
	defer cancel()
	for _, namespace := range []string{xfer.FromNode, xfer.ToNode} {
		if _, err := updater.nodes.GetNode(storeCtx, namespace); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return updater.finish(result.fail(OutcomeValidationFailed,
					fmt.Errorf("Unknown node '%s'", namespace)))
			}
			return updater.finish(updater.storeFailure(result, err))
		}
	}

	now := updater.now()
	if xfer.CreatedAt.IsZero() {
		xfer.CreatedAt = now
	}
	if xfer.UpdatedAt.IsZero() {
		xfer.UpdatedAt = now
	}
	if err := updater.store.CreateReplication(storeCtx, xfer); err != nil {
		return updater.finish(updater.storeFailure(result, err))
	}
	result.Outcome = OutcomeCreated
	result.Transfer = xfer
	updater.notify("", xfer)
	return updater.finish(result)
}

// Get returns one transfer to any authenticated node.
func (updater *Updater) Get(ctx context.Context, credential, replicationId string) *Result {
	node, err := updater.nodes.Resolve(ctx, credential)
	if err != nil {
		result := &Result{Operation: "get", ReplicationId: replicationId}
		return updater.finish(updater.authFailure(result, err))
	}
	return updater.GetAs(ctx, node.Namespace, replicationId)
}

// GetAs returns one transfer to an already resolved requester.
func (updater *Updater) GetAs(ctx context.Context, requester, replicationId string) *Result {
	result := &Result{Operation: "get", Requester: requester, ReplicationId: replicationId}
	storeCtx, cancel := updater.storeContext(ctx)
	defer cancel()
	xfer, err := updater.store.GetReplication(storeCtx, replicationId)
	if err != nil {
		return updater.finish(updater.storeFailure(result, err))
	}
	result.Role = ResolveRole(requester, updater.LocalNodeName(), xfer)
	result.Outcome = OutcomeOK
	result.Transfer = xfer
	return updater.finish(result)
}

// List returns one page of transfers matching filter to any
// authenticated node.
func (updater *Updater) List(ctx context.Context, credential string, filter models.ReplicationFilter) *Result {
	result := &Result{Operation: "list"}
	node, err := updater.nodes.Resolve(ctx, credential)
	if err != nil {
		return updater.finish(updater.authFailure(result, err))
	}
	result.Requester = node.Namespace
	storeCtx, cancel := updater.storeContext(ctx)
	defer cancel()
	xfers, total, err := updater.store.ListReplications(storeCtx, filter)
	if err != nil {
		return updater.finish(updater.storeFailure(result, err))
	}
	result.Outcome = OutcomeOK
	result.Transfers = xfers
	result.Total = total
	return updater.finish(result)
}

func (updater *Updater) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if updater.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, updater.StoreTimeout)
}

// authFailure maps a failed credential lookup onto an outcome. Only
// a lookup that ran out of time is anything but Unauthenticated.
func (updater *Updater) authFailure(result *Result, err error) *Result {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return result.fail(OutcomeUnavailable, fmt.Errorf("Node registry unavailable: %w", err))
	}
	return result.fail(OutcomeUnauthenticated, err)
}

// storeFailure maps a store error onto an outcome.
func (updater *Updater) storeFailure(result *Result, err error) *Result {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return result.fail(OutcomeNotFound, err)
	case errors.Is(err, storage.ErrConflict):
		return result.fail(OutcomeConflict, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return result.fail(OutcomeUnavailable, fmt.Errorf("Store unavailable: %w", err))
	}
	return result.fail(OutcomeError, err)
}

func (updater *Updater) notify(previous dpn.ReplicationStatus, xfer *models.ReplicationTransfer) {
	if updater.Notifier == nil {
		return
	}
	if err := updater.Notifier.Publish(previous, xfer); err != nil {
		updater.log.Warning("Could not publish status of replication %s: %v",
			xfer.ReplicationId, err)
	}
}

type auditRecord struct {
	Time          time.Time `json:"time"`
	Operation     string    `json:"operation"`
	Requester     string    `json:"requester"`
	ReplicationId string    `json:"replication_id"`
	Role          string    `json:"role"`
	Outcome       string    `json:"outcome"`
	Error         string    `json:"error,omitempty"`
}

func (updater *Updater) finish(result *Result) *Result {
	if updater.Stats != nil {
		updater.Stats.RecordOutcome(result.Operation, result.Role.String(), result.Outcome.String())
	}
	switch result.Outcome {
	case OutcomeOK:
		updater.log.Debug("%s %s by %s: %s", result.Operation, result.ReplicationId,
			result.Requester, result.Outcome)
	case OutcomeCreated, OutcomeUpdated:
		updater.log.Info("%s %s by %s (%s): %s, status is now %s", result.Operation,
			result.ReplicationId, result.Requester, result.Role, result.Outcome,
			result.Transfer.Status)
	case OutcomeForbidden:
		updater.log.Warning("SECURITY: %s %s by %s (%s) forbidden: %v", result.Operation,
			result.ReplicationId, result.Requester, result.Role, result.Error)
		updater.audit(result)
	case OutcomeUnavailable, OutcomeError:
		updater.log.Error("%s %s by %s: %s: %v", result.Operation, result.ReplicationId,
			result.Requester, result.Outcome, result.Error)
	default:
		updater.log.Info("%s %s by %s (%s): %s: %v", result.Operation, result.ReplicationId,
			result.Requester, result.Role, result.Outcome, result.Error)
	}
	return result
}

func (updater *Updater) audit(result *Result) {
	if updater.AuditLog == nil {
		return
	}
	record := auditRecord{
		Time:          updater.now(),
		Operation:     result.Operation,
		Requester:     result.Requester,
		ReplicationId: result.ReplicationId,
		Role:          result.Role.String(),
		Outcome:       result.Outcome.String(),
	}
	if result.Error != nil {
		record.Error = result.Error.Error()
	}
	data, err := json.Marshal(record)
	if err != nil {
		updater.log.Error("Cannot serialize audit record: %v", err)
		return
	}
	updater.AuditLog.Println(string(data))
}
