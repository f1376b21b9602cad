package models

import (
	"fmt"
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/satori/go.uuid"
	"time"
)

// ReplicationTransfer tracks the replication of one bag from the
// FromNode to the ToNode.
type ReplicationTransfer struct {

	// ReplicationId is a unique id for this replication request.
	// It's a UUID in string format, and never changes.
	ReplicationId string `json:"replication_id"`

	// FromNode is the node where the bag is coming from.
	// The FromNode initiates the replication request.
	FromNode string `json:"from_node"`

	// ToNode is the node the bag is being transferred to.
	ToNode string `json:"to_node"`

	// Bag is the UUID of the bag to be replicated.
	Bag string `json:"uuid"`

	// FixityAlgorithm is the algorithm used to calculate the fixity digest.
	FixityAlgorithm string `json:"fixity_algorithm"`

	// FixityNonce is an optional nonce used to calculate the fixity digest.
	FixityNonce *string `json:"fixity_nonce"`

	// FixityValue is the fixity value calculated by the ToNode after
	// it receives the bag. This will be null until the ToNode reports it.
	FixityValue *string `json:"fixity_value"`

	// FixityAccept describes whether the FromNode accepts the fixity
	// value calculated by the ToNode. Null means undecided.
	FixityAccept *bool `json:"fixity_accept"`

	// BagValid is set by the ToNode to indicate whether the bag it
	// received was valid. Null means not yet validated.
	BagValid *bool `json:"bag_valid"`

	// Status is the status of the request. Only the replication
	// Updater may change it once the record exists.
	Status dpn.ReplicationStatus `json:"status"`

	// Protocol is the network protocol used to transfer the bag.
	Protocol string `json:"protocol"`

	// Link is a URL that the ToNode can use to copy the bag from the
	// FromNode. This value is set by the FromNode.
	Link string `json:"link"`

	// CreatedAt is the datetime when this record was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the datetime when this record was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields a new transfer must have. It does not
// check whether the nodes exist; the registry does that.
func (xfer *ReplicationTransfer) Validate() error {
	if xfer.ReplicationId == "" {
		return fmt.Errorf("replication_id is required")
	}
	if xfer.FromNode == "" || xfer.ToNode == "" {
		return fmt.Errorf("from_node and to_node are required")
	}
	if xfer.FromNode == xfer.ToNode {
		return fmt.Errorf("from_node and to_node cannot both be '%s'", xfer.FromNode)
	}
	if _, err := uuid.FromString(xfer.Bag); err != nil {
		return fmt.Errorf("uuid '%s' is not a valid bag identifier: %v", xfer.Bag, err)
	}
	if !xfer.Status.IsValid() {
		return fmt.Errorf("Unknown replication status '%s'", xfer.Status)
	}
	if xfer.FixityAlgorithm == "" {
		return fmt.Errorf("fixity_algorithm is required")
	}
	if xfer.Protocol == "" {
		return fmt.Errorf("protocol is required")
	}
	return nil
}

// Copy returns a deep copy of the transfer, so callers can change
// the copy without touching a record another goroutine may hold.
func (xfer *ReplicationTransfer) Copy() *ReplicationTransfer {
	xferCopy := *xfer
	if xfer.FixityNonce != nil {
		s := *xfer.FixityNonce
		xferCopy.FixityNonce = &s
	}
	if xfer.FixityValue != nil {
		s := *xfer.FixityValue
		xferCopy.FixityValue = &s
	}
	if xfer.FixityAccept != nil {
		b := *xfer.FixityAccept
		xferCopy.FixityAccept = &b
	}
	if xfer.BagValid != nil {
		b := *xfer.BagValid
		xferCopy.BagValid = &b
	}
	return &xferCopy
}

// ReplicationUpdate holds the fields the Updater may change on an
// existing transfer. Nil pointers leave the stored value alone.
type ReplicationUpdate struct {
	Status       dpn.ReplicationStatus
	FixityValue  *string
	FixityAccept *bool
	BagValid     *bool
	UpdatedAt    time.Time
}

// ApplyTo copies the update onto xfer.
func (update *ReplicationUpdate) ApplyTo(xfer *ReplicationTransfer) {
	xfer.Status = update.Status
	if update.FixityValue != nil {
		s := *update.FixityValue
		xfer.FixityValue = &s
	}
	if update.FixityAccept != nil {
		b := *update.FixityAccept
		xfer.FixityAccept = &b
	}
	if update.BagValid != nil {
		b := *update.BagValid
		xfer.BagValid = &b
	}
	xfer.UpdatedAt = update.UpdatedAt
}

// ReplicationFilter describes the query params the replication
// index accepts.
type ReplicationFilter struct {
	After        time.Time
	FromNode     string
	ToNode       string
	Status       dpn.ReplicationStatus
	Bag          string
	BagValid     *bool
	FixityAccept *bool
	// OrderBy is "created_at" or "updated_at". Empty means created_at.
	OrderBy  string
	Page     int
	PageSize int
}

const (
	DEFAULT_PAGE_SIZE = 25
	MAX_PAGE_SIZE     = 100
	// MAX_PAGE keeps (page - 1) * page_size from overflowing.
	MAX_PAGE = 1000000
)

// Normalize fills in default paging values and clamps page size.
func (filter *ReplicationFilter) Normalize() {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = DEFAULT_PAGE_SIZE
	}
	if filter.PageSize > MAX_PAGE_SIZE {
		filter.PageSize = MAX_PAGE_SIZE
	}
	if filter.Page > MAX_PAGE {
		filter.Page = MAX_PAGE
	}
	if filter.OrderBy != "updated_at" {
		filter.OrderBy = "created_at"
	}
}

// Offset returns the zero-based index of the first record on
// the filter's page.
func (filter *ReplicationFilter) Offset() int {
	if filter.Page < 1 || filter.PageSize < 1 {
		return 0
	}
	page, pageSize := filter.Page, filter.PageSize
	if page > MAX_PAGE {
		page = MAX_PAGE
	}
	if pageSize > MAX_PAGE_SIZE {
		pageSize = MAX_PAGE_SIZE
	}
	return (page - 1) * pageSize
}

// Matches returns true if xfer satisfies every condition in the
// filter. Paging and ordering are ignored.
func (filter *ReplicationFilter) Matches(xfer *ReplicationTransfer) bool {
	if !filter.After.IsZero() && !xfer.UpdatedAt.After(filter.After) {
		return false
	}
	if filter.FromNode != "" && xfer.FromNode != filter.FromNode {
		return false
	}
	if filter.ToNode != "" && xfer.ToNode != filter.ToNode {
		return false
	}
	if filter.Status != "" && xfer.Status != filter.Status {
		return false
	}
	if filter.Bag != "" && xfer.Bag != filter.Bag {
		return false
	}
	if filter.BagValid != nil && (xfer.BagValid == nil || *xfer.BagValid != *filter.BagValid) {
		return false
	}
	if filter.FixityAccept != nil && (xfer.FixityAccept == nil || *xfer.FixityAccept != *filter.FixityAccept) {
		return false
	}
	return true
}

// ReplicationList is one page of replication transfers, in the
// shape the DPN REST API returns it.
type ReplicationList struct {
	Count    int                    `json:"count"`
	Next     *string                `json:"next"`
	Previous *string                `json:"previous"`
	Results  []*ReplicationTransfer `json:"results"`
}
