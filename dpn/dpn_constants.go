package dpn

import (
	"fmt"
)

const (
	// DEFAULT_TOKEN_FORMAT_STRING is the Authorization header format
	// our REST client sends to other nodes.
	DEFAULT_TOKEN_FORMAT_STRING = "Token token=%s"

	// DEFAULT_API_VERSION is the path prefix of the DPN REST API.
	DEFAULT_API_VERSION = "api-v2"

	// PROTOCOL_RSYNC is the only transfer protocol DPN nodes
	// supported at launch.
	PROTOCOL_RSYNC = "rsync"

	// FIXITY_SHA256 is the only fixity algorithm DPN nodes
	// supported at launch.
	FIXITY_SHA256 = "sha256"
)

type DPNObjectType string

const (
	DPNTypeBag         DPNObjectType = "DPNBag"
	DPNTypeNode        DPNObjectType = "Node"
	DPNTypeReplication DPNObjectType = "Replication"
)

var DPNTypes = []DPNObjectType{
	DPNTypeBag,
	DPNTypeNode,
	DPNTypeReplication,
}

// ReplicationStatus is the status of a ReplicationTransfer. The set
// of statuses is closed: ParseReplicationStatus rejects anything
// that is not listed below.
type ReplicationStatus string

const (
	// StatusRequested means the FromNode has requested this transfer
	// and no action has been taken yet.
	StatusRequested ReplicationStatus = "requested"

	// StatusRejected is set by the ToNode when it will not or cannot
	// accept the transfer. (Usually due to disk space.)
	StatusRejected ReplicationStatus = "rejected"

	// StatusReceived is set by the ToNode to indicate it has
	// received the bag.
	StatusReceived ReplicationStatus = "received"

	// StatusConfirmed means the bag has been validated and its
	// fixity value accepted.
	StatusConfirmed ReplicationStatus = "confirmed"

	// StatusStored is set by the ToNode after the bag has been
	// copied to long-term storage.
	StatusStored ReplicationStatus = "stored"

	// StatusCancelled can be set for any reason. No further
	// processing should occur on a cancelled request.
	StatusCancelled ReplicationStatus = "cancelled"
)

// ReplicationStatuses lists every valid status, in lifecycle order.
var ReplicationStatuses = []ReplicationStatus{
	StatusRequested,
	StatusRejected,
	StatusReceived,
	StatusConfirmed,
	StatusStored,
	StatusCancelled,
}

// ParseReplicationStatus returns the ReplicationStatus matching s,
// or an error if s is not a known status.
func ParseReplicationStatus(s string) (ReplicationStatus, error) {
	status := ReplicationStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("Unknown replication status '%s'", s)
	}
	return status, nil
}

// IsValid returns true if status is one of ReplicationStatuses.
func (status ReplicationStatus) IsValid() bool {
	for _, s := range ReplicationStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminal returns true for statuses that have no outgoing
// transitions: rejected, stored and cancelled.
func (status ReplicationStatus) IsTerminal() bool {
	return status == StatusRejected || status == StatusStored || status == StatusCancelled
}

func (status ReplicationStatus) String() string {
	return string(status)
}
