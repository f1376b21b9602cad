package replication

import (
	"github.com/APTrust/dpn-registry/dpn"
)

// Decision is the Transition Authority's answer to a requested
// status change.
type Decision int

const (
	Allowed Decision = iota
	InvalidTransition
	Forbidden
)

func (decision Decision) String() string {
	switch decision {
	case Allowed:
		return "Allowed"
	case InvalidTransition:
		return "InvalidTransition"
	case Forbidden:
		return "Forbidden"
	}
	return "Unknown"
}

type statusTable map[dpn.ReplicationStatus][]dpn.ReplicationStatus

// transitions maps role -> current status -> the statuses that role
// may request. A status missing from a role's table has no outgoing
// transitions. Terminal statuses appear in no table.
var transitions = map[Role]statusTable{
	OriginatorLocal: {
		dpn.StatusRequested: {dpn.StatusCancelled},
		dpn.StatusReceived:  {dpn.StatusConfirmed, dpn.StatusCancelled},
		dpn.StatusConfirmed: {dpn.StatusCancelled},
	},
	RecipientLocal: {
		dpn.StatusRequested: {dpn.StatusCancelled, dpn.StatusRejected, dpn.StatusReceived, dpn.StatusConfirmed},
		dpn.StatusReceived:  {dpn.StatusConfirmed, dpn.StatusCancelled},
		dpn.StatusConfirmed: {dpn.StatusCancelled, dpn.StatusStored},
	},
	ObserverLocal: {
		dpn.StatusRequested: {dpn.StatusCancelled, dpn.StatusRejected, dpn.StatusReceived, dpn.StatusConfirmed, dpn.StatusStored},
		dpn.StatusReceived:  {dpn.StatusConfirmed, dpn.StatusCancelled, dpn.StatusStored},
		dpn.StatusConfirmed: {dpn.StatusCancelled, dpn.StatusStored},
	},
	// A remote recipient can never push a transfer to confirmed.
	RemoteRecipient: {
		dpn.StatusRequested: {dpn.StatusRejected, dpn.StatusReceived, dpn.StatusCancelled},
		dpn.StatusReceived:  {dpn.StatusCancelled},
		dpn.StatusConfirmed: {dpn.StatusStored, dpn.StatusCancelled},
	},
}

// Authorize decides whether role may move a transfer from current
// to requested. Unauthorized callers are Forbidden regardless of
// status. Otherwise the change must appear in the role's table.
func Authorize(role Role, current, requested dpn.ReplicationStatus) Decision {
	if role == Unauthorized {
		return Forbidden
	}
	if requested == current {
		return InvalidTransition
	}
	for _, status := range transitions[role][current] {
		if status == requested {
			return Allowed
		}
	}
	return InvalidTransition
}

// AllowedTransitions returns the statuses role may request for a
// transfer in status current. The result is a copy and may be empty.
func AllowedTransitions(role Role, current dpn.ReplicationStatus) []dpn.ReplicationStatus {
	allowed := transitions[role][current]
	statuses := make([]dpn.ReplicationStatus, len(allowed))
	copy(statuses, allowed)
	return statuses
}
