package replication

import (
	"fmt"
	"github.com/APTrust/dpn-registry/dpn/models"
)

// Role describes the standing of a requesting node with respect to
// one replication transfer, as seen by this deployment. Roles are
// computed per request and never stored.
type Role int

const (
	Unauthorized Role = iota
	OriginatorLocal
	RecipientLocal
	ObserverLocal
	RemoteRecipient
)

// Roles lists every role, including Unauthorized.
var Roles = []Role{
	OriginatorLocal,
	RecipientLocal,
	ObserverLocal,
	RemoteRecipient,
	Unauthorized,
}

var roleNames = map[Role]string{
	Unauthorized:    "Unauthorized",
	OriginatorLocal: "OriginatorLocal",
	RecipientLocal:  "RecipientLocal",
	ObserverLocal:   "ObserverLocal",
	RemoteRecipient: "RemoteRecipient",
}

func (role Role) String() string {
	if name, ok := roleNames[role]; ok {
		return name
	}
	return fmt.Sprintf("Role(%d)", int(role))
}

// ParseRole returns the role with the specified name.
func ParseRole(name string) (Role, error) {
	for role, roleName := range roleNames {
		if roleName == name {
			return role, nil
		}
	}
	return Unauthorized, fmt.Errorf("Unknown role '%s'", name)
}

// ResolveRole classifies requester against xfer, where local is the
// namespace of this deployment's own node. The first matching rule
// wins:
//
//	requester == local == from_node           OriginatorLocal
//	requester == local == to_node             RecipientLocal
//	requester == local, local not a party     ObserverLocal
//	requester == to_node, local == from_node  RemoteRecipient
//	anything else                             Unauthorized
//
// A remote from_node calling a deployment whose local node is the
// to_node resolves to Unauthorized.
func ResolveRole(requester, local string, xfer *models.ReplicationTransfer) Role {
	if requester == "" || local == "" {
		return Unauthorized
	}
	if requester == local {
		switch local {
		case xfer.FromNode:
			return OriginatorLocal
		case xfer.ToNode:
			return RecipientLocal
		default:
			return ObserverLocal
		}
	}
	if requester == xfer.ToNode && local == xfer.FromNode {
		return RemoteRecipient
	}
	return Unauthorized
}
