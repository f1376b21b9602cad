package models

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode"
)

type Node struct {

	// Name is the full name of the node.
	Name string `json:"name"`

	// Namespace is the node's short name, and is used as the node
	// identifier on replication transfers. Namespaces are lower case
	// and contain no whitespace. See NormalizeNamespace.
	Namespace string `json:"namespace"`

	// APIRoot is the root URL of the node's DPN server.
	APIRoot string `json:"api_root"`

	// SSHPubKey is the public half of the SSH key that the
	// node uses to connect to other nodes to copy data via
	// rsync/ssh.
	SSHPubKey string `json:"ssh_pubkey"`

	// ReplicateFrom is a list of node namespaces from which
	// this node will replicate content.
	ReplicateFrom []string `json:"replicate_from"`

	// ReplicateTo is a list of node namespaces to which
	// this node will replicate content.
	ReplicateTo []string `json:"replicate_to"`

	// Protocols is a list of protocols this node supports for
	// copying files to and from other nodes.
	Protocols []string `json:"protocols"`

	// FixityAlgorithms is a list of fixity algorithms this
	// node supports.
	FixityAlgorithms []string `json:"fixity_algorithms"`

	// AuthTokenHash is the bcrypt hash of the token this node
	// presents when it calls our REST service. It is never
	// rendered as JSON.
	AuthTokenHash []byte `json:"-"`

	// CreatedAt is the time at which this node record was
	// created in the registry.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt describes when this node record was last
	// updated.
	UpdatedAt time.Time `json:"updated_at"`

	// LastPullDate describes when we last pulled replication
	// transfers from this node. This is local bookkeeping for
	// the sync worker and is not part of the DPN record.
	LastPullDate time.Time `json:"last_pull_date"`
}

// NormalizeNamespace lower-cases a namespace and trims surrounding
// whitespace. The registry applies this on every write and lookup.
func NormalizeNamespace(namespace string) string {
	return strings.ToLower(strings.TrimSpace(namespace))
}

// ValidateNamespace returns an error if namespace is empty or
// contains capital letters or whitespace.
func ValidateNamespace(namespace string) error {
	if namespace == "" {
		return fmt.Errorf("Namespace cannot be empty")
	}
	for _, r := range namespace {
		if unicode.IsUpper(r) || unicode.IsSpace(r) {
			return fmt.Errorf("Namespace '%s' does not allow whitespace or capital letters", namespace)
		}
	}
	return nil
}

// IsLocal returns true if this node is the node identified by
// localNamespace.
func (node *Node) IsLocal(localNamespace string) bool {
	return node.Namespace == localNamespace
}

// ChooseNodesForReplication randomly chooses nodes for replication,
// returning a slice of strings. Each string is the namespace of a
// node we should replicate to.
//
// This will return an error if the number of nodes you want to select
// (the howMany param) exceeds the number of nodes that this node
// actually replicates to.
func (node *Node) ChooseNodesForReplication(howMany int) ([]string, error) {
	if howMany < 0 || howMany > len(node.ReplicateTo) {
		return make([]string, 0), fmt.Errorf("Cannot choose %d nodes for replication when "+
			"we're only replicating to %d nodes.", howMany, len(node.ReplicateTo))
	}
	selectedNodes := make([]string, 0, howMany)
	for _, i := range rand.Perm(len(node.ReplicateTo))[:howMany] {
		selectedNodes = append(selectedNodes, node.ReplicateTo[i])
	}
	return selectedNodes, nil
}

// NodeList is one page of nodes, in the shape the DPN REST API
// returns it.
type NodeList struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []*Node `json:"results"`
}
