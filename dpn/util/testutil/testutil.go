package testutil

// Common functions for DPN tests

import (
	"fmt"
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/icrowley/fake"
	"github.com/satori/go.uuid"
	"math/rand"
	"strings"
	"time"
)

// RandomDateTime returns a UTC time some random number of minutes
// in the past (up to about a year).
func RandomDateTime() time.Time {
	minutes := rand.Intn(500000) * -1
	return time.Now().UTC().Add(time.Duration(minutes) * time.Minute).Truncate(time.Second)
}

// RandomNamespace returns a valid, lower-case node namespace that
// is very unlikely to collide with any other in the same test.
func RandomNamespace() string {
	word := strings.ToLower(fake.Word())
	return fmt.Sprintf("%s%s", word, uuid.NewV4().String()[0:8])
}

// MakeDPNNode creates a mock DPN node object for testing.
func MakeDPNNode() *models.Node {
	namespace := RandomNamespace()
	return &models.Node{
		Name:             fake.Company(),
		Namespace:        namespace,
		APIRoot:          fmt.Sprintf("https://%s", fake.DomainName()),
		SSHPubKey:        fake.CharactersN(40),
		CreatedAt:        RandomDateTime(),
		UpdatedAt:        RandomDateTime(),
		Protocols:        []string{dpn.PROTOCOL_RSYNC},
		FixityAlgorithms: []string{dpn.FIXITY_SHA256},
		ReplicateFrom:    []string{"aptrust", "chron", "sdr", "tdr"},
		ReplicateTo:      []string{"aptrust", "chron", "sdr", "tdr"},
	}
}

// MakeXferRequest creates a DPN replication transfer in
// status requested.
func MakeXferRequest(fromNode, toNode, bagUuid string) *models.ReplicationTransfer {
	idString := uuid.NewV4().String()
	tenSecondsAgo := time.Now().UTC().Add(-10 * time.Second).Truncate(time.Second)
	return &models.ReplicationTransfer{
		ReplicationId:   idString,
		FromNode:        fromNode,
		ToNode:          toNode,
		Bag:             bagUuid,
		FixityAlgorithm: dpn.FIXITY_SHA256,
		FixityNonce:     nil,
		FixityValue:     nil,
		Status:          dpn.StatusRequested,
		Protocol:        dpn.PROTOCOL_RSYNC,
		Link:            fmt.Sprintf("rsync://mnt/staging/%s.tar", idString),
		CreatedAt:       tenSecondsAgo,
		UpdatedAt:       tenSecondsAgo,
	}
}

// MakeXferWithStatus creates a replication transfer for a random
// bag in the specified status.
func MakeXferWithStatus(fromNode, toNode string, status dpn.ReplicationStatus) *models.ReplicationTransfer {
	xfer := MakeXferRequest(fromNode, toNode, uuid.NewV4().String())
	xfer.Status = status
	if status != dpn.StatusRequested && status != dpn.StatusRejected {
		fixity := fake.CharactersN(64)
		valid := true
		xfer.FixityValue = &fixity
		xfer.BagValid = &valid
	}
	return xfer
}
