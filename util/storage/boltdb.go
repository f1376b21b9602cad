package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/boltdb/bolt"
	"sort"
	"time"
)

const REPLICATION_BUCKET = "replication"
const NODE_BUCKET = "node"

// BoltDB is a single-file key-value store holding this node's
// replication transfers and node registry. Values are JSON, which
// keeps false and "" distinct from unset in the transfer's
// tri-state fields.
//
// Bolt allows one read-write transaction at a time, so the
// read-check-write inside UpdateReplication is atomic with
// respect to every other writer in this process.
type BoltDB struct {
	db       *bolt.DB
	filePath string
}

// NewBoltDB opens a bolt database, creating the DB file if it doesn't
// already exist. If another process holds the file lock, this gives
// up after lockTimeout.
func NewBoltDB(filePath string, lockTimeout time.Duration) (boltDB *BoltDB, err error) {
	db, err := bolt.Open(filePath, 0644, &bolt.Options{Timeout: lockTimeout})
	if err == nil {
		boltDB = &BoltDB{
			db:       db,
			filePath: filePath,
		}
		err = boltDB.initBuckets()
	}
	return boltDB, err
}

func (boltDB *BoltDB) initBuckets() error {
	return boltDB.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{REPLICATION_BUCKET, NODE_BUCKET} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("Error creating %s bucket: %s", name, err)
			}
		}
		return nil
	})
}

// FilePath returns the path to the bolt DB file.
func (boltDB *BoltDB) FilePath() string {
	return boltDB.filePath
}

// Close closes the bolt database.
func (boltDB *BoltDB) Close() error {
	return boltDB.db.Close()
}

// CreateReplication saves a new transfer. Returns ErrConflict if a
// transfer with the same ReplicationId already exists.
func (boltDB *BoltDB) CreateReplication(ctx context.Context, xfer *models.ReplicationTransfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := encode(xfer)
	if err != nil {
		return err
	}
	return boltDB.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(REPLICATION_BUCKET))
		key := []byte(xfer.ReplicationId)
		if bucket.Get(key) != nil {
			return fmt.Errorf("Replication %s: %w", xfer.ReplicationId, ErrConflict)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return bucket.Put(key, value)
	})
}

// GetReplication returns the transfer with the specified id, or
// ErrNotFound.
func (boltDB *BoltDB) GetReplication(ctx context.Context, replicationId string) (*models.ReplicationTransfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var xfer *models.ReplicationTransfer
	err := boltDB.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(REPLICATION_BUCKET)).Get([]byte(replicationId))
		if value == nil {
			return fmt.Errorf("Replication %s: %w", replicationId, ErrNotFound)
		}
		xfer = &models.ReplicationTransfer{}
		return decode(value, xfer)
	})
	if err != nil {
		return nil, err
	}
	return xfer, nil
}

// UpdateReplication applies update to the transfer only if its
// stored status still equals expected. Returns ErrNotFound if the
// transfer does not exist and ErrConflict if its status has moved.
// Nothing is written unless the whole transaction commits.
func (boltDB *BoltDB) UpdateReplication(ctx context.Context, replicationId string, expected dpn.ReplicationStatus, update *models.ReplicationUpdate) (*models.ReplicationTransfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var xfer *models.ReplicationTransfer
	err := boltDB.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(REPLICATION_BUCKET))
		key := []byte(replicationId)
		value := bucket.Get(key)
		if value == nil {
			return fmt.Errorf("Replication %s: %w", replicationId, ErrNotFound)
		}
		xfer = &models.ReplicationTransfer{}
		if err := decode(value, xfer); err != nil {
			return err
		}
		if xfer.Status != expected {
			return fmt.Errorf("Replication %s is %s, expected %s: %w",
				replicationId, xfer.Status, expected, ErrConflict)
		}
		update.ApplyTo(xfer)
		newValue, err := encode(xfer)
		if err != nil {
			return err
		}
		// Last chance to back out. Returning an error here
		// rolls back the transaction.
		if err := ctx.Err(); err != nil {
			return err
		}
		return bucket.Put(key, newValue)
	})
	if err != nil {
		return nil, err
	}
	return xfer, nil
}

// ListReplications returns one page of transfers matching filter,
// along with the total number of matches.
func (boltDB *BoltDB) ListReplications(ctx context.Context, filter models.ReplicationFilter) ([]*models.ReplicationTransfer, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	filter.Normalize()
	matches := make([]*models.ReplicationTransfer, 0)
	err := boltDB.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(REPLICATION_BUCKET)).ForEach(func(k, v []byte) error {
			xfer := &models.ReplicationTransfer{}
			if err := decode(v, xfer); err != nil {
				return fmt.Errorf("Cannot decode replication %s: %v", string(k), err)
			}
			if filter.Matches(xfer) {
				matches = append(matches, xfer)
			}
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}
	sortReplications(matches, filter.OrderBy)
	total := len(matches)
	start := filter.Offset()
	if start < 0 || start >= total {
		return make([]*models.ReplicationTransfer, 0), total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

// CreateNode saves a new node. Returns ErrConflict if the
// namespace is taken.
func (boltDB *BoltDB) CreateNode(ctx context.Context, node *models.Node) error {
	return boltDB.putNode(ctx, node, true)
}

// SaveNode creates or replaces a node record.
func (boltDB *BoltDB) SaveNode(ctx context.Context, node *models.Node) error {
	return boltDB.putNode(ctx, node, false)
}

func (boltDB *BoltDB) putNode(ctx context.Context, node *models.Node, mustBeNew bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := encodeNode(node)
	if err != nil {
		return err
	}
	return boltDB.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(NODE_BUCKET))
		key := []byte(node.Namespace)
		if mustBeNew && bucket.Get(key) != nil {
			return fmt.Errorf("Node %s: %w", node.Namespace, ErrConflict)
		}
		return bucket.Put(key, value)
	})
}

// GetNode returns the node with the specified namespace, or ErrNotFound.
func (boltDB *BoltDB) GetNode(ctx context.Context, namespace string) (*models.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var node *models.Node
	err := boltDB.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(NODE_BUCKET)).Get([]byte(namespace))
		if value == nil {
			return fmt.Errorf("Node %s: %w", namespace, ErrNotFound)
		}
		var decodeErr error
		node, decodeErr = decodeNode(value)
		return decodeErr
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// DeleteNode removes a node record. Returns ErrNotFound if there
// is no such node.
func (boltDB *BoltDB) DeleteNode(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return boltDB.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(NODE_BUCKET))
		if bucket.Get([]byte(namespace)) == nil {
			return fmt.Errorf("Node %s: %w", namespace, ErrNotFound)
		}
		return bucket.Delete([]byte(namespace))
	})
}

// ListNodes returns all nodes, ordered by namespace.
func (boltDB *BoltDB) ListNodes(ctx context.Context) ([]*models.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nodes := make([]*models.Node, 0)
	err := boltDB.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(NODE_BUCKET)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			node, err := decodeNode(v)
			if err != nil {
				return fmt.Errorf("Cannot decode node %s: %v", string(k), err)
			}
			nodes = append(nodes, node)
		}
		return nil
	})
	return nodes, err
}

func encode(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

func decode(data []byte, value interface{}) error {
	return json.Unmarshal(data, value)
}

// nodeRecord is how a node is stored. Node never renders its token
// hash as JSON, so the record carries it separately.
type nodeRecord struct {
	*models.Node
	AuthTokenHash []byte `json:"auth_token_hash"`
}

func encodeNode(node *models.Node) ([]byte, error) {
	return encode(&nodeRecord{Node: node, AuthTokenHash: node.AuthTokenHash})
}

func decodeNode(data []byte) (*models.Node, error) {
	record := &nodeRecord{Node: &models.Node{}}
	if err := decode(data, record); err != nil {
		return nil, err
	}
	record.Node.AuthTokenHash = record.AuthTokenHash
	return record.Node, nil
}

func sortReplications(xfers []*models.ReplicationTransfer, orderBy string) {
	sort.SliceStable(xfers, func(i, j int) bool {
		a, b := xfers[i].CreatedAt, xfers[j].CreatedAt
		if orderBy == "updated_at" {
			a, b = xfers[i].UpdatedAt, xfers[j].UpdatedAt
		}
		if a.Equal(b) {
			return xfers[i].ReplicationId < xfers[j].ReplicationId
		}
		return a.Before(b)
	})
}
