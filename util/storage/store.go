package storage

import (
	"context"
	"fmt"
	"github.com/APTrust/dpn-registry/dpn"
	dpnmodels "github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/models"
	"os"
	"path/filepath"
	"time"
)

// Store is everything the registry persists. BoltDB and Postgres
// both implement it.
type Store interface {
	CreateReplication(ctx context.Context, xfer *dpnmodels.ReplicationTransfer) error
	GetReplication(ctx context.Context, replicationId string) (*dpnmodels.ReplicationTransfer, error)
	UpdateReplication(ctx context.Context, replicationId string, expected dpn.ReplicationStatus, update *dpnmodels.ReplicationUpdate) (*dpnmodels.ReplicationTransfer, error)
	ListReplications(ctx context.Context, filter dpnmodels.ReplicationFilter) ([]*dpnmodels.ReplicationTransfer, int, error)
	CreateNode(ctx context.Context, node *dpnmodels.Node) error
	SaveNode(ctx context.Context, node *dpnmodels.Node) error
	GetNode(ctx context.Context, namespace string) (*dpnmodels.Node, error)
	DeleteNode(ctx context.Context, namespace string) error
	ListNodes(ctx context.Context) ([]*dpnmodels.Node, error)
	Close() error
}

// Open returns a Postgres store if config.PostgresURL is set, and
// a BoltDB store at config.DatabaseFile otherwise.
func Open(ctx context.Context, config models.DPNConfig) (Store, error) {
	if config.PostgresURL != "" {
		pg, err := NewPostgres(ctx, config.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err = pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("Cannot create postgres schema: %v", err)
		}
		return pg, nil
	}
	if config.DatabaseFile == "" {
		return nil, fmt.Errorf("Config must specify DatabaseFile or PostgresURL")
	}
	if err := os.MkdirAll(filepath.Dir(config.DatabaseFile), 0755); err != nil {
		return nil, fmt.Errorf("Cannot create directory for %s: %v", config.DatabaseFile, err)
	}
	boltDB, err := NewBoltDB(config.DatabaseFile, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("Cannot open %s: %v", config.DatabaseFile, err)
	}
	return boltDB, nil
}
