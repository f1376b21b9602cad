package testutil

import (
	"context"
	"github.com/APTrust/dpn-registry/dpn/api"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/dpn/registry"
	"github.com/APTrust/dpn-registry/dpn/replication"
	"github.com/APTrust/dpn-registry/util/logger"
	"github.com/APTrust/dpn-registry/util/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

// Token returns the auth token that nodes registered by
// NewRegistryServer use.
func Token(namespace string) string {
	return namespace + "-token"
}

// RegistryServer is a complete DPN registry for one node, backed by
// a temp bolt DB and served by httptest.
type RegistryServer struct {
	Local      string
	DB         *storage.BoltDB
	Registry   *registry.Registry
	Updater    *replication.Updater
	Prometheus *prometheus.Registry
	HTTP       *httptest.Server
}

// NewRegistryServer starts a registry whose local node is local and
// which knows about the other namespaces listed. Every node's
// token is Token(namespace). Everything is shut down when the
// test ends.
func NewRegistryServer(t *testing.T, local string, others ...string) *RegistryServer {
	db, err := storage.NewBoltDB(filepath.Join(t.TempDir(), "dpn.db"), time.Second)
	require.Nil(t, err)
	ctx := context.Background()
	for _, namespace := range append([]string{local}, others...) {
		node := MakeDPNNode()
		node.Namespace = namespace
		node.LastPullDate = time.Time{}
		require.Nil(t, registry.CreateNode(ctx, db, node, Token(namespace), bcrypt.MinCost))
	}
	reg, err := registry.NewRegistry(ctx, db, local, time.Minute, bcrypt.MinCost)
	require.Nil(t, err)

	log := logger.DiscardLogger("registry_server")
	updater := replication.NewUpdater(db, reg, log)
	promRegistry := prometheus.NewRegistry()
	server := api.NewServer(updater, reg, "", promRegistry, log)
	rs := &RegistryServer{
		Local:      local,
		DB:         db,
		Registry:   reg,
		Updater:    updater,
		Prometheus: promRegistry,
		HTTP:       httptest.NewServer(server),
	}
	t.Cleanup(func() {
		rs.HTTP.Close()
		db.Close()
	})
	return rs
}

// URL is the root URL of the test server.
func (rs *RegistryServer) URL() string {
	return rs.HTTP.URL
}

// Save stores xfer directly, bypassing the Updater, and returns
// the stored copy.
func (rs *RegistryServer) Save(t *testing.T, xfer *models.ReplicationTransfer) *models.ReplicationTransfer {
	require.Nil(t, rs.DB.CreateReplication(context.Background(), xfer))
	saved, err := rs.DB.GetReplication(context.Background(), xfer.ReplicationId)
	require.Nil(t, err)
	return saved
}
