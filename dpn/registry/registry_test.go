package registry_test

import (
	"context"
	"errors"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/dpn/registry"
	"github.com/APTrust/dpn-registry/dpn/util/testutil"
	"github.com/APTrust/dpn-registry/util/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openStore(t *testing.T) *storage.BoltDB {
	dir, err := ioutil.TempDir("", "registry_test")
	require.Nil(t, err)
	db, err := storage.NewBoltDB(filepath.Join(dir, "dpn.db"), time.Second)
	require.Nil(t, err)
	t.Cleanup(func() {
		db.Close()
		os.RemoveAll(dir)
	})
	return db
}

// newRegistry registers aptrust (local) and chron, each with a
// token of namespace + "-token".
func newRegistry(t *testing.T) (*registry.Registry, *storage.BoltDB) {
	db := openStore(t)
	ctx := context.Background()
	for _, namespace := range []string{"aptrust", "chron"} {
		node := testutil.MakeDPNNode()
		node.Namespace = namespace
		require.Nil(t, registry.CreateNode(ctx, db, node, namespace+"-token", bcrypt.MinCost))
	}
	reg, err := registry.NewRegistry(ctx, db, "aptrust", time.Minute, bcrypt.MinCost)
	require.Nil(t, err)
	return reg, db
}

func TestNewRegistry(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	_, err := registry.NewRegistry(ctx, db, "", time.Minute, bcrypt.MinCost)
	assert.NotNil(t, err)

	_, err = registry.NewRegistry(ctx, db, "aptrust", time.Minute, bcrypt.MinCost)
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	node := testutil.MakeDPNNode()
	node.Namespace = "aptrust"
	require.Nil(t, registry.CreateNode(ctx, db, node, "", bcrypt.MinCost))
	reg, err := registry.NewRegistry(ctx, db, " APTrust ", 0, bcrypt.MinCost)
	require.Nil(t, err)
	assert.Equal(t, "aptrust", reg.LocalNode().Namespace)
	assert.True(t, reg.LocalNode().IsLocal("aptrust"))
}

func TestResolve(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	node, err := reg.Resolve(ctx, "chron-token")
	require.Nil(t, err)
	assert.Equal(t, "chron", node.Namespace)

	// Second lookup comes from the cache.
	node, err = reg.Resolve(ctx, "chron-token")
	require.Nil(t, err)
	assert.Equal(t, "chron", node.Namespace)

	node, err = reg.Resolve(ctx, "aptrust-token")
	require.Nil(t, err)
	assert.Equal(t, "aptrust", node.Namespace)

	for _, credential := range []string{"", "chron", "wrong-token"} {
		_, err = reg.Resolve(ctx, credential)
		assert.True(t, errors.Is(err, registry.ErrAuthenticationFailed), credential)
	}
}

func TestResolveAfterDelete(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	_, err := reg.Resolve(ctx, "chron-token")
	require.Nil(t, err)

	require.Nil(t, reg.DeleteNode(ctx, "chron"))
	_, err = reg.Resolve(ctx, "chron-token")
	assert.True(t, errors.Is(err, registry.ErrAuthenticationFailed))
}

func TestAddNode(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	node := testutil.MakeDPNNode()
	node.Namespace = "  SDR "
	require.Nil(t, reg.AddNode(ctx, node, "sdr-token"))
	assert.Equal(t, "sdr", node.Namespace)
	assert.NotEmpty(t, node.AuthTokenHash)

	saved, err := reg.GetNode(ctx, "SDR")
	require.Nil(t, err)
	assert.Equal(t, node.Name, saved.Name)

	resolved, err := reg.Resolve(ctx, "sdr-token")
	require.Nil(t, err)
	assert.Equal(t, "sdr", resolved.Namespace)

	dup := testutil.MakeDPNNode()
	dup.Namespace = "sdr"
	err = reg.AddNode(ctx, dup, "other-token")
	assert.True(t, errors.Is(err, registry.ErrNodeExists))

	bad := testutil.MakeDPNNode()
	bad.Namespace = "two words"
	err = reg.AddNode(ctx, bad, "token")
	require.NotNil(t, err)
	assert.Equal(t, "Namespace 'two words' does not allow whitespace or capital letters", err.Error())

	nodes, err := reg.ListNodes(ctx)
	require.Nil(t, err)
	assert.Equal(t, 3, len(nodes))
}

func TestDeleteNode(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	err := reg.DeleteNode(ctx, "APTRUST")
	assert.True(t, errors.Is(err, registry.ErrLocalNode))

	err = reg.DeleteNode(ctx, "nobody")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.Nil(t, reg.DeleteNode(ctx, "Chron"))
	_, err = reg.GetNode(ctx, "chron")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestUpdateLastPullDate(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	pulled := time.Date(2016, 8, 1, 10, 0, 0, 0, time.UTC)
	require.Nil(t, reg.UpdateLastPullDate(ctx, "chron", pulled))
	node, err := reg.GetNode(ctx, "chron")
	require.Nil(t, err)
	assert.True(t, pulled.Equal(node.LastPullDate))

	// The token hash survives the save.
	_, err = reg.Resolve(ctx, "chron-token")
	assert.Nil(t, err)

	err = reg.UpdateLastPullDate(ctx, "nobody", pulled)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestCreateNodeKeepsTimestamps(t *testing.T) {
	db := openStore(t)
	created := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	node := &models.Node{Namespace: "hathi", CreatedAt: created}
	require.Nil(t, registry.CreateNode(context.Background(), db, node, "", bcrypt.MinCost))
	assert.True(t, created.Equal(node.CreatedAt))
	assert.False(t, node.UpdatedAt.IsZero())
	assert.Empty(t, node.AuthTokenHash)
}
