package workers_test

import (
	"context"
	"encoding/json"
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/dpn/network"
	"github.com/APTrust/dpn-registry/dpn/util/testutil"
	"github.com/APTrust/dpn-registry/dpn/workers"
	appmodels "github.com/APTrust/dpn-registry/models"
	"github.com/APTrust/dpn-registry/stats"
	"github.com/APTrust/dpn-registry/util/logger"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// syncEnv is our local aptrust registry plus chron's registry,
// which we pull from.
type syncEnv struct {
	local  *testutil.RegistryServer
	remote *testutil.RegistryServer
}

func newSyncEnv(t *testing.T) *syncEnv {
	return &syncEnv{
		local:  testutil.NewRegistryServer(t, "aptrust", "chron", "sdr"),
		remote: testutil.NewRegistryServer(t, "chron", "aptrust", "sdr"),
	}
}

// newSync returns a DPNSync that pulls from chron at url.
func (env *syncEnv) newSync(t *testing.T, url string) *workers.DPNSync {
	client, err := network.NewDPNRestClient(url, "", testutil.Token("aptrust"), "chron", appmodels.DPNConfig{})
	require.Nil(t, err)
	dpnSync := workers.NewDPNSyncWithClients(env.local.Registry, env.local.Updater,
		map[string]*network.DPNRestClient{"chron": client}, logger.DiscardLogger("dpn_sync_test"))
	dpnSync.BatchSize = 2
	dpnSync.Concurrency = 2
	return dpnSync
}

func (env *syncEnv) lastPullDate(t *testing.T) time.Time {
	node, err := env.local.Registry.GetNode(context.Background(), "chron")
	require.Nil(t, err)
	return node.LastPullDate
}

func TestNewDPNSyncWithClients(t *testing.T) {
	env := newSyncEnv(t)
	dpnSync := env.newSync(t, env.remote.URL())
	assert.Equal(t, "aptrust", dpnSync.LocalNodeName())
	assert.Equal(t, []string{"chron"}, dpnSync.RemoteNodeNames())
	require.NotNil(t, dpnSync.Results["chron"])
	assert.NotNil(t, dpnSync.Stats)
}

func TestSyncCreatesAndUpdates(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()
	ids := make([]string, 0)
	for i := 0; i < 3; i++ {
		xfer := env.remote.Save(t, testutil.MakeXferWithStatus("chron", "aptrust", dpn.StatusRequested))
		ids = append(ids, xfer.ReplicationId)
	}
	toSdr := env.remote.Save(t, testutil.MakeXferWithStatus("chron", "sdr", dpn.StatusReceived))
	ids = append(ids, toSdr.ReplicationId)
	// Not chron's to tell us about.
	notChrons := env.remote.Save(t, testutil.MakeXferWithStatus("aptrust", "chron", dpn.StatusRequested))

	promRegistry := prometheus.NewRegistry()
	dpnSync := env.newSync(t, env.remote.URL())
	dpnSync.Metrics = stats.NewMetrics(promRegistry)
	require.True(t, dpnSync.Run(ctx))

	result := dpnSync.Results["chron"]
	assert.False(t, result.HasErrors(""))
	assert.Equal(t, 4, result.FetchCounts[dpn.DPNTypeReplication])
	assert.Equal(t, 4, result.SyncCounts[dpn.DPNTypeReplication])
	assert.Equal(t, 4, len(dpnSync.Stats.Created))
	assert.Equal(t, float64(4), promtestutil.ToFloat64(dpnSync.Metrics.SyncSynced.WithLabelValues("chron", "Replication")))
	for _, id := range ids {
		local, err := env.local.DB.GetReplication(ctx, id)
		require.Nil(t, err, id)
		remote, err := env.remote.DB.GetReplication(ctx, id)
		require.Nil(t, err)
		assert.Equal(t, remote.Status, local.Status)
		assert.True(t, remote.UpdatedAt.Equal(local.UpdatedAt))
	}
	_, err := env.local.DB.GetReplication(ctx, notChrons.ReplicationId)
	assert.NotNil(t, err)
	pulled := env.lastPullDate(t)
	assert.True(t, pulled.Equal(toSdr.UpdatedAt), "LastPullDate %s, expected %s", pulled, toSdr.UpdatedAt)

	// Chron cancels one transfer. The next sync picks up only that.
	cancelledAt := time.Now().UTC()
	_, err = env.remote.DB.UpdateReplication(ctx, ids[0], dpn.StatusRequested,
		&models.ReplicationUpdate{Status: dpn.StatusCancelled, UpdatedAt: cancelledAt})
	require.Nil(t, err)

	dpnSync = env.newSync(t, env.remote.URL())
	require.True(t, dpnSync.Run(ctx))
	result = dpnSync.Results["chron"]
	assert.Equal(t, 1, result.FetchCounts[dpn.DPNTypeReplication])
	assert.Equal(t, 1, result.SyncCounts[dpn.DPNTypeReplication])
	assert.Equal(t, []string{ids[0]}, dpnSync.Stats.Updated)
	local, err := env.local.DB.GetReplication(ctx, ids[0])
	require.Nil(t, err)
	assert.Equal(t, dpn.StatusCancelled, local.Status)
	// The local copy carries chron's timestamp, not ours.
	assert.True(t, local.UpdatedAt.Equal(cancelledAt), "UpdatedAt %s, expected %s", local.UpdatedAt, cancelledAt)
	assert.True(t, env.lastPullDate(t).Equal(cancelledAt))

	// Nothing new
	dpnSync = env.newSync(t, env.remote.URL())
	require.True(t, dpnSync.Run(ctx))
	assert.Equal(t, 0, dpnSync.Results["chron"].FetchCounts[dpn.DPNTypeReplication])
}

func TestSyncRecordsErrors(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()
	good := env.remote.Save(t, testutil.MakeXferWithStatus("chron", "sdr", dpn.StatusRequested))

	// tdr is unknown to our registry, so we can't create this one.
	bad := testutil.MakeXferWithStatus("chron", "sdr", dpn.StatusRequested)
	bad.ToNode = "tdr"
	require.Nil(t, env.remote.DB.CreateReplication(ctx, bad))

	dpnSync := env.newSync(t, env.remote.URL())
	assert.False(t, dpnSync.Run(ctx))
	result := dpnSync.Results["chron"]
	assert.True(t, result.HasErrors(dpn.DPNTypeReplication))
	assert.Equal(t, 2, result.FetchCounts[dpn.DPNTypeReplication])
	assert.Equal(t, 1, result.SyncCounts[dpn.DPNTypeReplication])
	assert.Contains(t, result.Errors[dpn.DPNTypeReplication][0].Error(), "validation_failed")
	assert.True(t, dpnSync.Stats.HasErrors())

	_, err := env.local.DB.GetReplication(ctx, good.ReplicationId)
	assert.Nil(t, err)
	// We'll pull everything again next time.
	assert.True(t, env.lastPullDate(t).IsZero())
}

func TestSyncRejectsRecordsFromOtherNodes(t *testing.T) {
	env := newSyncEnv(t)
	xfer := testutil.MakeXferRequest("sdr", "aptrust", uuid.NewV4().String())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		list := &models.ReplicationList{Count: 1, Results: []*models.ReplicationTransfer{xfer}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(list)
	}))
	defer server.Close()

	dpnSync := env.newSync(t, server.URL)
	assert.False(t, dpnSync.Run(context.Background()))
	result := dpnSync.Results["chron"]
	require.Equal(t, 1, len(result.Errors[dpn.DPNTypeReplication]))
	assert.Contains(t, result.Errors[dpn.DPNTypeReplication][0].Error(), "belongs to sdr")
	_, err := env.local.DB.GetReplication(context.Background(), xfer.ReplicationId)
	assert.NotNil(t, err)
}

func TestSyncUnreachableNode(t *testing.T) {
	env := newSyncEnv(t)
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	dpnSync := env.newSync(t, url)
	assert.False(t, dpnSync.Run(context.Background()))
	assert.True(t, dpnSync.Results["chron"].HasErrors(dpn.DPNTypeReplication))
}
