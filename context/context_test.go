package context_test

import (
	stdcontext "context"
	"github.com/APTrust/dpn-registry/context"
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/dpn/registry"
	"github.com/APTrust/dpn-registry/dpn/replication"
	"github.com/APTrust/dpn-registry/dpn/util/testutil"
	appmodels "github.com/APTrust/dpn-registry/models"
	"github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path"
	"path/filepath"
	"testing"
)

func loadTestConfig(t *testing.T) *appmodels.Config {
	appConfig, err := appmodels.LoadConfigFile(filepath.Join("config", "test.json"))
	require.Nil(t, err)

	// In some tests we want to log to STDERR, but in this case, if it
	// happens to be turned on, it just creates useless, annoying output.
	appConfig.LogToStderr = false
	dir := t.TempDir()
	appConfig.LogDirectory = filepath.Join(dir, "logs")
	appConfig.DPN.DatabaseFile = filepath.Join(dir, "dpn.db")
	appConfig.DPN.PostgresURL = ""
	appConfig.DPN.NsqdAddress = ""
	return appConfig
}

func TestNewContext(t *testing.T) {
	appConfig := loadTestConfig(t)
	ctx := stdcontext.Background()
	_context, err := context.NewContext(ctx, appConfig)
	require.Nil(t, err)
	defer _context.Close()

	expectedPathToLogFile := filepath.Join(_context.Config.AbsLogDirectory(), path.Base(os.Args[0])+".log")
	expectedPathToJsonLog := filepath.Join(_context.Config.AbsLogDirectory(), path.Base(os.Args[0])+".json")

	assert.NotNil(t, _context.Config)
	assert.NotNil(t, _context.MessageLog)
	assert.NotNil(t, _context.JsonLog)
	assert.NotNil(t, _context.Store)
	assert.Nil(t, _context.Registry)
	assert.Equal(t, expectedPathToLogFile, _context.PathToLogFile())
	assert.Equal(t, expectedPathToJsonLog, _context.PathToJsonLog())
	assert.Equal(t, int64(0), _context.Succeeded())
	assert.Equal(t, int64(0), _context.Failed())

	assert.NotPanics(t, func() { _context.MessageLog.Info("Test INFO log message") })
	assert.NotPanics(t, func() { _context.JsonLog.Println(`{"message": "Test JSON log message"}`) })

	// The local node hasn't been registered yet.
	assert.NotNil(t, _context.InitRegistry(ctx))

	node := &models.Node{Namespace: appConfig.DPN.LocalNode, Name: "APTrust"}
	require.Nil(t, registry.CreateNode(ctx, _context.Store, node, "secret", appConfig.DPN.AuthTokenCost))
	require.Nil(t, _context.InitRegistry(ctx))
	assert.NotNil(t, _context.Registry)
	assert.NotNil(t, _context.Metrics)
	assert.NotNil(t, _context.Notifier)
	assert.False(t, _context.Notifier.Enabled())
	require.NotNil(t, _context.Updater)
	assert.Equal(t, appConfig.DPN.LocalNode, _context.Updater.LocalNodeName())
	assert.Equal(t, appConfig.DPN.StoreTimeoutDuration(), _context.Updater.StoreTimeout)
}

func TestNewContextInvalidConfig(t *testing.T) {
	appConfig := loadTestConfig(t)
	appConfig.DPN.LocalNode = ""
	_, err := context.NewContext(stdcontext.Background(), appConfig)
	assert.NotNil(t, err)
}

func TestCounters(t *testing.T) {
	_context, err := context.NewContext(stdcontext.Background(), loadTestConfig(t))
	require.Nil(t, err)
	defer _context.Close()
	assert.Equal(t, int64(1), _context.IncrementSucceeded())
	assert.Equal(t, int64(2), _context.IncrementSucceeded())
	assert.Equal(t, int64(1), _context.IncrementFailed())
	assert.Equal(t, int64(2), _context.Succeeded())
	assert.Equal(t, int64(1), _context.Failed())
	assert.NotPanics(t, _context.LogStats)
}

func TestAuditLog(t *testing.T) {
	appConfig := loadTestConfig(t)
	ctx := stdcontext.Background()
	_context, err := context.NewContext(ctx, appConfig)
	require.Nil(t, err)
	defer _context.Close()

	for _, namespace := range []string{"aptrust", "chron", "sdr"} {
		node := &models.Node{Namespace: namespace, Name: namespace}
		require.Nil(t, registry.CreateNode(ctx, _context.Store, node,
			testutil.Token(namespace), appConfig.DPN.AuthTokenCost))
	}
	require.Nil(t, _context.InitRegistry(ctx))

	xfer := testutil.MakeXferRequest("aptrust", "sdr", uuid.NewV4().String())
	result := _context.Updater.CreateAs(ctx, "aptrust", xfer)
	require.Equal(t, replication.OutcomeCreated, result.Outcome)

	// chron is not a party to this transfer.
	req := replication.NewUpdateRequest(xfer)
	req.Status = dpn.StatusReceived
	result = _context.Updater.Update(ctx, testutil.Token("chron"), req)
	require.Equal(t, replication.OutcomeForbidden, result.Outcome)

	entries, err := testutil.FindAuditEntries(_context.PathToJsonLog(), xfer.ReplicationId)
	require.Nil(t, err)
	require.Equal(t, 1, len(entries))
	assert.Equal(t, "update", entries[0].Operation)
	assert.Equal(t, "chron", entries[0].Requester)
	assert.Equal(t, "forbidden", entries[0].Outcome)
	assert.NotEmpty(t, entries[0].Error)
}
