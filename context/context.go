package context

import (
	stdcontext "context"
	"fmt"
	"github.com/APTrust/dpn-registry/dpn/notify"
	"github.com/APTrust/dpn-registry/dpn/registry"
	"github.com/APTrust/dpn-registry/dpn/replication"
	"github.com/APTrust/dpn-registry/models"
	"github.com/APTrust/dpn-registry/stats"
	"github.com/APTrust/dpn-registry/util/logger"
	"github.com/APTrust/dpn-registry/util/storage"
	"github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	stdlog "log"
	"sync/atomic"
)

/*
Context sets up the items common to the registry's commands
(serve, sync, node, replicate): config, logging, the store,
the node registry and the replication Updater.

Building a Context happens in two steps. NewContext sets up
logging and opens the store, which is all that node
administration needs. InitRegistry loads the local node and
builds everything that depends on knowing who we are.
*/
type Context struct {
	Config     *models.Config
	MessageLog *logging.Logger
	JsonLog    *stdlog.Logger
	Store      storage.Store
	Registry   *registry.Registry
	Updater    *replication.Updater
	Notifier   *notify.NSQNotifier
	Metrics    *stats.Metrics
	Prometheus *prometheus.Registry

	pathToLogFile string
	pathToJsonLog string
	succeeded     int64
	failed        int64
}

// NewContext validates config, initializes logging and opens the
// store.
func NewContext(ctx stdcontext.Context, config *models.Config) (*Context, error) {
	config.ExpandFilePaths()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	context := &Context{Config: config}
	context.MessageLog, context.pathToLogFile = logger.InitLogger(config)
	context.JsonLog, context.pathToJsonLog = logger.InitJsonLogger(config)
	store, err := storage.Open(ctx, config.DPN)
	if err != nil {
		return nil, fmt.Errorf("Cannot open store: %v", err)
	}
	context.Store = store
	context.MessageLog.Info("Using config %s, local node %s", config.ActiveConfig, config.DPN.LocalNode)
	return context, nil
}

// InitRegistry loads the local node and builds the registry,
// metrics, notifier and Updater. It fails if the local node
// has not been added yet.
func (context *Context) InitRegistry(ctx stdcontext.Context) error {
	dpnConfig := context.Config.DPN
	reg, err := registry.NewRegistry(ctx, context.Store, dpnConfig.LocalNode,
		dpnConfig.NodeCacheTTLDuration(), dpnConfig.AuthTokenCost)
	if err != nil {
		return err
	}
	context.Registry = reg

	context.Prometheus = prometheus.NewRegistry()
	context.Prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	context.Metrics = stats.NewMetrics(context.Prometheus)

	notifier, err := notify.NewNSQNotifier(dpnConfig.NsqdAddress, dpnConfig.ReplicationTopic, context.MessageLog)
	if err != nil {
		return err
	}
	context.Notifier = notifier

	context.Updater = replication.NewUpdater(context.Store, reg, context.MessageLog)
	context.Updater.StoreTimeout = dpnConfig.StoreTimeoutDuration()
	context.Updater.AuditLog = context.JsonLog
	context.Updater.Stats = context.Metrics
	context.Updater.Notifier = notifier
	return nil
}

// Close stops the notifier and closes the store.
func (context *Context) Close() error {
	if context.Notifier != nil {
		context.Notifier.Stop()
	}
	if context.Store != nil {
		return context.Store.Close()
	}
	return nil
}

// Returns the number of work items that succeeded.
func (context *Context) Succeeded() int64 {
	return atomic.LoadInt64(&context.succeeded)
}

// Returns the number of work items that failed.
func (context *Context) Failed() int64 {
	return atomic.LoadInt64(&context.failed)
}

// Increases the count of successfully processed items by one.
func (context *Context) IncrementSucceeded() int64 {
	return atomic.AddInt64(&context.succeeded, 1)
}

// Increases the count of unsuccessfully processed items by one.
func (context *Context) IncrementFailed() int64 {
	return atomic.AddInt64(&context.failed, 1)
}

// Returns the path to this process' log file
func (context *Context) PathToLogFile() string {
	return context.pathToLogFile
}

// Returns the path to this process' JSON log file
func (context *Context) PathToJsonLog() string {
	return context.pathToJsonLog
}

// Logs info about the number of items that have succeeded and failed.
func (context *Context) LogStats() {
	context.MessageLog.Info("**STATS** Succeeded: %d, Failed: %d",
		context.Succeeded(), context.Failed())
}
