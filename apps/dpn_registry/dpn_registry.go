package main

import (
	stdcontext "context"
	"fmt"
	"github.com/APTrust/dpn-registry/context"
	"github.com/APTrust/dpn-registry/dpn/api"
	"github.com/APTrust/dpn-registry/dpn/workers"
	"github.com/APTrust/dpn-registry/models"
	"github.com/spf13/cobra"
	"os"
	"os/signal"
	"syscall"
)

// dpn_registry runs this node's DPN replication registry: the REST
// service other nodes call to create and update replication transfers,
// the sync job that pulls transfers from other nodes, and a few
// administrative commands.

var (
	configFile string
	envFile    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dpn_registry",
		Short: "DPN replication transfer registry",
		Long: `dpn_registry tracks replication of DPN bags between nodes. Each
node runs its own registry. Remote nodes call our REST service to
create and update transfers, and the sync command pulls transfers
that other nodes originated into our registry.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file (required)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "optional .env file with secrets")

	rootCmd.AddCommand(
		serveCmd(),
		syncCmd(),
		nodeCmd(),
		replicateCmd(),
		transitionsCmd(),
		eventsCmd(),
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadContext reads the config and returns a Context with logging
// and the store set up. If withRegistry is true, the registry and
// Updater are initialized too.
func loadContext(ctx stdcontext.Context, withRegistry bool) (*context.Context, error) {
	if configFile == "" {
		return nil, fmt.Errorf("Param --config is required")
	}
	if err := models.LoadEnv(envFile); err != nil {
		return nil, err
	}
	config, err := models.LoadConfigFile(configFile)
	if err != nil {
		return nil, err
	}
	_context, err := context.NewContext(ctx, config)
	if err != nil {
		return nil, err
	}
	if withRegistry {
		if err = _context.InitRegistry(ctx); err != nil {
			_context.Close()
			return nil, fmt.Errorf("%v (use 'dpn_registry node add' to register the local node)", err)
		}
	}
	return _context, nil
}

func signalContext() (stdcontext.Context, stdcontext.CancelFunc) {
	return signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the DPN REST service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			_context, err := loadContext(ctx, true)
			if err != nil {
				return err
			}
			defer _context.Close()
			if address == "" {
				address = _context.Config.DPN.ServerAddress
			}
			server := api.NewServer(_context.Updater, _context.Registry,
				_context.Config.DPN.DPNAPIVersion, _context.Prometheus, _context.MessageLog)
			return server.ListenAndServe(ctx, address)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "listen address (overrides DPN.ServerAddress)")
	return cmd
}

func syncCmd() *cobra.Command {
	var statsFile string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull replication transfers from other nodes",
		Long: `sync pulls replication transfers from every remote node that has a
token in DPN.RemoteNodeTokens. Each node is the authority on the
transfers it originated, so from node X we pull only transfers whose
from_node is X. This typically runs as a cron job.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			_context, err := loadContext(ctx, true)
			if err != nil {
				return err
			}
			defer _context.Close()
			dpnSync, err := workers.NewDPNSync(ctx, _context)
			if err != nil {
				return err
			}
			ok := dpnSync.Run(ctx)
			_context.LogStats()
			if statsFile != "" {
				if err := dpnSync.Stats.DumpToFile(statsFile); err != nil {
					return err
				}
			}
			if !ok {
				return fmt.Errorf("Sync finished with errors. See %s", _context.PathToLogFile())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&statsFile, "stats", "", "write sync stats as JSON to this file")
	return cmd
}
