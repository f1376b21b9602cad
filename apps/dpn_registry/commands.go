package main

import (
	"encoding/json"
	"fmt"
	"github.com/APTrust/dpn-registry/dpn"
	dpnmodels "github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/dpn/notify"
	"github.com/APTrust/dpn-registry/dpn/registry"
	"github.com/APTrust/dpn-registry/dpn/replication"
	"github.com/satori/go.uuid"
	"github.com/spf13/cobra"
	"os"
	"strings"
)

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage the nodes in the registry",
	}
	cmd.AddCommand(nodeAddCmd(), nodeListCmd(), nodeDeleteCmd())
	return cmd
}

func nodeAddCmd() *cobra.Command {
	node := &dpnmodels.Node{}
	var tokenEnv string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a node and the token it uses to call us",
		Long: `add registers a node. The node's token is read from the environment
variable named by --token-env so it never appears on the command line.
Add the local node first: nothing else works until it exists.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			_context, err := loadContext(ctx, false)
			if err != nil {
				return err
			}
			defer _context.Close()
			token := ""
			if tokenEnv != "" {
				token = os.Getenv(tokenEnv)
				if token == "" {
					return fmt.Errorf("Environment variable %s is empty", tokenEnv)
				}
			}
			node.Protocols = []string{dpn.PROTOCOL_RSYNC}
			node.FixityAlgorithms = []string{dpn.FIXITY_SHA256}
			err = registry.CreateNode(ctx, _context.Store, node, token, _context.Config.DPN.AuthTokenCost)
			if err != nil {
				return err
			}
			_context.MessageLog.Info("Added node %s (%s)", node.Namespace, node.APIRoot)
			return printJson(node)
		},
	}
	cmd.Flags().StringVar(&node.Namespace, "namespace", "", "node namespace (required)")
	cmd.Flags().StringVar(&node.Name, "name", "", "full name of the node")
	cmd.Flags().StringVar(&node.APIRoot, "api-root", "", "root URL of the node's DPN service")
	cmd.Flags().StringSliceVar(&node.ReplicateTo, "replicate-to", nil, "namespaces this node replicates to")
	cmd.Flags().StringSliceVar(&node.ReplicateFrom, "replicate-from", nil, "namespaces this node replicates from")
	cmd.Flags().StringVar(&tokenEnv, "token-env", "", "environment variable holding the node's token")
	cmd.MarkFlagRequired("namespace")
	return cmd
}

func nodeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			_context, err := loadContext(ctx, false)
			if err != nil {
				return err
			}
			defer _context.Close()
			nodes, err := _context.Store.ListNodes(ctx)
			if err != nil {
				return err
			}
			return printJson(&dpnmodels.NodeList{Count: len(nodes), Results: nodes})
		},
	}
}

func nodeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <namespace>",
		Short: "Remove a node from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			_context, err := loadContext(ctx, true)
			if err != nil {
				return err
			}
			defer _context.Close()
			if err := _context.Registry.DeleteNode(ctx, args[0]); err != nil {
				return err
			}
			_context.MessageLog.Info("Deleted node %s", args[0])
			return nil
		},
	}
}

// replicateCmd creates replication requests from the local node for
// one bag. Transfers are created through the Updater, so they are
// audited and announced like any other.
func replicateCmd() *cobra.Command {
	var bag, link string
	var howMany int
	var toNodes []string
	cmd := &cobra.Command{
		Use:   "replicate",
		Short: "Request replication of a local bag to other nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			_context, err := loadContext(ctx, true)
			if err != nil {
				return err
			}
			defer _context.Close()
			local := _context.Registry.LocalNode()
			if len(toNodes) == 0 {
				toNodes, err = local.ChooseNodesForReplication(howMany)
				if err != nil {
					return err
				}
			}
			created := make([]*dpnmodels.ReplicationTransfer, 0, len(toNodes))
			for _, toNode := range toNodes {
				xfer := &dpnmodels.ReplicationTransfer{
					ReplicationId:   uuid.NewV4().String(),
					FromNode:        local.Namespace,
					ToNode:          toNode,
					Bag:             bag,
					FixityAlgorithm: dpn.FIXITY_SHA256,
					Status:          dpn.StatusRequested,
					Protocol:        dpn.PROTOCOL_RSYNC,
					Link:            link,
				}
				result := _context.Updater.CreateAs(ctx, local.Namespace, xfer)
				if result.Outcome != replication.OutcomeCreated {
					_context.IncrementFailed()
					return fmt.Errorf("Could not create replication to %s: %s: %v",
						toNode, result.Outcome, result.Error)
				}
				_context.IncrementSucceeded()
				created = append(created, result.Transfer)
			}
			return printJson(&dpnmodels.ReplicationList{Count: len(created), Results: created})
		},
	}
	cmd.Flags().StringVar(&bag, "bag", "", "UUID of the bag to replicate (required)")
	cmd.Flags().StringVar(&link, "link", "", "rsync link the recipients copy the bag from (required)")
	cmd.Flags().IntVar(&howMany, "nodes", 2, "how many nodes to replicate to, chosen from our replicate_to list")
	cmd.Flags().StringSliceVar(&toNodes, "to", nil, "replicate to these nodes instead of choosing")
	cmd.MarkFlagRequired("bag")
	cmd.MarkFlagRequired("link")
	return cmd
}

// transitionsCmd prints the status transitions each role may make.
// It needs no config.
func transitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions [role]",
		Short: "Print the replication status transition table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roles := replication.Roles
			if len(args) == 1 {
				role, err := replication.ParseRole(args[0])
				if err != nil {
					return err
				}
				roles = []replication.Role{role}
			}
			for _, role := range roles {
				fmt.Println(role)
				for _, status := range dpn.ReplicationStatuses {
					allowed := replication.AllowedTransitions(role, status)
					names := make([]string, len(allowed))
					for i, s := range allowed {
						names[i] = s.String()
					}
					fmt.Printf("  %-10s -> %s\n", status, strings.Join(names, ", "))
				}
			}
			return nil
		},
	}
}

// eventsCmd prints replication events from nsqd as they arrive.
// Useful for checking that the service is publishing.
func eventsCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Watch replication events published to NSQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			_context, err := loadContext(ctx, false)
			if err != nil {
				return err
			}
			defer _context.Close()
			dpnConfig := _context.Config.DPN
			if dpnConfig.NsqdAddress == "" {
				return fmt.Errorf("DPN.NsqdAddress is not configured")
			}
			handler := notify.NewEventHandler(func(event *notify.ReplicationEvent) error {
				return printJson(event)
			}, _context.MessageLog)
			consumer, err := notify.Subscribe(dpnConfig.NsqdAddress, dpnConfig.ReplicationTopic,
				channel, handler, _context.MessageLog)
			if err != nil {
				return err
			}
			<-ctx.Done()
			consumer.Stop()
			<-consumer.StopChan
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "dpn_registry_events#ephemeral", "NSQ channel to read from")
	return cmd
}

func printJson(value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
