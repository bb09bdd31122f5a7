package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trustfabric/trustfabric-core/pkg/graph"
	"github.com/trustfabric/trustfabric-core/pkg/trust"
)

var (
	trustLevel   string
	trustReason  string
	trustContext string
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage and evaluate peer trust",
}

var trustSetCmd = &cobra.Command{
	Use:   "set <peer> <public-key> <status>",
	Short: "Set a peer's trust status",
	Long:  `Record a trust decision for a peer. Status is one of trusted, untrusted, pending, revoked.`,
	Args:  cobra.ExactArgs(3),
	Example: `  trustfabric trust set <identity-hash> <hex-key> trusted --level high`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		ts := trust.NewStore(rt.objects, trust.Options{Audit: rt.auditor, Actor: rt.engine.Identity()})
		rel, err := ts.SetStatus(cmd.Context(), args[0], args[1], trust.Status(args[2]), trust.SetOptions{
			TrustLevel: trust.Level(trustLevel),
			Reason:     trustReason,
		})
		if err != nil {
			return err
		}
		if err := rt.known.Add(args[0], args[1]); err != nil {
			rt.log.WithError(err).Warn("failed to store peer key")
		}
		fmt.Printf("✅ %s is now %s (version %d)\n", rel.Peer, rel.Status, rel.Version)
		return nil
	},
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all trust relationships",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		ts := trust.NewStore(rt.objects, trust.Options{Audit: rt.auditor, Actor: rt.engine.Identity()})
		rels, err := ts.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, rel := range rels {
			fmt.Printf("%-12s %-8s %s\n", rel.Status, rel.TrustLevel, rel.Peer)
		}
		return nil
	},
}

var trustEvalCmd = &cobra.Command{
	Use:   "eval <peer>",
	Short: "Evaluate trust in a peer for a context",
	Args:  cobra.ExactArgs(1),
	Example: `  trustfabric trust eval <identity-hash> --context file-transfer`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		ts := trust.NewStore(rt.objects, trust.Options{Audit: rt.auditor, Actor: rt.engine.Identity()})
		ev := graph.NewEvaluator(ts, rt.engine, graph.NewGraph(nil), rt.engine.Identity(), nil)
		result, err := ev.EvaluateTrust(cmd.Context(), args[0], trustContext)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var trustHistoryCmd = &cobra.Command{
	Use:   "history <peer>",
	Short: "Show every stored trust version for a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		ts := trust.NewStore(rt.objects, trust.Options{Audit: rt.auditor, Actor: rt.engine.Identity()})
		rels, err := ts.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(rels, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trustCmd)
	trustCmd.AddCommand(trustSetCmd, trustListCmd, trustEvalCmd, trustHistoryCmd)

	trustSetCmd.Flags().StringVar(&trustLevel, "level", "", "Trust level (self|high|medium|low)")
	trustSetCmd.Flags().StringVar(&trustReason, "reason", "", "Reason for the decision")
	trustEvalCmd.Flags().StringVar(&trustContext, "context", "general", "Trust context (general|communication|file-transfer)")
}
