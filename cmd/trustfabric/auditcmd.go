package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trustfabric/trustfabric-core/pkg/audit"
)

var (
	auditType  string
	auditActor string
	auditCert  string
	auditLimit int

	auditKeep time.Duration
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and prune the audit log",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit events, newest first",
	Example: `  trustfabric audit query --type certificate_revoked --limit 20`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		q := audit.Query{
			Actor:         auditActor,
			CertificateID: auditCert,
			Limit:         auditLimit,
		}
		if auditType != "" {
			q.Types = []audit.EventType{audit.EventType(auditType)}
		}
		events, err := rt.auditor.Query(cmd.Context(), q)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove audit events older than the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		keep := auditKeep
		if keep <= 0 {
			keep = rt.cfg.AuditRetention
		}
		if keep <= 0 {
			return fmt.Errorf("no retention window configured, pass --keep")
		}
		cutoff := time.Now().Add(-keep).UnixMilli()
		removed, err := rt.auditor.Prune(cmd.Context(), cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("🧹 Removed %d events older than %s\n", removed, keep)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd, auditPruneCmd)

	auditQueryCmd.Flags().StringVar(&auditType, "type", "", "Filter by event type")
	auditQueryCmd.Flags().StringVar(&auditActor, "actor", "", "Filter by actor identity")
	auditQueryCmd.Flags().StringVar(&auditCert, "cert", "", "Filter by certificate id")
	auditQueryCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum events returned")

	auditPruneCmd.Flags().DurationVar(&auditKeep, "keep", 0, "Retention window, e.g. 2160h for 90 days")
}
