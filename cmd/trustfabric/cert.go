package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trustfabric/trustfabric-core/pkg/ca"
	"github.com/trustfabric/trustfabric-core/pkg/cert"
)

var (
	issueKind     string
	issueSubject  string
	issuePubKey   string
	issueValidity string
	issueChainTo  string
	issueClaims   []string

	reduceUntil int64

	revokeReason string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a certificate to a subject",
	Example: `  # Issue a one-year device certificate
  trustfabric issue --kind device --subject <identity-hash> --public-key <hex> --validity "1 year"

  # Chain a service certificate under an existing certificate
  trustfabric issue --kind service --subject api.example.org --validity P90D --chain-to cert:device:...:...`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		claims := cert.Claims{}
		for _, pair := range issueClaims {
			k, v, ok := strings.Cut(pair, "=")
			if !ok || k == "" {
				return fmt.Errorf("bad claim %q, want key=value", pair)
			}
			claims[k] = v
		}
		if len(claims) == 0 {
			claims = nil
		}

		issued, err := rt.engine.Issue(cmd.Context(), ca.IssueRequest{
			Kind:             cert.Kind(issueKind),
			Subject:          issueSubject,
			SubjectPublicKey: issuePubKey,
			Validity:         issueValidity,
			Claims:           claims,
			ChainTo:          issueChainTo,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✅ Issued %s (serial %s, valid until %d)\n", issued.ID, issued.SerialNumber, issued.ValidUntil)
		return nil
	},
}

var extendCmd = &cobra.Command{
	Use:   "extend <cert-id> <additional>",
	Short: "Extend a certificate's validity",
	Args:  cobra.ExactArgs(2),
	Example: `  trustfabric extend cert:device:abc:123 "6 months"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		extended, err := rt.engine.Extend(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("✅ Extended %s to version %d (valid until %d)\n", extended.ID, extended.Version, extended.ValidUntil)
		return nil
	},
}

var reduceCmd = &cobra.Command{
	Use:   "reduce <cert-id>",
	Short: "Shorten a certificate's validity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		reduced, err := rt.engine.Reduce(cmd.Context(), args[0], reduceUntil)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Reduced %s to version %d (valid until %d)\n", reduced.ID, reduced.Version, reduced.ValidUntil)
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <cert-id>",
	Short: "Revoke a certificate immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		revoked, err := rt.engine.Revoke(cmd.Context(), args[0], revokeReason)
		if err != nil {
			return err
		}
		fmt.Printf("⛔ Revoked %s (version %d)\n", revoked.ID, revoked.Version)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <cert-id>",
	Short: "Verify a certificate and its chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		c, err := rt.engine.LatestVersion(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		result, err := rt.engine.VerifyCertificate(cmd.Context(), c)
		if err != nil {
			return err
		}
		if !result.Valid {
			fmt.Printf("❌ %s is not valid: %s\n", c.ID, result.Reason)
			os.Exit(1)
		}

		chain, err := rt.engine.VerifyChain(cmd.Context(), c, rt.engine.Root())
		if err != nil {
			return err
		}
		if !chain.Valid {
			fmt.Printf("❌ chain broken at link %d: %s\n", chain.FailedAt, chain.Reason)
			os.Exit(1)
		}
		fmt.Printf("✅ %s is valid (chain length %d)\n", c.ID, len(chain.Chain))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <cert-id>",
	Short: "Show a certificate's version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		entries, err := rt.engine.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(issueCmd, extendCmd, reduceCmd, revokeCmd, verifyCmd, historyCmd)

	issueCmd.Flags().StringVar(&issueKind, "kind", "device", "Certificate kind (identity|device|service|attestation|delegation)")
	issueCmd.Flags().StringVar(&issueSubject, "subject", "", "Subject identity hash or opaque name")
	issueCmd.Flags().StringVar(&issuePubKey, "public-key", "", "Subject's hex Ed25519 public key")
	issueCmd.Flags().StringVar(&issueValidity, "validity", "1 year", "Validity duration (\"1 year\", \"6 months\", or ISO-8601)")
	issueCmd.Flags().StringVar(&issueChainTo, "chain-to", "", "Parent certificate id to chain under")
	issueCmd.Flags().StringArrayVar(&issueClaims, "claim", nil, "Claim as key=value, repeatable")
	_ = issueCmd.MarkFlagRequired("subject")

	reduceCmd.Flags().Int64Var(&reduceUntil, "until", 0, "New valid_until in epoch milliseconds")
	_ = reduceCmd.MarkFlagRequired("until")

	revokeCmd.Flags().StringVar(&revokeReason, "reason", "", "Revocation reason")
}
