package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/trustfabric/trustfabric-core/pkg/audit"
	"github.com/trustfabric/trustfabric-core/pkg/ca"
	"github.com/trustfabric/trustfabric-core/pkg/config"
	"github.com/trustfabric/trustfabric-core/pkg/did"
	"github.com/trustfabric/trustfabric-core/pkg/keychain"
	"github.com/trustfabric/trustfabric-core/pkg/store"
)

var (
	initName   string
	initDomain string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the instance identity and root certificate",
	Long: `Generate the instance's Ed25519 identity key and mint the self-signed
root certificate. Idempotent: an existing identity and root are reused.`,
	Example: `  trustfabric init --name "Alice's Instance" --domain alice.example.org`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagDataDir != "" {
			cfg.DataDir = flagDataDir
		}
		if initName != "" {
			cfg.Name = initName
		}
		if initDomain != "" {
			cfg.Domain = initDomain
		}

		keys, err := keychain.NewFileKeychain(cfg.KeychainDir())
		if err != nil {
			return err
		}
		identities, err := keys.Identities()
		if err != nil {
			return err
		}
		var identity string
		if len(identities) > 0 {
			identity = identities[0]
			fmt.Printf("🔑 Using existing identity %s\n", identity)
		} else {
			var pub string
			identity, pub, err = keys.Generate()
			if err != nil {
				return fmt.Errorf("failed to generate identity key: %w", err)
			}
			fmt.Printf("🔑 Generated identity %s\n", identity)
			fmt.Printf("   Public key: %s\n", pub)
		}

		log := logrus.New()
		log.SetLevel(logrus.WarnLevel)
		objects, err := store.NewBadgerStore(store.BadgerConfig{Path: cfg.StoreDir(), Logger: log})
		if err != nil {
			return err
		}
		defer objects.Close()

		auditor, err := audit.NewFileLog(cfg.AuditDir())
		if err != nil {
			return err
		}

		engine := ca.New(ca.Config{
			Name:         cfg.Name,
			Domain:       cfg.Domain,
			Identity:     identity,
			RootValidity: cfg.RootValidity,
			Logger:       log,
		}, objects, keys, auditor)
		if err := engine.Init(ctx); err != nil {
			return err
		}
		defer engine.Shutdown()

		root := engine.Root()
		fmt.Printf("✅ Root certificate active: %s (valid until %d)\n", root.ID, root.ValidUntil)
		fmt.Printf("   DID: %s\n", did.FromHash(identity))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initName, "name", "", "Human-readable CA name")
	initCmd.Flags().StringVar(&initDomain, "domain", "", "Public domain of this instance")
}
