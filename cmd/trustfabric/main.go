// Package main is the entry point for the trustfabric CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/trustfabric/trustfabric-core/pkg/audit"
	"github.com/trustfabric/trustfabric-core/pkg/ca"
	"github.com/trustfabric/trustfabric-core/pkg/config"
	"github.com/trustfabric/trustfabric-core/pkg/keychain"
	"github.com/trustfabric/trustfabric-core/pkg/propagation"
	"github.com/trustfabric/trustfabric-core/pkg/store"
	"github.com/trustfabric/trustfabric-core/pkg/transport"
	"github.com/trustfabric/trustfabric-core/pkg/vc"
)

var (
	flagConfig  string
	flagDataDir string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "trustfabric",
	Short: "Decentralized certificate authority and trust fabric",
	Long: `Every instance is its own certificate authority. trustfabric manages
the instance root, issues and revokes certificates, exchanges them with
peers, and evaluates trust across the social graph.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Override the data directory")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}

// runtime bundles the opened instance components the commands share.
type runtime struct {
	cfg     config.Config
	log     *logrus.Logger
	objects store.ObjectStore
	keys    *keychain.FileKeychain
	known   *keychain.DirectoryKnownKeys
	auditor *audit.FileLog
	engine  *ca.Engine
	bridge  *vc.Bridge
}

// openRuntime loads config, opens storage and keys, and brings the CA
// engine to ready. Fails when no identity key exists yet; run init first.
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}

	log := logrus.New()
	if flagVerbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}

	keys, err := keychain.NewFileKeychain(cfg.KeychainDir())
	if err != nil {
		return nil, err
	}
	identities, err := keys.Identities()
	if err != nil {
		return nil, err
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identity key found, run 'trustfabric init' first")
	}
	identity := identities[0]

	known, err := keychain.NewDirectoryKnownKeys(cfg.DataDir + "/known")
	if err != nil {
		return nil, err
	}

	objects, err := store.NewBadgerStore(store.BadgerConfig{Path: cfg.StoreDir(), Logger: log})
	if err != nil {
		return nil, err
	}
	auditor, err := audit.NewFileLog(cfg.AuditDir())
	if err != nil {
		objects.Close()
		return nil, err
	}

	engine := ca.New(ca.Config{
		Name:         cfg.Name,
		Domain:       cfg.Domain,
		Identity:     identity,
		RootValidity: cfg.RootValidity,
		Logger:       log,
	}, objects, keys, auditor)
	if err := engine.Init(ctx); err != nil {
		objects.Close()
		return nil, err
	}

	return &runtime{
		cfg:     cfg,
		log:     log,
		objects: objects,
		keys:    keys,
		known:   known,
		auditor: auditor,
		engine:  engine,
		bridge:  vc.NewBridge(&keyResolver{keys: keys, known: known}),
	}, nil
}

// newPropagation wires a propagation service over the opened components.
// peers may be nil for export/import-only use.
func (r *runtime) newPropagation(peers transport.PeerTransport) *propagation.Service {
	return propagation.NewService(propagation.Config{
		Actor:       r.engine.Identity(),
		BaseBackoff: r.cfg.SyncBaseBackoff,
		MaxBackoff:  r.cfg.SyncMaxBackoff,
		HTTPTimeout: r.cfg.ExportTimeout,
		Logger:      r.log,
	}, r.objects, r.bridge, r.engine, peers, r.auditor)
}

func (r *runtime) close() {
	r.engine.Shutdown()
	if err := r.objects.Close(); err != nil {
		r.log.WithError(err).Warn("store close failed")
	}
}

// keyResolver answers key lookups from our own keychain first, then the
// known-keys directory.
type keyResolver struct {
	keys  *keychain.FileKeychain
	known *keychain.DirectoryKnownKeys
}

func (k *keyResolver) ResolveKey(ctx context.Context, identity string) (string, error) {
	if pub, err := k.keys.PublicKey(ctx, identity); err == nil {
		return pub, nil
	}
	return k.known.ResolveKey(ctx, identity)
}
