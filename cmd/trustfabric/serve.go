package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"

	"github.com/trustfabric/trustfabric-core/pkg/transport"
	"github.com/trustfabric/trustfabric-core/pkg/wellknown"
)

var (
	serveWeb   string
	servePeers []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run peer sync and root publication",
	Long: `Start the long-running instance services: the libp2p peer transport
with automatic certificate propagation, and optionally the well-known
HTTP endpoint serving the root credential.`,
	Example: `  trustfabric serve --web :8443`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		peers, err := transport.NewLibp2pTransport(rt.log, rt.cfg.ListenAddrs...)
		if err != nil {
			return err
		}
		defer peers.Close()

		info := peers.AddrInfo()
		fmt.Printf("📡 Peer id %s\n", info.ID)
		for _, addr := range info.Addrs {
			fmt.Printf("   listening on %s\n", addr)
		}

		for _, raw := range servePeers {
			var target peer.AddrInfo
			if err := json.Unmarshal([]byte(raw), &target); err != nil {
				return fmt.Errorf("bad --peer %q: %w", raw, err)
			}
			if err := peers.Connect(ctx, target); err != nil {
				rt.log.WithError(err).Warn("peer connect failed")
				continue
			}
			fmt.Printf("🤝 Connected to %s\n", target.ID)
		}

		svc := rt.newPropagation(peers)
		svc.Start()
		defer svc.Stop()

		webAddr := serveWeb
		if webAddr == "" {
			webAddr = rt.cfg.WebListen
		}
		if webAddr != "" {
			handler := wellknown.NewHandler(rt.engine, rt.bridge, rt.log)
			server := &http.Server{Addr: webAddr, Handler: handler.Mux()}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					rt.log.WithError(err).Error("web endpoint failed")
				}
			}()
			defer server.Close()
			fmt.Printf("🌐 Serving root credential on %s%s\n", webAddr, wellknown.RootPath)
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		select {
		case <-ctx.Done():
		case <-stop:
		}
		fmt.Println("shutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveWeb, "web", "", "Listen address for the well-known endpoint (empty to disable)")
	serveCmd.Flags().StringArrayVar(&servePeers, "peer", nil, "Peer AddrInfo JSON to connect to, repeatable")
}
