package cli

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/peerdrop/internal/api"
	"github.com/rudransh-shrivastava/peerdrop/internal/discovery"
	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/mirror"
	"github.com/rudransh-shrivastava/peerdrop/internal/relay"
	"github.com/rudransh-shrivastava/peerdrop/internal/store"
)

var listenAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "runs the signaling relay and REST API",
	Long:  `runs the relay: WebSocket signaling, the REST API, and optionally the database mirror and LAN announcement`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.Relay.Addr = listenAddr
		}
		log := newLogger(cfg)

		bus := EventBus.New()
		st, err := store.NewMemoryStore(store.WithBus(bus))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Mirror.Enabled {
			db, err := mirror.Open(cfg.Mirror.Driver, cfg.Mirror.DSN)
			if err != nil {
				return err
			}
			m := mirror.New(db, bus, st, logger.Component(log, "mirror"))
			if err := m.Start(cfg.Mirror.Reconcile); err != nil {
				return err
			}
			defer m.Stop()
		}

		rs, err := relay.NewServer(relay.Config{
			OutboxSize:     cfg.Relay.OutboxSize,
			AllowedOrigins: cfg.Relay.AllowedOrigins,
			Logger:         logger.Component(log, "relay"),
			Store:          st,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := rs.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("Relay loop failed")
			}
		}()

		srv := api.NewServer(st, logger.Component(log, "api"))
		srv.Mount(cfg.Relay.Path, rs)

		if cfg.Discovery.Enabled {
			if a, err := announce(cfg.Relay.Addr, cfg.Relay.Path, cfg.Discovery.Service, cfg.Discovery.Domain); err != nil {
				log.WithError(err).Warn("LAN announcement disabled")
			} else {
				defer a.Stop()
			}
		}

		errc := make(chan error, 1)
		go func() { errc <- srv.Start(cfg.Relay.Addr) }()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		log.Info("Shutting down relay")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func announce(addr, path, service, domain string) (*discovery.Announcer, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	host, err := os.Hostname()
	if err != nil {
		host = "peerdrop"
	}
	return discovery.Announce(discovery.Config{
		Service:  service,
		Domain:   domain,
		Instance: "peerdrop relay on " + host,
		Port:     port,
		Path:     path,
	})
}

func init() {
	relayCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address (default from config, :8080)")
}
