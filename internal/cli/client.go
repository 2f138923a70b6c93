package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/peerdrop/internal/config"
	"github.com/rudransh-shrivastava/peerdrop/internal/discovery"
	"github.com/rudransh-shrivastava/peerdrop/internal/node"
)

var useDiscovery bool

// resolveRelay picks the relay URL, browsing the LAN when asked to.
func resolveRelay(ctx context.Context, cfg *config.Config, log *logrus.Entry) (string, error) {
	if !useDiscovery {
		return cfg.Client.RelayURL, nil
	}

	relays, err := discovery.Browse(ctx, discovery.Config{
		Service: cfg.Discovery.Service,
		Domain:  cfg.Discovery.Domain,
	})
	if err != nil {
		return "", err
	}
	if len(relays) == 0 {
		return "", errors.New("no relay found on the local network")
	}
	url := relays[0].URL()
	log.WithFields(logrus.Fields{"relay": relays[0].Instance, "url": url}).Info("Discovered relay")
	return url, nil
}

func newAPIClient(relay string) (*node.APIClient, error) {
	base, err := node.APIBaseFromRelay(relay)
	if err != nil {
		return nil, fmt.Errorf("failed to derive API address: %w", err)
	}
	return node.NewAPIClient(base), nil
}
