package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/node"
	"github.com/rudransh-shrivastava/peerdrop/internal/signaling"
)

var (
	messageText  string
	relayOnly    bool
	selfDestruct int
)

const connectTimeout = 15 * time.Second

var sendCmd = &cobra.Command{
	Use:   "send device_id [file]",
	Short: "sends a file or a message to a device",
	Long:  `sends a file to a device over a direct WebRTC channel, falling back to the relay when the channel cannot be opened. With --message a text message is sent instead`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		to := args[0]
		if len(args) == 1 && messageText == "" {
			return fmt.Errorf("either a file or --message is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		entry := logger.Component(log, "send")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg.Client.RelayURL, err = resolveRelay(ctx, cfg, entry)
		if err != nil {
			return err
		}
		apiClient, err := newAPIClient(cfg.Client.RelayURL)
		if err != nil {
			return err
		}

		connected := make(chan struct{}, 1)
		client, err := node.New(node.Options{
			Config:    cfg.Client,
			Logger:    logger.Component(log, "node"),
			API:       apiClient,
			RelayOnly: relayOnly,
			OnState: func(s signaling.State) {
				if s == signaling.StateOpen {
					select {
					case connected <- struct{}{}:
					default:
					}
				}
			},
		})
		if err != nil {
			return err
		}
		client.Start()
		defer client.Stop()

		select {
		case <-connected:
		case <-time.After(connectTimeout):
			return fmt.Errorf("could not connect to relay at %s", cfg.Client.RelayURL)
		case <-ctx.Done():
			return ctx.Err()
		}

		if len(args) == 1 {
			delivery, err := client.SendMessage(ctx, to, messageText)
			if err != nil {
				return err
			}
			fmt.Printf("message delivered via %s\n", delivery)
			return nil
		}

		return sendFile(ctx, client, to, args[1])
	},
}

func sendFile(ctx context.Context, client *node.Client, to, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	out := node.Outgoing{
		Name:     name,
		MimeType: mimeType,
		Size:     info.Size(),
		Content:  file,
	}
	if selfDestruct > 0 {
		out.SelfDestruct = &selfDestruct
	}

	bar := progressbar.DefaultBytes(info.Size(), "sending "+name)
	delivery, err := client.SendFile(ctx, to, out, func(p float64) {
		_ = bar.Set64(int64(p / 100 * float64(info.Size())))
	})
	_ = bar.Finish()
	if err != nil {
		return err
	}
	fmt.Printf("%s delivered via %s\n", name, delivery)
	return nil
}

func init() {
	sendCmd.Flags().StringVarP(&messageText, "message", "m", "", "send a text message instead of a file")
	sendCmd.Flags().BoolVar(&relayOnly, "relay-only", false, "skip the direct channel and send through the relay")
	sendCmd.Flags().IntVar(&selfDestruct, "self-destruct", 0, "seconds until the transfer record expires")
	sendCmd.Flags().BoolVar(&useDiscovery, "discover", false, "find the relay on the local network")
}
