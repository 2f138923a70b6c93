package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/node"
	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/rudransh-shrivastava/peerdrop/internal/transfer"
)

var (
	roomID       string
	roomName     string
	roomPassword string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "connects this device and waits for files and messages",
	Long:  `connects to the relay as this device, optionally joins a room, saves incoming files into the download directory and prints messages`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		entry := logger.Component(log, "listen")

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
		if err := os.MkdirAll(cfg.Client.DownloadDir, 0o755); err != nil {
			return fmt.Errorf("failed to create download dir: %w", err)
		}

		client, err := node.New(node.Options{
			Config:   cfg.Client,
			Logger:   logger.Component(log, "node"),
			API:      apiClient,
			RoomID:   roomID,
			RoomName: roomName,
			Password: roomPassword,
			OnFile: func(f transfer.File) {
				path, err := saveFile(cfg.Client.DownloadDir, f)
				if err != nil {
					entry.WithError(err).WithField("file", f.Name).Error("Failed to save file")
					return
				}
				fmt.Printf("received %s from %s (%d bytes) -> %s\n", f.Name, f.From, len(f.Data), path)
			},
			OnMessage: func(m transfer.Message) {
				fmt.Printf("[%s] %s\n", m.From, m.Content)
			},
			OnRoom: func(r protocol.RoomJoined) {
				if !r.OK {
					entry.WithFields(logrus.Fields{"room": r.RoomID, "reason": r.Error}).Error("Could not join room")
				}
			},
		})
		if err != nil {
			return err
		}

		client.Start()
		defer client.Stop()
		entry.WithFields(logrus.Fields{"device": client.ID(), "relay": cfg.Client.RelayURL}).Info("Listening")

		<-ctx.Done()
		entry.Info("Exiting")
		return nil
	},
}

// saveFile writes f under dir without overwriting existing files.
func saveFile(dir string, f transfer.File) (string, error) {
	name := filepath.Base(f.Name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "download"
	}

	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	path := filepath.Join(dir, name)
	for i := 1; ; i++ {
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			path = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := file.Write(f.Data); err != nil {
			_ = file.Close()
			return "", err
		}
		return path, file.Close()
	}
}

func init() {
	listenCmd.Flags().StringVar(&roomID, "room", "", "room id to join")
	listenCmd.Flags().StringVar(&roomName, "room-name", "", "room name to join or create")
	listenCmd.Flags().StringVar(&roomPassword, "password", "", "room password")
	listenCmd.Flags().BoolVar(&useDiscovery, "discover", false, "find the relay on the local network")
}
