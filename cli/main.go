// Command ytrelay relays videos from supported platforms to YouTube.
package main

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ytrelay/config"
)

var (
	cfgFile string
	userID  string
	cfg     *config.Config

	rootCmd = &cobra.Command{
		Use:   "ytrelay",
		Short: "Relay videos from other platforms to YouTube",
		Long: `ytrelay downloads videos from YouTube, Vimeo, TikTok, direct links
and a dozen other platforms and republishes them to a YouTube channel.
It can also watch source channels and relay their new uploads.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./ytrelay.yaml or $HOME/.config/ytrelay/ytrelay.yaml)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "default", "user the command acts for")

	rootCmd.AddCommand(
		serveCmd,
		transferCmd,
		classifyCmd,
		formatsCmd,
		metadataCmd,
		platformsCmd,
		channelsCmd,
		monitorCmd,
		authCmd,
	)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = c
	return setupLogging(c.Log)
}

func setupLogging(lc config.LogConfig) error {
	level, err := log.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	log.SetLevel(level)
	switch strings.ToLower(lc.Format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("log.format must be text or json, got %q", lc.Format)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
