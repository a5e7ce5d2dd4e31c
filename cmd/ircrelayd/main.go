// Command ircrelayd links to every configured IRC network as a services
// server and relays channels between them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/logx"
	"github.com/ircrelay/relayd/internal/netmgr"
	"github.com/ircrelay/relayd/internal/relay"
	"github.com/ircrelay/relayd/internal/security"
	"github.com/ircrelay/relayd/internal/services"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ircrelayd",
	Short: "Multi-network IRC services relayer",
	Long: `ircrelayd connects to several IRC networks at once over their
server-to-server protocols (TS6, InspIRCd, P10, UnrealIRCd, ngIRCd, or a
plain client connection) and relays linked channels between them, cloning
each user onto the remote side.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ircrelayd %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run() error {
	log := logx.New()
	log.Info("starting ircrelayd", "version", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		log.SetLevel(cfg.LogLevel)
	}
	warnBadChannels(cfg, log)

	db, err := relay.Load(cfg.RelayDBPath)
	if err != nil {
		return err
	}
	seedRelayLinks(db, cfg, log)

	bus := hooks.New(log)
	relayMgr := relay.New(db, cfg, log)
	relayMgr.Attach(bus)

	svc := services.New(serviceBots(cfg))
	mgr := netmgr.New(cfg, bus, relayMgr, svc, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP, syscall.SIGUSR1:
			log.Info("rehashing configuration", "path", configPath)
			newCfg, err := config.Reload(configPath)
			if err != nil {
				log.Error("rehash failed, keeping the running configuration", "error", err)
				continue
			}
			warnBadChannels(newCfg, log)
			mgr.Rehash(ctx, newCfg)
		default:
			log.Info("received shutdown signal, disconnecting networks")
			mgr.Shutdown("shutting down")
			cancel()
			if err := db.Save(); err != nil {
				log.Error("saving relay db on shutdown", "error", err)
			}
			log.Info("ircrelayd stopped")
			return nil
		}
	}
	return nil
}

// warnBadChannels flags autojoin channel names a remote IRCd would reject,
// so a typo in the config surfaces at startup instead of as a silent
// failed join during burst.
func warnBadChannels(cfg *config.Config, log *logx.Logger) {
	for i := range cfg.Networks {
		for _, ch := range cfg.Networks[i].Channels {
			if !security.ValidChannelName(ch) {
				log.Warn("invalid channel name in config, it will not be joined",
					"network", cfg.Networks[i].Name, "channel", ch)
			}
		}
	}
}

// seedRelayLinks creates any configured channel links the persisted DB
// doesn't already know, so a fresh deployment can declare its links in
// the config file instead of via admin commands.
func seedRelayLinks(db *relay.DB, cfg *config.Config, log *logx.Logger) {
	for _, e := range cfg.RelayLinks {
		if _, _, ok := db.GetRelay(e.HomeNetwork, e.Channel); !ok {
			entry := db.CreateHome(e.HomeNetwork, e.Channel, e.Creator, e.TS)
			entry.Claim = e.Claim
			entry.BlockedNets = e.BlockedNets
		}
		for _, link := range e.Links {
			net, ch, found := strings.Cut(link, "/")
			if !found || !security.ValidChannelName(ch) {
				log.Warn("invalid relay link in config, skipping", "link", link)
				continue
			}
			db.AddLink(e.HomeNetwork, e.Channel, net, ch)
		}
	}
}

func serviceBots(cfg *config.Config) []services.Bot {
	bots := make([]services.Bot, 0, len(cfg.ServiceBots))
	for _, b := range cfg.ServiceBots {
		bots = append(bots, services.Bot{
			Name:          b.Name,
			Ident:         b.Ident,
			Host:          b.Host,
			ExtraChannels: b.Channels,
			Modes:         b.Modes,
		})
	}
	return bots
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ircrelayd:", err)
		os.Exit(1)
	}
}
