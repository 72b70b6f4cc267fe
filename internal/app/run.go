// Package app wires the configured collaborators into a running relay
// session and drives the terminal front end on top of it.
package app

import (
	"context"
	"time"

	"github.com/hvdkamer/relaydesk/internal/client"
	"github.com/hvdkamer/relaydesk/internal/config"
	"github.com/hvdkamer/relaydesk/internal/history"
	"github.com/hvdkamer/relaydesk/internal/logger"
	"github.com/hvdkamer/relaydesk/internal/media"
)

type Options struct {
	CfgPath string
	Cfg     config.Config
}

// Run builds the session from the config and blocks until ctx is cancelled
// or the relay link is lost for good.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	// ── REST collaborator
	var hist *history.Client
	if base := cfg.HistoryURL(); base != "" {
		hist = history.NewClient(base, cfg.Relay.Token)
		logger.Infof("history endpoint: %s", base)
	} else {
		logger.Warnf("no history endpoint; transcripts and uploads disabled")
	}

	// ── Media provider
	provider := media.NewProvider(media.Config{
		StunURLs:      cfg.Media.StunURLs,
		PreferredCam:  cfg.Media.PreferredCam,
		PreferredMic:  cfg.Media.PreferredMic,
		VideoDisabled: cfg.Media.VideoDisabled,
	})

	// ── Relay session
	sess := client.New(client.Options{
		RelayURL:         cfg.Relay.URL,
		Token:            cfg.Relay.Token,
		PingInterval:     time.Duration(cfg.Relay.PingIntervalSec) * time.Second,
		History:          hist,
		Media:            provider,
		AutoSelectRecent: cfg.Client.AutoSelectRecent,
		MaxItems:         cfg.Client.MaxItems,
		HistoryLimit:     cfg.Client.HistoryLimit,
	})

	// ── Config hot reload
	w, err := config.Watch(opt.CfgPath, func(next config.Config) {
		if err := logger.SetLevel(next.Log.Level); err != nil {
			logger.Warnf("log level %q not applied: %v", next.Log.Level, err)
		}
		sess.SetAutoSelect(next.Client.AutoSelectRecent)
		if next.Relay != cfg.Relay {
			logger.Warnf("relay settings changed; restart to apply")
		}
	})
	if err != nil {
		logger.Warnf("config watch disabled: %v", err)
	} else {
		defer w.Close()
	}

	// ── Terminal front end
	ui := newConsole(sess)
	go ui.renderEvents()
	go ui.readInput()

	return sess.Run(ctx)
}
