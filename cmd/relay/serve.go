package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/notify"
	"github.com/dgnsrekt/livetiming-relay/internal/server"
	"github.com/dgnsrekt/livetiming-relay/internal/upstream"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Relay the live upstream feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRelayRuntime(cfg, logger)
			if err != nil {
				return err
			}

			uc := cfg.Upstream
			negotiator := upstream.NewNegotiator(uc.HandshakeTimeout, logger.Named("negotiate"))
			dial := upstream.DialOptions{
				Feeds:            uc.Feeds,
				HandshakeTimeout: uc.HandshakeTimeout,
				IdleTimeout:      uc.IdleTimeout,
			}

			opts := []upstream.Option{
				upstream.WithBackoff(upstream.Backoff{
					Base:        uc.Reconnect.BaseDelay,
					Factor:      uc.Reconnect.Factor,
					Max:         uc.Reconnect.MaxDelay,
					MaxAttempts: uc.Reconnect.MaxAttempts,
				}),
				upstream.WithMetrics(rt.metrics),
				upstream.WithNotifier(notify.New(cfg.Notify.Enabled, cfg.NotifyOptions(), logger.Named("notify"))),
			}
			if uc.PremiumToken != "" {
				opts = append(opts, upstream.WithPremium(
					upstream.NewPremiumTransport(uc.PremiumURL, uc.PremiumToken, negotiator, dial, logger.Named("premium")),
				))
			} else {
				logger.Info("no subscription token, using the common transport only")
			}
			if rt.enricher != nil {
				opts = append(opts, upstream.WithEnricher(rt.enricher))
			}

			common := upstream.NewCommonTransport(uc.CommonURL, negotiator, dial, logger.Named("common"))
			manager := upstream.NewManager(common, rt.pipeline, logger.Named("upstream"), opts...)

			logger.Info("configuration loaded",
				zap.Int("port", cfg.Server.Port),
				zap.String("commonURL", uc.CommonURL),
				zap.Bool("premium", uc.PremiumToken != ""),
				zap.Int("feeds", len(uc.Feeds)),
				zap.Int("maxAttempts", uc.Reconnect.MaxAttempts),
			)

			handler := rt.router("live",
				server.WithUpstream(manager),
				server.WithAdmin(server.NewAdmin(manager, rt.verifier, logger.Named("admin"))),
			)
			return rt.serve(cmd.Context(), handler, manager.Run)
		},
	}
}
