package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/replay"
)

func replayCmd() *cobra.Command {
	var (
		file        string
		fastForward time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Serve a recorded session from an NDJSON log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = cfg.Replay.File
			}
			if file == "" {
				return fmt.Errorf("no replay file: pass --file or set REPLAY_FILE")
			}
			if !cmd.Flags().Changed("fast-forward") {
				fastForward = cfg.Replay.FastForward()
			}

			start := time.Now()
			log, err := replay.Load(file, logger.Named("replay"))
			if err != nil {
				return fmt.Errorf("loading replay: %w", err)
			}
			logger.Info("replay loaded",
				zap.String("file", file),
				zap.Int("frames", len(log.Frames)),
				zap.Int("skipped", log.Skipped),
				zap.Duration("fastForward", fastForward),
				zap.Duration("duration", time.Since(start)),
			)

			rt, err := newRelayRuntime(cfg, logger)
			if err != nil {
				return err
			}

			opts := []replay.Option{replay.WithMetrics(rt.metrics)}
			if rt.enricher != nil {
				opts = append(opts, replay.WithEnricher(rt.enricher))
			}
			engine := replay.NewEngine(log, rt.pipeline, fastForward, logger.Named("replay"), opts...)

			// The engine returns once the log is exhausted; keep serving the
			// final state until shutdown.
			producer := func(ctx context.Context) error {
				if err := engine.Run(ctx); err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			}
			return rt.serve(cmd.Context(), rt.router("replay"), producer)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "replay log path (.ndjson or .ndjson.zst)")
	cmd.Flags().DurationVar(&fastForward, "fast-forward", 0, "skip this much of the session at startup")

	return cmd
}
