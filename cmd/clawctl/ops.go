package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clawlegion/internal/app"
	"clawlegion/internal/capture"
	"clawlegion/internal/chatsync"
	"clawlegion/internal/config"
	"clawlegion/internal/domain"
	"clawlegion/internal/health"
	"clawlegion/internal/server"
)

func healthCmd() *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the web server, API and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				checker := app.HealthChecker(env.Config)
				report := checker.Check(ctx)
				if err := printHealth(report); err != nil {
					return err
				}
				if every <= 0 {
					if report.Status == health.StatusDown {
						return errors.New("system is down")
					}
					return nil
				}
				ticker := time.NewTicker(every)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						if err := printHealth(checker.Check(ctx)); err != nil {
							return err
						}
					}
				}
			})
		},
	}
	cmd.Flags().DurationVar(&every, "watch", 0, "re-check at this interval until interrupted")
	return cmd
}

func printHealth(r health.Report) error {
	if viper.GetBool("json") {
		return printJSON(r)
	}
	tw := newTable(table.Row{"Service", "Status", "Latency", "Message"})
	for _, c := range r.Checks {
		tw.AppendRow(table.Row{c.Name, c.Status, fmt.Sprintf("%dms", c.LatencyMS), c.Message})
	}
	tw.AppendFooter(table.Row{"overall", r.Status, "", fmt.Sprintf("%d/%d healthy", r.Summary.Healthy, r.Summary.Total)})
	tw.Render()
	return nil
}

func recordCmd() *cobra.Command {
	var tf targetFlags
	var out string
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "record <voice|screen>",
		Short: "Record a voice note or the screen, then save or send it",
		Long: `Records until interrupted (Ctrl-C), until --duration elapses or until the
per-mode limit (2m voice, 5m screen). Recording uses ffmpeg.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := capture.Mode(args[0])
			if mode != capture.ModeVoice && mode != capture.ModeScreen {
				return fmt.Errorf("unknown mode %q, want voice or screen", args[0])
			}
			if out == "" && tf.room == "" && tf.agent == "" {
				return errors.New("--out, --room or --agent required")
			}
			return withEnv(context.Background(), func(_ context.Context, env *app.Env) error {
				rec, err := record(cmd.Context(), env, mode, duration)
				if err != nil {
					return err
				}
				// The interrupt that ended the recording must not cancel the upload.
				ctx, cancel := context.WithTimeout(context.Background(), env.Config.Backend.Timeout+30*time.Second)
				defer cancel()
				if out != "" {
					if err := os.WriteFile(out, rec.Data, 0o644); err != nil {
						return err
					}
					fmt.Printf("saved %s (%s, %s)\n", out, rec.MimeType, rec.Duration.Round(time.Second))
				}
				if tf.room == "" && tf.agent == "" {
					return nil
				}
				return sendRecording(ctx, env, &tf, rec)
			})
		},
	}
	tf.bind(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the recording to this file")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long")
	return cmd
}

func record(ctx context.Context, env *app.Env, mode capture.Mode, duration time.Duration) (capture.Recording, error) {
	done := make(chan capture.Recording, 1)
	r := capture.NewRecorder(capture.NewExecPlatform(), mode, capture.Options{
		OnComplete: func(rec capture.Recording) { done <- rec },
		Logger:     env.Logger,
	})
	defer r.Close()
	if err := r.Start(ctx); err != nil {
		return capture.Recording{}, err
	}
	fmt.Fprintf(os.Stderr, "recording %s, press Ctrl-C to stop\n", mode)

	var limit <-chan time.Time
	if duration > 0 {
		t := time.NewTimer(duration)
		defer t.Stop()
		limit = t.C
	}
	select {
	case rec := <-done:
		// hit the per-mode limit
		return rec, nil
	case <-ctx.Done():
	case <-limit:
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := r.Stop(stopCtx)
	if errors.Is(err, capture.ErrNotRecording) {
		select {
		case rec := <-done:
			return rec, nil
		case <-stopCtx.Done():
			return capture.Recording{}, stopCtx.Err()
		}
	}
	return rec, err
}

func sendRecording(ctx context.Context, env *app.Env, tf *targetFlags, rec capture.Recording) error {
	target, err := tf.resolve(ctx, env)
	if err != nil {
		return err
	}
	mimeType, _, err := mime.ParseMediaType(rec.MimeType)
	if err != nil {
		mimeType = rec.MimeType
	}
	kind := domain.AttachmentAudio
	if rec.Mode == capture.ModeScreen {
		kind = domain.AttachmentVideo
	}
	ext := ".webm"
	if _, sub, ok := strings.Cut(mimeType, "/"); ok {
		ext = "." + sub
	}
	name := fmt.Sprintf("%s-%s%s", rec.Mode, time.Now().Format("20060102-150405"), ext)
	att, err := env.Client.Upload(ctx, kind, name, mimeType, bytes.NewReader(rec.Data))
	if err != nil {
		return err
	}
	opts := env.ChatOptions()
	opts.Disabled = true
	s := chatsync.New(env.Client, opts)
	defer s.Close()
	if err := s.SetTarget(ctx, target); err != nil {
		return err
	}
	if _, err := s.Send(ctx, "", []domain.ChatAttachment{att}); err != nil {
		return err
	}
	if err := env.State.SetPreference(ctx, lastTargetKey, target.String()); err != nil {
		env.Logger.Debug("remember chat target", "err", err)
	}
	fmt.Printf("sent %s to %s\n", name, target)
	return nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				cfg := env.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				metrics := server.NewMetrics()
				monitor := server.NewMonitor(app.HealthChecker(cfg), cfg.Health.Interval, metrics, env.Logger)
				go monitor.Run(ctx)

				err := config.Watch(ctx, config.Path(env.Workspace), env.Logger, func(next *config.Config, err error) {
					if err != nil {
						return
					}
					monitor.SetTargets(next.Health.Targets)
					env.Logger.Info("health targets reloaded", "targets", len(next.Health.Targets))
				})
				if err != nil {
					env.Logger.Warn("config watch disabled", "err", err)
				}

				handler, err := server.New(server.Config{
					Agents:   env.Agents,
					Tasks:    env.Client,
					Monitor:  monitor,
					State:    env.State,
					Metrics:  metrics,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret: cfg.Server.JWTSecret,
						APIKey:    cfg.Server.APIKey,
						Logger:    env.Logger,
					},
					Logger: env.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving ClawLegion API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from clawlegion.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from clawlegion.yml)")
	return cmd
}
