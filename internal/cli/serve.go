package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/KafClaw/threadrelay/internal/audit"
	"github.com/KafClaw/threadrelay/internal/bus"
	"github.com/KafClaw/threadrelay/internal/config"
	"github.com/KafClaw/threadrelay/internal/metrics"
	"github.com/KafClaw/threadrelay/internal/recipients"
	"github.com/KafClaw/threadrelay/internal/relay"
	"github.com/KafClaw/threadrelay/internal/slackbridge"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveSignalNotify = signal.NotifyContext

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay against Slack",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}
	printHeader(cmd.OutOrStdout(), "threadrelay serve")

	ctx, stop := serveSignalNotify(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := slackbridge.NewClient(slackbridge.ClientOptions{
		BotToken:      cfg.Slack.BotToken,
		AppToken:      cfg.Slack.AppToken,
		APIBase:       cfg.Slack.APIBase,
		LookupTimeout: cfg.Relay.LookupTimeout.Std(),
	})
	if err != nil {
		return err
	}
	botUserID := cfg.Slack.BotUserID
	if botUserID == "" {
		if botUserID, err = client.BotUserID(ctx); err != nil {
			return err
		}
	}

	notifier, closeAudit, err := buildNotifier(cfg, client)
	if err != nil {
		return err
	}
	defer closeAudit()

	dispatcher := relay.NewDispatcher(
		recipients.NewResolver(client, cfg.Relay.LookupTimeout.Std()),
		client, store, cfg.Relay.SendTimeout.Std(),
	)
	replies := relay.NewReplyRelay(store, client, relay.ReplyRelayConfig{
		BotUserID: botUserID,
		Notifier:  notifier,
		Policy: relay.NotifyPolicy{
			OriginReplies:     cfg.Audit.NotifyOriginReplies,
			DerivativeReplies: cfg.Audit.NotifyDerivativeReplies,
		},
		SendTimeout:      cfg.Relay.SendTimeout.Std(),
		PermalinkTimeout: cfg.Relay.PermalinkTimeout.Std(),
	})
	svc := relay.NewService(
		recipients.NewExtractor(cfg.Relay.StartMarker, cfg.Relay.EndMarker),
		dispatcher, replies, relay.NewDedupGuard(store), client,
		relay.Options{
			BotUserID:      botUserID,
			OriginChannels: cfg.Slack.OriginChannels,
			DedupOrigins:   cfg.Relay.DedupOrigins,
			SendTimeout:    cfg.Relay.SendTimeout.Std(),
		},
	)

	mb := bus.NewMessageBus(cfg.Relay.QueueSize)
	intake := slackbridge.NewIntake(mb, 0)
	errCh := make(chan error, 2)
	busDone := make(chan error, 1)

	go func() {
		busDone <- mb.Run(ctx, cfg.Relay.Workers, func(ctx context.Context, msg *bus.InboundMessage) error {
			start := time.Now()
			metrics.QueueDepth.Set(float64(mb.InboundSize()))
			res, err := svc.HandleMessage(ctx, msg)
			metrics.Observe(res, err, time.Since(start))
			logResult(msg, res, err)
			return err
		})
	}()

	if cfg.Slack.AppToken != "" {
		runner := slackbridge.NewSocketRunner(client.SocketMode(), intake)
		go func() { errCh <- runner.Run(ctx) }()
	}

	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		srv = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           newServeMux(cfg, mb, intake),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	slog.Info("Relay running",
		"bot_user", botUserID,
		"store", cfg.Store.Driver,
		"socket_mode", cfg.Slack.AppToken != "",
		"listen", cfg.Server.ListenAddr,
		"workers", cfg.Relay.Workers)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
	}
	stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	// In-flight handlers finish before the deferred store and audit closes.
	if err := <-busDone; err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
		runErr = err
	}
	slog.Info("Relay stopped")
	return runErr
}

func buildNotifier(cfg *config.Config, poster audit.Poster) (audit.Notifier, func(), error) {
	noop := func() {}
	if !cfg.Audit.Enabled {
		return nil, noop, nil
	}
	var sinks audit.Multi
	if cfg.Audit.Channel != "" {
		sinks = append(sinks, audit.NewChannelNotifier(poster, cfg.Audit.Channel))
	}
	closer := noop
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := audit.NewKafkaNotifier(strings.Join(cfg.Kafka.Brokers, ","), cfg.Kafka.Topic)
		if err != nil {
			return nil, noop, err
		}
		sinks = append(sinks, k)
		closer = func() {
			if err := k.Close(); err != nil {
				slog.Warn("Kafka audit writer close failed", "error", err)
			}
		}
	}
	if len(sinks) == 0 {
		return nil, closer, nil
	}
	return sinks, closer, nil
}

func newServeMux(cfg *config.Config, mb *bus.MessageBus, intake *slackbridge.Intake) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		running := mb.Running()
		w.Header().Set("Content-Type", "application/json")
		if !running {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		workers, idle := mb.Workers()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":           running,
			"version":      version,
			"queued":       mb.InboundSize(),
			"workers":      workers,
			"idle_workers": idle,
		})
	})
	mux.Handle("/metrics", promhttp.Handler())
	if cfg.Slack.SigningSecret != "" {
		mux.Handle(cfg.Server.EventsPath, slackbridge.NewEventsHandler(cfg.Slack.SigningSecret, intake))
	}
	return mux
}

func logResult(msg *bus.InboundMessage, res relay.Result, err error) {
	log := slog.With("trace_id", msg.TraceID, "event_id", msg.EventID, "channel", msg.ChannelID, "ts", msg.TS)
	switch {
	case err != nil:
		log.Error("Message handling failed", "kind", res.Kind, "error", err)
	case res.Routing != nil && !res.Routing.Routable:
		log.Debug("Origin has no recipient block")
	case res.Routing != nil:
		log.Info("Origin routed",
			"duplicate", res.Routing.Duplicate,
			"delivered", len(res.Routing.Delivered),
			"unresolved", len(res.Routing.Unresolved))
	case res.Relay != nil:
		log.Info("Reply relayed", "outcome", res.Relay.String())
	default:
		log.Debug("Message ignored")
	}
}
