// Command allfixer runs the AllFixer marketplace API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"allfixer/agreement"
	"allfixer/auth"
	"allfixer/blob"
	"allfixer/chat"
	"allfixer/config"
	"allfixer/db"
	"allfixer/listing"
	"allfixer/metrics"
	"allfixer/notify"
	"allfixer/profile"
	"allfixer/review"
)

const (
	appName         = "allfixer"
	version         = "0.1.0"
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "AllFixer marketplace API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(serveCmd(), migrateCmd(), adminCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, version)
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := setupLogger(cfg)

			pool, err := db.NewPool(cmd.Context(), cfg.DB)
			if err != nil {
				return fmt.Errorf("bootstrap database pool: %w", err)
			}
			defer pool.Close()

			if err := db.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

func adminCmd() *cobra.Command {
	var req auth.RegisterRequest

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			setupLogger(cfg)

			pool, err := db.NewPool(cmd.Context(), cfg.DB)
			if err != nil {
				return fmt.Errorf("bootstrap database pool: %w", err)
			}
			defer pool.Close()

			user, err := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret).CreateAdmin(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}
	create.Flags().StringVar(&req.Email, "email", "", "admin email")
	create.Flags().StringVar(&req.Password, "password", "", "admin password")
	create.Flags().StringVar(&req.DisplayName, "name", "Administrator", "display name")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	cmd := &cobra.Command{Use: "admin", Short: "Administrative tasks"}
	cmd.AddCommand(create)
	return cmd
}

func serve(ctx context.Context, migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(cfg)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	pool, err := db.NewPool(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	if migrate {
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	notifier, closeNotifier, err := newNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	m := metrics.New()
	users := auth.NewRepository(pool)

	handshakes := agreement.NewService(agreement.NewRepository(pool)).
		WithNotifier(notifier).
		WithMetrics(m).
		WithLogger(logger).
		WithMaxRetries(cfg.Handshake.MaxRetries)
	chats := chat.NewService(chat.NewRepository(pool).WithLogger(logger)).
		WithNotifier(notifier).
		WithDirectory(users).
		WithMetrics(m).
		WithLogger(logger)
	feed := chat.NewFeed(chats, notifier).WithMetrics(m).WithLogger(logger)
	reviews := review.NewService(review.NewRepository(pool), handshakes).
		WithNotifier(notifier).
		WithMetrics(m).
		WithLogger(logger)

	blobs, err := blob.NewFSStore(cfg.Blob.Dir, cfg.Blob.BaseURL)
	if err != nil {
		return err
	}

	srv := &Server{
		authService:      auth.NewService(users, cfg.JWTSecret),
		chatService:      chats,
		chatFeed:         feed,
		handshakeService: handshakes,
		reviewService:    reviews,
		profileService:   profile.NewService(profile.NewRepository(pool)),
		listingService:   listing.NewService(listing.NewRepository(pool)).WithLogger(logger),
		blobStore:        blobs,
		blobDir:          blobs.Dir(),
		metricsHandler:   m.Handler(),
		ready:            pool.Ping,
		logger:           logger,
	}

	httpServer := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", httpServer.Addr, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newNotifier picks the first configured broker (NATS, then Redis, then
// AMQP) and falls back to the in-process hub.
func newNotifier(ctx context.Context, cfg config.Config, logger *slog.Logger) (notify.Notifier, func(), error) {
	switch {
	case cfg.NATS.Enabled():
		conn, err := notify.Connect(cfg.NATS.URL, appName)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		logger.Info("nats connected", "url", conn.ConnectedUrlRedacted())
		return notify.NewNATS(conn, cfg.NATS.Prefix).WithLogger(logger), func() { _ = conn.Drain() }, nil
	case cfg.Redis.Enabled():
		client, err := notify.ConnectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("redis connected", "prefix", cfg.Redis.Prefix)
		return notify.NewRedis(client, cfg.Redis.Prefix).WithLogger(logger), func() { _ = client.Close() }, nil
	case cfg.AMQP.Enabled():
		broker, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return nil, nil, fmt.Errorf("connect amqp: %w", err)
		}
		logger.Info("amqp connected", "exchange", cfg.AMQP.Exchange)
		return broker.WithLogger(logger), func() { _ = broker.Close() }, nil
	}
	local := notify.NewLocal()
	return local, local.Close, nil
}
