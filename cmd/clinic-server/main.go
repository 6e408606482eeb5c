package main

import (
	"context"
	crypto_rand "crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vitalcare/clinic/internal/config"
	"github.com/vitalcare/clinic/internal/domain/identity"
	"github.com/vitalcare/clinic/internal/domain/recommendation"
	"github.com/vitalcare/clinic/internal/domain/vitals"
	"github.com/vitalcare/clinic/internal/platform/auth"
	"github.com/vitalcare/clinic/internal/platform/db"
	"github.com/vitalcare/clinic/internal/platform/llm"
	"github.com/vitalcare/clinic/internal/platform/middleware"
	"github.com/vitalcare/clinic/internal/platform/respcache"
	"github.com/vitalcare/clinic/migrations"
)

const tokenIssuer = "clinic-server"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic vital-sign API with LLM recommendations",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(adminCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// connect loads the configuration and opens a pool for one-shot commands.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func newMigrator(pool *pgxpool.Pool, dir string) *db.Migrator {
	if dir == "" {
		return db.NewMigratorFS(pool, migrations.FS)
	}
	return db.NewMigrator(pool, dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := newMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded migrations)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := newMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			name, _ := cmd.Flags().GetString("name")
			nationalID, _ := cmd.Flags().GetString("national-id")

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			admin := &identity.Clinician{
				Email:      email,
				Password:   password,
				FullName:   name,
				NationalID: nationalID,
			}
			if err := identityService(cfg, pool, auth.JWTConfig{Issuer: tokenIssuer}).CreateAdmin(ctx, admin); err != nil {
				return err
			}
			fmt.Printf("Administrator %s created (id %s).\n", admin.Email, admin.ID)
			return nil
		},
	}
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("password", "", "Initial password")
	createCmd.Flags().String("name", "", "Full name")
	createCmd.Flags().String("national-id", "", "10-digit national id")
	for _, f := range []string{"email", "password", "name", "national-id"} {
		_ = createCmd.MarkFlagRequired(f)
	}
	cmd.AddCommand(createCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an administrator by email",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := identityService(cfg, pool, auth.JWTConfig{Issuer: tokenIssuer}).DeleteAdmin(ctx, email); err != nil {
				return fmt.Errorf("delete %s: %w", email, err)
			}
			fmt.Printf("Administrator %s deleted.\n", email)
			return nil
		},
	}
	deleteCmd.Flags().String("email", "", "Login email")
	_ = deleteCmd.MarkFlagRequired("email")
	cmd.AddCommand(deleteCmd)

	return cmd
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// jwtConfig signs with JWT_SECRET. A development server without one gets a
// random key, so its tokens do not survive a restart.
func jwtConfig(cfg *config.Config) (auth.JWTConfig, error) {
	key := []byte(cfg.JWTSecret)
	if len(key) == 0 {
		if !cfg.IsDev() {
			return auth.JWTConfig{}, fmt.Errorf("JWT_SECRET is required")
		}
		key = make([]byte, 32)
		if _, err := crypto_rand.Read(key); err != nil {
			return auth.JWTConfig{}, fmt.Errorf("generate signing key: %w", err)
		}
	}
	return auth.JWTConfig{Issuer: tokenIssuer, SigningKey: key}, nil
}

// identityService wires the Postgres repositories. The admin commands never
// issue tokens and pass a config without a signing key.
func identityService(cfg *config.Config, pool *pgxpool.Pool, jwtCfg auth.JWTConfig) *identity.Service {
	return identity.NewService(
		identity.NewClinicianRepo(pool),
		identity.NewPatientRepo(pool),
		auth.NewTokenIssuer(jwtCfg, cfg.JWTTTL),
	)
}

func generationOptions(g config.GenerationOptions) llm.Options {
	return llm.Options{
		NumPredict:    g.NumPredict,
		Temperature:   g.Temperature,
		NumCtx:        g.NumCtx,
		TopP:          g.TopP,
		TopK:          g.TopK,
		RepeatPenalty: g.RepeatPenalty,
		NumThread:     g.NumThread,
	}
}

func newEngine(cfg *config.Config) llm.Engine {
	if cfg.LLMProvider == "openai" {
		return llm.NewOpenAICompatible(llm.OpenAIConfig{
			BaseURL: cfg.LLMBaseURL,
			APIKey:  cfg.LLMAPIKey,
		})
	}
	return llm.NewOllama(llm.OllamaConfig{
		BaseURL:      cfg.LLMBaseURL,
		KeepAlive:    cfg.LLMKeepAlive,
		MaxIdleConns: cfg.LLMMaxIdleConns,
	})
}

func gatewayConfig(cfg *config.Config) recommendation.Config {
	return recommendation.Config{
		Model:         cfg.LLMModel,
		Provider:      cfg.LLMProvider,
		EngineVersion: cfg.LLMEngineVersion,
		ProbeTimeout:  cfg.LLMProbeTimeout,
		TimeoutFast:   cfg.UpstreamTimeout(true),
		TimeoutSlow:   cfg.UpstreamTimeout(false),
		Fast:          generationOptions(cfg.Generation(true)),
		Slow:          generationOptions(cfg.Generation(false)),
	}
}

func newRecommendationService(cfg *config.Config, logger zerolog.Logger) *recommendation.Service {
	cache := respcache.New[recommendation.Payload](respcache.Config{
		Name:        "recommendation",
		MaxEntries:  cfg.LLMCacheMaxEntries,
		DefaultTTL:  cfg.LLMCacheTTL,
		MaxInflight: cfg.LLMMaxInflight,
	})
	return recommendation.NewService(newEngine(cfg), cache, gatewayConfig(cfg), logger)
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV") == "development")

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	jwtCfg, err := jwtConfig(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid auth config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(echomw.BodyLimit("1M"))

	// Auth middleware
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}

	// API groups
	public := e.Group("/api/v1")
	api := e.Group("/api/v1", authMW, middleware.Audit(logger), middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))

	// Recommendation gateway
	recSvc := newRecommendationService(cfg, logger)
	recommendation.NewHandler(recSvc).RegisterRoutes(api, public)
	logger.Info().Str("engine", recSvc.EngineName()).Str("model", cfg.LLMModel).Msg("recommendation gateway ready")

	// Identity
	identitySvc := identityService(cfg, pool, jwtCfg)
	identity.NewHandler(identitySvc).RegisterRoutes(api, public)

	// Vital signs
	vitalsSvc := vitals.NewService(vitals.NewRepo(pool), identitySvc)
	vitals.NewHandler(vitalsSvc).RegisterRoutes(api)

	// Ops
	e.GET("/health", db.HealthHandler(pool, db.HealthCheck{
		Name:     "llm",
		Optional: true,
		Check:    recSvc.Check,
	}))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
