package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/snaplinkhq/snaplink/internal/extract"
	"github.com/snaplinkhq/snaplink/internal/messaging"
	"github.com/snaplinkhq/snaplink/internal/server"
	"github.com/snaplinkhq/snaplink/internal/service"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Snaplink API server",
		Long:  "Start the HTTP server that exposes the media, tools, account, and admin APIs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store initialized", "path", resolveDataDir())

	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		if !dev {
			return fmt.Errorf("auth.jwt_secret is required (set SNAPLINK_AUTH_JWT_SECRET)")
		}
		jwtSecret = "snaplink-dev-secret-change-me"
		logger.Warn("using built-in dev JWT secret")
	}

	viper.SetDefault("quota.daily_limit", 100)
	viper.SetDefault("quota.key_rate_limit", 60)
	dailyLimit := viper.GetInt("quota.daily_limit")
	keyRPM := viper.GetInt("quota.key_rate_limit")

	authSvc := service.NewAuthService(st, jwtSecret, dailyLimit, keyRPM)

	extractors := extract.NewRegistry()
	extract.RegisterDefaults(extractors, viper.GetString("media.graph_token"))
	logger.Info("extractors registered", "platforms", extractors.Platforms())

	// No messaging transport ships by default; the registry answers 503
	// until a dialer is configured.
	sessions := messaging.NewRegistry(nil)

	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	srvCfg.KeyRateLimit = keyRPM
	srvCfg.ShutdownTimeout = 30 * time.Second
	if baseURL := viper.GetString("server.base_url"); baseURL != "" {
		srvCfg.BaseURL = baseURL
	}
	if origins := viper.GetStringSlice("server.cors_origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}

	srv := server.New(srvCfg, st, authSvc, extractors, sessions, logger)

	fmt.Printf("→ Snaplink listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Health: http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}
