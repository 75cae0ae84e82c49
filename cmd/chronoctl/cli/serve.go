package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SiwatS/chronocrypt-kms/internal/audit"
	"github.com/SiwatS/chronocrypt-kms/internal/keyholder"
	"github.com/SiwatS/chronocrypt-kms/internal/server"
	"github.com/SiwatS/chronocrypt-kms/internal/service"
	"github.com/SiwatS/chronocrypt-kms/internal/store"
)

const banner = `
  ___ _  _ ___  ___  _  _  ___   ___ _____   _____ _____
 / __| || | _ \/ _ \| \| |/ _ \ / __| _ \ \ / / _ \_   _|
| (__| __ |   / (_) | .| | (_) | (__|   /\ V /|  _/ | |
 \___|_||_|_|_\\___/|_|\_|\___/ \___|_|_\ |_| |_|   |_|
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the console API server",
		Long:  "Start the HTTP server that exposes the requester, policy, audit, and key-access APIs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging, CORS *)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	st, err := store.NewStore(resolveDataDir())
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()
	logger.Info("store initialized", "path", resolveDataDir())

	sessionTTL := viper.GetDuration("auth.session_ttl")
	if sessionTTL <= 0 {
		sessionTTL = service.DefaultSessionTTL
	}
	sessions := service.NewSessionManager(sessionTTL)
	sessions.StartSweeper(service.DefaultSweepInterval)

	bcryptCost := viper.GetInt("auth.bcrypt_cost")
	authenticator := service.NewAPIKeyAuthenticator(st, logger, bcryptCost)

	khCfg := keyholder.ClientConfig{
		BaseURL: viper.GetString("keyholder.base_url"),
		Secret:  viper.GetString("keyholder.secret"),
		Timeout: viper.GetDuration("keyholder.timeout"),
	}
	if khCfg.BaseURL == "" {
		khCfg.BaseURL = "http://127.0.0.1:9090"
		logger.Warn("keyholder.base_url not configured, using default", "base_url", khCfg.BaseURL)
	}
	if khCfg.Secret == "" {
		logger.Warn("keyholder.secret not configured - delegation requests will be unsigned")
	}
	kh := keyholder.NewClient(khCfg)

	trail := audit.NewTrail(st)
	correlator := audit.NewCorrelator(trail)
	gateway := service.NewAuthorizationGateway(kh, trail, st, logger)

	hasAdmin, err := st.HasAnyAdmin(context.Background())
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - POST /api/v1/system/setup or run: chronoctl admin create")
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	srvCfg.SessionTTL = sessionTTL
	if bcryptCost > 0 {
		srvCfg.BcryptCost = bcryptCost
	}
	if origins := viper.GetStringSlice("server.cors_origins"); len(origins) > 0 && !dev {
		srvCfg.CORSOrigins = origins
	}
	if timeout := viper.GetDuration("server.shutdown_timeout"); timeout > 0 {
		srvCfg.ShutdownTimeout = timeout
	}

	srv := server.New(srvCfg, st, sessions, authenticator, gateway, trail, correlator, kh, logger)

	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Key-holder: %s\n", khCfg.BaseURL)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}
