// ABOUTME: Entry point for the pennyworth finance bot service
// ABOUTME: Wires the ledger, extractor, flow engine, and session registry together

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/pennyworth/pennyworth/internal/admin"
	"github.com/pennyworth/pennyworth/internal/auth"
	"github.com/pennyworth/pennyworth/internal/bot"
	"github.com/pennyworth/pennyworth/internal/config"
	"github.com/pennyworth/pennyworth/internal/convo"
	"github.com/pennyworth/pennyworth/internal/extract"
	"github.com/pennyworth/pennyworth/internal/flow"
	"github.com/pennyworth/pennyworth/internal/logdedupe"
	"github.com/pennyworth/pennyworth/internal/ratelimit"
	"github.com/pennyworth/pennyworth/internal/router"
	"github.com/pennyworth/pennyworth/internal/store"
	"github.com/pennyworth/pennyworth/internal/transport/ws"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _ __   ___ _ __  _ __  _   ___      _____  _ __| |_| |__
 | '_ \ / _ \ '_ \| '_ \| | | \ \ /\ / / _ \| '__| __| '_ \
 | |_) |  __/ | | | | | | |_| |\ V  V / (_) | |  | |_| | | |
 | .__/ \___|_| |_|_| |_|\__, | \_/\_/ \___/|_|   \__|_| |_|
 |_|                     |___/
`

// getConfigPath returns the path to the config file.
// Priority: PENNYWORTH_CONFIG env var > ./config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PENNYWORTH_CONFIG"); envPath != "" {
		return envPath
	}
	return "config.yaml"
}

func main() {
	// Load .env if present; real env always wins.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: pennyworth <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the finance bot service")
		fmt.Println("  token     Generate an admin API token")
		fmt.Println("  version   Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "token":
		err = runToken()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Relay:     %s\n", cfg.Relay.URL)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Admin.Addr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Admin API: %s\n", cfg.Admin.Addr)
	}
	fmt.Println()

	logger.Info("starting pennyworth",
		"config", configPath,
		"relay", cfg.Relay.URL,
		"users", len(cfg.Users),
	)

	ledger, err := store.NewSQLiteLedger(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer ledger.Close()

	extractor, err := extract.New(ctx, extract.Config{
		APIKey:  cfg.Extraction.APIKey,
		Model:   cfg.Extraction.Model,
		BaseURL: cfg.Extraction.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("creating extractor: %w", err)
	}

	sessions := convo.NewStore(cfg.Flows.SessionTTL)
	faults := logdedupe.New(5*time.Minute, 1024)
	engine := flow.NewEngine(sessions, ledger, faults, logger)

	limits := router.Limits{
		TextLimit:      cfg.Limits.TextLimit,
		TextWindow:     cfg.Limits.TextWindow,
		PhotoLimit:     cfg.Limits.PhotoLimit,
		PhotoWindow:    cfg.Limits.PhotoWindow,
		ExtractTimeout: cfg.Extraction.Timeout,
	}
	rt := router.New(engine, sessions, ratelimit.New(), ledger, extractor, limits, faults, logger)

	dialer := ws.NewDialer(cfg.Relay.URL, cfg.Relay.Token, logger)
	recovery := bot.RecoveryConfig{
		InitialBackoff: cfg.Recovery.InitialBackoff,
		MaxBackoff:     cfg.Recovery.MaxBackoff,
		MaxFailures:    cfg.Recovery.MaxFailures,
		FailureWindow:  cfg.Recovery.FailureWindow,
	}
	registry := bot.NewRegistry(dialer, rt, recovery, logger)

	for _, userID := range cfg.Users {
		if err := registry.Start(userID); err != nil {
			logger.Error("starting session", "user_id", userID, "error", err)
		}
	}

	var adminSrv *http.Server
	if cfg.Admin.Addr != "" {
		verifier := auth.NewJWTVerifier([]byte(cfg.Admin.JWTSecret))
		adminSrv = &http.Server{
			Addr:    cfg.Admin.Addr,
			Handler: admin.NewServer(registry, verifier).Handler(),
		}
		go func() {
			logger.Info("admin API listening", "addr", cfg.Admin.Addr)
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin API failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Recovery.ShutdownGrace)
	defer cancel()

	if adminSrv != nil {
		_ = adminSrv.Shutdown(shutdownCtx)
	}
	registry.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
	return nil
}

// runToken generates an admin API token from the configured JWT secret.
func runToken() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Admin.JWTSecret == "" {
		return fmt.Errorf("admin.jwt_secret is not configured")
	}

	ttl := 30 * 24 * time.Hour
	verifier := auth.NewJWTVerifier([]byte(cfg.Admin.JWTSecret))
	token, err := verifier.Generate("admin", ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Println("  Admin token (valid 30 days):")
	fmt.Println(token)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
