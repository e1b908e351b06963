package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"go.etcd.io/bbolt"

	"github.com/zombor/fintrack/internal/auth"
	"github.com/zombor/fintrack/internal/database"
	"github.com/zombor/fintrack/internal/logging"
	"github.com/zombor/fintrack/internal/receipt"
	"github.com/zombor/fintrack/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// config holds the parsed flags; each flag can also be set as FINTRACK_<NAME>
type config struct {
	port             int
	dbDriver         string
	dbPath           string
	databaseURL      string
	storageDriver    string
	storagePath      string
	storagePublicURL string
	s3               receipt.S3Config
	scannerType      string
	geminiKey        string
	geminiModel      string
	ollamaURL        string
	ollamaModel      string
	warnItemMismatch bool
	sessionTTL       time.Duration
	cookieSecure     bool
	trustProxy       bool
	draftMaxAge      time.Duration
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("fintrack")
	var (
		port             = fs.IntLong("port", 8080, "HTTP server port")
		logLevel         = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat        = fs.StringLong("log-format", "text", "Log format: text or json")
		dbDriver         = fs.StringLong("db-driver", "bolt", "Database driver: 'bolt' or 'postgres'")
		dbPath           = fs.StringLong("db", "fintrack.db", "Bolt database file path")
		databaseURL      = fs.StringLong("database-url", "", "PostgreSQL connection URL")
		storageDriver    = fs.StringLong("storage-driver", "local", "Image storage: 'local' or 's3'")
		storagePath      = fs.StringLong("storage-path", "./receipt-images", "Local image storage directory")
		storagePublicURL = fs.StringLong("storage-public-url", "", "Public base URL for locally stored images (optional)")
		s3Endpoint       = fs.StringLong("s3-endpoint", "", "S3-compatible endpoint URL")
		s3Bucket         = fs.StringLong("s3-bucket", receipt.DefaultBucket, "S3 bucket for receipt images")
		s3Region         = fs.StringLong("s3-region", "us-east-1", "S3 region")
		s3AccessKey      = fs.StringLong("s3-access-key", "", "S3 access key")
		s3SecretKey      = fs.StringLong("s3-secret-key", "", "S3 secret key")
		s3PublicURL      = fs.StringLong("s3-public-url", "", "Public base URL for the bucket (optional)")
		scannerType      = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey        = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel      = fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL        = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel      = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		warnItemMismatch = fs.BoolLong("warn-item-mismatch", "Warn when line items do not add up to the total")
		sessionTTL       = fs.DurationLong("session-ttl", 30*24*time.Hour, "Session lifetime")
		cookieSecure     = fs.BoolLong("cookie-secure", "Only send the session cookie over HTTPS")
		trustProxy       = fs.BoolLong("trust-proxy-headers", "Take client IPs from CF-Connecting-IP/X-Forwarded-For (only behind a proxy)")
		draftMaxAge      = fs.DurationLong("draft-max-age", 24*time.Hour, "Discard unfinished drafts idle for this long")
		showVersion      = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("FINTRACK"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg := config{
		port:             *port,
		dbDriver:         *dbDriver,
		dbPath:           *dbPath,
		databaseURL:      *databaseURL,
		storageDriver:    *storageDriver,
		storagePath:      *storagePath,
		storagePublicURL: *storagePublicURL,
		s3: receipt.S3Config{
			Endpoint:  *s3Endpoint,
			Bucket:    *s3Bucket,
			Region:    *s3Region,
			AccessKey: *s3AccessKey,
			SecretKey: *s3SecretKey,
			PublicURL: *s3PublicURL,
		},
		scannerType:      *scannerType,
		geminiKey:        *geminiKey,
		geminiModel:      *geminiModel,
		ollamaURL:        *ollamaURL,
		ollamaModel:      *ollamaModel,
		warnItemMismatch: *warnItemMismatch,
		sessionTTL:       *sessionTTL,
		cookieSecure:     *cookieSecure,
		trustProxy:       *trustProxy,
		draftMaxAge:      *draftMaxAge,
	}

	logger := logging.Setup(*logLevel, *logFormat)

	if err := run(cfg, logger); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	receiptDB, authStore, closeDB, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	scanner, err := newScanner(ctx, cfg)
	if err != nil {
		return err
	}
	defer scanner.Close()

	store, err := newStorage(cfg)
	if err != nil {
		return err
	}

	receiptService := receipt.NewService(receiptDB, scanner, store)
	receiptService.WarnOnItemMismatch(cfg.warnItemMismatch)
	authService := auth.NewService(authStore, cfg.sessionTTL)

	limiter := auth.NewRateLimiter(12*time.Second, 5)
	server := receipt.NewServer(receiptService, authService, receipt.NewDraftStore(), receipt.Options{
		CookieSecure:      cfg.cookieSecure,
		Limiter:           limiter,
		Logger:            logger,
		TrustProxyHeaders: cfg.trustProxy,
	})

	go sweep(ctx, server.Drafts(), limiter, authService, cfg.draftMaxAge)

	addr := fmt.Sprintf(":%d", cfg.port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(addr)
	}()
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// openDatabase returns the receipt and auth stores for the configured driver
// along with a function that releases them.
func openDatabase(ctx context.Context, cfg config) (receipt.DB, auth.Store, func(), error) {
	switch cfg.dbDriver {
	case "bolt":
		slog.Info("Initializing database...", "driver", "bolt", "path", cfg.dbPath)
		bolt, err := database.OpenBolt(cfg.dbPath)
		if err != nil {
			return nil, nil, nil, err
		}
		receiptDB, authStore, err := boltStores(bolt)
		if err != nil {
			bolt.Close()
			return nil, nil, nil, err
		}
		return receiptDB, authStore, func() { bolt.Close() }, nil
	case "postgres":
		if cfg.databaseURL == "" {
			return nil, nil, nil, errors.New("--database-url is required for the postgres driver")
		}
		slog.Info("Initializing database...", "driver", "postgres")
		if err := database.Migrate(cfg.databaseURL); err != nil {
			return nil, nil, nil, err
		}
		pool, err := database.ConnectPostgres(ctx, cfg.databaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return receipt.NewPostgres(pool), auth.NewPostgresStore(pool), pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("invalid db driver %q (valid: bolt or postgres)", cfg.dbDriver)
	}
}

func boltStores(bolt *bbolt.DB) (*receipt.BoltDB, *auth.BoltStore, error) {
	receiptDB, err := receipt.NewBoltDB(bolt)
	if err != nil {
		return nil, nil, err
	}
	authStore, err := auth.NewBoltStore(bolt)
	if err != nil {
		return nil, nil, err
	}
	return receiptDB, authStore, nil
}

func newScanner(ctx context.Context, cfg config) (scanning.Scanner, error) {
	switch cfg.scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", cfg.geminiModel)
		return scanning.NewGemini(ctx, apiKey, cfg.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid scanner type %q (valid: gemini or ollama)", cfg.scannerType)
	}
}

func newStorage(cfg config) (receipt.Storage, error) {
	switch cfg.storageDriver {
	case "local":
		slog.Info("Initializing storage...", "driver", "local", "path", cfg.storagePath)
		return receipt.NewLocalStorage(cfg.storagePath, cfg.storagePublicURL)
	case "s3":
		slog.Info("Initializing storage...", "driver", "s3", "endpoint", cfg.s3.Endpoint, "bucket", cfg.s3.Bucket)
		return receipt.NewS3Storage(cfg.s3)
	default:
		return nil, fmt.Errorf("invalid storage driver %q (valid: local or s3)", cfg.storageDriver)
	}
}

// sweep drops idle drafts, expired sessions and rate limiter entries until ctx is done
func sweep(ctx context.Context, drafts *receipt.DraftStore, limiter *auth.RateLimiter, sessions *auth.Service, maxAge time.Duration) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := drafts.Prune(maxAge); n > 0 {
				slog.Debug("Pruned idle drafts", "count", n)
			}
			if n, err := sessions.PruneSessions(ctx); err != nil {
				slog.Warn("Failed to prune expired sessions", "error", err)
			} else if n > 0 {
				slog.Debug("Pruned expired sessions", "count", n)
			}
			limiter.Cleanup(time.Hour)
		}
	}
}
