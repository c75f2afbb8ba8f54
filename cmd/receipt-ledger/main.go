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

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/moromii/receipt-ledger/internal/expense"
	"github.com/moromii/receipt-ledger/internal/ocr"
	"github.com/moromii/receipt-ledger/internal/session"
	"github.com/moromii/receipt-ledger/internal/syncer"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// Local .env is optional
	_ = godotenv.Load()

	fs := ff.NewFlagSet("receipt-ledger")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbPath       = fs.StringLong("db", "receipt-ledger.db", "Database file path")
		storagePath  = fs.StringLong("storage", "./receipts", "Storage directory path")
		ocrProvider  = fs.StringLong("ocr", "gemini", "OCR provider: 'gemini' or 'ollama'")
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		clientSecret = fs.StringLong("client-secret", "", "OAuth client secret JSON file for Drive sync (optional)")
		tokenFile    = fs.StringLong("token-file", "token.json", "OAuth token cache file")
		userID       = fs.StringLong("user-id", "", "Owner identity for cloud-mirrored records")
		snapshotName = fs.StringLong("snapshot-name", syncer.DefaultSnapshotName, "Drive snapshot file name")
		syncInterval = fs.DurationLong("sync-interval", syncer.DefaultInterval, "Period between automatic sync cycles")
		pgHost       = fs.StringLong("pg-host", "", "Postgres host for the cloud mirror (optional)")
		pgPort       = fs.IntLong("pg-port", 5432, "Postgres port")
		pgDatabase   = fs.StringLong("pg-database", "receipts", "Postgres database name")
		pgUser       = fs.StringLong("pg-user", "receipts", "Postgres user")
		pgPassword   = fs.StringLong("pg-password", "", "Postgres password")
		pgSSLMode    = fs.StringLong("pg-sslmode", "disable", "Postgres sslmode")
		uploadURL    = fs.StringLong("upload-endpoint", "", "Image upload endpoint (optional)")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_LEDGER"),
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

	// Initialize database
	slog.Info("Initializing database...")
	db, err := expense.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize OCR provider based on type
	var recognizer ocr.Recognizer
	switch *ocrProvider {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini OCR...", "model", *geminiModel)
		recognizer, err = ocr.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama OCR...", "url", *ollamaURL, "model", *ollamaModel)
		recognizer, err = ocr.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid OCR provider", "provider", *ocrProvider, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer recognizer.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := expense.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sign in when a client secret is configured; otherwise run local-only
	var sess *session.Session
	if *clientSecret != "" {
		sess, err = session.New(*clientSecret, *tokenFile, *userID)
		if err != nil {
			slog.Error("Failed to restore session", "error", err)
			os.Exit(1)
		}
		slog.Info("Signed in", "user", sess.UserID)
	} else {
		slog.Warn("No client secret configured, cloud sync and mirroring disabled")
	}

	// Optional relational mirror
	var cloud expense.CloudStore
	if *pgHost != "" {
		if sess == nil {
			slog.Error("Postgres mirror requires a signed-in session (--client-secret)")
			os.Exit(1)
		}
		pg, err := expense.NewPostgresStore(ctx, expense.PostgresConfig{
			Host:     *pgHost,
			Port:     *pgPort,
			Database: *pgDatabase,
			User:     *pgUser,
			Password: *pgPassword,
			SSLMode:  *pgSSLMode,
		}, slog.Default())
		if err != nil {
			slog.Error("Failed to initialize Postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		cloud = pg
	}

	// Optional image upload endpoint
	var uploader expense.Uploader
	if *uploadURL != "" {
		uploader = expense.NewHTTPUploader(*uploadURL)
	}

	// Initialize service
	service := expense.NewService(db, recognizer, store, cloud, uploader, sess)

	// Drive snapshot sync runs only with a session
	var syncFn expense.SyncFunc
	if sess != nil {
		drive, err := syncer.NewDriveStore(sess.HTTPClient(ctx), *snapshotName)
		if err != nil {
			slog.Error("Failed to initialize Drive store", "error", err)
			os.Exit(1)
		}

		sc := syncer.New(drive, db, *syncInterval, nil)
		go sc.Run(ctx)

		syncFn = func(ctx context.Context) error {
			if err := sc.Sync(ctx); err != nil {
				if errors.Is(err, syncer.ErrSyncInProgress) {
					return expense.ErrSyncBusy
				}
				return err
			}
			return nil
		}
		slog.Info("Drive sync enabled", "snapshot", *snapshotName, "interval", syncInterval.String())
	}

	// Initialize server
	basicAuth := expense.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := expense.NewServer(service, syncFn, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	slog.Info("Shutting down...")
}
