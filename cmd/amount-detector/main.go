package main

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/amount-detector/internal/amounts"
	"github.com/zombor/amount-detector/internal/llm"
	"github.com/zombor/amount-detector/internal/ocr"
	"github.com/zombor/amount-detector/internal/ocr/tesseract"
	"github.com/zombor/amount-detector/internal/server"
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

	// A .env file is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Could not load .env file", "error", err)
	}

	fset := ff.NewFlagSet("amount-detector")
	var (
		port          = fset.IntLong("port", 3000, "HTTP server port")
		assistantType = fset.StringLong("assistant", "gemini", "Assistant for enhanced mode: 'gemini', 'ollama' or 'none'")
		geminiKey     = fset.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fset.StringLong("gemini-model", "", "Google Gemini model name (or set GEMINI_MODEL env var)")
		ollamaURL     = fset.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fset.StringLong("ollama-model", "llama3.1", "Ollama model name")
		tessLang      = fset.StringLong("tesseract-lang", tesseract.DefaultLanguage, "Tesseract language(s), e.g. 'eng' or 'eng+hin'")
		maxUploadMB   = fset.IntLong("max-upload-mb", 5, "Maximum upload size in megabytes")
		rateLimit     = fset.Float64Long("rate-limit", 0, "Sustained /api requests per second (0 disables limiting)")
		rateBurst     = fset.IntLong("rate-burst", 10, "Burst size for --rate-limit")
		authUser      = fset.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fset.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion   = fset.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fset, os.Args[1:],
		ff.WithEnvVarPrefix("AMOUNT_DETECTOR"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fset))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	assistant, err := newAssistant(*assistantType, *geminiKey, *geminiModel, *ollamaURL, *ollamaModel)
	if err != nil {
		slog.Error("Failed to initialize assistant", "error", err)
		os.Exit(1)
	}
	if assistant != nil {
		defer assistant.Close()
	}

	slog.Info("Initializing OCR engine...", "language", *tessLang)
	var engine ocr.Engine = tesseract.New(*tessLang)
	defer engine.Close()

	detector := amounts.NewDetector(assistant, engine)

	srv := server.NewServer(detector, server.Config{
		BasicAuth: server.BasicAuth{
			Username: *authUser,
			Password: *authPass,
		},
		MaxUploadBytes: int64(*maxUploadMB) << 20,
		RateLimit:      *rateLimit,
		RateBurst:      *rateBurst,
	})

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := srv.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "assisted", detector.Assisted())
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// newAssistant builds the configured assistant. A nil client with a nil error means
// enhanced mode will run every stage rule-based.
func newAssistant(kind, geminiKey, geminiModel, ollamaURL, ollamaModel string) (llm.Client, error) {
	switch kind {
	case "gemini":
		// Get Gemini settings from flag or environment
		if geminiKey == "" {
			geminiKey = os.Getenv("GEMINI_API_KEY")
		}
		if geminiModel == "" {
			geminiModel = os.Getenv("GEMINI_MODEL")
		}
		if geminiKey == "" {
			slog.Warn("No Gemini API key configured, enhanced mode will use rule-based stages. Set --gemini-key or GEMINI_API_KEY")
			return nil, nil
		}
		client, err := llm.NewGemini(geminiKey, geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing Gemini: %w", err)
		}
		slog.Info("Initialized Gemini assistant", "model", client.Model())
		return client, nil
	case "ollama":
		slog.Info("Initializing Ollama assistant...", "url", ollamaURL, "model", ollamaModel)
		client, err := llm.NewOllama(ollamaURL, ollamaModel)
		if err != nil {
			return nil, fmt.Errorf("initializing Ollama: %w", err)
		}
		return client, nil
	case "none", "":
		slog.Info("No assistant configured, enhanced mode will use rule-based stages")
		return nil, nil
	}
	return nil, fmt.Errorf("invalid assistant type %q (valid: gemini, ollama, none)", kind)
}
