package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/apothekerbubi/m3-trainer/internal/casefile"
	"github.com/apothekerbubi/m3-trainer/internal/handler"
	appI18n "github.com/apothekerbubi/m3-trainer/internal/i18n"
	"github.com/apothekerbubi/m3-trainer/internal/llm"
	"github.com/apothekerbubi/m3-trainer/internal/llm/prompts"
	"github.com/apothekerbubi/m3-trainer/internal/model"
	"github.com/apothekerbubi/m3-trainer/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "m3trainer",
		Short: "Case-based training for the M3 oral medical exam",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `m3trainer --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP training server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "m3trainer.db", "SQLite database path")
	f.StringP("cases", "c", "cases", "Directory with case JSON files")
	f.String("llm-url", "", "OpenAI-compatible API base URL (empty = rubric scoring only)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.StringP("lang", "l", "de", "UI language (de, en)")
	f.Bool("fuzzy", false, "Tolerate single-character misspellings in keyword matching")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("prompt-variant", string(prompts.VariantStandard), "Grading prompt variant (strict, standard, lenient)")
	f.String("admin-password", "", "Initial admin password (or set M3TRAINER_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export training results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "m3trainer.db", "SQLite database path")
	f.String("export-id", "", "Export identifier for output (required)")
	f.String("subject", "", "Subject name for output (required)")
	f.String("date", "", "Export date in YYYY-MM-DD format (required)")
	f.String("prompt-variant", "standard", "Prompt variant included in export metadata")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("export-id")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("M3TRAINER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("m3trainer")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/m3trainer")
	v.AddConfigPath("/etc/m3trainer")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// Load and validate all cases up front; a malformed case file is a
	// startup error, never a mid-session surprise.
	casesDir := v.GetString("cases")
	library, err := casefile.LoadDir(casesDir)
	if err != nil {
		return fmt.Errorf("load cases: %w", err)
	}
	if err := checkCaseSet(db, library); err != nil {
		return fmt.Errorf("record case set: %w", err)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// The LLM grading path is optional. Without an endpoint every answer
	// still gets the deterministic rubric score.
	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.VariantStandard)
	}
	var llmClient *llm.Client
	if llmURL := v.GetString("llm-url"); llmURL != "" {
		llmClient, err = llm.New(
			llmURL,
			v.GetString("llm-key"),
			v.GetString("llm-model"),
			promptVariant,
		)
		if err != nil {
			return fmt.Errorf("create LLM client: %w", err)
		}
		if err := llmClient.Ping(context.Background()); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", llmURL, "model", v.GetString("llm-model"))
	} else {
		slog.Info("no LLM endpoint configured, rubric scoring only")
	}

	cfg := model.ServerConfig{
		CasesDir:      casesDir,
		Fuzzy:         v.GetBool("fuzzy"),
		SecureCookies: v.GetBool("secure-cookies"),
		PromptVariant: promptVariant,
		LLMEnabled:    llmClient != nil,
	}

	h := handler.New(db, library, llmClient, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"cases", library.Count(),
		"lang", lang,
		"fuzzy", cfg.Fuzzy,
		"llm_enabled", cfg.LLMEnabled,
		"prompt_variant", promptVariant,
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results, err := db.ExportAllSessions()
	if err != nil {
		return fmt.Errorf("export sessions: %w", err)
	}

	export := model.TrainingExport{
		ExportID:      v.GetString("export-id"),
		Subject:       v.GetString("subject"),
		Date:          v.GetString("date"),
		PromptVariant: v.GetString("prompt-variant"),
		Results:       results,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

// checkCaseSet compares the loaded case IDs against the set recorded on
// the previous start. A changed set is not an error, but recorded sessions
// may reference cases that no longer exist, so it is worth a warning.
func checkCaseSet(db *store.Store, library *casefile.Library) error {
	ids := make([]string, 0, library.Count())
	for _, s := range library.Summaries() {
		ids = append(ids, s.ID)
	}
	current := strings.Join(ids, ",")

	previous, err := db.GetMetadata("case_set")
	if err != nil {
		return err
	}
	if previous != "" && previous != current {
		slog.Warn("case set changed since last start, old sessions may reference missing cases")
	}
	return db.SetMetadata("case_set", current)
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or M3TRAINER_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
