// ABOUTME: Entry point for the dataengine command
// ABOUTME: Serves the engine over HTTP or runs one-shot queries against the durable database

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-dataengine/internal/backend"
	"github.com/2389/coven-dataengine/internal/config"
	"github.com/2389/coven-dataengine/internal/durability"
	"github.com/2389/coven-dataengine/internal/gateway"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

const banner = `
     _       _                          _
  __| | __ _| |_ __ _  ___ _ __   __ _(_)_ __   ___
 / _' |/ _' | __/ _' |/ _ \ '_ \ / _' | | '_ \ / _ \
| (_| | (_| | || (_| |  __/ | | | (_| | | | | |  __/
 \__,_|\__,_|\__\__,_|\___|_| |_|\__, |_|_| |_|\___|
                                 |___/
`

// getConfigPath returns the path to the engine config file.
// Priority: DATAENGINE_CONFIG env var > XDG_CONFIG_HOME/coven/dataengine.yaml > ~/.config/coven/dataengine.yaml
func getConfigPath() string {
	if envPath := os.Getenv("DATAENGINE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "dataengine.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "dataengine.yaml")
}

// loadConfig reads the config file, falling back to defaults when it does not exist.
func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), "(defaults)", nil
	}
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func usage() {
	fmt.Println("Usage: dataengine <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the HTTP server")
	fmt.Println("  query SQL [PARAM...]   Run a statement and print the result")
	fmt.Println("  schema                 Print the schema summary")
	fmt.Println("  similar ID [K]         Print the K documents most similar to ID")
	fmt.Println("  stats                  Print database and index statistics")
	fmt.Println("  maintain               Run integrity check and compaction")
	fmt.Println("  export FILE            Write a snapshot of the database to FILE")
	fmt.Println("  health                 Check server health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "query":
		err = runQuery(ctx, args)
	case "schema":
		err = withEngine(ctx, func(g *gateway.Gateway) error {
			summary, err := g.SchemaSummary(ctx)
			if err != nil {
				return err
			}
			return printJSON(summary)
		})
	case "similar":
		err = runSimilar(ctx, args)
	case "stats":
		err = runStats(ctx)
	case "maintain":
		err = withEngine(ctx, func(g *gateway.Gateway) error {
			report, err := g.RunIntegrityMaintenance(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		})
	case "export":
		err = runExport(ctx, args)
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// engine is a gateway with everything it owns
type engine struct {
	gateway   *gateway.Gateway
	backend   *backend.Backend
	snapshots *durability.Manager
}

func openEngine(cfg *config.Config, logger *slog.Logger) *engine {
	snapshots := durability.New(cfg.Durability, logger)
	b := backend.New(cfg.Engine, snapshots, logger)
	gw := gateway.New(b, gateway.Options{
		Isolation: cfg.Engine.Isolation,
		Logger:    logger,
	})
	return &engine{gateway: gw, backend: b, snapshots: snapshots}
}

// Close shuts the gateway down, lets pending snapshot saves finish and
// releases the database files.
func (e *engine) Close() error {
	return errors.Join(
		e.gateway.Close(),
		e.backend.Close(),
		e.snapshots.Close(),
	)
}

// withEngine runs fn against an initialized engine for one-shot commands.
// Logs go to stderr so stdout carries only the result.
func withEngine(ctx context.Context, fn func(*gateway.Gateway) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	e := openEngine(cfg, logger)
	defer e.Close()

	if _, err := e.gateway.Initialize(ctx, nil); err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}
	return fn(e.gateway)
}

func runServe(ctx context.Context) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Durability: ")
	if cfg.Durability.Enabled {
		cyan.Print(cfg.Durability.Path)
		gray.Printf(" (%s)", cfg.Durability.Compression)
	} else {
		yellow.Print("disabled")
	}
	fmt.Println()
	fmt.Println()

	e := openEngine(cfg, logger)
	defer e.Close()

	st, err := e.gateway.Initialize(ctx, nil)
	if err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}

	logger.Info("starting dataengine",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"mode", e.gateway.Mode(),
		"origin", st.Origin,
		"durable", st.Durable,
	)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           e.gateway.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func runQuery(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: dataengine query SQL [PARAM...]")
	}
	params := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		params = append(params, parseParam(a))
	}

	return withEngine(ctx, func(g *gateway.Gateway) error {
		res, err := g.ExecuteQuery(ctx, args[0], params...)
		if err != nil {
			return err
		}
		if !res.OK() {
			return fmt.Errorf("query failed: %s", res.Error)
		}
		if res.Mutating {
			fmt.Printf("%d row(s) affected\n", res.RowsAffected)
			return nil
		}
		return printJSON(res.Rows)
	})
}

// parseParam turns a command-line argument into an integer, float or string parameter
func parseParam(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func runSimilar(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: dataengine similar ID [K]")
	}
	k := 5
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("K must be a positive integer, got %q", args[1])
		}
		k = n
	}

	return withEngine(ctx, func(g *gateway.Gateway) error {
		matches, err := g.FindSimilar(ctx, args[0], k)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Fprintf(os.Stderr, "no documents similar to %s\n", args[0])
			return nil
		}
		for _, m := range matches {
			fmt.Printf("%.4f  %-28s %s\n", m.Score, m.ID, m.Name)
		}
		return nil
	})
}

func runStats(ctx context.Context) error {
	return withEngine(ctx, func(g *gateway.Gateway) error {
		stats, err := g.Statistics(ctx)
		if err != nil {
			return err
		}
		vs, err := g.VectorStats(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"database": stats,
			"vectors":  vs,
		})
	})
}

func runExport(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: dataengine export FILE")
	}
	return withEngine(ctx, func(g *gateway.Gateway) error {
		image, err := g.ExportSnapshot(ctx)
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], image, 0o600); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
		fmt.Printf("wrote %d bytes to %s\n", len(image), args[0])
		return nil
	})
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var health gateway.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d (%s)", resp.StatusCode, health.Status)
	}

	fmt.Printf("healthy (mode: %s, initialized: %t)\n", health.Mode, health.Initialized)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
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
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = &colorHandler{
			out:   w,
			mu:    &sync.Mutex{},
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
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

	prefix := strings.Join(h.groups, ".")
	if prefix != "" {
		prefix += "."
	}
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		out:    h.out,
		mu:     h.mu,
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
		out:    h.out,
		mu:     h.mu,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
