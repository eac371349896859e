// Package main is the kbase CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kbase/internal/articles"
	"github.com/hyperjump/kbase/internal/cleanup"
	"github.com/hyperjump/kbase/internal/cli"
	"github.com/hyperjump/kbase/internal/client"
	"github.com/hyperjump/kbase/internal/config"
	"github.com/hyperjump/kbase/internal/images"
	"github.com/hyperjump/kbase/internal/importer"
	"github.com/hyperjump/kbase/internal/models"
	"github.com/hyperjump/kbase/internal/search"
	"github.com/hyperjump/kbase/internal/server"
	"github.com/hyperjump/kbase/internal/storage"
	"github.com/hyperjump/kbase/internal/watcher"
	"github.com/hyperjump/kbase/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kbase/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists; if neither exists the built-in defaults are used.
// Returns the config and the path that was loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "list":
		runList()
	case "show":
		runShow()
	case "status":
		runStatus()
	case "cleanup":
		runCleanup()
	case "import":
		runImport()
	case "version", "--version", "-v":
		fmt.Printf("kbase version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger := mustLogger(debugMode)
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("images", cfg.Images.Backend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, cfg.Search.IndexPath, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if paths := storage.WatchPaths(components.Backend); len(paths) > 0 && cfg.Watch.EnabledOrDefault() {
		w := watcher.New(paths, func(ctx context.Context, path string) {
			logger.Info("data file changed, reloading", zap.String("path", path))
			storage.Invalidate(components.Backend)
			if err := components.Articles.Reindex(ctx); err != nil {
				logger.Warn("reindex after change failed", zap.String("path", path), zap.Error(err))
			}
		}, watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(
		components.Articles,
		components.Images,
		components.Backend,
		components.Index,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// argsReorder moves flags that follow positional arguments to the front so
// flag.Parse sees them ("kbase list go tips -output json").
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args into one query so quoting is optional.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "", "server URL; empty reads storage directly")
	category := fs.String("category", "", "only articles in this category")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)
	query := joinArgs(fs.Args())
	ctx := context.Background()

	var (
		list  []*models.Article
		users []*models.User
		err   error
	)
	if *serverURL != "" {
		c := client.New(*serverURL)
		if list, err = c.ListArticles(ctx, query, *category); err == nil {
			users, err = c.ListUsers(ctx)
		}
	} else {
		components, logger := openDirect(ctx, *configPath)
		defer logger.Sync()
		defer components.Close()
		if list, err = components.Articles.List(ctx, articles.Filter{Query: query, Category: *category}); err == nil {
			users, err = components.Articles.Users(ctx)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteArticles(os.Stdout, list, users, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runShow() {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "", "server URL; empty reads storage directly")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() != 1 {
		fmt.Println("Usage: kbase show [flags] <article-id>")
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	id := fs.Arg(0)
	ctx := context.Background()

	var (
		a     *models.Article
		users []*models.User
		err   error
	)
	if *serverURL != "" {
		c := client.New(*serverURL)
		if a, err = c.GetArticle(ctx, id); err == nil {
			users, err = c.ListUsers(ctx)
		}
	} else {
		components, logger := openDirect(ctx, *configPath)
		defer logger.Sync()
		defer components.Close()
		if a, err = components.Articles.Get(ctx, id); err == nil {
			users, err = components.Articles.Users(ctx)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Show failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteArticles(os.Stdout, []*models.Article{a}, users, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "", "server URL; empty reads storage directly")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)
	ctx := context.Background()

	var (
		st  *models.Status
		err error
	)
	if *serverURL != "" {
		st, err = client.New(*serverURL).Status(ctx)
	} else {
		cfg, _, loadErr := loadConfig(*configPath)
		if loadErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", loadErr)
			os.Exit(1)
		}
		logger := mustLogger(cfg.Debug)
		defer logger.Sync()
		components, initErr := initializeComponents(ctx, cfg, "", logger)
		if initErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", initErr)
			os.Exit(1)
		}
		defer components.Close()
		st, err = server.CollectStatus(ctx, components.Backend, components.Index, cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runCleanup() {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	dryRun := fs.Bool("dry-run", false, "list orphaned images without deleting them")
	concurrency := fs.Int("concurrency", 8, "parallel deletes")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)
	ctx := context.Background()

	components, logger := openDirect(ctx, *configPath)
	defer logger.Sync()
	defer components.Close()

	cleaner := cleanup.New(components.Backend, components.Images.Store(),
		cleanup.WithLogger(logger),
		cleanup.WithDryRun(*dryRun),
		cleanup.WithConcurrency(*concurrency),
	)
	report, err := cleaner.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteCleanupReport(os.Stdout, report, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	if len(report.Failed) > 0 {
		os.Exit(1)
	}
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "", "server URL; empty writes storage directly")
	watch := fs.Bool("watch", false, "keep running and re-import files as they change")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() != 1 {
		fmt.Println("Usage: kbase import [flags] <file-or-directory>")
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	path := fs.Arg(0)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		saver  importer.Saver
		logger *zap.Logger
	)
	if *serverURL != "" {
		logger = mustLogger(false)
		saver = client.New(*serverURL, client.WithLogger(logger))
	} else {
		var components *Components
		components, logger = openDirect(ctx, *configPath)
		defer components.Close()
		saver = components.Articles
	}
	defer logger.Sync()
	im := importer.New(saver, importer.WithLogger(logger))

	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	res := &importer.Result{Created: []string{}, Updated: []string{}}
	if info.IsDir() {
		res, err = im.ImportDir(ctx, path)
	} else {
		var a *models.Article
		var created bool
		if a, created, err = im.ImportFile(ctx, path); err == nil {
			if created {
				res.Created = append(res.Created, a.ID)
			} else {
				res.Updated = append(res.Updated, a.ID)
			}
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteImportResult(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	if !*watch {
		return
	}

	w := watcher.New([]string{path}, func(ctx context.Context, changed string) {
		if _, _, err := im.ImportFile(ctx, changed); err != nil {
			logger.Warn("re-import failed", zap.String("path", changed), zap.Error(err))
		}
	}, watcher.WithLogger(logger), watcher.WithExtensions(importer.Extensions...))
	if err := w.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start watcher: %v\n", err)
		os.Exit(1)
	}
	defer w.Stop()
	fmt.Printf("Watching %s for changes (Ctrl-C to stop)\n", path)
	<-ctx.Done()
}

func mustLogger(debug bool) *zap.Logger {
	logger, err := utils.NewLogger(debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// openDirect loads config and opens storage for a one-shot command. The search index
// is kept in memory so it never contends with a running server's on-disk index.
func openDirect(ctx context.Context, configPath string) (*Components, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := mustLogger(cfg.Debug)
	components, err := initializeComponents(ctx, cfg, "", logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return components, logger
}

// Components holds initialized services.
type Components struct {
	Backend  storage.Backend
	Index    *search.Index
	Articles *articles.Service
	Images   *images.Service
	Store    images.Store
}

func (c *Components) Close() {
	if closer, ok := c.Store.(io.Closer); ok {
		_ = closer.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Backend != nil {
		_ = c.Backend.Close()
	}
}

// initializeComponents opens storage, seeds users, builds the search index at
// indexPath ("" keeps it in memory) and wires the article and image services.
func initializeComponents(ctx context.Context, cfg *config.Config, indexPath string, logger *zap.Logger) (*Components, error) {
	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Backend: backend}
	if err := storage.SeedUsers(ctx, backend, cfg.Users, logger); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to seed users: %w", err)
	}

	idx, err := search.NewIndex(indexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize search index: %w", err)
	}
	c.Index = idx
	c.Articles = articles.NewService(backend,
		articles.WithIndex(idx),
		articles.WithSearchLimit(cfg.Search.DefaultLimit),
		articles.WithLogger(logger),
	)
	if err := c.Articles.Reindex(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to build search index: %w", err)
	}

	store, err := images.OpenStore(ctx, cfg.Images)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize image store: %w", err)
	}
	c.Store = store
	c.Images = images.NewService(backend, store,
		images.WithNameWidth(cfg.Images.NameWidth),
		images.WithMaxBytes(cfg.Images.MaxBytes),
		images.WithLogger(logger),
	)
	return c, nil
}

func printUsage() {
	fmt.Println(`kbase - Knowledge base with a rich-text editor and image uploads

Usage:
  kbase server [flags]               Start the HTTP server
  kbase list [flags] [query]         List or search articles
  kbase show [flags] <id>            Show one article
  kbase status [flags]               Show storage, counter and index status
  kbase cleanup [flags]              Delete uploaded images no article references
  kbase import [flags] <path>        Import Markdown files as articles
  kbase version                      Show version
  kbase help                         Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kbase/config.yaml, or ./config.yaml)
  --debug            Enable debug logging

List / Show / Status Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL, e.g. http://localhost:3000. Empty reads storage directly.
  --category string  Only list articles in this category (list only)
  --output string    Output format: text, compact, or json (default: text)

Cleanup Flags:
  --config string    Config file path
  --dry-run          Report orphaned images without deleting them
  --concurrency int  Parallel deletes (default: 8)
  --output string    Output format: text, compact, or json

Import Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL; articles are saved through the API when set
  --watch            Re-import files as they change
  --output string    Output format: text, compact, or json

Examples:
  kbase server
  kbase list --category Guides
  kbase list go tips --output json
  kbase show knw_1709632800000
  kbase status --server http://localhost:3000
  kbase cleanup --dry-run
  kbase import --watch ./notes`)
}
