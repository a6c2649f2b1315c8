package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/app"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/help"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/schema"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
)

var (
	// Version is set during build
	Version = "dev"
	// BuildTime is set during build
	BuildTime = "unknown"
	// GitCommit is set during build
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	runAudit := flag.Bool("audit", false, "Run one security audit, print the report as JSON and exit")
	issueUser := flag.String("issue-user", "", "Issue a session token for this user and exit")
	issuePerms := flag.String("issue-perms", "", "Comma separated permissions for -issue-user")
	showEnv := flag.Bool("help-env", false, "Show all environment variables")
	schemaType := flag.String("schema", "", "Print a JSON Schema (config, routes) and exit")

	helpGen := help.NewGenerator(help.AppInfo{
		Name:        "secgate",
		Description: "Request security gateway and posture auditor",
		Version:     Version,
		BuildTime:   BuildTime,
		GitCommit:   GitCommit,
	}, config.EnvPrefix, &config.Config{})
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), helpGen.Help()) }
	flag.Parse()

	switch {
	case *showVersion:
		fmt.Print(helpGen.Version())
		os.Exit(0)
	case *showEnv:
		fmt.Print(helpGen.EnvHelp())
		os.Exit(0)
	case *schemaType != "":
		os.Exit(printSchema(*schemaType))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.InitMasker(cfg.Masking)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(cfg, app.WithBuildInfo(app.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}))
	if err != nil {
		logger.Fatal("failed to create application", logger.Err(err))
	}
	if err := application.Initialize(ctx); err != nil {
		logger.Fatal("failed to initialize application", logger.Err(err))
	}

	switch {
	case *runAudit:
		os.Exit(oneShot(application, func(ctx context.Context) (any, error) {
			return application.Auditor().PerformSecurityAudit(ctx)
		}))
	case *issueUser != "":
		os.Exit(oneShot(application, func(ctx context.Context) (any, error) {
			token, s, err := application.Sessions().Issue(ctx, *issueUser, splitPerms(*issuePerms))
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"token":       token,
				"session_id":  s.ID,
				"user_id":     s.UserID,
				"permissions": s.Permissions.Slice(),
				"key_version": s.KeyVersion,
				"expires_at":  s.CreatedAt.Add(cfg.Auth.SessionTimeout),
			}, nil
		}))
	}

	logger.Info("starting secgate",
		logger.String("version", Version),
		logger.String("commit", GitCommit),
	)

	if err := application.Start(); err != nil {
		logger.Fatal("failed to start application", logger.Err(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", logger.String("signal", sig.String()))

	timeout := cfg.Server.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", logger.Err(err))
	}

	logger.Info("secgate stopped")
}

// oneShot runs fn, prints its result as JSON and shuts the application down.
// It returns the process exit code.
func oneShot(application *app.App, fn func(context.Context) (any, error)) int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	code := 0
	out, err := fn(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		code = 1
	} else {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
			code = 1
		}
	}

	if err := application.Shutdown(ctx); err != nil {
		logger.Error("error during shutdown", logger.Err(err))
	}
	return code
}

func printSchema(name string) int {
	st, ok := schema.ParseSchemaType(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown schema type %q (available: config, routes)\n", name)
		return 2
	}
	data, err := schema.NewGenerator().Generate(st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate schema: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func splitPerms(s string) []string {
	var perms []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	return perms
}
