// Package main is the entry point for the runjobs companion: it walks every
// ready wiki on an interval and drains its MediaWiki job queue inside the
// shared container.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/pubwiki/provisioner/internal/database"
	"github.com/pubwiki/provisioner/internal/provision"
)

type runjobsConfig struct {
	DatabaseURL string
	WikifarmDir string
	Instance    string
	DockerHost  string
	Interval    time.Duration
	Concurrency int
}

func loadConfig() (*runjobsConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"database_url":          "DATABASE_URL",
		"wikifarm_dir":          "WIKIFARM_DIR",
		"wikifarm_instance":     "WIKIFARM_INSTANCE",
		"docker_host":           "DOCKER_HOST",
		"runjobs_interval_secs": "RUNJOBS_INTERVAL_SECS",
		"runjobs_concurrency":   "RUNJOBS_CONCURRENCY",
	} {
		v.BindEnv(key, env)
	}
	v.SetDefault("wikifarm_dir", "/srv/wikis")
	v.SetDefault("docker_host", "unix:///var/run/docker.sock")
	v.SetDefault("runjobs_interval_secs", 10)
	v.SetDefault("runjobs_concurrency", 4)

	for _, key := range []string{"database_url", "wikifarm_instance"} {
		if v.GetString(key) == "" {
			return nil, missingEnv(key)
		}
	}

	concurrency := v.GetInt("runjobs_concurrency")
	if concurrency < 1 {
		concurrency = 1
	}

	return &runjobsConfig{
		DatabaseURL: v.GetString("database_url"),
		WikifarmDir: v.GetString("wikifarm_dir"),
		Instance:    v.GetString("wikifarm_instance"),
		DockerHost:  v.GetString("docker_host"),
		Interval:    time.Duration(v.GetInt("runjobs_interval_secs")) * time.Second,
		Concurrency: concurrency,
	}, nil
}

type missingEnv string

func (e missingEnv) Error() string { return "missing env " + string(e) }

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewMySQL(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	runner := provision.NewRunner(cfg.DockerHost, cfg.Instance)

	logger.Info("runjobs started",
		slog.Duration("interval", cfg.Interval),
		slog.Int("concurrency", cfg.Concurrency),
		slog.String("base_dir", cfg.WikifarmDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		if err := runOnce(ctx, cfg, db, runner, logger); err != nil {
			logger.Error("run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			logger.Info("runjobs stopped")
			return
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, cfg *runjobsConfig, db *database.MySQL, runner provision.Runner, logger *slog.Logger) error {
	var slugs []string
	err := db.DB().SelectContext(ctx, &slugs,
		`SELECT slug FROM wikis WHERE status = 'ready' ORDER BY id`)
	if err != nil {
		return err
	}
	if len(slugs) == 0 {
		logger.Debug("no ready wikis")
		return nil
	}

	logger.Info("running jobs", slog.Int("wikis", len(slugs)))

	sem := make(chan struct{}, cfg.Concurrency)
	var wg sync.WaitGroup
	for _, slug := range slugs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(slug string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := runForWiki(ctx, cfg, runner, slug); err != nil {
				logger.Error("runjobs failed for wiki",
					slog.String("slug", slug),
					slog.String("error", err.Error()),
				)
			}
		}(slug)
	}
	wg.Wait()
	return nil
}

func runForWiki(ctx context.Context, cfg *runjobsConfig, runner provision.Runner, slug string) error {
	workdir := cfg.WikifarmDir + "/" + slug
	return runner.Exec(ctx, []string{
		"php", "maintenance/run", "runJobs", "--maxtime", "30",
	}, workdir)
}
