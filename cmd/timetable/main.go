package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"timetable/internal/config"
	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/navigation"
	"timetable/internal/owners"
	"timetable/internal/provider"
	"timetable/internal/refresh"
	"timetable/internal/schedule"
	"timetable/internal/store"
	"timetable/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	memory     bool
}

// cache is what both services need from a store.
type cache interface {
	schedule.Cache
	owners.Store
	Close() error
}

func main() {
	flags := parseFlags()

	if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Warn("failed to read env file", "path", flags.envFile, "err", err)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(os.LookupEnv)
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("timetable starting", "version", version)

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.Refresh,
		"database", conf.Database,
		"memory", flags.memory,
		"export_weeks", conf.ExportWeeks,
		"basic_auth", conf.BasicAuth != nil,
		"once", flags.once,
	)

	st, err := openStore(conf.Database, flags.memory)
	if err != nil {
		appLog.Error("failed to open schedule cache", err, "database", conf.Database)
		os.Exit(1)
	}
	defer st.Close()

	remote, err := provider.NewHTMLProvider(provider.Options{
		BaseURL:   conf.Provider.BaseURL,
		Timeout:   conf.Provider.Timeout(),
		UserAgent: conf.Provider.UserAgent,
	})
	if err != nil {
		appLog.Error("failed to create provider", err)
		os.Exit(1)
	}

	schedules := schedule.NewService(remote, st)
	directory := owners.NewService(remote, st)
	refresher := refresh.New(schedules, directory, loc)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flags.once {
		if err := runOnce(ctx, refresher, directory); err != nil {
			appLog.Error("one-shot refresh failed", err)
			st.Close()
			os.Exit(1)
		}
		return
	}

	if conf.Refresh != "" {
		if err := refresher.Start(conf.Refresh); err != nil {
			appLog.Error("failed to start background refresh", err, "refresh", conf.Refresh)
			os.Exit(1)
		}
		defer refresher.Stop()
	}

	nav := navigation.NewNavigator(refresher.Today())
	srv := web.NewServer(nav, refresher, directory, web.Options{
		BasicAuth:   conf.BasicAuth,
		Location:    loc,
		ExportWeeks: conf.ExportWeeks,
	})
	if err := srv.ListenAndServe(ctx, conf.Listen); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		refresher.Stop()
		st.Close()
		os.Exit(1)
	}
	appLog.Info("timetable exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", config.DefaultPath, "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Path to an optional .env file with TIMETABLE_* overrides")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh the picked group and teacher once and exit")
	flag.BoolVar(&cfg.memory, "memory", false, "Keep the schedule cache in memory instead of sqlite")

	flag.Parse()

	return cfg
}

func openStore(path string, memory bool) (cache, error) {
	if memory {
		return store.NewMemory(), nil
	}
	return store.OpenSQLite(path)
}

// runOnce syncs the directories that have a picked owner and refreshes
// those owners' current week.
func runOnce(ctx context.Context, refresher *refresh.Refresher, directory *owners.Service) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	for _, kind := range model.OwnerKinds {
		if _, ok, err := directory.Picked(ctx, kind); err != nil || !ok {
			continue
		}
		if _, err := directory.Sync(ctx, kind); err != nil {
			appLog.Warn("owner directory sync failed", "kind", kind, "err", err)
		}
	}

	results, err := refresher.RefreshPicked(ctx, refresher.Today())
	for _, res := range results {
		appLog.Info("owner refreshed",
			"owner", res.Owner,
			"monday", res.Monday,
			"lessons", res.Schedule.LessonCount(),
			"stale", res.Stale,
			"source", res.Source,
		)
	}
	if len(results) == 0 && err == nil {
		appLog.Warn("nothing to refresh: no group or teacher picked")
	}
	return err
}
