package cli

import (
	"context"
	"fmt"
	"io"
	"log"

	tea "github.com/charmbracelet/bubbletea"

	"tasks/internal/config"
	"tasks/internal/reminder"
	"tasks/internal/reminder/googletasks"
	"tasks/internal/storage"
)

// App holds what every command shares once the configuration is loaded.
type App struct {
	cfg   config.Config
	store *storage.Store
	out   io.Writer

	logFile io.Closer
}

// openApp loads .env and the config file, then opens the task database.
func openApp(configPath string, out io.Writer) (*App, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if configPath == "" {
		configPath = config.ResolveConfigPath()
	}
	cfg, err := config.LoadOrCreate(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &App{cfg: cfg, store: store, out: out}, nil
}

// startLogging sends the log package to the configured log file when debug
// is on. Interactive commands own the terminal, so otherwise their log
// output is dropped.
func (a *App) startLogging(interactive bool) error {
	if a.cfg.Debug {
		f, err := tea.LogToFile(a.cfg.LogPath, config.AppName)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		a.logFile = f
		return nil
	}
	if interactive {
		log.SetOutput(io.Discard)
	}
	return nil
}

func (a *App) Close() error {
	if a.logFile != nil {
		a.logFile.Close()
	}
	return a.store.Close()
}

// remote returns the Google Tasks mirror when it is enabled.
func (a *App) remote(ctx context.Context) (reminder.Scheduler, error) {
	if !a.cfg.Google.Enabled {
		return nil, nil
	}
	s, err := googletasks.New(ctx, a.cfg.Google, a.store)
	if err != nil {
		return nil, fmt.Errorf("failed to set up google tasks: %w", err)
	}
	return s, nil
}

// scheduler arms reminders in the local store and, when enabled, in
// Google Tasks.
func (a *App) scheduler(ctx context.Context, opts ...reminder.Option) (*reminder.Manager, reminder.Scheduler, error) {
	mgr := reminder.NewManager(a.store, opts...)
	remote, err := a.remote(ctx)
	if err != nil {
		return nil, nil, err
	}
	if remote == nil {
		return mgr, mgr, nil
	}
	return mgr, reminder.Multi{mgr, remote}, nil
}
