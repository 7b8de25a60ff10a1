package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eshe-huli/ringforge/fem/internal/config"
	"github.com/eshe-huli/ringforge/fem/internal/forward"
	"github.com/eshe-huli/ringforge/fem/internal/ids"
	"github.com/eshe-huli/ringforge/fem/internal/notify"
	"github.com/eshe-huli/ringforge/fem/internal/store"
	"github.com/eshe-huli/ringforge/fem/internal/watcher"
)

func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

func openStore(path string) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	return store.Open(path)
}

// persister returns the id persister selected by cfg, or nil for an
// in-memory table.
func persister(cfg *config.Config, s *store.Store) ids.Persister {
	switch cfg.IDs.Backend {
	case config.IDsFile:
		return ids.NewFileStore(cfg.IDs.File)
	case config.IDsSQLite:
		return s.IDs()
	default:
		return nil
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	s, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	registry, err := ids.Open(persister(cfg, s))
	if err != nil {
		logger.Error("load id table failed", "backend", cfg.IDs.Backend, "error", err)
		return err
	}

	adapter, err := notify.New(cfg.Backend)
	if err != nil {
		return fmt.Errorf("start %s backend: %w", cfg.Backend, err)
	}

	m := watcher.New(adapter, registry, watcher.Options{
		Interval: cfg.Interval,
		Capacity: cfg.Capacity,
		Logger:   logger,
		OnError: func(err error) {
			if errors.Is(err, notify.ErrOverflow) {
				logger.Warn("some file events were lost; fingerprints may be stale")
			}
		},
	})
	defer m.Close()

	j := &journal{store: s, logger: logger.With("component", "journal")}
	for _, path := range args {
		id, err := m.Watch(path)
		if err != nil {
			var perr *ids.PersistenceError
			if errors.As(err, &perr) {
				logger.Error("persist id failed", "path", path, "error", err)
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
		if err := m.AddCallback(path, j.handle); err != nil {
			return err
		}
		logger.Info("watching", "path", path, "id", id)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Forward.Enabled() {
		stopped, err := startForwarding(ctx, cfg, s, logger)
		if err != nil {
			return err
		}
		defer func() { <-stopped }()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// startForwarding flushes the journal to cfg.Forward.URL until ctx is done.
// The returned channel is closed once the forwarder has stopped.
func startForwarding(ctx context.Context, cfg *config.Config, s *store.Store, logger *slog.Logger) (<-chan struct{}, error) {
	instance, err := s.InstanceID()
	if err != nil {
		return nil, err
	}
	c, err := forward.New(cfg.Forward.URL, cfg.Forward.Token, logger)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Forward.URL, err)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		forward.Run(ctx, c, s, instance, cfg.Forward.Interval, logger)
		_ = c.Close()
	}()
	logger.Info("forwarding events", "url", cfg.Forward.URL, "instance", instance)
	return stopped, nil
}

func runIDs(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var p ids.Persister
	switch cfg.IDs.Backend {
	case config.IDsNone:
		fmt.Println("ids are not persisted (ids.backend = none)")
		return nil
	case config.IDsSQLite:
		s, err := openStore(cfg.Database)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()
		p = s.IDs()
	default:
		p = ids.NewFileStore(cfg.IDs.File)
	}

	state, err := p.Load()
	if err != nil {
		return err
	}
	printIDs(state)
	return nil
}

func printIDs(state ids.State) {
	paths := make([]string, 0, len(state.IDs))
	for path := range state.IDs {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool { return state.IDs[paths[i]] < state.IDs[paths[j]] })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH")
	for _, path := range paths {
		fmt.Fprintf(w, "%d\t%s\n", state.IDs[path], path)
	}
	w.Flush()
	fmt.Printf("counter: %d\n", state.Counter)
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	entries, err := s.Recent(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no events journaled")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tID\tMASK\tSTATE\tPATH")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%#x\t%s\t%s\n", humanize.Time(e.CreatedAt), e.FileID, e.Mask, entryState(e), e.Path)
	}
	return w.Flush()
}

func entryState(e store.Entry) string {
	switch {
	case e.Forwarded:
		return "forwarded"
	case e.Attempts > 0:
		return fmt.Sprintf("failed x%d", e.Attempts)
	default:
		return "pending"
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	s, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	instance, err := s.InstanceID()
	if err != nil {
		return err
	}
	pending, err := s.PendingCount()
	if err != nil {
		return err
	}

	fmt.Printf("Instance:    %s\n", instance)
	fmt.Printf("Database:    %s", s.Path())
	if info, err := os.Stat(s.Path()); err == nil {
		fmt.Printf(" (%s)", humanize.Bytes(uint64(info.Size())))
	}
	fmt.Println()
	fmt.Printf("Pending:     %s events\n", humanize.Comma(int64(pending)))
	fmt.Printf("IDs backend: %s\n", cfg.IDs.Backend)
	if cfg.Forward.Enabled() {
		fmt.Printf("Forwarding:  %s every %s\n", cfg.Forward.URL, cfg.Forward.Interval)
	}
	return nil
}
