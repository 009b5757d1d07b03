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

	"github.com/google/uuid"

	"github.com/project-tktt/immo-crawler/internal/app"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/config"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

func main() {
	userFlag := flag.String("user", "", "User id; comma-separated list with -enqueue")
	query := flag.String("query", "", "Location query: city name, postal code or department")
	radius := flag.Float64("radius", 10, "Search radius in km")
	sourcesFlag := flag.String("sources", "", "Comma-separated source keys (default from config)")
	maxPages := flag.Int("max-pages", 0, "Pages per source (capped by MAX_PAGES_PER_SITE)")
	enqueue := flag.Bool("enqueue", false, "Push the run to the Redis queue instead of running it")
	cleanup := flag.Bool("cleanup", false, "Delete listings of -user not seen for the retention window")
	events := flag.Int("events", 0, "Print the N most recent run events and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewStructured(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ctrl-C stops the run; partial results are discarded
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received, stopping", nil)
		cancel()
	}()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("bootstrap failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer a.Close()

	if err := run(ctx, a, options{
		users:    splitCSV(*userFlag),
		query:    *query,
		radius:   *radius,
		sources:  splitCSV(*sourcesFlag),
		maxPages: *maxPages,
		enqueue:  *enqueue,
		cleanup:  *cleanup,
		events:   *events,
	}); err != nil {
		log.Error("crawler failed", map[string]interface{}{"error": err.Error()})
		a.Close()
		os.Exit(1)
	}
}

type options struct {
	users    []string
	query    string
	radius   float64
	sources  []string
	maxPages int
	enqueue  bool
	cleanup  bool
	events   int
}

func run(ctx context.Context, a *app.App, opts options) error {
	switch {
	case opts.events > 0:
		if a.Consumer == nil {
			return fmt.Errorf("run events need redis")
		}
		evs, err := a.Consumer.RecentEvents(ctx, opts.events)
		if err != nil {
			return err
		}
		return printJSON(evs)

	case opts.cleanup:
		if len(opts.users) == 0 {
			return fmt.Errorf("-user is required")
		}
		for _, user := range opts.users {
			n, err := a.Store.Cleanup(ctx, user)
			if err != nil {
				return fmt.Errorf("cleanup %s: %w", user, err)
			}
			a.Log.Info("cleanup done", map[string]interface{}{"user_id": user, "deleted": n})
		}
		return nil

	case opts.enqueue:
		if a.Publisher == nil {
			return fmt.Errorf("run queue needs redis")
		}
		if len(opts.users) == 0 {
			return fmt.Errorf("-user is required")
		}
		reqs := make([]*domain.RunRequest, 0, len(opts.users))
		for _, user := range opts.users {
			req := opts.request(user)
			req.ID = uuid.NewString()
			req.RequestedAt = time.Now()
			reqs = append(reqs, &req)
		}
		if err := a.Publisher.PublishBatch(ctx, reqs); err != nil {
			return err
		}
		length, _ := a.Publisher.QueueLength(ctx)
		a.Log.Info("runs enqueued", map[string]interface{}{"count": len(reqs), "queue_length": length})
		return nil
	}

	if len(opts.users) != 1 {
		return fmt.Errorf("exactly one -user is required")
	}
	status, err := a.Orchestrator.RunSync(ctx, opts.request(opts.users[0]))
	if err != nil {
		return err
	}
	if err := printJSON(status); err != nil {
		return err
	}
	if status.State == domain.RunFailed {
		return fmt.Errorf("run failed: %s", status.Message)
	}
	return nil
}

func (o options) request(user string) domain.RunRequest {
	req := domain.RunRequest{
		UserID:   user,
		Query:    o.query,
		RadiusKm: o.radius,
		MaxPages: o.maxPages,
	}
	for _, s := range o.sources {
		req.Sources = append(req.Sources, domain.SourceKey(s))
	}
	return req
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
