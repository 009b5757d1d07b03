// Package ingest runs one user's search across the selected sources and
// stores what survives normalization, location validation, agency
// filtering and deduplication.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/project-tktt/immo-crawler/internal/common/dedup"
	apperrors "github.com/project-tktt/immo-crawler/internal/common/errors"
	"github.com/project-tktt/immo-crawler/internal/common/filter"
	"github.com/project-tktt/immo-crawler/internal/common/indexer"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/metrics"
	"github.com/project-tktt/immo-crawler/internal/common/normalizer"
	"github.com/project-tktt/immo-crawler/internal/common/validator"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module/registry"
)

// Progress checkpoints
const (
	progressResolved = 5
	progressScrapeLo = 10
	progressScrapeHi = 80
	progressFiltered = 85
	progressDeduped  = 90
	progressStoring  = 95
)

// Geocoder resolves the free-text location of a run
type Geocoder interface {
	Resolve(ctx context.Context, query string) domain.ResolvedLocation
}

// SeenMarker remembers stored listing URLs for the next runs
type SeenMarker interface {
	MarkListings(ctx context.Context, listings []domain.Listing) error
}

// EventPublisher receives the final status of every run
type EventPublisher interface {
	PublishEvent(ctx context.Context, event domain.RunEvent) error
}

// Config holds the orchestrator collaborators. Registry, Geocoder, Deps and
// Store are required.
type Config struct {
	Registry  *registry.Registry
	Catalogue Catalogue
	Deps      DepsFactory
	Geocoder  Geocoder
	// Postal code directory for the radius check, nil skips distances
	PostalCodes validator.PostalCodeResolver
	Store       indexer.Store
	Seen        SeenMarker
	Events      EventPublisher
	Tracker     *Tracker
	Normalizer  *normalizer.Normalizer
	Filter      *filter.AgencyFilter
	// Used when a run selects no source
	DefaultSources []domain.SourceKey
	// Ceiling for a run's requested page count
	MaxPages int
	Now      func() time.Time
	Logger   logger.Logger
}

// Orchestrator executes ingestion runs
type Orchestrator struct {
	cfg       Config
	tracker   *Tracker
	validator *validator.Validator
	log       logger.Logger
	wg        sync.WaitGroup
}

// New creates an orchestrator, filling optional collaborators with defaults
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil || cfg.Geocoder == nil || cfg.Deps == nil || cfg.Store == nil {
		return nil, fmt.Errorf("orchestrator: registry, geocoder, deps and store are required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Catalogue == nil {
		cfg.Catalogue = DefaultCatalogue()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NewTracker(cfg.Now)
	}
	if len(cfg.DefaultSources) == 0 {
		cfg.DefaultSources = []domain.SourceKey{domain.SourcePap, domain.SourceParuvendu}
	}
	log := logger.OrNop(cfg.Logger).WithFields(map[string]interface{}{"component": "orchestrator"})

	strict := make(map[domain.SourceKey]bool)
	bases := make(map[domain.SourceKey]string)
	for _, key := range cfg.Registry.Keys() {
		p, _ := cfg.Registry.Profile(key)
		strict[key] = p.StrictLocation
		bases[key] = p.BaseURL
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = normalizer.NewNormalizer(
			normalizer.WithBaseURLs(bases),
			normalizer.WithClock(cfg.Now),
			normalizer.WithLogger(cfg.Logger),
		)
	}
	if cfg.Filter == nil {
		cfg.Filter = filter.NewAgencyFilter(nil, cfg.Logger)
	}

	return &Orchestrator{
		cfg:       cfg,
		tracker:   cfg.Tracker,
		validator: validator.New(cfg.PostalCodes, strict, cfg.Logger),
		log:       log,
	}, nil
}

// Tracker returns the run tracker
func (o *Orchestrator) Tracker() *Tracker { return o.tracker }

// Registry returns the site registry
func (o *Orchestrator) Registry() *registry.Registry { return o.cfg.Registry }

// Store returns the storage collaborator
func (o *Orchestrator) Store() indexer.Store { return o.cfg.Store }

// StartRun begins a background run and returns the running status at once.
// A second run for a user who already has one running is refused.
func (o *Orchestrator) StartRun(ctx context.Context, req domain.RunRequest) (domain.RunStatus, error) {
	if err := o.prepare(&req); err != nil {
		return o.tracker.Status(req.UserID), err
	}
	// The run outlives the caller's request
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	status, err := o.tracker.Start(req.UserID, req.ID, cancel)
	if err != nil {
		cancel()
		o.log.Info("run refused, another run is in progress", map[string]interface{}{"user_id": req.UserID})
		return status, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(runCtx, req)
	}()
	return status, nil
}

// RunSync executes a run in the calling goroutine and returns its final
// status. Cancelling ctx stops the run.
func (o *Orchestrator) RunSync(ctx context.Context, req domain.RunRequest) (domain.RunStatus, error) {
	if err := o.prepare(&req); err != nil {
		return o.tracker.Status(req.UserID), err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if status, err := o.tracker.Start(req.UserID, req.ID, cancel); err != nil {
		return status, err
	}
	return o.run(runCtx, req), nil
}

// Status returns the latest run status of userID
func (o *Orchestrator) Status(userID string) domain.RunStatus {
	return o.tracker.Status(userID)
}

// StopRun cancels the running run of userID. Adapters return after their
// in-flight request; the status becomes cancelled with message "stopped".
func (o *Orchestrator) StopRun(userID string) (domain.RunStatus, bool) {
	status, ok := o.tracker.Stop(userID)
	if ok {
		o.log.Info("run stopped by operator", map[string]interface{}{"user_id": userID, "run_id": status.RunID})
	}
	return status, ok
}

// StopAll stops every running run. Used on shutdown, since background
// runs are detached from the caller's context.
func (o *Orchestrator) StopAll() int {
	n := 0
	for _, user := range o.tracker.Running() {
		if _, ok := o.tracker.Stop(user); ok {
			n++
		}
	}
	return n
}

// Wait blocks until every background run has returned
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) prepare(req *domain.RunRequest) error {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Query = strings.TrimSpace(req.Query)
	if req.UserID == "" {
		return apperrors.NewInvalidRequestError("user id is required")
	}
	if req.Query == "" {
		return apperrors.NewInvalidRequestError("location is required")
	}
	if req.RadiusKm < 0 {
		return apperrors.NewInvalidRequestError("radius must not be negative")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = o.cfg.Now()
	}
	return nil
}

// run drives one started run to its terminal state
func (o *Orchestrator) run(ctx context.Context, req domain.RunRequest) domain.RunStatus {
	log := o.log.WithFields(map[string]interface{}{"run_id": req.ID, "user_id": req.UserID})
	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	log.Info("run started", map[string]interface{}{
		"query":     req.Query,
		"radius_km": req.RadiusKm,
		"sources":   req.Sources,
	})

	results, msg, err := o.safeExecute(ctx, log, req)

	var (
		status   domain.RunStatus
		finished bool
	)
	switch {
	case ctx.Err() != nil:
		status, finished = o.tracker.Finish(req.UserID, req.ID, domain.RunCancelled, MessageStopped, results)
	case err != nil:
		status, finished = o.tracker.Finish(req.UserID, req.ID, domain.RunFailed, err.Error(), results)
	default:
		status, finished = o.tracker.Finish(req.UserID, req.ID, domain.RunSucceeded, msg, results)
	}
	if !finished {
		// Stopped by the operator, the tracker already holds the final state
		status = o.tracker.Status(req.UserID)
	}

	metrics.RunsTotal.WithLabelValues(string(status.State)).Inc()
	log.Info("run finished", map[string]interface{}{"state": status.State, "message": status.Message})

	if o.cfg.Events != nil {
		event := domain.RunEvent{Status: status, EmittedAt: o.cfg.Now()}
		if err := o.cfg.Events.PublishEvent(context.WithoutCancel(ctx), event); err != nil {
			log.Warn("publish run event failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return status
}

func (o *Orchestrator) safeExecute(ctx context.Context, log logger.Logger, req domain.RunRequest) (results *domain.RunResults, msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("run panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return o.execute(ctx, log, req)
}

func (o *Orchestrator) execute(ctx context.Context, log logger.Logger, req domain.RunRequest) (*domain.RunResults, string, error) {
	progress := func(pct int, msg string) { o.tracker.Progress(req.UserID, req.ID, pct, msg) }
	results := &domain.RunResults{
		Sources:    make(map[domain.SourceKey]domain.SourceReport),
		Rejections: make(map[string]int),
	}

	progress(progressResolved, "resolving "+req.Query)
	loc := o.cfg.Geocoder.Resolve(ctx, req.Query)
	if loc.Coords == nil {
		log.Warn("location resolved without coordinates, radius check disabled", map[string]interface{}{"query": req.Query})
	}
	if err := ctx.Err(); err != nil {
		return results, "", err
	}

	raws, err := o.scrape(ctx, log, req, loc, results, progress)
	if err != nil {
		return results, "", err
	}
	results.TotalRaw = len(raws)

	listings, drops := o.cfg.Normalizer.NormalizeAll(raws)
	for reason, n := range drops {
		results.Rejections["invalid: "+reason] += n
	}
	if err := ctx.Err(); err != nil {
		return results, "", err
	}

	progress(progressFiltered, fmt.Sprintf("validating %d listings", len(listings)))
	valid, stats := o.validator.Validate(ctx, listings, validator.SearchContext{Location: loc, RadiusKm: req.RadiusKm})
	for reason, n := range stats.Map() {
		results.Rejections[reason] += n
	}
	results.Valid = len(valid)

	owners, removed := o.cfg.Filter.Filter(valid)
	if removed > 0 {
		results.Rejections["agency"] = removed
	}
	results.NonAgency = len(owners)
	if err := ctx.Err(); err != nil {
		return results, "", err
	}

	progress(progressDeduped, fmt.Sprintf("deduplicating %d listings", len(owners)))
	deduped := dedup.Deduplicate(owners)
	if deduped.URLDupes > 0 {
		results.Rejections["duplicate_url"] = deduped.URLDupes
	}
	if deduped.ContentDupes > 0 {
		results.Rejections["duplicate_content"] = deduped.ContentDupes
	}
	results.AfterDedup = len(deduped.Listings)
	if err := ctx.Err(); err != nil {
		return results, "", err
	}

	progress(progressStoring, fmt.Sprintf("storing %d listings", len(deduped.Listings)))
	inserted, err := o.cfg.Store.InsertListings(ctx, req.UserID, deduped.Listings)
	if err != nil {
		log.Error("store listings failed", map[string]interface{}{"error": err.Error(), "count": len(deduped.Listings)})
		return results, "storage failure: " + err.Error(), nil
	}
	results.Inserted = inserted.Inserted
	results.Updated = inserted.Updated
	for _, l := range deduped.Listings {
		metrics.ListingsTotal.WithLabelValues(string(l.Source), "stored").Inc()
	}

	if o.cfg.Seen != nil {
		if err := o.cfg.Seen.MarkListings(ctx, deduped.Listings); err != nil {
			log.Warn("mark seen failed", map[string]interface{}{"error": err.Error()})
		}
	}

	msg := fmt.Sprintf("%d new, %d updated from %d raw listings", results.Inserted, results.Updated, results.TotalRaw)
	log.Info("pipeline complete", map[string]interface{}{
		"raw":         results.TotalRaw,
		"valid":       results.Valid,
		"non_agency":  results.NonAgency,
		"after_dedup": results.AfterDedup,
		"inserted":    results.Inserted,
		"updated":     results.Updated,
	})
	return results, msg, nil
}

// scrape runs one task per selected source and merges their listings in
// source key order. A failing source is reported, never fatal.
func (o *Orchestrator) scrape(ctx context.Context, log logger.Logger, req domain.RunRequest, loc domain.ResolvedLocation, results *domain.RunResults, progress func(int, string)) ([]domain.RawListing, error) {
	keys := o.selectSources(req.Sources)
	progress(progressScrapeLo, fmt.Sprintf("scraping %d sources", len(keys)))

	collected := make([][]domain.RawListing, len(keys))
	reports := make([]domain.SourceReport, len(keys))
	var done atomic.Int32

	var g errgroup.Group
	for i, key := range keys {
		g.Go(func() error {
			collected[i], reports[i] = o.scrapeSource(ctx, log, key, loc, req)
			n := int(done.Add(1))
			progress(progressScrapeLo+(progressScrapeHi-progressScrapeLo)*n/len(keys), fmt.Sprintf("scraped %s (%d/%d)", key, n, len(keys)))
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		for i, key := range keys {
			results.Sources[key] = reports[i]
		}
		return nil, err
	}

	var merged []domain.RawListing
	for i, key := range keys {
		results.Sources[key] = reports[i]
		merged = append(merged, collected[i]...)
	}
	return merged, nil
}

func (o *Orchestrator) scrapeSource(ctx context.Context, log logger.Logger, key domain.SourceKey, loc domain.ResolvedLocation, req domain.RunRequest) (raws []domain.RawListing, report domain.SourceReport) {
	log = log.WithFields(map[string]interface{}{"source": key})

	profile, ok := o.cfg.Registry.Profile(key)
	if !ok {
		report.Skipped = "unknown source"
		return nil, report
	}
	if !o.cfg.Registry.Available(key) {
		report.Skipped = o.cfg.Registry.DisabledReason(key)
		log.Info("source skipped", map[string]interface{}{"reason": report.Skipped})
		return nil, report
	}
	factory, ok := o.cfg.Catalogue[key]
	if !ok {
		report.Skipped = "no adapter"
		return nil, report
	}
	if ctx.Err() != nil {
		report.Skipped = "cancelled"
		return nil, report
	}

	deps, release := o.cfg.Deps.Build(profile)
	defer release()
	deps.Logger = log

	defer func() {
		if r := recover(); r != nil {
			log.Error("adapter panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
			raws = nil
			report.Raw = 0
			report.Error = fmt.Sprint(r)
		}
	}()

	maxPages := o.pageLimit(profile, req.MaxPages)
	start := o.cfg.Now()
	raws = factory(deps).Scrape(ctx, loc, req.RadiusKm, maxPages)
	report.Raw = len(raws)
	log.Info("source scraped", map[string]interface{}{
		"count":     len(raws),
		"max_pages": maxPages,
		"elapsed":   o.cfg.Now().Sub(start).String(),
	})
	return raws, report
}

// pageLimit caps the profile's page count by the run's request, which is
// itself capped by the configured ceiling
func (o *Orchestrator) pageLimit(profile registry.SiteProfile, requested int) int {
	if o.cfg.MaxPages > 0 && requested > o.cfg.MaxPages {
		requested = o.cfg.MaxPages
	}
	pages := profile.MaxPages
	if requested > 0 && (pages <= 0 || requested < pages) {
		pages = requested
	}
	if pages <= 0 {
		pages = 1
	}
	return pages
}

// selectSources removes repeats and sorts; an empty selection falls back
// to the default sources
func (o *Orchestrator) selectSources(selected []domain.SourceKey) []domain.SourceKey {
	if len(selected) == 0 {
		selected = o.cfg.DefaultSources
	}
	seen := make(map[domain.SourceKey]bool, len(selected))
	keys := make([]domain.SourceKey, 0, len(selected))
	for _, k := range selected {
		k = domain.SourceKey(strings.ToLower(strings.TrimSpace(string(k))))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
