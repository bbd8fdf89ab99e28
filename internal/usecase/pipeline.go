package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"HydrophoneStreamer/internal/domain"
	"HydrophoneStreamer/internal/metrics"
	"HydrophoneStreamer/internal/ports"
	"HydrophoneStreamer/internal/provider"
)

// sourceExts are the provider-native containers, miniSEED first so that a
// WAV intermediate is rebuilt from its source rather than converted alone.
var sourceExts = []string{".mseed", ".wav"}

// PipelineDeps wires all driven adapters into the fetch pipeline.
type PipelineDeps struct {
	Provider   provider.Provider
	SaveDir    ports.SaveDir
	Normalizer ports.Normalizer
	Clock      clockwork.Clock
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Pipeline runs one polling cycle: sweep, window, list, dedup, fetch,
// normalize and publish the latest pointer.
type Pipeline struct {
	provider   provider.Provider
	saveDir    ports.SaveDir
	normalizer ports.Normalizer
	clock      clockwork.Clock
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		provider:   deps.Provider,
		saveDir:    deps.SaveDir,
		normalizer: deps.Normalizer,
		clock:      clock,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

// RunCycle executes one FETCHING pass and returns the files that became
// available locally. Per-file failures are joined into the returned error
// while the remaining files are still processed.
func (p *Pipeline) RunCycle(ctx context.Context) (domain.CycleResult, error) {
	started := p.clock.Now()
	log := p.logger.With("cycle", uuid.NewString())

	result, err := p.runCycle(ctx, log)

	outcome := metrics.ResultIdle
	switch {
	case err != nil:
		outcome = metrics.ResultError
	case len(result.Fetched) > 0:
		outcome = metrics.ResultFetched
	}
	p.metrics.ObserveCycle(outcome, p.clock.Since(started))

	return result, err
}

func (p *Pipeline) runCycle(ctx context.Context, log *slog.Logger) (domain.CycleResult, error) {
	var result domain.CycleResult
	now := p.clock.Now().UTC()

	removed, err := p.saveDir.Sweep(now)
	if err != nil {
		p.metrics.Error("sweep")
		log.Warn("retention sweep failed", "error", err)
	}
	if len(removed) > 0 {
		p.metrics.Swept(len(removed))
		log.Info("retention sweep removed files", "count", len(removed))
	}

	var errs []error

	leftovers, err := p.convertLeftovers(ctx, log)
	result.Fetched = append(result.Fetched, leftovers...)
	if err != nil {
		errs = append(errs, err)
	}

	latest, _, err := p.saveDir.LatestTimestamp()
	if err != nil {
		p.metrics.Error("scan")
		return result, fmt.Errorf("scan save dir: %w", err)
	}

	window := ComputeWindow(now, p.provider.BuiltInDelay(), latest)
	log.Debug("window computed", "from", window.Start, "to", window.End)

	listing, err := p.provider.List(ctx, window)
	if err != nil {
		p.metrics.Error("list")
		errs = append(errs, fmt.Errorf("list %s: %w", p.provider.Network(), err))
		if perr := p.publish(log, result); perr != nil {
			errs = append(errs, perr)
		}
		return result, errors.Join(errs...)
	}

	fetched, fetchErr := p.fetchMissing(ctx, log, listing)
	result.Fetched = append(result.Fetched, fetched...)
	if fetchErr != nil {
		errs = append(errs, fetchErr)
	}

	p.ensureCitation(ctx, log, window)

	if orderer, ok := p.provider.(provider.Orderer); ok {
		delivered, ordered, err := p.handleOrders(ctx, log, orderer, window, len(listing.Entries) == 0)
		result.Fetched = append(result.Fetched, delivered...)
		result.Ordered = ordered
		if err != nil {
			errs = append(errs, err)
		}
	}

	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	if err := p.publish(log, result); err != nil {
		errs = append(errs, err)
	}
	return result, errors.Join(errs...)
}

// publish rewrites latest.txt when the cycle produced files.
func (p *Pipeline) publish(log *slog.Logger, result domain.CycleResult) error {
	if len(result.Fetched) == 0 {
		return nil
	}
	pointer, err := p.saveDir.WritePointer()
	if err != nil {
		p.metrics.Error("pointer")
		return fmt.Errorf("write latest pointer: %w", err)
	}
	log.Info("latest pointer updated", "file", pointer, "fetched", len(result.Fetched))
	if ts, _, err := p.saveDir.LatestTimestamp(); err == nil {
		p.metrics.SetLatest(ts)
	}
	return nil
}

// fetchMissing downloads and normalizes every listed entry that is not yet
// present locally under either its source or its normalized name. Kept
// sources are left to convertLeftovers.
func (p *Pipeline) fetchMissing(ctx context.Context, log *slog.Logger, listing domain.Listing) ([]string, error) {
	var missing []domain.RemoteEntry
	for _, entry := range listing.Entries {
		if p.saveDir.Exists(p.normalizer.TargetName(entry.Name)) || p.saveDir.Exists(entry.Name) {
			continue
		}
		missing = append(missing, entry)
	}

	if len(missing) == 0 {
		if len(listing.Entries) > 0 {
			log.Debug("all listed files already present", "listed", len(listing.Entries))
		}
		return nil, nil
	}

	var (
		fetched []string
		errs    []error
	)

	for _, entry := range missing {
		if ctx.Err() != nil {
			return fetched, ctx.Err()
		}

		path, err := p.provider.Fetch(ctx, entry)
		if err != nil {
			p.metrics.Error("fetch")
			errs = append(errs, fmt.Errorf("fetch %s: %w", entry.Name, err))
			continue
		}

		size := fileSize(path)
		p.metrics.FileFetched(string(p.provider.Network()), size)
		log.Info("file fetched", "file", entry.Name, "size", humanize.Bytes(uint64(max(size, 0))))

		out, err := p.normalize(ctx, log, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fetched = append(fetched, out)
	}

	if err := p.saveDir.WriteFilters(listing.Filter); err != nil {
		errs = append(errs, fmt.Errorf("write filters: %w", err))
	}

	return fetched, errors.Join(errs...)
}

// convertLeftovers retries every source still on disk without its normalized
// file. Such sources come from failed conversions and may lie outside the
// current window, so they are found by scanning the save dir.
func (p *Pipeline) convertLeftovers(ctx context.Context, log *slog.Logger) ([]string, error) {
	var (
		converted []string
		errs      []error
	)
	for _, ext := range sourceExts {
		names, err := p.saveDir.Files(ext)
		if err != nil {
			p.metrics.Error("scan")
			return converted, fmt.Errorf("scan kept sources: %w", err)
		}
		for _, name := range names {
			if ctx.Err() != nil {
				return converted, ctx.Err()
			}
			target := p.normalizer.TargetName(name)
			// a miniSEED conversion earlier in this pass consumes its WAV intermediate
			if target == name || p.saveDir.Exists(target) || !p.saveDir.Exists(name) {
				continue
			}

			log.Info("retrying conversion of kept source", "file", name)
			out, err := p.normalize(ctx, log, p.saveDir.Path(name))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			converted = append(converted, out)
		}
	}
	return converted, errors.Join(errs...)
}

func (p *Pipeline) normalize(ctx context.Context, log *slog.Logger, path string) (string, error) {
	out, err := p.normalizer.Normalize(ctx, path)
	if err != nil {
		p.metrics.Converted("failed")
		p.metrics.Error("convert")
		log.Warn("conversion failed, source kept", "file", filepath.Base(path), "error", err)
		return "", fmt.Errorf("normalize %s: %w", filepath.Base(path), err)
	}
	if out != path {
		p.metrics.Converted("ok")
		log.Debug("file normalized", "from", filepath.Base(path), "to", filepath.Base(out))
	}
	return out, nil
}

// handleOrders collects pending data product orders and, when the direct
// listing was empty and nothing is outstanding, places a new one.
func (p *Pipeline) handleOrders(ctx context.Context, log *slog.Logger, orderer provider.Orderer, window domain.Window, listingEmpty bool) ([]string, bool, error) {
	pending, err := p.saveDir.LoadOrders()
	if err != nil {
		p.metrics.Error("orders")
		return nil, false, fmt.Errorf("load orders: %w", err)
	}

	var (
		fetched []string
		errs    []error
		keep    []domain.PendingOrder
	)

	for i := range pending {
		order := pending[i]
		paths, done, err := orderer.CollectOrder(ctx, &order)
		if err != nil {
			p.metrics.Error("order")
			errs = append(errs, err)
		}
		for _, path := range paths {
			p.metrics.FileFetched(string(p.provider.Network()), fileSize(path))
			out, err := p.normalize(ctx, log, path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			fetched = append(fetched, out)
		}
		if done {
			log.Info("data product order finished", "request_id", order.RequestID, "files", len(paths))
			continue
		}
		keep = append(keep, order)
	}

	ordered := false
	if listingEmpty && len(keep) == 0 && ctx.Err() == nil {
		order, ok, err := orderer.PlaceOrder(ctx, window)
		switch {
		case err != nil:
			p.metrics.Error("order")
			errs = append(errs, fmt.Errorf("place order: %w", err))
		case ok:
			p.metrics.OrderPlaced()
			keep = append(keep, order)
			ordered = true
			if err := p.saveDir.WriteFilters(order.Filter); err != nil {
				errs = append(errs, fmt.Errorf("write filters: %w", err))
			}
		default:
			log.Info("no order candidate accepted, nothing to fetch this cycle")
		}
	}

	if ordered || len(pending) > 0 {
		if err := p.saveDir.SaveOrders(keep); err != nil {
			errs = append(errs, fmt.Errorf("save orders: %w", err))
		}
	}

	return fetched, ordered, errors.Join(errs...)
}

func (p *Pipeline) ensureCitation(ctx context.Context, log *slog.Logger, window domain.Window) {
	if p.saveDir.HasCitation() {
		return
	}
	bib, err := p.provider.Citation(ctx, window)
	if err != nil {
		p.metrics.Error("citation")
		log.Warn("citation unavailable", "error", err)
		return
	}
	if _, err := p.saveDir.WriteCitation(bib); err != nil {
		log.Warn("write citation failed", "error", err)
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}
