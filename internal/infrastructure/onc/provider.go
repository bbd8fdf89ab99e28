package onc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"HydrophoneStreamer/internal/domain"
	"HydrophoneStreamer/internal/infrastructure/httpfetch"
	"HydrophoneStreamer/internal/provider"
	"HydrophoneStreamer/internal/timestamp"
)

// ErrMissingToken is returned when no ONC API token is configured.
var ErrMissingToken = errors.New(`no Ocean Networks Canada token is configured.
Register the token once with:

    hydrophone-streamer set-token <your_token_here>

If you do not have a token, register at https://data.oceannetworks.ca/Profile,
open the "Web Services" tab and click "Generate Token"`)

const (
	// DateLayout is the ONC query timestamp format.
	DateLayout = "2006-01-02T15:04:05.000Z"

	defaultExtension = "flac"
	defaultRowLimit  = 80000
	defaultDelay     = 60 * time.Minute
	defaultOrderTTL  = 24 * time.Hour
)

// orderOverlays are applied in order to the base product filter until the
// service accepts one.
var orderOverlays = []domain.Filter{
	{"dpo_hydrophoneDataDiversionMode": "OD"},
	{"dpo_hydrophoneDataDiversionMode": "OD", "dpo_hydrophoneChannel": "All"},
	{"dpo_hydrophoneChannel": "All"},
	{"dpo_audioFormatConversion": 0, "dpo_hydrophoneDataDiversionMode": "OD", "dpo_hydrophoneChannel": "All"},
	{"dpo_audioFormatConversion": 0, "dpo_hydrophoneDataDiversionMode": "OD"},
	{"dpo_audioFormatConversion": 1, "dpo_hydrophoneDataDiversionMode": "OD", "dpo_hydrophoneChannel": "All"},
}

// Options configures the ONC provider.
type Options struct {
	BaseURL  string
	Token    string
	SaveDir  string
	RowLimit int
	Delay    time.Duration
	OrderTTL time.Duration
	Clock    clockwork.Clock
}

// Provider streams one ONC hydrophone device.
type Provider struct {
	client   *Client
	setting  domain.Filter
	saveDir  string
	rowLimit int
	delay    time.Duration
	orderTTL time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Orderer  = (*Provider)(nil)
)

// New validates the stream setting and token before any request is made.
func New(opts Options, setting domain.Filter, hc *httpfetch.Client, logger *slog.Logger) (*Provider, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, ErrMissingToken
	}
	if err := setting.Require("deviceCode"); err != nil {
		return nil, fmt.Errorf("onc stream setting: %w", err)
	}
	if hc == nil {
		hc = httpfetch.NewClient(nil, httpfetch.Options{})
	}
	if opts.RowLimit <= 0 {
		opts.RowLimit = defaultRowLimit
	}
	if opts.Delay <= 0 {
		opts.Delay = defaultDelay
	}
	if opts.OrderTTL <= 0 {
		opts.OrderTTL = defaultOrderTTL
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Provider{
		client:   NewClient(hc, opts.BaseURL, opts.Token),
		setting:  setting.Clone(),
		saveDir:  opts.SaveDir,
		rowLimit: opts.RowLimit,
		delay:    opts.Delay,
		orderTTL: opts.OrderTTL,
		clock:    opts.Clock,
		logger:   logger,
	}, nil
}

// Network identifies the provider inside the registry.
func (p *Provider) Network() domain.Network {
	return domain.NetworkONC
}

// BuiltInDelay is the ONC publication latency.
func (p *Provider) BuiltInDelay() time.Duration {
	return p.delay
}

func (p *Provider) deviceCode() string {
	return p.setting.String("deviceCode")
}

func (p *Provider) extension() string {
	if ext := strings.TrimPrefix(p.setting.String("extension"), "."); ext != "" {
		return ext
	}
	return defaultExtension
}

// ListingFilter builds the archive listing query. It carries exactly
// deviceCode, dateFrom, dateTo, extension and rowLimit.
func (p *Provider) ListingFilter(w domain.Window) domain.Filter {
	return domain.Filter{
		"deviceCode": p.deviceCode(),
		"dateFrom":   w.Start.UTC().Format(DateLayout),
		"dateTo":     w.End.UTC().Format(DateLayout),
		"extension":  p.extension(),
		"rowLimit":   p.rowLimit,
	}
}

// List queries the archive for files recorded inside the window.
func (p *Provider) List(ctx context.Context, w domain.Window) (domain.Listing, error) {
	filter := p.ListingFilter(w)
	p.debug("list archive files", "filter", filter)

	files, err := p.client.ListByDevice(ctx, filter)
	if err != nil {
		return domain.Listing{}, err
	}

	entries := make([]domain.RemoteEntry, 0, len(files))
	for _, file := range files {
		name := filepath.Base(file)
		ts, err := timestamp.Parse(name)
		if err != nil {
			return domain.Listing{}, fmt.Errorf("archive file %s: %w", name, err)
		}
		entries = append(entries, domain.RemoteEntry{
			Name:      name,
			URL:       p.client.FileURL(name),
			Timestamp: ts,
			Size:      -1,
		})
	}

	return domain.Listing{Entries: entries, Filter: filter}, nil
}

// Fetch downloads one archived file into the save directory.
func (p *Provider) Fetch(ctx context.Context, entry domain.RemoteEntry) (string, error) {
	dest := filepath.Join(p.saveDir, entry.Name)
	if _, err := p.client.DownloadFile(ctx, entry.Name, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// OrderFilter is the data product order the overlays are applied to.
func (p *Provider) OrderFilter(w domain.Window) domain.Filter {
	return domain.Filter{
		"deviceCode":          p.deviceCode(),
		"deviceCategoryCode":  "HYDROPHONE",
		"dataProductCode":     "AD",
		"extension":           p.extension(),
		"dateFrom":            w.Start.UTC().Format(DateLayout),
		"dateTo":              w.End.UTC().Format(DateLayout),
		"dpo_audioDownsample": -1,
	}
}

// PlaceOrder submits the overlay candidates in order and returns the first
// one the service accepts. Rejected candidates are logged and skipped.
func (p *Provider) PlaceOrder(ctx context.Context, w domain.Window) (domain.PendingOrder, bool, error) {
	base := p.OrderFilter(w)

	for i, overlay := range orderOverlays {
		candidate := base.Merge(overlay)

		requestID, err := p.client.RequestProduct(ctx, candidate)
		if err == nil {
			var runs []int
			runs, err = p.client.RunProduct(ctx, requestID)
			if err == nil {
				order := domain.PendingOrder{
					RequestID: requestID,
					RunIDs:    runs,
					Filter:    candidate,
					PlacedAt:  p.clock.Now().UTC(),
					NextIndex: map[int]int{},
				}
				p.info("data product order placed", "candidate", i+1, "request_id", requestID, "runs", runs)
				return order, true, nil
			}
		}

		if ctx.Err() != nil {
			return domain.PendingOrder{}, false, ctx.Err()
		}
		p.warn("order candidate rejected", "candidate", i+1, "error", err)
	}

	return domain.PendingOrder{}, false, nil
}

// CollectOrder downloads every file of the order that is ready. Runs are
// walked from their saved index; a negative index marks a finished run.
func (p *Provider) CollectOrder(ctx context.Context, order *domain.PendingOrder) ([]string, bool, error) {
	if order.NextIndex == nil {
		order.NextIndex = map[int]int{}
	}

	var paths []string
	finished := 0
	for _, run := range order.RunIDs {
		index, ok := order.NextIndex[run]
		if !ok || index == 0 {
			index = 1
		}

		for index > 0 {
			path, state, err := p.client.DownloadProduct(ctx, run, index, p.saveDir)
			if err != nil {
				order.NextIndex[run] = index
				return paths, false, fmt.Errorf("order %d run %d: %w", order.RequestID, run, err)
			}
			switch state {
			case RunFile:
				paths = append(paths, path)
				index++
				continue
			case RunExhausted:
				index = -1
			}
			break
		}

		order.NextIndex[run] = index
		if index < 0 {
			finished++
		}
	}

	if finished == len(order.RunIDs) {
		return paths, true, nil
	}
	if age := p.clock.Since(order.PlacedAt); age > p.orderTTL {
		p.warn("data product order expired", "request_id", order.RequestID, "age", age.Round(time.Minute))
		return paths, true, nil
	}
	return paths, false, nil
}

// Citation renders the deployment citation of the device as BibTeX.
func (p *Provider) Citation(ctx context.Context, w domain.Window) (string, error) {
	deployments, err := p.client.Deployments(ctx, p.deviceCode())
	if err != nil {
		return "", err
	}
	if len(deployments) == 0 {
		return "", fmt.Errorf("no deployments for %s", p.deviceCode())
	}

	chosen := deployments[len(deployments)-1]
	for _, d := range deployments {
		if !d.Begin.After(w.End) && (d.End == nil || !d.End.Before(w.End)) {
			chosen = d
			break
		}
	}

	return formatCitation(filepath.Base(p.saveDir), string(chosen.Citation))
}

// formatCitation splits "author. year. title. journal. doi" into a BibTeX
// @misc record keyed by key.
func formatCitation(key, text string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(text), ". ", 5)
	if len(parts) != 5 {
		return "", fmt.Errorf("citation %q: expected author, year, title, journal and doi", text)
	}
	author, year, title, journal, doi := parts[0], parts[1], parts[2], parts[3], strings.TrimSuffix(parts[4], ".")

	return fmt.Sprintf("@misc{%s, author={%s}, year={%s}, title={%s}, journal={%s}, doi={%s},}",
		key, author, year, title, journal, doi), nil
}

func (p *Provider) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Provider) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Provider) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
