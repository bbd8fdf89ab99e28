// Package ooi scans the OOI raw data archive, a plain HTTP directory index
// with one folder per recording day.
package ooi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonboulle/clockwork"

	"HydrophoneStreamer/internal/domain"
	"HydrophoneStreamer/internal/infrastructure/httpfetch"
	"HydrophoneStreamer/internal/provider"
	"HydrophoneStreamer/internal/timestamp"
)

const (
	// DefaultArchivePrefix is the only archive the streamer accepts by default.
	DefaultArchivePrefix = "https://rawdata-west.oceanobservatories.org/files/"

	dayLayout        = "2006/01/02/"
	dayLag           = 5 * time.Minute
	defaultMinSize   = 1_000_000
	defaultDelay     = 30 * time.Minute
	mseedExt         = ".mseed"
	queryDateLayout  = "2006-01-02T15:04:05.000000Z"
	citationDayStamp = "20060102"
)

var (
	// ErrUnrecognisedURL is returned for stream URLs outside the archive.
	ErrUnrecognisedURL = errors.New("ooi: url is not recognised for OOI")
	// ErrUnknownDeployment is returned when no metadata matches the URL.
	ErrUnknownDeployment = errors.New("ooi: deployment metadata not found")
	// ErrEmptyIndex is returned when a day index has no links at all.
	ErrEmptyIndex = errors.New("ooi: no links in directory index")
)

// Options configures the OOI scanner.
type Options struct {
	ArchivePrefix string
	SaveDir       string
	MinFileSize   int64
	Delay         time.Duration
	Clock         clockwork.Clock
}

// Scanner lists and downloads miniSEED segments of one OOI hydrophone.
type Scanner struct {
	http       *httpfetch.Client
	url        string
	deployment Deployment
	saveDir    string
	minSize    int64
	delay      time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
}

var _ provider.Provider = (*Scanner)(nil)

// NewScanner validates the stream URL: archive prefix, known deployment and
// an HTTP 200 answer.
func NewScanner(ctx context.Context, opts Options, setting domain.Filter, hc *httpfetch.Client, logger *slog.Logger) (*Scanner, error) {
	if err := setting.Require("url"); err != nil {
		return nil, fmt.Errorf("ooi stream setting: %w", err)
	}
	streamURL := setting.String("url")
	if !strings.HasSuffix(streamURL, "/") {
		streamURL += "/"
	}

	if opts.ArchivePrefix == "" {
		opts.ArchivePrefix = DefaultArchivePrefix
	}
	if !strings.HasPrefix(streamURL, opts.ArchivePrefix) {
		return nil, fmt.Errorf("%w: %s", ErrUnrecognisedURL, streamURL)
	}

	deployment, ok := LookupDeployment(streamURL)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDeployment, streamURL)
	}

	if hc == nil {
		hc = httpfetch.NewClient(nil, httpfetch.Options{Timeout: 20 * time.Second})
	}
	body, err := hc.Get(ctx, streamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %s: %w", streamURL, err)
	}
	body.Close()

	if opts.MinFileSize <= 0 {
		opts.MinFileSize = defaultMinSize
	}
	if opts.Delay <= 0 {
		opts.Delay = defaultDelay
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Scanner{
		http:       hc,
		url:        streamURL,
		deployment: deployment,
		saveDir:    opts.SaveDir,
		minSize:    opts.MinFileSize,
		delay:      opts.Delay,
		clock:      opts.Clock,
		logger:     logger,
	}, nil
}

// Network identifies the strategy inside the registry.
func (s *Scanner) Network() domain.Network {
	return domain.NetworkOOI
}

// BuiltInDelay is the OOI publication latency.
func (s *Scanner) BuiltInDelay() time.Duration {
	return s.delay
}

// DayURL is the index of the day five minutes before now.
func (s *Scanner) DayURL() string {
	return s.url + s.clock.Now().UTC().Add(-dayLag).Format(dayLayout)
}

// List walks the day index newest first and keeps the miniSEED segments
// inside the window that are large enough to hold a full recording.
func (s *Scanner) List(ctx context.Context, w domain.Window) (domain.Listing, error) {
	dayURL := s.DayURL()

	doc, err := s.fetchDocument(ctx, dayURL)
	if err != nil {
		return domain.Listing{}, err
	}

	candidates, err := extractSegments(doc, dayURL)
	if err != nil {
		return domain.Listing{}, err
	}

	var entries []domain.RemoteEntry
	for _, c := range candidates {
		if !w.Contains(c.Timestamp) {
			continue
		}

		info, err := s.http.Head(ctx, c.URL)
		if err != nil {
			return domain.Listing{}, fmt.Errorf("head %s: %w", c.Name, err)
		}
		if info.Size < s.minSize {
			s.debug("skip short segment", "file", c.Name, "size", info.Size)
			continue
		}
		c.Size = info.Size
		entries = append(entries, c)
	}

	filter := domain.Filter{
		"url":      dayURL,
		"dateFrom": w.Start.UTC().Format(queryDateLayout),
		"dateTo":   w.End.UTC().Format(queryDateLayout),
	}
	s.debug("day index scanned", "url", dayURL, "links", len(candidates), "entries", len(entries))
	return domain.Listing{Entries: entries, Filter: filter}, nil
}

// Fetch downloads one segment into the save directory.
func (s *Scanner) Fetch(ctx context.Context, entry domain.RemoteEntry) (string, error) {
	dest := filepath.Join(s.saveDir, entry.Name)
	if _, err := s.http.Download(ctx, entry.URL, dest); err != nil {
		return "", fmt.Errorf("download %s: %w", entry.Name, err)
	}
	return dest, nil
}

// Citation renders the archive reference for the deployment.
func (s *Scanner) Citation(_ context.Context, w domain.Window) (string, error) {
	now := s.clock.Now().UTC()
	d := s.deployment

	var b strings.Builder
	fmt.Fprintf(&b, "@misc{%s_%s,\n", d.ReferenceDesignator, w.End.UTC().Format(citationDayStamp))
	b.WriteString("    title = {NSF Ocean Observatories Initiative},\n")
	fmt.Fprintf(&b, "    year = {%d},\n", now.Year())
	fmt.Fprintf(&b, "    howpublished = {Instrument and/or data product(s) %s data from %s to %s},\n",
		d.ReferenceDesignator, w.Start.UTC().Format(time.DateOnly), w.End.UTC().Format(time.DateOnly))
	b.WriteString("    publisher = {Raw Data Archive},\n")
	fmt.Fprintf(&b, "    note = {latitude %g, longitude %g, depth %d m},\n", d.Latitude, d.Longitude, d.Depth)
	fmt.Fprintf(&b, "    url = {%s},\n", s.DayURL())
	fmt.Fprintf(&b, "    accessed = {%s},}", now.Format(time.DateOnly))
	return b.String(), nil
}

func (s *Scanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := s.http.Get(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data from %s: %w", pageURL, err)
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

// extractSegments returns the .mseed links of an index, last link first.
func extractSegments(doc *goquery.Document, pageURL string) ([]domain.RemoteEntry, error) {
	links := doc.Find("a[href]")
	if links.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyIndex, pageURL)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid index url %s: %w", pageURL, err)
	}

	var out []domain.RemoteEntry
	for i := links.Length() - 1; i >= 0; i-- {
		href, _ := links.Eq(i).Attr("href")
		if !strings.HasSuffix(href, mseedExt) {
			continue
		}

		entry, err := parseSegment(base, href)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func parseSegment(base *url.URL, href string) (domain.RemoteEntry, error) {
	ref, err := url.Parse(href)
	if err != nil || (ref.Scheme != "" && ref.Scheme != "http" && ref.Scheme != "https") {
		// a bare name with a colon parses as a scheme
		ref, err = url.Parse("./" + href)
	}
	if err != nil {
		return domain.RemoteEntry{}, fmt.Errorf("invalid href %q: %w", href, err)
	}
	absolute := base.ResolveReference(ref)

	remoteName := path.Base(absolute.Path)
	ts, err := timestamp.Parse(remoteName)
	if err != nil {
		return domain.RemoteEntry{}, fmt.Errorf("segment %s: %w", remoteName, err)
	}

	return domain.RemoteEntry{
		Name:      strings.ReplaceAll(remoteName, ":", ""),
		URL:       absolute.String(),
		Timestamp: ts,
		Size:      -1,
	}, nil
}

func (s *Scanner) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
