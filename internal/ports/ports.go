package ports

import (
	"context"
	"time"

	"HydrophoneStreamer/internal/domain"
)

// SaveDir is the on-disk state of one streaming directory.
type SaveDir interface {
	Path(name string) string
	Exists(name string) bool
	// Files lists the basenames carrying ext, sorted.
	Files(ext string) ([]string, error)
	// LatestTimestamp returns the newest embedded timestamp among local audio
	// files and the file carrying it; zero values when the directory is empty.
	LatestTimestamp() (time.Time, string, error)
	WritePointer() (string, error)
	WriteFilters(filter domain.Filter) error
	WriteCitation(bibtex string) (bool, error)
	HasCitation() bool
	LoadOrders() ([]domain.PendingOrder, error)
	SaveOrders(orders []domain.PendingOrder) error
	Sweep(now time.Time) ([]string, error)
}

// Normalizer converts provider-native audio containers into the output codec.
type Normalizer interface {
	// Normalize converts path and returns the final file path.
	Normalize(ctx context.Context, path string) (string, error)
	// TargetName maps a source basename to the normalized basename.
	TargetName(name string) string
}

// Job is one polling cycle; it reports how many files became available.
type Job func(ctx context.Context) (int, error)

// Scheduler drives a polling job in the background.
type Scheduler interface {
	Start(ctx context.Context, job Job) error
	// Wait blocks until the loop exits and returns the error that ended it.
	Wait() error
	Stop(ctx context.Context) error
}
