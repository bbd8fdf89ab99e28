// Package timestamp extracts the UTC recording time embedded in archive
// file names. Formats are tried in a fixed order and the first match wins.
package timestamp

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"
)

// ErrNoTimestamp is returned when a name matches none of the accepted formats.
var ErrNoTimestamp = errors.New("timestamp: no accepted format matches")

// Format couples the pattern locating a timestamp with its Go layout.
type Format struct {
	Name    string
	Pattern *regexp.Regexp
	Layout  string
}

// Formats is the ordered list of accepted embedded timestamps.
var Formats = []Format{
	{
		Name:    "ooi-remote",
		Pattern: regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6}Z`),
		Layout:  "2006-01-02T15:04:05.000000Z",
	},
	{
		Name:    "ooi-local",
		Pattern: regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{6}\.\d{6}Z`),
		Layout:  "2006-01-02T150405.000000Z",
	},
	{
		Name:    "onc",
		Pattern: regexp.MustCompile(`\d{8}T\d{6}\.\d{3}Z`),
		Layout:  "20060102T150405.000Z",
	},
	{
		Name:    "iso-millis",
		Pattern: regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z`),
		Layout:  "2006-01-02T15:04:05.000Z",
	},
}

// Parse returns the timestamp embedded in the base name of path.
func Parse(path string) (time.Time, error) {
	name := filepath.Base(path)
	for _, f := range Formats {
		match := f.Pattern.FindString(name)
		if match == "" {
			continue
		}
		ts, err := time.ParseInLocation(f.Layout, match, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp: %s in %q: %w", f.Name, name, err)
		}
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrNoTimestamp, name)
}
