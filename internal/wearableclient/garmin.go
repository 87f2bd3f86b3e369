// Package wearableclient imports Garmin Connect CSV exports into the
// persistent store, producing the immutable health samples and
// activities the planner's snapshot derivation reads.
package wearableclient

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wellforge/fitcadence/internal/domain/health"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
)

// FileType identifies which Garmin export a file holds.
type FileType string

const (
	FileTypeUnknown    FileType = "unknown"
	FileTypeWellness   FileType = "wellness"
	FileTypeActivities FileType = "activities"
)

// HealthWriter is the store capability the importer needs: idempotent
// upserts that report whether the row was new.
type HealthWriter interface {
	UpsertSample(ctx context.Context, sample health.Sample) (bool, error)
	UpsertActivity(ctx context.Context, a health.Activity) (bool, error)
}

// Result summarizes one import run.
type Result struct {
	Imported   int
	Duplicates int
	Skipped    int
}

// Importer parses Garmin CSV exports and writes them through a
// HealthWriter.
type Importer struct {
	Store HealthWriter
}

// DetectFileType sniffs the header row to determine which export the
// reader holds.
func DetectFileType(reader io.Reader) (FileType, []byte, error) {
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, reader); err != nil {
		return FileTypeUnknown, nil, apperrors.NewInternal("failed to read import file", err)
	}

	content := strings.TrimPrefix(buf.String(), "\ufeff")
	lines := strings.SplitN(content, "\n", 2)
	if len(lines) == 0 {
		return FileTypeUnknown, []byte(content), nil
	}
	header := strings.ToLower(lines[0])

	switch {
	case strings.Contains(header, "activity type"):
		return FileTypeActivities, []byte(content), nil
	case strings.Contains(header, "sleep score") || strings.Contains(header, "resting hr") || strings.Contains(header, "stress"):
		return FileTypeWellness, []byte(content), nil
	}
	return FileTypeUnknown, []byte(content), nil
}

// Import detects the file type and routes to the matching parser.
func (g Importer) Import(ctx context.Context, reader io.Reader) (Result, error) {
	fileType, content, err := DetectFileType(reader)
	if err != nil {
		return Result{}, err
	}
	switch fileType {
	case FileTypeWellness:
		return g.importWellness(ctx, bytes.NewReader(content))
	case FileTypeActivities:
		return g.importActivities(ctx, bytes.NewReader(content))
	default:
		return Result{}, apperrors.NewValidationMsg("unrecognized Garmin export format")
	}
}

// importWellness parses the daily wellness export: one row per day with
// sleep, heart, and stress metrics.
func (g Importer) importWellness(ctx context.Context, reader io.Reader) (Result, error) {
	var result Result
	rows, header, err := readCSV(reader)
	if err != nil {
		return result, err
	}

	for _, row := range rows {
		get := fieldGetter(header, row)

		ts, err := parseDate(get("date"))
		if err != nil {
			result.Skipped++
			continue
		}

		sample := health.Sample{
			Timestamp:         ts,
			Source:            "garmin",
			SleepDurationHrs:  parseDurationHours(get("sleep duration")),
			SleepQualityScore: parseFloat(get("sleep score")),
			RestingHR:         parseFloat(get("resting hr")),
			HRVScore:          parseFloat(get("hrv")),
			StressLevel:       parseFloat(get("stress")),
			RecoveryScore:     parseFloat(get("body battery")),
			Steps:             int(parseFloat(get("steps"))),
			RawPayload:        rawPayload(header, row),
		}

		inserted, err := g.Store.UpsertSample(ctx, sample)
		if err != nil {
			return result, err
		}
		if inserted {
			result.Imported++
		} else {
			result.Duplicates++
		}
	}
	return result, nil
}

// importActivities parses the activities export: one row per completed
// workout.
func (g Importer) importActivities(ctx context.Context, reader io.Reader) (Result, error) {
	var result Result
	rows, header, err := readCSV(reader)
	if err != nil {
		return result, err
	}

	for _, row := range rows {
		get := fieldGetter(header, row)

		ts, err := parseDateTime(get("date"))
		if err != nil {
			result.Skipped++
			continue
		}

		a := health.Activity{
			Timestamp:       ts,
			Discipline:      disciplineFor(get("activity type")),
			DurationMinutes: parseDurationMinutes(get("time")),
			DistanceKM:      parseFloat(get("distance")),
			AvgHR:           parseFloat(get("avg hr")),
			TrainingLoad:    parseFloat(get("training load")),
			Calories:        parseFloat(get("calories")),
			RawPayload:      rawPayload(header, row),
		}

		inserted, err := g.Store.UpsertActivity(ctx, a)
		if err != nil {
			return result, err
		}
		if inserted {
			result.Imported++
		} else {
			result.Duplicates++
		}
	}
	return result, nil
}

func readCSV(reader io.Reader) ([][]string, map[string]int, error) {
	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, apperrors.NewValidationMsg(fmt.Sprintf("malformed CSV: %v", err))
	}
	if len(all) < 1 {
		return nil, nil, apperrors.NewValidationMsg("empty CSV")
	}

	header := make(map[string]int, len(all[0]))
	for i, name := range all[0] {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return all[1:], header, nil
}

func fieldGetter(header map[string]int, row []string) func(string) string {
	return func(name string) string {
		idx, ok := header[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
}

func rawPayload(header map[string]int, row []string) map[string]any {
	payload := make(map[string]any, len(header))
	for name, idx := range header {
		if idx < len(row) {
			payload[name] = row[idx]
		}
	}
	return payload
}

// disciplineFor maps Garmin activity type labels onto the planner's
// discipline set.
func disciplineFor(activityType string) health.Discipline {
	t := strings.ToLower(activityType)
	switch {
	case strings.Contains(t, "run"):
		return health.DisciplineRun
	case strings.Contains(t, "cycling") || strings.Contains(t, "biking") || strings.Contains(t, "bike"):
		return health.DisciplineBike
	case strings.Contains(t, "swim"):
		return health.DisciplineSwim
	case strings.Contains(t, "strength") || strings.Contains(t, "training"):
		return health.DisciplineStrength
	default:
		return health.DisciplineOther
	}
}

func parseFloat(s string) float64 {
	if s == "" || s == "--" {
		return 0
	}
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseDurationHours parses "7h 32m" or "7:32" sleep durations into
// fractional hours.
func parseDurationHours(s string) float64 {
	return parseDurationMinutes(s) / 60
}

// parseDurationMinutes parses "01:05:30", "7:32", or "45 min" into
// minutes.
func parseDurationMinutes(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" {
		return 0
	}

	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		var minutes float64
		switch len(parts) {
		case 3:
			minutes = parseFloat(parts[0])*60 + parseFloat(parts[1]) + parseFloat(parts[2])/60
		case 2:
			minutes = parseFloat(parts[0])*60 + parseFloat(parts[1])
		default:
			return 0
		}
		return minutes
	}

	if strings.Contains(s, "h") {
		var hours, mins float64
		fields := strings.Fields(s)
		for _, f := range fields {
			switch {
			case strings.HasSuffix(f, "h"):
				hours = parseFloat(strings.TrimSuffix(f, "h"))
			case strings.HasSuffix(f, "m"):
				mins = parseFloat(strings.TrimSuffix(f, "m"))
			}
		}
		return hours*60 + mins
	}

	return parseFloat(strings.TrimSuffix(s, " min"))
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "Jan 2, 2006", "02/01/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

func parseDateTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
