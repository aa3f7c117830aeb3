// Package ingest is component F: filter, persist, and fan out a
// candidate detection (spec.md §4.F). Events are taken as the analyzer
// (component D) built them; Endpoint does no field validation of its own.
//
// Grounded on the teacher project's internal/analysis/processor/processor.go
// (the Detections/process loop) and actions_database.go (transactional DB
// persist). Filtering, persistence, and publish are delegated to
// components G, H, and I respectively; Endpoint only sequences them per
// spec.md's five-step contract.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/tphakala/fieldpipe/internal/audioexport"
	"github.com/tphakala/fieldpipe/internal/datastore"
	"github.com/tphakala/fieldpipe/internal/detectionbus"
	"github.com/tphakala/fieldpipe/internal/fielderr"
	"github.com/tphakala/fieldpipe/internal/metrics"
	"github.com/tphakala/fieldpipe/internal/rangefilter"
	"github.com/tphakala/fieldpipe/internal/retrybuffer"
	"github.com/tphakala/fieldpipe/internal/weather"
)

// Status is the outcome reported back to the analyzer loop (component D).
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusFiltered Status = "filtered"
	StatusBuffered Status = "buffered"
)

// Event is a candidate detection awaiting ingest, already above the
// species confidence threshold and parsed by component C.
type Event struct {
	SpeciesTensor              string
	ScientificName             string
	CommonName                 string
	Confidence                 float64
	Timestamp                  time.Time
	Latitude                   *float64
	Longitude                  *float64
	SpeciesConfidenceThreshold float64
	Week                       int
	SensitivitySetting         float64
	Overlap                    float64
}

// Result is ingest()'s return value.
type Result struct {
	Status      Status
	DetectionID string
}

// Endpoint implements component F.
type Endpoint struct {
	Store      *datastore.Store
	Filter     rangefilter.Filter // nil disables regional filtering entirely
	Bus        *detectionbus.Bus
	Retry      *retrybuffer.Buffer // set via SetRetryBuffer once constructed
	Metrics    *metrics.Pipeline   // nil disables instrumentation entirely
	DataRoot   string
	SampleRate int
	logger     *slog.Logger
}

// New builds an Endpoint. Filter and Bus may be nil to disable their
// respective steps (regional filtering, live fan-out).
func New(store *datastore.Store, filter rangefilter.Filter, bus *detectionbus.Bus, dataRoot string, sampleRate int, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	return &Endpoint{
		Store:      store,
		Filter:     filter,
		Bus:        bus,
		DataRoot:   dataRoot,
		SampleRate: sampleRate,
		logger:     logger.With("component", "ingest"),
	}
}

// SetRetryBuffer wires the retry buffer (component E) after construction,
// since the buffer's Reingest closure typically calls back into this
// Endpoint's Ingest method — constructing both at once would be circular.
func (e *Endpoint) SetRetryBuffer(b *retrybuffer.Buffer) {
	e.Retry = b
}

// Ingest implements spec.md §4.F's five-step contract. A persistence
// failure here pushes the event onto the retry buffer (component E).
func (e *Endpoint) Ingest(ctx context.Context, event Event, rawPCM []byte) (Result, error) {
	return e.ingest(ctx, event, rawPCM, true)
}

// ingest is the shared implementation. bufferOnFailure is false when
// called from Reingest: the retry buffer's own flush loop re-queues
// entries that fail again (spec.md §4.E step 3), so re-pushing here would
// duplicate them.
func (e *Endpoint) ingest(ctx context.Context, event Event, rawPCM []byte, bufferOnFailure bool) (Result, error) {
	relPath := e.clipPath(event)
	clipPath := filepath.Join(e.DataRoot, relPath)
	durationSeconds, sizeBytes, err := audioexport.WriteClip(clipPath, rawPCM, e.SampleRate)
	if err != nil {
		return Result{}, fielderr.New(err).Component("ingest").Category(fielderr.CategoryPermanent).
			Context("operation", "write_audio_clip").Build()
	}

	if e.Filter != nil && event.Latitude != nil && event.Longitude != nil {
		decision := e.Filter.Filter(event.ScientificName, event.Latitude, event.Longitude)
		e.recordFilterDecision(decision)
		if decision == rangefilter.Block {
			e.recordIngest(StatusFiltered)
			return Result{Status: StatusFiltered}, nil
		}
	}

	audioFile := &datastore.AudioFile{
		Path:            relPath,
		DurationSeconds: durationSeconds,
		SizeBytes:       sizeBytes,
		RecordingStart:  event.Timestamp,
	}
	hourEpoch := weather.HourEpoch(event.Timestamp)
	det := &datastore.Detection{
		SpeciesTensor:              event.SpeciesTensor,
		ScientificName:             event.ScientificName,
		CommonName:                 event.CommonName,
		Confidence:                 event.Confidence,
		Timestamp:                  event.Timestamp,
		Latitude:                   event.Latitude,
		Longitude:                  event.Longitude,
		SpeciesConfidenceThreshold: event.SpeciesConfidenceThreshold,
		Week:                       event.Week,
		SensitivitySetting:         event.SensitivitySetting,
		Overlap:                    event.Overlap,
		HourEpoch:                  &hourEpoch,
	}

	if err := e.Store.InsertWithAudio(ctx, det, audioFile); err != nil {
		e.logger.Warn("ingest persist failed", "error", err, "species", event.ScientificName)
		if bufferOnFailure && e.Retry != nil {
			e.Retry.Append(retrybuffer.Entry{Event: event, RawPCM: rawPCM})
		}
		e.recordIngest(StatusBuffered)
		return Result{Status: StatusBuffered}, nil
	}

	if e.Bus != nil {
		e.Bus.Publish(detectionbus.NewEnvelope(det))
	}

	e.recordIngest(StatusAccepted)
	return Result{Status: StatusAccepted, DetectionID: det.ID}, nil
}

func (e *Endpoint) recordIngest(status Status) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.RecordIngest(string(status))
}

func (e *Endpoint) recordFilterDecision(decision rangefilter.Decision) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.RecordFilterDecision(string(decision))
}

// Reingest adapts Endpoint.Ingest to retrybuffer.Reingest's signature.
func (e *Endpoint) Reingest(ctx context.Context, entry retrybuffer.Entry) error {
	event, ok := entry.Event.(Event)
	if !ok {
		return fmt.Errorf("ingest: retry entry holds unexpected type %T", entry.Event)
	}
	result, err := e.ingest(ctx, event, entry.RawPCM, false)
	if err != nil {
		return err
	}
	if result.Status == StatusBuffered {
		return fmt.Errorf("ingest: still unreachable")
	}
	return nil
}

// clipPath returns the clip's path relative to DataRoot.
func (e *Endpoint) clipPath(event Event) string {
	species := event.ScientificName
	if species == "" {
		species = "unknown"
	}
	filename := event.Timestamp.UTC().Format("20060102_150405.000") + ".wav"
	return filepath.Join("recordings", species, filename)
}
