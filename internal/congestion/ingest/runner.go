// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ingest drives one dataset load end to end: open the source, decode
// each line, assign surrogate keys, write records to the store, measure the
// load and persist the measurement report.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"congestion/internal/congestion/metrics"
	"congestion/internal/congestion/persistence"
	"congestion/internal/congestion/record"
	"congestion/internal/congestion/report"
	"congestion/internal/congestion/telemetry"
)

// Dataset-level failures. Each aborts only the dataset it happened in.
var (
	ErrSourceNotFound   = errors.New("source not found")
	ErrSourceReadFailed = errors.New("source read failed")
	ErrStoreWriteFailed = errors.New("store write failed")
)

// Result describes one dataset run.
type Result struct {
	Row metrics.Row
	// Skipped is set when the source was missing and nothing was loaded.
	Skipped bool
	Decoded int64 // lines turned into records
	Failed  int64 // lines rejected by the decoder
	// Keys is the last surrogate key handed out; equals the number of puts.
	Keys int64
	// StoreSize is the record count the store reported after the load.
	StoreSize int64
}

// LineErrorFunc receives every line the decoder rejected.
type LineErrorFunc func(b record.Binding, err *record.DecodeError)

// Runner loads datasets into Store. Fields left nil get working defaults,
// except Store which is required.
type Runner struct {
	Store   persistence.Store
	Sampler metrics.Sampler
	Sink    *report.Sink
	Logger  logrus.FieldLogger
	// OnLineError defaults to a warning carrying the raw line.
	OnLineError LineErrorFunc
	// DumpAfterLoad logs every stored entry once the dataset is loaded.
	DumpAfterLoad bool
}

func (r *Runner) logger() logrus.FieldLogger {
	if r.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return l
	}
	return r.Logger
}

// Run loads one dataset. A missing source is not an error: it yields the
// zero row with Skipped set and writes no report. Store and read failures
// abort the dataset and are returned; the report is not written for them.
func (r *Runner) Run(ctx context.Context, b record.Binding) (Result, error) {
	log := r.logger().WithField("dataset", b.Name)
	op := report.OperationName(b.Report)

	f, err := os.Open(b.Source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.WithField("action", "open_source").WithField("source", b.Source).
				WithError(fmt.Errorf("%w: %v", ErrSourceNotFound, err)).Error("dataset source not found, skipping")
			return Result{Row: metrics.SkippedRow(op), Skipped: true}, nil
		}
		return Result{Row: metrics.SkippedRow(op)}, fmt.Errorf("%w: %s: %v", ErrSourceReadFailed, b.Source, err)
	}
	defer f.Close()

	m, err := r.Store.GetOrCreateMap(ctx, b.Name)
	if err != nil {
		return Result{Row: metrics.SkippedRow(op)}, fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}

	res := Result{}
	var timer metrics.Timer
	dec := record.NewDecoder(f, b.Variant)
	timer.Start()
	loadErr := r.load(ctx, b, m, dec, &res)
	timer.Stop()
	if h, ok := dec.Header(); ok {
		log.WithField("action", "read_header").WithField("header", h).Debug("source header")
	}

	sampler := r.Sampler
	if sampler.OnProbeError == nil {
		sampler.OnProbeError = func(err error) {
			log.WithField("action", "sample_memory").WithError(err).Warn("resident memory unavailable")
		}
	}
	mem := sampler.Sample()
	res.Row = metrics.Row{Operation: op, ElapsedMillis: timer.ElapsedMillis(), UsedKB: mem.UsedKB, ResidentKB: mem.ResidentKB}
	telemetry.ObserveIngest(b.Name, res.Row.ElapsedMillis, res.Row.UsedKB, res.Row.ResidentKB)

	if loadErr != nil {
		log.WithField("action", "ingest").WithField("keys", res.Keys).WithError(loadErr).Error("dataset load aborted")
		return res, loadErr
	}

	log.WithField("action", "ingest").
		WithField("decoded", res.Decoded).WithField("failed", res.Failed).
		WithField("elapsed_ms", fmt.Sprintf("%.3f", res.Row.ElapsedMillis)).
		WithField("used_kb", res.Row.UsedKB).WithField("resident_kb", res.Row.ResidentKB).
		Info("dataset loaded")

	if r.Sink != nil {
		// Report failures are logged by the sink; the load stands.
		_ = r.Sink.Write(b.Report, res.Row)
	}

	size, err := m.Size(ctx)
	switch {
	case err != nil:
		log.WithField("action", "map_size").WithError(err).Warn("could not read map size")
	default:
		res.StoreSize = size
		sizeLog := log.WithField("action", "map_size").WithField("size", size).WithField("decoded", res.Decoded)
		if size != res.Decoded {
			sizeLog.Warn("map size differs from decoded record count")
		} else {
			sizeLog.Info("map size")
		}
	}

	if r.DumpAfterLoad {
		r.dump(ctx, log, m)
	}
	return res, nil
}

// load consumes the decoder. Keys start at 1 and advance only on success.
func (r *Runner) load(ctx context.Context, b record.Binding, m persistence.Map, dec *record.Decoder, res *Result) error {
	onLineError := r.OnLineError
	if onLineError == nil {
		onLineError = r.warnLine
	}
	for rec, err := range dec.Records() {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			var de *record.DecodeError
			if !errors.As(err, &de) {
				return fmt.Errorf("%w: %s: %v", ErrSourceReadFailed, b.Source, err)
			}
			res.Failed++
			telemetry.ObserveLineFailed(b.Name, de.Kind.String())
			onLineError(b, de)
			continue
		}
		res.Decoded++
		telemetry.ObserveDecoded(b.Name)

		key := res.Keys + 1
		start := time.Now()
		perr := m.Put(ctx, key, rec.Fields())
		telemetry.ObservePut(b.Name, time.Since(start), perr)
		if perr != nil {
			return fmt.Errorf("%w: key %d: %v", ErrStoreWriteFailed, key, perr)
		}
		res.Keys = key
	}
	return nil
}

func (r *Runner) warnLine(b record.Binding, de *record.DecodeError) {
	r.logger().WithField("action", "decode_line").WithField("dataset", b.Name).
		WithField("line_no", de.LineNo).WithField("kind", de.Kind.String()).
		WithField("line", de.Line).Warn("skipping undecodable line")
}

func (r *Runner) dump(ctx context.Context, log logrus.FieldLogger, m persistence.Map) {
	c := m.Scan(ctx)
	defer c.Close()
	for c.Next() {
		e := c.Entry()
		log.WithField("action", "dump").WithField("key", e.Key).WithFields(fieldsOf(e)).Info("entry")
	}
	if err := c.Err(); err != nil {
		log.WithField("action", "dump").WithError(err).Warn("dump interrupted")
	}
}

func fieldsOf(e persistence.Entry) logrus.Fields {
	out := make(logrus.Fields, len(e.Fields))
	for k, v := range e.Fields {
		out[k] = v
	}
	return out
}

// Outcome pairs a binding with its run result.
type Outcome struct {
	Binding record.Binding
	Result  Result
	Err     error
}

// RunAll loads every binding, one after another or concurrently. Each dataset
// has its own key counter, and a failing dataset never stops the others.
// Outcomes keep the order of bindings.
func (r *Runner) RunAll(ctx context.Context, bindings []record.Binding, parallel bool) []Outcome {
	out := make([]Outcome, len(bindings))
	if !parallel {
		for i, b := range bindings {
			res, err := r.Run(ctx, b)
			out[i] = Outcome{Binding: b, Result: res, Err: err}
		}
		return out
	}
	var g errgroup.Group
	for i, b := range bindings {
		g.Go(func() error {
			res, err := r.Run(ctx, b)
			out[i] = Outcome{Binding: b, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
