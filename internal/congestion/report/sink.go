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

// Package report persists per-dataset ingestion measurements as a small CSV
// file that downstream tooling reads back.
package report

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"congestion/internal/congestion/metrics"
)

// Header is the first line of every report file. The trailing PeakHeap column
// is kept for compatibility with existing readers; rows carry four values.
const Header = "Operation,Time (ms),USS (KB),RSS (KB),PeakHeap (KB)"

// ErrReportWriteFailed wraps any I/O failure while writing a report.
var ErrReportWriteFailed = errors.New("report write failed")

// Sink writes report files into Dir. It is safe for concurrent use.
type Sink struct {
	Dir    string
	Logger logrus.FieldLogger

	mu sync.Mutex
}

// NewSink returns a sink rooted at dir ("" means the working directory).
func NewSink(dir string, logger logrus.FieldLogger) *Sink {
	return &Sink{Dir: dir, Logger: logger}
}

// OperationName derives the report's operation column from its file name:
// "5min_result.csv" -> "5min".
func OperationName(reportName string) string {
	base := filepath.Base(reportName)
	for _, suffix := range []string{"_result.csv", "_results.csv", ".csv"} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	return base
}

// Path returns the full path of a report file.
func (s *Sink) Path(reportName string) string {
	return filepath.Join(s.Dir, reportName)
}

// Write truncates the named report and writes the header plus one data row.
// The operation column is derived from reportName, not row.Operation. Errors
// are logged and returned wrapped in ErrReportWriteFailed.
func (s *Sink) Write(reportName string, row metrics.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(reportName)
	if err := s.write(path, OperationName(reportName), row); err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrReportWriteFailed, path, err)
		if s.Logger != nil {
			s.Logger.WithField("action", "write_report").WithField("report", path).
				WithError(err).Error("could not write ingestion report")
		}
		return err
	}
	if s.Logger != nil {
		s.Logger.WithField("action", "write_report").WithField("report", path).
			Debug("ingestion report written")
	}
	return nil
}

func (s *Sink) write(path, op string, row metrics.Row) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	_, _ = fmt.Fprintln(w, Header)
	_, _ = fmt.Fprintf(w, "%s,%.3f,%d,%d\n", op, row.ElapsedMillis, row.UsedKB, row.ResidentKB)
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
