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

package record

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
)

// Decoder streams a delimited source into records. It is single-use: the
// sequence returned by Records can be consumed once.
type Decoder struct {
	variant Variant
	scanner *bufio.Scanner

	header    string
	hasHeader bool
	lineNo    int
	started   bool
}

// NewDecoder returns a decoder reading from r using the layout of v.
func NewDecoder(r io.Reader, v Variant) *Decoder {
	_ = v.layout() // reject unknown variants early
	sc := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 1<<26)
	return &Decoder{variant: v, scanner: sc}
}

// Header returns the discarded header line. It is empty until the sequence
// has been started, and stays empty for an empty source.
func (d *Decoder) Header() (string, bool) { return d.header, d.hasHeader }

// Records yields one (Record, nil) per decodable line and one (nil, err) per
// line that failed. Line failures are *DecodeError and never end the
// sequence; a read error from the source is yielded once and ends it.
func (d *Decoder) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		if d.started {
			return
		}
		d.started = true

		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				yield(nil, fmt.Errorf("read header: %w", err))
			}
			return
		}
		d.lineNo = 1
		d.header = strings.TrimSuffix(d.scanner.Text(), "\r")
		d.hasHeader = true

		for d.scanner.Scan() {
			d.lineNo++
			rec, err := decodeLine(strings.TrimSuffix(d.scanner.Text(), "\r"), d.variant, d.lineNo)
			if !yield(rec, err) {
				return
			}
		}
		if err := d.scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("read line %d: %w", d.lineNo+1, err))
		}
	}
}

// DecodeLine decodes a single data line (no header handling).
func DecodeLine(line string, v Variant) (Record, error) {
	return decodeLine(line, v, 0)
}

func decodeLine(line string, v Variant, lineNo int) (Record, error) {
	l := v.layout()
	fields := strings.Split(line, l.delimiter)
	if len(fields) < v.MinFields() {
		return nil, &DecodeError{Kind: MalformedLine, LineNo: lineNo, Line: line, Fields: len(fields)}
	}
	text := fields[l.textIdx]
	raw := fields[l.numIdx]

	switch v {
	case FiveMinute:
		n, err := parseInt(raw)
		if err != nil {
			return nil, &DecodeError{Kind: InvalidNumber, LineNo: lineNo, Line: line, Field: FieldOfferHour, Err: err}
		}
		return FiveMinuteRecord{OfferDate: text, OfferHour: n}, nil
	case OneHour:
		f, err := parseFloat(raw)
		if err != nil {
			return nil, &DecodeError{Kind: InvalidNumber, LineNo: lineNo, Line: line, Field: FieldCongestionTime, Err: err}
		}
		return OneHourRecord{Time: text, CongestionTime: f}, nil
	}
	return nil, fmt.Errorf("record: unknown variant %d", int(v))
}

// parseInt treats an empty (or blank) field as zero.
func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// parseFloat treats an empty (or blank) field as zero.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
