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

// Package record decodes the raw congestion datasets into typed records.
//
// Two source layouts exist. The 5-minute dataset is tab-delimited and the
// 1-hour dataset is comma-delimited; both start with a single header line.
// The layout differences (delimiter, field positions, record shape) are kept
// as data on Variant so a single decoder serves both.
package record

import (
	"fmt"
	"strconv"
)

// Variant identifies one of the fixed source layouts.
type Variant int

const (
	// FiveMinute is the tab-delimited 5-minute interval layout.
	FiveMinute Variant = iota + 1
	// OneHour is the comma-delimited 1-hour interval layout.
	OneHour
)

// layout holds the per-variant decoding parameters.
type layout struct {
	name      string
	delimiter string
	textIdx   int // position of the string field
	numIdx    int // position of the numeric field
}

var layouts = map[Variant]layout{
	FiveMinute: {name: "5min", delimiter: "\t", textIdx: 1, numIdx: 3},
	OneHour:    {name: "1hour", delimiter: ",", textIdx: 3, numIdx: 17},
}

func (v Variant) layout() layout {
	l, ok := layouts[v]
	if !ok {
		panic(fmt.Sprintf("record: unknown variant %d", int(v)))
	}
	return l
}

// String returns the short name of the variant ("5min", "1hour").
func (v Variant) String() string {
	if l, ok := layouts[v]; ok {
		return l.name
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// Delimiter returns the field separator of the variant.
func (v Variant) Delimiter() string { return v.layout().delimiter }

// MinFields is the number of fields a line needs to be decodable.
func (v Variant) MinFields() int {
	l := v.layout()
	return max(l.textIdx, l.numIdx) + 1
}

// Field names used when a record is encoded for the store.
const (
	FieldOfferDate      = "offer_date"
	FieldOfferHour      = "offer_hour"
	FieldTime           = "time"
	FieldCongestionTime = "congestion_time"
)

// Record is a decoded congestion sample. The set of implementations is closed:
// FiveMinuteRecord and OneHourRecord.
type Record interface {
	Variant() Variant
	// Fields returns the store encoding of the record.
	Fields() map[string]string
	sealed()
}

// FiveMinuteRecord is one row of the 5-minute dataset.
type FiveMinuteRecord struct {
	OfferDate string
	OfferHour int64
}

func (FiveMinuteRecord) Variant() Variant { return FiveMinute }

func (r FiveMinuteRecord) Fields() map[string]string {
	return map[string]string{
		FieldOfferDate: r.OfferDate,
		FieldOfferHour: strconv.FormatInt(r.OfferHour, 10),
	}
}

func (FiveMinuteRecord) sealed() {}

// OneHourRecord is one row of the 1-hour dataset.
type OneHourRecord struct {
	Time           string
	CongestionTime float64
}

func (OneHourRecord) Variant() Variant { return OneHour }

func (r OneHourRecord) Fields() map[string]string {
	return map[string]string{
		FieldTime:           r.Time,
		FieldCongestionTime: strconv.FormatFloat(r.CongestionTime, 'g', -1, 64),
	}
}

func (OneHourRecord) sealed() {}

// FromFields rebuilds a typed record from its store encoding.
func FromFields(v Variant, fields map[string]string) (Record, error) {
	switch v {
	case FiveMinute:
		hour, err := parseInt(fields[FieldOfferHour])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", FieldOfferHour, err)
		}
		return FiveMinuteRecord{OfferDate: fields[FieldOfferDate], OfferHour: hour}, nil
	case OneHour:
		ct, err := parseFloat(fields[FieldCongestionTime])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", FieldCongestionTime, err)
		}
		return OneHourRecord{Time: fields[FieldTime], CongestionTime: ct}, nil
	default:
		return nil, fmt.Errorf("record: unknown variant %d", int(v))
	}
}
