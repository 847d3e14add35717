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

import "fmt"

// Dataset names of the two fixed bindings.
const (
	FiveMinuteDataset = "5min_congestion"
	OneHourDataset    = "1hour_congestion"
)

// Binding ties a logical dataset (and its store map) to a source file, a
// decoding layout, and a report file name. Bindings are values; copy freely.
type Binding struct {
	Name    string
	Source  string
	Variant Variant
	Report  string
}

// DefaultBindings returns the two datasets with their customary paths.
func DefaultBindings() []Binding {
	return []Binding{
		{Name: FiveMinuteDataset, Source: "../data/5minFukushimaActualCongestionData.tsv", Variant: FiveMinute, Report: "5min_result.csv"},
		{Name: OneHourDataset, Source: "../data/congestion.csv", Variant: OneHour, Report: "1hour_result.csv"},
	}
}

// VariantFor returns the layout bound to a dataset name.
func VariantFor(dataset string) (Variant, error) {
	switch dataset {
	case FiveMinuteDataset:
		return FiveMinute, nil
	case OneHourDataset:
		return OneHour, nil
	}
	return 0, fmt.Errorf("unknown dataset %q", dataset)
}
