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
	"errors"
	"fmt"
)

// Sentinels for errors.Is classification of a *DecodeError.
var (
	ErrMalformedLine = errors.New("malformed line")
	ErrInvalidNumber = errors.New("invalid number")
)

// ErrorKind classifies a line-level decode failure.
type ErrorKind int

const (
	MalformedLine ErrorKind = iota + 1
	InvalidNumber
)

func (k ErrorKind) String() string {
	switch k {
	case MalformedLine:
		return "malformed_line"
	case InvalidNumber:
		return "invalid_number"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// DecodeError describes one line that could not be turned into a Record.
// Line carries the raw text so callers can report it.
type DecodeError struct {
	Kind   ErrorKind
	LineNo int // 1-based, header is line 1
	Line   string
	Fields int    // number of fields found (MalformedLine)
	Field  string // offending field name (InvalidNumber)
	Err    error  // underlying parse error (InvalidNumber)
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case MalformedLine:
		return fmt.Sprintf("line %d: malformed line: %d fields: %q", e.LineNo, e.Fields, e.Line)
	case InvalidNumber:
		return fmt.Sprintf("line %d: invalid number in %s: %v: %q", e.LineNo, e.Field, e.Err, e.Line)
	default:
		return fmt.Sprintf("line %d: decode error: %q", e.LineNo, e.Line)
	}
}

// Is matches the kind sentinels.
func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrMalformedLine:
		return e.Kind == MalformedLine
	case ErrInvalidNumber:
		return e.Kind == InvalidNumber
	}
	return false
}

func (e *DecodeError) Unwrap() error { return e.Err }
