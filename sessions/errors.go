/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package sessions

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrSessionNotFound is returned when no session has the requested id.
	ErrSessionNotFound = errors.New("sessions: session not found")
	// ErrParticipantNotFound is returned when the session has no such participant.
	ErrParticipantNotFound = errors.New("sessions: participant not found")
	// ErrAlreadyClaimed is returned when a participant checks in a second time.
	ErrAlreadyClaimed = errors.New("sessions: participant already claimed")
	// ErrNotAvailable is returned when a receiver cannot be revealed yet.
	ErrNotAvailable = errors.New("sessions: receiver not available")
)

// ValidationError captures field level problems with a create request.
type ValidationError struct {
	FieldErrors map[string]string
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}

	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString("validation failed: ")
	for i, field := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(field)
		b.WriteString(": ")
		b.WriteString(v.FieldErrors[field])
	}

	return b.String()
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	if _, ok := v.FieldErrors[field]; ok {
		return
	}
	v.FieldErrors[field] = message
}
