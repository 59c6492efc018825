// Package codec converts between the PostgreSQL wire text/binary
// representations and the Go values the session engine and backend
// driver exchange. Every codec is pure and stateless aside from the
// session-negotiated Settings (DateStyle/TimeZone) passed into each call.
package codec

import "time"

// Settings carries the subset of session-negotiated parameters the codec
// layer needs to interpret or produce date/time text.
type Settings struct {
	// DateStyle records the session's DateStyle. No codec reads it: date/
	// timestamp text is always rendered in the ISO style, and decode
	// accepts only ISO input, whatever DateStyle is set to.
	DateStyle string
	// TimeZone is applied when rendering timestamptz values as text and
	// when interpreting a timestamptz text literal that carries no
	// explicit offset.
	TimeZone *time.Location
}

// DefaultSettings returns the Settings a freshly started session uses
// before any SET statement has run.
func DefaultSettings() Settings {
	return Settings{
		DateStyle: "ISO, MDY",
		TimeZone:  time.UTC,
	}
}
