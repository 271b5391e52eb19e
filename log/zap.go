// Package log provides shared helpers on top of zap.
package log

import "go.uber.org/zap"

type shortString interface {
	ShortString() string
}

type shortStringAdapter struct {
	value shortString
}

// String implements fmt.Stringer.
func (a shortStringAdapter) String() string { return a.value.ShortString() }

// ZShortStringer returns a field with the short form of a hex identifier,
// to keep log lines readable.
func ZShortStringer(name string, value shortString) zap.Field {
	return zap.Stringer(name, shortStringAdapter{value: value})
}
