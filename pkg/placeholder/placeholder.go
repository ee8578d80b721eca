// Package placeholder replaces volatile tokens in command lines (SIDs,
// GUIDs, user names, hashes and optionally file paths) with fixed markers,
// so that a model learns the shape of a command instead of its identifiers.
package placeholder

import (
	"regexp"
	"strings"
)

// Kind identifies one class of volatile token.
type Kind int

const (
	Filepath Kind = iota
	Hash
	GUID
	SID
	User
)

// Default markers, one per Kind.
const (
	DefaultFilepath = "<FILEPATH>"
	DefaultHash     = "<HASH>"
	DefaultGUID     = "<GUID>"
	DefaultSID      = "<SID>"
	DefaultUser     = "<USER>"
)

var (
	sidRegex  = regexp.MustCompile(`(?i)S[-–]1[-–](?:[0-9]+[-–])+[0-9]+`)
	guidRegex = regexp.MustCompile(`(?i)\{?[0-9a-f]{8}[-–](?:[0-9a-f]{4}[-–]){3}[0-9a-f]{12}\}?`)
	userRegex = regexp.MustCompile(`(?i)(C:\\Users)\\[^\\]*\\`)
	// SHA256, SHA1, MD5 and the 20 character truncation found in file names.
	hashRegex = regexp.MustCompile(`(?i)\b(?:[a-f0-9]{64}|[a-f0-9]{40}|[a-f0-9]{32}|[a-f0-9]{20})\b`)
	// The opening (drive, UNC root or %VARIABLE%) is kept, the rest of the
	// path is replaced. Directory names may contain spaces but may not start
	// or end with one; the final component may not contain any.
	filepathRegex = regexp.MustCompile(`(?i)(\b[a-z]:[\\/]|\\\\|%\w+%[\\/]?)` +
		`(?:[^\\/<>:"|?\n\r ,'](?:[^\\/<>:"|?\n\r]*[^\\/<>:"|?\n\r ,'])?[\\/])*` +
		`[^\\/<>:"|?\n\r;, ]*`)
)

// Replacer applies placeholder substitution to strings. It is safe for
// concurrent use once constructed.
type Replacer struct {
	filepath     bool
	placeholders map[Kind]string
}

// Option Is a function that configures a Replacer.
type Option func(*Replacer)

// WithFilepath enables file path replacement, which is off by default since
// the path of a binary is often what makes a command line stand out.
func WithFilepath() Option {
	return func(r *Replacer) {
		r.filepath = true
	}
}

// WithPlaceholder sets the marker used for kind.
func WithPlaceholder(kind Kind, text string) Option {
	return func(r *Replacer) {
		r.placeholders[kind] = text
	}
}

// New creates a Replacer with the default markers, which can be overridden
// by providing one or more Option functions.
func New(opts ...Option) *Replacer {
	r := &Replacer{
		placeholders: map[Kind]string{
			Filepath: DefaultFilepath,
			Hash:     DefaultHash,
			GUID:     DefaultGUID,
			SID:      DefaultSID,
			User:     DefaultUser,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Replace substitutes file paths (when enabled), hashes, GUIDs, SIDs and
// user names, in that order.
func (r *Replacer) Replace(s string) string {
	if r.filepath {
		s = filepathRegex.ReplaceAllString(s, "${1}"+escape(r.placeholders[Filepath]))
	}
	s = hashRegex.ReplaceAllLiteralString(s, r.placeholders[Hash])
	s = guidRegex.ReplaceAllLiteralString(s, r.placeholders[GUID])
	s = sidRegex.ReplaceAllLiteralString(s, r.placeholders[SID])
	s = userRegex.ReplaceAllString(s, `${1}\`+escape(r.placeholders[User])+`\`)
	return s
}

// Apply is a shorthand for New(opts...).Replace(s).
func Apply(s string, opts ...Option) string {
	return New(opts...).Replace(s)
}

func escape(template string) string {
	return strings.ReplaceAll(template, "$", "$$")
}
