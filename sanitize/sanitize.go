// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// This package holds the shared path and input sanitation primitives. Every
// externally-supplied identifier, location, or destination passes through
// here before it is allowed anywhere near the filesystem.
package sanitize

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// maximum length of a sanitized path component
const maxComponentLength = 200

// maximum length of a tenant or task identifier
const maxIdentifierLength = 256

var unsafeRuns = regexp.MustCompile(`[/\\.]+`)

// Component rewrites a string so it is safe to use as a single path
// component: runs of '/', '\' and '.' collapse to '_', the result is
// truncated to 200 characters, and an empty result becomes "invalid".
func Component(s string) string {
	safe := unsafeRuns.ReplaceAllString(s, "_")
	// truncation counts runes so a multi-byte character is never split
	if runes := []rune(safe); len(runes) > maxComponentLength {
		safe = string(runes[:maxComponentLength])
	}
	if safe == "" {
		safe = "invalid"
	}
	return safe
}

// ValidateTaskId checks a tenant or task identifier: ASCII alphanumerics,
// '_' and '-' only, at most 256 characters, non-empty.
func ValidateTaskId(s string) error {
	if s == "" || len(s) > maxIdentifierLength {
		return &InvalidIdentifierError{Id: s}
	}
	for _, c := range []byte(s) {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return &InvalidIdentifierError{Id: s}
		}
	}
	return nil
}

// ResolveUnderBase resolves rel against base and verifies that the result
// remains a descendant of base. Absolute rel paths are rejected outright.
func ResolveUnderBase(base, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", &PathViolationError{Path: rel}
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", &PathViolationError{Path: rel}
	}
	resolved := filepath.Clean(filepath.Join(absBase, rel))
	if resolved != absBase &&
		!strings.HasPrefix(resolved, absBase+string(os.PathSeparator)) {
		return "", &PathViolationError{Path: rel}
	}
	return resolved, nil
}

// NeutralizeDotDot drops any ".." elements from a relative path before it
// is resolved (used by the filesystem sink on caller-supplied destinations).
func NeutralizeDotDot(rel string) string {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == ".." || part == "" || part == "." {
			continue
		}
		kept = append(kept, part)
	}
	return filepath.Join(kept...)
}

// ParseLocation splits a storage or destination URI into its scheme and
// body. A missing scheme is an error; scheme registration is checked by
// the storage and sink tables, not here.
func ParseLocation(uri string) (scheme, body string, err error) {
	sep := strings.Index(uri, "://")
	if sep <= 0 {
		return "", "", &InvalidLocationError{Location: uri}
	}
	return uri[:sep], uri[sep+len("://"):], nil
}
