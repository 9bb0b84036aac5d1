// Package utils holds small helpers shared by the HTTP and service layers.
package utils

import "strconv"

// Page bounds used by history listings.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// AtoiDefault parses s as a decimal int, returning def when s is empty or
// not a valid int. Whitespace is not trimmed.
func AtoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage normalizes 1-based page numbers and page sizes: page is at
// least 1 and size falls in [1, MaxPageSize], with 0 meaning
// DefaultPageSize.
func ClampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case size == 0:
		size = DefaultPageSize
	case size < 1:
		size = 1
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size
}

// Offset returns the row offset of a clamped page.
func Offset(page, size int) int {
	return (page - 1) * size
}

// TotalPages returns how many pages of size hold total rows.
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
