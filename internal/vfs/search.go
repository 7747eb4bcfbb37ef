package vfs

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// SearchMode selects how a query string matches content.
type SearchMode string

const (
	SearchRegex SearchMode = "regex" // regular expression
	SearchAny   SearchMode = "any"   // any whitespace-separated term
	SearchAll   SearchMode = "all"   // every whitespace-separated term
)

// SearchOrder selects the result ordering.
type SearchOrder string

const (
	OrderModified SearchOrder = "modified" // newest modification first
	OrderName     SearchOrder = "name"     // path ascending
	OrderDate     SearchOrder = "date"     // newest extracted date token first
)

// DateTokenPattern is the date token RequireDate and OrderDate look for.
const DateTokenPattern = `[0-9]{4}-[0-9]{2}-[0-9]{2}`

// DateToken matches DateTokenPattern.
var DateToken = regexp.MustCompile(DateTokenPattern)

// SearchQuery is the input of a backing's search primitive. Subtree is
// root-relative ("" searches the whole root).
type SearchQuery struct {
	Query       string
	Subtree     string
	RootKey     string
	Mode        SearchMode
	RequireDate bool
	Order       SearchOrder
	Limit       int
}

// SearchRow is one match. FullPath is root-relative; backings may return it
// with or without a leading slash.
type SearchRow struct {
	FullPath     string
	RootKey      string
	IsDirectory  bool
	SizeBytes    int64
	ModifiedTime time.Time
	Date         string
}

// Searcher is the native search primitive of a backing.
type Searcher interface {
	Search(ctx context.Context, q SearchQuery) ([]SearchRow, error)
}

// Terms splits a query into its whitespace-separated terms.
func Terms(query string) []string {
	return strings.Fields(query)
}
