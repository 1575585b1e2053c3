// Package query implements the glob-and-filter builder used to select
// entries from the filesystem layer without a full hierarchy walk from
// the caller's side.
package query

import (
	"regexp"
	"strings"

	uuid "github.com/satori/go.uuid"

	"github.com/diskfs/archive7/internal/fsmgr"
)

// Op is a comparison operator applied to a filter field.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpLt
	OpGt
)

// Filter constrains one field of a candidate entry.
type Filter struct {
	Field string // "parent", "owner", "created", "modified", "deleted", "user", "group"
	Op    Op
	Value interface{}
}

// Query selects entries under Root (depth-first) whose Name matches the
// glob pattern and which satisfy every Filter.
type Query struct {
	Root    uuid.UUID
	Glob    string
	Filters []Filter

	pattern *regexp.Regexp
}

// compile translates q.Glob ('*' and '?' wildcards) into a regular
// expression, anchoring the match to the whole name.
func (q *Query) compile() error {
	if q.pattern != nil {
		return nil
	}
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range q.Glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	re, err := regexp.Compile(b.String())
	if err != nil {
		return err
	}
	q.pattern = re
	return nil
}

func matchesFilter(e fsmgr.Entry, f Filter) bool {
	var got interface{}
	switch f.Field {
	case "parent":
		got = e.Parent
	case "owner":
		got = e.Owner
	case "created":
		got = e.Created
	case "modified":
		got = e.Modified
	case "deleted":
		got = e.Deleted
	case "user":
		got = e.User
	case "group":
		got = e.Group
	default:
		return true
	}
	switch f.Op {
	case OpEq:
		return got == f.Value
	case OpNeq:
		return got != f.Value
	case OpLt:
		return compareOrdered(got, f.Value) < 0
	case OpGt:
		return compareOrdered(got, f.Value) > 0
	}
	return false
}

// compareOrdered compares two int64-or-string values, returning <0, 0, >0.
// Unsupported type pairs compare equal, so they never satisfy Lt/Gt.
func compareOrdered(a, b interface{}) int {
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	}
	return 0
}

// Run evaluates the query against fs and returns matching entries paired
// with their resolved path.
func (q *Query) Run(fs *fsmgr.Manager) ([]fsmgr.Entry, []string, error) {
	if err := q.compile(); err != nil {
		return nil, nil, err
	}
	var entries []fsmgr.Entry
	var paths []string
	err := fs.TraverseHierarchy(q.Root, func(e fsmgr.Entry, path string) bool {
		if e.Type == fsmgr.TypeErr {
			return true
		}
		if !q.pattern.MatchString(e.Name) {
			return true
		}
		for _, f := range q.Filters {
			if !matchesFilter(e, f) {
				return true
			}
		}
		entries = append(entries, e)
		paths = append(paths, path)
		return true
	})
	if err != nil {
		return nil, nil, err
	}
	return entries, paths, nil
}
