package store

import "github.com/weavehub/weave/internal/model"

const (
	OrderAsc  = "asc"
	OrderDesc = "desc"

	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ListOptions selects a page out of a thread's messages or runs. After and
// Before are cursor identifiers resolved against the sorted sequence, not
// raw insertion order; a cursor that does not resolve is ignored rather than
// rejected.
type ListOptions struct {
	Order  string
	Limit  int
	After  string
	Before string
}

type MessagePage struct {
	Items   []model.Message
	HasMore bool
}

type RunPage struct {
	Items   []model.Run
	HasMore bool
}

func normalizeOrder(order string) string {
	if order == OrderAsc {
		return OrderAsc
	}
	return OrderDesc
}

// pageBounds computes the half-open [start, end) window over ids, which are
// already in the requested order. HasMore is true iff items remain past the
// page's end.
func pageBounds(ids []string, opts ListOptions) (int, int, bool) {
	start := 0
	end := len(ids)

	if opts.After != "" {
		if index := indexOf(ids, opts.After); index >= 0 {
			start = index + 1
		}
	}
	if opts.Before != "" {
		if index := indexOf(ids, opts.Before); index >= start {
			end = index
		}
	}
	if start > end {
		start = end
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	pageEnd := start + limit
	if pageEnd > end {
		pageEnd = end
	}
	return start, pageEnd, end > pageEnd
}

func indexOf(ids []string, id string) int {
	for index, candidate := range ids {
		if candidate == id {
			return index
		}
	}
	return -1
}
