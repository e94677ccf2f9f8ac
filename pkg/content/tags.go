package content

import (
	"fmt"
	"sort"
)

// TagOperation is a tag-set mutation verb.
type TagOperation string

const (
	TagOperationSet    TagOperation = "set"
	TagOperationAdd    TagOperation = "add"
	TagOperationRemove TagOperation = "remove"
)

// ApplyTagOperation computes the new tag set from the current one.
// The result is deduplicated and sorted. An unknown verb returns
// ErrInvalidOperation.
func ApplyTagOperation(current, tags []string, op TagOperation) ([]string, error) {
	set := make(map[string]bool)
	switch op {
	case TagOperationSet:
		for _, t := range tags {
			set[t] = true
		}
	case TagOperationAdd:
		for _, t := range current {
			set[t] = true
		}
		for _, t := range tags {
			set[t] = true
		}
	case TagOperationRemove:
		for _, t := range current {
			set[t] = true
		}
		for _, t := range tags {
			delete(set, t)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidOperation, op)
	}

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}
