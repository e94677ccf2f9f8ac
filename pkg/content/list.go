package content

import (
	"sort"
	"time"
)

const (
	defaultOrderBy = "created_at"
	defaultPerPage = 20
)

// ApplyListOptions filters, sorts and paginates a set of records in
// memory. Both store implementations share it so listing semantics
// cannot drift between backends. Tombstone exclusion is the caller's
// responsibility; this function only applies opts.Filters.
//
// Non-positive Page and PerPage take the defaults 1 and 20. A page past
// the end returns empty items with the correct Total and Pages.
func ApplyListOptions(records []*Record, opts ListOptions) (*ListResult, error) {
	filtered := make([]*Record, 0, len(records))
	for _, rec := range records {
		ok, err := matchesAll(rec, opts.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			filtered = append(filtered, rec)
		}
	}

	orderBy := opts.OrderBy
	if orderBy == "" {
		orderBy = defaultOrderBy
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		a := fieldValue(filtered[i], orderBy)
		b := fieldValue(filtered[j], orderBy)
		cmp := compareValues(a, b)
		if cmp == 0 {
			// Tie-break on record ID so ordering is total and stable
			// across backends.
			return filtered[i].ID.String() < filtered[j].ID.String()
		}
		if opts.Descending {
			return cmp > 0
		}
		return cmp < 0
	})

	page := opts.Page
	if page < 1 {
		page = 1
	}
	perPage := opts.PerPage
	if perPage < 1 {
		perPage = defaultPerPage
	}

	total := len(filtered)
	pages := (total + perPage - 1) / perPage

	items := []*Record{}
	start := (page - 1) * perPage
	if start < total {
		end := start + perPage
		if end > total {
			end = total
		}
		items = filtered[start:end]
	}

	return &ListResult{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Pages:   pages,
	}, nil
}

func matchesAll(rec *Record, filters []Filter) (bool, error) {
	for _, f := range filters {
		ok, err := matches(rec, f)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matches(rec *Record, f Filter) (bool, error) {
	value := fieldValue(rec, f.Field)
	switch f.Op {
	case OpEqual:
		return compareValues(value, f.Value) == 0, nil
	case OpGreaterOrEqual:
		if value == nil {
			return false, nil
		}
		return compareValues(value, f.Value) >= 0, nil
	case OpLessOrEqual:
		if value == nil {
			return false, nil
		}
		return compareValues(value, f.Value) <= 0, nil
	case OpContainsAny:
		have, ok := stringSlice(value)
		if !ok {
			return false, nil
		}
		want, ok := stringSlice(f.Value)
		if !ok {
			return false, nil
		}
		for _, w := range want {
			for _, h := range have {
				if w == h {
					return true, nil
				}
			}
		}
		return false, nil
	default:
		return false, &ValidationError{Kind: ValidationFieldType, Field: f.Field, Want: "a supported filter operator"}
	}
}

// fieldValue resolves a field name against the record: system fields
// first, then kind metadata.
func fieldValue(rec *Record, field string) any {
	switch field {
	case "id":
		return rec.ID.String()
	case "bucket":
		return rec.Bucket
	case "storage_key":
		return rec.StorageKey
	case "size_bytes":
		return rec.SizeBytes
	case "mime_type":
		return rec.MimeType
	case "created_at":
		return rec.CreatedAt
	case "updated_at":
		return rec.UpdatedAt
	case "deleted_at":
		if rec.DeletedAt == nil {
			return nil
		}
		return *rec.DeletedAt
	}
	if rec.Fields == nil {
		return nil
	}
	return rec.Fields[field]
}

// compareValues orders two field values. Times, strings and numbers
// compare within their own families; anything else orders nils first
// and falls back to equality only.
func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	if at, ok := timeValue(a); ok {
		if bt, ok := timeValue(b); ok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}

	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch {
			case as < bs:
				return -1
			case as > bs:
				return 1
			default:
				return 0
			}
		}
	}

	if af, ok := floatValue(a); ok {
		if bf, ok := floatValue(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	return 0
}

func timeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	default:
		return time.Time{}, false
	}
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
