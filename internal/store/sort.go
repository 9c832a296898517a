package store

import (
	"strings"

	"github.com/jjudge-oj/accounts/types"
)

const (
	DefaultSortField = "id"
	DirectionAsc     = "ASC"
	DirectionDesc    = "DESC"
)

// sortColumns maps the sort names accepted by List to table columns.
var sortColumns = map[string]string{
	"id":        "id",
	"username":  "username",
	"email":     "email",
	"fullName":  "full_name",
	"role":      "role",
	"status":    "status",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"lastLogin": "last_login",
}

// IsSortable reports whether List accepts field as a sort key.
func IsSortable(field string) bool {
	_, ok := sortColumns[field]
	return ok
}

// NormalizeDirection returns ASC or DESC, or false for anything else.
func NormalizeDirection(raw string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", DirectionAsc:
		return DirectionAsc, true
	case DirectionDesc:
		return DirectionDesc, true
	default:
		return "", false
	}
}

func normalizeFilter(filter types.UserFilter) types.UserFilter {
	if filter.Page < 0 {
		filter.Page = 0
	}
	if filter.Size < 1 {
		filter.Size = 10
	}
	filter.Page = min(filter.Page, types.MaxPage(filter.Size))
	if !IsSortable(filter.Sort) {
		filter.Sort = DefaultSortField
	}
	if dir, ok := NormalizeDirection(filter.Direction); ok {
		filter.Direction = dir
	} else {
		filter.Direction = DirectionAsc
	}
	filter.Keyword = strings.TrimSpace(filter.Keyword)
	return filter
}
