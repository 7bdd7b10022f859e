// Package pagination extracts page/limit parameters from query strings
// and turns them into offsets for store queries.
package pagination

import (
	"net/url"
	"strconv"
)

type Params struct {
	Page   int32
	Limit  int32
	Offset int32
}

const (
	MaxLimit     int32 = 100
	DefaultPage  int32 = 1
	DefaultLimit int32 = 10
)

// FromQuery reads "page" and "limit" from query values, clamping both to
// sane bounds and computing the resulting offset.
func FromQuery(q url.Values) Params {
	params := Params{Page: DefaultPage, Limit: DefaultLimit}

	if raw := q.Get("page"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 32); err == nil && parsed > 0 {
			params.Page = int32(parsed)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 32); err == nil && parsed > 0 {
			params.Limit = int32(parsed)
		}
	}
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}
	params.Offset = (params.Page - 1) * params.Limit
	return params
}
