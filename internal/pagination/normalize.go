// Package pagination absorbs the backend's inconsistent list shapes into one
// canonical page value.
package pagination

import (
	"bytes"
	"encoding/json"

	"github.com/g960059/opsdash/internal/api"
)

const (
	fallbackPage  = 1
	fallbackLimit = 10
)

type Page[T any] struct {
	Data       []T
	Pagination api.Pagination
}

// MarshalJSON writes the page as an OK envelope so that a canonical page fed
// back into Normalize comes out unchanged.
func (p Page[T]) MarshalJSON() ([]byte, error) {
	data := p.Data
	if data == nil {
		data = []T{}
	}
	pg := p.Pagination
	return json.Marshal(struct {
		Status     string          `json:"status"`
		Data       []T             `json:"data"`
		Pagination *api.Pagination `json:"pagination"`
	}{Status: api.StatusOK, Data: data, Pagination: &pg})
}

// Empty is the page used whenever a response has no recognisable shape.
func Empty[T any]() Page[T] {
	return Page[T]{
		Data:       []T{},
		Pagination: Canonical(api.Pagination{Page: fallbackPage, Limit: fallbackLimit, Total: 0}),
	}
}

// Normalize converts a raw response body into a page:
//   - an envelope with the OK marker keeps its data and pagination, with a
//     single synthetic page when pagination is missing;
//   - a bare array becomes a single synthetic page;
//   - anything else, including an empty body, becomes Empty.
//
// Undecodable items count as an unexpected shape, not as an error.
func Normalize[T any](raw []byte) Page[T] {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Empty[T]()
	}
	switch trimmed[0] {
	case '[':
		var data []T
		if err := json.Unmarshal(trimmed, &data); err != nil {
			return Empty[T]()
		}
		return single(data)
	case '{':
		env, ok := api.ParseEnvelope(trimmed)
		if !ok || !env.OK() {
			return Empty[T]()
		}
		data := []T{}
		if body := bytes.TrimSpace(env.Data); len(body) > 0 && !bytes.Equal(body, []byte("null")) {
			if err := json.Unmarshal(body, &data); err != nil {
				return Empty[T]()
			}
		}
		if env.Pagination == nil {
			return single(data)
		}
		return Page[T]{Data: data, Pagination: Canonical(*env.Pagination)}
	default:
		return Empty[T]()
	}
}

func single[T any](data []T) Page[T] {
	if data == nil {
		data = []T{}
	}
	n := len(data)
	return Page[T]{
		Data:       data,
		Pagination: Canonical(api.Pagination{Page: 1, Limit: n, Total: n}),
	}
}

// Canonical enforces page >= 1 and total >= 0 and derives TotalPages when the
// backend left it out.
func Canonical(p api.Pagination) api.Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 0 {
		p.Limit = 0
	}
	if p.Total < 0 {
		p.Total = 0
	}
	if p.TotalPages <= 0 {
		p.TotalPages = TotalPages(p.Total, p.Limit)
	}
	return p
}

func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
