package api

import (
	"bytes"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Status markers carried in every backend envelope. Some endpoints answer
// 200 with StatusError, so transport status alone is not enough.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

type Envelope struct {
	Status     string          `json:"status"`
	Data       json.RawMessage `json:"data,omitempty"`
	Pagination *Pagination     `json:"pagination,omitempty"`
	Message    string          `json:"message,omitempty"`
}

func (e Envelope) OK() bool {
	return e.Status == StatusOK
}

// ParseEnvelope reports whether raw is a JSON object carrying a status marker.
func ParseEnvelope(raw []byte) (Envelope, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, false
	}
	if strings.TrimSpace(env.Status) == "" {
		return Envelope{}, false
	}
	return env, true
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages,omitempty"`
}

// ListParams are the canonical parameters of a list request. Filters holds
// domain specific filters (categoryId, role, ...).
type ListParams struct {
	Page      int               `json:"page,omitempty"`
	Limit     int               `json:"limit,omitempty"`
	SortBy    string            `json:"sortBy,omitempty"`
	SortOrder string            `json:"sortOrder,omitempty"`
	Search    string            `json:"search,omitempty"`
	Status    string            `json:"status,omitempty"`
	Filters   map[string]string `json:"filters,omitempty"`
}

func (p ListParams) Query() url.Values {
	query := url.Values{}
	if p.Page > 0 {
		query.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		query.Set("limit", strconv.Itoa(p.Limit))
	}
	if v := strings.TrimSpace(p.SortBy); v != "" {
		query.Set("sortBy", v)
	}
	if v := strings.ToLower(strings.TrimSpace(p.SortOrder)); v == SortAsc || v == SortDesc {
		query.Set("sortOrder", v)
	}
	if v := strings.TrimSpace(p.Search); v != "" {
		query.Set("search", v)
	}
	if v := strings.TrimSpace(p.Status); v != "" {
		query.Set("status", v)
	}
	keys := make([]string, 0, len(p.Filters))
	for k := range p.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(p.Filters[k]) == "" {
			continue
		}
		query.Set(k, strings.TrimSpace(p.Filters[k]))
	}
	return query
}

// Clone returns a copy that shares no map with p.
func (p ListParams) Clone() ListParams {
	out := p
	if p.Filters != nil {
		out.Filters = make(map[string]string, len(p.Filters))
		for k, v := range p.Filters {
			out.Filters[k] = v
		}
	}
	return out
}

// ErrorResponse is the body of a non-2xx answer. Older endpoints nest the
// message under "error".
type ErrorResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	Error   *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DomainError is a response that arrived intact but carried a non-OK marker.
type DomainError struct {
	Status  string
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	if e.Status != "" {
		return "status " + e.Status
	}
	return "request rejected"
}
