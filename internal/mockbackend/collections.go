package mockbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/pagination"
)

type record map[string]any

func (r record) id() string {
	id, _ := r["id"].(string)
	return id
}

func (r record) clone() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type collection struct {
	name   string
	label  string
	prefix string
	unique []string
	// bare answers list calls with a plain JSON array.
	bare bool

	items  []record
	nextID int
}

func defaultCollections() []*collection {
	return []*collection{
		{name: "staff", label: "Staff", prefix: "st", unique: []string{"email"}},
		{name: "customers", label: "Customer", prefix: "cu", unique: []string{"email", "phone"}},
		{name: "categories", label: "Category", prefix: "ca", unique: []string{"slug"}, bare: true},
		{name: "products", label: "Product", prefix: "pr", unique: []string{"sku"}},
		{name: "harvest-batches", label: "Batch", prefix: "hb", unique: []string{"batchCode"}},
		{name: "receipts", label: "Receipt", prefix: "rc", unique: []string{"code"}},
		{name: "discounts", label: "Discount", prefix: "dc", unique: []string{"code"}},
	}
}

func (c *collection) find(id string) (int, bool) {
	for i, rec := range c.items {
		if rec.id() == id {
			return i, true
		}
	}
	return -1, false
}

func (c *collection) upsert(rec record) record {
	rec = record(rec.clone())
	if rec.id() == "" {
		c.nextID++
		rec["id"] = fmt.Sprintf("%s-%d", c.prefix, c.nextID)
	}
	if _, ok := rec["status"]; !ok {
		rec["status"] = "active"
	}
	if i, ok := c.find(rec.id()); ok {
		c.items[i] = rec
		return rec
	}
	c.items = append(c.items, rec)
	return rec
}

// conflict names the first unique field whose value another record holds.
func (c *collection) conflict(rec record, selfID string) string {
	for _, field := range c.unique {
		want := strings.TrimSpace(fmt.Sprint(rec[field]))
		if rec[field] == nil || want == "" {
			continue
		}
		for _, other := range c.items {
			if other.id() == selfID || other[field] == nil {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(fmt.Sprint(other[field])), want) {
				return field
			}
		}
	}
	return ""
}

var reservedParams = map[string]bool{"page": true, "limit": true, "sortBy": true, "sortOrder": true, "search": true, "status": true}

func (c *collection) query(q url.Values) ([]record, api.Pagination) {
	search := strings.ToLower(strings.TrimSpace(q.Get("search")))
	status := strings.TrimSpace(q.Get("status"))
	var matched []record
	for _, rec := range c.items {
		if status != "" && !strings.EqualFold(fmt.Sprint(rec["status"]), status) {
			continue
		}
		if search != "" && !matchesSearch(rec, search) {
			continue
		}
		if !matchesFilters(rec, q) {
			continue
		}
		matched = append(matched, rec)
	}

	if sortBy := strings.TrimSpace(q.Get("sortBy")); sortBy != "" {
		desc := strings.EqualFold(q.Get("sortOrder"), api.SortDesc)
		sort.SliceStable(matched, func(i, j int) bool {
			if desc {
				return less(matched[j][sortBy], matched[i][sortBy])
			}
			return less(matched[i][sortBy], matched[j][sortBy])
		})
	}

	page := positive(q.Get("page"), 1)
	limit := positive(q.Get("limit"), 10)
	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], pagination.Canonical(api.Pagination{Page: page, Limit: limit, Total: total})
}

func matchesSearch(rec record, needle string) bool {
	for _, v := range rec {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

func matchesFilters(rec record, q url.Values) bool {
	for key := range q {
		if reservedParams[key] {
			continue
		}
		want := strings.TrimSpace(q.Get(key))
		if want == "" {
			continue
		}
		if !strings.EqualFold(fmt.Sprint(rec[key]), want) {
			return false
		}
	}
	return true
}

func less(a, b any) bool {
	af, aNum := a.(float64)
	bf, bNum := b.(float64)
	if aNum && bNum {
		return af < bf
	}
	return strings.ToLower(fmt.Sprint(a)) < strings.ToLower(fmt.Sprint(b))
}

func positive(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (s *Server) collectionHandler(c *collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.mu.Lock()
			items, pg := c.query(r.URL.Query())
			data := make([]map[string]any, 0, len(items))
			for _, rec := range items {
				data = append(data, rec.clone())
			}
			s.mu.Unlock()
			if c.bare {
				s.writeJSON(w, http.StatusOK, data)
				return
			}
			s.writeJSON(w, http.StatusOK, map[string]any{"status": api.StatusOK, "data": data, "pagination": pg})
		case http.MethodPost:
			body, ok := s.decodeRecord(w, r)
			if !ok {
				return
			}
			delete(body, "id")
			s.mu.Lock()
			if field := c.conflict(body, ""); field != "" {
				s.mu.Unlock()
				s.writeError(w, http.StatusConflict, conflictMessage(field))
				return
			}
			created := c.upsert(body).clone()
			s.mu.Unlock()
			s.writeOK(w, http.StatusCreated, created, c.label+" created")
		default:
			s.methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	}
}

// itemHandler serves /<collection>/{id} and /<collection>/{id}/status.
func (s *Server) itemHandler(c *collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, BasePath+"/"+c.name+"/")
		id, sub, _ := strings.Cut(rest, "/")
		if strings.TrimSpace(id) == "" {
			s.writeError(w, http.StatusNotFound, c.label+" not found")
			return
		}
		switch {
		case sub == "" && r.Method == http.MethodGet:
			s.mu.Lock()
			i, ok := c.find(id)
			var rec map[string]any
			if ok {
				rec = c.items[i].clone()
			}
			s.mu.Unlock()
			if !ok {
				s.writeError(w, http.StatusNotFound, c.label+" not found")
				return
			}
			s.writeOK(w, http.StatusOK, rec, "")
		case sub == "" && r.Method == http.MethodPut:
			body, ok := s.decodeRecord(w, r)
			if !ok {
				return
			}
			s.mutate(w, c, id, func(rec record) (string, int) {
				merged := record(rec.clone())
				for k, v := range body {
					if k != "id" {
						merged[k] = v
					}
				}
				if field := c.conflict(merged, id); field != "" {
					return conflictMessage(field), http.StatusConflict
				}
				for k, v := range merged {
					rec[k] = v
				}
				return "", 0
			}, c.label+" updated")
		case sub == "status" && r.Method == http.MethodPatch:
			body, ok := s.decodeRecord(w, r)
			if !ok {
				return
			}
			status, present := body["status"]
			if !present {
				s.writeError(w, http.StatusBadRequest, "status is required")
				return
			}
			s.mutate(w, c, id, func(rec record) (string, int) {
				rec["status"] = status
				return "", 0
			}, c.label+" status updated")
		case sub == "" && r.Method == http.MethodDelete:
			s.mu.Lock()
			i, ok := c.find(id)
			if !ok {
				s.mu.Unlock()
				s.writeError(w, http.StatusNotFound, c.label+" not found")
				return
			}
			if locked(c.items[i]) {
				s.mu.Unlock()
				s.writeJSON(w, http.StatusOK, api.ErrorResponse{Status: api.StatusError, Message: c.label + " is locked"})
				return
			}
			c.items = append(c.items[:i], c.items[i+1:]...)
			s.mu.Unlock()
			s.writeOK(w, http.StatusOK, nil, c.label+" deleted")
		default:
			s.methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
		}
	}
}

// mutate applies fn to the record under the lock. A locked record answers
// 200 with an ERROR marker, which is how the real backend reports it.
func (s *Server) mutate(w http.ResponseWriter, c *collection, id string, fn func(record) (string, int), okMessage string) {
	s.mu.Lock()
	i, ok := c.find(id)
	if !ok {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, c.label+" not found")
		return
	}
	rec := c.items[i]
	if locked(rec) {
		s.mu.Unlock()
		s.writeJSON(w, http.StatusOK, api.ErrorResponse{Status: api.StatusError, Message: c.label + " is locked"})
		return
	}
	if msg, status := fn(rec); msg != "" {
		s.mu.Unlock()
		s.writeError(w, status, msg)
		return
	}
	out := rec.clone()
	s.mu.Unlock()
	s.writeOK(w, http.StatusOK, out, okMessage)
}

func (s *Server) decodeRecord(w http.ResponseWriter, r *http.Request) (record, bool) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body == nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	return record(body), true
}

func locked(rec record) bool {
	v, _ := rec["locked"].(bool)
	return v
}

func conflictMessage(field string) string {
	name := strings.ToUpper(field[:1]) + field[1:]
	switch field {
	case "sku":
		name = "SKU"
	case "batchCode":
		name = "Batch code"
	}
	return name + " already exists"
}
