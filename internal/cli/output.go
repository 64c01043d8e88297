package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/resource"
)

// labelFields are tried in order for the second column of a list.
var labelFields = []string{"fullName", "name", "code", "batchCode", "sku", "email"}

func (r *Runner) writeJSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Runner) printNotifications(e *env) {
	if r.quiet {
		return
	}
	for _, n := range e.app.Reporter().Active() {
		_, _ = fmt.Fprintf(r.errOut, "[%s] %s\n", n.Level, n.Message)
	}
}

func (r *Runner) renderList(sum resource.Summary) error {
	rows, err := asRecords(sum.List)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tSTATUS")
	for _, row := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", text(row["id"]), label(row), text(row["status"]))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	pg := sum.Pagination
	_, _ = fmt.Fprintf(r.out, "%s: page %d/%d, %d of %d records\n", strings.ToLower(sum.Resource), pg.Page, pg.TotalPages, len(rows), pg.Total)
	return nil
}

func (r *Runner) renderDetail(sum resource.Summary) error {
	if sum.Detail == nil {
		_, _ = fmt.Fprintln(r.out, "no record")
		return nil
	}
	rows, err := asRecords([]any{sum.Detail})
	if err != nil {
		return err
	}
	row := rows[0]
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", k, text(row[k]))
	}
	return tw.Flush()
}

func (r *Runner) renderProfile(sum resource.Summary) error {
	p, ok := sum.Detail.(api.Profile)
	if !ok {
		_, _ = fmt.Fprintln(r.out, "not signed in")
		return nil
	}
	name := p.FullName
	if name == "" {
		name = p.Email
	}
	_, _ = fmt.Fprintf(r.out, "%s <%s> role=%s\n", name, p.Email, p.Role)
	return nil
}

// asRecords turns typed records into field maps so one renderer serves
// every resource.
func asRecords(list any) ([]map[string]any, error) {
	raw, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func label(row map[string]any) string {
	for _, f := range labelFields {
		if v := text(row[f]); v != "" {
			return v
		}
	}
	return "-"
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}
