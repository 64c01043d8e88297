package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/command"
	"github.com/g960059/opsdash/internal/dashboard"
	"github.com/g960059/opsdash/internal/resource"
)

func exactArgs(n int, names string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usagef("usage: opsdash %s %s", cmd.Name(), names)
		}
		return nil
	}
}

// listFlags are the list parameters shared by list and the mutation
// commands' --refresh.
type listFlags struct {
	page      int
	limit     int
	sortBy    string
	sortOrder string
	search    string
	status    string
	filters   []string
}

func (f *listFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.page, "page", 0, "page number (1-based)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "page size (default from config)")
	cmd.Flags().StringVar(&f.sortBy, "sort-by", "", "sort field")
	cmd.Flags().StringVar(&f.sortOrder, "sort-order", "", "asc or desc")
	cmd.Flags().StringVar(&f.search, "search", "", "free text search")
	cmd.Flags().StringVar(&f.status, "status", "", "status filter")
	cmd.Flags().StringArrayVar(&f.filters, "filter", nil, "domain filter key=value (repeatable)")
}

func (f *listFlags) params(defaultLimit int) (api.ListParams, error) {
	p := api.ListParams{
		Page:      f.page,
		Limit:     f.limit,
		SortBy:    strings.TrimSpace(f.sortBy),
		SortOrder: strings.ToLower(strings.TrimSpace(f.sortOrder)),
		Search:    strings.TrimSpace(f.search),
		Status:    strings.TrimSpace(f.status),
	}
	if p.Page < 0 || p.Limit < 0 {
		return api.ListParams{}, usagef("--page and --limit must not be negative")
	}
	if p.Page == 0 {
		p.Page = 1
	}
	if p.Limit == 0 {
		p.Limit = defaultLimit
	}
	if p.SortOrder != "" && p.SortOrder != api.SortAsc && p.SortOrder != api.SortDesc {
		return api.ListParams{}, usagef("--sort-order must be asc or desc")
	}
	for _, raw := range f.filters {
		k, v, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return api.ListParams{}, usagef("--filter expects key=value, got %q", raw)
		}
		if p.Filters == nil {
			p.Filters = map[string]string{}
		}
		p.Filters[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return p, nil
}

func (r *Runner) loginCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		Args:  exactArgs(0, "--email <email> --password <password>"),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("OPSDASH_PASSWORD")
			}
			if strings.TrimSpace(email) == "" || password == "" {
				return usagef("--email and --password (or OPSDASH_PASSWORD) are required")
			}
			return r.execute(cmd.Context(), dashboard.Auth, func(*env) (command.Command, error) {
				return command.Request(dashboard.Auth, command.OpLogin, api.LoginRequest{Email: strings.TrimSpace(email), Password: password}), nil
			}, r.renderProfile)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func (r *Runner) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  exactArgs(0, ""),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.execute(cmd.Context(), dashboard.Auth, func(*env) (command.Command, error) {
				return command.Request(dashboard.Auth, command.OpLogout, nil), nil
			}, func(resource.Summary) error {
				_, _ = fmt.Fprintln(r.out, "signed out")
				return nil
			})
		},
	}
}

func (r *Runner) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in profile",
		Args:  exactArgs(0, ""),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.execute(cmd.Context(), dashboard.Auth, func(*env) (command.Command, error) {
				return command.Request(dashboard.Auth, command.OpDetail, nil), nil
			}, r.renderProfile)
		},
	}
}

func (r *Runner) listCommand() *cobra.Command {
	var lf listFlags
	cmd := &cobra.Command{
		Use:   "list <resource>",
		Short: "List records of a resource",
		Args:  exactArgs(1, "<resource> [flags]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.execute(cmd.Context(), args[0], func(e *env) (command.Command, error) {
				params, err := lf.params(e.cfg.DefaultPageLimit)
				if err != nil {
					return command.Command{}, err
				}
				return command.Request(dashboard.CanonicalName(args[0]), command.OpList, params), nil
			}, r.renderList)
		},
	}
	lf.register(cmd)
	return cmd
}

func (r *Runner) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <resource> <id>",
		Short: "Show one record",
		Args:  exactArgs(2, "<resource> <id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.execute(cmd.Context(), args[0], func(*env) (command.Command, error) {
				return command.Request(dashboard.CanonicalName(args[0]), command.OpDetail, command.IDPayload{ID: args[1]}), nil
			}, r.renderDetail)
		},
	}
}

// mutation builds create/update/set-status/delete. With --refresh the list
// flags are fetched first so the requery that follows the mutation is
// rendered.
func (r *Runner) mutation(use, short, names string, nargs int, build func(args []string, data json.RawMessage) (command.Op, any, error), needsData bool) *cobra.Command {
	var lf listFlags
	var refresh bool
	var data string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  exactArgs(nargs, names),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body json.RawMessage
			if needsData {
				raw, err := readData(data)
				if err != nil {
					return err
				}
				body = raw
			}
			op, payload, err := build(args, body)
			if err != nil {
				return err
			}
			name := dashboard.CanonicalName(args[0])
			render := func(sum resource.Summary) error {
				_, _ = fmt.Fprintf(r.out, "%s %s done\n", strings.ToLower(name), strings.ToLower(strings.ReplaceAll(string(op), "_", "-")))
				return nil
			}
			if refresh {
				render = r.renderList
			}
			return r.executeSteps(cmd.Context(), args[0], func(e *env) ([]command.Command, error) {
				var steps []command.Command
				if refresh {
					params, err := lf.params(e.cfg.DefaultPageLimit)
					if err != nil {
						return nil, err
					}
					steps = append(steps, command.Request(name, command.OpList, params))
				}
				return append(steps, command.Request(name, op, payload)), nil
			}, render)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "list with the list flags first and print the list refreshed after the change")
	if needsData {
		cmd.Flags().StringVar(&data, "data", "", "JSON body, or @file")
	}
	lf.register(cmd)
	return cmd
}

func (r *Runner) createCommand() *cobra.Command {
	return r.mutation("create <resource> --data <json>", "Create a record", "<resource> --data <json>", 1,
		func(_ []string, data json.RawMessage) (command.Op, any, error) {
			return command.OpCreate, command.CreatePayload{Body: data}, nil
		}, true)
}

func (r *Runner) updateCommand() *cobra.Command {
	return r.mutation("update <resource> <id> --data <json>", "Replace fields of a record", "<resource> <id> --data <json>", 2,
		func(args []string, data json.RawMessage) (command.Op, any, error) {
			return command.OpUpdate, command.UpdatePayload{ID: args[1], Body: data}, nil
		}, true)
}

func (r *Runner) setStatusCommand() *cobra.Command {
	return r.mutation("set-status <resource> <id> <status>", "Change a record's status", "<resource> <id> <status>", 3,
		func(args []string, _ json.RawMessage) (command.Op, any, error) {
			return command.OpUpdateStatus, command.StatusPayload{ID: args[1], Status: parseStatus(args[2])}, nil
		}, false)
}

func (r *Runner) deleteCommand() *cobra.Command {
	return r.mutation("delete <resource> <id>", "Delete a record", "<resource> <id>", 2,
		func(args []string, _ json.RawMessage) (command.Op, any, error) {
			return command.OpDelete, command.IDPayload{ID: args[1]}, nil
		}, false)
}

// execute runs a single command against the named resource.
func (r *Runner) execute(ctx context.Context, name string, build func(*env) (command.Command, error), render func(resource.Summary) error) error {
	return r.executeSteps(ctx, name, func(e *env) ([]command.Command, error) {
		c, err := build(e)
		if err != nil {
			return nil, err
		}
		return []command.Command{c}, nil
	}, render)
}

// executeSteps runs the commands in order, each to completion. A step that
// ends with an error stops the sequence.
func (r *Runner) executeSteps(ctx context.Context, name string, build func(*env) ([]command.Command, error), render func(resource.Summary) error) error {
	e, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	if _, err := e.app.Domain(name); err != nil {
		return &usageError{err: err}
	}
	steps, err := build(e)
	if err != nil {
		return err
	}
	var sum resource.Summary
	for _, c := range steps {
		sum, err = e.app.Run(ctx, c)
		if err != nil {
			return err
		}
		if sum.Error != "" {
			break
		}
	}
	r.printNotifications(e)
	if sum.Error != "" {
		if r.jsonOut {
			_ = r.writeJSON(sum)
		}
		return errReported
	}
	if r.jsonOut {
		return r.writeJSON(sum)
	}
	return render(sum)
}

func readData(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, usagef("--data is required")
	}
	if strings.HasPrefix(raw, "@") {
		buf, err := os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return nil, fmt.Errorf("read data file: %w", err)
		}
		raw = string(buf)
	}
	if !json.Valid([]byte(raw)) {
		return nil, usagef("--data is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

// parseStatus keeps the status type the backend expects: booleans for
// active toggles, numbers for numeric codes, strings otherwise.
func parseStatus(raw string) any {
	raw = strings.TrimSpace(raw)
	if b, err := strconv.ParseBool(raw); err == nil && (raw == "true" || raw == "false") {
		return b
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}
