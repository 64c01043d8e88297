package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/opsdash/internal/mockbackend"
	"github.com/g960059/opsdash/internal/resource"
	"github.com/g960059/opsdash/internal/testutil"
)

type cliHarness struct {
	t       *testing.T
	baseURL string
	backend *mockbackend.Server
}

func newCLI(t *testing.T) *cliHarness {
	t.Helper()
	backend, baseURL := testutil.NewBackend(t)
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("OPSDASH_SESSION_PATH", filepath.Join(dir, "session.db"))
	t.Setenv("OPSDASH_TOKEN", "")
	t.Setenv("OPSDASH_BASE_URL", "")
	t.Setenv("OPSDASH_PASSWORD", "")
	t.Setenv("OPSDASH_LOG_LEVEL", "error")
	return &cliHarness{t: t, baseURL: baseURL, backend: backend}
}

func (h *cliHarness) run(args ...string) (int, string, string) {
	h.t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunner(out, errOut)
	code := r.Run(context.Background(), append([]string{"--base-url", h.baseURL}, args...))
	return code, out.String(), errOut.String()
}

func (h *cliHarness) login() {
	h.t.Helper()
	code, _, errOut := h.run("login", "--email", "admin@example.com", "--password", mockbackend.DemoPassword)
	require.Equal(h.t, 0, code, errOut)
}

func TestLoginWhoamiLogout(t *testing.T) {
	h := newCLI(t)

	code, out, errOut := h.run("login", "--email", "admin@example.com", "--password", mockbackend.DemoPassword)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Admin <admin@example.com> role=admin")
	assert.Contains(t, errOut, "[success] Signed in")

	code, out, errOut = h.run("whoami", "--quiet")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "role=admin")
	assert.Empty(t, errOut)

	code, out, _ = h.run("logout")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "signed out")

	code, _, errOut = h.run("whoami")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "[error] Unauthorized")
}

func TestListJSONOutput(t *testing.T) {
	h := newCLI(t)
	h.login()

	code, out, errOut := h.run("list", "staff", "--status", "active", "--limit", "2", "--json")
	require.Equal(t, 0, code, errOut)
	var sum resource.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, "STAFF", sum.Resource)
	assert.Equal(t, 2, sum.Count)
	assert.Equal(t, 3, sum.Pagination.Total)
	assert.Equal(t, 2, sum.Pagination.TotalPages)
	require.NotNil(t, sum.LastQueryParams)
	assert.Equal(t, "active", sum.LastQueryParams.Status)
}

func TestListTableOutput(t *testing.T) {
	h := newCLI(t)
	h.login()

	code, out, errOut := h.run("list", "harvest-batches", "--filter", "productId=pr-1")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "HB-2401")
	assert.NotContains(t, out, "HB-2402")
	assert.Contains(t, out, "batches: page 1/1, 1 of 1 records")
}

func TestCreateDuplicateReportsBackendMessage(t *testing.T) {
	h := newCLI(t)
	h.login()

	code, _, errOut := h.run("create", "staff", "--data", `{"fullName":"Dup","email":"an@example.com"}`)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "[error] Email already exists")

	code, out, errOut := h.run("create", "staff", "--data", `{"fullName":"Eve","email":"eve@example.com"}`)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "staff create done")
	assert.Contains(t, errOut, "[success] Staff created")
	assert.Len(t, h.backend.Records("staff"), 5)
}

func TestSetStatusRefreshShowsRequeriedList(t *testing.T) {
	h := newCLI(t)
	h.login()

	code, out, errOut := h.run("set-status", "staff", "st-1", "inactive", "--refresh", "--status", "active")
	require.Equal(t, 0, code, errOut)
	assert.NotContains(t, out, "Nguyen Van An")
	assert.Contains(t, out, "Tran Thi Binh")
	assert.Contains(t, out, "staff: page 1/1, 2 of 2 records")
}

func TestGetPrintsFields(t *testing.T) {
	h := newCLI(t)
	h.login()

	code, out, errOut := h.run("get", "customers", "cu-2")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "lan@example.com")
	assert.True(t, strings.Contains(out, "tier") && strings.Contains(out, "silver"))
}

func TestWatchSingleRound(t *testing.T) {
	h := newCLI(t)
	h.login()

	code, out, errOut := h.run("watch", "products", "discounts", "--rounds", "1", "--interval", "10ms")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "products: 3 of 3 records, ok")
	assert.Contains(t, out, "discounts: 2 of 2 records, ok")
}

func TestUsageErrors(t *testing.T) {
	h := newCLI(t)
	cases := [][]string{
		{"list"},
		{"list", "payroll"},
		{"list", "staff", "--sort-order", "sideways"},
		{"list", "staff", "--filter", "novalue"},
		{"frobnicate"},
		{"create", "staff"},
		{"create", "staff", "--data", "{broken"},
		{"login"},
		{"watch"},
	}
	for _, args := range cases {
		code, _, errOut := h.run(args...)
		assert.Equal(t, 2, code, "args %v: %s", args, errOut)
	}
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, false, parseStatus("false"))
	assert.Equal(t, true, parseStatus("true"))
	assert.Equal(t, 2, parseStatus("2"))
	assert.Equal(t, "inactive", parseStatus(" inactive "))
	assert.Equal(t, "TRUE", parseStatus("TRUE"))
}
