package resource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/appclient"
	"github.com/g960059/opsdash/internal/command"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type reply struct {
	body string
	err  error
}

type call struct {
	method string
	path   string
	opts   appclient.RequestOptions
	answer chan reply
}

func (c *call) respond(body string) {
	c.answer <- reply{body: body}
}

func (c *call) fail(err error) {
	c.answer <- reply{err: err}
}

// scriptedRemote parks every call until the test answers it.
type scriptedRemote struct {
	calls chan *call
}

func newScriptedRemote() *scriptedRemote {
	return &scriptedRemote{calls: make(chan *call, 16)}
}

func (r *scriptedRemote) Do(ctx context.Context, method, path string, opts appclient.RequestOptions) (json.RawMessage, error) {
	c := &call{method: method, path: path, opts: opts, answer: make(chan reply, 1)}
	select {
	case r.calls <- c:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rp := <-c.answer:
		if rp.err != nil {
			return nil, rp.err
		}
		return json.RawMessage(rp.body), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *scriptedRemote) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-r.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("no remote call arrived")
		return nil
	}
}

func (r *scriptedRemote) expectNone(t *testing.T) {
	t.Helper()
	select {
	case c := <-r.calls:
		t.Fatalf("unexpected remote call %s %s", c.method, c.path)
	case <-time.After(50 * time.Millisecond):
	}
}

// loopback routes commands straight back into one domain and keeps a log.
type loopback[T any] struct {
	domain *Domain[T]

	mu   sync.Mutex
	seen []command.Command
}

func (l *loopback[T]) Dispatch(c command.Command) {
	l.mu.Lock()
	l.seen = append(l.seen, c)
	l.mu.Unlock()
	_, op, phase, ok := c.Kind.Parse()
	if !ok || !l.domain.Supports(op) {
		return
	}
	applied, accepted := l.domain.Apply(c)
	if accepted && phase == command.PhaseRequest {
		l.domain.Enqueue(applied)
	}
}

func (l *loopback[T]) kinds() []command.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]command.Kind, 0, len(l.seen))
	for _, c := range l.seen {
		out = append(out, c.Kind)
	}
	return out
}

func (l *loopback[T]) find(kind command.Kind) []command.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []command.Command
	for _, c := range l.seen {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type staleRecorder struct {
	mu    sync.Mutex
	calls int
	stale chan command.Op
}

func (r *staleRecorder) ObserveCall(string, command.Op, time.Duration, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
}

func (r *staleRecorder) IncStale(_ string, op command.Op) {
	r.stale <- op
}

func newStaffDomain(t *testing.T, opts ...Option[api.Staff]) (*Domain[api.Staff], *loopback[api.Staff], *scriptedRemote) {
	t.Helper()
	remote := newScriptedRemote()
	d := NewDomain[api.Staff](Endpoint{Name: "STAFF", Path: "/staff"}, remote, opts...)
	lb := &loopback[api.Staff]{domain: d}
	d.Start(lb)
	t.Cleanup(d.Close)
	return d, lb, remote
}

func waitIdle(t *testing.T, d *Domain[api.Staff]) State[api.Staff] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := d.WaitIdle(ctx)
	require.NoError(t, err)
	return st
}

const pageOne = `{"status":"OK","data":[{"id":"a1","fullName":"Ann"}],"pagination":{"page":1,"limit":10,"total":11}}`
const pageTwo = `{"status":"OK","data":[{"id":"b1","fullName":"Bao"}],"pagination":{"page":2,"limit":10,"total":11}}`

func TestLatestListWinsWhenAnswersArriveOutOfOrder(t *testing.T) {
	recorder := &staleRecorder{stale: make(chan command.Op, 1)}
	d, lb, remote := newStaffDomain(t, WithRecorder[api.Staff](recorder))

	lb.Dispatch(command.Request("STAFF", command.OpList, api.ListParams{Page: 1, Limit: 10}))
	first := remote.next(t)
	lb.Dispatch(command.Request("STAFF", command.OpList, api.ListParams{Page: 2, Limit: 10}))
	second := remote.next(t)

	assert.Equal(t, "1", first.opts.Params.Get("page"))
	assert.Equal(t, "2", second.opts.Params.Get("page"))
	assert.True(t, d.Snapshot().Loading)

	second.respond(pageTwo)
	st := waitIdle(t, d)
	require.Len(t, st.List, 1)
	assert.Equal(t, "b1", st.List[0].ID)

	first.respond(pageOne)
	select {
	case op := <-recorder.stale:
		assert.Equal(t, command.OpList, op)
	case <-time.After(2 * time.Second):
		t.Fatalf("superseded answer was not dropped")
	}

	st = d.Snapshot()
	assert.False(t, st.Loading)
	assert.Equal(t, "b1", st.List[0].ID)
	assert.Equal(t, 2, st.Pagination.Page)
	assert.Equal(t, 2, st.Pagination.TotalPages)
	assert.Equal(t, 2, st.LastQueryParams.Page)
	assert.Len(t, lb.find(command.KindOf("STAFF", command.OpList, command.PhaseSuccess)), 1)
}

func TestSupersededAnswerWaitingOnBusyLoopIsDropped(t *testing.T) {
	recorder := &staleRecorder{stale: make(chan command.Op, 1)}
	d, lb, remote := newStaffDomain(t, WithRecorder[api.Staff](recorder))

	// The first detail success parks the coordinator loop inside a subscriber.
	entered := make(chan struct{})
	gate := make(chan struct{})
	var parked atomic.Bool
	unsubscribe := d.Subscribe(func(st State[api.Staff], _ uint64) {
		if st.Detail != nil && parked.CompareAndSwap(false, true) {
			close(entered)
			<-gate
		}
	})
	defer unsubscribe()
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(gate) }) }
	t.Cleanup(release)

	lb.Dispatch(command.Request("STAFF", command.OpDetail, command.IDPayload{ID: "s7"}))
	detail := remote.next(t)
	lb.Dispatch(command.Request("STAFF", command.OpList, api.ListParams{Page: 1, Limit: 10}))
	first := remote.next(t)

	detail.respond(`{"status":"OK","data":{"id":"s7"}}`)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("coordinator loop never reached the subscriber")
	}
	first.respond(pageOne)

	lb.Dispatch(command.Request("STAFF", command.OpList, api.ListParams{Page: 2, Limit: 10}))
	release()

	select {
	case op := <-recorder.stale:
		assert.Equal(t, command.OpList, op)
	case <-time.After(2 * time.Second):
		t.Fatalf("page 1 answer was not dropped")
	}
	st := d.Snapshot()
	assert.True(t, st.Loading, "page 2 is still in flight")
	assert.Empty(t, st.List)
	assert.Equal(t, uint64(2), st.Issued[command.OpList])

	second := remote.next(t)
	assert.Equal(t, "2", second.opts.Params.Get("page"))
	second.respond(pageTwo)
	st = waitIdle(t, d)
	require.Len(t, st.List, 1)
	assert.Equal(t, "b1", st.List[0].ID)
}

func TestResetRetiresRequestInFlight(t *testing.T) {
	recorder := &staleRecorder{stale: make(chan command.Op, 1)}
	d, lb, remote := newStaffDomain(t, WithRecorder[api.Staff](recorder))

	lb.Dispatch(command.Request("STAFF", command.OpList, api.ListParams{}))
	call := remote.next(t)
	lb.Dispatch(command.Reset("STAFF"))
	assert.False(t, d.Snapshot().Loading)

	call.fail(&appclient.RequestError{StatusCode: http.StatusUnauthorized, Message: "Unauthorized"})
	select {
	case op := <-recorder.stale:
		assert.Equal(t, command.OpList, op)
	case <-time.After(2 * time.Second):
		t.Fatalf("answer from before the reset was applied")
	}
	st := d.Snapshot()
	assert.Empty(t, st.Error)
	assert.Empty(t, st.List)
	assert.Nil(t, st.LastQueryParams)
	assert.Empty(t, lb.find(command.KindOf("STAFF", command.OpList, command.PhaseFailure)))
}

func TestForgedTerminalCommandIsRefused(t *testing.T) {
	d, lb, remote := newStaffDomain(t)

	lb.Dispatch(command.Request("STAFF", command.OpList, api.ListParams{}))
	call := remote.next(t)

	_, ok := d.Apply(command.Success("STAFF", command.OpList, 0, Outcome[api.Staff]{}))
	assert.False(t, ok)
	_, ok = d.Apply(command.Fail("STAFF", command.OpCreate, 1, command.Failure{Message: "x"}))
	assert.False(t, ok, "create was never requested")
	assert.True(t, d.Snapshot().Loading)

	call.respond(pageOne)
	st := waitIdle(t, d)
	assert.Len(t, st.List, 1)
}

func TestMutationRequeriesWithExactLastParams(t *testing.T) {
	d, lb, remote := newStaffDomain(t)

	lb.Dispatch(command.Request("STAFF", command.OpList, api.ListParams{}))
	list := remote.next(t)
	assert.Empty(t, list.opts.Params)
	list.respond(pageOne)
	waitIdle(t, d)

	lb.Dispatch(command.Request("STAFF", command.OpCreate, command.CreatePayload{Body: map[string]any{"email": "new@example.com"}}))
	create := remote.next(t)
	assert.Equal(t, http.MethodPost, create.method)
	assert.Equal(t, "/staff", create.path)
	create.respond(`{"status":"OK","data":{"id":"c9","email":"new@example.com"}}`)

	requery := remote.next(t)
	assert.Equal(t, http.MethodGet, requery.method)
	assert.Empty(t, requery.opts.Params, "requery must not invent defaults")
	assert.True(t, d.Snapshot().Loading, "loading holds until the requery lands")
	requery.respond(`{"status":"OK","data":[{"id":"a1"},{"id":"c9"}],"pagination":{"page":1,"limit":10,"total":2}}`)

	st := waitIdle(t, d)
	assert.Len(t, st.List, 2)
	assert.Empty(t, st.Error)

	requests := lb.find(command.KindOf("STAFF", command.OpList, command.PhaseRequest))
	require.Len(t, requests, 2)
	assert.Equal(t, api.ListParams{}, requests[1].Payload)

	kinds := lb.kinds()
	requeryAt, successAt := -1, -1
	for i, k := range kinds {
		switch k {
		case command.KindOf("STAFF", command.OpCreate, command.PhaseSuccess):
			successAt = i
		case command.KindOf("STAFF", command.OpList, command.PhaseRequest):
			requeryAt = i
		}
	}
	assert.Less(t, requeryAt, successAt, "requery is dispatched before the create success")
}

func TestMutationWithoutPriorListDoesNotRequery(t *testing.T) {
	d, lb, remote := newStaffDomain(t)

	lb.Dispatch(command.Request("STAFF", command.OpDelete, command.IDPayload{ID: "s1"}))
	del := remote.next(t)
	assert.Equal(t, http.MethodDelete, del.method)
	assert.Equal(t, "/staff/s1", del.path)
	del.respond(`{"status":"OK"}`)

	st := waitIdle(t, d)
	assert.Empty(t, st.Error)
	remote.expectNone(t)
	assert.Empty(t, lb.find(command.KindOf("STAFF", command.OpList, command.PhaseRequest)))
}

func TestStatusFilterRequeryDropsChangedRecord(t *testing.T) {
	d, lb, remote := newStaffDomain(t)
	active := api.ListParams{Page: 1, Limit: 10, Status: "active"}

	lb.Dispatch(command.Request("STAFF", command.OpList, active))
	list := remote.next(t)
	list.respond(`{"status":"OK","data":[{"id":"s1","status":"active"},{"id":"s2","status":"active"}],"pagination":{"page":1,"limit":10,"total":2}}`)
	waitIdle(t, d)

	lb.Dispatch(command.Request("STAFF", command.OpUpdateStatus, command.StatusPayload{ID: "s1", Status: "inactive"}))
	patch := remote.next(t)
	assert.Equal(t, http.MethodPatch, patch.method)
	assert.Equal(t, "/staff/s1/status", patch.path)
	assert.Equal(t, map[string]any{"status": "inactive"}, patch.opts.Body)
	patch.respond(`{"status":"OK","data":{"id":"s1","status":"inactive"}}`)

	requery := remote.next(t)
	assert.Equal(t, "active", requery.opts.Params.Get("status"))
	requery.respond(`{"status":"OK","data":[{"id":"s2","status":"active"}],"pagination":{"page":1,"limit":10,"total":1}}`)

	st := waitIdle(t, d)
	require.Len(t, st.List, 1)
	assert.Equal(t, "s2", st.List[0].ID)
}

func TestFailureKeepsBackendMessageVerbatim(t *testing.T) {
	d, lb, remote := newStaffDomain(t)

	lb.Dispatch(command.Request("STAFF", command.OpCreate, command.CreatePayload{Body: map[string]any{"email": "dup@example.com"}}))
	remote.next(t).fail(&appclient.RequestError{StatusCode: http.StatusConflict, Code: "ERROR", Message: "Email already exists"})

	st := waitIdle(t, d)
	assert.Equal(t, "Email already exists", st.Error)
	failures := lb.find(command.KindOf("STAFF", command.OpCreate, command.PhaseFailure))
	require.Len(t, failures, 1)
	assert.Equal(t, uint64(1), failures[0].Seq)
	remote.expectNone(t)
}

func TestOKStatusWithErrorMarkerFails(t *testing.T) {
	d, lb, remote := newStaffDomain(t)

	lb.Dispatch(command.Request("STAFF", command.OpList, api.ListParams{Page: 1}))
	remote.next(t).respond(pageOne)
	waitIdle(t, d)

	lb.Dispatch(command.Request("STAFF", command.OpList, api.ListParams{Page: 2}))
	remote.next(t).respond(`{"status":"ERROR","message":"Forbidden for role"}`)

	st := waitIdle(t, d)
	assert.Equal(t, "Forbidden for role", st.Error)
	require.Len(t, st.List, 1)
	assert.Equal(t, "a1", st.List[0].ID, "a failed list keeps the previous records")
}

func TestTransportErrorTextSurfaces(t *testing.T) {
	d, lb, remote := newStaffDomain(t)

	lb.Dispatch(command.Request("STAFF", command.OpList, api.ListParams{}))
	remote.next(t).fail(errors.New("dial tcp 127.0.0.1:8080: connect: connection refused"))

	st := waitIdle(t, d)
	assert.Equal(t, "dial tcp 127.0.0.1:8080: connect: connection refused", st.Error)

	lb.Dispatch(command.ClearError("STAFF"))
	assert.Empty(t, d.Snapshot().Error)
}

func TestDetailAndBareArrayList(t *testing.T) {
	d, lb, remote := newStaffDomain(t)

	lb.Dispatch(command.Request("STAFF", command.OpDetail, command.IDPayload{ID: "s7"}))
	detail := remote.next(t)
	assert.Equal(t, "/staff/s7", detail.path)
	detail.respond(`{"status":"OK","data":{"id":"s7","fullName":"Chi","status":true}}`)
	st := waitIdle(t, d)
	require.NotNil(t, st.Detail)
	assert.Equal(t, "Chi", st.Detail.FullName)
	assert.Equal(t, api.StatusValue("true"), st.Detail.Status)

	lb.Dispatch(command.Request("STAFF", command.OpList, api.ListParams{}))
	remote.next(t).respond(`[{"id":"x"},{"id":"y"},{"id":"z"}]`)
	st = waitIdle(t, d)
	assert.Len(t, st.List, 3)
	assert.Equal(t, api.Pagination{Page: 1, Limit: 3, Total: 3, TotalPages: 1}, st.Pagination)
}

func TestMissingIDFailsWithoutCallingRemote(t *testing.T) {
	d, lb, remote := newStaffDomain(t)

	lb.Dispatch(command.Request("STAFF", command.OpDelete, command.IDPayload{}))
	st := waitIdle(t, d)
	assert.Equal(t, "id is required", st.Error)
	remote.expectNone(t)
}

func TestPanickingEffectBecomesFailure(t *testing.T) {
	boom := func(context.Context, Remote, Endpoint, command.Command) (Outcome[api.Staff], error) {
		panic("bad effect")
	}
	d, lb, _ := newStaffDomain(t, WithEffect[api.Staff](command.OpDetail, boom))

	lb.Dispatch(command.Request("STAFF", command.OpDetail, command.IDPayload{ID: "s1"}))
	st := waitIdle(t, d)
	assert.Equal(t, "internal error", st.Error)
}

func TestRemovedEffectIsUnsupported(t *testing.T) {
	d, lb, remote := newStaffDomain(t, WithEffect[api.Staff](command.OpDelete, nil))

	assert.False(t, d.Supports(command.OpDelete))
	assert.True(t, d.Supports(command.OpClearError))

	lb.Dispatch(command.Request("STAFF", command.OpDelete, command.IDPayload{ID: "s1"}))
	assert.False(t, d.Snapshot().Loading)
	remote.expectNone(t)
}

func TestCloseReleasesParkedCalls(t *testing.T) {
	remote := newScriptedRemote()
	d := NewDomain[api.Staff](Endpoint{Name: "STAFF", Path: "/staff"}, remote)
	lb := &loopback[api.Staff]{domain: d}
	d.Start(lb)

	lb.Dispatch(command.Request("STAFF", command.OpList, api.ListParams{}))
	remote.next(t)
	d.Close()
	d.Close()
	assert.True(t, d.Snapshot().Loading, "no terminal command after close")
}

func TestSummaryView(t *testing.T) {
	d, lb, remote := newStaffDomain(t)

	lb.Dispatch(command.Request("STAFF", command.OpList, api.ListParams{Search: "an"}))
	remote.next(t).respond(pageOne)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sum, err := d.WaitSummary(ctx)
	require.NoError(t, err)

	assert.Equal(t, "STAFF", sum.Resource)
	assert.Equal(t, 1, sum.Count)
	assert.Equal(t, 11, sum.Pagination.Total)
	require.NotNil(t, sum.LastQueryParams)
	assert.Equal(t, "an", sum.LastQueryParams.Search)
	assert.Nil(t, sum.Detail)
}

func TestWithEffectsCopiesItsMap(t *testing.T) {
	var d *Domain[api.Staff]
	require.NotPanics(t, func() {
		d = NewDomain[api.Staff](Endpoint{Name: "STAFF", Path: "/staff"}, newScriptedRemote(),
			WithEffects[api.Staff](nil),
			WithEffect[api.Staff](command.OpList, ListEffect[api.Staff]))
	})
	defer d.Close()
	assert.True(t, d.Supports(command.OpList))
	assert.False(t, d.Supports(command.OpCreate))

	effects := map[command.Op]Effect[api.Staff]{command.OpDetail: DetailEffect[api.Staff]}
	other := NewDomain[api.Staff](Endpoint{Name: "STAFF", Path: "/staff"}, newScriptedRemote(),
		WithEffects(effects),
		WithEffect[api.Staff](command.OpDelete, DeleteEffect[api.Staff]))
	defer other.Close()
	assert.True(t, other.Supports(command.OpDelete))
	assert.Len(t, effects, 1, "caller map is left untouched")
}
