package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/command"
	"github.com/g960059/opsdash/internal/pagination"
)

func TestReduceListLifecycle(t *testing.T) {
	s := Initial[api.Staff]()
	params := api.ListParams{Page: 2, Limit: 10, Status: "active"}

	s = Reduce(s, command.Request("STAFF", command.OpList, params))
	assert.True(t, s.Loading)
	require.NotNil(t, s.LastQueryParams)
	assert.Equal(t, params, *s.LastQueryParams)

	page := pagination.Page[api.Staff]{
		Data:       []api.Staff{{ID: "s1"}, {ID: "s2"}},
		Pagination: api.Pagination{Page: 2, Limit: 10, Total: 12, TotalPages: 2},
	}
	s = Reduce(s, command.Success("STAFF", command.OpList, 1, Outcome[api.Staff]{Page: &page}))
	assert.False(t, s.Loading)
	assert.Equal(t, page.Data, s.List)
	assert.Equal(t, page.Pagination, s.Pagination)
	assert.Empty(t, s.Error)
}

func TestReduceRequestClearsErrorAndKeepsParamsOnMutation(t *testing.T) {
	s := Initial[api.Customer]()
	s = Reduce(s, command.Request("CUSTOMERS", command.OpList, api.ListParams{Search: "ann"}))
	s = Reduce(s, command.Fail("CUSTOMERS", command.OpList, 1, command.Failure{Message: "boom"}))
	assert.Equal(t, "boom", s.Error)
	assert.False(t, s.Loading)

	s = Reduce(s, command.Request("CUSTOMERS", command.OpCreate, command.CreatePayload{Body: map[string]any{"fullName": "x"}}))
	assert.Empty(t, s.Error)
	assert.True(t, s.Loading)
	require.NotNil(t, s.LastQueryParams)
	assert.Equal(t, "ann", s.LastQueryParams.Search, "mutations must not touch lastQueryParams")
}

func TestReduceLoadingTracksEveryPendingOp(t *testing.T) {
	s := Initial[api.Product]()
	s = Reduce(s, command.Request("PRODUCTS", command.OpList, api.ListParams{}))
	s = Reduce(s, command.Request("PRODUCTS", command.OpCreate, command.CreatePayload{Body: "x"}))

	s = Reduce(s, command.Success("PRODUCTS", command.OpCreate, 1, Outcome[api.Product]{}))
	assert.True(t, s.Loading, "list is still pending")

	s = Reduce(s, command.Fail("PRODUCTS", command.OpList, 1, command.Failure{Message: "down"}))
	assert.False(t, s.Loading)
	assert.Nil(t, s.Pending)
}

func TestReduceDetailAndClearError(t *testing.T) {
	s := Initial[api.Discount]()
	s = Reduce(s, command.Request("DISCOUNTS", command.OpDetail, command.IDPayload{ID: "d1"}))
	entity := api.Discount{ID: "d1", Code: "TET10"}
	s = Reduce(s, command.Success("DISCOUNTS", command.OpDetail, 1, Outcome[api.Discount]{Entity: &entity}))
	require.NotNil(t, s.Detail)
	assert.Equal(t, "TET10", s.Detail.Code)
	assert.Nil(t, s.LastQueryParams, "detail requests do not record list params")

	s.Error = "stale"
	s = Reduce(s, command.ClearError("DISCOUNTS"))
	assert.Empty(t, s.Error)
}

func TestReduceResetOutcome(t *testing.T) {
	s := Initial[api.Profile]()
	p := api.Profile{ID: "u1"}
	s = Reduce(s, command.Request("AUTH", command.OpLogin, api.LoginRequest{Email: "a@example.com"}))
	s = Reduce(s, command.Success("AUTH", command.OpLogin, 1, Outcome[api.Profile]{Entity: &p}))
	require.NotNil(t, s.Detail)

	s = Reduce(s, command.Request("AUTH", command.OpDetail, nil))
	s = Reduce(s, command.Request("AUTH", command.OpLogout, nil))
	s = Reduce(s, command.Success("AUTH", command.OpLogout, 1, Outcome[api.Profile]{Reset: true}))
	assert.Nil(t, s.Detail)
	assert.False(t, s.Loading, "the profile request is retired with the logout")
	assert.Empty(t, s.List)

	late := api.Profile{ID: "u1"}
	s = Reduce(s, command.Success("AUTH", command.OpDetail, 1, Outcome[api.Profile]{Entity: &late}))
	assert.Nil(t, s.Detail)
}

func TestReduceDropsSupersededTerminals(t *testing.T) {
	s := Initial[api.Staff]()
	s = Reduce(s, command.Request("STAFF", command.OpList, api.ListParams{Page: 1}))
	s = Reduce(s, command.Request("STAFF", command.OpList, api.ListParams{Page: 2}))
	assert.Equal(t, uint64(2), s.Issued[command.OpList])

	old := pagination.Page[api.Staff]{Data: []api.Staff{{ID: "a1"}}, Pagination: api.Pagination{Page: 1, Limit: 10, Total: 1, TotalPages: 1}}
	stale := command.Success("STAFF", command.OpList, 1, Outcome[api.Staff]{Page: &old})
	assert.False(t, s.Accepts(stale))
	s = Reduce(s, stale)
	assert.True(t, s.Loading)
	assert.Empty(t, s.List)

	assert.False(t, s.Accepts(command.Fail("STAFF", command.OpDelete, 0, command.Failure{Message: "forged"})))
	assert.True(t, s.Accepts(command.Fail("STAFF", command.OpList, 2, command.Failure{Message: "down"})))
}

func TestReduceResetKeepsIssuedCounters(t *testing.T) {
	s := Initial[api.HarvestBatch]()
	s = Reduce(s, command.Request("BATCHES", command.OpList, api.ListParams{Status: "stored"}))
	s = Reduce(s, command.Reset("BATCHES"))
	assert.False(t, s.Loading)
	assert.Nil(t, s.Pending)
	assert.Nil(t, s.LastQueryParams)
	assert.Equal(t, uint64(1), s.Issued[command.OpList])

	assert.False(t, s.Accepts(command.Fail("BATCHES", command.OpList, 1, command.Failure{Message: "Unauthorized"})))

	s = Reduce(s, command.Request("BATCHES", command.OpList, api.ListParams{}))
	assert.Equal(t, uint64(2), s.Issued[command.OpList])
	assert.False(t, s.Accepts(command.Fail("BATCHES", command.OpList, 1, command.Failure{Message: "Unauthorized"})))
}

func TestReduceIgnoresUnknownKinds(t *testing.T) {
	s := Initial[api.Category]()
	out := Reduce(s, command.New("CATEGORIES_EXPLODE", nil))
	assert.Equal(t, s, out)
}

func TestListParamsPointerPayload(t *testing.T) {
	s := Reduce(Initial[api.Receipt](), command.Request("RECEIPTS", command.OpList, &api.ListParams{Page: 3}))
	require.NotNil(t, s.LastQueryParams)
	assert.Equal(t, 3, s.LastQueryParams.Page)

	s = Reduce(Initial[api.Receipt](), command.Request("RECEIPTS", command.OpList, nil))
	require.NotNil(t, s.LastQueryParams)
	assert.Equal(t, api.ListParams{}, *s.LastQueryParams)
}

func TestStoreSnapshotIsDetached(t *testing.T) {
	store := NewStore[api.Staff]("STAFF")
	store.Apply(command.Request("STAFF", command.OpList, api.ListParams{Filters: map[string]string{"role": "qc"}}))
	snap := store.Snapshot()
	snap.LastQueryParams.Filters["role"] = "admin"
	snap.Pending[command.OpList] = false

	params, ok := store.LastQueryParams()
	require.True(t, ok)
	assert.Equal(t, "qc", params.Filters["role"])
	assert.True(t, store.Snapshot().Pending[command.OpList])
}

func TestStoreSubscribeAndReset(t *testing.T) {
	store := NewStore[api.Staff]("STAFF")
	var versions []uint64
	unsubscribe := store.Subscribe(func(_ State[api.Staff], v uint64) {
		versions = append(versions, v)
	})
	req, ok := store.Apply(command.Request("STAFF", command.OpList, api.ListParams{}))
	require.True(t, ok)
	assert.Equal(t, uint64(1), req.Seq)
	assert.True(t, store.Current(command.OpList, 1))

	_, ok = store.Apply(command.Reset("STAFF"))
	require.True(t, ok)
	assert.False(t, store.Current(command.OpList, 1))

	_, ok = store.Apply(command.Success("STAFF", command.OpList, 1, Outcome[api.Staff]{}))
	assert.False(t, ok, "refused commands do not bump the version")
	unsubscribe()
	store.Apply(command.ClearError("STAFF"))

	assert.Equal(t, []uint64{1, 2}, versions)
	_, ok = store.LastQueryParams()
	assert.False(t, ok)
	assert.Equal(t, uint64(3), store.Version())
}
