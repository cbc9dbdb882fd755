package tenancy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corterix/gateway/pkg/ferrors"
)

func newTestManager() *Manager {
	return New(Config{EnableBilling: true, Rates: BillingRates{PerRequest: 0.001, PerToken: 0.0001}}, nil, nil)
}

func TestCreateTenant_Defaults(t *testing.T) {
	m := newTestManager()
	tn, err := m.CreateTenant(context.Background(), CreateRequest{ID: "t1", Name: "Acme"})
	require.NoError(t, err)
	require.Equal(t, IsolationShared, tn.Isolation)
	require.Equal(t, StatusActive, tn.Status)
}

func TestCreateTenant_RejectsUnknownQuotaType(t *testing.T) {
	m := newTestManager()
	_, err := m.CreateTenant(context.Background(), CreateRequest{
		ID: "t1", Name: "Acme", Quotas: map[QuotaType]int64{"bogus": 5},
	})
	require.Error(t, err)
}

func TestCreateTenant_RejectsInvalidIsolation(t *testing.T) {
	m := newTestManager()
	_, err := m.CreateTenant(context.Background(), CreateRequest{ID: "t1", Name: "Acme", Isolation: "nonsense"})
	require.Error(t, err)
}

func TestCreateTenant_Duplicate(t *testing.T) {
	m := newTestManager()
	_, err := m.CreateTenant(context.Background(), CreateRequest{ID: "t1", Name: "Acme"})
	require.NoError(t, err)
	_, err = m.CreateTenant(context.Background(), CreateRequest{ID: "t1", Name: "Acme2"})
	require.Error(t, err)
}

func TestCheckModelAccess_Strict(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.CreateTenant(ctx, CreateRequest{ID: "t1", Name: "Acme", Isolation: IsolationStrict})
	require.NoError(t, err)

	ok, err := m.CheckModelAccess("t1", "model-a", true)
	require.NoError(t, err)
	require.False(t, ok, "strict tenant should not see shared-pool models it isn't assigned")

	require.NoError(t, m.AssignModelToTenant(ctx, "t1", "model-a"))
	ok, err = m.CheckModelAccess("t1", "model-a", true)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckModelAccess_Shared(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.CreateTenant(ctx, CreateRequest{ID: "t1", Name: "Acme", Isolation: IsolationShared})
	require.NoError(t, err)

	ok, err := m.CheckModelAccess("t1", "model-a", true)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.CheckModelAccess("t1", "model-b", false)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAssignModelToTenant_RespectsModelCountQuota(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.CreateTenant(ctx, CreateRequest{
		ID: "t1", Name: "Acme", Isolation: IsolationStrict,
		Quotas: map[QuotaType]int64{QuotaModelCount: 1},
	})
	require.NoError(t, err)

	require.NoError(t, m.AssignModelToTenant(ctx, "t1", "model-a"))

	err = m.AssignModelToTenant(ctx, "t1", "model-b")
	require.Error(t, err)
	kind, ok := ferrors.AsKind(err)
	require.True(t, ok)
	require.Equal(t, ferrors.KindQuotaExceeded, kind)

	// Re-assigning an already-assigned model never breaches the quota.
	require.NoError(t, m.AssignModelToTenant(ctx, "t1", "model-a"))
}

func TestCheckQuota_UnlimitedWhenNotConfigured(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.CreateTenant(ctx, CreateRequest{ID: "t1", Name: "Acme"})
	require.NoError(t, err)

	require.NoError(t, m.CheckQuota(ctx, "t1", QuotaRequestsPerMinute, 1_000_000))
}

func TestCheckQuota_WindowedBreach(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.CreateTenant(ctx, CreateRequest{
		ID: "t1", Name: "Acme",
		Quotas: map[QuotaType]int64{QuotaRequestsPerMinute: 2},
	})
	require.NoError(t, err)

	require.NoError(t, m.CheckQuota(ctx, "t1", QuotaRequestsPerMinute, 1))
	require.NoError(t, m.RecordUsage(ctx, "t1", Usage{Requests: 1}))

	require.NoError(t, m.CheckQuota(ctx, "t1", QuotaRequestsPerMinute, 1))
	require.NoError(t, m.RecordUsage(ctx, "t1", Usage{Requests: 1}))

	err = m.CheckQuota(ctx, "t1", QuotaRequestsPerMinute, 1)
	require.Error(t, err)
	kind, ok := ferrors.AsKind(err)
	require.True(t, ok)
	require.Equal(t, ferrors.KindQuotaExceeded, kind)
}

func TestCheckQuota_IsPureRead(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.CreateTenant(ctx, CreateRequest{
		ID: "t1", Name: "Acme",
		Quotas: map[QuotaType]int64{QuotaRequestsPerMinute: 1},
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.CheckQuota(ctx, "t1", QuotaRequestsPerMinute, 1))
	}
}

func TestConcurrentRequests_IncrementDecrement(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.CreateTenant(ctx, CreateRequest{
		ID: "t1", Name: "Acme",
		Quotas: map[QuotaType]int64{QuotaConcurrentReqs: 1},
	})
	require.NoError(t, err)

	require.NoError(t, m.CheckQuota(ctx, "t1", QuotaConcurrentReqs, 1))
	require.NoError(t, m.IncrementConcurrent("t1"))

	err = m.CheckQuota(ctx, "t1", QuotaConcurrentReqs, 1)
	require.Error(t, err)

	m.DecrementConcurrent("t1")
	require.NoError(t, m.CheckQuota(ctx, "t1", QuotaConcurrentReqs, 1))
}

func TestRecordUsage_BillingEventAppended(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.CreateTenant(ctx, CreateRequest{ID: "t1", Name: "Acme"})
	require.NoError(t, err)

	require.NoError(t, m.RecordUsage(ctx, "t1", Usage{Requests: 1, Tokens: 100, ModelID: "gpt-4"}))

	events := m.BillingEvents()
	require.Len(t, events, 1)
	require.Equal(t, "gpt-4", events[0].ModelID)
	require.InDelta(t, 0.001+100*0.0001, events[0].Cost, 1e-9)
}

func TestUpdateTenant_MergesFieldsAndRebuildsFastGate(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.CreateTenant(ctx, CreateRequest{ID: "t1", Name: "Acme"})
	require.NoError(t, err)

	newName := "Acme Corp"
	tn, err := m.UpdateTenant(ctx, "t1", Patch{
		Name:   &newName,
		Quotas: map[QuotaType]int64{QuotaRequestsPerMinute: 10},
	})
	require.NoError(t, err)
	require.Equal(t, "Acme Corp", tn.Name)
	require.Equal(t, int64(10), tn.Quotas[QuotaRequestsPerMinute])
}

func TestDeleteTenant_RemovesState(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.CreateTenant(ctx, CreateRequest{ID: "t1", Name: "Acme"})
	require.NoError(t, err)

	require.NoError(t, m.DeleteTenant(ctx, "t1"))
	_, err = m.Tenant("t1")
	require.Error(t, err)
}

func TestFastAdmit_UnknownTenantAllowsOpenAdmission(t *testing.T) {
	m := newTestManager()
	require.True(t, m.FastAdmit("nonexistent"))
}
