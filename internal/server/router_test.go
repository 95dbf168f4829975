package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"orthoplus/internal/accessgate"
	"orthoplus/internal/audit"
	auditmemory "orthoplus/internal/audit/store/memory"
	"orthoplus/internal/modules/handler"
	"orthoplus/internal/modules/service"
	"orthoplus/internal/modules/store/state"
	"orthoplus/internal/registry"
	"orthoplus/internal/sessiontoken"
	id "orthoplus/pkg/domain"
	"orthoplus/pkg/testutil"
)

const adminToken = "backoffice-test-token"

type routerFixture struct {
	router http.Handler
	tokens *sessiontoken.Service
	svc    *service.Service
}

type memReader struct {
	store *state.InMemory
}

func (r *memReader) ActiveModules(ctx context.Context, tenantID id.TenantID) ([]id.ModuleKey, error) {
	tm, err := r.store.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return tm.ActiveKeys(), nil
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.MustLoadCatalog()
	store := state.NewInMemory()
	gate := accessgate.New(reg, &memReader{store: store})
	svc := service.New(reg, store,
		service.WithAuditPublisher(audit.NewPublisher(auditmemory.NewInMemoryStore())),
		service.WithLogger(logger),
		service.WithGateInvalidator(gate),
	)

	tokens := sessiontoken.NewService("test-signing-key", "orthoplus", "orthoplus")

	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	require.NoError(t, err)

	router := NewRouter(Deps{
		Logger:         logger,
		Session:        sessiontoken.NewAdapter(tokens),
		AdminTokenHash: string(hash),
		Modules:        handler.New(svc, gate, logger),
		Admin:          handler.NewAdmin(svc, logger),
	})

	return &routerFixture{router: router, tokens: tokens, svc: svc}
}

func (f *routerFixture) sessionToken(t *testing.T, tenantID string) string {
	t.Helper()
	parsed, err := id.ParseTenantID(tenantID)
	require.NoError(t, err)
	token, err := f.tokens.GenerateSessionToken(parsed, id.ActorID(uuid.New()), time.Hour)
	require.NoError(t, err)
	return token
}

func TestHealthzIsOpen(t *testing.T) {
	f := newRouterFixture(t)

	req := testutil.NewRequest(t, http.MethodGet, "/healthz")
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
}

func TestMetricsIsOpen(t *testing.T) {
	f := newRouterFixture(t)

	req := testutil.NewRequest(t, http.MethodGet, "/metrics")
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
}

func TestAPIRequiresSession(t *testing.T) {
	f := newRouterFixture(t)

	req := testutil.NewRequest(t, http.MethodGet, "/api/modules")
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
}

func TestAPIRejectsGarbageToken(t *testing.T) {
	f := newRouterFixture(t)

	req := testutil.NewRequest(t, http.MethodGet, "/api/modules")
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
}

func TestSessionTokenReachesModules(t *testing.T) {
	f := newRouterFixture(t)
	tenantID := uuid.NewString()

	req := testutil.NewRequest(t, http.MethodGet, "/api/modules")
	req.Header.Set("Authorization", "Bearer "+f.sessionToken(t, tenantID))
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
}

func TestToggleThroughFullChain(t *testing.T) {
	f := newRouterFixture(t)
	tenantID := uuid.NewString()

	parsed, err := id.ParseTenantID(tenantID)
	require.NoError(t, err)
	_, err = f.svc.Subscribe(context.Background(), parsed, id.ModulePacientes)
	require.NoError(t, err)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/modules/PACIENTES/toggle", nil)
	req.Header.Set("Authorization", "Bearer "+f.sessionToken(t, tenantID))
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestAdminRequiresToken(t *testing.T) {
	f := newRouterFixture(t)

	req := testutil.NewRequest(t, http.MethodGet, "/admin/audit")
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
}

func TestAdminRejectsWrongToken(t *testing.T) {
	f := newRouterFixture(t)

	req := testutil.NewRequest(t, http.MethodGet, "/admin/audit")
	req.Header.Set("Authorization", "Bearer wrong-token")
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
}

func TestAdminProvisionRoundTrip(t *testing.T) {
	f := newRouterFixture(t)
	tenantID := uuid.NewString()

	body := map[string]any{"modules": []string{"PACIENTES", "AGENDA"}}
	req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/tenants/"+tenantID+"/provision", body)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)

	// The freshly provisioned tenant sees its subscriptions.
	listReq := testutil.NewRequest(t, http.MethodGet, "/api/modules")
	listReq.Header.Set("Authorization", "Bearer "+f.sessionToken(t, tenantID))
	listRR := testutil.DoRequest(f.router, listReq)
	testutil.AssertStatus(t, listRR, http.StatusOK)

	type listResponse struct {
		Modules []struct {
			Key        string `json:"key"`
			Subscribed bool   `json:"subscribed"`
		} `json:"modules"`
	}
	resp := testutil.UnmarshalResponse[listResponse](t, listRR)
	subscribed := make(map[string]bool)
	for _, m := range resp.Modules {
		subscribed[m.Key] = m.Subscribed
	}
	assert.True(t, subscribed["PACIENTES"])
	assert.True(t, subscribed["AGENDA"])
	assert.False(t, subscribed["CRM"])
}

func TestAdminAuditDisabledWithoutHash(t *testing.T) {
	f := newRouterFixture(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(Deps{
		Logger:         logger,
		Session:        sessiontoken.NewAdapter(f.tokens),
		AdminTokenHash: "",
		Modules:        handler.New(f.svc, accessgate.New(registry.MustLoadCatalog(), &memReader{store: state.NewInMemory()}), logger),
		Admin:          handler.NewAdmin(f.svc, logger),
	})

	req := testutil.NewRequest(t, http.MethodGet, "/admin/audit")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
}
