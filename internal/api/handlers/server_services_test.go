package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/registry"
)

func team(id string) *string { return &id }

func TestCreateService(t *testing.T) {
	e := newEnv(t)

	c, w := newGinContext(asMember("u-1", "team-payments"), http.MethodPost, "/api/v1/services",
		`{"name":"billing-api","owner_team_id":"team-payments","environments":["prod","staging"]}`)
	e.server.CreateService(c)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	svc := decodeJSON[domain.ApplicationService](t, w)
	require.NotEmpty(t, svc.ID)
	require.Equal(t, "billing-api", svc.Name)
	require.Equal(t, "team-payments", *svc.OwnerTeamID)
	require.Equal(t, domain.ServiceStatusActive, svc.Status)
	require.Equal(t, "u-1", svc.CreatedBy)
	require.Contains(t, e.audit.actions(), domain.AuditServiceRegistered)
}

func TestCreateService_ForeignTeamDenied(t *testing.T) {
	e := newEnv(t)

	c, w := newGinContext(asMember("u-1", "team-payments"), http.MethodPost, "/api/v1/services",
		`{"name":"billing-api","owner_team_id":"team-search"}`)
	e.server.CreateService(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "SERVICE_EDIT_DENIED", decodeError(t, w).Code)
}

func TestCreateService_AdminAnyTeam(t *testing.T) {
	e := newEnv(t)

	c, w := newGinContext(asAdmin(), http.MethodPost, "/api/v1/services",
		`{"name":"billing-api","owner_team_id":"team-search"}`)
	e.server.CreateService(c)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestCreateService_DuplicateName(t *testing.T) {
	e := newEnv(t)
	e.services.add(&domain.ApplicationService{ID: "svc-1", Name: "billing-api", OwnerTeamID: team("team-payments")})

	c, w := newGinContext(asMember("u-1", "team-payments"), http.MethodPost, "/api/v1/services",
		`{"name":"billing-api","owner_team_id":"team-payments"}`)
	e.server.CreateService(c)

	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "SERVICE_ALREADY_EXISTS", decodeError(t, w).Code)
}

func TestCreateService_MissingName(t *testing.T) {
	e := newEnv(t)

	c, w := newGinContext(asMember("u-1", "team-payments"), http.MethodPost, "/api/v1/services",
		`{"owner_team_id":"team-payments"}`)
	e.server.CreateService(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_REQUEST", decodeError(t, w).Code)
}

func TestGetService_DeniedReadsAsMissing(t *testing.T) {
	e := newEnv(t)
	e.services.add(&domain.ApplicationService{ID: "svc-1", Name: "billing-api", OwnerTeamID: team("team-payments")})

	c, w := newGinContext(asMember("u-other", "team-search"), http.MethodGet, "/api/v1/services/svc-1", "",
		gin.Param{Key: "service_id", Value: "svc-1"})
	e.server.GetService(c)

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "SERVICE_NOT_FOUND", decodeError(t, w).Code)
}

func TestGetService_SharedBecomesVisible(t *testing.T) {
	e := newEnv(t)
	e.services.add(&domain.ApplicationService{ID: "svc-1", Name: "billing-api", OwnerTeamID: team("team-payments")})
	require.NoError(t, e.shares.Create(context.Background(), &domain.ServiceShare{
		ID: "share-1", ServiceID: "svc-1",
		GranteeType: domain.GranteeUser, GranteeID: "u-other",
		Permissions: []domain.SharePermission{domain.PermViewInstance},
	}))

	c, w := newGinContext(asMember("u-other", "team-search"), http.MethodGet, "/api/v1/services/svc-1", "",
		gin.Param{Key: "service_id", Value: "svc-1"})
	e.server.GetService(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	svc := decodeJSON[domain.ApplicationService](t, w)
	require.Equal(t, "svc-1", svc.ID)
}

func TestListServices_VisibilityScoping(t *testing.T) {
	e := newEnv(t)
	e.services.add(&domain.ApplicationService{ID: "svc-own", Name: "billing-api", OwnerTeamID: team("team-payments")})
	e.services.add(&domain.ApplicationService{ID: "svc-foreign", Name: "search-api", OwnerTeamID: team("team-search")})
	e.services.add(&domain.ApplicationService{ID: "svc-orphan", Name: "legacy-batch"})

	c, w := newGinContext(asMember("u-1", "team-payments"), http.MethodGet, "/api/v1/services", "")
	e.server.ListServices(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decodeJSON[ServiceListResponse](t, w)
	require.Equal(t, 2, list.Pagination.Total)
	ids := make([]string, 0, len(list.Items))
	for _, svc := range list.Items {
		ids = append(ids, svc.ID)
	}
	require.ElementsMatch(t, []string{"svc-own", "svc-orphan"}, ids)

	c, w = newGinContext(asAdmin(), http.MethodGet, "/api/v1/services", "")
	e.server.ListServices(c)

	require.Equal(t, http.StatusOK, w.Code)
	list = decodeJSON[ServiceListResponse](t, w)
	require.Equal(t, 3, list.Pagination.Total)
}

func TestListServices_Pagination(t *testing.T) {
	e := newEnv(t)
	e.services.add(&domain.ApplicationService{ID: "svc-1", Name: "api-one", OwnerTeamID: team("team-payments")})
	e.services.add(&domain.ApplicationService{ID: "svc-2", Name: "api-two", OwnerTeamID: team("team-payments")})
	e.services.add(&domain.ApplicationService{ID: "svc-3", Name: "api-three", OwnerTeamID: team("team-payments")})

	c, w := newGinContext(asAdmin(), http.MethodGet, "/api/v1/services?page=2&per_page=2", "")
	e.server.ListServices(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decodeJSON[ServiceListResponse](t, w)
	require.Len(t, list.Items, 1)
	require.Equal(t, 3, list.Pagination.Total)
	require.Equal(t, 2, list.Pagination.Page)
	require.Equal(t, 2, list.Pagination.TotalPages)
}

func TestUpdateService(t *testing.T) {
	e := newEnv(t)
	e.services.add(&domain.ApplicationService{ID: "svc-1", Name: "billing-api", OwnerTeamID: team("team-payments")})

	c, w := newGinContext(asMember("u-1", "team-payments"), http.MethodPatch, "/api/v1/services/svc-1",
		`{"name":"billing-api-v2"}`,
		gin.Param{Key: "service_id", Value: "svc-1"})
	e.server.UpdateService(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	svc := decodeJSON[domain.ApplicationService](t, w)
	require.Equal(t, "billing-api-v2", svc.Name)
	require.Equal(t, "u-1", svc.UpdatedBy)
}

func TestUpdateService_NoFields(t *testing.T) {
	e := newEnv(t)
	e.services.add(&domain.ApplicationService{ID: "svc-1", Name: "billing-api", OwnerTeamID: team("team-payments")})

	c, w := newGinContext(asMember("u-1", "team-payments"), http.MethodPatch, "/api/v1/services/svc-1", `{}`,
		gin.Param{Key: "service_id", Value: "svc-1"})
	e.server.UpdateService(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_REQUEST_FIELD", decodeError(t, w).Code)
}

func TestUpdateService_NonOwnerForbidden(t *testing.T) {
	e := newEnv(t)
	e.services.add(&domain.ApplicationService{ID: "svc-1", Name: "billing-api", OwnerTeamID: team("team-payments")})
	require.NoError(t, e.shares.Create(context.Background(), &domain.ServiceShare{
		ID: "share-1", ServiceID: "svc-1",
		GranteeType: domain.GranteeUser, GranteeID: "u-other",
		Permissions: []domain.SharePermission{domain.PermViewInstance},
	}))

	// The share makes the service visible, so denial is explicit here.
	c, w := newGinContext(asMember("u-other", "team-search"), http.MethodPatch, "/api/v1/services/svc-1",
		`{"name":"hijacked"}`,
		gin.Param{Key: "service_id", Value: "svc-1"})
	e.server.UpdateService(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "SERVICE_EDIT_DENIED", decodeError(t, w).Code)
}

func TestSetServiceStatus(t *testing.T) {
	e := newEnv(t)
	e.services.add(&domain.ApplicationService{ID: "svc-1", Name: "billing-api", OwnerTeamID: team("team-payments")})

	c, w := newGinContext(asMember("u-1", "team-payments"), http.MethodPut, "/api/v1/services/svc-1/status",
		`{"status":"ARCHIVED"}`,
		gin.Param{Key: "service_id", Value: "svc-1"})
	e.server.SetServiceStatus(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	svc := decodeJSON[domain.ApplicationService](t, w)
	require.Equal(t, domain.ServiceStatusArchived, svc.Status)
	require.Contains(t, e.audit.actions(), domain.AuditServiceArchived)
}

func TestSetServiceStatus_UnknownStatus(t *testing.T) {
	e := newEnv(t)
	e.services.add(&domain.ApplicationService{ID: "svc-1", Name: "billing-api", OwnerTeamID: team("team-payments")})

	c, w := newGinContext(asMember("u-1", "team-payments"), http.MethodPut, "/api/v1/services/svc-1/status",
		`{"status":"RETIRED"}`,
		gin.Param{Key: "service_id", Value: "svc-1"})
	e.server.SetServiceStatus(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_REQUEST_FIELD", decodeError(t, w).Code)
}

func TestGetServicePermissions_Sharee(t *testing.T) {
	e := newEnv(t)
	e.services.add(&domain.ApplicationService{ID: "svc-1", Name: "billing-api", OwnerTeamID: team("team-payments")})
	require.NoError(t, e.shares.Create(context.Background(), &domain.ServiceShare{
		ID: "share-1", ServiceID: "svc-1",
		GranteeType: domain.GranteeUser, GranteeID: "u-other",
		Permissions: []domain.SharePermission{domain.PermViewInstance, domain.PermViewDrift},
	}))

	c, w := newGinContext(asMember("u-other", "team-search"), http.MethodGet,
		"/api/v1/services/svc-1/permissions", "",
		gin.Param{Key: "service_id", Value: "svc-1"})
	e.server.GetServicePermissions(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decodeJSON[registry.PermissionView](t, w)
	require.True(t, view.CanView)
	require.False(t, view.CanEdit, "sharing grants never convey edit")
	require.ElementsMatch(t,
		[]domain.SharePermission{domain.PermViewInstance, domain.PermViewDrift},
		view.SharePermissions)
}

func TestGetServicePermissions_Owner(t *testing.T) {
	e := newEnv(t)
	e.services.add(&domain.ApplicationService{ID: "svc-1", Name: "billing-api", OwnerTeamID: team("team-payments")})

	c, w := newGinContext(asMember("u-1", "team-payments"), http.MethodGet,
		"/api/v1/services/svc-1/permissions", "",
		gin.Param{Key: "service_id", Value: "svc-1"})
	e.server.GetServicePermissions(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decodeJSON[registry.PermissionView](t, w)
	require.True(t, view.CanView)
	require.True(t, view.CanEdit)
	require.Empty(t, view.SharePermissions)
}
