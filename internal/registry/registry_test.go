package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/governance/audit"
	"svc-steward.io/steward/internal/notification"
	"svc-steward.io/steward/internal/permission"
	apperrors "svc-steward.io/steward/internal/pkg/errors"
	"svc-steward.io/steward/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

// memShares is an in-memory ShareStore that also serves as the permission
// evaluator's ShareReader.
type memShares struct {
	mu     sync.Mutex
	order  []string
	shares map[string]*domain.ServiceShare
}

func newMemShares() *memShares {
	return &memShares{shares: map[string]*domain.ServiceShare{}}
}

func (m *memShares) Create(ctx context.Context, s *domain.ServiceShare) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.CreatedAt = time.Now()
	m.shares[s.ID] = &cp
	m.order = append(m.order, s.ID)
	return nil
}

func (m *memShares) GetByID(ctx context.Context, id string) (*domain.ServiceShare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shares[id]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeShareNotFound, "share not found")
	}
	cp := *s
	return &cp, nil
}

func (m *memShares) ListByService(ctx context.Context, serviceID string) ([]*domain.ServiceShare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ServiceShare
	for _, id := range m.order {
		if s, ok := m.shares[id]; ok && s.ServiceID == serviceID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memShares) ListForGrantee(ctx context.Context, caller domain.UserContext) ([]*domain.ServiceShare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []*domain.ServiceShare
	for _, id := range m.order {
		s, ok := m.shares[id]
		if !ok || s.Expired(now) || !s.AppliesTo(caller) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memShares) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shares[id]; !ok {
		return false, nil
	}
	delete(m.shares, id)
	return true, nil
}

// memServices is an in-memory ServiceStore mirroring the SQL repository's
// guard behavior, including the unique name constraint.
type memServices struct {
	mu        sync.Mutex
	order     []string
	services  map[string]*domain.ApplicationService
	shares    *memShares
	createErr error // consumed by the next Create call
}

func newMemServices(shares *memShares) *memServices {
	return &memServices{services: map[string]*domain.ApplicationService{}, shares: shares}
}

func (m *memServices) add(svc *domain.ApplicationService) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *svc
	if cp.Status == "" {
		cp.Status = domain.ServiceStatusActive
	}
	cp.CreatedAt = time.Now()
	m.services[svc.ID] = &cp
	m.order = append(m.order, svc.ID)
}

func (m *memServices) Create(ctx context.Context, svc *domain.ApplicationService) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createErr; err != nil {
		m.createErr = nil
		return err
	}
	for _, existing := range m.services {
		if existing.Name == svc.Name {
			return apperrors.Conflict(apperrors.CodeServiceExists, "service name already registered")
		}
	}
	cp := *svc
	cp.CreatedAt = time.Now()
	m.services[svc.ID] = &cp
	m.order = append(m.order, svc.ID)
	return nil
}

func (m *memServices) GetByID(ctx context.Context, id string) (*domain.ApplicationService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[id]
	if !ok {
		return nil, apperrors.ErrServiceNotFound()
	}
	cp := *svc
	return &cp, nil
}

func (m *memServices) GetByName(ctx context.Context, name string) (*domain.ApplicationService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, svc := range m.services {
		if svc.Name == name {
			cp := *svc
			return &cp, nil
		}
	}
	return nil, apperrors.ErrServiceNotFound()
}

func (m *memServices) List(ctx context.Context, f domain.ServiceFilter) (*domain.ServiceList, error) {
	return m.listWhere(f, nil)
}

func (m *memServices) ListVisible(ctx context.Context, caller domain.UserContext, f domain.ServiceFilter) (*domain.ServiceList, error) {
	now := time.Now()
	return m.listWhere(f, func(svc *domain.ApplicationService) bool {
		if svc.Orphaned() {
			return true
		}
		if caller.InTeam(*svc.OwnerTeamID) {
			return true
		}
		shares, _ := m.shares.ListByService(context.Background(), svc.ID)
		for _, s := range shares {
			if !s.Expired(now) && s.AppliesTo(caller) {
				return true
			}
		}
		return false
	})
}

func (m *memServices) listWhere(f domain.ServiceFilter, visible func(*domain.ApplicationService) bool) (*domain.ServiceList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*domain.ApplicationService
	for _, id := range m.order {
		svc, ok := m.services[id]
		if !ok {
			continue
		}
		if f.Status != "" && svc.Status != f.Status {
			continue
		}
		if f.OwnerTeamID != "" && !svc.OwnedBy(f.OwnerTeamID) {
			continue
		}
		if visible != nil && !visible(svc) {
			continue
		}
		cp := *svc
		matched = append(matched, &cp)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	list := &domain.ServiceList{Items: []*domain.ApplicationService{}, TotalCount: len(matched)}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	for i := f.Offset; i < len(matched) && len(list.Items) < limit; i++ {
		list.Items = append(list.Items, matched[i])
	}
	return list, nil
}

func (m *memServices) Update(ctx context.Context, svc *domain.ApplicationService) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[svc.ID]; !ok {
		return apperrors.ErrServiceNotFound()
	}
	for id, existing := range m.services {
		if id != svc.ID && existing.Name == svc.Name {
			return apperrors.Conflict(apperrors.CodeServiceExists, "service name already registered")
		}
	}
	cp := *svc
	cp.CreatedAt = m.services[svc.ID].CreatedAt
	m.services[svc.ID] = &cp
	return nil
}

type memAuditStore struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (m *memAuditStore) Insert(ctx context.Context, e *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAuditStore) ListByResource(ctx context.Context, resourceType, resourceID string, limit, offset int) (*domain.AuditList, error) {
	return &domain.AuditList{}, nil
}

func (m *memAuditStore) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type captureSender struct {
	mu   sync.Mutex
	sent []notification.Params
}

func (c *captureSender) Send(ctx context.Context, params notification.Params) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, params)
	return nil
}

func (c *captureSender) SendToMany(ctx context.Context, recipientIDs []string, params notification.Params) error {
	for _, id := range recipientIDs {
		p := params
		p.RecipientID = id
		_ = c.Send(ctx, p)
	}
	return nil
}

func (c *captureSender) recipients() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, p := range c.sent {
		out = append(out, p.RecipientID)
	}
	return out
}

type staticDirectory struct {
	admins []string
	teams  map[string][]string
}

func (d *staticDirectory) ListSystemAdminIDs(ctx context.Context) ([]string, error) {
	return d.admins, nil
}

func (d *staticDirectory) ListIDsByTeam(ctx context.Context, teamID string) ([]string, error) {
	return d.teams[teamID], nil
}

type eventSink struct {
	mu     sync.Mutex
	events []*domain.DomainEvent
}

func (s *eventSink) record(ctx context.Context, e *domain.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *eventSink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	services *memServices
	shares   *memShares
	auditDB  *memAuditStore
	sender   *captureSender
	sink     *eventSink
	registry *Registry
	shareSvc *ShareService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	shares := newMemShares()
	services := newMemServices(shares)
	auditDB := &memAuditStore{}
	sender := &captureSender{}
	sink := &eventSink{}

	evaluator := permission.NewEvaluator(shares)
	auditLogger := audit.NewLogger(auditDB)

	dispatcher := domain.NewEventDispatcher()
	for _, et := range []domain.EventType{
		domain.EventServiceRegistered, domain.EventServiceArchived,
		domain.EventServiceShared, domain.EventShareRevoked,
	} {
		dispatcher.Register(et, sink.record)
	}

	reg := NewRegistry(services, evaluator, auditLogger)
	reg.SetEventDispatcher(dispatcher)

	shareSvc := NewShareService(shares, services, evaluator, auditLogger)
	shareSvc.SetNotifier(notification.NewTriggers(sender, &staticDirectory{
		admins: []string{"admin-1"},
		teams:  map[string][]string{"team-b": {"user-5", "user-6"}},
	}))
	shareSvc.SetEventDispatcher(dispatcher)

	return &fixture{
		services: services,
		shares:   shares,
		auditDB:  auditDB,
		sender:   sender,
		sink:     sink,
		registry: reg,
		shareSvc: shareSvc,
	}
}

func team(id string) *string { return &id }

var (
	owner    = domain.UserContext{UserID: "owner-1", TeamIDs: []string{"team-a"}}
	admin    = domain.UserContext{UserID: "admin-1", SystemAdmin: true}
	outsider = domain.UserContext{UserID: "intruder", TeamIDs: []string{"team-z"}}
	guest    = domain.UserContext{UserID: "guest-1"}
)

func TestRegistry_Register(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	svc, err := fix.registry.Register(ctx, owner, RegisterInput{
		Name:         "billing",
		OwnerTeamID:  "team-a",
		Environments: []string{"dev", "prod"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, svc.ID)
	require.Equal(t, "billing", svc.Name)
	require.True(t, svc.OwnedBy("team-a"))
	require.Equal(t, domain.ServiceStatusActive, svc.Status)
	require.Equal(t, "owner-1", svc.CreatedBy)

	require.Contains(t, fix.auditDB.actions(), domain.AuditServiceRegistered)
	require.Contains(t, fix.sink.types(), domain.EventServiceRegistered)

	_, err = fix.registry.Register(ctx, owner, RegisterInput{Name: "billing"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeServiceExists))
}

func TestRegistry_Register_Authorization(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	_, err := fix.registry.Register(ctx, owner, RegisterInput{Name: "x", OwnerTeamID: "team-other"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeServiceEditDenied))

	// Admins register on behalf of any team.
	svc, err := fix.registry.Register(ctx, admin, RegisterInput{Name: "x", OwnerTeamID: "team-other"})
	require.NoError(t, err)
	require.True(t, svc.OwnedBy("team-other"))

	// Anyone may register an orphaned service.
	svc, err = fix.registry.Register(ctx, outsider, RegisterInput{Name: "stray"})
	require.NoError(t, err)
	require.True(t, svc.Orphaned())

	_, err = fix.registry.Register(ctx, owner, RegisterInput{Name: "   "})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidRequestField))

	_, err = fix.registry.Register(ctx, domain.UserContext{}, RegisterInput{Name: "y"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeRequesterInvalid))

	_, err = fix.registry.Register(ctx, domain.UserContext{UserID: domain.SystemActorID}, RegisterInput{Name: "y"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeRequesterInvalid))
}

func TestRegistry_EnsureRegistered(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	svc, err := fix.registry.EnsureRegistered(ctx, "telemetry", "")
	require.NoError(t, err)
	require.True(t, svc.Orphaned())
	require.Equal(t, domain.ServiceStatusActive, svc.Status)
	require.Equal(t, domain.SystemActorID, svc.CreatedBy)
	require.Contains(t, fix.auditDB.actions(), domain.AuditServiceRegistered)

	// Second observation is a lookup, not a second row.
	again, err := fix.registry.EnsureRegistered(ctx, "telemetry", "ingest-1")
	require.NoError(t, err)
	require.Equal(t, svc.ID, again.ID)
	require.Len(t, fix.auditDB.actions(), 1)
	require.Len(t, fix.services.order, 1)
}

func TestRegistry_EnsureRegistered_CreateRace(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	// A concurrent observer wins the insert between our lookup and create.
	fix.services.createErr = apperrors.Conflict(apperrors.CodeServiceExists, "service name already registered")
	fix.services.add(&domain.ApplicationService{ID: "svc-race", Name: "telemetry"})

	svc, err := fix.registry.EnsureRegistered(ctx, "telemetry", "ingest-1")
	require.NoError(t, err)
	require.Equal(t, "svc-race", svc.ID)
}

func TestRegistry_GetVisibility(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	fix.services.add(&domain.ApplicationService{ID: "svc-owned", Name: "billing", OwnerTeamID: team("team-a")})
	fix.services.add(&domain.ApplicationService{ID: "svc-orphan", Name: "legacy"})
	require.NoError(t, fix.shares.Create(ctx, &domain.ServiceShare{
		ID: "shr-1", Level: domain.ResourceLevelService, ServiceID: "svc-owned",
		GranteeType: domain.GranteeUser, GranteeID: "guest-1",
		Permissions: []domain.SharePermission{domain.PermViewInstance},
	}))

	for name, tc := range map[string]struct {
		caller domain.UserContext
		id     string
		found  bool
	}{
		"owner sees owned":         {owner, "svc-owned", true},
		"admin sees owned":         {admin, "svc-owned", true},
		"grantee sees shared":      {guest, "svc-owned", true},
		"outsider denied as 404":   {outsider, "svc-owned", false},
		"orphan visible to anyone": {outsider, "svc-orphan", true},
		"missing row":              {admin, "svc-ghost", false},
	} {
		t.Run(name, func(t *testing.T) {
			svc, err := fix.registry.Get(ctx, tc.caller, tc.id)
			if tc.found {
				require.NoError(t, err)
				require.Equal(t, tc.id, svc.ID)
			} else {
				require.True(t, apperrors.IsCode(err, apperrors.CodeServiceNotFound))
			}
		})
	}
}

func TestRegistry_List(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	fix.services.add(&domain.ApplicationService{ID: "svc-a", Name: "a", OwnerTeamID: team("team-a")})
	fix.services.add(&domain.ApplicationService{ID: "svc-b", Name: "b", OwnerTeamID: team("team-hidden")})
	fix.services.add(&domain.ApplicationService{ID: "svc-c", Name: "c"})

	all, err := fix.registry.List(ctx, admin, domain.ServiceFilter{})
	require.NoError(t, err)
	require.Equal(t, 3, all.TotalCount)

	visible, err := fix.registry.List(ctx, owner, domain.ServiceFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, visible.TotalCount)
	for _, svc := range visible.Items {
		require.NotEqual(t, "svc-b", svc.ID)
	}

	owned, err := fix.registry.List(ctx, admin, domain.ServiceFilter{OwnerTeamID: "team-a"})
	require.NoError(t, err)
	require.Equal(t, 1, owned.TotalCount)
	require.Equal(t, "svc-a", owned.Items[0].ID)
}

func TestRegistry_Update(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	fix.services.add(&domain.ApplicationService{ID: "svc-1", Name: "billing", OwnerTeamID: team("team-a")})

	name := "billing-v2"
	envs := []string{"prod"}
	svc, err := fix.registry.Update(ctx, owner, "svc-1", UpdateInput{Name: &name, Environments: &envs})
	require.NoError(t, err)
	require.Equal(t, "billing-v2", svc.Name)
	require.Equal(t, []string{"prod"}, svc.Environments)
	require.Equal(t, "owner-1", svc.UpdatedBy)
	require.Contains(t, fix.auditDB.actions(), domain.AuditServiceUpdated)

	_, err = fix.registry.Update(ctx, owner, "svc-1", UpdateInput{})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidRequestField))

	empty := "  "
	_, err = fix.registry.Update(ctx, owner, "svc-1", UpdateInput{Name: &empty})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidRequestField))

	// Invisible service reads as missing, visible-but-unowned as forbidden.
	_, err = fix.registry.Update(ctx, outsider, "svc-1", UpdateInput{Name: &name})
	require.True(t, apperrors.IsCode(err, apperrors.CodeServiceNotFound))

	fix.services.add(&domain.ApplicationService{ID: "svc-orphan", Name: "legacy"})
	_, err = fix.registry.Update(ctx, outsider, "svc-orphan", UpdateInput{Name: &name})
	require.True(t, apperrors.IsCode(err, apperrors.CodeServiceEditDenied))
}

func TestRegistry_SetStatus(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	fix.services.add(&domain.ApplicationService{ID: "svc-1", Name: "billing", OwnerTeamID: team("team-a")})

	svc, err := fix.registry.SetStatus(ctx, owner, "svc-1", domain.ServiceStatusArchived)
	require.NoError(t, err)
	require.Equal(t, domain.ServiceStatusArchived, svc.Status)
	require.Contains(t, fix.auditDB.actions(), domain.AuditServiceArchived)
	require.Contains(t, fix.sink.types(), domain.EventServiceArchived)

	// Same-status transition is a no-op.
	before := len(fix.auditDB.actions())
	_, err = fix.registry.SetStatus(ctx, owner, "svc-1", domain.ServiceStatusArchived)
	require.NoError(t, err)
	require.Len(t, fix.auditDB.actions(), before)

	_, err = fix.registry.SetStatus(ctx, owner, "svc-1", domain.ServiceStatus("PAUSED"))
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidRequestField))

	_, err = fix.registry.SetStatus(ctx, outsider, "svc-1", domain.ServiceStatusActive)
	require.True(t, apperrors.IsCode(err, apperrors.CodeServiceNotFound))
}

func TestRegistry_OwnershipNeverWritableDirectly(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	fix.services.add(&domain.ApplicationService{ID: "svc-1", Name: "billing", OwnerTeamID: team("team-a")})

	name := fmt.Sprintf("renamed-%d", time.Now().Unix())
	svc, err := fix.registry.Update(ctx, admin, "svc-1", UpdateInput{Name: &name})
	require.NoError(t, err)
	require.True(t, svc.OwnedBy("team-a"))

	stored, err := fix.services.GetByID(ctx, "svc-1")
	require.NoError(t, err)
	require.True(t, stored.OwnedBy("team-a"))
}
