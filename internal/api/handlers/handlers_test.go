package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"svc-steward.io/steward/internal/api/middleware"
	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/governance/approval"
	"svc-steward.io/steward/internal/governance/audit"
	"svc-steward.io/steward/internal/kv"
	"svc-steward.io/steward/internal/permission"
	apperrors "svc-steward.io/steward/internal/pkg/errors"
	"svc-steward.io/steward/internal/pkg/logger"
	"svc-steward.io/steward/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

// memUsers is an in-memory UserStore.
type memUsers struct {
	mu    sync.Mutex
	order []string
	users map[string]*domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]*domain.User{}}
}

func (m *memUsers) add(u *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	m.order = append(m.order, u.ID)
}

func (m *memUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeUserNotFound, "user not found")
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound(apperrors.CodeUserNotFound, "user not found")
}

func (m *memUsers) List(ctx context.Context, limit, offset int) (*domain.UserList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := &domain.UserList{Items: []*domain.User{}, TotalCount: len(m.order)}
	for i := offset; i < len(m.order) && len(list.Items) < limit; i++ {
		cp := *m.users[m.order[i]]
		list.Items = append(list.Items, &cp)
	}
	return list, nil
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
// guard behavior. It doubles as the approval engine's and the config
// store's service lookup.
type memServices struct {
	mu       sync.Mutex
	order    []string
	services map[string]*domain.ApplicationService
	shares   *memShares
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

// assignOwner applies the transfer the SQL repository performs inside the
// approval transaction: only an orphaned service is assignable.
func (m *memServices) assignOwner(serviceID, teamID, actor string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[serviceID]
	if !ok || !svc.Orphaned() {
		return false
	}
	team := teamID
	svc.OwnerTeamID = &team
	svc.UpdatedBy = actor
	return true
}

func (m *memServices) Create(ctx context.Context, svc *domain.ApplicationService) error {
	m.mu.Lock()
	defer m.mu.Unlock()
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

// memRequests is an in-memory RequestStore enforcing the SQL repository's
// guards: version-checked transitions, one decision per approver per gate,
// and the orphaned-service predicate on transfer (delegated to the service
// fake so both layers see one ownership state).
type memRequests struct {
	mu        sync.Mutex
	requests  map[string]*domain.ApprovalRequest
	decisions []*domain.Decision
	svcs      *memServices
	seq       int
}

func newMemRequests(svcs *memServices) *memRequests {
	return &memRequests{requests: map[string]*domain.ApprovalRequest{}, svcs: svcs}
}

func (m *memRequests) nextCreatedAt() time.Time {
	m.seq++
	return time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Second)
}

func copyRequest(r *domain.ApprovalRequest) *domain.ApprovalRequest {
	cp := *r
	cp.Gates = append([]domain.Gate(nil), r.Gates...)
	return &cp
}

func (m *memRequests) Create(ctx context.Context, req *domain.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.requests {
		if existing.Status == domain.RequestStatusPending &&
			existing.RequesterID == req.RequesterID && existing.ServiceID == req.ServiceID {
			return apperrors.Conflict(apperrors.CodeDuplicateRequest, "a pending request already exists")
		}
	}
	req.CreatedAt = m.nextCreatedAt()
	req.UpdatedAt = req.CreatedAt
	m.requests[req.ID] = copyRequest(req)
	return nil
}

func (m *memRequests) GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, apperrors.ErrRequestNotFound()
	}
	return copyRequest(req), nil
}

func (m *memRequests) List(ctx context.Context, f domain.RequestFilter) (*domain.ApprovalRequestList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*domain.ApprovalRequest
	for _, req := range m.requests {
		if f.ServiceID != "" && req.ServiceID != f.ServiceID {
			continue
		}
		if f.RequesterID != "" && req.RequesterID != f.RequesterID {
			continue
		}
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		matched = append(matched, copyRequest(req))
	}
	sort.Slice(matched, func(i, j int) bool {
		if f.OldestFirst {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	start := f.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return &domain.ApprovalRequestList{Items: matched[start:end], TotalCount: total}, nil
}

func (m *memRequests) InsertDecision(ctx context.Context, d *domain.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.decisions {
		if existing.RequestID == d.RequestID && existing.ApproverID == d.ApproverID && existing.Gate == d.Gate {
			return apperrors.Conflict(apperrors.CodeAlreadyDecided, "approver already decided this gate")
		}
	}
	cp := *d
	cp.CreatedAt = m.nextCreatedAt()
	m.decisions = append(m.decisions, &cp)
	return nil
}

func (m *memRequests) ListDecisions(ctx context.Context, requestID string) ([]*domain.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Decision
	for _, d := range m.decisions {
		if d.RequestID == requestID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRequests) UpdateStatus(ctx context.Context, id string, expectedVersion int64, status domain.RequestStatus, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, expectedVersion, status, reason)
}

func (m *memRequests) transitionLocked(id string, expectedVersion int64, status domain.RequestStatus, reason string) (bool, error) {
	req, ok := m.requests[id]
	if !ok {
		return false, apperrors.ErrRequestNotFound()
	}
	if req.Version != expectedVersion || req.Status != domain.RequestStatusPending {
		return false, nil
	}
	req.Status = status
	req.Reason = reason
	req.Version++
	req.UpdatedAt = m.nextCreatedAt()
	return true, nil
}

func (m *memRequests) ApproveAndTransfer(ctx context.Context, requestID string, expectedVersion int64, serviceID, targetTeamID, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return apperrors.ErrRequestNotFound()
	}
	if req.Version != expectedVersion || req.Status != domain.RequestStatusPending {
		return apperrors.Conflict(apperrors.CodeRequestNotPending, "request is not pending or was modified concurrently")
	}
	if !m.svcs.assignOwner(serviceID, targetTeamID, actorID) {
		return apperrors.Conflict(apperrors.CodeServiceOwned, "service ownership already assigned")
	}
	req.Status = domain.RequestStatusApproved
	req.Version++
	req.UpdatedAt = m.nextCreatedAt()
	return nil
}

func (m *memRequests) ResolveWithDecisions(ctx context.Context, id string, expectedVersion int64, status domain.RequestStatus, reason string, decisions []*domain.Decision) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	applied, err := m.transitionLocked(id, expectedVersion, status, reason)
	if err != nil || !applied {
		return applied, err
	}
	for _, d := range decisions {
		dup := false
		for _, existing := range m.decisions {
			if existing.RequestID == d.RequestID && existing.ApproverID == d.ApproverID && existing.Gate == d.Gate {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		cp := *d
		cp.CreatedAt = m.nextCreatedAt()
		m.decisions = append(m.decisions, &cp)
	}
	return true, nil
}

// memAuditStore records audit entries and serves them back by resource.
type memAuditStore struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (m *memAuditStore) Insert(ctx context.Context, e *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.CreatedAt = time.Now()
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memAuditStore) ListByResource(ctx context.Context, resourceType, resourceID string, limit, offset int) (*domain.AuditList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*domain.AuditEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.ResourceType == resourceType && e.ResourceID == resourceID {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	list := &domain.AuditList{Items: []*domain.AuditEntry{}, Total: int64(len(matched))}
	for i := offset; i < len(matched) && len(list.Items) < limit; i++ {
		list.Items = append(list.Items, matched[i])
	}
	return list, nil
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

// memInbox is an in-memory NotificationStore with the repository's
// semantics: recipient-scoped reads and idempotent acknowledgement.
type memInbox struct {
	mu    sync.Mutex
	items []*domain.Notification
	seq   int
}

func (m *memInbox) add(n *domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	cp := *n
	cp.CreatedAt = time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Second)
	m.items = append(m.items, &cp)
}

func (m *memInbox) List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) (*domain.NotificationList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := &domain.NotificationList{Items: []*domain.Notification{}}
	var matched []*domain.Notification
	for i := len(m.items) - 1; i >= 0; i-- {
		n := m.items[i]
		if n.RecipientID != recipientID {
			continue
		}
		list.Total++
		if !n.Read() {
			list.Unread++
		}
		if unreadOnly && n.Read() {
			continue
		}
		cp := *n
		matched = append(matched, &cp)
	}
	for i := offset; i < len(matched) && len(list.Items) < limit; i++ {
		list.Items = append(list.Items, matched[i])
	}
	return list, nil
}

func (m *memInbox) MarkRead(ctx context.Context, id, recipientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.items {
		if n.ID != id || n.RecipientID != recipientID {
			continue
		}
		if n.ReadAt == nil {
			now := time.Now()
			n.ReadAt = &now
		}
		return true, nil
	}
	return false, nil
}

func (m *memInbox) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var marked int64
	now := time.Now()
	for _, n := range m.items {
		if n.RecipientID == recipientID && n.ReadAt == nil {
			n.ReadAt = &now
			marked++
		}
	}
	return marked, nil
}

// env wires real services over the in-memory stores, the same graph the
// application assembles at boot.
type env struct {
	server   *Server
	users    *memUsers
	services *memServices
	shares   *memShares
	requests *memRequests
	inbox    *memInbox
	audit    *memAuditStore
}

func newEnv(t *testing.T) *env {
	t.Helper()

	shares := newMemShares()
	services := newMemServices(shares)
	requests := newMemRequests(services)
	users := newMemUsers()
	inbox := &memInbox{}
	auditStore := &memAuditStore{}

	perms := permission.NewEvaluator(shares)
	auditLog := audit.NewLogger(auditStore)

	server := NewServer(ServerDeps{
		JWTCfg: middleware.JWTConfig{
			SigningKey: []byte("0123456789abcdef0123456789abcdef"),
			Issuer:     "steward-test",
			ExpiresIn:  time.Hour,
		},
		Audit:         auditLog,
		Registry:      registry.NewRegistry(services, perms, auditLog),
		Shares:        registry.NewShareService(shares, services, perms, auditLog),
		Approvals:     approval.NewEngine(requests, services, perms, auditLog),
		KV:            kv.NewManager(services, perms, kv.NewMemStore(), nil, nil),
		Users:         users,
		Notifications: inbox,
	})

	return &env{
		server:   server,
		users:    users,
		services: services,
		shares:   shares,
		requests: requests,
		inbox:    inbox,
		audit:    auditStore,
	}
}

func asAdmin() *domain.UserContext {
	return &domain.UserContext{UserID: "admin-1", SystemAdmin: true}
}

func asMember(userID string, teams ...string) *domain.UserContext {
	return &domain.UserContext{UserID: userID, TeamIDs: teams}
}

// newGinContext builds a request-bound test context the way the router
// middleware would: caller identity on the request context, path params
// on the gin context. A nil caller produces an unauthenticated request.
func newGinContext(caller *domain.UserContext, method, target, body string, params ...gin.Param) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != nil {
		req = req.WithContext(middleware.SetUserContext(req.Context(), *caller, caller.UserID))
	}
	c.Request = req
	c.Params = append(c.Params, params...)
	return c, w
}

// flushStatus replays the engine's end-of-chain header flush. A handler
// invoked directly on a test context leaves a bodyless c.Status in gin's
// deferred writer, so without this the recorder keeps its default 200.
func flushStatus(c *gin.Context) {
	c.Writer.WriteHeaderNow()
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()
	return decodeJSON[Error](t, w)
}
