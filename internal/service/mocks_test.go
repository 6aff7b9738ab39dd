package service

import (
	"context"
	"sync"
	"time"

	"backend/internal/model"
	"backend/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func errNotFound() error { return gorm.ErrRecordNotFound }

// Func-field fakes for the repository interfaces. Tests set only the
// methods a scenario is expected to reach; an unset method panics on the
// nil func, which surfaces unexpected repository traffic immediately.

type fakeApprovalRepo struct {
	createFn              func(ctx context.Context, req *model.ApprovalRequest) error
	findByIDFn            func(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error)
	findByIDWithRelFn     func(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error)
	findByTokenFn         func(ctx context.Context, token string) (*model.ApprovalRequest, error)
	listFn                func(ctx context.Context, filter repository.ApprovalListFilter) ([]model.ApprovalRequest, int64, error)
	listPendingForRolesFn func(ctx context.Context, roles []model.Role, page, limit int) ([]model.ApprovalRequest, int64, error)
	findPendingChildrenFn func(ctx context.Context, parentID uuid.UUID) ([]model.ApprovalRequest, error)
	listChildrenFn        func(ctx context.Context, parentID uuid.UUID) ([]model.ApprovalRequest, error)
	findExpiredPendingFn  func(ctx context.Context, now time.Time, limit int) ([]model.ApprovalRequest, error)
	transitionStatusFn    func(ctx context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error)
	redeemTokenFn         func(ctx context.Context, token string, now time.Time) (*model.ApprovalRequest, bool, error)
}

func (f *fakeApprovalRepo) Create(ctx context.Context, req *model.ApprovalRequest) error {
	return f.createFn(ctx, req)
}

func (f *fakeApprovalRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error) {
	return f.findByIDFn(ctx, id)
}

func (f *fakeApprovalRepo) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error) {
	return f.findByIDWithRelFn(ctx, id)
}

func (f *fakeApprovalRepo) FindByToken(ctx context.Context, token string) (*model.ApprovalRequest, error) {
	return f.findByTokenFn(ctx, token)
}

func (f *fakeApprovalRepo) List(ctx context.Context, filter repository.ApprovalListFilter) ([]model.ApprovalRequest, int64, error) {
	return f.listFn(ctx, filter)
}

func (f *fakeApprovalRepo) ListPendingForRoles(ctx context.Context, roles []model.Role, page, limit int) ([]model.ApprovalRequest, int64, error) {
	return f.listPendingForRolesFn(ctx, roles, page, limit)
}

func (f *fakeApprovalRepo) FindPendingChildren(ctx context.Context, parentID uuid.UUID) ([]model.ApprovalRequest, error) {
	return f.findPendingChildrenFn(ctx, parentID)
}

func (f *fakeApprovalRepo) ListChildren(ctx context.Context, parentID uuid.UUID) ([]model.ApprovalRequest, error) {
	return f.listChildrenFn(ctx, parentID)
}

func (f *fakeApprovalRepo) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.ApprovalRequest, error) {
	return f.findExpiredPendingFn(ctx, now, limit)
}

func (f *fakeApprovalRepo) TransitionStatus(ctx context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error) {
	return f.transitionStatusFn(ctx, id, fromStatus, updates)
}

func (f *fakeApprovalRepo) RedeemToken(ctx context.Context, token string, now time.Time) (*model.ApprovalRequest, bool, error) {
	return f.redeemTokenFn(ctx, token, now)
}

// transitionCall records one guarded status update.
type transitionCall struct {
	id         uuid.UUID
	fromStatus string
	updates    map[string]interface{}
}

type fakePolicyRepo struct {
	listOrderedFn func(ctx context.Context) ([]model.TierPolicy, error)
	findByTierFn  func(ctx context.Context, tier int) (*model.TierPolicy, error)
	updateFn      func(ctx context.Context, policy *model.TierPolicy) error
}

func (f *fakePolicyRepo) ListOrdered(ctx context.Context) ([]model.TierPolicy, error) {
	return f.listOrderedFn(ctx)
}

func (f *fakePolicyRepo) FindByTier(ctx context.Context, tier int) (*model.TierPolicy, error) {
	return f.findByTierFn(ctx, tier)
}

func (f *fakePolicyRepo) Update(ctx context.Context, policy *model.TierPolicy) error {
	return f.updateFn(ctx, policy)
}

type fakeDelegationRepo struct {
	createFn                func(ctx context.Context, d *model.Delegation) error
	findByIDFn              func(ctx context.Context, id uuid.UUID) (*model.Delegation, error)
	listActiveForDelegateFn func(ctx context.Context, delegateID uuid.UUID, now time.Time) ([]model.Delegation, error)
	listByUserFn            func(ctx context.Context, userID uuid.UUID) ([]model.Delegation, error)
	findExpiredActiveFn     func(ctx context.Context, now time.Time, limit int) ([]model.Delegation, error)
	deactivateFn            func(ctx context.Context, id uuid.UUID) (bool, error)
}

func (f *fakeDelegationRepo) Create(ctx context.Context, d *model.Delegation) error {
	return f.createFn(ctx, d)
}

func (f *fakeDelegationRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Delegation, error) {
	return f.findByIDFn(ctx, id)
}

func (f *fakeDelegationRepo) ListActiveForDelegate(ctx context.Context, delegateID uuid.UUID, now time.Time) ([]model.Delegation, error) {
	return f.listActiveForDelegateFn(ctx, delegateID, now)
}

func (f *fakeDelegationRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Delegation, error) {
	return f.listByUserFn(ctx, userID)
}

func (f *fakeDelegationRepo) FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]model.Delegation, error) {
	return f.findExpiredActiveFn(ctx, now, limit)
}

func (f *fakeDelegationRepo) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	return f.deactivateFn(ctx, id)
}

// noDelegations is the common case: rank comes from the role alone.
func noDelegations() *fakeDelegationRepo {
	return &fakeDelegationRepo{
		listActiveForDelegateFn: func(context.Context, uuid.UUID, time.Time) ([]model.Delegation, error) {
			return nil, nil
		},
	}
}

type fakeUserRepo struct {
	createFn        func(ctx context.Context, user *model.User) error
	getByIDFn       func(ctx context.Context, id string) (*model.User, error)
	getByEmailFn    func(ctx context.Context, email string) (*model.User, error)
	getByUsernameFn func(ctx context.Context, username string) (*model.User, error)
	listFn          func(ctx context.Context, page, limit int) ([]model.User, int64, error)
	listByRolesFn   func(ctx context.Context, roles []model.Role) ([]model.User, error)
	updateFn        func(ctx context.Context, user *model.User) error
	deleteFn        func(ctx context.Context, id string) error

	saveRefreshTokenFn           func(ctx context.Context, token *model.RefreshToken) error
	findRefreshTokenFn           func(ctx context.Context, token string) (*model.RefreshToken, error)
	deleteRefreshTokenFn         func(ctx context.Context, token string) error
	deleteRefreshTokensForUserFn func(ctx context.Context, userID uuid.UUID) error
}

func (f *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	return f.createFn(ctx, user)
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return f.getByIDFn(ctx, id)
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return f.getByEmailFn(ctx, email)
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return f.getByUsernameFn(ctx, username)
}

func (f *fakeUserRepo) List(ctx context.Context, page, limit int) ([]model.User, int64, error) {
	return f.listFn(ctx, page, limit)
}

func (f *fakeUserRepo) ListByRoles(ctx context.Context, roles []model.Role) ([]model.User, error) {
	return f.listByRolesFn(ctx, roles)
}

func (f *fakeUserRepo) Update(ctx context.Context, user *model.User) error {
	return f.updateFn(ctx, user)
}

func (f *fakeUserRepo) Delete(ctx context.Context, id string) error {
	return f.deleteFn(ctx, id)
}

func (f *fakeUserRepo) SaveRefreshToken(ctx context.Context, token *model.RefreshToken) error {
	return f.saveRefreshTokenFn(ctx, token)
}

func (f *fakeUserRepo) FindRefreshToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	return f.findRefreshTokenFn(ctx, token)
}

func (f *fakeUserRepo) DeleteRefreshToken(ctx context.Context, token string) error {
	return f.deleteRefreshTokenFn(ctx, token)
}

func (f *fakeUserRepo) DeleteRefreshTokensForUser(ctx context.Context, userID uuid.UUID) error {
	return f.deleteRefreshTokensForUserFn(ctx, userID)
}

// userDirectory serves GetByID lookups from a fixed set of users.
func userDirectory(users ...*model.User) *fakeUserRepo {
	byID := make(map[string]*model.User, len(users))
	for _, u := range users {
		byID[u.ID.String()] = u
	}
	return &fakeUserRepo{
		getByIDFn: func(_ context.Context, id string) (*model.User, error) {
			if u, ok := byID[id]; ok {
				return u, nil
			}
			return nil, errNotFound()
		},
	}
}

type fakeProductRepo struct {
	createFn         func(ctx context.Context, product *model.Product) error
	updateFn         func(ctx context.Context, product *model.Product) error
	deleteFn         func(ctx context.Context, id uuid.UUID) error
	findByIDFn       func(ctx context.Context, id uuid.UUID) (*model.Product, error)
	findBySKUFn      func(ctx context.Context, sku string) (*model.Product, error)
	listFn           func(ctx context.Context, page, limit int, search string) ([]model.Product, int64, error)
	decrementStockFn func(ctx context.Context, id uuid.UUID, quantity int) (bool, error)
}

func (f *fakeProductRepo) Create(ctx context.Context, product *model.Product) error {
	return f.createFn(ctx, product)
}

func (f *fakeProductRepo) Update(ctx context.Context, product *model.Product) error {
	return f.updateFn(ctx, product)
}

func (f *fakeProductRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return f.deleteFn(ctx, id)
}

func (f *fakeProductRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	return f.findByIDFn(ctx, id)
}

func (f *fakeProductRepo) FindBySKU(ctx context.Context, sku string) (*model.Product, error) {
	return f.findBySKUFn(ctx, sku)
}

func (f *fakeProductRepo) List(ctx context.Context, page, limit int, search string) ([]model.Product, int64, error) {
	return f.listFn(ctx, page, limit, search)
}

func (f *fakeProductRepo) DecrementStock(ctx context.Context, id uuid.UUID, quantity int) (bool, error) {
	return f.decrementStockFn(ctx, id, quantity)
}

// catalog serves FindByID lookups from a fixed set of products.
func catalog(products ...*model.Product) *fakeProductRepo {
	byID := make(map[uuid.UUID]*model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &fakeProductRepo{
		findByIDFn: func(_ context.Context, id uuid.UUID) (*model.Product, error) {
			if p, ok := byID[id]; ok {
				return p, nil
			}
			return nil, errNotFound()
		},
	}
}

type fakeSaleRepo struct {
	createFn           func(ctx context.Context, sale *model.Sale) error
	createItemFn       func(ctx context.Context, item *model.SaleItem) error
	updateItemFn       func(ctx context.Context, item *model.SaleItem) error
	findByIDWithItems  func(ctx context.Context, id uuid.UUID) (*model.Sale, error)
	listFn             func(ctx context.Context, salespersonID *uuid.UUID, page, limit int) ([]model.Sale, int64, error)
	transitionStatusFn func(ctx context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error)
	createReceiptFn    func(ctx context.Context, receipt *model.Receipt) error
	nextReceiptNoFn    func(ctx context.Context) (string, error)
}

func (f *fakeSaleRepo) Create(ctx context.Context, sale *model.Sale) error {
	return f.createFn(ctx, sale)
}

func (f *fakeSaleRepo) CreateItem(ctx context.Context, item *model.SaleItem) error {
	return f.createItemFn(ctx, item)
}

func (f *fakeSaleRepo) UpdateItem(ctx context.Context, item *model.SaleItem) error {
	return f.updateItemFn(ctx, item)
}

func (f *fakeSaleRepo) FindByIDWithItems(ctx context.Context, id uuid.UUID) (*model.Sale, error) {
	return f.findByIDWithItems(ctx, id)
}

func (f *fakeSaleRepo) List(ctx context.Context, salespersonID *uuid.UUID, page, limit int) ([]model.Sale, int64, error) {
	return f.listFn(ctx, salespersonID, page, limit)
}

func (f *fakeSaleRepo) TransitionStatus(ctx context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error) {
	return f.transitionStatusFn(ctx, id, fromStatus, updates)
}

func (f *fakeSaleRepo) CreateReceipt(ctx context.Context, receipt *model.Receipt) error {
	return f.createReceiptFn(ctx, receipt)
}

func (f *fakeSaleRepo) NextReceiptNo(ctx context.Context) (string, error) {
	return f.nextReceiptNoFn(ctx)
}

type fakeCustomerRepo struct {
	createFn   func(ctx context.Context, customer *model.Customer) error
	updateFn   func(ctx context.Context, customer *model.Customer) error
	deleteFn   func(ctx context.Context, id uuid.UUID) error
	findByIDFn func(ctx context.Context, id uuid.UUID) (*model.Customer, error)
	listFn     func(ctx context.Context, page, limit int, search string) ([]model.Customer, int64, error)
}

func (f *fakeCustomerRepo) Create(ctx context.Context, customer *model.Customer) error {
	return f.createFn(ctx, customer)
}

func (f *fakeCustomerRepo) Update(ctx context.Context, customer *model.Customer) error {
	return f.updateFn(ctx, customer)
}

func (f *fakeCustomerRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return f.deleteFn(ctx, id)
}

func (f *fakeCustomerRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	return f.findByIDFn(ctx, id)
}

func (f *fakeCustomerRepo) List(ctx context.Context, page, limit int, search string) ([]model.Customer, int64, error) {
	return f.listFn(ctx, page, limit, search)
}

type fakeOfferRepo struct {
	createFn           func(ctx context.Context, offer *model.CounterOffer) error
	findByIDFn         func(ctx context.Context, id uuid.UUID) (*model.CounterOffer, error)
	findByIDWithRelFn  func(ctx context.Context, id uuid.UUID) (*model.CounterOffer, error)
	listByRequestFn    func(ctx context.Context, requestID uuid.UUID) ([]model.CounterOffer, error)
	transitionStatusFn func(ctx context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error)
}

func (f *fakeOfferRepo) Create(ctx context.Context, offer *model.CounterOffer) error {
	return f.createFn(ctx, offer)
}

func (f *fakeOfferRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.CounterOffer, error) {
	return f.findByIDFn(ctx, id)
}

func (f *fakeOfferRepo) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.CounterOffer, error) {
	return f.findByIDWithRelFn(ctx, id)
}

func (f *fakeOfferRepo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.CounterOffer, error) {
	return f.listByRequestFn(ctx, requestID)
}

func (f *fakeOfferRepo) TransitionStatus(ctx context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error) {
	return f.transitionStatusFn(ctx, id, fromStatus, updates)
}

// recordingAuditRepo collects every entry written through it.
type recordingAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLog
	failFn  func(entry *model.AuditLog) error
}

func (r *recordingAuditRepo) Log(_ context.Context, entry *model.AuditLog) error {
	if r.failFn != nil {
		if err := r.failFn(entry); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *recordingAuditRepo) List(context.Context, int, int) ([]model.AuditLog, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AuditLog(nil), r.entries...), int64(len(r.entries)), nil
}

func (r *recordingAuditRepo) ListByEntity(_ context.Context, entityID string) ([]model.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AuditLog
	for _, e := range r.entries {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *recordingAuditRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

// inlineTx runs the callback on the caller's context. The services under
// test only care that repository calls inside the callback share a
// context, which holds trivially here.
type inlineTx struct{}

func (inlineTx) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

type sentEvent struct {
	userID uuid.UUID
	event  string
	data   interface{}
}

type broadcastEvent struct {
	min   model.Role
	event string
	data  interface{}
}

// recordingNotifier captures hub traffic instead of delivering it.
type recordingNotifier struct {
	mu         sync.Mutex
	sent       []sentEvent
	broadcasts []broadcastEvent
}

func (n *recordingNotifier) SendToUser(userID uuid.UUID, event string, data interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEvent{userID: userID, event: event, data: data})
}

func (n *recordingNotifier) BroadcastToRank(min model.Role, event string, data interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, broadcastEvent{min: min, event: event, data: data})
}

func (n *recordingNotifier) sentEvents() []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentEvent(nil), n.sent...)
}

func (n *recordingNotifier) broadcastEvents() []broadcastEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]broadcastEvent(nil), n.broadcasts...)
}

// Fixtures

// seededPolicies mirrors the default escalation table the seeder installs.
func seededPolicies() []model.TierPolicy {
	ten := decimal.NewFromInt(10)
	twentyFive := decimal.NewFromInt(25)
	fifty := decimal.NewFromInt(50)
	return []model.TierPolicy{
		{ID: uuid.New(), Tier: 1, MaxDiscountPercent: &ten, RequiredRole: model.RoleSalesperson, TimeoutSeconds: 0},
		{ID: uuid.New(), Tier: 2, MaxDiscountPercent: &twentyFive, RequiredRole: model.RoleManager, TimeoutSeconds: 180},
		{ID: uuid.New(), Tier: 3, MaxDiscountPercent: &fifty, RequiredRole: model.RoleSeniorManager, TimeoutSeconds: 600},
		{ID: uuid.New(), Tier: 4, MaxDiscountPercent: nil, RequiredRole: model.RoleAdmin, TimeoutSeconds: 0, AllowsBelowCost: true},
	}
}

// seededPolicyRepo serves ListOrdered and FindByTier from the default table.
func seededPolicyRepo() *fakePolicyRepo {
	policies := seededPolicies()
	return &fakePolicyRepo{
		listOrderedFn: func(context.Context) ([]model.TierPolicy, error) {
			return policies, nil
		},
		findByTierFn: func(_ context.Context, tier int) (*model.TierPolicy, error) {
			for i := range policies {
				if policies[i].Tier == tier {
					return &policies[i], nil
				}
			}
			return nil, errNotFound()
		},
	}
}

func testUser(role model.Role, username string) *model.User {
	return &model.User{
		ID:       uuid.New(),
		Username: username,
		Email:    username + "@store.test",
		Role:     role,
	}
}

func testProduct(name string, price, cost int64) *model.Product {
	return &model.Product{
		ID:    uuid.New(),
		SKU:   "SKU-" + name,
		Name:  name,
		Price: decimal.NewFromInt(price),
		Cost:  decimal.NewFromInt(cost),
	}
}
