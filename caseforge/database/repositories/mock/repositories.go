package mock

import (
	context "context"
	reflect "reflect"
	time "time"

	bun "github.com/uptrace/bun"
	gomock "go.uber.org/mock/gomock"

	models "github.com/caseforge/caseforge/caseforge/database/models"
	repositories "github.com/caseforge/caseforge/caseforge/database/repositories"
)

// MockUserRepository is a mock of UserRepository interface.
type MockUserRepository struct {
	ctrl     *gomock.Controller
	recorder *MockUserRepositoryMockRecorder
	isgomock struct{}
}

// MockUserRepositoryMockRecorder is the mock recorder for MockUserRepository.
type MockUserRepositoryMockRecorder struct {
	mock *MockUserRepository
}

// NewMockUserRepository creates a new mock instance.
func NewMockUserRepository(ctrl *gomock.Controller) *MockUserRepository {
	mock := &MockUserRepository{ctrl: ctrl}
	mock.recorder = &MockUserRepositoryMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockUserRepository) EXPECT() *MockUserRepositoryMockRecorder {
	return m.recorder
}

// GetAll mocks base method.
func (m *MockUserRepository) GetAll(ctx context.Context) ([]*models.UserAccount, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetAll", ctx)
	ret0, _ := ret[0].([]*models.UserAccount)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// GetAll indicates an expected call of GetAll.
func (mr *MockUserRepositoryMockRecorder) GetAll(ctx any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetAll", reflect.TypeOf((*MockUserRepository)(nil).GetAll), ctx)
}

// GetByUserID mocks base method.
func (m *MockUserRepository) GetByUserID(ctx context.Context, userID string) (*models.UserAccount, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetByUserID", ctx, userID)
	ret0, _ := ret[0].(*models.UserAccount)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// GetByUserID indicates an expected call of GetByUserID.
func (mr *MockUserRepositoryMockRecorder) GetByUserID(ctx, userID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetByUserID", reflect.TypeOf((*MockUserRepository)(nil).GetByUserID), ctx, userID)
}

// GetOrCreate mocks base method.
func (m *MockUserRepository) GetOrCreate(ctx context.Context, db bun.IDB, userID string, startingBalance int64) (*models.UserAccount, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetOrCreate", ctx, db, userID, startingBalance)
	ret0, _ := ret[0].(*models.UserAccount)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// GetOrCreate indicates an expected call of GetOrCreate.
func (mr *MockUserRepositoryMockRecorder) GetOrCreate(ctx, db, userID, startingBalance any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetOrCreate", reflect.TypeOf((*MockUserRepository)(nil).GetOrCreate), ctx, db, userID, startingBalance)
}

// Reset mocks base method.
func (m *MockUserRepository) Reset(ctx context.Context, db bun.IDB, userID string, startingBalance int64) (*models.UserAccount, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Reset", ctx, db, userID, startingBalance)
	ret0, _ := ret[0].(*models.UserAccount)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Reset indicates an expected call of Reset.
func (mr *MockUserRepositoryMockRecorder) Reset(ctx, db, userID, startingBalance any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Reset", reflect.TypeOf((*MockUserRepository)(nil).Reset), ctx, db, userID, startingBalance)
}

// UpdateProgress mocks base method.
func (m *MockUserRepository) UpdateProgress(ctx context.Context, db bun.IDB, userID string, xp int64, level int) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "UpdateProgress", ctx, db, userID, xp, level)
	ret0, _ := ret[0].(error)
	return ret0
}

// UpdateProgress indicates an expected call of UpdateProgress.
func (mr *MockUserRepositoryMockRecorder) UpdateProgress(ctx, db, userID, xp, level any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "UpdateProgress", reflect.TypeOf((*MockUserRepository)(nil).UpdateProgress), ctx, db, userID, xp, level)
}

// MockCatalogRepository is a mock of CatalogRepository interface.
type MockCatalogRepository struct {
	ctrl     *gomock.Controller
	recorder *MockCatalogRepositoryMockRecorder
	isgomock struct{}
}

// MockCatalogRepositoryMockRecorder is the mock recorder for MockCatalogRepository.
type MockCatalogRepositoryMockRecorder struct {
	mock *MockCatalogRepository
}

// NewMockCatalogRepository creates a new mock instance.
func NewMockCatalogRepository(ctrl *gomock.Controller) *MockCatalogRepository {
	mock := &MockCatalogRepository{ctrl: ctrl}
	mock.recorder = &MockCatalogRepositoryMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockCatalogRepository) EXPECT() *MockCatalogRepositoryMockRecorder {
	return m.recorder
}

// GetCase mocks base method.
func (m *MockCatalogRepository) GetCase(ctx context.Context, caseID string) (*repositories.CaseView, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetCase", ctx, caseID)
	ret0, _ := ret[0].(*repositories.CaseView)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// GetCase indicates an expected call of GetCase.
func (mr *MockCatalogRepositoryMockRecorder) GetCase(ctx, caseID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetCase", reflect.TypeOf((*MockCatalogRepository)(nil).GetCase), ctx, caseID)
}

// GetItem mocks base method.
func (m *MockCatalogRepository) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetItem", ctx, itemID)
	ret0, _ := ret[0].(*models.Item)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// GetItem indicates an expected call of GetItem.
func (mr *MockCatalogRepositoryMockRecorder) GetItem(ctx, itemID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetItem", reflect.TypeOf((*MockCatalogRepository)(nil).GetItem), ctx, itemID)
}

// Seed mocks base method.
func (m *MockCatalogRepository) Seed(ctx context.Context, items []models.Item, cases []models.Case, caseItems []models.CaseItem) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Seed", ctx, items, cases, caseItems)
	ret0, _ := ret[0].(error)
	return ret0
}

// Seed indicates an expected call of Seed.
func (mr *MockCatalogRepositoryMockRecorder) Seed(ctx, items, cases, caseItems any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Seed", reflect.TypeOf((*MockCatalogRepository)(nil).Seed), ctx, items, cases, caseItems)
}

// MockBonusRepository is a mock of BonusRepository interface.
type MockBonusRepository struct {
	ctrl     *gomock.Controller
	recorder *MockBonusRepositoryMockRecorder
	isgomock struct{}
}

// MockBonusRepositoryMockRecorder is the mock recorder for MockBonusRepository.
type MockBonusRepositoryMockRecorder struct {
	mock *MockBonusRepository
}

// NewMockBonusRepository creates a new mock instance.
func NewMockBonusRepository(ctrl *gomock.Controller) *MockBonusRepository {
	mock := &MockBonusRepository{ctrl: ctrl}
	mock.recorder = &MockBonusRepositoryMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockBonusRepository) EXPECT() *MockBonusRepositoryMockRecorder {
	return m.recorder
}

// ActiveByCategory mocks base method.
func (m *MockBonusRepository) ActiveByCategory(ctx context.Context, db bun.IDB, userID, category string, now time.Time) ([]*models.BonusGrant, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ActiveByCategory", ctx, db, userID, category, now)
	ret0, _ := ret[0].([]*models.BonusGrant)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// ActiveByCategory indicates an expected call of ActiveByCategory.
func (mr *MockBonusRepositoryMockRecorder) ActiveByCategory(ctx, db, userID, category, now any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ActiveByCategory", reflect.TypeOf((*MockBonusRepository)(nil).ActiveByCategory), ctx, db, userID, category, now)
}

// Deactivate mocks base method.
func (m *MockBonusRepository) Deactivate(ctx context.Context, db bun.IDB, ids ...int64) error {
	m.ctrl.T.Helper()
	varargs := []any{ctx, db}
	for _, a := range ids {
		varargs = append(varargs, a)
	}
	ret := m.ctrl.Call(m, "Deactivate", varargs...)
	ret0, _ := ret[0].(error)
	return ret0
}

// Deactivate indicates an expected call of Deactivate.
func (mr *MockBonusRepositoryMockRecorder) Deactivate(ctx, db any, ids ...any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	varargs := append([]any{ctx, db}, ids...)
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Deactivate", reflect.TypeOf((*MockBonusRepository)(nil).Deactivate), varargs...)
}

// DeactivateExpired mocks base method.
func (m *MockBonusRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "DeactivateExpired", ctx, now)
	ret0, _ := ret[0].(int64)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// DeactivateExpired indicates an expected call of DeactivateExpired.
func (mr *MockBonusRepositoryMockRecorder) DeactivateExpired(ctx, now any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "DeactivateExpired", reflect.TypeOf((*MockBonusRepository)(nil).DeactivateExpired), ctx, now)
}

// Insert mocks base method.
func (m *MockBonusRepository) Insert(ctx context.Context, db bun.IDB, grant *models.BonusGrant) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Insert", ctx, db, grant)
	ret0, _ := ret[0].(error)
	return ret0
}

// Insert indicates an expected call of Insert.
func (mr *MockBonusRepositoryMockRecorder) Insert(ctx, db, grant any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Insert", reflect.TypeOf((*MockBonusRepository)(nil).Insert), ctx, db, grant)
}

// MockInventoryRepository is a mock of InventoryRepository interface.
type MockInventoryRepository struct {
	ctrl     *gomock.Controller
	recorder *MockInventoryRepositoryMockRecorder
	isgomock struct{}
}

// MockInventoryRepositoryMockRecorder is the mock recorder for MockInventoryRepository.
type MockInventoryRepositoryMockRecorder struct {
	mock *MockInventoryRepository
}

// NewMockInventoryRepository creates a new mock instance.
func NewMockInventoryRepository(ctrl *gomock.Controller) *MockInventoryRepository {
	mock := &MockInventoryRepository{ctrl: ctrl}
	mock.recorder = &MockInventoryRepositoryMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockInventoryRepository) EXPECT() *MockInventoryRepositoryMockRecorder {
	return m.recorder
}

// Add mocks base method.
func (m *MockInventoryRepository) Add(ctx context.Context, db bun.IDB, userID, itemID string, amount int64) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Add", ctx, db, userID, itemID, amount)
	ret0, _ := ret[0].(error)
	return ret0
}

// Add indicates an expected call of Add.
func (mr *MockInventoryRepositoryMockRecorder) Add(ctx, db, userID, itemID, amount any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Add", reflect.TypeOf((*MockInventoryRepository)(nil).Add), ctx, db, userID, itemID, amount)
}

// List mocks base method.
func (m *MockInventoryRepository) List(ctx context.Context, userID string) ([]*models.InventoryEntry, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "List", ctx, userID)
	ret0, _ := ret[0].([]*models.InventoryEntry)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// List indicates an expected call of List.
func (mr *MockInventoryRepositoryMockRecorder) List(ctx, userID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "List", reflect.TypeOf((*MockInventoryRepository)(nil).List), ctx, userID)
}

// Remove mocks base method.
func (m *MockInventoryRepository) Remove(ctx context.Context, db bun.IDB, userID, itemID string, amount int64) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Remove", ctx, db, userID, itemID, amount)
	ret0, _ := ret[0].(error)
	return ret0
}

// Remove indicates an expected call of Remove.
func (mr *MockInventoryRepositoryMockRecorder) Remove(ctx, db, userID, itemID, amount any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Remove", reflect.TypeOf((*MockInventoryRepository)(nil).Remove), ctx, db, userID, itemID, amount)
}

// MockPromoRepository is a mock of PromoRepository interface.
type MockPromoRepository struct {
	ctrl     *gomock.Controller
	recorder *MockPromoRepositoryMockRecorder
	isgomock struct{}
}

// MockPromoRepositoryMockRecorder is the mock recorder for MockPromoRepository.
type MockPromoRepositoryMockRecorder struct {
	mock *MockPromoRepository
}

// NewMockPromoRepository creates a new mock instance.
func NewMockPromoRepository(ctrl *gomock.Controller) *MockPromoRepository {
	mock := &MockPromoRepository{ctrl: ctrl}
	mock.recorder = &MockPromoRepositoryMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockPromoRepository) EXPECT() *MockPromoRepositoryMockRecorder {
	return m.recorder
}

// ConsumeUse mocks base method.
func (m *MockPromoRepository) ConsumeUse(ctx context.Context, db bun.IDB, code string) (bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ConsumeUse", ctx, db, code)
	ret0, _ := ret[0].(bool)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// ConsumeUse indicates an expected call of ConsumeUse.
func (mr *MockPromoRepositoryMockRecorder) ConsumeUse(ctx, db, code any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ConsumeUse", reflect.TypeOf((*MockPromoRepository)(nil).ConsumeUse), ctx, db, code)
}

// GetForUpdate mocks base method.
func (m *MockPromoRepository) GetForUpdate(ctx context.Context, db bun.IDB, code string) (*models.PromoCode, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetForUpdate", ctx, db, code)
	ret0, _ := ret[0].(*models.PromoCode)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// GetForUpdate indicates an expected call of GetForUpdate.
func (mr *MockPromoRepositoryMockRecorder) GetForUpdate(ctx, db, code any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetForUpdate", reflect.TypeOf((*MockPromoRepository)(nil).GetForUpdate), ctx, db, code)
}

// InsertRedemption mocks base method.
func (m *MockPromoRepository) InsertRedemption(ctx context.Context, db bun.IDB, userID, code string, now time.Time) (bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "InsertRedemption", ctx, db, userID, code, now)
	ret0, _ := ret[0].(bool)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// InsertRedemption indicates an expected call of InsertRedemption.
func (mr *MockPromoRepositoryMockRecorder) InsertRedemption(ctx, db, userID, code, now any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "InsertRedemption", reflect.TypeOf((*MockPromoRepository)(nil).InsertRedemption), ctx, db, userID, code, now)
}

// Seed mocks base method.
func (m *MockPromoRepository) Seed(ctx context.Context, codes []*models.PromoCode) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Seed", ctx, codes)
	ret0, _ := ret[0].(error)
	return ret0
}

// Seed indicates an expected call of Seed.
func (mr *MockPromoRepositoryMockRecorder) Seed(ctx, codes any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Seed", reflect.TypeOf((*MockPromoRepository)(nil).Seed), ctx, codes)
}

// MockTransactionRepository is a mock of TransactionRepository interface.
type MockTransactionRepository struct {
	ctrl     *gomock.Controller
	recorder *MockTransactionRepositoryMockRecorder
	isgomock struct{}
}

// MockTransactionRepositoryMockRecorder is the mock recorder for MockTransactionRepository.
type MockTransactionRepositoryMockRecorder struct {
	mock *MockTransactionRepository
}

// NewMockTransactionRepository creates a new mock instance.
func NewMockTransactionRepository(ctrl *gomock.Controller) *MockTransactionRepository {
	mock := &MockTransactionRepository{ctrl: ctrl}
	mock.recorder = &MockTransactionRepositoryMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockTransactionRepository) EXPECT() *MockTransactionRepositoryMockRecorder {
	return m.recorder
}

// RecentByUser mocks base method.
func (m *MockTransactionRepository) RecentByUser(ctx context.Context, userID string, limit int) ([]*models.TransactionRecord, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "RecentByUser", ctx, userID, limit)
	ret0, _ := ret[0].([]*models.TransactionRecord)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// RecentByUser indicates an expected call of RecentByUser.
func (mr *MockTransactionRepositoryMockRecorder) RecentByUser(ctx, userID, limit any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "RecentByUser", reflect.TypeOf((*MockTransactionRepository)(nil).RecentByUser), ctx, userID, limit)
}

// SumDeltaByUser mocks base method.
func (m *MockTransactionRepository) SumDeltaByUser(ctx context.Context) (map[string]int64, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "SumDeltaByUser", ctx)
	ret0, _ := ret[0].(map[string]int64)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// SumDeltaByUser indicates an expected call of SumDeltaByUser.
func (mr *MockTransactionRepositoryMockRecorder) SumDeltaByUser(ctx any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SumDeltaByUser", reflect.TypeOf((*MockTransactionRepository)(nil).SumDeltaByUser), ctx)
}
