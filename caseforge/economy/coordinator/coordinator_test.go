package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/mock/gomock"

	"github.com/caseforge/caseforge/caseforge/database/models"
	"github.com/caseforge/caseforge/caseforge/database/repositories"
	"github.com/caseforge/caseforge/caseforge/database/repositories/mock"
	"github.com/caseforge/caseforge/caseforge/economy"
	"github.com/caseforge/caseforge/caseforge/economy/bonus"
	"github.com/caseforge/caseforge/caseforge/economy/drop"
	"github.com/caseforge/caseforge/caseforge/economy/ledger"
	"github.com/caseforge/caseforge/caseforge/progression"
)

// fakeTx runs the transaction function directly against a nil bun.IDB,
// optionally failing a number of attempts first.
type fakeTx struct {
	failuresLeft int
	failWith     error
	attempts     int
	lastOpts     *ledger.TxOptions
}

func (f *fakeTx) WithTransaction(ctx context.Context, opts *ledger.TxOptions, fn func(context.Context, bun.IDB) error) error {
	f.attempts++
	f.lastOpts = opts
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return f.failWith
	}
	return fn(ctx, nil)
}

type applyCall struct {
	userID string
	debit  int64
	credit int64
	recs   []*models.TransactionRecord
}

// fakeLedger tracks a single balance and every call made against it.
type fakeLedger struct {
	balance  int64
	applies  []applyCall
	appends  []*models.TransactionRecord
	failWith error
}

func (f *fakeLedger) Apply(ctx context.Context, db bun.IDB, userID string, debit, credit int64, recs ...*models.TransactionRecord) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	if f.balance-debit+credit < 0 {
		return 0, economy.ErrInsufficientFunds
	}
	f.balance += credit - debit
	f.applies = append(f.applies, applyCall{userID: userID, debit: debit, credit: credit, recs: recs})
	return f.balance, nil
}

func (f *fakeLedger) Credit(ctx context.Context, db bun.IDB, userID string, amount int64, recs ...*models.TransactionRecord) (int64, error) {
	return f.Apply(ctx, db, userID, 0, amount, recs...)
}

func (f *fakeLedger) Append(ctx context.Context, db bun.IDB, userID string, rec *models.TransactionRecord) error {
	f.appends = append(f.appends, rec)
	return nil
}

type fakePromo struct {
	amount int64
	err    error
	calls  int
}

func (f *fakePromo) Redeem(ctx context.Context, db bun.IDB, userID, code string, now time.Time) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.amount, nil
}

type fakeWheel struct {
	res   bonus.Result
	err   error
	calls int
}

func (f *fakeWheel) Spin() (bonus.Result, error) {
	f.calls++
	return f.res, f.err
}

type testEnv struct {
	users     *mock.MockUserRepository
	catalog   *mock.MockCatalogRepository
	bonuses   *mock.MockBonusRepository
	inventory *mock.MockInventoryRepository
	tx        *fakeTx
	ledger    *fakeLedger
	promos    *fakePromo
	wheel     *fakeWheel
	coord     *Coordinator
}

func newTestEnv(t *testing.T, balance int64) *testEnv {
	t.Helper()
	ctrl := gomock.NewController(t)

	env := &testEnv{
		users:     mock.NewMockUserRepository(ctrl),
		catalog:   mock.NewMockCatalogRepository(ctrl),
		bonuses:   mock.NewMockBonusRepository(ctrl),
		inventory: mock.NewMockInventoryRepository(ctrl),
		tx:        &fakeTx{},
		ledger:    &fakeLedger{balance: balance},
		promos:    &fakePromo{},
		wheel:     &fakeWheel{},
	}

	levels, err := progression.NewTable([]int64{100, 250, 500})
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}

	env.coord = New(
		NewLockManager(),
		env.tx,
		env.ledger,
		env.users,
		env.catalog,
		env.bonuses,
		env.inventory,
		env.promos,
		drop.NewSelector(rand.New(rand.NewSource(1))),
		env.wheel,
		levels,
		Settings{StartingBalance: 1000, SpinFee: 50, MaxOpenCount: 10, XPPerCoin: 0.5},
	)
	return env
}

func account(balance int64) *models.UserAccount {
	return &models.UserAccount{UserID: "u1", Balance: balance, XP: 0, Level: 1}
}

func singleItemCase(price, value int64) *repositories.CaseView {
	return &repositories.CaseView{
		Case: models.Case{ID: "starter", Name: "Starter Crate", Price: price},
		Pool: []drop.Entry{
			{Item: models.Item{ID: "i1", Rarity: models.RarityCommon, Value: value}, Weight: 1},
		},
	}
}

func TestOpenCase_Validation(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		count  int
	}{
		{name: "Empty user", userID: "", count: 1},
		{name: "Zero count", userID: "u1", count: 0},
		{name: "Count above cap", userID: "u1", count: 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.coord.OpenCase(ctx, tt.userID, "starter", tt.count, false)
			if !errors.Is(err, economy.ErrValidation) {
				t.Errorf("OpenCase() error = %v, want ErrValidation", err)
			}
		})
	}
	if env.tx.attempts != 0 {
		t.Errorf("validation failures must not open a transaction, got %d attempts", env.tx.attempts)
	}
}

func TestOpenCase_UnknownCase(t *testing.T) {
	env := newTestEnv(t, 500)
	env.catalog.EXPECT().GetCase(gomock.Any(), "missing").Return(nil, economy.ErrCaseNotFound)

	_, err := env.coord.OpenCase(context.Background(), "u1", "missing", 1, false)
	if !errors.Is(err, economy.ErrCaseNotFound) {
		t.Errorf("OpenCase() error = %v, want ErrCaseNotFound", err)
	}
}

func TestOpenCase_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t, 100)
	env.catalog.EXPECT().GetCase(gomock.Any(), "starter").Return(singleItemCase(100, 40), nil)
	env.users.EXPECT().GetOrCreate(gomock.Any(), gomock.Any(), "u1", int64(1000)).Return(account(100), nil)

	_, err := env.coord.OpenCase(context.Background(), "u1", "starter", 2, false)
	if !errors.Is(err, economy.ErrInsufficientFunds) {
		t.Errorf("OpenCase() error = %v, want ErrInsufficientFunds", err)
	}
	if len(env.ledger.applies) != 0 {
		t.Error("no balance mutation may happen when the precheck fails")
	}
}

func TestOpenCase_AtomicMultiDraw(t *testing.T) {
	env := newTestEnv(t, 500)
	env.catalog.EXPECT().GetCase(gomock.Any(), "starter").Return(singleItemCase(100, 40), nil)
	env.users.EXPECT().GetOrCreate(gomock.Any(), gomock.Any(), "u1", int64(1000)).Return(account(500), nil)
	env.users.EXPECT().UpdateProgress(gomock.Any(), gomock.Any(), "u1", int64(150), 2).Return(nil)

	res, err := env.coord.OpenCase(context.Background(), "u1", "starter", 3, false)
	if err != nil {
		t.Fatalf("OpenCase() error = %v", err)
	}

	// 500 - 3*100 + 3*40.
	if res.NewBalance != 320 {
		t.Errorf("NewBalance = %d, want 320", res.NewBalance)
	}
	if len(res.Items) != 3 {
		t.Errorf("Items = %d, want 3", len(res.Items))
	}
	if res.XPGained != 150 {
		t.Errorf("XPGained = %d, want 150", res.XPGained)
	}
	if res.Level != 2 || !res.LeveledUp {
		t.Errorf("Level = %d LeveledUp = %v, want level 2 after crossing 100", res.Level, res.LeveledUp)
	}

	if len(env.ledger.applies) != 1 {
		t.Fatalf("applies = %d, want one atomic application for all draws", len(env.ledger.applies))
	}
	call := env.ledger.applies[0]
	if call.debit != 300 || call.credit != 120 {
		t.Errorf("apply debit/credit = %d/%d, want 300/120", call.debit, call.credit)
	}
	if len(call.recs) != 3 {
		t.Fatalf("records = %d, want one per draw", len(call.recs))
	}
	for _, rec := range call.recs {
		if rec.Kind != models.TransactionKindOpen {
			t.Errorf("record kind = %s, want %s", rec.Kind, models.TransactionKindOpen)
		}
		if rec.Delta != -60 {
			t.Errorf("record delta = %d, want -60", rec.Delta)
		}
		if rec.Reference != "starter/i1" {
			t.Errorf("record reference = %s, want starter/i1", rec.Reference)
		}
	}
	if env.tx.attempts != 1 {
		t.Errorf("tx attempts = %d, want 1", env.tx.attempts)
	}
}

// Demo mode may still create the account on first interaction, but it must
// move no balance and write no records.
func TestOpenCase_DemoMovesNoBalance(t *testing.T) {
	env := newTestEnv(t, 500)
	env.catalog.EXPECT().GetCase(gomock.Any(), "starter").Return(singleItemCase(100, 40), nil)
	env.users.EXPECT().GetOrCreate(gomock.Any(), gomock.Nil(), "u1", int64(1000)).Return(account(500), nil)

	res, err := env.coord.OpenCase(context.Background(), "u1", "starter", 3, true)
	if err != nil {
		t.Fatalf("OpenCase() error = %v", err)
	}
	if len(res.Items) != 3 {
		t.Errorf("Items = %d, want 3", len(res.Items))
	}
	if res.NewBalance != 500 {
		t.Errorf("NewBalance = %d, demo must not move the balance", res.NewBalance)
	}
	if env.tx.attempts != 0 || len(env.ledger.applies) != 0 {
		t.Error("demo mode must not open a transaction or touch the ledger")
	}
}

func TestSpin_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t, 20)
	env.users.EXPECT().GetOrCreate(gomock.Any(), gomock.Any(), "u1", int64(1000)).Return(account(20), nil)

	_, err := env.coord.Spin(context.Background(), "u1")
	if !errors.Is(err, economy.ErrInsufficientFunds) {
		t.Errorf("Spin() error = %v, want ErrInsufficientFunds", err)
	}
	if env.wheel.calls != 0 {
		t.Error("no draw may happen when the fee cannot be paid")
	}
}

func TestSpin_ImmediateCoins(t *testing.T) {
	env := newTestEnv(t, 500)
	env.users.EXPECT().GetOrCreate(gomock.Any(), gomock.Any(), "u1", int64(1000)).Return(account(500), nil)
	env.wheel.res = bonus.Result{
		Category: models.BonusCategoryFreeGift,
		Variant:  bonus.Variant{Title: "Coin pouch", Weight: 50, Coins: 75},
	}

	res, err := env.coord.Spin(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Spin() error = %v", err)
	}
	// 500 - 50 fee + 75 coins.
	if res.NewBalance != 525 {
		t.Errorf("NewBalance = %d, want 525", res.NewBalance)
	}
	if res.Value != 75 {
		t.Errorf("Value = %d, want 75", res.Value)
	}
	if len(env.ledger.applies) != 2 {
		t.Fatalf("applies = %d, want fee debit plus coin credit", len(env.ledger.applies))
	}
	if env.ledger.applies[0].debit != 50 || env.ledger.applies[1].credit != 75 {
		t.Errorf("applies = %+v, want fee 50 then credit 75", env.ledger.applies)
	}
}

func TestSpin_ImmediateGiftItem(t *testing.T) {
	env := newTestEnv(t, 500)
	env.users.EXPECT().GetOrCreate(gomock.Any(), gomock.Any(), "u1", int64(1000)).Return(account(500), nil)
	env.catalog.EXPECT().GetItem(gomock.Any(), "silver-dagger").Return(&models.Item{ID: "silver-dagger", Value: 60}, nil)
	env.inventory.EXPECT().Add(gomock.Any(), gomock.Any(), "u1", "silver-dagger", int64(1)).Return(nil)
	env.wheel.res = bonus.Result{
		Category: models.BonusCategoryFreeGift,
		Variant:  bonus.Variant{Title: "Free item", Weight: 50, ItemID: "silver-dagger"},
	}

	res, err := env.coord.Spin(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Spin() error = %v", err)
	}
	if res.NewBalance != 450 {
		t.Errorf("NewBalance = %d, want 450 after the fee only", res.NewBalance)
	}
}

func TestSpin_TimedGrantIsPersisted(t *testing.T) {
	env := newTestEnv(t, 500)
	env.users.EXPECT().GetOrCreate(gomock.Any(), gomock.Any(), "u1", int64(1000)).Return(account(500), nil)
	env.wheel.res = bonus.Result{
		Category: models.BonusCategoryDepositBoost,
		Variant:  bonus.Variant{Title: "Boost 10%", Weight: 70, Magnitude: 10, Duration: 24 * time.Hour},
	}

	var grant *models.BonusGrant
	env.bonuses.EXPECT().Insert(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ bun.IDB, g *models.BonusGrant) error {
			grant = g
			return nil
		})

	res, err := env.coord.Spin(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Spin() error = %v", err)
	}
	if res.Magnitude != 10 || res.DurationHours != 24 {
		t.Errorf("result = %+v, want magnitude 10 over 24h", res)
	}
	if grant == nil {
		t.Fatal("a timed variant must persist a grant")
	}
	if !grant.Active || grant.ExpiresAt == nil || grant.Category != models.BonusCategoryDepositBoost {
		t.Errorf("grant = %+v, want an active deposit-boost with expiry", grant)
	}
}

func TestDeposit_Validation(t *testing.T) {
	env := newTestEnv(t, 0)

	for _, amount := range []int64{0, -5} {
		if _, err := env.coord.Deposit(context.Background(), "u1", amount, ""); !errors.Is(err, economy.ErrValidation) {
			t.Errorf("Deposit(%d) error = %v, want ErrValidation", amount, err)
		}
	}
}

func TestDeposit_Plain(t *testing.T) {
	env := newTestEnv(t, 100)
	env.users.EXPECT().GetOrCreate(gomock.Any(), gomock.Any(), "u1", int64(1000)).Return(account(100), nil)
	env.bonuses.EXPECT().ActiveByCategory(gomock.Any(), gomock.Any(), "u1", models.BonusCategoryDepositBoost, gomock.Any()).Return(nil, nil)

	res, err := env.coord.Deposit(context.Background(), "u1", 200, "")
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if res.NewBalance != 300 || res.BonusReceived != 0 {
		t.Errorf("result = %+v, want balance 300 with no bonus", res)
	}
	if rec := env.ledger.applies[0].recs[0]; rec.Reference != "deposit" || rec.Kind != models.TransactionKindDeposit {
		t.Errorf("record = %+v, want a plain deposit record", rec)
	}
	if env.tx.lastOpts.IsolationLevel != sql.LevelReadCommitted {
		t.Errorf("isolation = %v, want read committed without a promo code", env.tx.lastOpts.IsolationLevel)
	}
}

func TestDeposit_HighestBoostAppliesAndOneShotBurns(t *testing.T) {
	env := newTestEnv(t, 100)
	future := time.Now().Add(time.Hour)
	env.users.EXPECT().GetOrCreate(gomock.Any(), gomock.Any(), "u1", int64(1000)).Return(account(100), nil)
	env.bonuses.EXPECT().ActiveByCategory(gomock.Any(), gomock.Any(), "u1", models.BonusCategoryDepositBoost, gomock.Any()).
		Return([]*models.BonusGrant{
			{ID: 1, Magnitude: 10, ExpiresAt: &future, Active: true},
			{ID: 2, Magnitude: 50, Active: true},
		}, nil)
	env.bonuses.EXPECT().Deactivate(gomock.Any(), gomock.Any(), int64(2)).Return(nil)

	res, err := env.coord.Deposit(context.Background(), "u1", 200, "")
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	// 100 + 200 + 50% boost of 200.
	if res.NewBalance != 400 || res.BonusReceived != 100 {
		t.Errorf("result = %+v, want balance 400 and bonus 100", res)
	}
}

func TestDeposit_PromoCreditsAndReferences(t *testing.T) {
	env := newTestEnv(t, 100)
	env.users.EXPECT().GetOrCreate(gomock.Any(), gomock.Any(), "u1", int64(1000)).Return(account(100), nil)
	env.bonuses.EXPECT().ActiveByCategory(gomock.Any(), gomock.Any(), "u1", models.BonusCategoryDepositBoost, gomock.Any()).Return(nil, nil)
	env.promos.amount = 100

	res, err := env.coord.Deposit(context.Background(), "u1", 200, "WELCOME100")
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if res.NewBalance != 400 || res.BonusReceived != 100 {
		t.Errorf("result = %+v, want balance 400 and bonus 100", res)
	}
	if rec := env.ledger.applies[0].recs[0]; rec.Reference != "WELCOME100" {
		t.Errorf("record reference = %s, want the promo code", rec.Reference)
	}
	if env.tx.lastOpts.IsolationLevel != sql.LevelSerializable {
		t.Errorf("isolation = %v, want serializable when redeeming a promo code", env.tx.lastOpts.IsolationLevel)
	}
}

func TestDeposit_PromoFailureFailsWholeOperation(t *testing.T) {
	env := newTestEnv(t, 100)
	env.users.EXPECT().GetOrCreate(gomock.Any(), gomock.Any(), "u1", int64(1000)).Return(account(100), nil)
	env.bonuses.EXPECT().ActiveByCategory(gomock.Any(), gomock.Any(), "u1", models.BonusCategoryDepositBoost, gomock.Any()).Return(nil, nil)
	env.promos.err = economy.ErrPromoAlreadyUsed

	_, err := env.coord.Deposit(context.Background(), "u1", 200, "WELCOME100")
	if !errors.Is(err, economy.ErrPromoAlreadyUsed) {
		t.Errorf("Deposit() error = %v, want ErrPromoAlreadyUsed", err)
	}
	if len(env.ledger.applies) != 0 {
		t.Error("a failed promo must fail the whole deposit, not credit the base amount")
	}
}

func TestSellGift(t *testing.T) {
	env := newTestEnv(t, 500)
	env.catalog.EXPECT().GetItem(gomock.Any(), "silver-dagger").Return(&models.Item{ID: "silver-dagger", Value: 60}, nil)
	env.users.EXPECT().GetOrCreate(gomock.Any(), gomock.Any(), "u1", int64(1000)).Return(account(500), nil)
	env.inventory.EXPECT().Remove(gomock.Any(), gomock.Any(), "u1", "silver-dagger", int64(1)).Return(nil)

	res, err := env.coord.SellGift(context.Background(), "u1", "silver-dagger")
	if err != nil {
		t.Fatalf("SellGift() error = %v", err)
	}
	if res.NewBalance != 560 {
		t.Errorf("NewBalance = %d, want 560", res.NewBalance)
	}
	if rec := env.ledger.applies[0].recs[0]; rec.Kind != models.TransactionKindSell || rec.Delta != 60 {
		t.Errorf("record = %+v, want a sell record for 60", rec)
	}
}

func TestSellGift_NotOwned(t *testing.T) {
	env := newTestEnv(t, 500)
	env.catalog.EXPECT().GetItem(gomock.Any(), "silver-dagger").Return(&models.Item{ID: "silver-dagger", Value: 60}, nil)
	env.users.EXPECT().GetOrCreate(gomock.Any(), gomock.Any(), "u1", int64(1000)).Return(account(500), nil)
	env.inventory.EXPECT().Remove(gomock.Any(), gomock.Any(), "u1", "silver-dagger", int64(1)).Return(economy.ErrItemNotFound)

	_, err := env.coord.SellGift(context.Background(), "u1", "silver-dagger")
	if !errors.Is(err, economy.ErrItemNotFound) {
		t.Errorf("SellGift() error = %v, want ErrItemNotFound", err)
	}
	if len(env.ledger.applies) != 0 {
		t.Error("selling an item the user does not own must not credit anything")
	}
}

func TestResetAccount(t *testing.T) {
	env := newTestEnv(t, 400)
	env.users.EXPECT().Reset(gomock.Any(), gomock.Any(), "u1", int64(1000)).
		Return(&models.UserAccount{UserID: "u1", Balance: 400, XP: 900, Level: 3}, nil)

	res, err := env.coord.ResetAccount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ResetAccount() error = %v", err)
	}
	if res.Balance != 1000 || res.XP != 0 || res.Level != 1 {
		t.Errorf("result = %+v, want the initial defaults", res)
	}

	if len(env.ledger.appends) != 1 {
		t.Fatalf("appends = %d, want one audit record", len(env.ledger.appends))
	}
	rec := env.ledger.appends[0]
	if rec.Kind != models.TransactionKindReset || rec.Delta != 600 {
		t.Errorf("record = %+v, want a reset record with delta 600", rec)
	}
}

func TestRun_RetriesRetryableFailures(t *testing.T) {
	env := newTestEnv(t, 100)
	env.tx.failuresLeft = 2
	env.tx.failWith = fmt.Errorf("%w: serialization failure", economy.ErrConcurrencyConflict)
	env.users.EXPECT().GetOrCreate(gomock.Any(), gomock.Any(), "u1", int64(1000)).Return(account(100), nil)
	env.bonuses.EXPECT().ActiveByCategory(gomock.Any(), gomock.Any(), "u1", models.BonusCategoryDepositBoost, gomock.Any()).Return(nil, nil)

	res, err := env.coord.Deposit(context.Background(), "u1", 200, "")
	if err != nil {
		t.Fatalf("Deposit() error = %v, want success after retries", err)
	}
	if res.NewBalance != 300 {
		t.Errorf("NewBalance = %d, want 300", res.NewBalance)
	}
	if env.tx.attempts != 3 {
		t.Errorf("tx attempts = %d, want 3", env.tx.attempts)
	}
}

func TestRun_DoesNotRetryNonRetryable(t *testing.T) {
	env := newTestEnv(t, 100)
	env.tx.failuresLeft = 1
	env.tx.failWith = errors.New("constraint violated")

	_, err := env.coord.Deposit(context.Background(), "u1", 200, "")
	if err == nil {
		t.Fatal("Deposit() should fail")
	}
	if env.tx.attempts != 1 {
		t.Errorf("tx attempts = %d, want 1 for a non-retryable failure", env.tx.attempts)
	}
}

func TestGetAccount_EmptyUser(t *testing.T) {
	env := newTestEnv(t, 0)
	if _, err := env.coord.GetAccount(context.Background(), ""); !errors.Is(err, economy.ErrValidation) {
		t.Errorf("GetAccount() error = %v, want ErrValidation", err)
	}
}
