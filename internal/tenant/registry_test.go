package tenant

import (
	"strings"
	"testing"
	"time"

	"github.com/tiffinworks/dabba/internal/database"
	"github.com/tiffinworks/dabba/internal/fault"
	"github.com/tiffinworks/dabba/internal/model"
	"github.com/tiffinworks/dabba/internal/store"
)

func setupRegistryTest(t *testing.T) (*Registry, *store.ServiceAccountStore, *store.SkipStore, int64, int64) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ms := store.NewMerchantStore(db)
	as := store.NewServiceAccountStore(db)
	ss := store.NewSkipStore(db)

	owner, err := ms.Create("owner@tiffin.example", "")
	if err != nil {
		t.Fatalf("create merchant: %v", err)
	}
	foreign, err := ms.Create("other@tiffin.example", "")
	if err != nil {
		t.Fatalf("create second merchant: %v", err)
	}
	return NewRegistry(db), as, ss, owner.ID, foreign.ID
}

func createAccount(t *testing.T, as *store.ServiceAccountStore, merchantID int64) *model.ServiceAccount {
	t.Helper()
	a, err := as.Create(&model.ServiceAccount{
		MerchantID:   merchantID,
		CustomerName: "Ravi",
		PhoneNumber:  "+919800000001",
		MealType:     "Lunch",
		Status:       model.AccountActive,
		StartDate:    time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2026, time.January, 30, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}

func TestRegistryOwnedExists(t *testing.T) {
	reg, as, _, ownerID, foreignID := setupRegistryTest(t)
	account := createAccount(t, as, ownerID)

	ok, err := reg.OwnedExists(KindServiceAccount, ownerID, account.ID)
	if err != nil {
		t.Fatalf("owned exists: %v", err)
	}
	if !ok {
		t.Error("owner should see the account")
	}

	ok, _ = reg.OwnedExists(KindServiceAccount, foreignID, account.ID)
	if ok {
		t.Error("foreign merchant should not see the account")
	}
}

func TestRegistryOwnedExistsSoftDelete(t *testing.T) {
	reg, as, _, ownerID, _ := setupRegistryTest(t)
	account := createAccount(t, as, ownerID)

	if err := as.UpdateStatus(account.ID, model.AccountDeleted, ""); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	ok, _ := reg.OwnedExists(KindServiceAccount, ownerID, account.ID)
	if ok {
		t.Error("soft-deleted account should read as gone")
	}
}

func TestRegistryUpdateFields(t *testing.T) {
	reg, as, _, ownerID, _ := setupRegistryTest(t)
	account := createAccount(t, as, ownerID)

	err := reg.UpdateFields(KindServiceAccount, ownerID, account.ID, map[string]any{
		"customer_name":  "Priya",
		"monthly_amount": 3500,
	})
	if err != nil {
		t.Fatalf("update fields: %v", err)
	}

	got, _ := as.GetByID(account.ID)
	if got.CustomerName != "Priya" {
		t.Errorf("customer_name = %q, want Priya", got.CustomerName)
	}
	if got.MonthlyAmount != 3500 {
		t.Errorf("monthly_amount = %d, want 3500", got.MonthlyAmount)
	}
}

func TestRegistryUpdateFieldsRejectsUnknown(t *testing.T) {
	reg, as, _, ownerID, _ := setupRegistryTest(t)
	account := createAccount(t, as, ownerID)

	err := reg.UpdateFields(KindServiceAccount, ownerID, account.ID, map[string]any{
		"customer_name": "Priya",
		"paid_days":     99,
		"status":        "active",
	})
	if !fault.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
	// Both offending fields are named, sorted.
	if msg := err.Error(); !strings.Contains(msg, "paid_days, status") {
		t.Errorf("error %q should name the rejected fields", msg)
	}

	// Nothing was written, including the legal field.
	got, _ := as.GetByID(account.ID)
	if got.CustomerName != "Ravi" {
		t.Errorf("customer_name = %q, partial writes are forbidden", got.CustomerName)
	}
}

func TestRegistryUpdateFieldsForeignRow(t *testing.T) {
	reg, as, _, ownerID, foreignID := setupRegistryTest(t)
	account := createAccount(t, as, ownerID)

	err := reg.UpdateFields(KindServiceAccount, foreignID, account.ID, map[string]any{
		"customer_name": "Priya",
	})
	if !fault.IsNotFound(err) {
		t.Fatalf("err = %v, foreign rows must read as not found", err)
	}
}

func TestRegistrySkipRecordOwnedThroughParent(t *testing.T) {
	reg, as, ss, ownerID, foreignID := setupRegistryTest(t)
	account := createAccount(t, as, ownerID)
	skip, err := ss.Create(account.ID, account.StartDate.AddDate(0, 0, 1), "Lunch")
	if err != nil {
		t.Fatalf("create skip: %v", err)
	}

	if err := reg.UpdateFields(KindSkipRecord, ownerID, skip.ID, map[string]any{
		"status": model.SkipCancelled,
	}); err != nil {
		t.Fatalf("cancel skip through registry: %v", err)
	}
	got, _ := ss.GetByID(skip.ID)
	if got.Status != model.SkipCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}

	err = reg.UpdateFields(KindSkipRecord, foreignID, skip.ID, map[string]any{
		"status": model.SkipActive,
	})
	if !fault.IsNotFound(err) {
		t.Errorf("err = %v, foreign merchant must not reach the skip", err)
	}
}

func TestRegistryPaymentSessionNotWritable(t *testing.T) {
	reg, _, _, ownerID, _ := setupRegistryTest(t)

	err := reg.UpdateFields(KindPaymentSession, ownerID, 1, map[string]any{
		"status": "paid",
	})
	if !fault.IsValidation(err) {
		t.Fatalf("err = %v, sessions must reject direct writes", err)
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	reg, _, _, ownerID, _ := setupRegistryTest(t)

	if _, err := reg.OwnedExists(Kind("merchant"), ownerID, 1); !fault.IsValidation(err) {
		t.Fatalf("err = %v, unregistered kinds must be rejected", err)
	}
}
