package invoices

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medbill/medbill/internal/platform/apperr"
)

// -- Mock Repository --

type mockRepo struct {
	items     map[uuid.UUID]*Invoice
	lineItems map[uuid.UUID]*LineItem
	// payments maps invoice id to applied amounts, simulating the sum
	// over active payment rows.
	payments map[uuid.UUID][]float64
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		items:     make(map[uuid.UUID]*Invoice),
		lineItems: make(map[uuid.UUID]*LineItem),
		payments:  make(map[uuid.UUID][]float64),
	}
}

func (m *mockRepo) Create(_ context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	inv.VersionID = 1
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = time.Now()
	m.items[inv.ID] = inv
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := m.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *inv
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) GetByNumber(_ context.Context, number string) (*Invoice, error) {
	for _, inv := range m.items {
		if inv.InvoiceNumber == number {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) Update(_ context.Context, inv *Invoice) error {
	if _, ok := m.items[inv.ID]; !ok {
		return pgx.ErrNoRows
	}
	inv.VersionID++
	cp := *inv
	m.items[inv.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Invoice, int, error) {
	var result []*Invoice
	for _, inv := range m.items {
		if f.PatientID != nil && inv.PatientID != *f.PatientID {
			continue
		}
		if f.Status != nil && inv.Status != *f.Status {
			continue
		}
		result = append(result, inv)
	}
	return result, len(result), nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Invoice, error) {
	var result []*Invoice
	for _, inv := range m.items {
		if inv.PatientID == patientID {
			result = append(result, inv)
		}
	}
	return result, nil
}

func (m *mockRepo) AddLineItem(_ context.Context, li *LineItem) error {
	li.ID = uuid.New()
	m.lineItems[li.ID] = li
	return nil
}

func (m *mockRepo) RemoveLineItem(_ context.Context, invoiceID, lineItemID uuid.UUID) error {
	li, ok := m.lineItems[lineItemID]
	if !ok || li.InvoiceID != invoiceID {
		return pgx.ErrNoRows
	}
	delete(m.lineItems, lineItemID)
	return nil
}

func (m *mockRepo) GetLineItems(_ context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	var result []*LineItem
	for _, li := range m.lineItems {
		if li.InvoiceID == invoiceID {
			result = append(result, li)
		}
	}
	return result, nil
}

func (m *mockRepo) AppliedPayments(_ context.Context, invoiceID uuid.UUID) (float64, error) {
	var sum float64
	for _, amt := range m.payments[invoiceID] {
		sum += amt
	}
	return sum, nil
}

// -- Tests --

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo), repo
}

func createInvoice(t *testing.T, svc *Service, patientID uuid.UUID, amounts ...float64) *Invoice {
	t.Helper()
	inv := &Invoice{PatientID: patientID, Status: StatusSent}
	var items []*LineItem
	for _, a := range amounts {
		items = append(items, &LineItem{Description: "visit", Quantity: 1, UnitPrice: a})
	}
	if err := svc.Create(context.Background(), inv, items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return inv
}

func TestUpdate_MutableFields(t *testing.T) {
	svc, _ := newTestService()
	inv := createInvoice(t, svc, uuid.New(), 100)

	due := time.Now().AddDate(0, 1, 0)
	notes := "resubmitted to payer"
	insurer := uuid.New()
	got, err := svc.Update(context.Background(), inv.ID, Update{
		DueDate: &due, Notes: &notes, InsuranceCompanyID: &insurer,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("due date = %v, want %v", got.DueDate, due)
	}
	if got.Notes == nil || *got.Notes != notes {
		t.Errorf("notes = %v", got.Notes)
	}
	if got.InsuranceCompanyID == nil || *got.InsuranceCompanyID != insurer {
		t.Errorf("insurer = %v", got.InsuranceCompanyID)
	}
	// derived fields survive the edit untouched
	if got.TotalAmount != 100 || got.BalanceDue != 100 || got.InvoiceNumber != inv.InvoiceNumber {
		t.Errorf("derived fields changed: total=%v balance=%v number=%s", got.TotalAmount, got.BalanceDue, got.InvoiceNumber)
	}

	// a nil field keeps its value on the next edit
	got, err = svc.Update(context.Background(), inv.ID, Update{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Notes == nil || *got.Notes != notes {
		t.Errorf("notes cleared by empty update: %v", got.Notes)
	}
}

func TestUpdate_ClosedInvoiceRejected(t *testing.T) {
	svc, repo := newTestService()
	inv := createInvoice(t, svc, uuid.New(), 100)
	repo.items[inv.ID].Status = StatusPaid

	notes := "too late"
	_, err := svc.Update(context.Background(), inv.ID, Update{Notes: &notes})
	if !apperr.IsConflict(err) {
		t.Errorf("expected conflict on paid invoice, got %v", err)
	}
}

func TestUpdate_UnknownInvoice(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Update(context.Background(), uuid.New(), Update{})
	if !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestCreate_ComputesTotalFromLineItems(t *testing.T) {
	svc, _ := newTestService()
	inv := &Invoice{PatientID: uuid.New(), TotalAmount: 999}
	items := []*LineItem{
		{Description: "office visit", Quantity: 1, UnitPrice: 80},
		{Description: "lab panel", Quantity: 2, UnitPrice: 35.25},
	}
	if err := svc.Create(context.Background(), inv, items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.TotalAmount != 150.50 {
		t.Errorf("expected total 150.50, got %v", inv.TotalAmount)
	}
	if inv.BalanceDue != 150.50 {
		t.Errorf("expected balance 150.50, got %v", inv.BalanceDue)
	}
	if inv.Status != StatusDraft {
		t.Errorf("expected default status draft, got %s", inv.Status)
	}
	if inv.InvoiceNumber == "" {
		t.Error("expected generated invoice number")
	}
}

func TestCreate_PatientIDRequired(t *testing.T) {
	svc, _ := newTestService()
	err := svc.Create(context.Background(), &Invoice{}, nil)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCreate_RejectsZeroQuantity(t *testing.T) {
	svc, _ := newTestService()
	inv := &Invoice{PatientID: uuid.New()}
	err := svc.Create(context.Background(), inv, []*LineItem{
		{Description: "visit", Quantity: 0, UnitPrice: 50},
	})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Get(context.Background(), uuid.New())
	if !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestAddLineItem_RecomputesTotal(t *testing.T) {
	svc, _ := newTestService()
	inv := createInvoice(t, svc, uuid.New(), 100)

	err := svc.AddLineItem(context.Background(), inv.ID, &LineItem{
		Description: "x-ray", Quantity: 1, UnitPrice: 45,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := svc.Get(context.Background(), inv.ID)
	if got.TotalAmount != 145 {
		t.Errorf("expected total 145, got %v", got.TotalAmount)
	}
	if got.BalanceDue != 145 {
		t.Errorf("expected balance 145, got %v", got.BalanceDue)
	}
}

func TestAddLineItem_RejectedOnPaidInvoice(t *testing.T) {
	svc, repo := newTestService()
	inv := createInvoice(t, svc, uuid.New(), 100)
	repo.payments[inv.ID] = []float64{100}
	if _, err := svc.RecomputeBalance(context.Background(), inv.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := svc.AddLineItem(context.Background(), inv.ID, &LineItem{
		Description: "late charge", Quantity: 1, UnitPrice: 10,
	})
	if !apperr.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestRemoveLineItem_RecomputesTotal(t *testing.T) {
	svc, repo := newTestService()
	inv := createInvoice(t, svc, uuid.New(), 100, 50)

	items, _ := repo.GetLineItems(context.Background(), inv.ID)
	var target uuid.UUID
	for _, li := range items {
		if li.Amount == 50 {
			target = li.ID
		}
	}
	if err := svc.RemoveLineItem(context.Background(), inv.ID, target); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := svc.Get(context.Background(), inv.ID)
	if got.TotalAmount != 100 {
		t.Errorf("expected total 100, got %v", got.TotalAmount)
	}
}

func TestRecomputeBalance_FullPaymentMarksPaid(t *testing.T) {
	svc, repo := newTestService()
	inv := createInvoice(t, svc, uuid.New(), 100)
	repo.payments[inv.ID] = []float64{100}

	got, err := svc.RecomputeBalance(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BalanceDue != 0 {
		t.Errorf("expected balance 0, got %v", got.BalanceDue)
	}
	if got.Status != StatusPaid {
		t.Errorf("expected status paid, got %s", got.Status)
	}
}

func TestRecomputeBalance_PartialPayment(t *testing.T) {
	svc, repo := newTestService()
	inv := createInvoice(t, svc, uuid.New(), 100)
	repo.payments[inv.ID] = []float64{40}

	got, err := svc.RecomputeBalance(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BalanceDue != 60 {
		t.Errorf("expected balance 60, got %v", got.BalanceDue)
	}
	if got.Status != StatusPartial {
		t.Errorf("expected status partial, got %s", got.Status)
	}
}

func TestRecomputeBalance_OverpaymentFloorsAtZero(t *testing.T) {
	svc, repo := newTestService()
	inv := createInvoice(t, svc, uuid.New(), 50)
	repo.payments[inv.ID] = []float64{70}

	got, err := svc.RecomputeBalance(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BalanceDue != 0 {
		t.Errorf("expected balance 0 on overpayment, got %v", got.BalanceDue)
	}
	if got.Status != StatusPaid {
		t.Errorf("expected status paid, got %s", got.Status)
	}
}

func TestRecomputeBalance_AllPaymentsVoidedRevertsToSent(t *testing.T) {
	svc, repo := newTestService()
	inv := createInvoice(t, svc, uuid.New(), 100)
	repo.payments[inv.ID] = []float64{100}
	svc.RecomputeBalance(context.Background(), inv.ID)

	repo.payments[inv.ID] = nil
	got, err := svc.RecomputeBalance(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusSent {
		t.Errorf("expected status sent after void, got %s", got.Status)
	}
	if got.BalanceDue != 100 {
		t.Errorf("expected balance 100, got %v", got.BalanceDue)
	}
}

func TestRecomputeBalance_CancelledStatusSticks(t *testing.T) {
	svc, repo := newTestService()
	inv := createInvoice(t, svc, uuid.New(), 100)
	if _, err := svc.Cancel(context.Background(), inv.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	repo.payments[inv.ID] = []float64{100}

	got, err := svc.RecomputeBalance(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected status cancelled, got %s", got.Status)
	}
}

func TestCancel_PaidInvoiceRejected(t *testing.T) {
	svc, repo := newTestService()
	inv := createInvoice(t, svc, uuid.New(), 100)
	repo.payments[inv.ID] = []float64{100}
	svc.RecomputeBalance(context.Background(), inv.ID)

	_, err := svc.Cancel(context.Background(), inv.ID)
	if !apperr.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestMarkSent_FromDraft(t *testing.T) {
	svc, _ := newTestService()
	inv := &Invoice{PatientID: uuid.New()}
	if err := svc.Create(context.Background(), inv, []*LineItem{
		{Description: "visit", Quantity: 1, UnitPrice: 100},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := svc.MarkSent(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusSent {
		t.Errorf("expected status sent, got %s", got.Status)
	}
}

func TestPatientBalance_OverpaymentDoesNotOffsetOpenInvoice(t *testing.T) {
	svc, repo := newTestService()
	patientID := uuid.New()
	a := createInvoice(t, svc, patientID, 100)
	b := createInvoice(t, svc, patientID, 50)
	repo.payments[a.ID] = []float64{100}
	repo.payments[b.ID] = []float64{70}

	bal, err := svc.PatientBalance(context.Background(), patientID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.TotalBilled != 150 {
		t.Errorf("expected billed 150, got %v", bal.TotalBilled)
	}
	if bal.TotalPaid != 170 {
		t.Errorf("expected paid 170, got %v", bal.TotalPaid)
	}
	if bal.Outstanding != 0 {
		t.Errorf("expected outstanding 0, got %v", bal.Outstanding)
	}
	if bal.AccountCredit != 20 {
		t.Errorf("expected credit 20, got %v", bal.AccountCredit)
	}
}

func TestPatientBalance_OpenBalanceWithCreditElsewhere(t *testing.T) {
	svc, repo := newTestService()
	patientID := uuid.New()
	a := createInvoice(t, svc, patientID, 200)
	b := createInvoice(t, svc, patientID, 50)
	repo.payments[a.ID] = []float64{50}
	repo.payments[b.ID] = []float64{80}

	bal, err := svc.PatientBalance(context.Background(), patientID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Outstanding != 150 {
		t.Errorf("expected outstanding 150, got %v", bal.Outstanding)
	}
	if bal.AccountCredit != 30 {
		t.Errorf("expected credit 30, got %v", bal.AccountCredit)
	}
}

func TestPatientBalance_ExcludesCancelled(t *testing.T) {
	svc, _ := newTestService()
	patientID := uuid.New()
	createInvoice(t, svc, patientID, 100)
	cancelled := createInvoice(t, svc, patientID, 500)
	svc.Cancel(context.Background(), cancelled.ID)

	bal, err := svc.PatientBalance(context.Background(), patientID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.InvoiceCount != 1 {
		t.Errorf("expected 1 invoice counted, got %d", bal.InvoiceCount)
	}
	if bal.TotalBilled != 100 {
		t.Errorf("expected billed 100, got %v", bal.TotalBilled)
	}
}
