package claims

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medbill/medbill/internal/platform/apperr"
)

// -- Mocks --

type mockRepo struct {
	items     map[uuid.UUID]*Claim
	history   map[uuid.UUID][]*StatusHistoryEntry
	documents map[uuid.UUID]*Document
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		items:     make(map[uuid.UUID]*Claim),
		history:   make(map[uuid.UUID][]*StatusHistoryEntry),
		documents: make(map[uuid.UUID]*Document),
	}
}

func (m *mockRepo) Create(_ context.Context, c *Claim) error {
	c.ID = uuid.New()
	c.VersionID = 1
	c.CreatedAt = time.Now()
	c.UpdatedAt = time.Now()
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Claim, error) {
	c, ok := m.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) GetByNumber(_ context.Context, number string) (*Claim, error) {
	for _, c := range m.items {
		if c.ClaimNumber == number {
			cp := *c
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) Update(_ context.Context, c *Claim) error {
	if _, ok := m.items[c.ID]; !ok {
		return pgx.ErrNoRows
	}
	c.VersionID++
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *mockRepo) UpdateWithHistory(ctx context.Context, c *Claim, entry *StatusHistoryEntry) error {
	if err := m.Update(ctx, c); err != nil {
		return err
	}
	entry.ID = uuid.New()
	entry.ClaimID = c.ID
	entry.ChangedAt = time.Now()
	m.history[c.ID] = append(m.history[c.ID], entry)
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Claim, int, error) {
	var result []*Claim
	for _, c := range m.items {
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if f.PatientID != nil && c.PatientID != *f.PatientID {
			continue
		}
		result = append(result, c)
	}
	return result, len(result), nil
}

func (m *mockRepo) ListOpen(_ context.Context, insuranceCompanyID *uuid.UUID) ([]*Claim, error) {
	var result []*Claim
	for _, c := range m.items {
		if !c.Status.Payable() {
			continue
		}
		if insuranceCompanyID != nil && (c.InsuranceCompanyID == nil || *c.InsuranceCompanyID != *insuranceCompanyID) {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

func (m *mockRepo) GetHistory(_ context.Context, claimID uuid.UUID) ([]*StatusHistoryEntry, error) {
	return m.history[claimID], nil
}

func (m *mockRepo) AddDocument(_ context.Context, d *Document) error {
	d.ID = uuid.New()
	d.UploadedAt = time.Now()
	m.documents[d.ID] = d
	return nil
}

func (m *mockRepo) GetDocuments(_ context.Context, claimID uuid.UUID) ([]*Document, error) {
	var result []*Document
	for _, d := range m.documents {
		if d.ClaimID == claimID {
			result = append(result, d)
		}
	}
	return result, nil
}

func (m *mockRepo) GetDocument(_ context.Context, claimID, docID uuid.UUID) (*Document, error) {
	d, ok := m.documents[docID]
	if !ok || d.ClaimID != claimID {
		return nil, pgx.ErrNoRows
	}
	return d, nil
}

func (m *mockRepo) RemoveDocument(_ context.Context, claimID, docID uuid.UUID) error {
	d, ok := m.documents[docID]
	if !ok || d.ClaimID != claimID {
		return pgx.ErrNoRows
	}
	delete(m.documents, docID)
	return nil
}

type mockInvoiceSource struct {
	totals map[uuid.UUID]float64
}

func (m *mockInvoiceSource) InvoiceTotal(_ context.Context, invoiceID uuid.UUID) (float64, error) {
	total, ok := m.totals[invoiceID]
	if !ok {
		return 0, apperr.NotFound("invoice", invoiceID)
	}
	return total, nil
}

// -- Tests --

func newTestService() (*Service, *mockRepo, *mockInvoiceSource) {
	repo := newMockRepo()
	src := &mockInvoiceSource{totals: make(map[uuid.UUID]float64)}
	return NewService(repo, src), repo, src
}

func validClaim(src *mockInvoiceSource, amount float64) *Claim {
	invoiceID := uuid.New()
	src.totals[invoiceID] = amount
	insurer := uuid.New()
	policy := "POL-12345"
	return &Claim{
		PatientID:          uuid.New(),
		PatientName:        "Jordan Smith",
		InvoiceID:          invoiceID,
		InsuranceCompanyID: &insurer,
		PolicyNumber:       &policy,
		SubmittedAmount:    amount,
		DiagnosisCodes:     []string{"J06.9"},
		ProcedureCodes:     []string{"99213"},
	}
}

func submittedClaim(t *testing.T, svc *Service, src *mockInvoiceSource, amount float64) *Claim {
	t.Helper()
	c := validClaim(src, amount)
	if err := svc.Create(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := svc.Submit(context.Background(), c.ID, "tester")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestCreate_Defaults(t *testing.T) {
	svc, _, src := newTestService()
	c := validClaim(src, 100)
	c.Status = StatusPaid // caller cannot pick a status
	if err := svc.Create(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Status != StatusDraft {
		t.Errorf("expected status draft, got %s", c.Status)
	}
	if c.ClaimNumber == "" {
		t.Error("expected generated claim number")
	}
}

func TestCreate_RequiredFields(t *testing.T) {
	svc, _, _ := newTestService()
	err := svc.Create(context.Background(), &Claim{})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	svc, _, _ := newTestService()
	c := &Claim{PatientID: uuid.New(), InvoiceID: uuid.New()}
	if err := svc.Create(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := svc.Validate(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid {
		t.Error("expected invalid result")
	}
	// name, insurer, policy, diagnoses, procedures, amount, missing invoice
	if len(res.Errors) < 6 {
		t.Errorf("expected at least 6 errors, got %d: %v", len(res.Errors), res.Errors)
	}
}

func TestValidate_BadCodes(t *testing.T) {
	svc, _, src := newTestService()
	c := validClaim(src, 100)
	c.DiagnosisCodes = []string{"NOTACODE"}
	c.ProcedureCodes = []string{"12"}
	if err := svc.Create(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := svc.Validate(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid {
		t.Error("expected invalid result for malformed codes")
	}
}

func TestValidate_AmountMismatch(t *testing.T) {
	svc, _, src := newTestService()
	c := validClaim(src, 100)
	c.SubmittedAmount = 90
	if err := svc.Create(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := svc.Validate(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid {
		t.Error("expected invalid result for amount mismatch")
	}
}

func TestSubmit_ValidClaim(t *testing.T) {
	svc, repo, src := newTestService()
	c := submittedClaim(t, svc, src, 100)
	if c.Status != StatusSubmitted {
		t.Errorf("expected status submitted, got %s", c.Status)
	}
	if c.SubmissionDate == nil {
		t.Error("expected submission date to be set")
	}
	hist := repo.history[c.ID]
	if len(hist) != 1 || hist[0].FromStatus != StatusDraft || hist[0].ToStatus != StatusSubmitted {
		t.Errorf("expected draft->submitted history entry, got %+v", hist)
	}
}

func TestSubmit_InvalidClaimBlocked(t *testing.T) {
	svc, _, _ := newTestService()
	c := &Claim{PatientID: uuid.New(), InvoiceID: uuid.New()}
	svc.Create(context.Background(), c)
	_, err := svc.Submit(context.Background(), c.ID, "tester")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	got, _ := svc.Get(context.Background(), c.ID)
	if got.Status != StatusDraft {
		t.Errorf("expected claim to stay draft, got %s", got.Status)
	}
}

func TestSubmit_NonDraftRejected(t *testing.T) {
	svc, _, src := newTestService()
	c := submittedClaim(t, svc, src, 100)
	_, err := svc.Submit(context.Background(), c.ID, "tester")
	if !apperr.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestRecordExternalStatus_IllegalTransition(t *testing.T) {
	svc, _, src := newTestService()
	c := validClaim(src, 100)
	svc.Create(context.Background(), c)
	// draft cannot move directly to accepted
	_, err := svc.RecordExternalStatus(context.Background(), c.ID, StatusAccepted, "", "tester")
	if !apperr.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestRecordExternalStatus_ProgressesThroughPayer(t *testing.T) {
	svc, _, src := newTestService()
	c := submittedClaim(t, svc, src, 100)

	got, err := svc.RecordExternalStatus(context.Background(), c.ID, StatusPending, "clearinghouse ack", "tester")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected pending, got %s", got.Status)
	}
	got, err = svc.RecordExternalStatus(context.Background(), c.ID, StatusAccepted, "", "tester")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusAccepted {
		t.Errorf("expected accepted, got %s", got.Status)
	}
}

func TestDeny_SetsReasonAndDate(t *testing.T) {
	svc, _, src := newTestService()
	c := submittedClaim(t, svc, src, 100)

	got, err := svc.Deny(context.Background(), c.ID, "CO-97 service not covered", "tester")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusDenied {
		t.Errorf("expected denied, got %s", got.Status)
	}
	if got.DenialReason == nil || got.DeniedDate == nil {
		t.Error("expected denial reason and date to be set")
	}
}

func TestDeny_ReasonRequired(t *testing.T) {
	svc, _, src := newTestService()
	c := submittedClaim(t, svc, src, 100)
	_, err := svc.Deny(context.Background(), c.ID, " ", "tester")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestResubmit_OnlyFromDenied(t *testing.T) {
	svc, _, src := newTestService()
	c := submittedClaim(t, svc, src, 100)
	_, err := svc.Resubmit(context.Background(), c.ID, ResubmitCorrection, "fixed codes", "tester")
	if !apperr.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestResubmit_ClearsDenialAndResetsSubmission(t *testing.T) {
	svc, repo, src := newTestService()
	c := submittedClaim(t, svc, src, 100)
	firstSubmission := *c.SubmissionDate
	if _, err := svc.Deny(context.Background(), c.ID, "missing documentation", "tester"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := svc.Resubmit(context.Background(), c.ID, ResubmitAppeal, "attached operative report", "tester")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusSubmitted {
		t.Errorf("expected submitted, got %s", got.Status)
	}
	if got.DenialReason != nil || got.DeniedDate != nil {
		t.Error("expected denial fields to be cleared")
	}
	if got.SubmissionDate == nil || !got.SubmissionDate.After(firstSubmission) {
		t.Error("expected a new submission date")
	}
	hist := repo.history[c.ID]
	last := hist[len(hist)-1]
	if last.Note == nil || *last.Note != "appeal: attached operative report" {
		t.Errorf("expected appeal note in history, got %+v", last.Note)
	}
}

func TestResubmit_NoteRequired(t *testing.T) {
	svc, _, src := newTestService()
	c := submittedClaim(t, svc, src, 100)
	svc.Deny(context.Background(), c.ID, "bad codes", "tester")
	_, err := svc.Resubmit(context.Background(), c.ID, ResubmitCorrection, "  ", "tester")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCancel_TerminalRejected(t *testing.T) {
	svc, _, src := newTestService()
	c := submittedClaim(t, svc, src, 100)
	if _, err := svc.Cancel(context.Background(), c.ID, "duplicate", "tester"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.Cancel(context.Background(), c.ID, "again", "tester")
	if !apperr.IsConflict(err) {
		t.Errorf("expected conflict on cancelled claim, got %v", err)
	}
}

func TestApplyRemittancePayment_FullPaymentMarksPaid(t *testing.T) {
	svc, _, src := newTestService()
	c := submittedClaim(t, svc, src, 100)

	got, err := svc.ApplyRemittancePayment(context.Background(), c.ID, 80, 20, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusPaid {
		t.Errorf("expected paid, got %s", got.Status)
	}
	if got.PaidDate == nil {
		t.Error("expected paid date to be set")
	}
	if got.PaidAmount != 80 {
		t.Errorf("expected paid amount 80, got %v", got.PaidAmount)
	}
}

func TestApplyRemittancePayment_PartialThenFull(t *testing.T) {
	svc, _, src := newTestService()
	c := submittedClaim(t, svc, src, 100)

	got, err := svc.ApplyRemittancePayment(context.Background(), c.ID, 40, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusPartial {
		t.Errorf("expected partial, got %s", got.Status)
	}

	got, err = svc.ApplyRemittancePayment(context.Background(), c.ID, 60, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusPaid {
		t.Errorf("expected paid after second posting, got %s", got.Status)
	}
	if got.PaidAmount != 100 {
		t.Errorf("expected accumulated paid amount 100, got %v", got.PaidAmount)
	}
}

func TestApplyRemittancePayment_TerminalRejected(t *testing.T) {
	svc, _, src := newTestService()
	c := submittedClaim(t, svc, src, 100)
	if _, err := svc.ApplyRemittancePayment(context.Background(), c.ID, 100, 0, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.ApplyRemittancePayment(context.Background(), c.ID, 10, 0, "")
	if !apperr.IsConflict(err) {
		t.Errorf("expected conflict on paid claim, got %v", err)
	}
}

func TestApplyRemittancePayment_NegativeRejected(t *testing.T) {
	svc, _, src := newTestService()
	c := submittedClaim(t, svc, src, 100)
	_, err := svc.ApplyRemittancePayment(context.Background(), c.ID, -5, 0, "")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestApplyRemittancePayment_ZeroRejected(t *testing.T) {
	svc, _, src := newTestService()
	c := submittedClaim(t, svc, src, 100)
	_, err := svc.ApplyRemittancePayment(context.Background(), c.ID, 0, 0, "")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	got, err := svc.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusSubmitted || got.PaidAmount != 0 {
		t.Errorf("claim changed by zero payment: status %s, paid %v", got.Status, got.PaidAmount)
	}
}

func TestFindOpenByNumber(t *testing.T) {
	svc, _, src := newTestService()
	open := submittedClaim(t, svc, src, 100)

	draft := validClaim(src, 50)
	svc.Create(context.Background(), draft)

	got, err := svc.FindOpenByNumber(context.Background(), open.ClaimNumber)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != open.ID {
		t.Error("expected to find open claim by number")
	}

	got, err = svc.FindOpenByNumber(context.Background(), draft.ClaimNumber)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected draft claim to not match")
	}

	got, err = svc.FindOpenByNumber(context.Background(), "CLM-NOPE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected no match for unknown number")
	}
}

func TestUpdate_InFlightRejected(t *testing.T) {
	svc, _, src := newTestService()
	c := submittedClaim(t, svc, src, 100)
	c.PatientName = "Edited"
	err := svc.Update(context.Background(), c)
	if !apperr.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestDocuments_AttachListRemove(t *testing.T) {
	svc, _, src := newTestService()
	c := validClaim(src, 100)
	svc.Create(context.Background(), c)

	d := &Document{FileName: "eob.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}
	if err := svc.AttachDocument(context.Background(), c.ID, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.SizeBytes != int64(len(d.Data)) {
		t.Errorf("expected size %d, got %d", len(d.Data), d.SizeBytes)
	}

	docs, err := svc.ListDocuments(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	if err := svc.RemoveDocument(context.Background(), c.ID, d.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = svc.GetDocument(context.Background(), c.ID, d.ID)
	if !apperr.IsNotFound(err) {
		t.Errorf("expected not found after removal, got %v", err)
	}
}

func TestAttachDocument_EmptyRejected(t *testing.T) {
	svc, _, src := newTestService()
	c := validClaim(src, 100)
	svc.Create(context.Background(), c)

	err := svc.AttachDocument(context.Background(), c.ID, &Document{FileName: "empty.pdf"})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
