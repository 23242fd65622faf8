package remittance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medbill/medbill/internal/domain/claims"
	"github.com/medbill/medbill/internal/domain/invoices"
)

func newTestMatcher() (*Matcher, *mockClaimSource, *mockInvoiceSource) {
	cs := newMockClaimSource()
	is := newMockInvoiceSource()
	return NewMatcher(cs, is), cs, is
}

func TestMatchExactClaimNumber(t *testing.T) {
	m, cs, _ := newTestMatcher()
	c := cs.add(openClaim("CLM-001", "Jordan Smith", 150))

	num := "CLM-001"
	out, err := m.Match(context.Background(), &LineItem{ClaimNumber: &num}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if out == nil || out.ClaimID == nil || *out.ClaimID != c.ID {
		t.Fatalf("outcome = %+v, want claim %s", out, c.ID)
	}
	if out.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", out.Confidence)
	}
}

func TestMatchExactClaimNumberIgnoresClosedClaims(t *testing.T) {
	m, cs, _ := newTestMatcher()
	c := cs.add(openClaim("CLM-001", "Jordan Smith", 150))
	c.Status = claims.StatusPaid

	num := "CLM-001"
	out, err := m.Match(context.Background(), &LineItem{ClaimNumber: &num}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if out != nil {
		t.Errorf("outcome = %+v, want unmatched against a paid claim", out)
	}
}

func TestMatchExactInvoiceNumber(t *testing.T) {
	m, _, is := newTestMatcher()
	inv := is.add(&invoices.Invoice{
		InvoiceNumber: "INV-100", PatientID: uuid.New(), Status: invoices.StatusSent,
	})

	num := "INV-100"
	out, err := m.Match(context.Background(), &LineItem{InvoiceNumber: &num}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if out == nil || out.InvoiceID == nil || *out.InvoiceID != inv.ID {
		t.Fatalf("outcome = %+v, want invoice %s", out, inv.ID)
	}
}

func TestFuzzyMatchAboveThreshold(t *testing.T) {
	m, cs, _ := newTestMatcher()
	c := cs.add(openClaim("CLM-001", "Jordan Smith", 150))
	cs.add(openClaim("CLM-002", "Riley Jones", 900))

	name := "Jordan Smith"
	li := &LineItem{PatientName: &name, BilledAmount: 150}
	out, err := m.Match(context.Background(), li, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	// exact name and amount with no dates: 0.5 + 0.3 + 0.1 = 0.9
	if out == nil || out.ClaimID == nil || *out.ClaimID != c.ID {
		t.Fatalf("outcome = %+v, want claim %s", out, c.ID)
	}
	if out.Confidence < matchThreshold || out.Confidence >= 1.0 {
		t.Errorf("confidence = %v, want fuzzy score in [0.80, 1.0)", out.Confidence)
	}
}

func TestFuzzyMatchBelowThresholdStaysUnmatched(t *testing.T) {
	m, cs, _ := newTestMatcher()
	cs.add(openClaim("CLM-001", "Jordan Smith", 150))

	name := "Completely Different"
	out, err := m.Match(context.Background(), &LineItem{PatientName: &name, BilledAmount: 150}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if out != nil {
		t.Errorf("outcome = %+v, want unmatched", out)
	}
}

func TestFuzzyTieStaysUnmatched(t *testing.T) {
	m, cs, _ := newTestMatcher()
	cs.add(openClaim("CLM-001", "Jordan Smith", 150))
	cs.add(openClaim("CLM-002", "Jordan Smith", 150))

	name := "Jordan Smith"
	out, err := m.Match(context.Background(), &LineItem{PatientName: &name, BilledAmount: 150}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if out != nil {
		t.Errorf("outcome = %+v, want unmatched on a tie", out)
	}
}

func TestFuzzyMatchUsesServiceDate(t *testing.T) {
	m, cs, _ := newTestMatcher()
	day := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	c := cs.add(openClaim("CLM-001", "Jordan Smith", 150))
	c.ServiceDate = &day
	far := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	other := cs.add(openClaim("CLM-002", "Jordan Smyth", 150))
	other.ServiceDate = &far

	name := "Jordan Smith"
	li := &LineItem{PatientName: &name, BilledAmount: 150, ServiceDate: &day}
	out, err := m.Match(context.Background(), li, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if out == nil || out.ClaimID == nil || *out.ClaimID != c.ID {
		t.Fatalf("outcome = %+v, want the same-day claim %s", out, c.ID)
	}
}

func TestMatchWithoutIdentifiersOrName(t *testing.T) {
	m, cs, _ := newTestMatcher()
	cs.add(openClaim("CLM-001", "Jordan Smith", 150))

	out, err := m.Match(context.Background(), &LineItem{BilledAmount: 150}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if out != nil {
		t.Errorf("outcome = %+v, want unmatched with nothing to go on", out)
	}
}

func TestNameSimilarityTokenOrder(t *testing.T) {
	if got := nameSimilarity("SMITH, JORDAN", "Jordan Smith"); got != 1 {
		t.Errorf("nameSimilarity = %v, want 1 regardless of token order", got)
	}
	if got := nameSimilarity("Jordan Smith", "Jordan Smyth"); got <= 0.8 || got >= 1 {
		t.Errorf("nameSimilarity = %v, want a near miss in (0.8, 1)", got)
	}
	if got := nameSimilarity("", "Jordan Smith"); got != 0 {
		t.Errorf("nameSimilarity with empty name = %v, want 0", got)
	}
}

func TestAmountProximity(t *testing.T) {
	if got := amountProximity(150, 150); got != 1 {
		t.Errorf("equal amounts = %v, want 1", got)
	}
	if got := amountProximity(75, 150); got != 0.5 {
		t.Errorf("half the amount = %v, want 0.5", got)
	}
	if got := amountProximity(500, 150); got != 0 {
		t.Errorf("wildly off = %v, want 0", got)
	}
	if got := amountProximity(100, 0); got != 0 {
		t.Errorf("zero claim amount = %v, want 0", got)
	}
}
