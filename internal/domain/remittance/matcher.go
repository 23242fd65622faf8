package remittance

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/medbill/medbill/internal/domain/claims"
	"github.com/medbill/medbill/internal/domain/invoices"
)

// matchThreshold is the minimum fuzzy score that counts as a match.
const matchThreshold = 0.80

// ClaimSource is the slice of the claim service matching and posting
// depend on.
type ClaimSource interface {
	Get(ctx context.Context, id uuid.UUID) (*claims.Claim, error)
	FindOpenByNumber(ctx context.Context, number string) (*claims.Claim, error)
	ListOpen(ctx context.Context, insuranceCompanyID *uuid.UUID) ([]*claims.Claim, error)
	ApplyRemittancePayment(ctx context.Context, id uuid.UUID, paidAmount, patientResponsibility float64, note string) (*claims.Claim, error)
	Deny(ctx context.Context, id uuid.UUID, reason, changedBy string) (*claims.Claim, error)
}

// InvoiceSource resolves invoices for lines that reference one directly.
type InvoiceSource interface {
	Get(ctx context.Context, id uuid.UUID) (*invoices.Invoice, error)
	FindOpenByNumber(ctx context.Context, number string) (*invoices.Invoice, error)
}

// MatchOutcome is the result of matching one remittance line.
type MatchOutcome struct {
	ClaimID    *uuid.UUID
	InvoiceID  *uuid.UUID
	Confidence float64
}

// Matcher ties remittance lines to claims and invoices. Exact
// identifier matches win outright; lines without a usable identifier
// fall back to fuzzy scoring over the open claims.
type Matcher struct {
	claimSrc   ClaimSource
	invoiceSrc InvoiceSource
}

func NewMatcher(claimSrc ClaimSource, invoiceSrc InvoiceSource) *Matcher {
	return &Matcher{claimSrc: claimSrc, invoiceSrc: invoiceSrc}
}

// Match attempts to resolve one line. A nil outcome means the line stays
// unmatched for manual review; that is never an error.
func (m *Matcher) Match(ctx context.Context, li *LineItem, insuranceCompanyID *uuid.UUID) (*MatchOutcome, error) {
	if li.ClaimNumber != nil {
		c, err := m.claimSrc.FindOpenByNumber(ctx, *li.ClaimNumber)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return &MatchOutcome{ClaimID: &c.ID, Confidence: 1.0}, nil
		}
	}
	if li.InvoiceNumber != nil {
		inv, err := m.invoiceSrc.FindOpenByNumber(ctx, *li.InvoiceNumber)
		if err != nil {
			return nil, err
		}
		if inv != nil {
			return &MatchOutcome{InvoiceID: &inv.ID, Confidence: 1.0}, nil
		}
	}
	return m.fuzzyMatch(ctx, li, insuranceCompanyID)
}

// fuzzyMatch scores open claims only. Invoices carry no patient name,
// and amount plus date proximity top out at 0.5, below the acceptance
// threshold, so an invoice candidate could never win.
func (m *Matcher) fuzzyMatch(ctx context.Context, li *LineItem, insuranceCompanyID *uuid.UUID) (*MatchOutcome, error) {
	if li.PatientName == nil {
		return nil, nil
	}
	candidates, err := m.claimSrc.ListOpen(ctx, insuranceCompanyID)
	if err != nil {
		return nil, err
	}

	var best, secondBest float64
	var bestClaim *claims.Claim
	for _, c := range candidates {
		score := scoreCandidate(li, c)
		if score > best {
			secondBest = best
			best = score
			bestClaim = c
		} else if score > secondBest {
			secondBest = score
		}
	}
	if bestClaim == nil || best < matchThreshold {
		return nil, nil
	}
	// two candidates scoring alike is a tie; leave it for review
	if best-secondBest < 0.01 {
		return nil, nil
	}
	return &MatchOutcome{ClaimID: &bestClaim.ID, Confidence: math.Round(best*100) / 100}, nil
}

// scoreCandidate weighs name similarity at 0.5, amount proximity at 0.3
// and service date proximity at 0.2.
func scoreCandidate(li *LineItem, c *claims.Claim) float64 {
	name := nameSimilarity(*li.PatientName, c.PatientName)
	amount := amountProximity(li.BilledAmount, c.SubmittedAmount)
	date := dateProximity(li, c)
	return 0.5*name + 0.3*amount + 0.2*date
}

// nameSimilarity compares names ignoring case, punctuation and token
// order, so "SMITH, JORDAN" still matches "Jordan Smith".
func nameSimilarity(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	dist := levenshtein(na, nb)
	longest := len(na)
	if len(nb) > longest {
		longest = len(nb)
	}
	return 1 - float64(dist)/float64(longest)
}

func normalizeName(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r == ' ' {
			b.WriteRune(r)
		} else if r == ',' || r == '.' || r == '-' {
			b.WriteRune(' ')
		}
	}
	tokens := strings.Fields(b.String())
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// amountProximity is 1 for an exact amount and decays linearly with the
// relative difference.
func amountProximity(lineAmount, claimAmount float64) float64 {
	if claimAmount <= 0 {
		return 0
	}
	diff := math.Abs(lineAmount-claimAmount) / claimAmount
	if diff >= 1 {
		return 0
	}
	return 1 - diff
}

// dateProximity is 1 for the same day, decaying to 0 over thirty days.
// Lines or claims without a date score a neutral 0.5.
func dateProximity(li *LineItem, c *claims.Claim) float64 {
	if li.ServiceDate == nil || c.ServiceDate == nil {
		return 0.5
	}
	days := math.Abs(li.ServiceDate.Sub(*c.ServiceDate).Hours()) / 24
	if days >= 30 {
		return 0
	}
	return 1 - days/30
}
