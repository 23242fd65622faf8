package claims

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/medbill/medbill/internal/platform/apperr"
)

// amountTolerance absorbs float rounding when comparing money.
const amountTolerance = 0.005

var (
	// ICD-10 diagnosis codes: letter, two alphanumerics, optional dotted
	// extension, e.g. J06.9 or S72.001A.
	icd10Pattern = regexp.MustCompile(`^[A-TV-Z][0-9][0-9A-Z](\.[0-9A-Z]{1,4})?$`)
	// CPT (five digits) or HCPCS level II (letter plus four digits).
	procedurePattern = regexp.MustCompile(`^(\d{5}|[A-Z]\d{4})$`)
)

// InvoiceSource resolves the invoice a claim bills against. The claim
// validator cross-checks the submitted amount with the invoice total.
type InvoiceSource interface {
	InvoiceTotal(ctx context.Context, invoiceID uuid.UUID) (float64, error)
}

// validate runs every pre-submission check and collects the outcome.
// Errors block submission, warnings are advisory only.
func (s *Service) validate(ctx context.Context, c *Claim) (*ValidationResult, error) {
	res := &ValidationResult{
		Errors:   []apperr.FieldError{},
		Warnings: []apperr.FieldError{},
	}
	addErr := func(field, msg string) {
		res.Errors = append(res.Errors, apperr.FieldError{Field: field, Message: msg})
	}
	addWarn := func(field, msg string) {
		res.Warnings = append(res.Warnings, apperr.FieldError{Field: field, Message: msg})
	}

	if c.PatientID == uuid.Nil {
		addErr("patient_id", "patient_id is required")
	}
	if strings.TrimSpace(c.PatientName) == "" {
		addErr("patient_name", "patient_name is required")
	}
	if c.InvoiceID == uuid.Nil {
		addErr("invoice_id", "invoice_id is required")
	}
	if c.InsuranceCompanyID == nil {
		addErr("insurance_company_id", "insurance_company_id is required")
	}
	if c.PolicyNumber == nil || strings.TrimSpace(*c.PolicyNumber) == "" {
		addErr("policy_number", "policy_number is required")
	}
	if c.ProviderID == nil {
		addWarn("provider_id", "no rendering provider set")
	}

	if len(c.DiagnosisCodes) == 0 {
		addErr("diagnosis_codes", "at least one diagnosis code is required")
	}
	for i, code := range c.DiagnosisCodes {
		if !icd10Pattern.MatchString(code) {
			addErr(fmt.Sprintf("diagnosis_codes[%d]", i), fmt.Sprintf("%q is not a valid ICD-10 code", code))
		}
	}

	if len(c.ProcedureCodes) == 0 {
		addErr("procedure_codes", "at least one procedure code is required")
	}
	for i, code := range c.ProcedureCodes {
		if !procedurePattern.MatchString(code) {
			addErr(fmt.Sprintf("procedure_codes[%d]", i), fmt.Sprintf("%q is not a valid CPT/HCPCS code", code))
		}
	}

	if c.SubmittedAmount <= 0 {
		addErr("submitted_amount", "submitted_amount must be positive")
	} else if c.InvoiceID != uuid.Nil {
		total, err := s.invoiceSrc.InvoiceTotal(ctx, c.InvoiceID)
		if err != nil {
			if apperr.IsNotFound(err) {
				addErr("invoice_id", "invoice does not exist")
			} else {
				return nil, fmt.Errorf("load invoice total: %w", err)
			}
		} else if math.Abs(total-c.SubmittedAmount) > amountTolerance {
			addErr("submitted_amount",
				fmt.Sprintf("submitted_amount %.2f does not match invoice total %.2f", c.SubmittedAmount, total))
		}
	}

	if c.ServiceDate == nil {
		addWarn("service_date", "no service date set")
	}

	res.Valid = len(res.Errors) == 0
	return res, nil
}
