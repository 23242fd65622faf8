package remittance

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/medbill/medbill/internal/platform/apperr"
)

// ParseResult is the raw outcome of reading one remittance file. Lines
// carry no match information yet; matching happens after persistence.
type ParseResult struct {
	Format         string
	PayerName      string
	CheckNumber    *string
	RemittanceDate *time.Time
	TotalAmount    float64
	Lines          []*LineItem
	// Skipped describes rows that could not be read. The rest of the
	// file still imports.
	Skipped []string
}

// ParseFile reads a remittance file by extension. Supported formats are
// .csv, .835, .edi (X12 835 payment advice) and .txt (pipe delimited).
// A file that cannot be read at all returns a KindImportParse error; a
// file with some bad rows returns those in Skipped.
func ParseFile(fileName string, data []byte) (*ParseResult, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(data)
	case ".835", ".edi":
		return parse835(data)
	case ".txt":
		return parseTXT(data)
	default:
		return nil, apperr.ImportParse(fmt.Sprintf("unsupported file format %q", ext), nil)
	}
}

func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

var dateLayouts = []string{"2006-01-02", "01/02/2006", "20060102"}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// -- CSV --

// parseCSV reads a header-addressed CSV. Recognized columns:
// claim_number, invoice_number, patient_name, service_date,
// billed_amount, paid_amount, patient_responsibility, denial_code,
// denial_reason, payer_name, check_number.
func parseCSV(data []byte) (*ParseResult, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, apperr.ImportParse("malformed CSV", err)
	}
	if len(records) < 2 {
		return nil, apperr.ImportParse("CSV has no data rows", nil)
	}

	cols := map[string]int{}
	for i, name := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	if _, hasClaim := cols["claim_number"]; !hasClaim {
		if _, hasInvoice := cols["invoice_number"]; !hasInvoice {
			return nil, apperr.ImportParse("CSV is missing a claim_number or invoice_number column", nil)
		}
	}

	res := &ParseResult{Format: "csv"}
	for n, row := range records[1:] {
		lineNo := n + 2
		paid, err := parseAmount(field(row, "paid_amount"))
		if err != nil {
			res.Skipped = append(res.Skipped, fmt.Sprintf("line %d: bad paid_amount: %v", lineNo, err))
			continue
		}
		billed, err := parseAmount(field(row, "billed_amount"))
		if err != nil {
			res.Skipped = append(res.Skipped, fmt.Sprintf("line %d: bad billed_amount: %v", lineNo, err))
			continue
		}
		patResp, err := parseAmount(field(row, "patient_responsibility"))
		if err != nil {
			res.Skipped = append(res.Skipped, fmt.Sprintf("line %d: bad patient_responsibility: %v", lineNo, err))
			continue
		}
		li := &LineItem{
			LineNumber:            lineNo,
			ClaimNumber:           strPtr(field(row, "claim_number")),
			InvoiceNumber:         strPtr(field(row, "invoice_number")),
			PatientName:           strPtr(field(row, "patient_name")),
			ServiceDate:           parseDate(field(row, "service_date")),
			BilledAmount:          billed,
			PaidAmount:            paid,
			PatientResponsibility: patResp,
			DenialCode:            strPtr(field(row, "denial_code")),
			DenialReason:          strPtr(field(row, "denial_reason")),
		}
		res.Lines = append(res.Lines, li)
		res.TotalAmount += paid
		if res.PayerName == "" {
			res.PayerName = field(row, "payer_name")
		}
		if res.CheckNumber == nil {
			res.CheckNumber = strPtr(field(row, "check_number"))
		}
	}
	if len(res.Lines) == 0 {
		return nil, apperr.ImportParse("no readable rows in CSV", nil)
	}
	return res, nil
}

// -- X12 835 --

// parse835 reads the subset of an X12 835 payment advice this system
// uses. Segments are terminated with "~" and elements with "*". One CLP
// segment opens a claim payment loop; NM1*QC, DTM and CAS segments
// inside the loop enrich it.
func parse835(data []byte) (*ParseResult, error) {
	content := strings.TrimSpace(string(data))
	if !strings.HasPrefix(content, "ISA") {
		return nil, apperr.ImportParse("835 file does not start with an ISA segment", nil)
	}

	res := &ParseResult{Format: "835"}
	var current *LineItem
	lineNo := 0
	for _, raw := range strings.Split(content, "~") {
		seg := strings.TrimSpace(raw)
		if seg == "" {
			continue
		}
		el := strings.Split(seg, "*")
		switch el[0] {
		case "N1":
			// N1*PR names the payer
			if len(el) >= 3 && el[1] == "PR" && res.PayerName == "" {
				res.PayerName = strings.TrimSpace(el[2])
			}
		case "TRN":
			// TRN02 is the check or EFT trace number
			if len(el) >= 3 && res.CheckNumber == nil {
				res.CheckNumber = strPtr(el[2])
			}
		case "DTM":
			// DTM*405 dates the remittance; inside a CLP loop DTM*232
			// dates the service
			if len(el) >= 3 {
				switch el[1] {
				case "405":
					res.RemittanceDate = parseDate(el[2])
				case "232":
					if current != nil {
						current.ServiceDate = parseDate(el[2])
					}
				}
			}
		case "CLP":
			if len(el) < 6 {
				res.Skipped = append(res.Skipped, fmt.Sprintf("CLP segment %d: too few elements", lineNo+1))
				continue
			}
			billed, err1 := parseAmount(el[3])
			paid, err2 := parseAmount(el[4])
			patResp, err3 := parseAmount(el[5])
			if err1 != nil || err2 != nil || err3 != nil {
				res.Skipped = append(res.Skipped, fmt.Sprintf("CLP segment for claim %q: bad amount", el[1]))
				continue
			}
			lineNo++
			current = &LineItem{
				LineNumber:            lineNo,
				ClaimNumber:           strPtr(el[1]),
				BilledAmount:          billed,
				PaidAmount:            paid,
				PatientResponsibility: patResp,
			}
			// CLP02 status code 4 means denied
			if strings.TrimSpace(el[2]) == "4" {
				code := "4"
				current.DenialCode = &code
			}
			res.Lines = append(res.Lines, current)
			res.TotalAmount += paid
		case "CAS":
			// claim adjustment; capture the reason on denied lines
			if current != nil && current.DenialCode != nil && len(el) >= 3 {
				reason := fmt.Sprintf("%s-%s", el[1], el[2])
				current.DenialCode = &reason
				if current.DenialReason == nil {
					current.DenialReason = strPtr("adjustment " + reason)
				}
			}
		case "NM1":
			// NM1*QC carries the patient name: last, first
			if current != nil && len(el) >= 5 && el[1] == "QC" {
				name := strings.TrimSpace(el[4] + " " + el[3])
				current.PatientName = strPtr(name)
			}
		}
	}
	if len(res.Lines) == 0 {
		return nil, apperr.ImportParse("835 file contains no CLP segments", nil)
	}
	return res, nil
}

// -- Pipe-delimited text --

// parseTXT reads the legacy pipe-delimited format:
//
//	REMIT|<payer>|<date>|<check number>
//	CLAIM|<claim number>|<patient name>|<service date>|<billed>|<paid>|<patient resp>
//	CLAIM|...|DENIED|<code>|<reason>
func parseTXT(data []byte) (*ParseResult, error) {
	res := &ParseResult{Format: "txt"}
	sawHeader := false
	for n, raw := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		switch parts[0] {
		case "REMIT":
			sawHeader = true
			if len(parts) > 1 {
				res.PayerName = strings.TrimSpace(parts[1])
			}
			if len(parts) > 2 {
				res.RemittanceDate = parseDate(parts[2])
			}
			if len(parts) > 3 {
				res.CheckNumber = strPtr(parts[3])
			}
		case "CLAIM":
			if len(parts) < 7 {
				res.Skipped = append(res.Skipped, fmt.Sprintf("line %d: expected at least 7 fields, got %d", n+1, len(parts)))
				continue
			}
			billed, err1 := parseAmount(parts[4])
			paid, err2 := parseAmount(parts[5])
			patResp, err3 := parseAmount(parts[6])
			if err1 != nil || err2 != nil || err3 != nil {
				res.Skipped = append(res.Skipped, fmt.Sprintf("line %d: bad amount", n+1))
				continue
			}
			li := &LineItem{
				LineNumber:            n + 1,
				ClaimNumber:           strPtr(parts[1]),
				PatientName:           strPtr(parts[2]),
				ServiceDate:           parseDate(parts[3]),
				BilledAmount:          billed,
				PaidAmount:            paid,
				PatientResponsibility: patResp,
			}
			if len(parts) >= 9 && parts[7] == "DENIED" {
				li.DenialCode = strPtr(parts[8])
				if len(parts) >= 10 {
					li.DenialReason = strPtr(parts[9])
				}
			}
			res.Lines = append(res.Lines, li)
			res.TotalAmount += paid
		default:
			res.Skipped = append(res.Skipped, fmt.Sprintf("line %d: unknown record type %q", n+1, parts[0]))
		}
	}
	if !sawHeader {
		return nil, apperr.ImportParse("text file is missing the REMIT header line", nil)
	}
	if len(res.Lines) == 0 {
		return nil, apperr.ImportParse("text file contains no CLAIM lines", nil)
	}
	return res, nil
}
