package remittance

import (
	"strings"
	"testing"

	"github.com/medbill/medbill/internal/platform/apperr"
)

func TestParseCSV(t *testing.T) {
	data := []byte(`claim_number,patient_name,service_date,billed_amount,paid_amount,patient_responsibility,payer_name,check_number
CLM-001,Jordan Smith,2026-01-15,150.00,"$120.00",30.00,Acme Health,CHK-9001
CLM-002,Riley Jones,2026-01-16,200.00,160.00,40.00,Acme Health,CHK-9001
`)
	res, err := ParseFile("january.csv", data)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if res.Format != "csv" {
		t.Errorf("format = %q, want csv", res.Format)
	}
	if len(res.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(res.Lines))
	}
	li := res.Lines[0]
	if li.ClaimNumber == nil || *li.ClaimNumber != "CLM-001" {
		t.Errorf("claim number = %v", li.ClaimNumber)
	}
	if li.PaidAmount != 120 {
		t.Errorf("paid = %v, want 120 (dollar sign stripped)", li.PaidAmount)
	}
	if li.ServiceDate == nil || li.ServiceDate.Format("2006-01-02") != "2026-01-15" {
		t.Errorf("service date = %v", li.ServiceDate)
	}
	if res.TotalAmount != 280 {
		t.Errorf("total = %v, want 280", res.TotalAmount)
	}
	if res.PayerName != "Acme Health" {
		t.Errorf("payer = %q", res.PayerName)
	}
	if res.CheckNumber == nil || *res.CheckNumber != "CHK-9001" {
		t.Errorf("check number = %v", res.CheckNumber)
	}
}

func TestParseCSVSkipsBadRows(t *testing.T) {
	data := []byte(`claim_number,paid_amount
CLM-001,120.00
CLM-002,not-a-number
CLM-003,50.00
`)
	res, err := ParseFile("batch.csv", data)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(res.Lines) != 2 {
		t.Errorf("lines = %d, want 2", len(res.Lines))
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("skipped = %d, want 1", len(res.Skipped))
	}
	if !strings.Contains(res.Skipped[0], "line 3") {
		t.Errorf("skip message %q does not reference line 3", res.Skipped[0])
	}
}

func TestParseCSVMissingIdentifierColumn(t *testing.T) {
	data := []byte("patient_name,paid_amount\nJordan Smith,100\n")
	_, err := ParseFile("bad.csv", data)
	if !apperr.IsKind(err, apperr.KindImportParse) {
		t.Fatalf("err = %v, want import parse error", err)
	}
}

func TestParseCSVNoDataRows(t *testing.T) {
	_, err := ParseFile("empty.csv", []byte("claim_number,paid_amount\n"))
	if !apperr.IsKind(err, apperr.KindImportParse) {
		t.Fatalf("err = %v, want import parse error", err)
	}
}

func TestParse835(t *testing.T) {
	data := []byte(strings.Join([]string{
		"ISA*00*          *00*          *ZZ*PAYERID        *ZZ*PROVIDERID     *260115*1200*^*00501*000000001*0*P*:",
		"GS*HP*PAYERID*PROVIDERID*20260115*1200*1*X*005010X221A1",
		"ST*835*0001",
		"TRN*1*CHK-5542*1999999999",
		"N1*PR*ACME HEALTH PLAN",
		"DTM*405*20260115",
		"CLP*CLM-001*1*150*120*30*MC*ICN001",
		"NM1*QC*1*SMITH*JORDAN",
		"DTM*232*20260110",
		"CLP*CLM-002*4*200*0*0*MC*ICN002",
		"NM1*QC*1*JONES*RILEY",
		"CAS*CO*97*200",
		"SE*12*0001",
	}, "~") + "~")

	res, err := ParseFile("advice.835", data)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if res.Format != "835" {
		t.Errorf("format = %q, want 835", res.Format)
	}
	if res.PayerName != "ACME HEALTH PLAN" {
		t.Errorf("payer = %q", res.PayerName)
	}
	if res.CheckNumber == nil || *res.CheckNumber != "CHK-5542" {
		t.Errorf("check number = %v", res.CheckNumber)
	}
	if res.RemittanceDate == nil || res.RemittanceDate.Format("20060102") != "20260115" {
		t.Errorf("remittance date = %v", res.RemittanceDate)
	}
	if len(res.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(res.Lines))
	}

	paid := res.Lines[0]
	if paid.ClaimNumber == nil || *paid.ClaimNumber != "CLM-001" {
		t.Errorf("claim number = %v", paid.ClaimNumber)
	}
	if paid.PatientName == nil || *paid.PatientName != "JORDAN SMITH" {
		t.Errorf("patient name = %v", paid.PatientName)
	}
	if paid.ServiceDate == nil || paid.ServiceDate.Format("20060102") != "20260110" {
		t.Errorf("service date = %v", paid.ServiceDate)
	}
	if paid.BilledAmount != 150 || paid.PaidAmount != 120 || paid.PatientResponsibility != 30 {
		t.Errorf("amounts = %v/%v/%v", paid.BilledAmount, paid.PaidAmount, paid.PatientResponsibility)
	}
	if paid.Denial() {
		t.Error("paid line flagged as denial")
	}

	denied := res.Lines[1]
	if !denied.Denial() {
		t.Fatal("CLP02 status 4 not flagged as denial")
	}
	if denied.DenialCode == nil || *denied.DenialCode != "CO-97" {
		t.Errorf("denial code = %v, want CO-97 from CAS", denied.DenialCode)
	}
}

func TestParse835WithoutISA(t *testing.T) {
	_, err := ParseFile("advice.835", []byte("CLP*CLM-001*1*150*120*30~"))
	if !apperr.IsKind(err, apperr.KindImportParse) {
		t.Fatalf("err = %v, want import parse error", err)
	}
}

func TestParseTXT(t *testing.T) {
	data := []byte(`REMIT|Acme Health|2026-01-15|CHK-7001
CLAIM|CLM-001|Jordan Smith|2026-01-10|150.00|120.00|30.00
CLAIM|CLM-002|Riley Jones|2026-01-11|200.00|0.00|0.00|DENIED|CO-97|service not covered
`)
	res, err := ParseFile("remit.txt", data)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if res.PayerName != "Acme Health" {
		t.Errorf("payer = %q", res.PayerName)
	}
	if len(res.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(res.Lines))
	}
	if res.Lines[0].PaidAmount != 120 {
		t.Errorf("paid = %v", res.Lines[0].PaidAmount)
	}
	denied := res.Lines[1]
	if denied.DenialCode == nil || *denied.DenialCode != "CO-97" {
		t.Errorf("denial code = %v", denied.DenialCode)
	}
	if denied.DenialReason == nil || *denied.DenialReason != "service not covered" {
		t.Errorf("denial reason = %v", denied.DenialReason)
	}
}

func TestParseTXTMissingHeader(t *testing.T) {
	_, err := ParseFile("remit.txt", []byte("CLAIM|CLM-001|Jordan Smith|2026-01-10|150|120|30\n"))
	if !apperr.IsKind(err, apperr.KindImportParse) {
		t.Fatalf("err = %v, want import parse error", err)
	}
}

func TestParseFileUnsupportedExtension(t *testing.T) {
	_, err := ParseFile("remit.pdf", []byte("whatever"))
	if !apperr.IsKind(err, apperr.KindImportParse) {
		t.Fatalf("err = %v, want import parse error", err)
	}
}
