package sip2

import (
	"fmt"
	"strings"
)

// HoldMode selects the Hold (15) operation mode.
type HoldMode string

const (
	HoldAdd    HoldMode = "+"
	HoldDelete HoldMode = "-"
	HoldChange HoldMode = "*"
)

// frameBuilder assembles one outbound frame. Every variable value passes
// through Sanitize so reserved bytes can never split a field.
type frameBuilder struct {
	b strings.Builder
}

func (f *frameBuilder) fixed(s string) *frameBuilder {
	f.b.WriteString(s)
	return f
}

func (f *frameBuilder) field(tag, value string) *frameBuilder {
	f.b.WriteString(tag)
	f.b.WriteString(Sanitize(value))
	f.b.WriteByte('|')
	return f
}

func (f *frameBuilder) seal(seq int) (string, error) {
	return AppendTrailer(f.b.String(), seq)
}

// language pads a language code to the three-digit SIP2 form, defaulting
// to 001 (english).
func language(code string) string {
	code = Sanitize(code)
	if code == "" {
		return "001"
	}
	if len(code) > 3 {
		return code[:3]
	}
	return strings.Repeat("0", 3-len(code)) + code
}

// FormatLogin builds a Login (93) frame. Both algorithm indicators are
// zero: credentials travel in clear text inside the (typically TLS) stream,
// which is what every ACS this gateway has met actually implements.
func FormatLogin(userID, password, locationCode string, seq int) (string, error) {
	var f frameBuilder
	f.fixed(CodeLoginReq).fixed("00").
		field(TagLoginUserID, userID).
		field(TagLoginPassword, password).
		field(TagLocationCode, locationCode)
	return f.seal(seq)
}

// FormatPatronStatus builds a Patron Status Request (23).
func FormatPatronStatus(institution, barcode, lang string, seq int) (string, error) {
	var f frameBuilder
	f.fixed(CodePatronStatusReq).fixed(language(lang)).fixed(Timestamp(now())).
		field(TagInstitutionID, institution).
		field(TagPatronIdentifier, barcode).
		field(TagTerminalPassword, "")
	return f.seal(seq)
}

// FormatCheckout builds a Checkout Request (11). SC renewal policy is Y and
// no-block is N; the nb due date stays blank since offline transactions are
// never replayed through this gateway.
func FormatCheckout(institution, patronBarcode, itemBarcode, patronPin string, seq int) (string, error) {
	var f frameBuilder
	f.fixed(CodeCheckoutReq).fixed("YN").fixed(Timestamp(now())).fixed(blank18).
		field(TagInstitutionID, institution).
		field(TagPatronIdentifier, patronBarcode).
		field(TagItemIdentifier, itemBarcode).
		field(TagTerminalPassword, "")
	if patronPin != "" {
		f.field(TagPatronPassword, patronPin)
	}
	return f.seal(seq)
}

// FormatCheckin builds a Checkin Request (09). The return date mirrors the
// transaction date; the ACS applies its own backdating policy.
func FormatCheckin(institution, itemBarcode string, seq int) (string, error) {
	ts := Timestamp(now())
	var f frameBuilder
	f.fixed(CodeCheckinReq).fixed("N").fixed(ts).fixed(ts).
		field(TagInstitutionID, institution).
		field(TagItemIdentifier, itemBarcode).
		field(TagTerminalPassword, "")
	return f.seal(seq)
}

// FormatItemInfo builds an Item Information Request (17).
func FormatItemInfo(institution, itemBarcode string, seq int) (string, error) {
	var f frameBuilder
	f.fixed(CodeItemInfoReq).fixed(Timestamp(now())).
		field(TagInstitutionID, institution).
		field(TagItemIdentifier, itemBarcode)
	return f.seal(seq)
}

// FormatRenew builds a Renew Request (29) with third-party renewal allowed
// and no-block N.
func FormatRenew(institution, patronBarcode, itemBarcode, patronPin string, seq int) (string, error) {
	var f frameBuilder
	f.fixed(CodeRenewReq).fixed("YN").fixed(Timestamp(now())).fixed(blank18).
		field(TagInstitutionID, institution).
		field(TagPatronIdentifier, patronBarcode).
		field(TagItemIdentifier, itemBarcode)
	if patronPin != "" {
		f.field(TagPatronPassword, patronPin)
	}
	return f.seal(seq)
}

// FeePaidParams carries the Fee Paid (37) inputs. FeeType, PaymentType and
// Currency fall back to "01" (other), "00" (cash) and USD.
type FeePaidParams struct {
	PatronBarcode string
	FeeID         string
	Amount        string
	FeeType       string
	PaymentType   string
	Currency      string
}

// FormatFeePaid builds a Fee Paid Request (37). The fixed header carries
// the currency padded to three bytes; the BH field carries the trimmed copy.
func FormatFeePaid(institution string, p FeePaidParams, seq int) (string, error) {
	feeType := pad2(p.FeeType, "01")
	payType := pad2(p.PaymentType, "00")
	ccy := p.Currency
	if ccy == "" {
		ccy = "USD"
	}
	ccy = Sanitize(ccy)
	if len(ccy) > 3 {
		ccy = ccy[:3]
	}
	padded := ccy + strings.Repeat(" ", 3-len(ccy))

	var f frameBuilder
	f.fixed(CodeFeePaidReq).fixed(Timestamp(now())).fixed(feeType).fixed(payType).fixed(padded).
		field(TagInstitutionID, institution).
		field(TagPatronIdentifier, p.PatronBarcode).
		field(TagFeeIdentifier, p.FeeID).
		field(TagFeeAmount, p.Amount).
		field(TagCurrencyType, strings.TrimSpace(ccy))
	return f.seal(seq)
}

// PatronInfoParams carries the Patron Information (63) inputs. Summary
// selects the single detail list to expand; Start/End page through it.
type PatronInfoParams struct {
	PatronBarcode string
	Summary       string
	StartItem     int
	EndItem       int
	Language      string
}

// summaryPositions maps a requested detail list to its offset in the
// ten-byte summary block. Positions 5-9 are reserved and stay blank.
var summaryPositions = map[string]int{
	"holds":   0,
	"overdue": 1,
	"charged": 2,
	"fines":   3,
	"fine":    3,
	"recall":  4,
	"recalls": 4,
}

// FormatPatronInfo builds a Patron Information Request (63).
func FormatPatronInfo(institution string, p PatronInfoParams, seq int) (string, error) {
	summary := []byte("          ")
	if pos, ok := summaryPositions[strings.ToLower(strings.TrimSpace(p.Summary))]; ok {
		summary[pos] = 'Y'
	}
	start, end := p.StartItem, p.EndItem
	if start <= 0 {
		start = 1
	}
	if end <= 0 {
		end = 100
	}

	var f frameBuilder
	f.fixed(CodePatronInfoReq).fixed(language(p.Language)).fixed(Timestamp(now())).fixed(string(summary)).
		field(TagInstitutionID, institution).
		field(TagPatronIdentifier, p.PatronBarcode).
		field(TagStartItem, fmt.Sprintf("%04d", start)).
		field(TagEndItem, fmt.Sprintf("%04d", end))
	return f.seal(seq)
}

// HoldParams carries the Hold (15) inputs. ItemBarcode, TitleID,
// PickupLocation and ExpirationDate are optional and omitted when empty.
type HoldParams struct {
	Mode           HoldMode
	PatronBarcode  string
	ItemBarcode    string
	TitleID        string
	PickupLocation string
	ExpirationDate string
}

// FormatHold builds a Hold Request (15).
func FormatHold(institution string, p HoldParams, seq int) (string, error) {
	switch p.Mode {
	case HoldAdd, HoldDelete, HoldChange:
	default:
		return "", fmt.Errorf("invalid hold mode %q", p.Mode)
	}

	var f frameBuilder
	f.fixed(CodeHoldReq).fixed(string(p.Mode)).fixed(Timestamp(now()))
	if p.ExpirationDate != "" {
		f.field(TagExpirationDate, p.ExpirationDate)
	}
	f.field(TagInstitutionID, institution).
		field(TagPatronIdentifier, p.PatronBarcode)
	if p.ItemBarcode != "" {
		f.field(TagItemIdentifier, p.ItemBarcode)
	}
	if p.TitleID != "" {
		f.field(TagHoldTitleID, p.TitleID)
	}
	if p.PickupLocation != "" {
		f.field(TagPickupLocation, p.PickupLocation)
	}
	f.field(TagTerminalPassword, "")
	return f.seal(seq)
}

// FormatRenewAll builds a Renew All Request (65).
func FormatRenewAll(institution, patronBarcode string, seq int) (string, error) {
	ts := Timestamp(now())
	var f frameBuilder
	f.fixed(CodeRenewAllReq).fixed(ts).fixed(ts).
		field(TagInstitutionID, institution).
		field(TagPatronIdentifier, patronBarcode).
		field(TagTerminalPassword, "")
	return f.seal(seq)
}

// FormatEndSession builds an End Session Request (35).
func FormatEndSession(institution, patronBarcode string, seq int) (string, error) {
	var f frameBuilder
	f.fixed(CodeEndSessionReq).fixed(Timestamp(now())).
		field(TagInstitutionID, institution).
		field(TagPatronIdentifier, patronBarcode).
		field(TagTerminalPassword, "")
	return f.seal(seq)
}

// FormatSCStatus builds an SC Status (99) announcing protocol 2.00 and an
// 80-column print width.
func FormatSCStatus(seq int) (string, error) {
	var f frameBuilder
	f.fixed(CodeSCStatusReq).fixed("0").fixed("080").fixed("2.00")
	return f.seal(seq)
}

// FormatBlockPatron builds a Block Patron (01) frame. SIP2 defines no
// response for it; the client writes it fire-and-forget.
func FormatBlockPatron(institution, patronBarcode, message string, cardRetained bool, seq int) (string, error) {
	retained := "N"
	if cardRetained {
		retained = "Y"
	}
	var f frameBuilder
	f.fixed(CodeBlockPatron).fixed(retained).fixed(Timestamp(now())).
		field(TagInstitutionID, institution).
		field(TagPatronIdentifier, patronBarcode).
		field(TagTerminalPassword, "").
		field(TagBlockedCardMsg, message)
	return f.seal(seq)
}

// FormatItemStatusUpdate builds an Item Status Update Request (19).
// securityMarker is a single digit 0-3; empty means 0 (other).
func FormatItemStatusUpdate(institution, itemBarcode, securityMarker string, seq int) (string, error) {
	marker := securityMarker
	if marker == "" {
		marker = "0"
	}
	if len(marker) != 1 || marker[0] < '0' || marker[0] > '3' {
		return "", fmt.Errorf("invalid security marker %q", securityMarker)
	}
	var f frameBuilder
	f.fixed(CodeItemStatusReq).fixed(marker).fixed(Timestamp(now())).
		field(TagInstitutionID, institution).
		field(TagItemIdentifier, itemBarcode)
	return f.seal(seq)
}

// FormatPatronEnable builds a Patron Enable Request (25).
func FormatPatronEnable(institution, patronBarcode, patronPin string, seq int) (string, error) {
	var f frameBuilder
	f.fixed(CodePatronEnableReq).fixed(Timestamp(now())).
		field(TagInstitutionID, institution).
		field(TagPatronIdentifier, patronBarcode).
		field(TagTerminalPassword, "")
	if patronPin != "" {
		f.field(TagPatronPassword, patronPin)
	}
	return f.seal(seq)
}

const blank18 = "                  "

func pad2(v, def string) string {
	v = Sanitize(v)
	if v == "" {
		return def
	}
	if len(v) == 1 {
		return "0" + v
	}
	return v[:2]
}
