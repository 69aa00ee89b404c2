package sip2

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// trailerRe matches the AY/AZ trailer pair at the end of a frame. The
// sequence digit is kept for response matching; the checksum itself is
// validated separately by VerifyTrailer.
var trailerRe = regexp.MustCompile(`AY([0-9])AZ([0-9A-Fa-f]{4})$`)

// ExtractSequence pulls the sequence digit out of a frame's trailer.
// The second return is false when the frame carries no trailer, which
// legacy servers with checksums disabled are allowed to do.
func ExtractSequence(frame string) (int, bool) {
	m := trailerRe.FindStringSubmatch(strings.TrimSuffix(frame, "\r"))
	if m == nil {
		return 0, false
	}
	return int(m[1][0] - '0'), true
}

// rawField is one tag/value pair in wire order.
type rawField struct {
	tag   string
	value string
}

// splitResponse verifies the command code, strips the trailer and breaks
// the frame into its fixed header and ordered variable fields.
//
// The first pipe segment holds the fixed header with the first variable
// field glued onto it, so that field's tag is discovered by scanning for
// an uppercase pair at or past the fixed header boundary; its value runs
// to the end of the segment. Every later segment starts with its tag and
// the value runs to the segment end. If an ACS pads or truncates a fixed
// header, the scan can misread a header byte pair as a tag; the caller
// logs such tags when they surface as extensions.
func splitResponse(frame, wantCode string, fixedLen int) (string, []rawField, error) {
	body := strings.TrimSuffix(frame, "\r")
	if len(body) < 2 || body[:2] != wantCode {
		got := body
		if len(got) > 2 {
			got = got[:2]
		}
		return "", nil, fmt.Errorf("response code %q, want %s: %w", got, wantCode, ErrUnexpectedResponseCode)
	}
	if loc := trailerRe.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}

	segs := strings.Split(body, "|")

	end := 2 + fixedLen
	if end > len(segs[0]) {
		end = len(segs[0])
	}
	fixed := segs[0][2:end]

	var fields []rawField
	fields = scanFirstSegment(segs[0], 2+fixedLen, fields)
	for _, seg := range segs[1:] {
		if len(seg) < 2 || !isUpper(seg[0]) || !isUpper(seg[1]) {
			continue
		}
		fields = append(fields, rawField{tag: seg[:2], value: seg[2:]})
	}
	return fixed, fields, nil
}

func scanFirstSegment(seg string, threshold int, fields []rawField) []rawField {
	for i := threshold; i+1 < len(seg); i++ {
		if isUpper(seg[i]) && isUpper(seg[i+1]) {
			return append(fields, rawField{tag: seg[i : i+2], value: seg[i+2:]})
		}
	}
	return fields
}

func isUpper(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

// fieldFold sorts decoded fields into first-occurrence singles, ordered
// repeated lists and vendor extensions, per the variant's known set.
type fieldFold struct {
	single map[string]string
	lists  map[string][]string
	ext    map[string]string
}

func foldFields(fields []rawField, known tagSet) *fieldFold {
	f := &fieldFold{single: make(map[string]string)}
	for _, fd := range fields {
		switch {
		case fd.tag == TagSequenceNumber || fd.tag == TagChecksum:
		case known[fd.tag] && repeatedTags[fd.tag]:
			if f.lists == nil {
				f.lists = make(map[string][]string)
			}
			f.lists[fd.tag] = append(f.lists[fd.tag], fd.value)
		case known[fd.tag]:
			if _, ok := f.single[fd.tag]; !ok {
				f.single[fd.tag] = fd.value
			}
		default:
			if f.ext == nil {
				f.ext = make(map[string]string)
			}
			if _, ok := f.ext[fd.tag]; !ok {
				f.ext[fd.tag] = fd.value
			}
		}
	}
	return f
}

// fixedReader walks a fixed header byte by byte. Reads past the end of a
// truncated header return zero values rather than failing; the ACS side of
// this protocol is too creative for anything stricter.
type fixedReader struct {
	s   string
	pos int
}

func (r *fixedReader) take(n int) string {
	if r.pos >= len(r.s) {
		return ""
	}
	end := r.pos + n
	if end > len(r.s) {
		end = len(r.s)
	}
	v := r.s[r.pos:end]
	r.pos = end
	return v
}

func (r *fixedReader) flag() bool    { return r.take(1) == "Y" }
func (r *fixedReader) ok() bool      { return r.take(1) == "1" }
func (r *fixedReader) num(n int) int { return parseNum(r.take(n)) }

// parseNum decodes a space-padded decimal count, defaulting to 0.
func parseNum(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func parseFlags(block string) PatronStatusFlags {
	at := func(i int) bool { return i < len(block) && block[i] == 'Y' }
	return PatronStatusFlags{
		ChargePrivilegesDenied:       at(0),
		RenewalPrivilegesDenied:      at(1),
		RecallPrivilegesDenied:       at(2),
		HoldPrivilegesDenied:         at(3),
		CardReportedLost:             at(4),
		TooManyItemsCharged:          at(5),
		TooManyItemsOverdue:          at(6),
		TooManyRenewals:              at(7),
		TooManyClaimsOfItemsReturned: at(8),
		TooManyItemsLost:             at(9),
		ExcessiveOutstandingFines:    at(10),
		ExcessiveOutstandingFees:     at(11),
		RecallOverdue:                at(12),
		TooManyItemsBilled:           at(13),
	}
}

// Fixed header lengths per response variant, in bytes after the two-byte
// command code.
const (
	fixedLenPatronStatus = 35 // flags(14) lang(3) ts(18)
	fixedLenCheckout     = 22 // ok(1) renewalOk(1) magnetic(1) desensitize(1) ts(18)
	fixedLenCheckin      = 22 // ok(1) resensitize(1) magnetic(1) alert(1) ts(18)
	fixedLenItemInfo     = 24 // circStatus(2) securityMarker(2) feeType(2) ts(18)
	fixedLenFeePaid      = 19 // accepted(1) ts(18)
	fixedLenPatronInfo   = 59 // flags(14) lang(3) ts(18) counts(6x4)
	fixedLenHold         = 20 // ok(1) available(1) ts(18)
	fixedLenRenewAll     = 27 // ok(1) renewed(4) unrenewed(4) ts(18)
	fixedLenEndSession   = 19 // ended(1) ts(18)
	fixedLenACSStatus    = 34 // flags(6) timeout(3) retries(3) ts(18) proto(4)
	fixedLenItemStatus   = 19 // ok(1) ts(18)
)

// ParsePatronStatus decodes a Patron Status Response (24).
func ParsePatronStatus(frame string) (*PatronStatus, error) {
	return parsePatronStatus(frame, CodePatronStatusResp)
}

// ParsePatronEnable decodes a Patron Enable Response (26), which shares
// the Patron Status layout.
func ParsePatronEnable(frame string) (*PatronStatus, error) {
	return parsePatronStatus(frame, CodePatronEnableResp)
}

func parsePatronStatus(frame, code string) (*PatronStatus, error) {
	fixed, fields, err := splitResponse(frame, code, fixedLenPatronStatus)
	if err != nil {
		return nil, err
	}
	r := fixedReader{s: fixed}
	f := foldFields(fields, patronStatusTags)

	rec := &PatronStatus{
		Flags:             parseFlags(r.take(14)),
		Language:          r.take(3),
		TransactionDate:   r.take(18),
		InstitutionID:     f.single[TagInstitutionID],
		PatronBarcode:     f.single[TagPatronIdentifier],
		PatronName:        f.single[TagPersonalName],
		ValidPatron:       f.single[TagValidPatron] == "Y",
		HoldItemsCount:    parseNum(f.single[TagItemsCap]),
		OverdueItemsCount: parseNum(f.single[TagOverdueCap]),
		ChargedItemsCount: parseNum(f.single[TagChargedCap]),
		ChargedItems:      f.lists[TagChargedItems],
		HoldItems:         f.single[TagHoldItems],
		UnavailableHolds:  f.single[TagUnavailableHolds],
		PrintLine:         f.single[TagPrintLine],
		ScreenMessages:    f.lists[TagScreenMessage],
		Extensions:        f.ext,
	}
	return rec, nil
}

// ParseCheckout decodes a Checkout Response (12).
func ParseCheckout(frame string) (*Checkout, error) {
	return parseCheckout(frame, CodeCheckoutResp)
}

// ParseRenew decodes a Renew Response (30), which shares the Checkout
// layout.
func ParseRenew(frame string) (*Checkout, error) {
	return parseCheckout(frame, CodeRenewResp)
}

func parseCheckout(frame, code string) (*Checkout, error) {
	fixed, fields, err := splitResponse(frame, code, fixedLenCheckout)
	if err != nil {
		return nil, err
	}
	r := fixedReader{s: fixed}
	f := foldFields(fields, checkoutTags)

	rec := &Checkout{
		Ok:              r.ok(),
		RenewalOk:       r.flag(),
		MagneticMedia:   r.take(1),
		Desensitize:     r.take(1),
		TransactionDate: r.take(18),
		InstitutionID:   f.single[TagInstitutionID],
		PatronBarcode:   f.single[TagPatronIdentifier],
		ItemBarcode:     f.single[TagItemIdentifier],
		TitleID:         f.single[TagTitleIdentifier],
		DueDate:         f.single[TagDueDate],
		FeeAmount:       f.single[TagFeeAmount],
		PrintLine:       f.single[TagPrintLine],
		ScreenMessages:  f.lists[TagScreenMessage],
		Extensions:      f.ext,
	}
	return rec, nil
}

// ParseCheckin decodes a Checkin Response (10).
func ParseCheckin(frame string) (*Checkin, error) {
	fixed, fields, err := splitResponse(frame, CodeCheckinResp, fixedLenCheckin)
	if err != nil {
		return nil, err
	}
	r := fixedReader{s: fixed}
	f := foldFields(fields, checkinTags)

	rec := &Checkin{
		Ok:                r.ok(),
		Resensitize:       r.flag(),
		MagneticMedia:     r.take(1),
		Alert:             r.flag(),
		TransactionDate:   r.take(18),
		InstitutionID:     f.single[TagInstitutionID],
		ItemBarcode:       f.single[TagItemIdentifier],
		TitleID:           f.single[TagTitleIdentifier],
		PermanentLocation: f.single[TagPermanentLocation],
		PrintLine:         f.single[TagPrintLine],
		ScreenMessages:    f.lists[TagScreenMessage],
		Extensions:        f.ext,
	}
	return rec, nil
}

// ParseItemInfo decodes an Item Information Response (18).
func ParseItemInfo(frame string) (*ItemInfo, error) {
	fixed, fields, err := splitResponse(frame, CodeItemInfoResp, fixedLenItemInfo)
	if err != nil {
		return nil, err
	}
	r := fixedReader{s: fixed}
	f := foldFields(fields, itemInfoTags)

	rec := &ItemInfo{
		CirculationStatus: r.num(2),
		SecurityMarker:    r.num(2),
		FeeType:           r.num(2),
		TransactionDate:   r.take(18),
		InstitutionID:     f.single[TagInstitutionID],
		ItemBarcode:       f.single[TagItemIdentifier],
		TitleID:           f.single[TagTitleIdentifier],
		Owner:             f.single[TagOwner],
		CurrencyType:      f.single[TagCurrencyType],
		MediaType:         f.single[TagMediaType],
		ScreenMessages:    f.lists[TagScreenMessage],
		Extensions:        f.ext,
	}
	return rec, nil
}

// ParseFeePaid decodes a Fee Paid Response (38).
func ParseFeePaid(frame string) (*FeePaid, error) {
	fixed, fields, err := splitResponse(frame, CodeFeePaidResp, fixedLenFeePaid)
	if err != nil {
		return nil, err
	}
	r := fixedReader{s: fixed}
	f := foldFields(fields, feePaidTags)

	rec := &FeePaid{
		PaymentAccepted: r.flag(),
		TransactionDate: r.take(18),
		InstitutionID:   f.single[TagInstitutionID],
		PatronBarcode:   f.single[TagPatronIdentifier],
		FeeID:           f.single[TagFeeIdentifier],
		CurrencyType:    f.single[TagCurrencyType],
		ScreenMessages:  f.lists[TagScreenMessage],
		Extensions:      f.ext,
	}
	return rec, nil
}

// ParsePatronInfo decodes a Patron Information Response (64).
func ParsePatronInfo(frame string) (*PatronInfo, error) {
	fixed, fields, err := splitResponse(frame, CodePatronInfoResp, fixedLenPatronInfo)
	if err != nil {
		return nil, err
	}
	r := fixedReader{s: fixed}
	f := foldFields(fields, patronInfoTags)

	rec := &PatronInfo{
		Flags:                 parseFlags(r.take(14)),
		Language:              r.take(3),
		TransactionDate:       r.take(18),
		HoldItemsCount:        r.num(4),
		OverdueItemsCount:     r.num(4),
		ChargedItemsCount:     r.num(4),
		FineItemsCount:        r.num(4),
		RecallItemsCount:      r.num(4),
		UnavailableHoldsCount: r.num(4),
		InstitutionID:         f.single[TagInstitutionID],
		PatronBarcode:         f.single[TagPatronIdentifier],
		PatronName:            f.single[TagPersonalName],
		ValidPatron:           f.single[TagValidPatron] == "Y",
		EmailAddress:          f.single[TagEmailAddress],
		HomePhone:             f.single[TagHomePhone],
		HomeAddress:           f.single[TagHomeAddress],
		StartItem:             f.single[TagStartItem],
		EndItem:               f.single[TagEndItem],
		OverdueItems:          f.lists[TagOverdueItems],
		ChargedItems:          f.lists[TagChargedItems],
		FineItems:             f.lists[TagFineItems],
		RecallItems:           f.lists[TagRecallItems],
		RenewedItems:          f.lists["BJ"],
		ScreenMessages:        f.lists[TagScreenMessage],
		Extensions:            f.ext,
	}
	return rec, nil
}

// ParseHold decodes a Hold Response (16).
func ParseHold(frame string) (*Hold, error) {
	fixed, fields, err := splitResponse(frame, CodeHoldResp, fixedLenHold)
	if err != nil {
		return nil, err
	}
	r := fixedReader{s: fixed}
	f := foldFields(fields, holdTags)

	rec := &Hold{
		Ok:              r.ok(),
		Available:       r.flag(),
		TransactionDate: r.take(18),
		InstitutionID:   f.single[TagInstitutionID],
		PatronBarcode:   f.single[TagPatronIdentifier],
		ItemBarcode:     f.single[TagItemIdentifier],
		TitleID:         f.single[TagTitleIdentifier],
		ExpirationDate:  f.single[TagExpirationDate],
		PickupLocation:  f.single[TagPickupLocation],
		MN:              f.single["MN"],
		PrintLine:       f.single[TagPrintLine],
		ScreenMessages:  f.lists[TagScreenMessage],
		Extensions:      f.ext,
	}
	return rec, nil
}

// ParseRenewAll decodes a Renew All Response (66).
func ParseRenewAll(frame string) (*RenewAll, error) {
	fixed, fields, err := splitResponse(frame, CodeRenewAllResp, fixedLenRenewAll)
	if err != nil {
		return nil, err
	}
	r := fixedReader{s: fixed}
	f := foldFields(fields, renewAllTags)

	rec := &RenewAll{
		Ok:              r.ok(),
		RenewedCount:    r.num(4),
		UnrenewedCount:  r.num(4),
		TransactionDate: r.take(18),
		InstitutionID:   f.single[TagInstitutionID],
		PatronBarcode:   f.single[TagPatronIdentifier],
		RenewedItems:    f.lists[TagRenewedItems],
		UnrenewedItems:  f.lists[TagUnrenewedItems],
		ScreenMessages:  f.lists[TagScreenMessage],
		Extensions:      f.ext,
	}
	return rec, nil
}

// ParseEndSession decodes an End Session Response (36).
func ParseEndSession(frame string) (*EndSession, error) {
	fixed, fields, err := splitResponse(frame, CodeEndSessionResp, fixedLenEndSession)
	if err != nil {
		return nil, err
	}
	r := fixedReader{s: fixed}
	f := foldFields(fields, endSessionTags)

	rec := &EndSession{
		EndSession:      r.flag(),
		TransactionDate: r.take(18),
		InstitutionID:   f.single[TagInstitutionID],
		PatronBarcode:   f.single[TagPatronIdentifier],
		PrintLine:       f.single[TagPrintLine],
		ScreenMessages:  f.lists[TagScreenMessage],
		Extensions:      f.ext,
	}
	return rec, nil
}

// ParseACSStatus decodes an ACS Status (98).
func ParseACSStatus(frame string) (*ACSStatus, error) {
	fixed, fields, err := splitResponse(frame, CodeACSStatusResp, fixedLenACSStatus)
	if err != nil {
		return nil, err
	}
	r := fixedReader{s: fixed}
	f := foldFields(fields, acsStatusTags)

	rec := &ACSStatus{
		OnLine:            r.flag(),
		CheckinOk:         r.flag(),
		CheckoutOk:        r.flag(),
		RenewalPolicy:     r.flag(),
		StatusUpdateOk:    r.flag(),
		OfflineOk:         r.flag(),
		TimeoutPeriod:     r.num(3),
		RetriesAllowed:    r.num(3),
		DateTimeSync:      r.take(18),
		ProtocolVersion:   r.take(4),
		InstitutionID:     f.single[TagInstitutionID],
		LibraryName:       f.single[TagLibraryName],
		SupportedMessages: f.single[TagSupportedMessages],
		TerminalLocation:  f.single[TagTerminalLocation],
		ScreenMessages:    f.lists[TagScreenMessage],
		Extensions:        f.ext,
	}
	return rec, nil
}

// ParseItemStatusUpdate decodes an Item Status Update Response (20).
func ParseItemStatusUpdate(frame string) (*ItemStatusUpdate, error) {
	fixed, fields, err := splitResponse(frame, CodeItemStatusResp, fixedLenItemStatus)
	if err != nil {
		return nil, err
	}
	r := fixedReader{s: fixed}
	f := foldFields(fields, itemStatusTags)

	rec := &ItemStatusUpdate{
		ItemPropertiesOk: r.ok(),
		TransactionDate:  r.take(18),
		InstitutionID:    f.single[TagInstitutionID],
		ItemBarcode:      f.single[TagItemIdentifier],
		TitleID:          f.single[TagTitleIdentifier],
		PrintLine:        f.single[TagPrintLine],
		ScreenMessages:   f.lists[TagScreenMessage],
		Extensions:       f.ext,
	}
	return rec, nil
}

// Parse dispatches a response frame to its variant parser based on the
// two-byte command code.
func Parse(frame string) (any, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("frame too short: %w", ErrUnexpectedResponseCode)
	}
	switch frame[:2] {
	case CodePatronStatusResp:
		return ParsePatronStatus(frame)
	case CodePatronEnableResp:
		return ParsePatronEnable(frame)
	case CodeCheckoutResp:
		return ParseCheckout(frame)
	case CodeRenewResp:
		return ParseRenew(frame)
	case CodeCheckinResp:
		return ParseCheckin(frame)
	case CodeItemInfoResp:
		return ParseItemInfo(frame)
	case CodeFeePaidResp:
		return ParseFeePaid(frame)
	case CodePatronInfoResp:
		return ParsePatronInfo(frame)
	case CodeHoldResp:
		return ParseHold(frame)
	case CodeRenewAllResp:
		return ParseRenewAll(frame)
	case CodeEndSessionResp:
		return ParseEndSession(frame)
	case CodeItemStatusResp:
		return ParseItemStatusUpdate(frame)
	default:
		return nil, fmt.Errorf("unknown response code %q: %w", frame[:2], ErrUnexpectedResponseCode)
	}
}
