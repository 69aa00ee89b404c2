package sip2

// SIP2 command codes. Requests are even/odd pairs with their responses
// (11 checkout -> 12, 63 patron info -> 64, ...); login and status are the
// historical exceptions (93 -> 94, 99 -> 98).
const (
	CodeBlockPatron       = "01"
	CodeCheckinReq        = "09"
	CodeCheckinResp       = "10"
	CodeCheckoutReq       = "11"
	CodeCheckoutResp      = "12"
	CodeHoldReq           = "15"
	CodeHoldResp          = "16"
	CodeItemInfoReq       = "17"
	CodeItemInfoResp      = "18"
	CodeItemStatusReq     = "19"
	CodeItemStatusResp    = "20"
	CodePatronStatusReq   = "23"
	CodePatronStatusResp  = "24"
	CodePatronEnableReq   = "25"
	CodePatronEnableResp  = "26"
	CodeRenewReq          = "29"
	CodeRenewResp         = "30"
	CodeEndSessionReq     = "35"
	CodeEndSessionResp    = "36"
	CodeFeePaidReq        = "37"
	CodeFeePaidResp       = "38"
	CodePatronInfoReq     = "63"
	CodePatronInfoResp    = "64"
	CodeRenewAllReq       = "65"
	CodeRenewAllResp      = "66"
	CodeLoginReq          = "93"
	CodeLoginResp         = "94"
	CodeACSStatusResp     = "98"
	CodeSCStatusReq       = "99"
)

// Variable-field tags used by the formatter and parser. Vendor tags outside
// this list flow through the parser's extension map untouched.
const (
	TagInstitutionID      = "AO"
	TagPatronIdentifier   = "AA"
	TagItemIdentifier     = "AB"
	TagTerminalPassword   = "AC"
	TagPatronPassword     = "AD"
	TagPersonalName       = "AE"
	TagScreenMessage      = "AF"
	TagPrintLine          = "AG"
	TagDueDate            = "AH"
	TagTitleIdentifier    = "AJ"
	TagBlockedCardMsg     = "AL"
	TagLibraryName        = "AM"
	TagTerminalLocation   = "AN"
	TagPermanentLocation  = "AQ"
	TagHoldItems          = "AS"
	TagOverdueItems       = "AT"
	TagChargedItems       = "AU"
	TagFineItems          = "AV"
	TagSequenceNumber     = "AY"
	TagChecksum           = "AZ"
	TagHomeAddress        = "BD"
	TagEmailAddress       = "BE"
	TagHomePhone          = "BF"
	TagOwner              = "BG"
	TagCurrencyType       = "BH"
	TagFeeIdentifier      = "BK"
	TagValidPatron        = "BL"
	TagRenewedItems       = "BM"
	TagUnrenewedItems     = "BN"
	TagStartItem          = "BP"
	TagEndItem            = "BQ"
	TagPickupLocation     = "BS"
	TagHoldTitleID        = "BT"
	TagRecallItems        = "BU"
	TagFeeAmount          = "BV"
	TagSupportedMessages  = "BX"
	TagExpirationDate     = "BW"
	TagItemsCap           = "BZ"
	TagOverdueCap         = "CA"
	TagChargedCap         = "CB"
	TagUnavailableHolds   = "CD"
	TagMediaType          = "CK"
	TagLoginUserID        = "CN"
	TagLoginPassword      = "CO"
	TagLocationCode       = "CP"
	TagValidPatronPwd     = "CQ"
)

// tagSet is the closed set of tags a response variant is known to carry.
// Anything outside the set (other than the AY/AZ trailer pair) is treated
// as a vendor extension.
type tagSet map[string]bool

func newTagSet(tags ...string) tagSet {
	s := make(tagSet, len(tags))
	for _, t := range tags {
		s[t] = true
	}
	return s
}

// repeatedTags lists the tags whose every occurrence is kept in order.
// AF repeats on every variant; list tags repeat only where the variant
// exposes a list.
var repeatedTags = tagSet{
	TagScreenMessage:  true,
	TagOverdueItems:   true,
	TagChargedItems:   true,
	TagFineItems:      true,
	TagRecallItems:    true,
	TagRenewedItems:   true,
	TagUnrenewedItems: true,
	"BJ":              true,
}

// Known-tag sets per response variant. These are deliberately closed:
// growing one changes what lands in Extensions, which downstream consumers
// depend on for vendor passthrough.
var (
	patronStatusTags = newTagSet(
		TagInstitutionID, TagPatronIdentifier, TagPersonalName, TagValidPatron,
		TagItemsCap, TagOverdueCap, TagChargedCap, TagChargedItems,
		TagUnavailableHolds, TagHoldItems, TagScreenMessage, TagPrintLine,
	)
	checkoutTags = newTagSet(
		TagInstitutionID, TagPatronIdentifier, TagItemIdentifier,
		TagTitleIdentifier, TagDueDate, TagFeeAmount, TagScreenMessage, TagPrintLine,
	)
	checkinTags = newTagSet(
		TagInstitutionID, TagItemIdentifier, TagTitleIdentifier,
		TagPermanentLocation, TagScreenMessage, TagPrintLine,
	)
	itemInfoTags = newTagSet(
		TagInstitutionID, TagItemIdentifier, TagTitleIdentifier, TagOwner,
		TagCurrencyType, TagMediaType, TagScreenMessage,
	)
	feePaidTags = newTagSet(
		TagInstitutionID, TagPatronIdentifier, TagFeeIdentifier,
		TagCurrencyType, TagScreenMessage,
	)
	patronInfoTags = newTagSet(
		TagInstitutionID, TagPatronIdentifier, TagPersonalName, TagValidPatron,
		TagEmailAddress, TagHomePhone, TagHomeAddress, TagScreenMessage,
		TagOverdueItems, TagChargedItems, TagFineItems, TagRecallItems, "BJ",
		TagStartItem, TagEndItem,
	)
	holdTags = newTagSet(
		TagInstitutionID, TagPatronIdentifier, TagItemIdentifier,
		TagTitleIdentifier, TagExpirationDate, TagPickupLocation, "MN",
		TagScreenMessage, TagPrintLine,
	)
	renewAllTags = newTagSet(
		TagInstitutionID, TagPatronIdentifier, TagRenewedItems,
		TagUnrenewedItems, TagScreenMessage,
	)
	endSessionTags = newTagSet(
		TagInstitutionID, TagPatronIdentifier, TagScreenMessage, TagPrintLine,
	)
	acsStatusTags = newTagSet(
		TagInstitutionID, TagLibraryName, TagSupportedMessages,
		TagTerminalLocation, TagScreenMessage,
	)
	itemStatusTags = newTagSet(
		TagInstitutionID, TagItemIdentifier, TagTitleIdentifier,
		TagScreenMessage, TagPrintLine,
	)
)
