package sip2

// PatronStatusFlags is the 14-character patron status block shared by the
// Patron Status (24), Patron Enable (26) and Patron Information (64)
// responses. Position order follows the wire layout.
type PatronStatusFlags struct {
	ChargePrivilegesDenied       bool `json:"chargePrivilegesDenied"`
	RenewalPrivilegesDenied      bool `json:"renewalPrivilegesDenied"`
	RecallPrivilegesDenied       bool `json:"recallPrivilegesDenied"`
	HoldPrivilegesDenied         bool `json:"holdPrivilegesDenied"`
	CardReportedLost             bool `json:"cardReportedLost"`
	TooManyItemsCharged          bool `json:"tooManyItemsCharged"`
	TooManyItemsOverdue          bool `json:"tooManyItemsOverdue"`
	TooManyRenewals              bool `json:"tooManyRenewals"`
	TooManyClaimsOfItemsReturned bool `json:"tooManyClaimsOfItemsReturned"`
	TooManyItemsLost             bool `json:"tooManyItemsLost"`
	ExcessiveOutstandingFines    bool `json:"excessiveOutstandingFines"`
	ExcessiveOutstandingFees     bool `json:"excessiveOutstandingFees"`
	RecallOverdue                bool `json:"recallOverdue"`
	TooManyItemsBilled           bool `json:"tooManyItemsBilled"`
}

// PatronStatus is the decoded Patron Status Response (24). Patron Enable
// (26) shares the identical layout and decodes into the same record.
type PatronStatus struct {
	Flags           PatronStatusFlags `json:"flags"`
	Language        string            `json:"language"`
	TransactionDate string            `json:"transactionDate"`
	InstitutionID   string            `json:"institutionId"`
	PatronBarcode   string            `json:"patronBarcode"`
	PatronName      string            `json:"patronName"`
	ValidPatron     bool              `json:"validPatron"`
	// BZ/CA/CB carry the hold/overdue/charged counts on the systems this
	// gateway fronts, not the limits the base standard describes.
	HoldItemsCount       int               `json:"holdItemsCount"`
	OverdueItemsCount    int               `json:"overdueItemsCount"`
	ChargedItemsCount    int               `json:"chargedItemsCount"`
	ChargedItems         []string          `json:"chargedItems,omitempty"`
	HoldItems            string            `json:"holdItems,omitempty"`
	UnavailableHolds     string            `json:"unavailableHolds,omitempty"`
	PrintLine            string            `json:"printLine,omitempty"`
	ScreenMessages       []string          `json:"screenMessages,omitempty"`
	Extensions           map[string]string `json:"extensions,omitempty"`
}

// Checkout is the decoded Checkout Response (12). Renew (30) shares the
// layout and decodes into the same record.
type Checkout struct {
	Ok              bool              `json:"ok"`
	RenewalOk       bool              `json:"renewalOk"`
	MagneticMedia   string            `json:"magneticMedia"`
	Desensitize     string            `json:"desensitize"`
	TransactionDate string            `json:"transactionDate"`
	InstitutionID   string            `json:"institutionId"`
	PatronBarcode   string            `json:"patronBarcode"`
	ItemBarcode     string            `json:"itemBarcode"`
	TitleID         string            `json:"titleId"`
	DueDate         string            `json:"dueDate"`
	FeeAmount       string            `json:"feeAmount,omitempty"`
	PrintLine       string            `json:"printLine,omitempty"`
	ScreenMessages  []string          `json:"screenMessages,omitempty"`
	Extensions      map[string]string `json:"extensions,omitempty"`
}

// Checkin is the decoded Checkin Response (10).
type Checkin struct {
	Ok                bool              `json:"ok"`
	Resensitize       bool              `json:"resensitize"`
	MagneticMedia     string            `json:"magneticMedia"`
	Alert             bool              `json:"alert"`
	TransactionDate   string            `json:"transactionDate"`
	InstitutionID     string            `json:"institutionId"`
	ItemBarcode       string            `json:"itemBarcode"`
	TitleID           string            `json:"titleId"`
	PermanentLocation string            `json:"permanentLocation,omitempty"`
	PrintLine         string            `json:"printLine,omitempty"`
	ScreenMessages    []string          `json:"screenMessages,omitempty"`
	Extensions        map[string]string `json:"extensions,omitempty"`
}

// ItemInfo is the decoded Item Information Response (18).
type ItemInfo struct {
	CirculationStatus int               `json:"circulationStatus"`
	SecurityMarker    int               `json:"securityMarker"`
	FeeType           int               `json:"feeType"`
	TransactionDate   string            `json:"transactionDate"`
	InstitutionID     string            `json:"institutionId,omitempty"`
	ItemBarcode       string            `json:"itemBarcode"`
	TitleID           string            `json:"titleId"`
	Owner             string            `json:"owner,omitempty"`
	CurrencyType      string            `json:"currencyType,omitempty"`
	MediaType         string            `json:"mediaType,omitempty"`
	ScreenMessages    []string          `json:"screenMessages,omitempty"`
	Extensions        map[string]string `json:"extensions,omitempty"`
}

// FeePaid is the decoded Fee Paid Response (38).
type FeePaid struct {
	PaymentAccepted bool              `json:"paymentAccepted"`
	TransactionDate string            `json:"transactionDate"`
	InstitutionID   string            `json:"institutionId"`
	PatronBarcode   string            `json:"patronBarcode"`
	FeeID           string            `json:"feeId,omitempty"`
	CurrencyType    string            `json:"currencyType,omitempty"`
	ScreenMessages  []string          `json:"screenMessages,omitempty"`
	Extensions      map[string]string `json:"extensions,omitempty"`
}

// PatronInfo is the decoded Patron Information Response (64).
type PatronInfo struct {
	Flags                 PatronStatusFlags `json:"flags"`
	Language              string            `json:"language"`
	TransactionDate       string            `json:"transactionDate"`
	HoldItemsCount        int               `json:"holdItemsCount"`
	OverdueItemsCount     int               `json:"overdueItemsCount"`
	ChargedItemsCount     int               `json:"chargedItemsCount"`
	FineItemsCount        int               `json:"fineItemsCount"`
	RecallItemsCount      int               `json:"recallItemsCount"`
	UnavailableHoldsCount int               `json:"unavailableHoldsCount"`
	InstitutionID         string            `json:"institutionId"`
	PatronBarcode         string            `json:"patronBarcode"`
	PatronName            string            `json:"patronName"`
	ValidPatron           bool              `json:"validPatron"`
	EmailAddress          string            `json:"emailAddress,omitempty"`
	HomePhone             string            `json:"homePhone,omitempty"`
	HomeAddress           string            `json:"homeAddress,omitempty"`
	StartItem             string            `json:"startItem,omitempty"`
	EndItem               string            `json:"endItem,omitempty"`
	OverdueItems          []string          `json:"overdueItems,omitempty"`
	ChargedItems          []string          `json:"chargedItems,omitempty"`
	FineItems             []string          `json:"fineItems,omitempty"`
	RecallItems           []string          `json:"recallItems,omitempty"`
	RenewedItems          []string          `json:"renewedItems,omitempty"`
	ScreenMessages        []string          `json:"screenMessages,omitempty"`
	Extensions            map[string]string `json:"extensions,omitempty"`
}

// Hold is the decoded Hold Response (16).
type Hold struct {
	Ok              bool              `json:"ok"`
	Available       bool              `json:"available"`
	TransactionDate string            `json:"transactionDate"`
	InstitutionID   string            `json:"institutionId"`
	PatronBarcode   string            `json:"patronBarcode"`
	ItemBarcode     string            `json:"itemBarcode,omitempty"`
	TitleID         string            `json:"titleId,omitempty"`
	ExpirationDate  string            `json:"expirationDate,omitempty"`
	PickupLocation  string            `json:"pickupLocation,omitempty"`
	MN              string            `json:"MN,omitempty"`
	PrintLine       string            `json:"printLine,omitempty"`
	ScreenMessages  []string          `json:"screenMessages,omitempty"`
	Extensions      map[string]string `json:"extensions,omitempty"`
}

// RenewAll is the decoded Renew All Response (66).
type RenewAll struct {
	Ok              bool              `json:"ok"`
	RenewedCount    int               `json:"renewedCount"`
	UnrenewedCount  int               `json:"unrenewedCount"`
	TransactionDate string            `json:"transactionDate"`
	InstitutionID   string            `json:"institutionId"`
	PatronBarcode   string            `json:"patronBarcode,omitempty"`
	RenewedItems    []string          `json:"renewedItems,omitempty"`
	UnrenewedItems  []string          `json:"unrenewedItems,omitempty"`
	ScreenMessages  []string          `json:"screenMessages,omitempty"`
	Extensions      map[string]string `json:"extensions,omitempty"`
}

// EndSession is the decoded End Session Response (36).
type EndSession struct {
	EndSession      bool              `json:"endSession"`
	TransactionDate string            `json:"transactionDate"`
	InstitutionID   string            `json:"institutionId"`
	PatronBarcode   string            `json:"patronBarcode"`
	PrintLine       string            `json:"printLine,omitempty"`
	ScreenMessages  []string          `json:"screenMessages,omitempty"`
	Extensions      map[string]string `json:"extensions,omitempty"`
}

// ACSStatus is the decoded ACS Status (98) returned for SC Status (99).
type ACSStatus struct {
	OnLine            bool              `json:"onLine"`
	CheckinOk         bool              `json:"checkinOk"`
	CheckoutOk        bool              `json:"checkoutOk"`
	RenewalPolicy     bool              `json:"renewalPolicy"`
	StatusUpdateOk    bool              `json:"statusUpdateOk"`
	OfflineOk         bool              `json:"offlineOk"`
	TimeoutPeriod     int               `json:"timeoutPeriod"`
	RetriesAllowed    int               `json:"retriesAllowed"`
	DateTimeSync      string            `json:"dateTimeSync"`
	ProtocolVersion   string            `json:"protocolVersion"`
	InstitutionID     string            `json:"institutionId"`
	LibraryName       string            `json:"libraryName,omitempty"`
	SupportedMessages string            `json:"supportedMessages,omitempty"`
	TerminalLocation  string            `json:"terminalLocation,omitempty"`
	ScreenMessages    []string          `json:"screenMessages,omitempty"`
	Extensions        map[string]string `json:"extensions,omitempty"`
}

// ItemStatusUpdate is the decoded Item Status Update Response (20).
type ItemStatusUpdate struct {
	ItemPropertiesOk bool              `json:"itemPropertiesOk"`
	TransactionDate  string            `json:"transactionDate"`
	InstitutionID    string            `json:"institutionId"`
	ItemBarcode      string            `json:"itemBarcode"`
	TitleID          string            `json:"titleId,omitempty"`
	PrintLine        string            `json:"printLine,omitempty"`
	ScreenMessages   []string          `json:"screenMessages,omitempty"`
	Extensions       map[string]string `json:"extensions,omitempty"`
}
