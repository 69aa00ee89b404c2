package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate checks payloads against their struct tags. Field names in
// violation reports come from the json tags so callers see the names they
// actually sent.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type patronStatusRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
	Language      string `json:"language" validate:"omitempty,numeric,max=3"`
}

type checkoutRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
	ItemBarcode   string `json:"itemBarcode" validate:"required"`
	PatronPin     string `json:"patronPin"`
}

type checkinRequest struct {
	ItemBarcode string `json:"itemBarcode" validate:"required"`
}

type itemInformationRequest struct {
	ItemBarcode string `json:"itemBarcode" validate:"required"`
}

type renewRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
	ItemBarcode   string `json:"itemBarcode" validate:"required"`
	PatronPin     string `json:"patronPin"`
}

type feePaidRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
	FeeID         string `json:"feeId" validate:"required"`
	Amount        string `json:"amount" validate:"required,numeric"`
	FeeType       string `json:"feeType" validate:"omitempty,numeric,max=2"`
	PaymentType   string `json:"paymentType" validate:"omitempty,numeric,max=2"`
	Currency      string `json:"currency" validate:"omitempty,max=3"`
}

type patronInformationRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
	Summary       string `json:"summary" validate:"omitempty,oneof=holds overdue charged fines fine recall recalls"`
	StartItem     int    `json:"startItem" validate:"omitempty,min=1,max=9999"`
	EndItem       int    `json:"endItem" validate:"omitempty,min=1,max=9999"`
	Language      string `json:"language" validate:"omitempty,numeric,max=3"`
}

type holdRequest struct {
	PatronBarcode  string `json:"patronBarcode" validate:"required"`
	HoldMode       string `json:"holdMode" validate:"required,oneof=+ - *"`
	ItemBarcode    string `json:"itemBarcode"`
	TitleID        string `json:"titleId"`
	PickupLocation string `json:"pickupLocation"`
	ExpiryDate     string `json:"expiryDate"`
}

type renewAllRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
}

type endSessionRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
}

type blockPatronRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
	Message       string `json:"message"`
	CardRetained  bool   `json:"cardRetained"`
}

type itemStatusUpdateRequest struct {
	ItemBarcode    string `json:"itemBarcode" validate:"required"`
	SecurityMarker string `json:"securityMarker" validate:"omitempty,oneof=0 1 2 3"`
}

type patronEnableRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
	PatronPin     string `json:"patronPin"`
}

// decodePayload parses and validates a JSON request body. On failure it
// writes the 400 itself and reports false so handlers can bail with a bare
// return.
func decodePayload(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(fmt.Sprintf("invalid JSON body: %v", err)))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		resp := errorResponse("validation failed")
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				resp.Fields = append(resp.Fields, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
			}
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}
