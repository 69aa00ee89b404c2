package fakes

import (
	"strings"
	"sync"
)

// Canned frames use a fixed timestamp so assertions stay deterministic.
const Stamp = "20240101    120000"

// Field pulls a variable field's value out of a frame. Good enough for
// echoing identifiers back in scripted responses.
func Field(frame, tag string) string {
	segments := strings.Split(frame, "|")
	for i, seg := range segments {
		if strings.HasPrefix(seg, tag) {
			return seg[len(tag):]
		}
		if i == 0 {
			if at := strings.Index(seg, tag); at >= 2 {
				return seg[at+len(tag):]
			}
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func LoginOKBody() string     { return "941" }
func LoginRejectBody() string { return "940" }

func PatronStatusBody(aa string) string {
	return "24" + strings.Repeat(" ", 14) + "001" + Stamp +
		"AOMAIN|AA" + aa + "|AEJane Doe|BLY|CQY|AFGreetings from the library|"
}

func CheckoutBody(aa, ab string) string {
	return "121NNY" + Stamp +
		"AOMAIN|AA" + aa + "|AB" + ab + "|AJThe Left Hand of Darkness|AH" + Stamp + "|"
}

func CheckinBody(ab string) string {
	return "101YNN" + Stamp +
		"AOMAIN|AB" + ab + "|AQMAIN-shelf|AJThe Dispossessed|"
}

func ItemInfoBody(ab string) string {
	return "18030201" + Stamp +
		"AB" + ab + "|AJThe Lathe of Heaven|CKbook|AQMAIN-shelf|BGMAIN|"
}

func RenewBody(aa, ab string) string {
	return "301YNY" + Stamp +
		"AOMAIN|AA" + aa + "|AB" + ab + "|AJThe Left Hand of Darkness|AH" + Stamp + "|"
}

func FeePaidBody(aa string) string {
	return "38Y" + Stamp + "AOMAIN|AA" + aa + "|AFPayment received|"
}

func PatronInfoBody(aa string) string {
	return "64" + strings.Repeat(" ", 14) + "001" + Stamp +
		"000100000002000000000000" +
		"AOMAIN|AA" + aa + "|AEJane Doe|BZ0025|CA0010|CB0050|BLY|CQY|" +
		"BHUSD|BV1.50|BDBaker Street 221b|BEjane@example.org|BF555-0100|"
}

func HoldBody(aa, ab string) string {
	return "161Y" + Stamp + "AOMAIN|AA" + aa + "|AB" + ab + "|BW" + Stamp + "|"
}

func RenewAllBody() string {
	return "66100020001" + Stamp + "AOMAIN|BMitem-0001|BMitem-0002|BNitem-0009|"
}

func EndSessionBody(aa string) string {
	return "36Y" + Stamp + "AOMAIN|AA" + aa + "|AFSession ended|"
}

func SCStatusBody() string {
	return "98YYYYNN100003" + Stamp + "2.00" +
		"AOMAIN|AMMain Library|BXYYYYYYYYYYYYYYYY|ANSelfCheck-1|"
}

func ItemStatusBody(ab string) string {
	return "201" + Stamp + "AB" + ab + "|AJThe Word for World Is Forest|"
}

func PatronEnableBody(aa string) string {
	return "26" + strings.Repeat(" ", 14) + "001" + Stamp +
		"AOMAIN|AA" + aa + "|AEJane Doe|BLY|AFPrivileges restored|"
}

// StandardResponder answers every command with a plausible success frame,
// echoing the patron and item identifiers from the request. Block Patron
// gets no response, as on a real ACS.
func StandardResponder() Responder {
	return func(req Request) []Reply {
		aa := orDefault(Field(req.Frame, "AA"), "patron-1")
		ab := orDefault(Field(req.Frame, "AB"), "item-1")
		switch req.Code {
		case "93":
			return []Reply{{Body: LoginOKBody()}}
		case "23":
			return []Reply{{Body: PatronStatusBody(aa)}}
		case "11":
			return []Reply{{Body: CheckoutBody(aa, ab)}}
		case "09":
			return []Reply{{Body: CheckinBody(ab)}}
		case "17":
			return []Reply{{Body: ItemInfoBody(ab)}}
		case "29":
			return []Reply{{Body: RenewBody(aa, ab)}}
		case "37":
			return []Reply{{Body: FeePaidBody(aa)}}
		case "63":
			return []Reply{{Body: PatronInfoBody(aa)}}
		case "15", "16":
			return []Reply{{Body: HoldBody(aa, ab)}}
		case "65":
			return []Reply{{Body: RenewAllBody()}}
		case "35":
			return []Reply{{Body: EndSessionBody(aa)}}
		case "99":
			return []Reply{{Body: SCStatusBody()}}
		case "19":
			return []Reply{{Body: ItemStatusBody(ab)}}
		case "25":
			return []Reply{{Body: PatronEnableBody(aa)}}
		case "01":
			return nil
		default:
			return nil
		}
	}
}

// RejectLoginResponder answers logins with 940 and everything else like
// the standard script.
func RejectLoginResponder() Responder {
	std := StandardResponder()
	return func(req Request) []Reply {
		if req.Code == "93" {
			return []Reply{{Body: LoginRejectBody()}}
		}
		return std(req)
	}
}

// SwallowResponder never answers. Useful for request timeout tests.
func SwallowResponder() Responder {
	return func(Request) []Reply { return nil }
}

// BadChecksum seals a body with the right sequence digit but a zeroed
// checksum.
func BadChecksum(body string, seq int) Reply {
	if seq < 0 || seq > 9 {
		seq = 0
	}
	return Reply{Raw: true, Body: body + "AY" + string(rune('0'+seq)) + "AZ0000\r"}
}

// NoTrailer terminates a body without any sequence or checksum trailer,
// the way pre-2.00 ACS builds answer.
func NoTrailer(body string) Reply {
	return Reply{Raw: true, Body: body + "\r"}
}

// FailFor answers the given command codes with nothing and delegates the
// rest, so breaker tests can fail one operation type on demand.
func FailFor(codes ...string) Responder {
	std := StandardResponder()
	failing := map[string]bool{}
	for _, c := range codes {
		failing[c] = true
	}
	return func(req Request) []Reply {
		if failing[req.Code] {
			return nil
		}
		return std(req)
	}
}

// Eventually switches from one responder to another after n requests.
func Eventually(first Responder, n int, then Responder) Responder {
	var seen int
	var mu sync.Mutex
	return func(req Request) []Reply {
		mu.Lock()
		seen++
		cur := first
		if seen > n {
			cur = then
		}
		mu.Unlock()
		return cur(req)
	}
}
