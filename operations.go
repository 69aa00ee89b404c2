package sip2gate

import (
	"context"

	"github.com/sip2gate/sip2gate/sip2"
)

// noteExtensions surfaces fields the parser could not attribute to a known
// tag. Usually a vendor extension, occasionally a first-segment value that
// happened to contain an uppercase pair.
func (m *Manager) noteExtensions(branchID, action string, ext map[string]string) {
	if len(ext) == 0 {
		return
	}
	keys := make([]string, 0, len(ext))
	for k := range ext {
		keys = append(keys, k)
	}
	m.log.Debug().Str("branch", branchID).Str("action", action).
		Strs("tags", keys).Msg("response carried unrecognized fields")
}

// PatronStatus asks the ACS for a patron's standing and block flags.
func (m *Manager) PatronStatus(ctx context.Context, branchID, patronBarcode, language string) (*sip2.PatronStatus, error) {
	request := map[string]any{
		"patronBarcode": patronBarcode,
		"language":      language,
	}
	res, err := m.execute(ctx, branchID, "patronStatus", request, func(ctx context.Context, c *sip2.Client) (any, error) {
		return c.PatronStatus(ctx, patronBarcode, language)
	})
	if err != nil {
		return nil, err
	}
	rec := res.(*sip2.PatronStatus)
	m.noteExtensions(branchID, "patronStatus", rec.Extensions)
	return rec, nil
}

// Checkout charges an item to a patron.
func (m *Manager) Checkout(ctx context.Context, branchID, patronBarcode, itemBarcode, patronPin string) (*sip2.Checkout, error) {
	request := map[string]any{
		"patronBarcode": patronBarcode,
		"itemBarcode":   itemBarcode,
		"patronPin":     patronPin,
	}
	res, err := m.execute(ctx, branchID, "checkout", request, func(ctx context.Context, c *sip2.Client) (any, error) {
		return c.Checkout(ctx, patronBarcode, itemBarcode, patronPin)
	})
	if err != nil {
		return nil, err
	}
	rec := res.(*sip2.Checkout)
	m.noteExtensions(branchID, "checkout", rec.Extensions)
	return rec, nil
}

// Checkin returns an item.
func (m *Manager) Checkin(ctx context.Context, branchID, itemBarcode string) (*sip2.Checkin, error) {
	request := map[string]any{
		"itemBarcode": itemBarcode,
	}
	res, err := m.execute(ctx, branchID, "checkin", request, func(ctx context.Context, c *sip2.Client) (any, error) {
		return c.Checkin(ctx, itemBarcode)
	})
	if err != nil {
		return nil, err
	}
	rec := res.(*sip2.Checkin)
	m.noteExtensions(branchID, "checkin", rec.Extensions)
	return rec, nil
}

// ItemInformation fetches an item's circulation status, holds queue and
// title.
func (m *Manager) ItemInformation(ctx context.Context, branchID, itemBarcode string) (*sip2.ItemInfo, error) {
	request := map[string]any{
		"itemBarcode": itemBarcode,
	}
	res, err := m.execute(ctx, branchID, "itemInformation", request, func(ctx context.Context, c *sip2.Client) (any, error) {
		return c.ItemInformation(ctx, itemBarcode)
	})
	if err != nil {
		return nil, err
	}
	rec := res.(*sip2.ItemInfo)
	m.noteExtensions(branchID, "itemInformation", rec.Extensions)
	return rec, nil
}

// Renew extends a single loan.
func (m *Manager) Renew(ctx context.Context, branchID, patronBarcode, itemBarcode, patronPin string) (*sip2.Checkout, error) {
	request := map[string]any{
		"patronBarcode": patronBarcode,
		"itemBarcode":   itemBarcode,
		"patronPin":     patronPin,
	}
	res, err := m.execute(ctx, branchID, "renew", request, func(ctx context.Context, c *sip2.Client) (any, error) {
		return c.Renew(ctx, patronBarcode, itemBarcode, patronPin)
	})
	if err != nil {
		return nil, err
	}
	rec := res.(*sip2.Checkout)
	m.noteExtensions(branchID, "renew", rec.Extensions)
	return rec, nil
}

// FeePaid reports a payment against a patron's account.
func (m *Manager) FeePaid(ctx context.Context, branchID string, params sip2.FeePaidParams) (*sip2.FeePaid, error) {
	request := map[string]any{
		"patronBarcode": params.PatronBarcode,
		"feeId":         params.FeeID,
		"amount":        params.Amount,
		"feeType":       params.FeeType,
		"paymentType":   params.PaymentType,
		"currency":      params.Currency,
	}
	res, err := m.execute(ctx, branchID, "feePaid", request, func(ctx context.Context, c *sip2.Client) (any, error) {
		return c.FeePaid(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	rec := res.(*sip2.FeePaid)
	m.noteExtensions(branchID, "feePaid", rec.Extensions)
	return rec, nil
}

// PatronInformation fetches a patron's detail record, optionally with one
// item list expanded.
func (m *Manager) PatronInformation(ctx context.Context, branchID string, params sip2.PatronInfoParams) (*sip2.PatronInfo, error) {
	request := map[string]any{
		"patronBarcode": params.PatronBarcode,
		"summary":       params.Summary,
		"startItem":     params.StartItem,
		"endItem":       params.EndItem,
		"language":      params.Language,
	}
	res, err := m.execute(ctx, branchID, "patronInformation", request, func(ctx context.Context, c *sip2.Client) (any, error) {
		return c.PatronInformation(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	rec := res.(*sip2.PatronInfo)
	m.noteExtensions(branchID, "patronInformation", rec.Extensions)
	return rec, nil
}

// Hold places, cancels or changes a hold.
func (m *Manager) Hold(ctx context.Context, branchID string, params sip2.HoldParams) (*sip2.Hold, error) {
	request := map[string]any{
		"mode":           string(params.Mode),
		"patronBarcode":  params.PatronBarcode,
		"itemBarcode":    params.ItemBarcode,
		"titleId":        params.TitleID,
		"pickupLocation": params.PickupLocation,
		"expirationDate": params.ExpirationDate,
	}
	res, err := m.execute(ctx, branchID, "hold", request, func(ctx context.Context, c *sip2.Client) (any, error) {
		return c.Hold(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	rec := res.(*sip2.Hold)
	m.noteExtensions(branchID, "hold", rec.Extensions)
	return rec, nil
}

// RenewAll renews every loan on a patron's account.
func (m *Manager) RenewAll(ctx context.Context, branchID, patronBarcode string) (*sip2.RenewAll, error) {
	request := map[string]any{
		"patronBarcode": patronBarcode,
	}
	res, err := m.execute(ctx, branchID, "renewAll", request, func(ctx context.Context, c *sip2.Client) (any, error) {
		return c.RenewAll(ctx, patronBarcode)
	})
	if err != nil {
		return nil, err
	}
	rec := res.(*sip2.RenewAll)
	m.noteExtensions(branchID, "renewAll", rec.Extensions)
	return rec, nil
}

// EndSession tells the ACS a patron's self-service session is over.
func (m *Manager) EndSession(ctx context.Context, branchID, patronBarcode string) (*sip2.EndSession, error) {
	request := map[string]any{
		"patronBarcode": patronBarcode,
	}
	res, err := m.execute(ctx, branchID, "endSession", request, func(ctx context.Context, c *sip2.Client) (any, error) {
		return c.EndSession(ctx, patronBarcode)
	})
	if err != nil {
		return nil, err
	}
	rec := res.(*sip2.EndSession)
	m.noteExtensions(branchID, "endSession", rec.Extensions)
	return rec, nil
}

// SCStatus exchanges a status round with the ACS and reports its
// capabilities.
func (m *Manager) SCStatus(ctx context.Context, branchID string) (*sip2.ACSStatus, error) {
	res, err := m.execute(ctx, branchID, "scStatus", map[string]any{}, func(ctx context.Context, c *sip2.Client) (any, error) {
		return c.SCStatus(ctx)
	})
	if err != nil {
		return nil, err
	}
	rec := res.(*sip2.ACSStatus)
	m.noteExtensions(branchID, "scStatus", rec.Extensions)
	return rec, nil
}

// BlockPatron flags a patron's card as blocked. The ACS sends no response,
// so success means the frame was written.
func (m *Manager) BlockPatron(ctx context.Context, branchID, patronBarcode, message string, cardRetained bool) error {
	request := map[string]any{
		"patronBarcode": patronBarcode,
		"message":       message,
		"cardRetained":  cardRetained,
	}
	_, err := m.execute(ctx, branchID, "blockPatron", request, func(ctx context.Context, c *sip2.Client) (any, error) {
		return nil, c.BlockPatron(ctx, patronBarcode, message, cardRetained)
	})
	return err
}

// ItemStatusUpdate rewrites an item's security marker.
func (m *Manager) ItemStatusUpdate(ctx context.Context, branchID, itemBarcode, securityMarker string) (*sip2.ItemStatusUpdate, error) {
	request := map[string]any{
		"itemBarcode":    itemBarcode,
		"securityMarker": securityMarker,
	}
	res, err := m.execute(ctx, branchID, "itemStatusUpdate", request, func(ctx context.Context, c *sip2.Client) (any, error) {
		return c.ItemStatusUpdate(ctx, itemBarcode, securityMarker)
	})
	if err != nil {
		return nil, err
	}
	rec := res.(*sip2.ItemStatusUpdate)
	m.noteExtensions(branchID, "itemStatusUpdate", rec.Extensions)
	return rec, nil
}

// PatronEnable lifts the blocks a Block Patron set. The response mirrors
// the patron status layout.
func (m *Manager) PatronEnable(ctx context.Context, branchID, patronBarcode, patronPin string) (*sip2.PatronStatus, error) {
	request := map[string]any{
		"patronBarcode": patronBarcode,
		"patronPin":     patronPin,
	}
	res, err := m.execute(ctx, branchID, "patronEnable", request, func(ctx context.Context, c *sip2.Client) (any, error) {
		return c.PatronEnable(ctx, patronBarcode, patronPin)
	})
	if err != nil {
		return nil, err
	}
	rec := res.(*sip2.PatronStatus)
	m.noteExtensions(branchID, "patronEnable", rec.Extensions)
	return rec, nil
}
