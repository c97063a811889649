// Package qr renders the printable verification code for a receipt.
// The verification URL is keyed by the authority identifier when the
// receipt is confirmed, otherwise by the offline protection code, so
// generation never depends on the authority round trip.
package qr

import (
	"fmt"
	"net/url"

	"github.com/skip2/go-qrcode"

	"fiskal/internal/fiscal/models"
	dErrors "fiskal/pkg/domain-errors"
)

// minImageSize is the smallest raster that stays scannable on 58mm thermal
// paper at 203 dpi.
const minImageSize = 256

// dateTokenLayout is the compact datetime token the verification portal
// expects.
const dateTokenLayout = "20060102_1504"

// Generator renders verification QR codes.
type Generator struct {
	baseURL string
	size    int
}

// New constructs a Generator for the given verification portal base URL.
func New(baseURL string) *Generator {
	return &Generator{baseURL: baseURL, size: minImageSize}
}

// VerificationURL builds the portal URL for a receipt using whichever
// identifier is available. Confirmed receipts verify by authority
// identifier; everything else verifies by protection code.
func (g *Generator) VerificationURL(r *models.FiscalReceipt) (string, error) {
	q := url.Values{}
	switch {
	case r.Confirmed():
		q.Set("jir", r.AuthorityID)
	case r.ProtectionCode != "":
		q.Set("zki", r.ProtectionCode)
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "receipt has neither authority identifier nor protection code")
	}
	q.Set("datv", r.IssuedAt.Format(dateTokenLayout))
	q.Set("izn", fmt.Sprintf("%d", r.Total.Shift(2).IntPart()))
	return g.baseURL + "?" + q.Encode(), nil
}

// Generate renders the verification URL as a PNG QR image.
func (g *Generator) Generate(r *models.FiscalReceipt) ([]byte, error) {
	u, err := g.VerificationURL(r)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(u, qrcode.Medium, g.size)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "render verification code")
	}
	return png, nil
}
