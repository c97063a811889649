// Package zki computes the offline protection code: a deterministic digest
// of a signature over canonical receipt fields. It performs no I/O, which
// is what keeps receipts legally printable while the authority is down.
package zki

import (
	"crypto"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fiskal/internal/fiscal/certstore"
	"fiskal/internal/fiscal/models"
	dErrors "fiskal/pkg/domain-errors"
)

// timestampLayout is the canonical receipt datetime format mandated for the
// protection code input.
const timestampLayout = "02.01.2006 15:04:05"

// CanonicalString concatenates the protection code input fields in the
// mandated order with no separators: tax ID, issuance datetime, sequence
// number, premise code, device code, total with two decimals.
func CanonicalString(taxID string, issuedAt time.Time, sequence uint64, premise, device string, total decimal.Decimal) string {
	return fmt.Sprintf("%s%s%d%s%s%s",
		taxID,
		issuedAt.Format(timestampLayout),
		sequence,
		premise,
		device,
		total.StringFixed(2),
	)
}

// Compute derives the protection code for a receipt: RSA-SHA1 signature of
// the canonical string, MD5 digest of the raw signature bytes, lowercase
// hex. Deterministic for fixed inputs; the only timestamp involved is the
// receipt's own issuance time.
func Compute(cred *certstore.SigningCredential, receipt *models.FiscalReceipt) (string, error) {
	if receipt == nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "receipt is required")
	}
	// Expiry gate before any cryptographic work.
	if err := certstore.RequireValidAt(cred, receipt.IssuedAt); err != nil {
		return "", err
	}

	canonical := CanonicalString(
		cred.TaxID(),
		receipt.IssuedAt,
		receipt.Sequence,
		receipt.PremiseCode,
		receipt.DeviceCode,
		receipt.Total,
	)

	digest := sha1.Sum([]byte(canonical))
	signature, err := cred.PrivateKey.Sign(rand.Reader, digest[:], crypto.SHA1)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeSigningFailed, "sign protection code input")
	}

	code := md5.Sum(signature)
	return hex.EncodeToString(code[:]), nil
}
