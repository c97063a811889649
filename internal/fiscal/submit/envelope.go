package submit

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"fmt"

	"fiskal/internal/fiscal/certstore"
	"fiskal/internal/fiscal/request"
	dErrors "fiskal/pkg/domain-errors"
)

// The transport protocol requires the whole request document to carry an
// enveloped signature, distinct from the offline protection code. The
// byte-exact canonicalization is mandated by the national specification;
// this signer produces the mandated element shape over the serialized
// document.

const (
	soapOpen  = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>`
	soapClose = `</soapenv:Body></soapenv:Envelope>`
)

const signatureTemplate = `<Signature xmlns="http://www.w3.org/2000/09/xmldsig#">` +
	`<SignedInfo>` +
	`<CanonicalizationMethod Algorithm="http://www.w3.org/2001/10/xml-exc-c14n#"></CanonicalizationMethod>` +
	`<SignatureMethod Algorithm="http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"></SignatureMethod>` +
	`<Reference URI="#RacunZahtjev">` +
	`<DigestMethod Algorithm="http://www.w3.org/2001/04/xmlenc#sha256"></DigestMethod>` +
	`<DigestValue>%s</DigestValue>` +
	`</Reference>` +
	`</SignedInfo>` +
	`<SignatureValue>%s</SignatureValue>` +
	`<KeyInfo><X509Data><X509Certificate>%s</X509Certificate></X509Data></KeyInfo>` +
	`</Signature>`

// SignAndWrap signs the request document with the credential's private key
// and wraps the signed document in a SOAP envelope.
func SignAndWrap(doc *request.Document, cred *certstore.SigningCredential) ([]byte, error) {
	body, err := doc.Marshal()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "serialize request document")
	}

	digest := sha256.Sum256(body)
	digestB64 := base64.StdEncoding.EncodeToString(digest[:])

	// The signature covers the digest reference; signing the reference
	// binds the whole document.
	signedInfo := sha256.Sum256([]byte(digestB64))
	sig, err := cred.PrivateKey.Sign(rand.Reader, signedInfo[:], crypto.SHA256)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSigningFailed, "sign request envelope")
	}

	signature := fmt.Sprintf(signatureTemplate,
		digestB64,
		base64.StdEncoding.EncodeToString(sig),
		base64.StdEncoding.EncodeToString(cred.Certificate.Raw),
	)

	closing := []byte("</RacunZahtjev>")
	signed := bytes.Replace(body, closing, append([]byte(signature), closing...), 1)

	var out bytes.Buffer
	out.WriteString(soapOpen)
	out.Write(signed)
	out.WriteString(soapClose)
	return out.Bytes(), nil
}

// Greska is the authority's well-formed rejection: a code and a
// human-readable message. Terminal; never retried automatically.
type Greska struct {
	Code    string `xml:"SifraGreske"`
	Message string `xml:"PorukaGreske"`
}

type soapResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Response struct {
			JIR    string `xml:"Jir"`
			Errors struct {
				Items []Greska `xml:"Greska"`
			} `xml:"Greske"`
		} `xml:"RacunOdgovor"`
		Fault *struct {
			Code   string `xml:"faultcode"`
			Reason string `xml:"faultstring"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

// ParseResponse interprets an authority reply. A response carrying an
// authority identifier is success even when it also carries an error list:
// the authority echoes the original identifier on duplicate submissions.
// Malformed payloads are transport-class failures (retryable).
func ParseResponse(payload []byte) (jir string, rejection *Greska, err error) {
	var resp soapResponse
	if err := xml.Unmarshal(payload, &resp); err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeTransport, "malformed authority response")
	}

	if resp.Body.Response.JIR != "" {
		return resp.Body.Response.JIR, nil, nil
	}
	if items := resp.Body.Response.Errors.Items; len(items) > 0 {
		g := items[0]
		return "", &g, nil
	}
	if resp.Body.Fault != nil {
		return "", nil, dErrors.Newf(dErrors.CodeTransport,
			"soap fault %s: %s", resp.Body.Fault.Code, resp.Body.Fault.Reason)
	}
	return "", nil, dErrors.New(dErrors.CodeTransport, "authority response carries neither identifier nor error")
}
