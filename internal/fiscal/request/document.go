package request

import "encoding/xml"

// Schema element names follow the national fiscalization schema
// (FiskalizacijaSchema.xsd); the namespace literal is the one the authority
// publishes for the receipt service.
const schemaNamespace = "http://www.apis-it.hr/fin/2012/types/f73"

// Document is the receipt request message sent to the authority.
type Document struct {
	XMLName xml.Name `xml:"RacunZahtjev"`
	Xmlns   string   `xml:"xmlns,attr"`
	ID      string   `xml:"Id,attr"`
	Header  Header   `xml:"Zaglavlje"`
	Receipt Receipt  `xml:"Racun"`
}

// Header carries per-message metadata; MessageID and SentAt change on every
// attempt, the receipt body does not.
type Header struct {
	MessageID string `xml:"IdPoruke"`
	SentAt    string `xml:"DatumVrijeme"`
}

// Receipt is the schema's receipt body.
type Receipt struct {
	TaxID              string       `xml:"Oib"`
	VATRegistered      bool         `xml:"USustPdv"`
	IssuedAt           string       `xml:"DatVrijeme"`
	SequenceScope      string       `xml:"OznSlijed"`
	Number             Number       `xml:"BrRac"`
	VAT                *TaxGroup    `xml:"Pdv,omitempty"`
	Fees               *FeeGroup    `xml:"Naknade,omitempty"`
	Total              string       `xml:"IznosUkupno"`
	PaymentMethod      string       `xml:"NacinPlac"`
	OperatorTaxID      string       `xml:"OibOper,omitempty"`
	ProtectionCode     string       `xml:"ZastKod"`
	SubsequentDelivery bool         `xml:"NakDost"`
	WorkingHours       string       `xml:"RadnoVrijeme,omitempty"`
}

// Number identifies the receipt: per-device sequence, premise, device.
type Number struct {
	Sequence uint64 `xml:"BrOznRac"`
	Premise  string `xml:"OznPosPr"`
	Device   string `xml:"OznNapUr"`
}

// TaxGroup wraps the per-rate tax entries.
type TaxGroup struct {
	Taxes []Tax `xml:"Porez"`
}

// Tax is one rate group: rate, taxable base, computed tax amount. All three
// are fixed two-decimal strings; the authority re-validates the arithmetic.
type Tax struct {
	Rate   string `xml:"Stopa"`
	Base   string `xml:"Osnovica"`
	Amount string `xml:"Iznos"`
}

// FeeGroup wraps optional fee entries.
type FeeGroup struct {
	Fees []Fee `xml:"Naknada"`
}

// Fee is one named fee amount.
type Fee struct {
	Name   string `xml:"NazivN"`
	Amount string `xml:"IznosN"`
}

// Marshal renders the document as XML bytes.
func (d *Document) Marshal() ([]byte, error) {
	return xml.Marshal(d)
}
