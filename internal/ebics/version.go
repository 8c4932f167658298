// Package ebics implements the EBICS message layer (spec.md §4.3):
// constructing and parsing EBICS 2.5/3.0 request and response envelopes,
// XML-DSig authentication of the subtree marked authenticate="true", and
// the EBICS return-code vocabulary.
package ebics

// Version selects the EBICS protocol revision, which determines the
// envelope namespace and a handful of element names.
type Version string

const (
	H004 Version = "H004" // EBICS 2.5
	H005 Version = "H005" // EBICS 3.0
)

// Namespace returns the EBICS envelope namespace URI for v.
func (v Version) Namespace() string {
	switch v {
	case H005:
		return "urn:org:ebics:H005"
	default:
		return "urn:org:ebics:H004"
	}
}

const (
	dsNamespace = "http://www.w3.org/2000/09/xmldsig#"
	c14nAlgo    = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	rsaSha256   = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	sha256Algo  = "http://www.w3.org/2001/04/xmlenc#sha256"
)

// OrderType names the EBICS order types this gateway exchanges.
type OrderType string

const (
	OrderINI OrderType = "INI" // send signature public key
	OrderHIA OrderType = "HIA" // send authentication + encryption public keys
	OrderHPB OrderType = "HPB" // fetch bank public keys
	OrderCCT OrderType = "CCT" // upload: SEPA credit transfer (pain.001)
	OrderC52 OrderType = "C52" // download: intraday account report (camt.052)
	OrderC53 OrderType = "C53" // download: end-of-day statement (camt.053)
	OrderC54 OrderType = "C54" // download: debit notification (camt.054)
)
