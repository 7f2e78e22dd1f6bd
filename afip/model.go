package afip

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Identity binds a taxpayer (CUIT) to its signing certificate and private key.
type Identity struct {
	Cuit            string
	CertificatePath string
	KeyPath         string

	// KeyPassword is only needed for encrypted PKCS#8 keys.
	KeyPassword []byte
}

// Credential to token/sign wydany przez WSAA, ważny do ExpiresAt.
// Nie jest współdzielony pomiędzy wywołaniami workflow.
type Credential struct {
	Token     string
	Sign      string
	Cuit      string
	ExpiresAt time.Time
}

// Valid reports whether the credential can still be presented at now.
// A zero expiry is never valid.
func (c Credential) Valid(now time.Time) bool {
	if c.Token == "" || c.Sign == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return now.UTC().Before(c.ExpiresAt.UTC())
}

// SequenceKey identifies one counter kept by the authority.
type SequenceKey struct {
	PointOfSale int
	InvoiceType int
}

func (k SequenceKey) String() string {
	return fmt.Sprintf("%05d-%03d", k.PointOfSale, k.InvoiceType)
}

const (
	CurrencyPesos = "PES"
	DocTypeCuit   = 80
	ConceptGoods  = 1
)

// InvoiceRequest is one single-document batch. Number is both CbteDesde and CbteHasta.
type InvoiceRequest struct {
	Key          SequenceKey
	Number       int64
	ReceiverCuit string
	Total        decimal.Decimal
	Net          decimal.Decimal
	VAT          decimal.Decimal
	Currency     string
	CurrencyRate decimal.Decimal
	DocumentDate time.Time
}

// WithDefaults fills currency, rate, net and VAT for a plain type C invoice:
// pesos at 1.0, net equal to total and no VAT.
func (r InvoiceRequest) WithDefaults() InvoiceRequest {
	if r.Currency == "" {
		r.Currency = CurrencyPesos
	}
	if r.CurrencyRate.IsZero() {
		r.CurrencyRate = decimal.NewFromInt(1)
	}
	if r.Net.IsZero() && r.VAT.IsZero() {
		r.Net = r.Total
	}
	return r
}

// Observation is a (code, message) pair reported by the authority.
type Observation struct {
	Code    int
	Message string
}

func (o Observation) String() string {
	if o.Code == 0 {
		return o.Message
	}
	return fmt.Sprintf("%d: %s", o.Code, o.Message)
}

// InvoiceResult is success-shaped only when AuthorizationCode is non-empty.
type InvoiceResult struct {
	Issuer            string
	Key               SequenceKey
	Number            int64
	AuthorizationCode string
	// AuthorizationExpiry as sent by the authority (YYYYMMDD).
	AuthorizationExpiry string
	DocumentDate        time.Time
	ReceiverCuit        string
	Total               decimal.Decimal
	Currency            string
	CurrencyRate        decimal.Decimal
	Observations        []Observation
}

func (r *InvoiceResult) Authorized() bool {
	return r != nil && r.AuthorizationCode != ""
}
