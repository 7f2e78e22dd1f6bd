package wsaa

import (
	"context"
	"encoding/base64"

	"github.com/alapierre/go-afip-client/afip"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "afip.wsaa")

// SignedEnvelope is the base64 CMS ready for loginCms, with the request it was built from.
type SignedEnvelope struct {
	Cuit    string
	CMS     string
	Request TicketRequest
}

// TicketSigner builds a fresh TRA for every call and signs it.
type TicketSigner struct {
	signer  Signer
	clock   clockwork.Clock
	service string
}

type TicketOption func(*TicketSigner)

func WithClock(c clockwork.Clock) TicketOption {
	return func(t *TicketSigner) { t.clock = c }
}

// WithService requests a ticket for a service other than wsfe.
func WithService(service string) TicketOption {
	return func(t *TicketSigner) { t.service = service }
}

func NewTicketSigner(signer Signer, opts ...TicketOption) *TicketSigner {
	t := &TicketSigner{
		signer:  signer,
		clock:   clockwork.NewRealClock(),
		service: ServiceInvoicing,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Sign returns a SignedEnvelope or a SigningFailure. It never returns a partial envelope.
func (t *TicketSigner) Sign(ctx context.Context, id afip.Identity) (*SignedEnvelope, error) {
	tra := NewTicketRequest(t.clock.Now(), t.service)

	doc, err := tra.MarshalXML()
	if err != nil {
		return nil, afip.SigningFailure(err, "build TRA: "+err.Error())
	}

	der, err := t.signer.Sign(ctx, id, doc)
	if err != nil {
		var ae *afip.Error
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, afip.SigningFailure(err, err.Error())
	}
	if len(der) == 0 {
		return nil, afip.SigningFailure(nil, "signer returned an empty CMS envelope")
	}

	afip.Logger(ctx, logger).WithFields(logrus.Fields{
		"unique_id": tra.UniqueID,
		"expires":   tra.ExpiresAt.Format(TimeLayout),
		"cms_len":   len(der),
	}).Debug("TRA signed")

	return &SignedEnvelope{
		Cuit:    id.Cuit,
		CMS:     base64.StdEncoding.EncodeToString(der),
		Request: tra,
	}, nil
}
