package wsfe

import (
	"context"
	"strconv"

	"github.com/alapierre/go-afip-client/afip"
	"github.com/alapierre/go-afip-client/afip/soap"
	"github.com/sirupsen/logrus"
)

// LastAuthorized returns the last number the authority approved for key.
func (c *Client) LastAuthorized(ctx context.Context, key afip.SequenceKey, cred afip.Credential) (int64, error) {
	if err := c.checkCredential(ctx, cred); err != nil {
		return 0, err
	}

	req := request(opLastAuthorized, cred)
	soap.Add(req, "ar:PtoVta", strconv.Itoa(key.PointOfSale))
	soap.Add(req, "ar:CbteTipo", strconv.Itoa(key.InvoiceType))

	res, err := c.raw.Call(ctx, Namespace+opLastAuthorized, req)
	if err != nil {
		// the credential may be stale as well, caller decides
		return 0, afip.AuthUnavailable(err, err.Error())
	}

	switch v := res.(type) {
	case *soap.Body:
		r := result(v, opLastAuthorized)
		if r == nil {
			return 0, afip.SequenceQueryFailed("response without " + opLastAuthorized + "Result")
		}
		if errs := serviceErrors(r); len(errs) > 0 {
			return 0, afip.SequenceQueryFailed(joinObservations(errs))
		}
		last, err := soap.Int(r, "CbteNro")
		if err != nil {
			return 0, afip.SequenceQueryFailed(err.Error())
		}
		return last, nil

	case *soap.Fault:
		return 0, afip.SequenceQueryFailed(v.String)

	default:
		return 0, afip.SequenceQueryFailed("nieoczekiwany wariant odpowiedzi")
	}
}

// NextNumber is LastAuthorized + 1. Nothing is cached; every call asks the authority.
func (c *Client) NextNumber(ctx context.Context, key afip.SequenceKey, cred afip.Credential) (int64, error) {
	last, err := c.LastAuthorized(ctx, key, cred)
	if err != nil {
		return 0, err
	}
	afip.Logger(ctx, logger).WithFields(logrus.Fields{
		"key":  key.String(),
		"last": last,
	}).Debug("next invoice number")
	return last + 1, nil
}
