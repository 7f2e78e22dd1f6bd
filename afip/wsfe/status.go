package wsfe

import (
	"context"

	"github.com/alapierre/go-afip-client/afip/soap"
	"github.com/beevik/etree"
	"github.com/go-faster/errors"
)

// Status is the FEDummy health report of the invoicing service.
type Status struct {
	AppServer  string
	DbServer   string
	AuthServer string
}

func (s Status) OK() bool {
	return s.AppServer == "OK" && s.DbServer == "OK" && s.AuthServer == "OK"
}

// Status calls FEDummy. It needs no credential.
func (c *Client) Status(ctx context.Context) (Status, error) {
	req := etree.NewElement("ar:" + opDummy)
	req.CreateAttr("xmlns:ar", Namespace)

	res, err := c.raw.Call(ctx, Namespace+opDummy, req)
	if err != nil {
		return Status{}, err
	}

	switch v := res.(type) {
	case *soap.Body:
		r := result(v, opDummy)
		if r == nil {
			return Status{}, errors.New("response without FEDummyResult")
		}
		return Status{
			AppServer:  soap.Text(r, "AppServer"),
			DbServer:   soap.Text(r, "DbServer"),
			AuthServer: soap.Text(r, "AuthServer"),
		}, nil
	case *soap.Fault:
		return Status{}, v
	default:
		return Status{}, errors.Errorf("nieoczekiwany wariant odpowiedzi: %T", v)
	}
}
