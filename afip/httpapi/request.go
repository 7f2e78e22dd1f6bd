package httpapi

import (
	"strconv"
	"strings"

	"github.com/alapierre/go-afip-client/afip/invoice"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// invoiceRequest is the body of POST /facturar. Every field may be sent as a
// JSON number or as a string holding one.
type invoiceRequest struct {
	CuitEmisor   string
	CuitReceptor string
	PuntoVenta   string
	TipoCbte     string
	Importe      string
}

func (r *invoiceRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var dst *string
		switch key {
		case "cuit_emisor":
			dst = &r.CuitEmisor
		case "cuit_receptor":
			dst = &r.CuitReceptor
		case "punto_venta":
			dst = &r.PuntoVenta
		case "tipo_cbte":
			dst = &r.TipoCbte
		case "importe":
			dst = &r.Importe
		default:
			return d.Skip()
		}
		v, err := scalar(d)
		if err != nil {
			return errors.Wrap(err, key)
		}
		*dst = v
		return nil
	})
}

// scalar reads a string or a number as text.
func scalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		return strings.TrimSpace(s), err
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return "", errors.Errorf("expected string or number, got %s", d.Next())
	}
}

func (r invoiceRequest) toWorkflow() (invoice.Request, error) {
	for name, v := range map[string]string{
		"cuit_emisor":   r.CuitEmisor,
		"cuit_receptor": r.CuitReceptor,
		"punto_venta":   r.PuntoVenta,
		"tipo_cbte":     r.TipoCbte,
		"importe":       r.Importe,
	} {
		if v == "" {
			return invoice.Request{}, errors.Errorf("missing field %s", name)
		}
	}

	pos, err := strconv.Atoi(r.PuntoVenta)
	if err != nil {
		return invoice.Request{}, errors.Wrap(err, "punto_venta")
	}
	typ, err := strconv.Atoi(r.TipoCbte)
	if err != nil {
		return invoice.Request{}, errors.Wrap(err, "tipo_cbte")
	}
	amount, err := decimal.NewFromString(r.Importe)
	if err != nil {
		return invoice.Request{}, errors.Wrap(err, "importe")
	}

	return invoice.Request{
		Cuit:         r.CuitEmisor,
		ReceiverCuit: r.CuitReceptor,
		PointOfSale:  pos,
		InvoiceType:  typ,
		Amount:       amount,
	}, nil
}
