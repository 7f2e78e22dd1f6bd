// Package qr builds the fiscal QR code printed on authorized invoices.
package qr

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alapierre/go-afip-client/afip"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
)

var logger = logrus.WithField("component", "afip.qr")

const (
	BaseURL = "https://www.afip.gob.ar/fe/qr/"
	Version = 1

	// AuthTypeCAE marks the authorization code as a CAE ("A" would be CAEA).
	AuthTypeCAE = "E"

	dateLayout = "2006-01-02"
)

// Payload is the JSON document carried, base64 encoded, in the "p" query parameter.
type Payload struct {
	Version       int
	Date          time.Time
	Cuit          int64
	PointOfSale   int
	InvoiceType   int
	Number        int64
	Total         decimal.Decimal
	Currency      string
	CurrencyRate  decimal.Decimal
	ReceiverDoc   int
	ReceiverCuit  int64
	AuthType      string
	Authorization int64
}

// FromResult builds the payload of an authorized invoice.
func FromResult(res *afip.InvoiceResult) (Payload, error) {
	if !res.Authorized() {
		return Payload{}, errors.New("invoice has no authorization code")
	}
	cuit, err := strconv.ParseInt(res.Issuer, 10, 64)
	if err != nil {
		return Payload{}, errors.Wrap(err, "issuer CUIT")
	}
	receiver, err := strconv.ParseInt(res.ReceiverCuit, 10, 64)
	if err != nil {
		return Payload{}, errors.Wrap(err, "receiver CUIT")
	}
	cae, err := strconv.ParseInt(res.AuthorizationCode, 10, 64)
	if err != nil {
		return Payload{}, errors.Wrap(err, "CAE")
	}

	p := Payload{
		Version:       Version,
		Date:          res.DocumentDate,
		Cuit:          cuit,
		PointOfSale:   res.Key.PointOfSale,
		InvoiceType:   res.Key.InvoiceType,
		Number:        res.Number,
		Total:         res.Total,
		Currency:      res.Currency,
		CurrencyRate:  res.CurrencyRate,
		ReceiverDoc:   afip.DocTypeCuit,
		ReceiverCuit:  receiver,
		AuthType:      AuthTypeCAE,
		Authorization: cae,
	}
	if p.Currency == "" {
		p.Currency = afip.CurrencyPesos
	}
	if p.CurrencyRate.IsZero() {
		p.CurrencyRate = decimal.NewFromInt(1)
	}
	return p, nil
}

// Encode writes the payload with the field names and order published by the authority.
func (p Payload) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("ver")
	e.Int(p.Version)
	e.FieldStart("fecha")
	e.Str(p.Date.Format(dateLayout))
	e.FieldStart("cuit")
	e.Int64(p.Cuit)
	e.FieldStart("ptoVta")
	e.Int(p.PointOfSale)
	e.FieldStart("tipoCmp")
	e.Int(p.InvoiceType)
	e.FieldStart("nroCmp")
	e.Int64(p.Number)
	e.FieldStart("importe")
	e.Num(jx.Num(p.Total.StringFixed(2)))
	e.FieldStart("moneda")
	e.Str(p.Currency)
	e.FieldStart("ctz")
	e.Num(jx.Num(p.CurrencyRate.String()))
	e.FieldStart("tipoDocRec")
	e.Int(p.ReceiverDoc)
	e.FieldStart("nroDocRec")
	e.Int64(p.ReceiverCuit)
	e.FieldStart("tipoCodAut")
	e.Str(p.AuthType)
	e.FieldStart("codAut")
	e.Int64(p.Authorization)
	e.ObjEnd()
}

func (p *Payload) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "ver":
			p.Version, err = d.Int()
		case "fecha":
			var s string
			if s, err = d.Str(); err == nil {
				p.Date, err = time.Parse(dateLayout, s)
			}
		case "cuit":
			p.Cuit, err = d.Int64()
		case "ptoVta":
			p.PointOfSale, err = d.Int()
		case "tipoCmp":
			p.InvoiceType, err = d.Int()
		case "nroCmp":
			p.Number, err = d.Int64()
		case "importe":
			p.Total, err = decodeDecimal(d)
		case "moneda":
			p.Currency, err = d.Str()
		case "ctz":
			p.CurrencyRate, err = decodeDecimal(d)
		case "tipoDocRec":
			p.ReceiverDoc, err = d.Int()
		case "nroDocRec":
			p.ReceiverCuit, err = d.Int64()
		case "tipoCodAut":
			p.AuthType, err = d.Str()
		case "codAut":
			p.Authorization, err = d.Int64()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(strings.Trim(n.String(), `"`))
}

// Link returns the verification URL for an authorized invoice.
func Link(res *afip.InvoiceResult) (string, error) {
	p, err := FromResult(res)
	if err != nil {
		return "", err
	}
	e := &jx.Encoder{}
	p.Encode(e)

	link := BaseURL + "?p=" + base64.StdEncoding.EncodeToString(e.Bytes())
	logger.WithField("number", p.Number).Debugf("QR link: %s", link)
	return link, nil
}

// ParseLink decodes the payload back from a verification URL.
func ParseLink(link string) (Payload, error) {
	u, err := url.Parse(link)
	if err != nil {
		return Payload{}, errors.Wrap(err, "parse link")
	}
	if !strings.HasPrefix(link, BaseURL) {
		return Payload{}, errors.Errorf("not a fiscal QR link: %s", u.Host)
	}
	// Query() would turn the '+' of standard base64 into spaces
	var enc string
	for _, kv := range strings.Split(u.RawQuery, "&") {
		if v, ok := strings.CutPrefix(kv, "p="); ok {
			enc, _ = url.PathUnescape(v)
		}
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return Payload{}, errors.Wrap(err, "decode payload")
	}
	var p Payload
	if err := p.Decode(jx.DecodeBytes(raw)); err != nil {
		return Payload{}, errors.Wrap(err, "payload")
	}
	return p, nil
}

// PNG renders content as a QR code image of size x size pixels.
func PNG(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = 300
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}
