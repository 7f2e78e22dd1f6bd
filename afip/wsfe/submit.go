package wsfe

import (
	"context"
	"strconv"

	"github.com/alapierre/go-afip-client/afip"
	"github.com/alapierre/go-afip-client/afip/soap"
	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DateLayout is the authority's YYYYMMDD date format.
const DateLayout = "20060102"

// Submit requests a CAE for a single-document batch. An empty CAE in the first detail
// response is a business rejection (InvoiceRejected), never a protocol error.
func (c *Client) Submit(ctx context.Context, in afip.InvoiceRequest, cred afip.Credential) (*afip.InvoiceResult, error) {
	if err := c.checkCredential(ctx, cred); err != nil {
		return nil, err
	}

	in = in.WithDefaults()
	if in.DocumentDate.IsZero() {
		in.DocumentDate = c.clock.Now()
	}
	in.DocumentDate = in.DocumentDate.In(c.loc)

	req := request(opRequestCAE, cred)
	buildCAERequest(req, in)

	log := afip.Logger(ctx, logger).WithFields(logrus.Fields{
		"key":    in.Key.String(),
		"number": in.Number,
	})

	res, err := c.raw.Call(ctx, Namespace+opRequestCAE, req)
	if err != nil {
		// the invoice may or may not have reached the authority
		log.Warnf("FECAESolicitar transport failure: %v", err)
		return nil, afip.SubmissionFailed(err, err.Error())
	}

	switch v := res.(type) {
	case *soap.Body:
		return parseCAEResponse(result(v, opRequestCAE), in, cred.Cuit, log)
	case *soap.Fault:
		return nil, afip.SubmissionFailed(v, v.String)
	default:
		return nil, afip.SubmissionFailed(nil, "nieoczekiwany wariant odpowiedzi")
	}
}

func buildCAERequest(req *etree.Element, in afip.InvoiceRequest) {
	number := strconv.FormatInt(in.Number, 10)

	fe := req.CreateElement("ar:FeCAEReq")
	cab := fe.CreateElement("ar:FeCabReq")
	soap.Add(cab, "ar:CantReg", "1")
	soap.Add(cab, "ar:PtoVta", strconv.Itoa(in.Key.PointOfSale))
	soap.Add(cab, "ar:CbteTipo", strconv.Itoa(in.Key.InvoiceType))

	det := fe.CreateElement("ar:FeDetReq").CreateElement("ar:FECAEDetRequest")
	soap.Add(det, "ar:Concepto", strconv.Itoa(afip.ConceptGoods))
	soap.Add(det, "ar:DocTipo", strconv.Itoa(afip.DocTypeCuit))
	soap.Add(det, "ar:DocNro", in.ReceiverCuit)
	soap.Add(det, "ar:CbteDesde", number)
	soap.Add(det, "ar:CbteHasta", number)
	soap.Add(det, "ar:CbteFch", in.DocumentDate.Format(DateLayout))
	soap.Add(det, "ar:ImpTotal", amount(in.Total))
	soap.Add(det, "ar:ImpTotConc", amount(decimal.Zero))
	soap.Add(det, "ar:ImpNeto", amount(in.Net))
	soap.Add(det, "ar:ImpOpEx", amount(decimal.Zero))
	soap.Add(det, "ar:ImpTrib", amount(decimal.Zero))
	soap.Add(det, "ar:ImpIVA", amount(in.VAT))
	soap.Add(det, "ar:MonId", in.Currency)
	soap.Add(det, "ar:MonCotiz", in.CurrencyRate.String())
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func parseCAEResponse(r *etree.Element, in afip.InvoiceRequest, issuer string, log *logrus.Entry) (*afip.InvoiceResult, error) {
	if r == nil {
		return nil, afip.SubmissionFailed(nil, "response without "+opRequestCAE+"Result")
	}

	det := r.FindElement("FeDetResp/FECAEDetResponse")
	errs := serviceErrors(r)
	if det == nil {
		if len(errs) > 0 {
			return nil, afip.SubmissionFailed(nil, joinObservations(errs))
		}
		return nil, afip.SubmissionFailed(nil, "response without FECAEDetResponse")
	}

	cae := soap.Text(det, "CAE")
	if cae == "" {
		obs := observations(det, "Observaciones/Obs")
		if len(obs) == 0 {
			obs = errs
		}
		log.WithField("resultado", soap.Text(det, "Resultado")).Warnf("invoice rejected: %s", joinObservations(obs))
		return nil, afip.InvoiceRejected(obs)
	}

	out := &afip.InvoiceResult{
		Issuer:              issuer,
		Key:                 in.Key,
		Number:              in.Number,
		AuthorizationCode:   cae,
		AuthorizationExpiry: soap.Text(det, "CAEFchVto"),
		DocumentDate:        in.DocumentDate,
		ReceiverCuit:        in.ReceiverCuit,
		Total:               in.Total,
		Currency:            in.Currency,
		CurrencyRate:        in.CurrencyRate,
		Observations:        observations(det, "Observaciones/Obs"),
	}
	if n, err := soap.Int(det, "CbteDesde"); err == nil && n != in.Number {
		log.Warnf("authority approved number %d, requested %d", n, in.Number)
		out.Number = n
	}

	log.WithField("cae", cae).Info("invoice authorized")
	return out, nil
}
