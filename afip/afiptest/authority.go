// Package afiptest runs an in-process stand-in for the authentication and
// invoicing services, answering with the same SOAP shapes as the real ones.
package afiptest

import (
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/alapierre/go-afip-client/afip"
	"github.com/alapierre/go-afip-client/afip/soap"
	"github.com/beevik/etree"
	"go.mozilla.org/pkcs7"
)

// Authority is safe for concurrent use; lock-protected fields may be changed between calls
// through the setter methods.
type Authority struct {
	WSAA *httptest.Server
	WSFE *httptest.Server

	mu sync.Mutex

	Token string
	Sign  string

	loginFault  string
	numberFault string
	submitFault string
	tokenError  bool

	last map[afip.SequenceKey]int64

	cae          string
	caeExpiry    string
	observations []afip.Observation

	// Tickets holds the TRA documents extracted from verified CMS envelopes.
	Tickets []*etree.Document
	// Invoices holds every FECAEDetRequest received.
	Invoices []*etree.Element
	calls    []string
}

func New(t testing.TB) *Authority {
	t.Helper()
	a := &Authority{
		Token:     "PD94bWwgdmVyc2lvbj0iMS4wIj8+dG9rZW4=",
		Sign:      "c2lnbg==",
		last:      make(map[afip.SequenceKey]int64),
		cae:       "71123456789012",
		caeExpiry: "20250115",
	}
	a.WSAA = httptest.NewServer(http.HandlerFunc(a.serveLogin))
	a.WSFE = httptest.NewServer(http.HandlerFunc(a.serveInvoicing))
	t.Cleanup(func() {
		a.WSAA.Close()
		a.WSFE.Close()
	})
	return a
}

func (a *Authority) SetLast(key afip.SequenceKey, n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last[key] = n
}

func (a *Authority) Last(key afip.SequenceKey) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last[key]
}

// SetApproval sets the CAE handed out for approved invoices. An empty cae makes every
// submission a business rejection carrying obs.
func (a *Authority) SetApproval(cae, expiry string, obs ...afip.Observation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cae, a.caeExpiry, a.observations = cae, expiry, obs
}

func (a *Authority) SetLoginFault(msg string)  { a.set(&a.loginFault, msg) }
func (a *Authority) SetNumberFault(msg string) { a.set(&a.numberFault, msg) }
func (a *Authority) SetSubmitFault(msg string) { a.set(&a.submitFault, msg) }

// RejectTokens makes every invoicing call answer with an Errors block (code 600).
func (a *Authority) RejectTokens() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokenError = true
}

func (a *Authority) set(field *string, v string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	*field = v
}

// Calls lists the operations received, in order.
func (a *Authority) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *Authority) record(op string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, op)
}

func (a *Authority) serveLogin(w http.ResponseWriter, r *http.Request) {
	a.record("loginCms")

	doc, err := readEnvelope(r)
	if err != nil {
		writeFault(w, "soapenv:Server", err.Error())
		return
	}
	in0 := soap.Text(doc.Root(), "Body/loginCms/in0")
	der, err := base64.StdEncoding.DecodeString(in0)
	if err != nil || strings.ContainsAny(in0, "\r\n") {
		writeFault(w, "ns1:cms.bad.base64", "No se ha podido interpretar el Base64")
		return
	}
	p7, err := pkcs7.Parse(der)
	if err != nil || p7.Verify() != nil {
		writeFault(w, "ns1:cms.bad", "El CMS no es valido")
		return
	}
	tra := etree.NewDocument()
	if err := tra.ReadFromBytes(p7.Content); err != nil {
		writeFault(w, "ns1:xml.bad", "El TRA no es valido")
		return
	}

	a.mu.Lock()
	a.Tickets = append(a.Tickets, tra)
	fault, token, sign := a.loginFault, a.Token, a.Sign
	a.mu.Unlock()

	if fault != "" {
		writeFault(w, "ns1:coe.notAuthorized", fault)
		return
	}

	ticket := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<loginTicketResponse version="1.0">
    <header>
        <source>CN=wsaahomo, O=AFIP, C=AR, SERIALNUMBER=CUIT 33693450239</source>
        <destination>SERIALNUMBER=CUIT 27239676931, CN=facturacion</destination>
        <uniqueId>%s</uniqueId>
        <generationTime>%s</generationTime>
        <expirationTime>2099-01-01T00:00:00.000-03:00</expirationTime>
    </header>
    <credentials>
        <token>%s</token>
        <sign>%s</sign>
    </credentials>
</loginTicketResponse>`,
		soap.Text(tra.Root(), "header/uniqueId"),
		soap.Text(tra.Root(), "header/generationTime"),
		token, sign)

	writeEnvelope(w, fmt.Sprintf(`<loginCmsResponse xmlns="http://wsaa.view.sua.dvadac.desein.afip.gov"><loginCmsReturn>%s</loginCmsReturn></loginCmsResponse>`,
		html.EscapeString(ticket)))
}

func (a *Authority) serveInvoicing(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(r.Header.Get("SOAPAction"), `"`)
	op := action[strings.LastIndex(action, "/")+1:]
	a.record(op)
	if op == "" {
		writeFault(w, "soap:Client", "missing SOAPAction")
		return
	}

	doc, err := readEnvelope(r)
	if err != nil {
		writeFault(w, "soap:Client", err.Error())
		return
	}
	req := doc.Root().FindElement("Body/" + op)
	if req == nil {
		writeFault(w, "soap:Client", "Server did not recognize the value of HTTP Header SOAPAction: "+action)
		return
	}

	if op == "FEDummy" {
		writeEnvelope(w, `<FEDummyResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FEDummyResult><AppServer>OK</AppServer><DbServer>OK</DbServer><AuthServer>OK</AuthServer></FEDummyResult></FEDummyResponse>`)
		return
	}

	a.mu.Lock()
	tokenOK := !a.tokenError &&
		soap.Text(req, "Auth/Token") == a.Token &&
		soap.Text(req, "Auth/Sign") == a.Sign &&
		soap.Text(req, "Auth/Cuit") != ""
	a.mu.Unlock()

	switch op {
	case "FECompUltimoAutorizado":
		a.lastAuthorized(w, req, tokenOK)
	case "FECAESolicitar":
		a.requestCAE(w, req, tokenOK)
	default:
		writeFault(w, "soap:Client", "unknown operation "+op)
	}
}

const tokenErr = `<Errors><Err><Code>600</Code><Msg>ValidacionDeToken: No aparecio CUIT en lista de relaciones: 27239676931</Msg></Err></Errors>`

func (a *Authority) lastAuthorized(w http.ResponseWriter, req *etree.Element, tokenOK bool) {
	a.mu.Lock()
	fault := a.numberFault
	a.mu.Unlock()
	if fault != "" {
		writeFault(w, "soap:Server", fault)
		return
	}
	if !tokenOK {
		writeEnvelope(w, `<FECompUltimoAutorizadoResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECompUltimoAutorizadoResult><PtoVta>0</PtoVta><CbteTipo>0</CbteTipo><CbteNro>0</CbteNro>`+tokenErr+`</FECompUltimoAutorizadoResult></FECompUltimoAutorizadoResponse>`)
		return
	}

	key := afip.SequenceKey{PointOfSale: atoi(soap.Text(req, "PtoVta")), InvoiceType: atoi(soap.Text(req, "CbteTipo"))}
	writeEnvelope(w, fmt.Sprintf(`<FECompUltimoAutorizadoResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECompUltimoAutorizadoResult><PtoVta>%d</PtoVta><CbteTipo>%d</CbteTipo><CbteNro>%d</CbteNro></FECompUltimoAutorizadoResult></FECompUltimoAutorizadoResponse>`,
		key.PointOfSale, key.InvoiceType, a.Last(key)))
}

func (a *Authority) requestCAE(w http.ResponseWriter, req *etree.Element, tokenOK bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.submitFault != "" {
		writeFault(w, "soap:Server", a.submitFault)
		return
	}
	if !tokenOK {
		writeEnvelope(w, `<FECAESolicitarResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECAESolicitarResult>`+tokenErr+`</FECAESolicitarResult></FECAESolicitarResponse>`)
		return
	}

	key := afip.SequenceKey{
		PointOfSale: atoi(soap.Text(req, "FeCAEReq/FeCabReq/PtoVta")),
		InvoiceType: atoi(soap.Text(req, "FeCAEReq/FeCabReq/CbteTipo")),
	}
	det := req.FindElement("FeCAEReq/FeDetReq/FECAEDetRequest")
	if det == nil {
		writeFault(w, "soap:Client", "FeDetReq is empty")
		return
	}
	a.Invoices = append(a.Invoices, det.Copy())

	from := int64(atoi(soap.Text(det, "CbteDesde")))
	to := int64(atoi(soap.Text(det, "CbteHasta")))

	cae, expiry, obs := a.cae, a.caeExpiry, a.observations
	if from != a.last[key]+1 || to != from {
		cae, expiry = "", ""
		obs = []afip.Observation{{Code: 10016, Message: "El numero o fecha del comprobante no se corresponde con el proximo a autorizar. Consultar metodo FECompUltimoAutorizado."}}
	}

	result := "A"
	if cae == "" {
		result = "R"
	} else {
		a.last[key] = to
	}

	var sb strings.Builder
	if len(obs) > 0 {
		sb.WriteString("<Observaciones>")
		for _, o := range obs {
			fmt.Fprintf(&sb, "<Obs><Code>%d</Code><Msg>%s</Msg></Obs>", o.Code, html.EscapeString(o.Message))
		}
		sb.WriteString("</Observaciones>")
	}

	writeEnvelope(w, fmt.Sprintf(`<FECAESolicitarResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECAESolicitarResult>
<FeCabResp><Cuit>%s</Cuit><PtoVta>%d</PtoVta><CbteTipo>%d</CbteTipo><FchProceso>20250115120000</FchProceso><CantReg>1</CantReg><Resultado>%s</Resultado><Reproceso>N</Reproceso></FeCabResp>
<FeDetResp><FECAEDetResponse><Concepto>1</Concepto><DocTipo>80</DocTipo><DocNro>%s</DocNro><CbteDesde>%d</CbteDesde><CbteHasta>%d</CbteHasta><CbteFch>%s</CbteFch><Resultado>%s</Resultado>%s<CAE>%s</CAE><CAEFchVto>%s</CAEFchVto></FECAEDetResponse></FeDetResp>
</FECAESolicitarResult></FECAESolicitarResponse>`,
		soap.Text(req, "Auth/Cuit"), key.PointOfSale, key.InvoiceType, result,
		soap.Text(det, "DocNro"), from, to, soap.Text(det, "CbteFch"), result, sb.String(), cae, expiry))
}

func readEnvelope(r *http.Request) (*etree.Document, error) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(b); err != nil {
		return nil, err
	}
	if doc.Root() == nil || doc.Root().Tag != "Envelope" {
		return nil, fmt.Errorf("not a SOAP envelope")
	}
	return doc, nil
}

func writeEnvelope(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?><soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>`+body+`</soap:Body></soap:Envelope>`)
}

func writeFault(w http.ResponseWriter, code, msg string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body><soapenv:Fault><faultcode xmlns:ns1="http://xml.apache.org/axis/">%s</faultcode><faultstring>%s</faultstring><detail/></soapenv:Fault></soapenv:Body></soapenv:Envelope>`,
		html.EscapeString(code), html.EscapeString(msg))
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
