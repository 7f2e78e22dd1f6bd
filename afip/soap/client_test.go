package soap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okBody = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <FECompUltimoAutorizadoResponse xmlns="http://ar.gov.afip.dif.FEV1/">
      <FECompUltimoAutorizadoResult>
        <PtoVta>1</PtoVta>
        <CbteTipo>11</CbteTipo>
        <CbteNro>41</CbteNro>
      </FECompUltimoAutorizadoResult>
    </FECompUltimoAutorizadoResponse>
  </soap:Body>
</soap:Envelope>`

const faultBody = `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>
    <soapenv:Fault>
      <faultcode xmlns:ns1="http://xml.apache.org/axis/">ns1:cms.cert.untrusted</faultcode>
      <faultstring>Certificado no emitido por AC de confianza</faultstring>
      <detail>
        <ns2:hostname xmlns:ns2="http://xml.apache.org/axis/">wsaahomo</ns2:hostname>
      </detail>
    </soapenv:Fault>
  </soapenv:Body>
</soapenv:Envelope>`

func payload() *etree.Element {
	p := etree.NewElement("ar:FECompUltimoAutorizado")
	p.CreateAttr("xmlns:ar", "http://ar.gov.afip.dif.FEV1/")
	Add(p, "ar:PtoVta", "1")
	return p
}

func TestCall_Body(t *testing.T) {
	var gotAction, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPAction")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	c := New(srv.URL, WithTimeout(5*time.Second))
	res, err := c.Call(context.Background(), "http://ar.gov.afip.dif.FEV1/FECompUltimoAutorizado", payload())
	require.NoError(t, err)

	body, ok := res.(*Body)
	require.True(t, ok, "expected *Body, got %T", res)
	assert.Equal(t, http.StatusOK, body.StatusCode)
	assert.Equal(t, "FECompUltimoAutorizadoResponse", body.Payload.Tag)

	n, err := Int(body.Payload, "FECompUltimoAutorizadoResult/CbteNro")
	require.NoError(t, err)
	assert.Equal(t, int64(41), n)

	assert.Equal(t, `"http://ar.gov.afip.dif.FEV1/FECompUltimoAutorizado"`, gotAction)
	assert.Contains(t, gotType, "text/xml")

	sent := etree.NewDocument()
	require.NoError(t, sent.ReadFromBytes(gotBody))
	assert.Equal(t, "1", Text(sent.Root(), "Body/FECompUltimoAutorizado/PtoVta"))
}

func TestCall_FaultOn500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, faultBody)
	}))
	defer srv.Close()

	res, err := New(srv.URL).Call(context.Background(), "", payload())
	require.NoError(t, err)

	f, ok := res.(*Fault)
	require.True(t, ok, "expected *Fault, got %T", res)
	assert.Equal(t, "Certificado no emitido por AC de confianza", f.String)
	assert.Equal(t, "ns1:cms.cert.untrusted", f.Code)
	assert.Equal(t, "wsaahomo", f.Detail)
}

func TestCall_TransportErrors(t *testing.T) {
	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html><body>Bad gateway</body></html>")
	}))
	defer html.Close()

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer empty.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	downURL := down.URL
	down.Close()

	for name, url := range map[string]string{"html": html.URL, "empty": empty.URL, "down": downURL} {
		t.Run(name, func(t *testing.T) {
			res, err := New(url).Call(context.Background(), "", payload())
			assert.Nil(t, res)
			var te *TransportError
			require.True(t, errors.As(err, &te), "expected *TransportError, got %v", err)
			assert.Equal(t, "ar:FECompUltimoAutorizado", te.Action)
		})
	}
}

func TestCall_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithTimeout(50*time.Millisecond)).Call(context.Background(), "", payload())
	var te *TransportError
	assert.True(t, errors.As(err, &te))
}

func TestEnvelope(t *testing.T) {
	b, err := Envelope(payload())
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(b))
	assert.Equal(t, "Envelope", doc.Root().Tag)
	assert.Equal(t, EnvelopeNS, doc.Root().SelectAttrValue("xmlns:soapenv", ""))
	assert.NotNil(t, doc.Root().SelectElement("Header"))

	_, err = Envelope(nil)
	assert.Error(t, err)
}

func TestParse_Malformed(t *testing.T) {
	for _, raw := range []string{"", "not xml", "<a><b/></a>", `<s:Envelope xmlns:s="x"/>`, `<s:Envelope xmlns:s="x"><s:Body/></s:Envelope>`} {
		_, err := Parse([]byte(raw))
		assert.Error(t, err, raw)
	}
}
