package wsfe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alapierre/go-afip-client/afip"
	"github.com/alapierre/go-afip-client/afip/afiptest"
	"github.com/alapierre/go-afip-client/afip/soap"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now  = time.Date(2025, 1, 15, 2, 30, 0, 0, time.UTC) // still the 14th in Buenos Aires
	key  = afip.SequenceKey{PointOfSale: 1, InvoiceType: 11}
	cuit = "27239676931"
)

func credential(a *afiptest.Authority) afip.Credential {
	return afip.Credential{Token: a.Token, Sign: a.Sign, Cuit: cuit, ExpiresAt: now.Add(10 * time.Minute)}
}

func newClient(url string) *Client {
	return NewClient(url,
		WithClock(clockwork.NewFakeClockAt(now)),
		WithLocation(time.FixedZone("ART", -3*60*60)),
		WithTransport(soap.WithTimeout(5*time.Second)),
	)
}

func invoice(n int64) afip.InvoiceRequest {
	return afip.InvoiceRequest{
		Key:          key,
		Number:       n,
		ReceiverCuit: "20111111112",
		Total:        decimal.RequireFromString("1000.00"),
	}
}

func TestNextNumberThenSubmit(t *testing.T) {
	auth := afiptest.New(t)
	auth.SetLast(key, 41)
	c := newClient(auth.WSFE.URL)
	cred := credential(auth)

	next, err := c.NextNumber(context.Background(), key, cred)
	require.NoError(t, err)
	assert.Equal(t, int64(42), next)

	res, err := c.Submit(context.Background(), invoice(next), cred)
	require.NoError(t, err)
	assert.True(t, res.Authorized())
	assert.Equal(t, int64(42), res.Number)
	assert.Equal(t, "71123456789012", res.AuthorizationCode)
	assert.Equal(t, "20250115", res.AuthorizationExpiry)
	assert.Equal(t, cuit, res.Issuer)
	assert.Equal(t, int64(42), auth.Last(key))

	require.Len(t, auth.Invoices, 1)
	det := auth.Invoices[0]
	assert.Equal(t, "42", soap.Text(det, "CbteDesde"))
	assert.Equal(t, "42", soap.Text(det, "CbteHasta"))
	assert.Equal(t, "20250114", soap.Text(det, "CbteFch"))
	assert.Equal(t, "1000.00", soap.Text(det, "ImpTotal"))
	assert.Equal(t, "1000.00", soap.Text(det, "ImpNeto"))
	assert.Equal(t, "0.00", soap.Text(det, "ImpIVA"))
	assert.Equal(t, "0.00", soap.Text(det, "ImpTotConc"))
	assert.Equal(t, "80", soap.Text(det, "DocTipo"))
	assert.Equal(t, "20111111112", soap.Text(det, "DocNro"))
	assert.Equal(t, "PES", soap.Text(det, "MonId"))
	assert.Equal(t, "1", soap.Text(det, "MonCotiz"))
	assert.Equal(t, "1", soap.Text(det, "Concepto"))

	assert.Equal(t, []string{"FECompUltimoAutorizado", "FECAESolicitar"}, auth.Calls())
}

func TestSubmit_BusinessRejection(t *testing.T) {
	auth := afiptest.New(t)
	auth.SetApproval("", "", afip.Observation{Code: 10015, Message: "CUIT no autorizado"})

	res, err := newClient(auth.WSFE.URL).Submit(context.Background(), invoice(1), credential(auth))
	assert.Nil(t, res)
	require.ErrorIs(t, err, afip.ErrInvoiceRejected)

	var ae *afip.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, []afip.Observation{{Code: 10015, Message: "CUIT no autorizado"}}, ae.Observations)
	assert.Equal(t, "InvoiceRejected: 10015: CUIT no autorizado", err.Error())
}

func TestSubmit_RejectionWithoutObservations(t *testing.T) {
	auth := afiptest.New(t)
	auth.SetApproval("", "")

	_, err := newClient(auth.WSFE.URL).Submit(context.Background(), invoice(1), credential(auth))
	require.ErrorIs(t, err, afip.ErrInvoiceRejected)
	assert.Contains(t, err.Error(), afip.NoObservationsMessage)
}

func TestSubmit_WrongNumberIsRejected(t *testing.T) {
	auth := afiptest.New(t)
	auth.SetLast(key, 5)

	_, err := newClient(auth.WSFE.URL).Submit(context.Background(), invoice(5), credential(auth))
	require.ErrorIs(t, err, afip.ErrInvoiceRejected)
	assert.Equal(t, 10016, afipObservations(t, err)[0].Code)
	assert.Equal(t, int64(5), auth.Last(key))
}

func TestSubmit_Fault(t *testing.T) {
	auth := afiptest.New(t)
	auth.SetSubmitFault("Error interno de aplicacion")

	_, err := newClient(auth.WSFE.URL).Submit(context.Background(), invoice(1), credential(auth))
	require.ErrorIs(t, err, afip.ErrSubmissionFailed)
	assert.Contains(t, err.Error(), "Error interno de aplicacion")
}

func TestSubmit_ErrorsBlockWithoutDetail(t *testing.T) {
	auth := afiptest.New(t)
	auth.RejectTokens()

	_, err := newClient(auth.WSFE.URL).Submit(context.Background(), invoice(1), credential(auth))
	require.ErrorIs(t, err, afip.ErrSubmissionFailed)
	assert.Contains(t, err.Error(), "600: ValidacionDeToken")
}

func TestSubmit_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Submit(context.Background(), invoice(1), afip.Credential{Token: "t", Sign: "s", Cuit: cuit, ExpiresAt: now.Add(time.Minute)})
	require.ErrorIs(t, err, afip.ErrSubmissionFailed)

	var te *soap.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestNextNumber_Fault(t *testing.T) {
	auth := afiptest.New(t)
	auth.SetNumberFault("Server was unable to process request")

	_, err := newClient(auth.WSFE.URL).NextNumber(context.Background(), key, credential(auth))
	require.ErrorIs(t, err, afip.ErrSequenceQueryFailed)
	assert.Contains(t, err.Error(), "unable to process request")
}

func TestNextNumber_ErrorsBlock(t *testing.T) {
	auth := afiptest.New(t)
	auth.RejectTokens()

	_, err := newClient(auth.WSFE.URL).NextNumber(context.Background(), key, credential(auth))
	require.ErrorIs(t, err, afip.ErrSequenceQueryFailed)
	assert.Contains(t, err.Error(), "ValidacionDeToken")
}

func TestNextNumber_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(url).NextNumber(context.Background(), key, afip.Credential{Token: "t", Sign: "s", Cuit: cuit, ExpiresAt: now.Add(time.Minute)})
	assert.ErrorIs(t, err, afip.ErrAuthUnavailable)
}

func TestExpiredCredentialMakesNoCall(t *testing.T) {
	auth := afiptest.New(t)
	cred := credential(auth)
	cred.ExpiresAt = now.Add(-time.Second)
	c := newClient(auth.WSFE.URL)

	_, err := c.NextNumber(context.Background(), key, cred)
	require.ErrorIs(t, err, afip.ErrAuthUnavailable)
	assert.Contains(t, err.Error(), "expired")

	_, err = c.Submit(context.Background(), invoice(1), cred)
	require.ErrorIs(t, err, afip.ErrAuthUnavailable)

	_, err = c.Submit(context.Background(), invoice(1), afip.Credential{})
	require.ErrorIs(t, err, afip.ErrAuthUnavailable)

	assert.Empty(t, auth.Calls())
}

func TestStatus(t *testing.T) {
	auth := afiptest.New(t)

	st, err := newClient(auth.WSFE.URL).Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.OK())
	assert.Equal(t, "OK", st.DbServer)
}

func TestArgentinaTime(t *testing.T) {
	loc := ArgentinaTime()
	_, offset := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC).In(loc).Zone()
	assert.Equal(t, -3*60*60, offset)
}

func afipObservations(t *testing.T, err error) []afip.Observation {
	t.Helper()
	var ae *afip.Error
	require.ErrorAs(t, err, &ae)
	require.NotEmpty(t, ae.Observations)
	return ae.Observations
}
