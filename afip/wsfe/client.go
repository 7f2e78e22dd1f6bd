// Package wsfe talks to the electronic invoicing service (WSFEv1).
package wsfe

import (
	"context"
	"strings"
	"time"

	"github.com/alapierre/go-afip-client/afip"
	"github.com/alapierre/go-afip-client/afip/soap"
	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "afip.wsfe")

const Namespace = "http://ar.gov.afip.dif.FEV1/"

const (
	opLastAuthorized = "FECompUltimoAutorizado"
	opRequestCAE     = "FECAESolicitar"
	opDummy          = "FEDummy"
)

type Client struct {
	raw      *soap.Client
	clock    clockwork.Clock
	loc      *time.Location
	soapOpts []soap.Option
}

type Option func(*Client)

func WithClock(c clockwork.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithLocation sets the calendar used for document dates.
func WithLocation(loc *time.Location) Option {
	return func(cl *Client) { cl.loc = loc }
}

// WithTransport passes options to the underlying SOAP channel.
func WithTransport(opts ...soap.Option) Option {
	return func(cl *Client) { cl.soapOpts = append(cl.soapOpts, opts...) }
}

func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		clock: clockwork.NewRealClock(),
		loc:   ArgentinaTime(),
	}
	for _, o := range opts {
		o(c)
	}
	c.raw = soap.New(endpoint, c.soapOpts...)
	return c
}

// ArgentinaTime returns the authority's local zone, or a fixed UTC-3 when tzdata is missing.
func ArgentinaTime() *time.Location {
	loc, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	if err != nil {
		return time.FixedZone("ART", -3*60*60)
	}
	return loc
}

// request starts an operation element carrying the Auth block.
func request(op string, cred afip.Credential) *etree.Element {
	req := etree.NewElement("ar:" + op)
	req.CreateAttr("xmlns:ar", Namespace)
	auth := req.CreateElement("ar:Auth")
	soap.Add(auth, "ar:Token", cred.Token)
	soap.Add(auth, "ar:Sign", cred.Sign)
	soap.Add(auth, "ar:Cuit", cred.Cuit)
	return req
}

func (c *Client) checkCredential(ctx context.Context, cred afip.Credential) error {
	if cred.Valid(c.clock.Now()) {
		return nil
	}
	afip.Logger(ctx, logger).Warn("session credential expired or empty, not calling the service")
	if cred.ExpiresAt.IsZero() {
		return afip.AuthUnavailable(nil, "session credential is empty")
	}
	return afip.AuthUnavailable(nil, "session credential expired at "+cred.ExpiresAt.UTC().Format(time.RFC3339))
}

// result returns the <Op>Result element of a response body.
func result(body *soap.Body, op string) *etree.Element {
	if body == nil || body.Payload == nil {
		return nil
	}
	return body.Payload.FindElement(op + "Result")
}

// serviceErrors reads the Errors/Err list that WSFE returns in place of a SOAP fault.
func serviceErrors(res *etree.Element) []afip.Observation {
	return observations(res, "Errors/Err")
}

func observations(e *etree.Element, path string) []afip.Observation {
	if e == nil {
		return nil
	}
	var out []afip.Observation
	for _, o := range e.FindElements(path) {
		code, _ := soap.Int(o, "Code")
		out = append(out, afip.Observation{Code: int(code), Message: soap.Text(o, "Msg")})
	}
	return out
}

func joinObservations(obs []afip.Observation) string {
	msgs := make([]string, 0, len(obs))
	for _, o := range obs {
		msgs = append(msgs, o.String())
	}
	return strings.Join(msgs, "; ")
}
