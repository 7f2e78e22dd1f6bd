// Package soap is the RPC channel used to talk to the authority's web services.
// A call ends in exactly one of three ways: a *Body, a *Fault or a *TransportError.
package soap

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/alapierre/go-afip-client/afip/util"
	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "afip.soap")

const EnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

// Response is either *Body or *Fault.
type Response interface {
	soapResponse()
}

// Body holds the first element inside soap:Body.
type Body struct {
	Payload    *etree.Element
	StatusCode int
}

// Fault is an explicit rejection by the remote service.
type Fault struct {
	Code   string
	String string
	Detail string
}

func (*Body) soapResponse()  {}
func (*Fault) soapResponse() {}

func (f *Fault) Error() string {
	if f.Code == "" {
		return f.String
	}
	return f.Code + ": " + f.String
}

// TransportError covers network failures, timeouts and anything that is not a SOAP message.
type TransportError struct {
	Action     string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return e.Action + ": http status " + http.StatusText(e.StatusCode) + ": " + e.Err.Error()
	}
	return e.Action + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

type Client struct {
	rest     *resty.Client
	endpoint string
}

type Option func(*Client)

// WithHTTPClient reuses an existing *http.Client (timeouts, proxies, TLS).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.rest = resty.NewWithClient(hc) }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.rest.SetTimeout(d) }
}

func New(endpoint string, opts ...Option) *Client {
	c := &Client{rest: resty.New(), endpoint: endpoint}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Call wraps payload in an envelope and posts it. The returned error, if any,
// is always a *TransportError; protocol faults come back as *Fault.
func (c *Client) Call(ctx context.Context, action string, payload *etree.Element) (Response, error) {
	name := actionName(action, payload)

	body, err := Envelope(payload)
	if err != nil {
		return nil, &TransportError{Action: name, Err: errors.Wrap(err, "build envelope")}
	}

	r := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/xml; charset=utf-8").
		SetHeader("SOAPAction", `"`+action+`"`).
		SetBody(body)
	if util.HttpTraceEnabled() {
		r.EnableTrace()
	}

	resp, err := r.Post(c.endpoint)
	if err != nil {
		return nil, &TransportError{Action: name, Err: err}
	}
	printTraceInfo(name, c, resp)

	res, perr := Parse(resp.Body())
	if perr != nil {
		st := 0
		if resp.IsError() {
			st = resp.StatusCode()
		}
		return nil, &TransportError{Action: name, StatusCode: st, Err: perr}
	}

	switch v := res.(type) {
	case *Fault:
		logger.Debugf("%s: fault %q", name, v.String)
		return v, nil
	case *Body:
		// SOAP 1.1 faults travel with 500; anything else non-2xx is not a valid answer.
		if resp.IsError() {
			return nil, &TransportError{Action: name, StatusCode: resp.StatusCode(), Err: errors.New("unexpected body in error response")}
		}
		v.StatusCode = resp.StatusCode()
		return v, nil
	default:
		return nil, &TransportError{Action: name, Err: errors.Errorf("nieoczekiwany wariant odpowiedzi: %T", v)}
	}
}

// Envelope serializes payload inside a SOAP 1.1 envelope.
func Envelope(payload *etree.Element) ([]byte, error) {
	if payload == nil {
		return nil, errors.New("payload is nil")
	}
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", EnvelopeNS)
	env.CreateElement("soapenv:Header")
	body := env.CreateElement("soapenv:Body")
	body.AddChild(payload.Copy())
	return doc.WriteToBytes()
}

// Parse interprets a raw SOAP response.
func Parse(raw []byte) (Response, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, errors.New("empty response")
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, errors.Wrap(err, "malformed response")
	}
	env := doc.Root()
	if env == nil || env.Tag != "Envelope" {
		return nil, errors.New("malformed response: no SOAP envelope")
	}
	body := env.SelectElement("Body")
	if body == nil {
		return nil, errors.New("malformed response: no SOAP body")
	}

	if f := body.SelectElement("Fault"); f != nil {
		return &Fault{
			Code:   Text(f, "faultcode"),
			String: Text(f, "faultstring"),
			Detail: innerText(f.SelectElement("detail")),
		}, nil
	}

	children := body.ChildElements()
	if len(children) == 0 {
		return nil, errors.New("malformed response: empty SOAP body")
	}
	return &Body{Payload: children[0]}, nil
}

func actionName(action string, payload *etree.Element) string {
	if payload != nil && payload.Tag != "" {
		return payload.Tag
	}
	if i := strings.LastIndex(action, "/"); i >= 0 {
		return action[i+1:]
	}
	return action
}

func innerText(e *etree.Element) string {
	if e == nil {
		return ""
	}
	var parts []string
	if t := strings.TrimSpace(e.Text()); t != "" {
		parts = append(parts, t)
	}
	for _, c := range e.ChildElements() {
		if t := innerText(c); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func printTraceInfo(name string, c *Client, resp *resty.Response) {

	if !util.DebugEnabled() {
		return
	}

	entry := logger.WithFields(logrus.Fields{
		"action": name,
		"url":    c.endpoint,
		"status": resp.StatusCode(),
		"time":   resp.Time(),
	})
	if util.HttpTraceEnabled() {
		ti := resp.Request.TraceInfo()
		entry = entry.WithFields(logrus.Fields{
			"dns":     ti.DNSLookup,
			"conn":    ti.ConnTime,
			"tls":     ti.TLSHandshake,
			"server":  ti.ServerTime,
			"total":   ti.TotalTime,
			"reused":  ti.IsConnReused,
			"attempt": ti.RequestAttempt,
		})
	}
	entry.Debug("SOAP response")
}
