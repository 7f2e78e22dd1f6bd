package wsaa

import (
	"context"
	"time"

	"github.com/alapierre/go-afip-client/afip"
	"github.com/alapierre/go-afip-client/afip/soap"
	"github.com/beevik/etree"
	"github.com/go-faster/errors"
)

const loginNS = "http://wsaa.view.sua.dvadac.desein.afip.gov"

// Client exchanges signed tickets for session credentials (loginCms).
type Client struct {
	raw *soap.Client
}

func NewClient(endpoint string, opts ...soap.Option) *Client {
	return &Client{raw: soap.New(endpoint, opts...)}
}

// Authenticate calls loginCms with the envelope as its only argument.
// Faults map to AuthRejected, everything that is not a usable answer to AuthUnavailable.
func (c *Client) Authenticate(ctx context.Context, env *SignedEnvelope) (afip.Credential, error) {
	if env == nil || env.CMS == "" {
		return afip.Credential{}, afip.AuthUnavailable(nil, "no signed envelope to present")
	}

	req := etree.NewElement("wsaa:loginCms")
	req.CreateAttr("xmlns:wsaa", loginNS)
	soap.Add(req, "wsaa:in0", env.CMS)

	res, err := c.raw.Call(ctx, "", req)
	if err != nil {
		return afip.Credential{}, afip.AuthUnavailable(err, err.Error())
	}

	switch v := res.(type) {
	case *soap.Body:
		cred, err := parseLoginResponse(v.Payload)
		if err != nil {
			return afip.Credential{}, afip.AuthUnavailable(err, "loginCms: "+err.Error())
		}
		cred.Cuit = env.Cuit
		cred.ExpiresAt = earliest(env.Request.ExpiresAt, cred.ExpiresAt)

		afip.Logger(ctx, logger).WithField("expires", cred.ExpiresAt.Format(time.RFC3339)).
			Debugf("loginCms ok, token len %d", len(cred.Token))
		return cred, nil

	case *soap.Fault:
		afip.Logger(ctx, logger).Warnf("loginCms fault: %s", v.String)
		return afip.Credential{}, afip.AuthRejected(v.String)

	default:
		return afip.Credential{}, afip.AuthUnavailable(nil, "nieoczekiwany wariant odpowiedzi")
	}
}

// parseLoginResponse reads the loginTicketResponse document embedded as text in loginCmsReturn.
// ExpiresAt is the ticket's own expiration when present, zero otherwise.
func parseLoginResponse(payload *etree.Element) (afip.Credential, error) {
	raw := soap.Text(payload, "loginCmsReturn")
	if raw == "" {
		return afip.Credential{}, errors.New("empty loginCmsReturn")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(raw); err != nil {
		return afip.Credential{}, errors.Wrap(err, "parse loginTicketResponse")
	}
	root := doc.Root()
	if root == nil || root.Tag != "loginTicketResponse" {
		return afip.Credential{}, errors.New("loginCmsReturn is not a loginTicketResponse")
	}

	cred := afip.Credential{
		Token: soap.Text(root, "credentials/token"),
		Sign:  soap.Text(root, "credentials/sign"),
	}
	if cred.Token == "" || cred.Sign == "" {
		return afip.Credential{}, errors.New("loginTicketResponse without token/sign")
	}

	if s := soap.Text(root, "header/expirationTime"); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			cred.ExpiresAt = t.UTC()
		}
	}
	return cred, nil
}

func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b.UTC()
	case b.IsZero():
		return a.UTC()
	case b.Before(a):
		return b.UTC()
	}
	return a.UTC()
}
