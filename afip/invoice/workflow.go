// Package invoice drives one invoice from taxpayer id to CAE:
// resolve identity, sign a ticket, authenticate, take the next number and submit.
package invoice

import (
	"context"

	"github.com/alapierre/go-afip-client/afip"
	"github.com/alapierre/go-afip-client/afip/mutex"
	"github.com/alapierre/go-afip-client/afip/wsaa"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "afip.invoice")

type IdentityResolver interface {
	Resolve(cuit string) (afip.Identity, error)
}

type TicketSigner interface {
	Sign(ctx context.Context, id afip.Identity) (*wsaa.SignedEnvelope, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, env *wsaa.SignedEnvelope) (afip.Credential, error)
}

type Numberer interface {
	NextNumber(ctx context.Context, key afip.SequenceKey, cred afip.Credential) (int64, error)
}

type Submitter interface {
	Submit(ctx context.Context, in afip.InvoiceRequest, cred afip.Credential) (*afip.InvoiceResult, error)
}

// Invoicer is the invoicing service; *wsfe.Client satisfies it.
type Invoicer interface {
	Numberer
	Submitter
}

// Request is what the caller asks for. Net and VAT may be left zero for type C invoices.
type Request struct {
	Cuit         string
	ReceiverCuit string
	PointOfSale  int
	InvoiceType  int
	Amount       decimal.Decimal
	Net          decimal.Decimal
	VAT          decimal.Decimal
}

func (r Request) key() afip.SequenceKey {
	return afip.SequenceKey{PointOfSale: r.PointOfSale, InvoiceType: r.InvoiceType}
}

// lockKey scopes serialization to one issuer's counter.
type lockKey struct {
	cuit string
	seq  afip.SequenceKey
}

type Workflow struct {
	registry IdentityResolver
	signer   TicketSigner
	auth     Authenticator
	invoicer Invoicer

	lock      *mutex.KeyedMutex[lockKey]
	observers []Observer
}

type Option func(*Workflow)

// WithSequenceLock serializes numbering and submission per (CUIT, point of sale, invoice type)
// inside this process. Concurrent runs for the same key otherwise race for the same number
// and the loser is rejected by the authority.
func WithSequenceLock() Option {
	return func(w *Workflow) { w.lock = &mutex.KeyedMutex[lockKey]{} }
}

func WithObserver(o Observer) Option {
	return func(w *Workflow) { w.observers = append(w.observers, o) }
}

func New(registry IdentityResolver, signer TicketSigner, auth Authenticator, invoicer Invoicer, opts ...Option) *Workflow {
	w := &Workflow{
		registry: registry,
		signer:   signer,
		auth:     auth,
		invoicer: invoicer,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Submit runs the whole workflow once. Every run starts at Idle with a fresh ticket and
// credential; nothing is retried and nothing is kept afterwards. The returned error is
// always an *afip.Error.
func (w *Workflow) Submit(ctx context.Context, req Request) (*afip.InvoiceResult, error) {
	r := &run{
		w:   w,
		id:  uuid.NewString(),
		req: req,
	}
	r.req.Cuit = normalize(req.Cuit)
	r.req.ReceiverCuit = normalize(req.ReceiverCuit)

	ctx = afip.ContextWithRun(afip.Context(ctx, r.req.Cuit), r.id)
	r.log = afip.Logger(ctx, logger).WithField("key", req.key().String())
	r.log.Info("invoice workflow started")

	res, err := r.execute(ctx)
	if err != nil {
		ae := r.fail(err)
		r.log.WithField("kind", ae.Kind.String()).Warnf("invoice workflow failed in %s: %s", r.failedIn, ae.Detail)
		return nil, ae
	}

	r.log.WithFields(logrus.Fields{
		"number": res.Number,
		"cae":    res.AuthorizationCode,
	}).Info("invoice workflow finished")
	return res, nil
}

type run struct {
	w        *Workflow
	id       string
	req      Request
	state    State
	failedIn State
	log      *logrus.Entry
}

// normalize strips separators; anything that is not a CUIT is passed on as is
// and left for the registry or the authority to reject.
func normalize(cuit string) string {
	if n, err := afip.NormalizeCuit(cuit); err == nil {
		return n
	}
	return cuit
}

func (r *run) execute(ctx context.Context) (*afip.InvoiceResult, error) {
	id, err := r.w.registry.Resolve(r.req.Cuit)
	if err != nil {
		return nil, err
	}
	r.advance(Resolved)

	env, err := r.w.signer.Sign(ctx, id)
	if err != nil {
		return nil, err
	}
	r.advance(Signed)

	cred, err := r.w.auth.Authenticate(ctx, env)
	if err != nil {
		return nil, err
	}
	r.advance(Authenticated)

	if l := r.w.lock; l != nil {
		k := lockKey{cuit: id.Cuit, seq: r.req.key()}
		l.Lock(k)
		defer l.Unlock(k)
	}

	number, err := r.w.invoicer.NextNumber(ctx, r.req.key(), cred)
	if err != nil {
		return nil, err
	}
	r.advance(Numbered)

	res, err := r.w.invoicer.Submit(ctx, afip.InvoiceRequest{
		Key:          r.req.key(),
		Number:       number,
		ReceiverCuit: r.req.ReceiverCuit,
		Total:        r.req.Amount,
		Net:          r.req.Net,
		VAT:          r.req.VAT,
	}, cred)
	if err != nil {
		return nil, err
	}
	if !res.Authorized() {
		return nil, afip.InvoiceRejected(res.Observations)
	}
	r.advance(Submitted)
	r.advance(Success)
	return res, nil
}

func (r *run) advance(to State) {
	from := r.state
	r.state = to
	r.log.Debugf("%s -> %s", from, to)
	r.notify(Transition{Run: r.id, Cuit: r.req.Cuit, From: from, To: to})
}

// fail moves the run to Failed and labels err with the taxonomy kind of the stage that failed.
func (r *run) fail(err error) *afip.Error {
	r.failedIn = r.state
	ae := classify(r.state, r.req.Cuit, err)
	from := r.state
	r.state = Failed
	r.notify(Transition{Run: r.id, Cuit: r.req.Cuit, From: from, To: Failed, Err: ae})
	return ae
}

func (r *run) notify(t Transition) {
	for _, o := range r.w.observers {
		o(t)
	}
}

// classify keeps errors that already carry a kind and labels the rest by the stage
// in which they happened (the state reached so far).
func classify(reached State, cuit string, err error) *afip.Error {
	var ae *afip.Error
	if errors.As(err, &ae) {
		return ae
	}
	switch reached {
	case Idle:
		return &afip.Error{Kind: afip.KindUnknownIdentity, Detail: "CUIT " + cuit + ": " + err.Error(), Err: err}
	case Resolved:
		return afip.SigningFailure(err, err.Error())
	case Signed:
		return afip.AuthUnavailable(err, err.Error())
	case Authenticated:
		return &afip.Error{Kind: afip.KindSequenceQueryFailed, Detail: err.Error(), Err: err}
	default:
		return afip.SubmissionFailed(err, err.Error())
	}
}
