package afip

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Kind identifies which stage of the invoicing protocol failed.
type Kind int

const (
	KindUnknownIdentity Kind = iota + 1
	KindSigningFailure
	KindAuthRejected
	KindAuthUnavailable
	KindSequenceQueryFailed
	KindSubmissionFailed
	KindInvoiceRejected
)

func (k Kind) String() string {
	switch k {
	case KindUnknownIdentity:
		return "UnknownIdentity"
	case KindSigningFailure:
		return "SigningFailure"
	case KindAuthRejected:
		return "AuthRejected"
	case KindAuthUnavailable:
		return "AuthUnavailable"
	case KindSequenceQueryFailed:
		return "SequenceQueryFailed"
	case KindSubmissionFailed:
		return "SubmissionFailed"
	case KindInvoiceRejected:
		return "InvoiceRejected"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var (
	ErrUnknownIdentity     = &Error{Kind: KindUnknownIdentity}
	ErrSigningFailure      = &Error{Kind: KindSigningFailure}
	ErrAuthRejected        = &Error{Kind: KindAuthRejected}
	ErrAuthUnavailable     = &Error{Kind: KindAuthUnavailable}
	ErrSequenceQueryFailed = &Error{Kind: KindSequenceQueryFailed}
	ErrSubmissionFailed    = &Error{Kind: KindSubmissionFailed}
	ErrInvoiceRejected     = &Error{Kind: KindInvoiceRejected}
)

// Error is the only error type surfaced by the invoicing workflow.
// Detail carries the deepest diagnostic available: signing tool output,
// remote fault string or the authority's observation text.
type Error struct {
	Kind         Kind
	Detail       string
	Observations []Observation // only for KindInvoiceRejected
	Err          error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

func UnknownIdentity(cuit string) *Error {
	return newError(KindUnknownIdentity, nil, "CUIT %s has no configured certificate/key pair", cuit)
}

func SigningFailure(err error, detail string) *Error {
	return newError(KindSigningFailure, err, "%s", detail)
}

func AuthRejected(fault string) *Error {
	return newError(KindAuthRejected, nil, "%s", fault)
}

func AuthUnavailable(err error, detail string) *Error {
	return newError(KindAuthUnavailable, err, "%s", detail)
}

func SequenceQueryFailed(fault string) *Error {
	return newError(KindSequenceQueryFailed, nil, "%s", fault)
}

func SubmissionFailed(err error, detail string) *Error {
	return newError(KindSubmissionFailed, err, "%s", detail)
}

// NoObservationsMessage is reported when the authority withholds the code without saying why.
const NoObservationsMessage = "invoice rejected without observations from the authority"

func InvoiceRejected(obs []Observation) *Error {
	if len(obs) == 0 {
		obs = []Observation{{Message: NoObservationsMessage}}
	}
	msgs := make([]string, 0, len(obs))
	for _, o := range obs {
		msgs = append(msgs, o.String())
	}
	return &Error{
		Kind:         KindInvoiceRejected,
		Detail:       strings.Join(msgs, "; "),
		Observations: obs,
	}
}

// KindOf returns the taxonomy kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
