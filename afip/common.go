package afip

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "afip")

type cuitKey struct{}
type runKey struct{}

// Context zapamiętuje CUIT podatnika, w imieniu którego wykonywane są wywołania.
func Context(ctx context.Context, cuit string) context.Context {
	return context.WithValue(ctx, cuitKey{}, cuit)
}

func CuitFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(cuitKey{}).(string)
	return v, ok
}

// ContextWithRun attaches the workflow run id used as a log field.
func ContextWithRun(ctx context.Context, run string) context.Context {
	return context.WithValue(ctx, runKey{}, run)
}

func RunFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runKey{}).(string)
	return v, ok
}

// Logger returns an entry enriched with the run id and CUIT found in ctx.
func Logger(ctx context.Context, base *logrus.Entry) *logrus.Entry {
	e := base
	if run, ok := RunFromContext(ctx); ok {
		e = e.WithField("run", run)
	}
	if cuit, ok := CuitFromContext(ctx); ok {
		e = e.WithField("cuit", cuit)
	}
	return e
}

type Environment int

const (
	Test Environment = iota
	Prod
)

// AuthURL zwraca adres usługi uwierzytelniania (WSAA).
func (e *Environment) AuthURL() string {
	switch *e {
	case Prod:
		return "https://wsaa.afip.gov.ar/ws/services/LoginCms"
	case Test:
		return "https://wsaahomo.afip.gov.ar/ws/services/LoginCms"
	}
	panic("Invalid environment")
}

// InvoiceURL zwraca adres usługi fakturowania (WSFEv1).
func (e *Environment) InvoiceURL() string {
	switch *e {
	case Prod:
		return "https://servicios1.afip.gov.ar/wsfev1/service.asmx"
	case Test:
		return "https://wswhomo.afip.gov.ar/wsfev1/service.asmx"
	}
	panic("Invalid environment")
}

func (e *Environment) Name() string {
	switch *e {
	case Prod:
		return "prod"
	case Test:
		return "test"
	}
	panic("Invalid environment")
}

func (e *Environment) UnmarshalText(text []byte) error {
	val := strings.ToLower(strings.TrimSpace(string(text)))

	switch val {
	case "prod", "produccion":
		*e = Prod
	case "test", "homo", "homologacion":
		*e = Test
	default:
		return fmt.Errorf("invalid AFIP_ENV: %q (allowed: prod, test)", val)
	}
	return nil
}
