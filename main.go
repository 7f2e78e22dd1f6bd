package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alapierre/go-afip-client/afip"
	"github.com/alapierre/go-afip-client/afip/httpapi"
	"github.com/alapierre/go-afip-client/afip/invoice"
	"github.com/alapierre/go-afip-client/afip/soap"
	"github.com/alapierre/go-afip-client/afip/util"
	"github.com/alapierre/go-afip-client/afip/wsaa"
	"github.com/alapierre/go-afip-client/afip/wsfe"
	"github.com/sirupsen/logrus"
)

func main() {

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if util.DebugEnabled() {
		logrus.SetLevel(logrus.DebugLevel)
	}

	var env afip.Environment
	if err := env.UnmarshalText([]byte(util.GetEnvOrDefault("AFIP_ENV", "test"))); err != nil {
		logrus.Fatal(err)
	}

	registry, err := afip.LoadRegistry(util.GetEnvOrFailed("AFIP_IDENTITIES"))
	if err != nil {
		logrus.Fatal(err)
	}

	timeout := util.GetEnvDuration("AFIP_HTTP_TIMEOUT", 30*time.Second)
	httpClient := &http.Client{Timeout: timeout}

	authClient := wsaa.NewClient(util.GetEnvOrDefault("AFIP_WSAA_URL", env.AuthURL()), soap.WithHTTPClient(httpClient))
	feClient := wsfe.NewClient(util.GetEnvOrDefault("AFIP_WSFE_URL", env.InvoiceURL()), wsfe.WithTransport(soap.WithHTTPClient(httpClient)))

	opts := []invoice.Option{
		invoice.WithObserver(func(t invoice.Transition) {
			if t.To == invoice.Failed {
				logrus.WithFields(logrus.Fields{"run": t.Run, "cuit": t.Cuit, "from": t.From}).Debugf("run failed: %v", t.Err)
			}
		}),
	}
	if util.GetEnvBool("AFIP_SERIALIZE", true) {
		opts = append(opts, invoice.WithSequenceLock())
	}

	workflow := invoice.New(registry, wsaa.NewTicketSigner(newSigner()), authClient, feClient, opts...)

	srv := &http.Server{
		Addr:              util.GetEnvOrDefault("AFIP_LISTEN", ":5000"),
		Handler:           httpapi.NewRouter(httpapi.NewHandler(workflow, feClient)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	logrus.WithFields(logrus.Fields{
		"env":        env.Name(),
		"listen":     srv.Addr,
		"identities": registry.Cuits(),
	}).Info("AFIP invoicing server starting")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Fatal(err)
	}
}

func newSigner() wsaa.Signer {
	switch kind := util.GetEnvOrDefault("AFIP_SIGNER", "native"); kind {
	case "native":
		return wsaa.NativeSigner{}
	case "openssl":
		return &wsaa.OpenSSLSigner{Binary: util.GetEnvOrDefault("AFIP_OPENSSL", "openssl")}
	default:
		logrus.Fatalf("AFIP_SIGNER=%q (allowed: native, openssl)", kind)
		return nil
	}
}
