// Package httpapi is the HTTP front door of the invoicing workflow.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alapierre/go-afip-client/afip"
	"github.com/alapierre/go-afip-client/afip/invoice"
	"github.com/alapierre/go-afip-client/afip/qr"
	"github.com/alapierre/go-afip-client/afip/wsfe"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "afip.httpapi")

const maxBody = 64 << 10

type InvoiceSubmitter interface {
	Submit(ctx context.Context, req invoice.Request) (*afip.InvoiceResult, error)
}

type StatusChecker interface {
	Status(ctx context.Context) (wsfe.Status, error)
}

type Handler struct {
	invoices InvoiceSubmitter
	status   StatusChecker
}

func NewHandler(invoices InvoiceSubmitter, status StatusChecker) *Handler {
	return &Handler{invoices: invoices, status: status}
}

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", h.home)
	r.Get("/status", h.getStatus)
	r.Post("/facturar", h.createInvoice)
	r.Get("/qr", h.renderQR)
	return r
}

func (h *Handler) home(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "AFIP Microserver funcionando.")
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, errors.Wrap(err, "read body"))
		return
	}

	var in invoiceRequest
	if err := in.Decode(jx.DecodeBytes(body)); err != nil {
		writeFailure(w, http.StatusBadRequest, errors.Wrap(err, "invalid json"))
		return
	}
	req, err := in.toWorkflow()
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.invoices.Submit(r.Context(), req)
	if err != nil {
		writeFailure(w, http.StatusOK, err)
		return
	}

	link, err := qr.Link(res)
	if err != nil {
		logger.Warnf("could not build QR link for invoice %d: %v", res.Number, err)
	}
	writeInvoice(w, res, link)
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.status.Status(r.Context())
	if err != nil {
		writeFailure(w, http.StatusBadGateway, err)
		return
	}
	writeStatus(w, st)
}

// renderQR draws a fiscal QR link (?link=...) as PNG.
func (h *Handler) renderQR(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("link")
	if _, err := qr.ParseLink(link); err != nil {
		writeFailure(w, http.StatusBadRequest, err)
		return
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size > 1024 {
		size = 1024
	}

	img, err := qr.PNG(link, size)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(img)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"took":       time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}
