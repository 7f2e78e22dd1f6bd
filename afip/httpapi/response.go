package httpapi

import (
	"net/http"

	"github.com/alapierre/go-afip-client/afip"
	"github.com/alapierre/go-afip-client/afip/wsfe"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

func writeJSON(w http.ResponseWriter, status int, enc func(e *jx.Encoder)) {
	e := &jx.Encoder{}
	enc(e)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeInvoice(w http.ResponseWriter, res *afip.InvoiceResult, link string) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str("OK") })
			e.Field("factura", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("cbte_nro", func(e *jx.Encoder) { e.Int64(res.Number) })
					e.Field("cae", func(e *jx.Encoder) { e.Str(res.AuthorizationCode) })
					e.Field("vencimiento", func(e *jx.Encoder) { e.Str(res.AuthorizationExpiry) })
					e.Field("punto_venta", func(e *jx.Encoder) { e.Int(res.Key.PointOfSale) })
					e.Field("tipo_cbte", func(e *jx.Encoder) { e.Int(res.Key.InvoiceType) })
					e.Field("fecha", func(e *jx.Encoder) { e.Str(res.DocumentDate.Format(wsfe.DateLayout)) })
					if len(res.Observations) > 0 {
						e.Field("observaciones", func(e *jx.Encoder) { encodeObservations(e, res.Observations) })
					}
					if link != "" {
						e.Field("qr", func(e *jx.Encoder) { e.Str(link) })
					}
				})
			})
		})
	})
}

// writeFailure reports err with its taxonomy kind. Workflow failures go out with
// HTTP 200, as existing clients only look at "status".
func writeFailure(w http.ResponseWriter, status int, err error) {
	kind := "BadRequest"
	var obs []afip.Observation
	detail := err.Error()
	if k := afip.KindOf(err); k != 0 {
		kind = k.String()
		var ae *afip.Error
		if errors.As(err, &ae) {
			detail = ae.Detail
			obs = ae.Observations
		}
	}

	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str("ERROR") })
			e.Field("tipo", func(e *jx.Encoder) { e.Str(kind) })
			e.Field("detalle", func(e *jx.Encoder) { e.Str(detail) })
			if len(obs) > 0 {
				e.Field("observaciones", func(e *jx.Encoder) { encodeObservations(e, obs) })
			}
		})
	})
}

func encodeObservations(e *jx.Encoder, obs []afip.Observation) {
	e.Arr(func(e *jx.Encoder) {
		for _, o := range obs {
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Int(o.Code) })
				e.Field("msg", func(e *jx.Encoder) { e.Str(o.Message) })
			})
		}
	})
}

func writeStatus(w http.ResponseWriter, st wsfe.Status) {
	code := http.StatusOK
	if !st.OK() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("app_server", func(e *jx.Encoder) { e.Str(st.AppServer) })
			e.Field("db_server", func(e *jx.Encoder) { e.Str(st.DbServer) })
			e.Field("auth_server", func(e *jx.Encoder) { e.Str(st.AuthServer) })
		})
	})
}
