package wsaa

import (
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/go-faster/errors"
)

const (
	// ServiceInvoicing is the service name of the electronic invoicing web service.
	ServiceInvoicing = "wsfe"

	// TicketWindow is how long a login ticket request stays acceptable.
	TicketWindow = 10 * time.Minute

	// TimeLayout always renders UTC with a zero millisecond field.
	TimeLayout = "2006-01-02T15:04:05.000Z"
)

// TicketRequest (TRA) is created per authentication attempt and never reused.
type TicketRequest struct {
	UniqueID    int64
	GeneratedAt time.Time
	ExpiresAt   time.Time
	Service     string
}

// NewTicketRequest builds a TRA valid for TicketWindow from now.
// The authority rejects tickets stamped in local time, so everything is converted to UTC.
func NewTicketRequest(now time.Time, service string) TicketRequest {
	gen := now.UTC().Truncate(time.Second)
	return TicketRequest{
		UniqueID:    gen.Unix(),
		GeneratedAt: gen,
		ExpiresAt:   gen.Add(TicketWindow),
		Service:     service,
	}
}

// MarshalXML serializes the request as a loginTicketRequest document.
func (r TicketRequest) MarshalXML() ([]byte, error) {
	if r.Service == "" {
		return nil, errors.New("TRA service is empty")
	}
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("loginTicketRequest")
	root.CreateAttr("version", "1.0")

	header := root.CreateElement("header")
	header.CreateElement("uniqueId").SetText(strconv.FormatInt(r.UniqueID, 10))
	header.CreateElement("generationTime").SetText(r.GeneratedAt.UTC().Format(TimeLayout))
	header.CreateElement("expirationTime").SetText(r.ExpiresAt.UTC().Format(TimeLayout))

	root.CreateElement("service").SetText(r.Service)

	doc.Indent(2)
	return doc.WriteToBytes()
}
