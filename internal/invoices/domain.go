package invoices

import "time"

// InvoiceStatus is the invoice lifecycle marker. CONFIRMED invoices reject
// further edits.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "DRAFT"
	StatusConfirmed InvoiceStatus = "CONFIRMED"
	StatusDeleted   InvoiceStatus = "DELETED"
)

// Invoice is the commercial invoice derived from one shipment. At most one
// active invoice per shipment carries is_latest.
type Invoice struct {
	ID               int64         `json:"id"`
	InvoiceNo        string        `json:"invoice_no"`
	ShipmentID       int64         `json:"shipment_id"`
	ShipmentNo       string        `json:"shipment_no"`
	BuyerID          int64         `json:"buyer_id"`
	OriginCode       string        `json:"origin_code"`
	ShipMode         string        `json:"ship_mode"`
	Currency         string        `json:"currency"`
	Incoterm         string        `json:"incoterm"`
	FinalDestination string        `json:"final_destination"`
	ShipperName      string        `json:"shipper_name"`
	ShipperAddress   string        `json:"shipper_address"`
	PortOfLoading    string        `json:"port_of_loading"`
	Consignee        string        `json:"consignee"`
	NotifyParty      string        `json:"notify_party"`
	Status           InvoiceStatus `json:"status"`
	IsLatest         bool          `json:"is_latest"`
	IsDeleted        bool          `json:"is_deleted"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Lines            []InvoiceLine `json:"lines,omitempty"`
}

// InvoiceLine mirrors one shipment line one-to-one.
type InvoiceLine struct {
	ID             int64   `json:"id"`
	InvoiceID      int64   `json:"invoice_id"`
	ShipmentLineID int64   `json:"shipment_line_id"`
	PONo           string  `json:"po_no"`
	Style          string  `json:"style"`
	Description    string  `json:"description"`
	Color          string  `json:"color"`
	Size           string  `json:"size"`
	Qty            float64 `json:"qty"`
	UnitPrice      float64 `json:"unit_price"`
	Amount         float64 `json:"amount"`
	IsDeleted      bool    `json:"is_deleted"`
}

// DeriveResult reports a derivation outcome. AlreadyExists marks the
// idempotent path where the existing active invoice was returned unchanged.
type DeriveResult struct {
	Invoice       *Invoice `json:"invoice"`
	AlreadyExists bool     `json:"already_exists"`
	DerivationID  string   `json:"derivation_id"`
}

// UpdateInvoiceRequest patches header fields of a draft invoice. Nil fields
// are left untouched.
type UpdateInvoiceRequest struct {
	Currency         *string `json:"currency" validate:"omitempty,len=3"`
	Incoterm         *string `json:"incoterm" validate:"omitempty,max=20"`
	FinalDestination *string `json:"final_destination" validate:"omitempty,max=200"`
	ShipperName      *string `json:"shipper_name" validate:"omitempty,max=200"`
	ShipperAddress   *string `json:"shipper_address" validate:"omitempty,max=500"`
	PortOfLoading    *string `json:"port_of_loading" validate:"omitempty,max=100"`
	Consignee        *string `json:"consignee" validate:"omitempty,max=500"`
	NotifyParty      *string `json:"notify_party" validate:"omitempty,max=500"`
}
