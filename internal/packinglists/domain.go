package packinglists

import "time"

// PackingList is the packing document derived from one shipment. Legacy
// rows may carry a NULL packing_list_no until the backfill assigns one.
// Party text fields are hydrated from the linked invoice when empty.
type PackingList struct {
	ID              int64             `json:"id"`
	PackingListNo   *string           `json:"packing_list_no"`
	ShipmentID      int64             `json:"shipment_id"`
	ShipmentNo      string            `json:"shipment_no"`
	InvoiceID       *int64            `json:"invoice_id"`
	InvoiceNo       string            `json:"invoice_no"`
	OriginCode      string            `json:"origin_code"`
	ShipperName     string            `json:"shipper_name"`
	ShipperAddress  string            `json:"shipper_address"`
	Consignee       string            `json:"consignee"`
	NotifyParty     string            `json:"notify_party"`
	CountryOfOrigin string            `json:"country_of_origin"`
	IsDeleted       bool              `json:"is_deleted"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Lines           []PackingListLine `json:"lines,omitempty"`
}

// PackingListLine mirrors one shipment line with packing detail.
type PackingListLine struct {
	ID             int64   `json:"id"`
	PackingListID  int64   `json:"packing_list_id"`
	ShipmentLineID int64   `json:"shipment_line_id"`
	PONo           string  `json:"po_no"`
	Style          string  `json:"style"`
	Description    string  `json:"description"`
	Color          string  `json:"color"`
	Size           string  `json:"size"`
	Qty            float64 `json:"qty"`
	Cartons        int     `json:"cartons"`
	NetWeight      float64 `json:"net_weight"`
	GrossWeight    float64 `json:"gross_weight"`
	IsDeleted      bool    `json:"is_deleted"`
}

// DeriveResult reports a derivation outcome. AlreadyExists marks the
// idempotent path where the existing active packing list was returned.
type DeriveResult struct {
	PackingList   *PackingList `json:"packing_list"`
	AlreadyExists bool         `json:"already_exists"`
	DerivationID  string       `json:"derivation_id"`
}

// UpdatePackingListRequest patches header fields. Nil fields are untouched.
type UpdatePackingListRequest struct {
	ShipperName     *string `json:"shipper_name" validate:"omitempty,max=200"`
	ShipperAddress  *string `json:"shipper_address" validate:"omitempty,max=500"`
	Consignee       *string `json:"consignee" validate:"omitempty,max=500"`
	NotifyParty     *string `json:"notify_party" validate:"omitempty,max=500"`
	CountryOfOrigin *string `json:"country_of_origin" validate:"omitempty,max=100"`
}
