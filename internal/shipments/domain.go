package shipments

import "time"

// ShipMode is the transport mode of a consignment. Each mode present in a
// create request yields its own shipment.
type ShipMode string

const (
	ModeSea     ShipMode = "SEA"
	ModeAir     ShipMode = "AIR"
	ModeCourier ShipMode = "COURIER"
)

// groupOrder fixes the order shipments are created in, so number allocation
// is deterministic for a single request.
var groupOrder = []ShipMode{ModeSea, ModeAir, ModeCourier}

// IsValid reports whether m is a known ship mode.
func (m ShipMode) IsValid() bool {
	switch m {
	case ModeSea, ModeAir, ModeCourier:
		return true
	}
	return false
}

// ShipmentStatus is the shipment lifecycle marker.
type ShipmentStatus string

const (
	StatusOpen    ShipmentStatus = "OPEN"
	StatusDeleted ShipmentStatus = "DELETED"
)

// ShipmentHeader is one consignment derived from one or more purchase
// orders. Header trade terms follow the fallback chain request value, then
// PO header, then buyer company default.
type ShipmentHeader struct {
	ID               int64          `json:"id"`
	ShipmentNo       string         `json:"shipment_no"`
	BuyerID          int64          `json:"buyer_id"`
	OriginCode       string         `json:"origin_code"`
	ShipMode         ShipMode       `json:"ship_mode"`
	Currency         string         `json:"currency"`
	Incoterm         string         `json:"incoterm"`
	FinalDestination string         `json:"final_destination"`
	Status           ShipmentStatus `json:"status"`
	IsDeleted        bool           `json:"is_deleted"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Lines            []ShipmentLine `json:"lines,omitempty"`
}

// ShipmentLine carries the shipped quantity for one PO line. Descriptive
// fields are copied from the PO line at creation, never from the request.
type ShipmentLine struct {
	ID          int64   `json:"id"`
	ShipmentID  int64   `json:"shipment_id"`
	POLineID    int64   `json:"po_line_id"`
	PONo        string  `json:"po_no"`
	Style       string  `json:"style"`
	Description string  `json:"description"`
	Color       string  `json:"color"`
	Size        string  `json:"size"`
	ShippedQty  float64 `json:"shipped_qty"`
	UnitPrice   float64 `json:"unit_price"`
	Amount      float64 `json:"amount"`
	IsDeleted   bool    `json:"is_deleted"`
}

// CreateShipmentRequest derives shipments from purchase orders. Lines with a
// zero or negative quantity are dropped before grouping.
type CreateShipmentRequest struct {
	POIDs            []int64                  `json:"po_ids" validate:"required,min=1,dive,gt=0"`
	Currency         string                   `json:"currency" validate:"omitempty,len=3"`
	Incoterm         string                   `json:"incoterm" validate:"omitempty,max=20"`
	FinalDestination string                   `json:"final_destination" validate:"omitempty,max=200"`
	Lines            []CreateShipmentLineReq `json:"lines" validate:"required,min=1,dive"`
}

// CreateShipmentLineReq requests a quantity of one PO line on one mode.
type CreateShipmentLineReq struct {
	POLineID int64    `json:"po_line_id" validate:"required,gt=0"`
	ShipMode ShipMode `json:"ship_mode" validate:"required"`
	Qty      float64  `json:"qty"`
}

// ListShipmentRequest filters the shipment list.
type ListShipmentRequest struct {
	BuyerID        *int64 `json:"buyer_id,omitempty"`
	IncludeDeleted bool   `json:"include_deleted"`
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
}
