package orders

import "time"

// POStatus is the purchase order lifecycle marker.
type POStatus string

const (
	POStatusOpen    POStatus = "OPEN"
	POStatusDeleted POStatus = "DELETED"
)

// PurchaseOrder is the buyer's order, source of all ordered quantities.
// po_no is unique and immutable after creation.
type PurchaseOrder struct {
	ID               int64     `json:"id"`
	PONo             string    `json:"po_no"`
	BuyerID          int64     `json:"buyer_id"`
	OriginCode       string    `json:"origin_code"`
	Currency         string    `json:"currency"`
	Incoterm         string    `json:"incoterm"`
	FinalDestination string    `json:"final_destination"`
	Status           POStatus  `json:"status"`
	IsDeleted        bool      `json:"is_deleted"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Lines            []POLine  `json:"lines,omitempty"`
}

// POLine is one ordered style/color/size position.
type POLine struct {
	ID           int64   `json:"id"`
	POID         int64   `json:"po_id"`
	Style        string  `json:"style"`
	Description  string  `json:"description"`
	Color        string  `json:"color"`
	Size         string  `json:"size"`
	Qty          float64 `json:"qty"`
	QtyCancelled float64 `json:"qty_cancelled"`
	UnitPrice    float64 `json:"unit_price"`
	IsDeleted    bool    `json:"is_deleted"`
}

// CreatePORequest creates a purchase order with its lines.
type CreatePORequest struct {
	BuyerID          int64             `json:"buyer_id" validate:"required,gt=0"`
	OriginCode       string            `json:"origin_code" validate:"required,len=2"`
	Currency         string            `json:"currency" validate:"omitempty,len=3"`
	Incoterm         string            `json:"incoterm" validate:"omitempty,max=20"`
	FinalDestination string            `json:"final_destination" validate:"omitempty,max=200"`
	Lines            []CreatePOLineReq `json:"lines" validate:"required,min=1,dive"`
}

// CreatePOLineReq is a line item in the create request.
type CreatePOLineReq struct {
	Style       string  `json:"style" validate:"required,max=100"`
	Description string  `json:"description" validate:"omitempty,max=500"`
	Color       string  `json:"color" validate:"omitempty,max=50"`
	Size        string  `json:"size" validate:"omitempty,max=50"`
	Qty         float64 `json:"qty" validate:"required,gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
}

// ListPORequest filters the order list.
type ListPORequest struct {
	BuyerID        *int64 `json:"buyer_id,omitempty"`
	IncludeDeleted bool   `json:"include_deleted"`
	Limit          int    `json:"limit" validate:"gte=0,lte=1000"`
	Offset         int    `json:"offset" validate:"gte=0"`
}
