package companies

import "time"

// Company holds buyer defaults copied into derived documents when neither
// the request nor the PO header supplies a value.
type Company struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Currency         string  `json:"currency"`
	Incoterm         string  `json:"incoterm"`
	Consignee        string  `json:"consignee"`
	NotifyParty      string  `json:"notify_party"`
	FinalDestination string  `json:"final_destination"`
	IsDeleted        bool    `json:"is_deleted"`
}

// Site is a shipper location for an origin code. Its fields feed invoice
// shipper details and the port of loading.
type Site struct {
	ID               int64     `json:"id"`
	CompanyID        int64     `json:"company_id"`
	OriginCode       string    `json:"origin_code"`
	Name             string    `json:"name"`
	Address          string    `json:"address"`
	SeaPortOfLoading string    `json:"sea_port_of_loading"`
	AirPortOfLoading string    `json:"air_port_of_loading"`
	ExporterOfRecord bool      `json:"exporter_of_record"`
	IsDefault        bool      `json:"is_default"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PortOfLoading picks the site's port for a ship mode. COURIER consignments
// leave through the air port.
func (s Site) PortOfLoading(shipMode string) string {
	if shipMode == "SEA" {
		return s.SeaPortOfLoading
	}
	return s.AirPortOfLoading
}

// SelectShipperSite applies the resolution priority: exact-origin site
// flagged exporter of record, then the origin's default site, then the most
// recently updated site for that origin. Returns false when sites is empty.
func SelectShipperSite(sites []Site) (Site, bool) {
	if len(sites) == 0 {
		return Site{}, false
	}
	for _, s := range sites {
		if s.ExporterOfRecord {
			return s, true
		}
	}
	for _, s := range sites {
		if s.IsDefault {
			return s, true
		}
	}
	best := sites[0]
	for _, s := range sites[1:] {
		if s.UpdatedAt.After(best.UpdatedAt) {
			best = s
		}
	}
	return best, true
}
