package invoices

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-exim/meridian-exim/internal/companies"
	"github.com/meridian-exim/meridian-exim/internal/numbering"
	"github.com/meridian-exim/meridian-exim/internal/shared"
	"github.com/meridian-exim/meridian-exim/internal/shipments"
)

type memRepo struct {
	invoices     map[int64]*Invoice
	packingLists map[int64]int
	nextID       int64
	failLines    bool
	// missLatestOnce makes the next existence check miss, the window two
	// concurrent derivations race through.
	missLatestOnce bool
}

func newMemRepo() *memRepo {
	return &memRepo{invoices: make(map[int64]*Invoice), packingLists: make(map[int64]int), nextID: 500}
}

func (m *memRepo) Get(_ context.Context, id int64, includeDeleted bool) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok || (inv.IsDeleted && !includeDeleted) {
		return nil, shared.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memRepo) ActiveLatestByShipment(_ context.Context, shipmentID int64) (*Invoice, error) {
	if m.missLatestOnce {
		m.missLatestOnce = false
		return nil, shared.ErrNotFound
	}
	for _, inv := range m.invoices {
		if inv.ShipmentID == shipmentID && !inv.IsDeleted && inv.IsLatest {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memRepo) InsertHeader(_ context.Context, inv Invoice) (int64, error) {
	for _, existing := range m.invoices {
		if existing.InvoiceNo == inv.InvoiceNo {
			return 0, fmt.Errorf("duplicate invoice_no %s", inv.InvoiceNo)
		}
		if existing.ShipmentID == inv.ShipmentID {
			existing.IsLatest = false
		}
	}
	inv.ID = m.nextID
	m.nextID++
	inv.IsLatest = true
	m.invoices[inv.ID] = &inv
	return inv.ID, nil
}

func (m *memRepo) InsertLines(_ context.Context, lines []InvoiceLine) error {
	if m.failLines {
		return fmt.Errorf("injected line failure")
	}
	if len(lines) == 0 {
		return nil
	}
	inv, ok := m.invoices[lines[0].InvoiceID]
	if !ok {
		return fmt.Errorf("invoice %d not found", lines[0].InvoiceID)
	}
	for i := range lines {
		lines[i].ID = m.nextID
		m.nextID++
	}
	inv.Lines = append(inv.Lines, lines...)
	return nil
}

func (m *memRepo) UpdateHeader(_ context.Context, id int64, patch map[string]any) error {
	inv, ok := m.invoices[id]
	if !ok {
		return shared.ErrNotFound
	}
	for col, v := range patch {
		s, _ := v.(string)
		switch col {
		case "currency":
			inv.Currency = s
		case "incoterm":
			inv.Incoterm = s
		case "final_destination":
			inv.FinalDestination = s
		case "shipper_name":
			inv.ShipperName = s
		case "shipper_address":
			inv.ShipperAddress = s
		case "port_of_loading":
			inv.PortOfLoading = s
		case "consignee":
			inv.Consignee = s
		case "notify_party":
			inv.NotifyParty = s
		}
	}
	return nil
}

func (m *memRepo) SetStatus(_ context.Context, id int64, status InvoiceStatus) error {
	inv, ok := m.invoices[id]
	if !ok {
		return shared.ErrNotFound
	}
	inv.Status = status
	return nil
}

func (m *memRepo) ActivePackingListCount(_ context.Context, invoiceID int64) (int, error) {
	return m.packingLists[invoiceID], nil
}

func (m *memRepo) SoftDelete(_ context.Context, invoiceID int64) error {
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return shared.ErrNotFound
	}
	inv.IsDeleted = true
	inv.IsLatest = false
	inv.Status = StatusDeleted
	for i := range inv.Lines {
		inv.Lines[i].IsDeleted = true
	}
	return nil
}

type memShipments struct {
	byID map[int64]*shipments.ShipmentHeader
}

func (m *memShipments) Get(_ context.Context, id int64, _ bool) (*shipments.ShipmentHeader, error) {
	sh, ok := m.byID[id]
	if !ok {
		return nil, shared.NotFound(fmt.Sprintf("shipment %d not found", id))
	}
	return sh, nil
}

type memSites struct {
	site  companies.Site
	found bool
}

func (m *memSites) ResolveShipperSite(_ context.Context, origin string) (companies.Site, error) {
	if !m.found {
		return companies.Site{}, shared.NotFound("no shipper site for origin " + origin)
	}
	return m.site, nil
}

type memNumbers struct {
	seq map[string]int
}

func (m *memNumbers) Next(_ context.Context, prefix string, _ numbering.LegacySource) (string, error) {
	if m.seq == nil {
		m.seq = make(map[string]int)
	}
	m.seq[prefix]++
	return fmt.Sprintf("%s%04d", prefix, m.seq[prefix]), nil
}

func seaShipment() *shipments.ShipmentHeader {
	return &shipments.ShipmentHeader{
		ID:               30,
		ShipmentNo:       "SHP-BD-2605-0001",
		BuyerID:          7,
		OriginCode:       "BD",
		ShipMode:         shipments.ModeSea,
		Currency:         "USD",
		Incoterm:         "FOB",
		FinalDestination: "Hamburg",
		Status:           shipments.StatusOpen,
		Lines: []shipments.ShipmentLine{
			{ID: 40, ShipmentID: 30, POLineID: 10, PONo: "PO-BD-2605-0001",
				Style: "ST-100", Color: "Navy", Size: "M",
				ShippedQty: 400, UnitPrice: 4.5, Amount: 1800},
		},
	}
}

func newTestService(repo *memRepo, sites *memSites) *Service {
	ships := &memShipments{byID: map[int64]*shipments.ShipmentHeader{30: seaShipment()}}
	return NewService(repo, ships, sites, &memNumbers{}, nil, slog.Default())
}

func exporterSite() *memSites {
	return &memSites{found: true, site: companies.Site{
		Name:             "Meridian Apparel Ltd",
		Address:          "Plot 12, DEPZ, Savar",
		SeaPortOfLoading: "Chattogram",
		AirPortOfLoading: "DAC",
	}}
}

func TestCreateFromShipment(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, exporterSite())

	res, err := svc.CreateFromShipment(context.Background(), 30, 1)
	require.NoError(t, err)
	assert.False(t, res.AlreadyExists)
	assert.NotEmpty(t, res.DerivationID)

	inv := res.Invoice
	assert.Regexp(t, `^INV-BD-\d{4}-0001$`, inv.InvoiceNo)
	assert.Equal(t, StatusDraft, inv.Status)
	assert.True(t, inv.IsLatest)
	assert.Equal(t, "SHP-BD-2605-0001", inv.ShipmentNo)
	assert.Equal(t, "Meridian Apparel Ltd", inv.ShipperName)
	assert.Equal(t, "Chattogram", inv.PortOfLoading)

	require.Len(t, inv.Lines, 1)
	assert.Equal(t, int64(40), inv.Lines[0].ShipmentLineID)
	assert.Equal(t, float64(400), inv.Lines[0].Qty)
	assert.InDelta(t, 1800, inv.Lines[0].Amount, 0.001)
}

func TestCreateFromShipmentAirUsesAirPort(t *testing.T) {
	repo := newMemRepo()
	sites := exporterSite()
	svc := newTestService(repo, sites)
	svc.shipments.(*memShipments).byID[30].ShipMode = shipments.ModeAir

	res, err := svc.CreateFromShipment(context.Background(), 30, 1)
	require.NoError(t, err)
	assert.Equal(t, "DAC", res.Invoice.PortOfLoading)
}

func TestCreateFromShipmentIdempotent(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, exporterSite())

	first, err := svc.CreateFromShipment(context.Background(), 30, 1)
	require.NoError(t, err)
	second, err := svc.CreateFromShipment(context.Background(), 30, 1)
	require.NoError(t, err)

	assert.True(t, second.AlreadyExists)
	assert.Equal(t, first.Invoice.ID, second.Invoice.ID)
	assert.Len(t, repo.invoices, 1)
}

func TestConcurrentDerivationsKeepSingleLatest(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, exporterSite())

	first, err := svc.CreateFromShipment(context.Background(), 30, 1)
	require.NoError(t, err)

	// A second derivation slips past the existence check before the first
	// one is visible. The demote-and-insert runs atomically, so the
	// shipment still ends up with exactly one latest invoice.
	repo.missLatestOnce = true
	second, err := svc.CreateFromShipment(context.Background(), 30, 1)
	require.NoError(t, err)
	require.Len(t, repo.invoices, 2)

	latest := 0
	for _, inv := range repo.invoices {
		if inv.IsLatest && !inv.IsDeleted {
			latest++
		}
	}
	assert.Equal(t, 1, latest)
	assert.False(t, repo.invoices[first.Invoice.ID].IsLatest)
	assert.True(t, repo.invoices[second.Invoice.ID].IsLatest)
}

func TestCreateFromShipmentAfterDelete(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, exporterSite())

	first, err := svc.CreateFromShipment(context.Background(), 30, 1)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(context.Background(), first.Invoice.ID, 1))

	second, err := svc.CreateFromShipment(context.Background(), 30, 1)
	require.NoError(t, err)
	assert.False(t, second.AlreadyExists)
	assert.NotEqual(t, first.Invoice.ID, second.Invoice.ID)
	assert.True(t, second.Invoice.IsLatest)
}

func TestCreateFromShipmentNoSite(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &memSites{})

	res, err := svc.CreateFromShipment(context.Background(), 30, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Invoice.ShipperName)
	assert.Empty(t, res.Invoice.PortOfLoading)
}

func TestCreateFromShipmentPartialFailure(t *testing.T) {
	repo := newMemRepo()
	repo.failLines = true
	svc := newTestService(repo, exporterSite())

	_, err := svc.CreateFromShipment(context.Background(), 30, 1)
	require.Error(t, err)
	assert.Equal(t, shared.KindUnknown, shared.KindOf(err))
	fields := shared.FieldsOf(err)
	assert.NotZero(t, fields["created_invoice_id"])
	assert.NotEmpty(t, fields["derivation_id"])
}

func TestConfirmLocksEdits(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, exporterSite())
	res, err := svc.CreateFromShipment(context.Background(), 30, 1)
	require.NoError(t, err)

	inv, err := svc.Confirm(context.Background(), res.Invoice.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, inv.Status)

	// Confirming again is a no-op.
	again, err := svc.Confirm(context.Background(), res.Invoice.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, again.Status)

	consignee := "To Order"
	_, err = svc.Update(context.Background(), res.Invoice.ID, UpdateInvoiceRequest{Consignee: &consignee}, 1)
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestUpdateDraft(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, exporterSite())
	res, err := svc.CreateFromShipment(context.Background(), 30, 1)
	require.NoError(t, err)

	consignee := "To Order of HSBC"
	notify := "Acme Retail GmbH"
	inv, err := svc.Update(context.Background(), res.Invoice.ID, UpdateInvoiceRequest{
		Consignee:   &consignee,
		NotifyParty: &notify,
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, consignee, inv.Consignee)
	assert.Equal(t, notify, inv.NotifyParty)
	assert.Equal(t, "USD", inv.Currency)
}

func TestDeleteBlockedByPackingList(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, exporterSite())
	res, err := svc.CreateFromShipment(context.Background(), 30, 1)
	require.NoError(t, err)
	repo.packingLists[res.Invoice.ID] = 1

	err = svc.Delete(context.Background(), res.Invoice.ID, 1)
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))
	assert.Equal(t, 1, shared.FieldsOf(err)["active_packing_lists"])
}

func TestDeleteIdempotent(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, exporterSite())
	res, err := svc.CreateFromShipment(context.Background(), 30, 1)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), res.Invoice.ID, 1))
	require.NoError(t, svc.Delete(context.Background(), res.Invoice.ID, 1))
}
