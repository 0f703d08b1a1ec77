package orders

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-exim/meridian-exim/internal/numbering"
	"github.com/meridian-exim/meridian-exim/internal/shared"
)

type memRepo struct {
	orders      map[int64]*PurchaseOrder
	nextID      int64
	linkedLines map[int64]int
}

func newMemRepo() *memRepo {
	return &memRepo{orders: make(map[int64]*PurchaseOrder), nextID: 1, linkedLines: make(map[int64]int)}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memRepo) Get(_ context.Context, id int64, includeDeleted bool) (*PurchaseOrder, error) {
	po, ok := m.orders[id]
	if !ok || (po.IsDeleted && !includeDeleted) {
		return nil, shared.ErrNotFound
	}
	cp := *po
	return &cp, nil
}

func (m *memRepo) List(_ context.Context, req ListPORequest) ([]PurchaseOrder, int, error) {
	var out []PurchaseOrder
	for _, po := range m.orders {
		if po.IsDeleted && !req.IncludeDeleted {
			continue
		}
		if req.BuyerID != nil && po.BuyerID != *req.BuyerID {
			continue
		}
		out = append(out, *po)
	}
	return out, len(out), nil
}

func (m *memRepo) ActiveShipmentLineCount(_ context.Context, poID int64) (int, error) {
	return m.linkedLines[poID], nil
}

func (m *memRepo) CreateHeader(_ context.Context, po PurchaseOrder) (int64, error) {
	for _, existing := range m.orders {
		if existing.PONo == po.PONo {
			return 0, fmt.Errorf("duplicate po_no %s", po.PONo)
		}
	}
	po.ID = m.nextID
	m.nextID++
	m.orders[po.ID] = &po
	return po.ID, nil
}

func (m *memRepo) InsertLines(_ context.Context, lines []POLine) error {
	if len(lines) == 0 {
		return nil
	}
	po, ok := m.orders[lines[0].POID]
	if !ok {
		return fmt.Errorf("po %d not found", lines[0].POID)
	}
	for i := range lines {
		lines[i].ID = m.nextID
		m.nextID++
	}
	po.Lines = append(po.Lines, lines...)
	return nil
}

func (m *memRepo) SoftDeleteLines(_ context.Context, poID int64) error {
	po, ok := m.orders[poID]
	if !ok {
		return fmt.Errorf("po %d not found", poID)
	}
	for i := range po.Lines {
		po.Lines[i].IsDeleted = true
	}
	return nil
}

func (m *memRepo) SoftDeleteHeader(_ context.Context, poID int64) error {
	po, ok := m.orders[poID]
	if !ok {
		return fmt.Errorf("po %d not found", poID)
	}
	po.IsDeleted = true
	po.Status = POStatusDeleted
	return nil
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

func newTestService(repo *memRepo) *Service {
	return NewService(repo, &memNumbers{}, nil, slog.Default())
}

func validCreateReq() CreatePORequest {
	return CreatePORequest{
		BuyerID:    7,
		OriginCode: "BD",
		Currency:   "USD",
		Incoterm:   "FOB",
		Lines: []CreatePOLineReq{
			{Style: "ST-100", Color: "Navy", Size: "M", Qty: 1000, UnitPrice: 4.5},
			{Style: "ST-100", Color: "Navy", Size: "L", Qty: 500, UnitPrice: 4.5},
		},
	}
}

func TestServiceCreate(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)

	po, err := svc.Create(context.Background(), validCreateReq(), 1)
	require.NoError(t, err)
	assert.Regexp(t, `^PO-BD-\d{4}-0001$`, po.PONo)
	assert.Equal(t, POStatusOpen, po.Status)
	require.Len(t, po.Lines, 2)
	assert.Equal(t, po.ID, po.Lines[0].POID)
}

func TestServiceCreateValidation(t *testing.T) {
	svc := newTestService(newMemRepo())

	req := validCreateReq()
	req.Lines = nil
	_, err := svc.Create(context.Background(), req, 1)
	require.Error(t, err)
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestServiceCreateNumbersIncrease(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)

	first, err := svc.Create(context.Background(), validCreateReq(), 1)
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), validCreateReq(), 1)
	require.NoError(t, err)
	assert.NotEqual(t, first.PONo, second.PONo)
}

func TestServiceDelete(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	po, err := svc.Create(context.Background(), validCreateReq(), 1)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), po.ID, 1))

	_, err = svc.Get(context.Background(), po.ID, false)
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))

	got, err := svc.Get(context.Background(), po.ID, true)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.Equal(t, POStatusDeleted, got.Status)
	for _, l := range got.Lines {
		assert.True(t, l.IsDeleted)
	}
}

func TestServiceDeleteIdempotent(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	po, err := svc.Create(context.Background(), validCreateReq(), 1)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), po.ID, 1))
	require.NoError(t, svc.Delete(context.Background(), po.ID, 1))
}

func TestServiceDeleteBlockedByShipmentLines(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	po, err := svc.Create(context.Background(), validCreateReq(), 1)
	require.NoError(t, err)
	repo.linkedLines[po.ID] = 3

	err = svc.Delete(context.Background(), po.ID, 1)
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))
	assert.Equal(t, 3, shared.FieldsOf(err)["active_shipment_lines"])

	got, err := svc.Get(context.Background(), po.ID, false)
	require.NoError(t, err)
	assert.False(t, got.IsDeleted)
}

func TestServiceDeleteNotFound(t *testing.T) {
	svc := newTestService(newMemRepo())
	err := svc.Delete(context.Background(), 9999, 1)
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
}
