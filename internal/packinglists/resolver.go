package packinglists

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-exim/meridian-exim/internal/shared"
)

// MatchPath names how a packing list reference was resolved.
type MatchPath string

const (
	MatchSelf       MatchPath = "self"
	MatchForeignKey MatchPath = "foreign_key"
	MatchInvoiceNo  MatchPath = "invoice_no"
	MatchCache      MatchPath = "cache"
)

const resolveTTL = 10 * time.Minute

// Resolver turns an opaque reference into a packing list. A numeric
// reference is tried as the packing list's own id, then as a linked
// shipment or invoice id. Any reference is finally tried as an invoice
// number; that path backfills the packing list's missing invoice_id link.
// Resolved references are cached in Redis.
type Resolver struct {
	repo   Repository
	cache  *redis.Client
	logger *slog.Logger
}

// NewResolver constructs a Resolver. cache may be nil.
func NewResolver(repo Repository, cache *redis.Client, logger *slog.Logger) *Resolver {
	return &Resolver{repo: repo, cache: cache, logger: logger}
}

func cacheKey(ref string) string { return "pl:ref:" + ref }

// Resolve finds the packing list for ref and reports the match path taken.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*PackingList, MatchPath, error) {
	if ref == "" {
		return nil, "", shared.Validation("empty packing list reference")
	}

	if pl := r.cached(ctx, ref); pl != nil {
		return pl, MatchCache, nil
	}

	pl, path, err := r.lookup(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	r.store(ctx, ref, pl.ID)
	return pl, path, nil
}

func (r *Resolver) lookup(ctx context.Context, ref string) (*PackingList, MatchPath, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		pl, err := r.repo.Get(ctx, id, false)
		if err == nil {
			return pl, MatchSelf, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, "", err
		}
		pl, err = r.repo.FindByLinkedDocID(ctx, id)
		if err == nil {
			return pl, MatchForeignKey, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, "", err
		}
	}

	pl, err := r.repo.FindByInvoiceNo(ctx, ref)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, "", shared.NotFound(fmt.Sprintf("packing list %q not found", ref))
		}
		return nil, "", err
	}
	r.backfillInvoiceID(ctx, pl, ref)
	return pl, MatchInvoiceNo, nil
}

// backfillInvoiceID repairs a row matched by invoice number but missing the
// invoice_id link. Best effort, the lookup result is returned either way.
func (r *Resolver) backfillInvoiceID(ctx context.Context, pl *PackingList, invoiceNo string) {
	if pl.InvoiceID != nil {
		return
	}
	id, err := r.repo.InvoiceIDByNo(ctx, invoiceNo)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			r.logger.Warn("invoice id lookup failed",
				slog.String("invoice_no", invoiceNo), slog.Any("error", err))
		}
		return
	}
	if err := r.repo.UpdateHeader(ctx, pl.ID, map[string]any{"invoice_id": id}); err != nil {
		r.logger.Warn("invoice id backfill failed",
			slog.Int64("packing_list_id", pl.ID), slog.Any("error", err))
		return
	}
	pl.InvoiceID = &id
}

// Invalidate drops every cached reference that could point at pl. Called on
// delete so stale cache entries cannot resurrect the record.
func (r *Resolver) Invalidate(ctx context.Context, pl *PackingList) {
	if r.cache == nil || pl == nil {
		return
	}
	keys := []string{
		cacheKey(strconv.FormatInt(pl.ID, 10)),
		cacheKey(strconv.FormatInt(pl.ShipmentID, 10)),
	}
	if pl.InvoiceID != nil {
		keys = append(keys, cacheKey(strconv.FormatInt(*pl.InvoiceID, 10)))
	}
	if pl.InvoiceNo != "" {
		keys = append(keys, cacheKey(pl.InvoiceNo))
	}
	if err := r.cache.Del(ctx, keys...).Err(); err != nil {
		r.logger.Warn("resolver cache invalidation failed", slog.Any("error", err))
	}
}

func (r *Resolver) cached(ctx context.Context, ref string) *PackingList {
	if r.cache == nil {
		return nil
	}
	raw, err := r.cache.Get(ctx, cacheKey(ref)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("resolver cache read failed", slog.Any("error", err))
		}
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	pl, err := r.repo.Get(ctx, id, false)
	if err != nil {
		// Stale entry, drop it and resolve from scratch.
		r.cache.Del(ctx, cacheKey(ref))
		return nil
	}
	return pl
}

func (r *Resolver) store(ctx context.Context, ref string, id int64) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(ref), strconv.FormatInt(id, 10), resolveTTL).Err(); err != nil {
		r.logger.Warn("resolver cache write failed", slog.Any("error", err))
	}
}
