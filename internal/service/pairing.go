package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// PairingService keeps the two region twins of a logical product consistent:
// shared catalog fields propagate, stock pools never do.
type PairingService struct {
	store  *store.Store
	redis  Cache
	logger *zap.Logger
}

// NewPairingService creates a pairing synchronizer.
func NewPairingService(st *store.Store, redis Cache) *PairingService {
	return &PairingService{store: st, redis: redis, logger: util.GetLogger()}
}

const pairingLockTTL = 10 * time.Second

// UpdateProduct applies a catalog edit to one product and, if it is paired,
// propagates the shared subset of the patch plus the variation definitions to
// its twin. Stock, SKU and backorder policy never cross regions.
func (s *PairingService) UpdateProduct(ctx context.Context, productID int64, patch store.ProductPatch) error {
	ctx, span := util.StartSpan(ctx, "PairingService.UpdateProduct")
	defer span.End()

	if patch.Empty() {
		return nil
	}

	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}

	if product.PairingID != nil {
		unlock, err := s.lockPairing(ctx, *product.PairingID)
		if err != nil {
			return err
		}
		defer unlock()
	}

	return withConflictRetry(ctx, s.logger, func() error {
		return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
			if err := uow.ApplyProductPatch(ctx, productID, patch); err != nil {
				return err
			}
			if product.PairingID == nil {
				return nil
			}

			twin, err := uow.GetTwin(ctx, *product.PairingID, product.Region.Other())
			if err != nil {
				return err
			}

			shared := patch.SharedFields()
			if !shared.Empty() {
				if err := uow.ApplyProductPatch(ctx, twin.ID, shared); err != nil {
					return err
				}
			}

			if err := s.syncVariationDefinitions(ctx, uow, productID, twin.ID); err != nil {
				return err
			}

			s.logger.Info("Pairing sync applied",
				zap.Int64("product_id", productID),
				zap.Int64("twin_id", twin.ID),
				zap.String("pairing_id", *product.PairingID))
			return nil
		})
	})
}

// syncVariationDefinitions mirrors the source's variation axes and option
// values onto the twin. Matching is by name/value; twin option stock counters
// are only seeded (at zero) for newly appearing options and never overwritten.
func (s *PairingService) syncVariationDefinitions(ctx context.Context, uow *store.UnitOfWork, sourceID, twinID int64) error {
	variations, err := uow.GetVariations(ctx, sourceID)
	if err != nil {
		return err
	}

	for _, variation := range variations {
		twinVarID, err := uow.UpsertVariationDefinition(ctx, twinID, variation.Name, variation.Position)
		if err != nil {
			return err
		}

		options, err := uow.GetVariationOptions(ctx, variation.ID)
		if err != nil {
			return err
		}
		for _, opt := range options {
			if err := uow.UpsertOptionDefinition(ctx, twinVarID, twinID, opt); err != nil {
				return err
			}
		}
	}
	return nil
}

// BreakPairing removes the link on both twins permanently. The caller boundary
// is responsible for explicit confirmation; there is no undo.
func (s *PairingService) BreakPairing(ctx context.Context, pairingID string) error {
	ctx, span := util.StartSpan(ctx, "PairingService.BreakPairing")
	defer span.End()

	unlock, err := s.lockPairing(ctx, pairingID)
	if err != nil {
		return err
	}
	defer unlock()

	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		affected, err := uow.BreakPairing(ctx, pairingID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("pairing %s: %w", pairingID, models.ErrNotFound)
		}
		s.logger.Info("Pairing broken",
			zap.String("pairing_id", pairingID),
			zap.Int64("products", affected))
		return nil
	})
}

// lockPairing serializes pairing-wide edits across processes, since a sync
// touches two rows that another sync could touch in the opposite order.
func (s *PairingService) lockPairing(ctx context.Context, pairingID string) (func(), error) {
	key := "pairing:" + pairingID
	acquired, err := s.redis.AcquireLock(ctx, key, pairingLockTTL)
	if err != nil {
		return nil, fmt.Errorf("pairing lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("pairing %s is being edited: %w", pairingID, models.ErrConcurrencyConflict)
	}
	return func() {
		if err := s.redis.ReleaseLock(context.Background(), key); err != nil {
			s.logger.Warn("Failed to release pairing lock", zap.String("pairing_id", pairingID), zap.Error(err))
		}
	}, nil
}
