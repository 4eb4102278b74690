package service

import (
	"context"
	"fmt"
	"strings"

	"regisync/backend/internal/domain"
	"regisync/backend/internal/reconcile"
)

func (s *Service) RunReconciliation(ctx context.Context) (reconcile.Result, error) {
	if s.reconciler == nil {
		return reconcile.Result{}, ErrNotConfigured
	}
	res, err := s.reconciler.Run(ctx, s.shopCode)
	if err != nil {
		return reconcile.Result{}, err
	}
	s.logAudit(ctx, "sync_run", "shop", s.shopCode, fmt.Sprintf("pushed=%d,pulled=%d,skipped=%d", res.Pushed, res.Pulled, res.SkippedExisting))
	return res, nil
}

func (s *Service) SyncStatus() (domain.SyncStatus, error) {
	if s.reconciler == nil {
		return domain.SyncStatus{}, ErrNotConfigured
	}
	return s.reconciler.Status(), nil
}

// ReplayShadow restores sales from the shadow journal that the ledger lost.
func (s *Service) ReplayShadow(ctx context.Context) (domain.ReplayResult, error) {
	if s.journal == nil {
		return domain.ReplayResult{}, ErrNotConfigured
	}
	res, err := s.journal.Replay(ctx, s.repo)
	if err != nil {
		return domain.ReplayResult{}, err
	}
	s.logAudit(ctx, "shadow_replay", "shop", s.shopCode, fmt.Sprintf("files=%d,restored=%d,failed=%d", res.Files, res.Restored, res.Failed))
	return res, nil
}

func (s *Service) Inventory(ctx context.Context, productCode string) (domain.InventoryLevel, error) {
	if s.inventory == nil {
		return domain.InventoryLevel{}, ErrNotConfigured
	}
	productCode = strings.TrimSpace(productCode)
	if productCode == "" {
		return domain.InventoryLevel{}, domain.Invalid("code", "is required")
	}
	qty, err := s.inventory.Inventory(ctx, s.shopCode, productCode)
	if err != nil {
		return domain.InventoryLevel{}, err
	}
	return domain.InventoryLevel{ShopCode: s.shopCode, ProductCode: productCode, Quantity: qty}, nil
}
