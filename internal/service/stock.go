package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"elektromart/backend/internal/domain"
	"elektromart/backend/internal/xid"
)

// AdjustStock applies a manual inbound or outbound correction. Outbound
// corrections follow the same no-negative rule as sales.
func (s *Service) AdjustStock(ctx context.Context, actor domain.Actor, req domain.StockAdjustRequest) (domain.StockAdjustResponse, error) {
	if _, err := s.requireAdmin(ctx, actor); err != nil {
		return domain.StockAdjustResponse{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.StockAdjustResponse{}, domain.NewValidationError("reason", "is required")
	}
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(req.ProductID))
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}

	adjustment := domain.StockAdjustment{
		ProductID:  product.ID,
		Quantity:   req.Quantity,
		Kind:       domain.StockKind(strings.ToUpper(string(req.Kind))),
		SourceType: domain.SourceManual,
		SourceID:   xid.New("adj"),
		Reason:     reason,
	}
	if err := adjustment.Validate(); err != nil {
		return domain.StockAdjustResponse{}, err
	}

	adjustments := []domain.StockAdjustment{adjustment}
	movements, err := s.repo.ApplyStockAdjustments(ctx, adjustments, actor.EmployeeID, s.now())
	if err != nil {
		s.stockRejected(err)
		return domain.StockAdjustResponse{}, err
	}
	if len(movements) != 1 {
		return domain.StockAdjustResponse{}, fmt.Errorf("expected one stock movement, got %d", len(movements))
	}
	s.stockCommitted(ctx, adjustments)

	updated, err := s.repo.GetProduct(ctx, product.ID)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}

	s.logAudit(ctx, actor, "stock_adjust", "product", product.ID,
		fmt.Sprintf("kind=%s,qty=%d,balance=%d,reason=%s", adjustment.Kind, adjustment.Quantity, movements[0].Balance, reason))
	s.logger.Info("stock adjusted",
		zap.String("product_id", product.ID),
		zap.String("kind", string(adjustment.Kind)),
		zap.Int("quantity", adjustment.Quantity),
		zap.Int("balance", movements[0].Balance))
	return domain.StockAdjustResponse{Product: *updated, Movement: movements[0]}, nil
}

func (s *Service) GetStock(ctx context.Context, productID string) (domain.StockEntry, error) {
	entry, err := s.repo.GetStock(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.StockEntry{}, err
	}
	return *entry, nil
}

func (s *Service) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, domain.NewValidationError("product_id", "is required")
	}
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListStockMovements(ctx, productID, clampLimit(limit))
}

// RestockReport is served from the report cache when present. Stock commits
// invalidate it.
func (s *Service) RestockReport(ctx context.Context) (domain.RestockReport, error) {
	cached, ok, err := s.reports.GetRestockReport(ctx)
	if err != nil {
		s.logger.Warn("restock report cache read failed", zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	// The generation is read before the products so a stock commit that
	// lands in between keeps this build out of the cache.
	generation, genErr := s.reports.RestockGeneration(ctx)
	if genErr != nil {
		s.logger.Warn("restock report generation read failed", zap.Error(genErr))
	}

	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return domain.RestockReport{}, err
	}
	report := domain.BuildRestockReport(products, s.now())
	if genErr == nil {
		stored, err := s.reports.SetRestockReport(ctx, &report, generation, s.reportTTL)
		if err != nil {
			s.logger.Warn("restock report cache write failed", zap.Error(err))
		} else if !stored {
			s.logger.Debug("restock report changed while building, not cached")
		}
	}
	return report, nil
}

func (s *Service) InventoryValuation(ctx context.Context) (domain.InventoryValuation, error) {
	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return domain.InventoryValuation{}, err
	}
	return domain.BuildInventoryValuation(products, s.now()), nil
}
