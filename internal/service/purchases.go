package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"elektromart/backend/internal/domain"
	"elektromart/backend/internal/store"
	"elektromart/backend/internal/xid"
)

func (s *Service) GetPurchase(ctx context.Context, id string) (domain.Purchase, error) {
	purchase, err := s.repo.GetPurchase(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Purchase{}, err
	}
	return *purchase, nil
}

func (s *Service) ListPurchases(ctx context.Context, status string, limit int) ([]domain.Purchase, error) {
	filter := domain.PurchaseStatus(strings.ToUpper(strings.TrimSpace(status)))
	if filter != "" && !filter.IsValid() {
		return nil, domain.NewValidationError("status", "must be P, R or C")
	}
	return s.repo.ListPurchases(ctx, filter, clampLimit(limit))
}

func (s *Service) CreatePurchase(ctx context.Context, actor domain.Actor, req domain.PurchaseCreateRequest) (domain.Purchase, error) {
	employee, err := s.requireAdmin(ctx, actor)
	if err != nil {
		return domain.Purchase{}, err
	}
	supplierID := strings.TrimSpace(req.SupplierID)
	if err := s.checkSupplier(ctx, supplierID); err != nil {
		return domain.Purchase{}, err
	}

	now := s.now()
	date, err := orderDate(req.Date, now)
	if err != nil {
		return domain.Purchase{}, err
	}
	purchase, err := domain.NewPurchase(xid.New("po"), draftNumber, date, supplierID, employee.ID)
	if err != nil {
		return domain.Purchase{}, err
	}
	purchase.CreatedAt = now
	purchase.UpdatedAt = now

	lines, err := s.buildPurchaseLines(ctx, req.Lines)
	if err != nil {
		return domain.Purchase{}, err
	}
	if err := purchase.SetLines(lines); err != nil {
		return domain.Purchase{}, err
	}
	if err := purchase.SetTax(req.Tax); err != nil {
		return domain.Purchase{}, err
	}
	purchase.Notes = strings.TrimSpace(req.Notes)

	var created *domain.Purchase
	err = s.assignOrderNumber(ctx, domain.PurchaseNumberPrefix, date, func(number string) error {
		purchase.OrderNumber = number
		var createErr error
		created, createErr = s.repo.CreatePurchase(ctx, *purchase)
		return createErr
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, actor, "purchase_create", "purchase", created.ID,
		fmt.Sprintf("order=%s,supplier=%s,total=%s", created.OrderNumber, created.SupplierID, created.Total.StringFixed(2)))
	s.logger.Info("purchase created",
		zap.String("purchase_id", created.ID),
		zap.String("order_number", created.OrderNumber))
	return *created, nil
}

func (s *Service) UpdatePurchase(ctx context.Context, actor domain.Actor, id string, req domain.PurchaseUpdateRequest) (domain.Purchase, error) {
	if _, err := s.requireAdmin(ctx, actor); err != nil {
		return domain.Purchase{}, err
	}
	purchase, err := s.repo.GetPurchase(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Purchase{}, err
	}
	if purchase.Status != domain.PurchaseStatusPending {
		return domain.Purchase{}, &domain.StateError{Entity: "purchase", ID: purchase.ID, Status: purchase.Status.String(), Action: "edit"}
	}

	if req.SupplierID != nil {
		supplierID := strings.TrimSpace(*req.SupplierID)
		if err := s.checkSupplier(ctx, supplierID); err != nil {
			return domain.Purchase{}, err
		}
		purchase.SupplierID = supplierID
	}
	if req.Lines != nil {
		lines, err := s.buildPurchaseLines(ctx, *req.Lines)
		if err != nil {
			return domain.Purchase{}, err
		}
		if err := purchase.SetLines(lines); err != nil {
			return domain.Purchase{}, err
		}
	}
	if req.Tax != nil {
		if err := purchase.SetTax(*req.Tax); err != nil {
			return domain.Purchase{}, err
		}
	}
	if req.Notes != nil {
		purchase.Notes = strings.TrimSpace(*req.Notes)
	}
	if err := purchase.Recalculate(); err != nil {
		return domain.Purchase{}, err
	}

	now := s.now()
	purchase.UpdatedAt = now
	saved, err := s.repo.CommitPurchase(ctx, store.PurchaseCommit{
		Purchase:       *purchase,
		ExpectedStatus: domain.PurchaseStatusPending,
		EmployeeID:     actor.EmployeeID,
		At:             now,
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, actor, "purchase_update", "purchase", saved.ID,
		fmt.Sprintf("lines=%d,total=%s", len(saved.Lines), saved.Total.StringFixed(2)))
	return *saved, nil
}

// ReceivePurchase adds every line to stock and marks the purchase received
// in one commit. Receiving twice is a state error.
func (s *Service) ReceivePurchase(ctx context.Context, actor domain.Actor, id string) (domain.Purchase, error) {
	if _, err := s.requireAdmin(ctx, actor); err != nil {
		return domain.Purchase{}, err
	}
	purchase, err := s.repo.GetPurchase(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Purchase{}, err
	}

	expected := purchase.Status
	now := s.now()
	adjustments, err := purchase.Receive(now)
	if err != nil {
		return domain.Purchase{}, err
	}

	saved, err := s.repo.CommitPurchase(ctx, store.PurchaseCommit{
		Purchase:       *purchase,
		ExpectedStatus: expected,
		Adjustments:    adjustments,
		EmployeeID:     actor.EmployeeID,
		At:             now,
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.stockCommitted(ctx, adjustments)
	s.metrics.RecordTransition("purchase", string(domain.PurchaseStatusReceived))
	s.logAudit(ctx, actor, "purchase_receive", "purchase", saved.ID,
		fmt.Sprintf("order=%s,lines=%d", saved.OrderNumber, len(saved.Lines)))
	s.logger.Info("purchase received",
		zap.String("purchase_id", saved.ID),
		zap.String("order_number", saved.OrderNumber),
		zap.Int("lines", len(saved.Lines)))
	return *saved, nil
}

func (s *Service) CancelPurchase(ctx context.Context, actor domain.Actor, id string, reason string) (domain.Purchase, error) {
	if _, err := s.requireAdmin(ctx, actor); err != nil {
		return domain.Purchase{}, err
	}
	purchase, err := s.repo.GetPurchase(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Purchase{}, err
	}

	expected := purchase.Status
	now := s.now()
	if err := purchase.Cancel(now, reason); err != nil {
		return domain.Purchase{}, err
	}

	saved, err := s.repo.CommitPurchase(ctx, store.PurchaseCommit{
		Purchase:       *purchase,
		ExpectedStatus: expected,
		EmployeeID:     actor.EmployeeID,
		At:             now,
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.metrics.RecordTransition("purchase", string(domain.PurchaseStatusCancelled))
	s.logAudit(ctx, actor, "purchase_cancel", "purchase", saved.ID, "reason="+saved.CancelReason)
	return *saved, nil
}

func (s *Service) checkSupplier(ctx context.Context, supplierID string) error {
	supplier, err := s.repo.GetSupplier(ctx, supplierID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewValidationError("supplier_id", "does not exist")
		}
		return err
	}
	if !supplier.Active {
		return domain.NewValidationError("supplier_id", "is inactive")
	}
	return nil
}

func (s *Service) buildPurchaseLines(ctx context.Context, inputs []domain.PurchaseLineInput) ([]domain.PurchaseLine, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, strings.TrimSpace(in.ProductID))
	}
	products, err := s.resolveProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.PurchaseLine, 0, len(inputs))
	for i, in := range inputs {
		line, err := domain.NewPurchaseLine(products[ids[i]], in.Quantity, in.UnitPrice)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}
