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

func (s *Service) GetReturn(ctx context.Context, id string) (domain.Return, error) {
	ret, err := s.repo.GetReturn(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Return{}, err
	}
	return *ret, nil
}

func (s *Service) ListReturns(ctx context.Context, limit int) ([]domain.Return, error) {
	return s.repo.ListReturns(ctx, clampLimit(limit))
}

// CreateReturn records a processed refund against a completed sale. The sale
// is re-read here and again by the store inside the insert.
func (s *Service) CreateReturn(ctx context.Context, actor domain.Actor, req domain.ReturnCreateRequest) (domain.Return, error) {
	employee, err := s.resolveEmployee(ctx, actor)
	if err != nil {
		return domain.Return{}, err
	}
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(req.SaleID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Return{}, domain.NewValidationError("sale_id", "does not exist")
		}
		return domain.Return{}, err
	}

	now := s.now()
	ret, err := domain.NewReturn(xid.New("ret"), *sale, employee.ID, now)
	if err != nil {
		return domain.Return{}, err
	}

	if _, err := s.repo.GetReturnBySale(ctx, sale.ID); err == nil {
		return domain.Return{}, domain.NewValidationError("sale_id", fmt.Sprintf("sale %s already has a return", sale.InvoiceNumber))
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Return{}, err
	}

	ret.Reason = strings.TrimSpace(req.Reason)
	if req.RefundedAmount != nil {
		ret.RefundedAmount = req.RefundedAmount.Round(2)
	}
	if req.Date != nil && !req.Date.IsZero() {
		ret.Date = req.Date.UTC()
	}
	if err := ret.Validate(*sale, now); err != nil {
		return domain.Return{}, err
	}

	created, err := s.repo.CreateReturn(ctx, *ret)
	if err != nil {
		return domain.Return{}, err
	}

	s.metrics.RecordTransition("return", string(created.Status))
	s.logAudit(ctx, actor, "return_create", "return", created.ID,
		fmt.Sprintf("sale=%s,refunded=%s", sale.InvoiceNumber, created.RefundedAmount.StringFixed(2)))
	s.logger.Info("return created",
		zap.String("return_id", created.ID),
		zap.String("sale_id", created.SaleID),
		zap.String("refunded_amount", created.RefundedAmount.StringFixed(2)))
	return *created, nil
}

// UpdateReturn edits reason, refund or date, and may move the return to
// Rejected or back to Processed. A return that ends up Processed must pass
// full validation against the current sale; rejecting is always allowed.
func (s *Service) UpdateReturn(ctx context.Context, actor domain.Actor, id string, req domain.ReturnUpdateRequest) (domain.Return, error) {
	if _, err := s.resolveEmployee(ctx, actor); err != nil {
		return domain.Return{}, err
	}
	ret, err := s.repo.GetReturn(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Return{}, err
	}
	sale, err := s.repo.GetSale(ctx, ret.SaleID)
	if err != nil {
		return domain.Return{}, err
	}

	expected := ret.Status
	now := s.now()
	if req.Reason != nil {
		ret.Reason = strings.TrimSpace(*req.Reason)
	}
	if req.RefundedAmount != nil {
		ret.RefundedAmount = req.RefundedAmount.Round(2)
	}
	if req.Date != nil && !req.Date.IsZero() {
		ret.Date = req.Date.UTC()
	}

	if req.Status != nil && *req.Status != expected {
		switch *req.Status {
		case domain.ReturnStatusRejected:
			if err := ret.Reject(now, ""); err != nil {
				return domain.Return{}, err
			}
		case domain.ReturnStatusProcessed:
			if err := ret.Process(*sale, now); err != nil {
				return domain.Return{}, err
			}
		default:
			return domain.Return{}, domain.NewValidationError("status", "must be P (processed) or R (rejected)")
		}
	}
	if ret.IsProcessed() {
		if err := ret.Validate(*sale, now); err != nil {
			return domain.Return{}, err
		}
	} else if strings.TrimSpace(ret.Reason) == "" {
		return domain.Return{}, domain.NewValidationError("reason", "is required")
	}
	ret.UpdatedAt = now

	saved, err := s.repo.UpdateReturn(ctx, *ret, expected)
	if err != nil {
		return domain.Return{}, err
	}

	if saved.Status != expected {
		s.metrics.RecordTransition("return", string(saved.Status))
	}
	s.logAudit(ctx, actor, "return_update", "return", saved.ID,
		fmt.Sprintf("status=%s,refunded=%s", saved.Status, saved.RefundedAmount.StringFixed(2)))
	return *saved, nil
}

// ProcessReturn moves a rejected return back to Processed after
// re-validating it against the sale as it is now.
func (s *Service) ProcessReturn(ctx context.Context, actor domain.Actor, id string) (domain.Return, error) {
	if _, err := s.resolveEmployee(ctx, actor); err != nil {
		return domain.Return{}, err
	}
	ret, err := s.repo.GetReturn(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Return{}, err
	}
	sale, err := s.repo.GetSale(ctx, ret.SaleID)
	if err != nil {
		return domain.Return{}, err
	}

	expected := ret.Status
	now := s.now()
	if err := ret.Process(*sale, now); err != nil {
		return domain.Return{}, err
	}

	saved, err := s.repo.UpdateReturn(ctx, *ret, expected)
	if err != nil {
		return domain.Return{}, err
	}

	s.metrics.RecordTransition("return", string(domain.ReturnStatusProcessed))
	s.logAudit(ctx, actor, "return_process", "return", saved.ID,
		"refunded="+saved.RefundedAmount.StringFixed(2))
	return *saved, nil
}

func (s *Service) GenerateCreditNote(ctx context.Context, id string) (domain.DocumentResponse, error) {
	ret, err := s.repo.GetReturn(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.DocumentResponse{}, err
	}
	if !ret.IsProcessed() {
		return domain.DocumentResponse{}, &domain.StateError{Entity: "return", ID: ret.ID, Status: ret.Status.String(), Action: "issue credit note for"}
	}
	sale, err := s.repo.GetSale(ctx, ret.SaleID)
	if err != nil {
		return domain.DocumentResponse{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, sale.CustomerID)
	if err != nil {
		return domain.DocumentResponse{}, err
	}

	text, err := domain.RenderCreditNote(domain.CreditNoteDocument{Return: *ret, Sale: *sale, Customer: *customer})
	if err != nil {
		return domain.DocumentResponse{}, err
	}
	return domain.DocumentResponse{Number: ret.ID, Text: text}, nil
}
