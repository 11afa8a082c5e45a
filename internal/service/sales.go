package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"elektromart/backend/internal/domain"
	"elektromart/backend/internal/store"
	"elektromart/backend/internal/xid"
)

const draftNumber = "DRAFT"

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, status string, limit int) ([]domain.Sale, error) {
	filter := domain.SaleStatus(strings.ToUpper(strings.TrimSpace(status)))
	if filter != "" && !filter.IsValid() {
		return nil, domain.NewValidationError("status", "must be P, C or A")
	}
	return s.repo.ListSales(ctx, filter, clampLimit(limit))
}

// CreateSale builds a pending sale for the acting employee. The invoice
// number is only drawn once every line and header value has been accepted.
func (s *Service) CreateSale(ctx context.Context, actor domain.Actor, req domain.SaleCreateRequest) (domain.Sale, error) {
	employee, err := s.resolveEmployee(ctx, actor)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := s.checkSaleParties(ctx, req.CustomerID, req.PaymentMethodID); err != nil {
		return domain.Sale{}, err
	}

	now := s.now()
	date, err := orderDate(req.Date, now)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := domain.NewSale(xid.New("sale"), draftNumber, date,
		strings.TrimSpace(req.CustomerID), employee.ID, strings.TrimSpace(req.PaymentMethodID))
	if err != nil {
		return domain.Sale{}, err
	}
	sale.CreatedAt = now
	sale.UpdatedAt = now

	lines, err := s.buildSaleLines(ctx, req.Lines)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := sale.SetLines(lines); err != nil {
		return domain.Sale{}, err
	}
	if err := sale.SetDiscount(req.Discount); err != nil {
		return domain.Sale{}, err
	}
	if err := applySaleTax(sale, req.Tax, req.TaxRatePercent); err != nil {
		return domain.Sale{}, err
	}
	sale.Notes = strings.TrimSpace(req.Notes)
	if err := sale.Recalculate(); err != nil {
		return domain.Sale{}, err
	}

	var created *domain.Sale
	err = s.assignOrderNumber(ctx, domain.SaleNumberPrefix, date, func(number string) error {
		sale.InvoiceNumber = number
		var createErr error
		created, createErr = s.repo.CreateSale(ctx, *sale)
		return createErr
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, actor, "sale_create", "sale", created.ID,
		fmt.Sprintf("invoice=%s,lines=%d,total=%s", created.InvoiceNumber, len(created.Lines), created.Total.StringFixed(2)))
	s.logger.Info("sale created",
		zap.String("sale_id", created.ID),
		zap.String("invoice_number", created.InvoiceNumber),
		zap.String("total", created.Total.StringFixed(2)))
	return *created, nil
}

// UpdateSale edits a pending sale. The edit is applied to a loaded copy and
// only written if every change is accepted.
func (s *Service) UpdateSale(ctx context.Context, actor domain.Actor, id string, req domain.SaleUpdateRequest) (domain.Sale, error) {
	if _, err := s.resolveEmployee(ctx, actor); err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status != domain.SaleStatusPending {
		return domain.Sale{}, &domain.StateError{Entity: "sale", ID: sale.ID, Status: sale.Status.String(), Action: "edit"}
	}

	customerID := sale.CustomerID
	if req.CustomerID != nil {
		customerID = strings.TrimSpace(*req.CustomerID)
	}
	paymentMethodID := sale.PaymentMethodID
	if req.PaymentMethodID != nil {
		paymentMethodID = strings.TrimSpace(*req.PaymentMethodID)
	}
	if err := s.checkSaleParties(ctx, customerID, paymentMethodID); err != nil {
		return domain.Sale{}, err
	}
	sale.CustomerID = customerID
	sale.PaymentMethodID = paymentMethodID

	if req.Lines != nil {
		lines, err := s.buildSaleLines(ctx, *req.Lines)
		if err != nil {
			return domain.Sale{}, err
		}
		// A new discount is checked against the new subtotal, not the old one.
		if req.Discount != nil {
			if err := sale.SetDiscount(decimal.Zero); err != nil {
				return domain.Sale{}, err
			}
		}
		if err := sale.SetLines(lines); err != nil {
			return domain.Sale{}, err
		}
	}
	if req.Discount != nil {
		if err := sale.SetDiscount(*req.Discount); err != nil {
			return domain.Sale{}, err
		}
	}
	if req.Tax != nil || req.TaxRatePercent != nil {
		tax := sale.Tax
		if req.Tax != nil {
			tax = *req.Tax
		}
		if err := applySaleTax(sale, tax, req.TaxRatePercent); err != nil {
			return domain.Sale{}, err
		}
	}
	if req.Notes != nil {
		sale.Notes = strings.TrimSpace(*req.Notes)
	}
	if err := sale.Recalculate(); err != nil {
		return domain.Sale{}, err
	}

	now := s.now()
	sale.UpdatedAt = now
	saved, err := s.repo.CommitSale(ctx, store.SaleCommit{
		Sale:           *sale,
		ExpectedStatus: domain.SaleStatusPending,
		EmployeeID:     actor.EmployeeID,
		At:             now,
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, actor, "sale_update", "sale", saved.ID,
		fmt.Sprintf("lines=%d,discount=%s,total=%s", len(saved.Lines), saved.Discount.StringFixed(2), saved.Total.StringFixed(2)))
	return *saved, nil
}

// CompleteSale decrements stock for every line and marks the sale completed
// in one commit. Completing twice is a state error with no stock effect.
func (s *Service) CompleteSale(ctx context.Context, actor domain.Actor, id string) (domain.Sale, error) {
	if _, err := s.resolveEmployee(ctx, actor); err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	if len(sale.Lines) > 0 {
		if _, err := s.resolveProducts(ctx, saleProductIDs(sale.Lines)); err != nil {
			return domain.Sale{}, err
		}
	}

	expected := sale.Status
	now := s.now()
	adjustments, err := sale.Complete(now)
	if err != nil {
		return domain.Sale{}, err
	}

	saved, err := s.repo.CommitSale(ctx, store.SaleCommit{
		Sale:           *sale,
		ExpectedStatus: expected,
		Adjustments:    adjustments,
		EmployeeID:     actor.EmployeeID,
		At:             now,
	})
	if err != nil {
		s.stockRejected(err)
		return domain.Sale{}, err
	}

	s.stockCommitted(ctx, adjustments)
	s.metrics.RecordTransition("sale", string(domain.SaleStatusCompleted))
	s.logAudit(ctx, actor, "sale_complete", "sale", saved.ID,
		fmt.Sprintf("invoice=%s,total=%s", saved.InvoiceNumber, saved.Total.StringFixed(2)))
	s.logger.Info("sale completed",
		zap.String("sale_id", saved.ID),
		zap.String("invoice_number", saved.InvoiceNumber),
		zap.Int("lines", len(saved.Lines)))
	return *saved, nil
}

// AnnulSale cancels a sale. A completed sale has its stock restored in the
// same commit. A completed sale with a processed return cannot be annulled.
func (s *Service) AnnulSale(ctx context.Context, actor domain.Actor, id string, reason string) (domain.Sale, error) {
	if _, err := s.resolveEmployee(ctx, actor); err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}

	if sale.IsCompleted() {
		ret, err := s.repo.GetReturnBySale(ctx, sale.ID)
		switch {
		case err == nil && ret.IsProcessed():
			return domain.Sale{}, &domain.StateError{Entity: "sale", ID: sale.ID, Status: "returned", Action: "annul"}
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return domain.Sale{}, err
		}
	}

	expected := sale.Status
	now := s.now()
	adjustments, err := sale.Cancel(now, reason)
	if err != nil {
		return domain.Sale{}, err
	}

	saved, err := s.repo.CommitSale(ctx, store.SaleCommit{
		Sale:           *sale,
		ExpectedStatus: expected,
		Adjustments:    adjustments,
		EmployeeID:     actor.EmployeeID,
		At:             now,
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.stockCommitted(ctx, adjustments)
	s.metrics.RecordTransition("sale", string(domain.SaleStatusCancelled))
	s.logAudit(ctx, actor, "sale_annul", "sale", saved.ID,
		fmt.Sprintf("from=%s,restocked_lines=%d,reason=%s", expected, len(adjustments), saved.CancelReason))
	s.logger.Info("sale annulled",
		zap.String("sale_id", saved.ID),
		zap.String("from_status", string(expected)),
		zap.Int("restocked_lines", len(adjustments)))
	return *saved, nil
}

// GenerateInvoice renders the invoice of a completed sale with the catalog
// re-read at render time.
func (s *Service) GenerateInvoice(ctx context.Context, id string) (domain.DocumentResponse, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.DocumentResponse{}, err
	}
	if !sale.IsCompleted() {
		return domain.DocumentResponse{}, &domain.StateError{Entity: "sale", ID: sale.ID, Status: sale.Status.String(), Action: "invoice"}
	}

	customer, err := s.repo.GetCustomer(ctx, sale.CustomerID)
	if err != nil {
		return domain.DocumentResponse{}, err
	}
	employee, err := s.repo.GetEmployee(ctx, sale.EmployeeID)
	if err != nil {
		return domain.DocumentResponse{}, err
	}
	paymentMethod, err := s.repo.GetPaymentMethod(ctx, sale.PaymentMethodID)
	if err != nil {
		return domain.DocumentResponse{}, err
	}
	products, err := s.repo.GetProductsByIDs(ctx, saleProductIDs(sale.Lines))
	if err != nil {
		return domain.DocumentResponse{}, err
	}

	text, err := domain.RenderInvoice(domain.InvoiceDocument{
		Sale:          *sale,
		Customer:      *customer,
		Employee:      *employee,
		PaymentMethod: *paymentMethod,
		Products:      products,
	})
	if err != nil {
		return domain.DocumentResponse{}, err
	}
	return domain.DocumentResponse{Number: sale.InvoiceNumber, Text: text}, nil
}

func (s *Service) checkSaleParties(ctx context.Context, customerID string, paymentMethodID string) error {
	if _, err := s.repo.GetCustomer(ctx, strings.TrimSpace(customerID)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewValidationError("customer_id", "does not exist")
		}
		return err
	}
	method, err := s.repo.GetPaymentMethod(ctx, strings.TrimSpace(paymentMethodID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewValidationError("payment_method_id", "does not exist")
		}
		return err
	}
	if !method.Active {
		return domain.NewValidationError("payment_method_id", "is inactive")
	}
	return nil
}

func (s *Service) buildSaleLines(ctx context.Context, inputs []domain.SaleLineInput) ([]domain.SaleLine, error) {
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

	lines := make([]domain.SaleLine, 0, len(inputs))
	for i, in := range inputs {
		line, err := domain.NewSaleLine(products[ids[i]], in.Quantity, in.UnitPrice, in.Discount)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// applySaleTax sets either a fixed tax or a rate applied to the discounted
// subtotal. A rate wins when both are given.
func applySaleTax(sale *domain.Sale, fixed decimal.Decimal, ratePercent *float64) error {
	if ratePercent != nil {
		if *ratePercent < 0 || *ratePercent > 100 {
			return domain.NewValidationError("tax_rate_percent", "must be between 0 and 100")
		}
		base := sale.Subtotal.Sub(sale.Discount)
		return sale.SetTax(domain.TaxFromRate(base, decimal.NewFromFloat(*ratePercent)))
	}
	return sale.SetTax(fixed)
}

func saleProductIDs(lines []domain.SaleLine) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}
