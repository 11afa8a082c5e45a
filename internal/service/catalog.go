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

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, actor domain.Actor, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := s.requireAdmin(ctx, actor); err != nil {
		return domain.Product{}, err
	}
	if req.InitialStock < 0 {
		return domain.Product{}, domain.NewValidationError("initial_stock", "cannot be negative")
	}

	now := s.now()
	product := domain.Product{
		ID:            xid.New("prd"),
		Code:          strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:          strings.TrimSpace(req.Name),
		CategoryID:    strings.TrimSpace(req.CategoryID),
		PurchasePrice: req.PurchasePrice.Round(2),
		SalePrice:     req.SalePrice.Round(2),
		MinStock:      req.MinStock,
		OnHand:        req.InitialStock,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}
	if _, err := s.repo.GetCategory(ctx, product.CategoryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Product{}, domain.NewValidationError("category_id", "does not exist")
		}
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, product, actor.EmployeeID)
	if err != nil {
		return domain.Product{}, err
	}
	if req.InitialStock > 0 {
		s.stockCommitted(ctx, []domain.StockAdjustment{{
			ProductID:  created.ID,
			Quantity:   req.InitialStock,
			Kind:       domain.StockInbound,
			SourceType: domain.SourceInitial,
		}})
	}

	s.logAudit(ctx, actor, "product_create", "product", created.ID,
		fmt.Sprintf("code=%s,sale_price=%s,stock=%d", created.Code, created.SalePrice.StringFixed(2), req.InitialStock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, actor domain.Actor, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := s.requireAdmin(ctx, actor); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.CategoryID != nil {
		categoryID := strings.TrimSpace(*req.CategoryID)
		if _, err := s.repo.GetCategory(ctx, categoryID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Product{}, domain.NewValidationError("category_id", "does not exist")
			}
			return domain.Product{}, err
		}
		updated.CategoryID = categoryID
	}
	if req.PurchasePrice != nil {
		updated.PurchasePrice = req.PurchasePrice.Round(2)
	}
	if req.SalePrice != nil {
		updated.SalePrice = req.SalePrice.Round(2)
	}
	if req.MinStock != nil {
		updated.MinStock = *req.MinStock
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	updated.UpdatedAt = s.now()
	if err := updated.Validate(); err != nil {
		return domain.Product{}, err
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	if saved.MinStock != existing.MinStock || saved.Active != existing.Active || !saved.PurchasePrice.Equal(existing.PurchasePrice) {
		if err := s.reports.InvalidateRestockReport(ctx); err != nil {
			s.logger.Warn("failed to invalidate restock report", zap.Error(err))
		}
	}

	s.logAudit(ctx, actor, "product_update", "product", saved.ID,
		fmt.Sprintf("active=%t,purchase_price=%s,sale_price=%s,min_stock=%d",
			saved.Active, saved.PurchasePrice.StringFixed(2), saved.SalePrice.StringFixed(2), saved.MinStock))
	return *saved, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, actor domain.Actor, req domain.CategoryCreateRequest) (domain.Category, error) {
	if _, err := s.requireAdmin(ctx, actor); err != nil {
		return domain.Category{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Category{}, domain.NewValidationError("name", "is required")
	}

	created, err := s.repo.CreateCategory(ctx, domain.Category{
		ID:          xid.New("cat"),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Active:      true,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, actor, "category_create", "category", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, actor domain.Actor, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if _, err := s.requireAdmin(ctx, actor); err != nil {
		return domain.Supplier{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Supplier{}, domain.NewValidationError("name", "is required")
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		Name:      name,
		TaxID:     strings.TrimSpace(req.TaxID),
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		Address:   strings.TrimSpace(req.Address),
		Active:    true,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, actor, "supplier_create", "supplier", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

// CreateCustomer is open to sellers; customers are registered at the counter.
func (s *Service) CreateCustomer(ctx context.Context, actor domain.Actor, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if _, err := s.resolveEmployee(ctx, actor); err != nil {
		return domain.Customer{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, domain.NewValidationError("name", "is required")
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cus"),
		Name:      name,
		Document:  strings.TrimSpace(req.Document),
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, actor, "customer_create", "customer", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	return s.repo.ListPaymentMethods(ctx)
}

func (s *Service) ListEmployees(ctx context.Context, actor domain.Actor) ([]domain.Employee, error) {
	if _, err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return s.repo.ListEmployees(ctx)
}

// resolveProducts re-reads every referenced product and requires it to be
// active.
func (s *Service) resolveProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		product, ok := products[id]
		if !ok {
			return nil, domain.NewValidationError("product_id", fmt.Sprintf("product %s does not exist", id))
		}
		if !product.Active {
			return nil, domain.NewValidationError("product_id", fmt.Sprintf("product %s is inactive", product.Code))
		}
	}
	return products, nil
}
