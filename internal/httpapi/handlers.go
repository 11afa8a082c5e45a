package httpapi

import (
	"net/http"
	"strings"

	"elektromart/backend/internal/domain"
)

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	includeInactive := strings.EqualFold(r.URL.Query().Get("include_inactive"), "true")
	products, err := a.service.ListProducts(r.Context(), includeInactive)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	product, err := a.service.CreateProduct(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), actorFrom(r), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleListMovements(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	movements, err := a.service.ListStockMovements(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

func (a *API) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.service.ListCategories(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (a *API) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req domain.CategoryCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	category, err := a.service.CreateCategory(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

func (a *API) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := a.service.ListSuppliers(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suppliers)
}

func (a *API) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req domain.SupplierCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	supplier, err := a.service.CreateSupplier(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, supplier)
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.ListCustomers(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	customer, err := a.service.CreateCustomer(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

func (a *API) handleListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := a.service.ListPaymentMethods(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, methods)
}

func (a *API) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := a.service.ListEmployees(r.Context(), actorFrom(r))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, employees)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parsePositiveLimit(q.Get("limit"), 100, 500)
	sales, err := a.service.ListSales(r.Context(), q.Get("status"), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	sale, err := a.service.CreateSale(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleUpdateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	sale, err := a.service.UpdateSale(r.Context(), actorFrom(r), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleCompleteSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.CompleteSale(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleAnnulSale(w http.ResponseWriter, r *http.Request) {
	var req domain.AnnulRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	sale, err := a.service.AnnulSale(r.Context(), actorFrom(r), r.PathValue("id"), req.Reason)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleInvoice(w http.ResponseWriter, r *http.Request) {
	doc, err := a.service.GenerateInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeDocument(w, r, doc)
}

func (a *API) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parsePositiveLimit(q.Get("limit"), 100, 500)
	purchases, err := a.service.ListPurchases(r.Context(), q.Get("status"), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purchases)
}

func (a *API) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	purchase, err := a.service.CreatePurchase(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, purchase)
}

func (a *API) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	purchase, err := a.service.GetPurchase(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purchase)
}

func (a *API) handleUpdatePurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	purchase, err := a.service.UpdatePurchase(r.Context(), actorFrom(r), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purchase)
}

func (a *API) handleReceivePurchase(w http.ResponseWriter, r *http.Request) {
	purchase, err := a.service.ReceivePurchase(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purchase)
}

func (a *API) handleCancelPurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.AnnulRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	purchase, err := a.service.CancelPurchase(r.Context(), actorFrom(r), r.PathValue("id"), req.Reason)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purchase)
}

func (a *API) handleListReturns(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	returns, err := a.service.ListReturns(r.Context(), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, returns)
}

func (a *API) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	ret, err := a.service.CreateReturn(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ret)
}

func (a *API) handleGetReturn(w http.ResponseWriter, r *http.Request) {
	ret, err := a.service.GetReturn(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (a *API) handleUpdateReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	ret, err := a.service.UpdateReturn(r.Context(), actorFrom(r), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (a *API) handleProcessReturn(w http.ResponseWriter, r *http.Request) {
	ret, err := a.service.ProcessReturn(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (a *API) handleCreditNote(w http.ResponseWriter, r *http.Request) {
	doc, err := a.service.GenerateCreditNote(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeDocument(w, r, doc)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.service.AdjustStock(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleRestockReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.RestockReport(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleValuation(w http.ResponseWriter, r *http.Request) {
	valuation, err := a.service.InventoryValuation(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valuation)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parsePositiveLimit(q.Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), actorFrom(r), q.Get("date"), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// writeDocument serves JSON by default and the bare text with ?format=text.
func writeDocument(w http.ResponseWriter, r *http.Request, doc domain.DocumentResponse) {
	if strings.EqualFold(r.URL.Query().Get("format"), "text") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(doc.Text))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
