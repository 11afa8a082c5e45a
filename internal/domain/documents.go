package domain

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// InvoiceDocument bundles a sale with the catalog rows re-resolved for it.
type InvoiceDocument struct {
	Sale          Sale
	Customer      Customer
	Employee      Employee
	PaymentMethod PaymentMethod
	Products      map[string]Product
}

// RenderInvoice produces the plain-text invoice of a completed sale.
func RenderInvoice(doc InvoiceDocument) (string, error) {
	sale := doc.Sale
	if sale.Status != SaleStatusCompleted {
		return "", &StateError{Entity: "sale", ID: sale.ID, Status: sale.Status.String(), Action: "invoice"}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INVOICE %s\n", sale.InvoiceNumber)
	fmt.Fprintf(&b, "Date: %s\n", sale.Date.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Customer: %s", doc.Customer.Name)
	if doc.Customer.Document != "" {
		fmt.Fprintf(&b, " (%s)", doc.Customer.Document)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Seller: %s\n", doc.Employee.Name)
	fmt.Fprintf(&b, "Payment: %s\n\n", doc.PaymentMethod.Name)

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Code\tProduct\tQty\tUnit\tDiscount\tSubtotal\t")
	for _, line := range sale.Lines {
		product := doc.Products[line.ProductID]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t\n",
			product.Code, product.Name, line.Quantity,
			line.UnitPrice.StringFixed(2), line.Discount.StringFixed(2), line.Subtotal.StringFixed(2))
	}
	_ = tw.Flush()

	b.WriteString("\n")
	fmt.Fprintf(&b, "Subtotal: %s\n", sale.Subtotal.StringFixed(2))
	fmt.Fprintf(&b, "Discount: %s\n", sale.Discount.StringFixed(2))
	fmt.Fprintf(&b, "Tax: %s\n", sale.Tax.StringFixed(2))
	fmt.Fprintf(&b, "TOTAL: %s\n", sale.Total.StringFixed(2))
	if sale.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", sale.Notes)
	}
	return b.String(), nil
}

type CreditNoteDocument struct {
	Return   Return
	Sale     Sale
	Customer Customer
}

// RenderCreditNote produces the plain-text credit note of a processed return.
func RenderCreditNote(doc CreditNoteDocument) (string, error) {
	ret := doc.Return
	if !ret.IsProcessed() {
		return "", &StateError{Entity: "return", ID: ret.ID, Status: ret.Status.String(), Action: "issue credit note for"}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREDIT NOTE %s\n", ret.ID)
	fmt.Fprintf(&b, "Date: %s\n", ret.Date.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Original invoice: %s (%s)\n", doc.Sale.InvoiceNumber, doc.Sale.Date.Format("2006-01-02"))
	fmt.Fprintf(&b, "Customer: %s\n", doc.Customer.Name)
	fmt.Fprintf(&b, "Reason: %s\n", ret.Reason)
	fmt.Fprintf(&b, "Sale total: %s\n", doc.Sale.Total.StringFixed(2))
	fmt.Fprintf(&b, "REFUNDED: %s\n", ret.RefundedAmount.StringFixed(2))
	return b.String(), nil
}
