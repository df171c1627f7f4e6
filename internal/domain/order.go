package domain

import (
	"strings"
)

// OrderBilling is the part of a completed order used to identify the customer.
type OrderBilling struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// OrderLineItem is a purchased product line.
type OrderLineItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// CompletedOrder is what the checkout collaborator reports once an order completes.
type CompletedOrder struct {
	ID        int64           `json:"id"`
	Number    string          `json:"number"`
	Status    string          `json:"status"`
	Billing   OrderBilling    `json:"billing"`
	LineItems []OrderLineItem `json:"line_items"`
}

// CustomerIdentity falls back to first_last_phone when the order has no email.
func (o CompletedOrder) CustomerIdentity() Identity {
	if email := strings.TrimSpace(o.Billing.Email); email != "" {
		return VerifiedIdentity(email)
	}
	if strings.TrimSpace(o.Billing.FirstName+o.Billing.LastName+o.Billing.Phone) == "" {
		return Identity{}
	}
	raw := strings.Join([]string{o.Billing.FirstName, o.Billing.LastName, o.Billing.Phone}, "_")
	return VerifiedIdentity(strings.Join(strings.Fields(raw), "_"))
}

// CustomerName joins the billing names.
func (o CompletedOrder) CustomerName() string {
	return strings.TrimSpace(o.Billing.FirstName + " " + o.Billing.LastName)
}

// UsageAllowance gives one usage per purchased unit, at least one per order.
func (o CompletedOrder) UsageAllowance() int {
	if len(o.LineItems) == 0 {
		return 1
	}
	total := 0
	for _, item := range o.LineItems {
		if item.Quantity <= 0 {
			total++
			continue
		}
		total += item.Quantity
	}
	return total
}
