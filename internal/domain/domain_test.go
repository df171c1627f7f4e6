package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseIdentity(t *testing.T) {
	guest := GuestIdentity(time.UnixMilli(1700000000000))
	assert.Equal(t, "guest_1700000000000@guest.local", guest.Value)
	assert.True(t, guest.IsGuest())

	parsed := ParseIdentity("  GUEST_1700000000000@guest.local ")
	assert.Equal(t, guest, parsed)

	verified := ParseIdentity(" A@X.com ")
	assert.Equal(t, IdentityVerified, verified.Kind)
	assert.Equal(t, "a@x.com", verified.Value)

	assert.Equal(t, IdentityVerified, ParseIdentity("guest_abc@guest.local").Kind)
	assert.True(t, ParseIdentity("   ").IsZero())
}

func TestGrantContribution(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	g := Grant{MaxUsage: 3, UsageCount: 1, IsEnabled: true}
	assert.Equal(t, 2, g.Remaining())
	assert.True(t, g.Contributes(now))

	g.UsageCount = 3
	assert.True(t, g.Exhausted())
	assert.True(t, g.Contributes(now), "exhausted grants still enroll the subject")

	g.IsEnabled = false
	assert.False(t, g.Contributes(now))

	g.IsEnabled = true
	g.ExpiresAt = &past
	assert.False(t, g.Contributes(now))
}

func TestRedemptionCodeRedeemable(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		code RedemptionCode
		want bool
	}{
		{"fresh", RedemptionCode{MaxUsage: 2, IsActive: true}, true},
		{"future expiry", RedemptionCode{MaxUsage: 2, IsActive: true, ExpiresAt: &future}, true},
		{"inactive", RedemptionCode{MaxUsage: 2}, false},
		{"expired", RedemptionCode{MaxUsage: 2, IsActive: true, ExpiresAt: &past}, false},
		{"exhausted", RedemptionCode{MaxUsage: 2, CurrentUsage: 2, IsActive: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Redeemable(now))
		})
	}
	assert.Equal(t, "PROMO5", NormalizeCode(" promo5 "))
}

func TestCompletedOrderDerivations(t *testing.T) {
	order := CompletedOrder{
		ID:     1001,
		Number: "WC-1001",
		Billing: OrderBilling{
			FirstName: "Sara",
			LastName:  "Ali",
			Phone:     "0500",
		},
		LineItems: []OrderLineItem{{Quantity: 2}, {Quantity: 0}},
	}
	assert.Equal(t, "sara_ali_0500", order.CustomerIdentity().Value)
	assert.Equal(t, "Sara Ali", order.CustomerName())
	assert.Equal(t, 3, order.UsageAllowance())

	order.Billing.Email = "Sara@Example.com"
	assert.Equal(t, "sara@example.com", order.CustomerIdentity().Value)

	order.LineItems = nil
	assert.Equal(t, 1, order.UsageAllowance())
}
