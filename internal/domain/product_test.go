package domain_test

import (
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestNormalizeCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"abc-1", "ABC-1"},
		{"  sku42 ", "SKU42"},
		{"WIDGET", "WIDGET"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := domain.NormalizeCode(tc.in); got != tc.want {
			t.Fatalf("NormalizeCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestProductValidate(t *testing.T) {
	ok := domain.Product{ID: "prod-1", Code: "WIDGET", Title: "Widget", PriceMinor: 1000, Stock: 5}
	if errs := ok.Validate(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}

	cases := []struct {
		name string
		mut  func(p *domain.Product)
	}{
		{
			name: "no code",
			mut: func(p *domain.Product) {
				p.Code = "   "
			},
		},
		{
			name: "negative price",
			mut: func(p *domain.Product) {
				p.PriceMinor = -1
			},
		},
		{
			name: "negative stock",
			mut: func(p *domain.Product) {
				p.Stock = -3
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			product := ok
			tc.mut(&product)
			if len(product.Validate()) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
		})
	}
}

func TestRequesterPurchaserContact(t *testing.T) {
	withContact := domain.Requester{ID: "user-1", Contact: "user-1@example.com"}
	if got := withContact.PurchaserContact(); got != "user-1@example.com" {
		t.Fatalf("expected contact, got %q", got)
	}

	withoutContact := domain.Requester{ID: "user-1"}
	if got := withoutContact.PurchaserContact(); got != "user-1" {
		t.Fatalf("expected fallback to ID, got %q", got)
	}
}
