package promo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regisync/backend/internal/domain"
	"regisync/backend/internal/promo"
)

func bundle() domain.ProductBundle {
	return domain.ProductBundle{
		Code:            "B1",
		Name:            "よりどり2点",
		SellingTaxClass: domain.TaxClassExclusive,
		SellingTax:      10,
		Quantity:        2,
		Discount:        100,
		ProductCodes:    []string{"4901", "4902"},
	}
}

func line(code string, qty int) domain.BasketLine {
	return domain.BasketLine{
		ProductCode:     code,
		SellingPrice:    500,
		SellingTaxClass: domain.TaxClassExclusive,
		SellingTax:      10,
		Division:        domain.DivisionOTC,
		Quantity:        qty,
		OutputReceipt:   true,
	}
}

func TestApplyBundles_AddsDiscountPerMultiple(t *testing.T) {
	out := promo.ApplyBundles([]domain.BasketLine{line("4901", 3), line("4902", 2)}, []domain.ProductBundle{bundle()})

	require.Len(t, out, 3)
	discount := out[2]
	assert.Empty(t, discount.ProductCode)
	assert.Equal(t, int64(-200), discount.SellingPrice)
	assert.Equal(t, domain.DivisionOTC, discount.Division)
	assert.True(t, discount.OutputReceipt)
}

func TestApplyBundles_IsStableOnRepeat(t *testing.T) {
	basket := []domain.BasketLine{line("4901", 2)}
	once := promo.ApplyBundles(basket, []domain.ProductBundle{bundle()})
	twice := promo.ApplyBundles(once, []domain.ProductBundle{bundle()})

	assert.Equal(t, once, twice)
	assert.Len(t, basket, 1, "input must not be modified")
}

func TestApplyBundles_RemovesDiscountBelowThreshold(t *testing.T) {
	withDiscount := promo.ApplyBundles([]domain.BasketLine{line("4901", 2)}, []domain.ProductBundle{bundle()})
	withDiscount[0].Quantity = 1

	out := promo.ApplyBundles(withDiscount, []domain.ProductBundle{bundle()})
	assert.Len(t, out, 1)
}

func TestApplyBundles_IgnoresUnrelatedProducts(t *testing.T) {
	out := promo.ApplyBundles([]domain.BasketLine{line("9999", 10)}, []domain.ProductBundle{bundle()})
	assert.Len(t, out, 1)
}
