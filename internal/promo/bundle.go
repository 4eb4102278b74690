package promo

import (
	"slices"

	"regisync/backend/internal/domain"
)

// ApplyBundles appends one discount line per satisfied bundle. A bundle is
// satisfied when the basket holds at least Quantity units of its products; the
// discount is granted once per full multiple. An existing line carrying the
// bundle's name is replaced so repeated calls are stable.
func ApplyBundles(lines []domain.BasketLine, bundles []domain.ProductBundle) []domain.BasketLine {
	out := slices.Clone(lines)
	for _, bundle := range bundles {
		if bundle.Quantity < 1 || bundle.Discount <= 0 {
			continue
		}

		count := 0
		for _, line := range out {
			if line.ProductCode != "" && slices.Contains(bundle.ProductCodes, line.ProductCode) {
				count += line.Quantity
			}
		}

		existing := slices.IndexFunc(out, func(l domain.BasketLine) bool {
			return l.ProductCode == "" && l.ProductName == bundle.Name
		})
		if count < bundle.Quantity {
			if existing >= 0 {
				out = slices.Delete(out, existing, existing+1)
			}
			continue
		}

		discount := domain.BasketLine{
			ProductName:     bundle.Name,
			SellingPrice:    -int64(count/bundle.Quantity) * bundle.Discount,
			SellingTaxClass: bundle.SellingTaxClass,
			SellingTax:      bundle.SellingTax,
			Division:        domain.DivisionOTC,
			Quantity:        1,
			OutputReceipt:   true,
		}
		if existing >= 0 {
			out[existing] = discount
		} else {
			out = append(out, discount)
		}
	}
	return out
}
