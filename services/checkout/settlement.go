package checkout

import (
	"rallysphere/pkg/money"
)

// SettlementInput captures everything the fee computation depends on.
// Amounts are minor currency units, rates are basis points.
type SettlementInput struct {
	ItemAmount        int64
	ShippingAmount    int64
	CreditApplied     int64
	ProcessorFeeBps   int64
	ProcessorFeeFixed int64
	CommissionBps     int64
	TaxBps            int64
}

// Settlement is the full fee breakdown for a purchase.
//
// The processor fee is charged on the pre-discount amount: applying reward
// credits does not shrink what the processor takes. The platform commission
// is likewise a share of the pre-discount item price. Tax applies to what
// the buyer actually pays for goods and shipping, after the discount.
type Settlement struct {
	ItemAmount     int64 `json:"item_amount"`
	ShippingAmount int64 `json:"shipping_amount"`
	Discount       int64 `json:"discount"`
	TaxableAmount  int64 `json:"taxable_amount"`
	Tax            int64 `json:"tax"`
	ProcessorFee   int64 `json:"processor_fee"`
	Commission     int64 `json:"commission"`
	Total          int64 `json:"total"`
	ClubNet        int64 `json:"club_net"`
}

func ComputeSettlement(in SettlementInput) Settlement {
	discount := min(in.CreditApplied, in.ItemAmount)
	preDiscount := in.ItemAmount + in.ShippingAmount

	processorFee := money.RoundBps(preDiscount, in.ProcessorFeeBps) + in.ProcessorFeeFixed
	commission := money.RoundBps(in.ItemAmount, in.CommissionBps)

	taxable := in.ItemAmount - discount + in.ShippingAmount
	tax := money.RoundBps(taxable, in.TaxBps)

	return Settlement{
		ItemAmount:     in.ItemAmount,
		ShippingAmount: in.ShippingAmount,
		Discount:       discount,
		TaxableAmount:  taxable,
		Tax:            tax,
		ProcessorFee:   processorFee,
		Commission:     commission,
		Total:          taxable + tax + processorFee + commission,
		ClubNet:        taxable + tax,
	}
}
