package checkout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeSettlement(t *testing.T) {
	cases := []struct {
		name string
		in   SettlementInput
		want Settlement
	}{
		{
			name: "no discount no shipping",
			in: SettlementInput{
				ItemAmount:        10000,
				ProcessorFeeBps:   290,
				ProcessorFeeFixed: 30,
				CommissionBps:     500,
				TaxBps:            800,
			},
			want: Settlement{
				ItemAmount:    10000,
				TaxableAmount: 10000,
				Tax:           800,
				ProcessorFee:  320, // 290 + 30 fixed
				Commission:    500,
				Total:         11620,
				ClubNet:       10800,
			},
		},
		{
			name: "credits discount item but not fees",
			in: SettlementInput{
				ItemAmount:        10000,
				CreditApplied:     2000,
				ProcessorFeeBps:   290,
				ProcessorFeeFixed: 30,
				CommissionBps:     500,
				TaxBps:            800,
			},
			want: Settlement{
				ItemAmount:    10000,
				Discount:      2000,
				TaxableAmount: 8000,
				Tax:           640,
				ProcessorFee:  320, // still computed on the pre-discount 10000
				Commission:    500, // still 5% of the pre-discount item price
				Total:         9460,
				ClubNet:       8640,
			},
		},
		{
			name: "shipping is taxed but not commissioned",
			in: SettlementInput{
				ItemAmount:        4500,
				ShippingAmount:    700,
				ProcessorFeeBps:   290,
				ProcessorFeeFixed: 30,
				CommissionBps:     500,
				TaxBps:            800,
			},
			want: Settlement{
				ItemAmount:     4500,
				ShippingAmount: 700,
				TaxableAmount:  5200,
				Tax:            416,
				ProcessorFee:   181, // round(5200*2.9%)=151, +30
				Commission:     225,
				Total:          6022,
				ClubNet:        5616,
			},
		},
		{
			name: "credits capped at item amount",
			in: SettlementInput{
				ItemAmount:     1000,
				ShippingAmount: 500,
				CreditApplied:  5000,
				TaxBps:         800,
			},
			want: Settlement{
				ItemAmount:     1000,
				ShippingAmount: 500,
				Discount:       1000, // never discounts shipping
				TaxableAmount:  500,
				Tax:            40,
				Total:          540,
				ClubNet:        540,
			},
		},
		{
			name: "fully discounted free of tax base",
			in: SettlementInput{
				ItemAmount:        2000,
				CreditApplied:     2000,
				ProcessorFeeBps:   290,
				ProcessorFeeFixed: 30,
				CommissionBps:     500,
			},
			want: Settlement{
				ItemAmount:   2000,
				Discount:     2000,
				ProcessorFee: 88, // round(2000*2.9%)=58, +30
				Commission:   100,
				Total:        188,
				ClubNet:      0,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ComputeSettlement(tc.in))
		})
	}
}
