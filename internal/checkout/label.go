package checkout

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Button labels
const (
	LabelIdle             = "Add items to continue"
	LabelCalculating      = "Calculating discount…"
	LabelCalculationError = "Unable to calculate total — refresh"
	LabelProceedFormat    = "Proceed to Payment (%s)"
)

// ButtonLabel returns the checkout button copy for snap. The button is
// enabled only when the second return value is true.
func ButtonLabel(snap Snapshot, currencyCode string, tag language.Tag) (string, bool) {
	switch {
	case snap.Phase == PhaseReady && snap.Quote != nil && snap.Err == nil:
		p := message.NewPrinter(tag)
		return p.Sprintf(LabelProceedFormat, FormatAmount(snap.Quote.Result.Total, currencyCode, tag)), true
	case snap.Phase == PhaseIdle:
		return LabelIdle, false
	case snap.Phase == PhaseCalculationError:
		return LabelCalculationError, false
	default:
		return LabelCalculating, false
	}
}

// FormatAmount renders minor units in the currency's display form. Unknown
// currency codes fall back to the code followed by the raw amount.
func FormatAmount(minor int64, currencyCode string, tag language.Tag) string {
	p := message.NewPrinter(tag)
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return p.Sprintf("%s %d", currencyCode, minor)
	}
	scale, _ := currency.Standard.Rounding(unit)
	major := decimal.New(minor, -int32(scale))
	return p.Sprint(currency.Symbol(unit.Amount(major.InexactFloat64())))
}
