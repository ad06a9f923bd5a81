package taxengine

// CategoryResponsableInscripto is the only fiscal category that pays IVA.
const CategoryResponsableInscripto = "RESPONSABLE_INSCRIPTO"

// IVACalculator computes the IVA breakdown of a transaction.
type IVACalculator struct{}

// Calculate applies jurisdictionRate to registered taxpayers. Every other
// category (monotributo, exempt) gets a zero rate.
func (IVACalculator) Calculate(tx *Transaction, profile *Profile, jurisdictionRate float64) Breakdown {
	rate := 0.0
	if profile.FiscalCategory == CategoryResponsableInscripto {
		rate = jurisdictionRate
	}
	return Breakdown{
		TaxType: TaxIVA,
		Base:    tx.Amount,
		Rate:    rate,
		Amount:  tx.Amount * rate,
	}
}
