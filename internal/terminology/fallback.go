package terminology

// fallbackEntry maps a lowercase term to a standard code. Matching is
// "key is a substring of the lowercased input", so overlapping keys must be
// ordered most-specific-first: "type 2 diabetes" has to be checked before
// "diabetes" or the broader key shadows the narrower one.
type fallbackEntry struct {
	term string
	code string
}

// diagnosisFallbacks covers common diagnoses when both external services
// come back empty. ICD-10-CM codes.
var diagnosisFallbacks = []fallbackEntry{
	{"family history of heart disease", "Z82.49"},
	{"family history of high cholesterol", "Z83.42"},
	{"family history", "Z82.79"},
	{"diabetes mellitus type 2", "E11.9"},
	{"type 2 diabetes", "E11.9"},
	{"diabetes", "E11.9"},
	{"hypertension", "I10"},
	{"overweight", "E66.3"},
	{"obesity", "E66.9"},
	{"hyperlipidemia", "E78.5"},
	{"high cholesterol", "E78.0"},
	{"influenza", "J11.1"},
	{"flu", "J11.1"},
	{"annual exam", "Z00.00"},
	{"physical examination", "Z00.00"},
	{"health checkup", "Z00.00"},
}

// medicationFallbacks covers common generics when RxNav lookups fail.
// RxNorm ingredient concept identifiers.
var medicationFallbacks = []fallbackEntry{
	{"hydrochlorothiazide", "5487"},
	{"atorvastatin", "83367"},
	{"simvastatin", "36567"},
	{"amlodipine", "17767"},
	{"metoprolol", "6918"},
	{"omeprazole", "7646"},
	{"lisinopril", "29046"},
	{"metformin", "6809"},
	{"albuterol", "435"},
	{"aspirin", "1191"},
}
