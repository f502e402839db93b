package dicomtest

// Patient names that stress filesystem sanitization and label truncation.
var (
	SpecialCharNames = []string{
		"Müller-Schmidt^Jean-Pierre",
		"O'Connor^Siân",
		"Østergaard^Björn",
		"García-López^Ángela",
		"Škvorecký^Łukasz",
	}

	LongNames = []string{
		"ALEXANDROPOULOSWILLIAMSONBERG^ALEXANDERMAXIMILIANWILLIAM",
		"CHRISTODOULOPOULOSSMITHBAUER^ELIZABETHCATHERINEANNAMARIE",
	}

	// ReservedCharDescriptions contain characters that are not allowed in
	// file names on at least one common filesystem.
	ReservedCharDescriptions = []string{
		`T1/T2 AX <FLAIR>`,
		`DWI: b=1000 "trace"`,
		`LOC?*|\`,
	}
)
