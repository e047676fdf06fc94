package retention

// Monoisotopic residue masses (peptide bond form, water subtracted).
var residueMass = map[byte]float64{
	'A': 71.0371138, 'R': 156.1011110, 'N': 114.0429274, 'D': 115.0269430,
	'C': 103.0091848, 'E': 129.0425931, 'Q': 128.0585775, 'G': 57.0214637,
	'H': 137.0589119, 'I': 113.0840640, 'L': 113.0840640, 'K': 128.0949630,
	'M': 131.0404849, 'F': 147.0684139, 'P': 97.0527638, 'S': 87.0320284,
	'T': 101.0476785, 'W': 186.0793129, 'Y': 163.0633285, 'V': 99.0684139,
	'O': 237.1477269, 'U': 144.9595902,
}

const massH2O = 18.0105647

// PeptideMass computes the neutral monoisotopic mass of a peptide sequence.
// Unknown residues contribute nothing.
func PeptideMass(sequence string) float64 {
	mass := massH2O
	for i := 0; i < len(sequence); i++ {
		mass += residueMass[sequence[i]]
	}
	return mass
}
