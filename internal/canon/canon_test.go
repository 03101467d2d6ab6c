package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeEquivalences(t *testing.T) {
	cases := []struct {
		a, b string
	}{
		{"I.P Extn.", "IP EXTENSION"},
		{"I.P EXTENTION", "ip extension"},
		{"MAYUR VIHAR PHASE-I", "Mayur Vihar Phase 1"},
		{"MAYUR VIHAR PHASE II", "mayur vihar phase-2"},
		{"DAKSHINPURI EXT.", "Dakshinpuri Extension"},
		{"G.T.B. NAGAR", "G T B Nagar"},
		{"KRISHNA  NAGAR", "Krishna Nagar"},
		{"R. K. PURAM", "R K PURAM"},
		{"Hauz Khas & Green Park", "HAUZ KHAS AND GREEN PARK"},
		{"ADARASH  NAGAR", "Adarsh Nagar"},
		{"SAID-UL-AJAIB", "Said (ul) Ajaib"},
	}
	for _, c := range cases {
		assert.Equal(t, Canonicalize(c.b, false), Canonicalize(c.a, false), "%q vs %q", c.a, c.b)
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"I.P Extn.",
		"MAYUR VIHAR PHASE-I",
		"PHASE I P",
		"JAHANGIR PURI -II",
		"Hauz Khas & Green Park",
		"  lots   of   space  ",
		"BHALASWA JAHAGIR PUR",
		"PITAM PUR",
		"Bang-er",
		"EX T",
		"NAG RI",
		"",
	}
	for _, collapse := range []bool{false, true} {
		for _, in := range inputs {
			once := Canonicalize(in, collapse)
			assert.Equal(t, once, Canonicalize(string(once), collapse), "input %q collapse=%v", in, collapse)
		}
	}
}

func TestCollapsedAppliesWholeWordTables(t *testing.T) {
	assert.Equal(t, Key("PITAMPURA"), Collapsed("PITAM PUR"))
	assert.Equal(t, Collapsed("PITAMPUR"), Collapsed("PITAM PUR"))
	assert.Equal(t, Collapsed("PITAMPURA"), Collapsed("Pitam-pur"))
	assert.Equal(t, Key("BANGAR"), Collapsed("Bang-er"))
	assert.Equal(t, Key("EXTENSION"), Collapsed("EX.T"))
	// only whole keys, never substrings
	assert.Equal(t, Key("PITAMPUREXTENSION"), Collapsed("PITAM PUR EXTN"))
	// spaced keys keep the per-token behaviour
	assert.Equal(t, Key("PITAM PUR"), Spaced("PITAM PUR"))
}

func TestCanonicalizeCollapse(t *testing.T) {
	assert.Equal(t, Key("VASANTKUNJ"), Canonicalize("Vasant Kunj", true))
	assert.Equal(t, Collapsed("VASANTKUNJ"), Collapsed("VASANT KUNJ"))
	assert.Equal(t, Key("MAYURVIHARPHASE1"), Collapsed("Mayur Vihar Phase-I"))
}

func TestCanonicalizeDoesNotFuzzyMatch(t *testing.T) {
	assert.NotEqual(t, Spaced("ROHINI"), Spaced("ROHINI NORTH"))
	assert.NotEqual(t, Spaced("NAGAR"), Spaced("NAGR"))
	// roman numerals only convert after PHASE
	assert.Equal(t, Key("JAHANGIRPURI I"), Spaced("JAHANGIRPURI-I"))
}
