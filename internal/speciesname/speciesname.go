// Package speciesname parses the classifier's raw label tensor into its
// scientific/common name parts (component C, spec.md §4.C).
//
// Grounded on the teacher project's internal/birdnet/range_filter.go, which
// parses the same "Scientific name_Common Name" label format emitted by the
// BirdNET label file when building its species range list.
package speciesname

import (
	"strings"
	"unicode/utf8"

	"github.com/tphakala/fieldpipe/internal/fielderr"
)

// Parsed holds the three pieces of identity spec.md §3 attaches to a
// Detection: the raw tensor string and its two human-readable components.
type Parsed struct {
	SpeciesTensor  string
	ScientificName string
	CommonName     string
}

// Parse splits a raw label of the form "Scientific name_Common Name" into
// its parts. The separator is the first underscore only: scientific and
// common names may themselves contain spaces, but never underscores in the
// label sets BirdNET-derived models ship with. When the separator is
// absent, the whole label becomes ScientificName and CommonName is left
// empty rather than treated as an error.
func Parse(label string) (Parsed, error) {
	if !utf8.ValidString(label) {
		return Parsed{}, fielderr.Newf("species label is not valid UTF-8").
			Component("speciesname").
			Category(fielderr.CategoryValidation).
			Build()
	}

	if idx := strings.IndexByte(label, '_'); idx >= 0 {
		return Parsed{
			SpeciesTensor:  label,
			ScientificName: label[:idx],
			CommonName:     label[idx+1:],
		}, nil
	}

	return Parsed{
		SpeciesTensor:  label,
		ScientificName: label,
		CommonName:     "",
	}, nil
}

// MustParse panics on invalid UTF-8. Reserved for static label tables
// validated at build time (e.g. embedded range-filter label lists), never
// for labels coming off the classifier at runtime.
func MustParse(label string) Parsed {
	p, err := Parse(label)
	if err != nil {
		panic(err)
	}
	return p
}
