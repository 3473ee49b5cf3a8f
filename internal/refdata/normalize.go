package refdata

import (
	"regexp"
	"strings"
)

// legalSuffixes lists entity suffixes stripped during vendor name matching.
var legalSuffixes = []string{
	" SDN BHD", " SDN. BHD.",
	" PTE LTD", " PTE. LTD.",
	" LLC", " L.L.C.",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" LLP", " L.L.P.",
	" BHD", " BHD.",
	" PLC", " P.L.C.",
	" CO", " CO.",
	" PT",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// NormalizeName standardizes a vendor name for registry matching: uppercase,
// legal suffix stripped, punctuation removed, whitespace collapsed.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name = strings.ToUpper(name)

	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", "AND",
		"-", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
