package dedup

import (
	"strings"
	"unicode"
)

// Author keys are "<surname> <initials>", for example "smith ja". Citation
// exports spell the same person as "Smith, John A.", "J. A. Smith" or the
// Medline form "Smith JA"; all of them reduce to one key.

// maxComparedAuthors caps how many leading authors take part in an overlap.
// Databases truncate long author lists at different points.
const maxComparedAuthors = 10

// AuthorKeys reduces a raw author list to comparison keys, in order. Blank
// entries and "et al." markers are dropped.
func AuthorKeys(names []string) []string {
	var keys []string
	for _, n := range names {
		if k := AuthorKey(n); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// AuthorKey reduces one author name to its key, or "" when nothing usable
// is left.
func AuthorKey(name string) string {
	folded := foldAccents(name)
	var surname, given []string
	if before, after, ok := strings.Cut(folded, ","); ok {
		surname, given = nameParts(before), nameParts(after)
	} else {
		parts := nameParts(folded)
		if len(parts) == 0 || isEtAl(parts) {
			return ""
		}
		if len(parts) > 1 && isInitials(parts[len(parts)-1]) {
			// Medline order: surname first, initials trailing.
			split := len(parts) - 1
			for split > 1 && isInitials(parts[split-1]) {
				split--
			}
			surname, given = parts[:split], parts[split:]
		} else {
			surname, given = parts[len(parts)-1:], parts[:len(parts)-1]
		}
	}

	last := strings.ToLower(strings.Join(surname, ""))
	if last == "" || isEtAl(surname) {
		return ""
	}
	if ini := initials(given); ini != "" {
		return last + " " + ini
	}
	return last
}

// AuthorOverlap scores how well two key lists agree, in [0,1]. Half of the
// score is first-author agreement, which catalogues rarely get wrong; the
// other half is the Dice overlap of greedily paired authors. It is
// symmetric and 0 when either list is empty.
func AuthorOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	a, b = a[:min(len(a), maxComparedAuthors)], b[:min(len(b), maxComparedAuthors)]
	if len(a) > len(b) {
		a, b = b, a
	}

	used := make([]bool, len(b))
	matched := 0.0
	for _, ka := range a {
		best, bestIdx := 0.0, -1
		for j, kb := range b {
			if used[j] {
				continue
			}
			if s := authorMatch(ka, kb); s > best {
				best, bestIdx = s, j
			}
		}
		if bestIdx >= 0 {
			used[bestIdx] = true
			matched += best
		}
	}

	dice := 2 * matched / float64(len(a)+len(b))
	return 0.5*authorMatch(a[0], b[0]) + 0.5*dice
}

// authorMatch compares two keys. Surnames must agree. Initials agree when
// one is a prefix of the other ("j" and "ja"); a missing side gets partial
// credit and a conflicting first initial none.
func authorMatch(a, b string) float64 {
	lastA, iniA, _ := strings.Cut(a, " ")
	lastB, iniB, _ := strings.Cut(b, " ")
	switch {
	case lastA != lastB:
		return 0
	case iniA == "" || iniB == "":
		return 0.75
	case strings.HasPrefix(iniA, iniB) || strings.HasPrefix(iniB, iniA):
		return 1
	case iniA[0] == iniB[0]:
		return 0.5
	default:
		return 0
	}
}

func isEtAl(parts []string) bool {
	switch strings.ToLower(strings.Join(parts, "")) {
	case "etal", "others":
		return true
	}
	return false
}

// nameParts splits a name on anything that is not a letter, so hyphens,
// apostrophes and periods separate parts.
func nameParts(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
}

// isInitials reports whether a part is a run of at most three capitals,
// like "J" or "JA".
func isInitials(part string) bool {
	n := 0
	for _, r := range part {
		if !unicode.IsUpper(r) {
			return false
		}
		n++
	}
	return n > 0 && n <= 3
}

// initials takes every letter of capital runs and the first letter of
// full given names.
func initials(given []string) string {
	var sb strings.Builder
	for _, g := range given {
		if isInitials(g) {
			sb.WriteString(strings.ToLower(g))
			continue
		}
		for _, r := range g {
			sb.WriteRune(unicode.ToLower(r))
			break
		}
	}
	return sb.String()
}
