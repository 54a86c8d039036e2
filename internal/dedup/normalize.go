// Package dedup implements the deduplication pipeline: citations are reduced
// to normalized comparison keys, clustered by a Matcher, and each cluster
// elects a canonical record while the rest become duplicates of it.
package dedup

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

// Record is the normalized comparison key of one citation. It is also the
// wire format sent to a remote matcher.
type Record struct {
	StudyID  int64    `json:"id"`
	Title    string   `json:"title,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	Authors  []string `json:"authors,omitempty"` // surname-initials keys
	PubYear  int      `json:"pub_year,omitempty"`
	DOI      string   `json:"doi,omitempty"`
	Journal  string   `json:"journal_name,omitempty"`
	Volume   string   `json:"journal_volume,omitempty"`
	Issue    string   `json:"journal_issue,omitempty"`
	Pages    string   `json:"pages,omitempty"`
}

// IsEmpty reports whether the record has no comparison field at all. Such
// records never cluster and always stay canonical.
func (r Record) IsEmpty() bool {
	return r.Title == "" && r.Abstract == "" && len(r.Authors) == 0 && r.PubYear == 0 &&
		r.DOI == "" && r.Journal == "" && r.Volume == "" && r.Issue == "" && r.Pages == ""
}

var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi.org/",
	"doi:",
}

// NormalizeCitation builds the comparison key for a citation.
func NormalizeCitation(c *domain.Citation) Record {
	r := Record{
		StudyID:  c.StudyID,
		Title:    NormalizeText(deref(c.Title)),
		Abstract: NormalizeText(deref(c.Abstract)),
		DOI:      NormalizeDOI(deref(c.DOI)),
		Journal:  NormalizeText(deref(c.JournalName)),
		Volume:   normalizeToken(deref(c.JournalVolume)),
		Issue:    normalizeToken(deref(c.JournalIssue)),
		Pages:    NormalizePages(deref(c.Pages)),
	}
	if c.PubYear != nil && *c.PubYear > 0 {
		r.PubYear = *c.PubYear
	}
	r.Authors = AuthorKeys(c.Authors)
	return r
}

// NormalizeText lowercases, folds accents, replaces punctuation with spaces
// and collapses whitespace.
func NormalizeText(s string) string {
	s = foldAccents(strings.ToLower(s))

	var sb strings.Builder
	sb.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteRune(r)
			pendingSpace = false
			continue
		}
		pendingSpace = true
	}
	return sb.String()
}

// NormalizeDOI lowercases a DOI and strips resolver prefixes.
func NormalizeDOI(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range doiPrefixes {
		if rest, ok := strings.CutPrefix(s, p); ok {
			s = strings.TrimSpace(rest)
			break
		}
	}
	return s
}

// NormalizePages canonicalises page ranges so "123--130", "123 - 130" and
// "123-130" compare equal.
func NormalizePages(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), ""))
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.ReplaceAll(s, "–", "-")
	return strings.Trim(s, "-")
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		return strconv.Itoa(n)
	}
	return strings.Join(strings.Fields(s), " ")
}

// foldAccents strips combining marks after canonical decomposition.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
