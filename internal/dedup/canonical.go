package dedup

import (
	"strings"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

// optionalField is a citation attribute counted when judging completeness.
type optionalField struct {
	name   string
	isNull func(c *domain.Citation) bool
}

// optionalFields is the fixed list of citation fields whose absence makes a
// record less complete.
var optionalFields = []optionalField{
	{"title", func(c *domain.Citation) bool { return blank(c.Title) }},
	{"abstract", func(c *domain.Citation) bool { return blank(c.Abstract) }},
	{"authors", func(c *domain.Citation) bool { return len(c.Authors) == 0 }},
	{"keywords", func(c *domain.Citation) bool { return len(c.Keywords) == 0 }},
	{"pub_year", func(c *domain.Citation) bool { return c.PubYear == nil }},
	{"pub_type", func(c *domain.Citation) bool { return blank(c.PubType) }},
	{"doi", func(c *domain.Citation) bool { return blank(c.DOI) }},
	{"journal_name", func(c *domain.Citation) bool { return blank(c.JournalName) }},
	{"journal_volume", func(c *domain.Citation) bool { return blank(c.JournalVolume) }},
	{"journal_issue", func(c *domain.Citation) bool { return blank(c.JournalIssue) }},
	{"pages", func(c *domain.Citation) bool { return blank(c.Pages) }},
	{"url", func(c *domain.Citation) bool { return blank(c.URL) }},
	{"language", func(c *domain.Citation) bool { return blank(c.Language) }},
}

// NullCount returns how many optional fields the citation lacks.
func NullCount(c *domain.Citation) int {
	if c == nil {
		return len(optionalFields)
	}
	n := 0
	for _, f := range optionalFields {
		if f.isNull(c) {
			n++
		}
	}
	return n
}

// Candidate is a cluster member as seen by canonical election.
type Candidate struct {
	StudyID        int64
	CitationStatus domain.ScreeningStatus
	Citation       *domain.Citation
}

// ElectCanonical returns the member kept as the non-duplicate. A member
// that already has a terminal citation decision always wins; among equals
// the one with the fewest missing optional fields wins, then the lowest ID.
func ElectCanonical(members []Candidate) int64 {
	var (
		winner   Candidate
		winNulls int
		found    bool
	)
	for _, c := range members {
		nulls := NullCount(c.Citation)
		if !found || better(c, nulls, winner, winNulls) {
			winner, winNulls, found = c, nulls, true
		}
	}
	return winner.StudyID
}

func better(c Candidate, cNulls int, w Candidate, wNulls int) bool {
	cTerm, wTerm := c.CitationStatus.IsTerminal(), w.CitationStatus.IsTerminal()
	if cTerm != wTerm {
		return cTerm
	}
	if cNulls != wNulls {
		return cNulls < wNulls
	}
	return c.StudyID < w.StudyID
}

func blank(p *string) bool {
	return p == nil || strings.TrimSpace(*p) == ""
}
