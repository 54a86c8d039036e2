package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTerm(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "lowercase conversion", input: "Machine Learning", expected: "machine learning"},
		{name: "trim both ends", input: "  protein folding  ", expected: "protein folding"},
		{name: "collapse tabs", input: "cancer\t\tresearch", expected: "cancer research"},
		{name: "mixed whitespace", input: "  CRISPR \t  CAS9  \n  ", expected: "crispr cas9"},
		{name: "empty string", input: "", expected: ""},
		{name: "only whitespace", input: "   \t\n  ", expected: ""},
		{name: "unicode characters preserved", input: "Müller cells", expected: "müller cells"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeTerm(tt.input))
		})
	}
}

func TestKeytermSet_Terms(t *testing.T) {
	set := KeytermSet{
		Include: []string{"Randomised Trial", "randomised  trial", " "},
		Exclude: []string{"mouse", "randomised trial"},
	}

	terms := set.Terms(7, KeytermSourceManual)

	require.Len(t, terms, 3)
	assert.Equal(t, "randomised trial", terms[0].Term)
	assert.Equal(t, PolarityInclude, terms[0].Polarity)
	assert.Equal(t, "mouse", terms[1].Term)
	assert.Equal(t, PolarityExclude, terms[2].Polarity)
	for _, kt := range terms {
		assert.Equal(t, int64(7), kt.ReviewID)
		assert.Equal(t, KeytermSourceManual, kt.Source)
	}
	assert.True(t, KeytermSet{}.IsEmpty())
}

func TestScreeningInput_Validate(t *testing.T) {
	tests := []struct {
		name    string
		input   ScreeningInput
		field   string
		reasons []string
	}{
		{
			name:  "included without reasons",
			input: ScreeningInput{Stage: StageCitation, StudyID: 1, UserID: 2, Status: DecisionIncluded},
		},
		{
			name:    "excluded with reasons",
			input:   ScreeningInput{Stage: StageFulltext, StudyID: 1, UserID: 2, Status: DecisionExcluded, ExcludeReasons: []string{" REASON1 ", ""}},
			reasons: []string{"REASON1"},
		},
		{
			name:  "excluded without reasons",
			input: ScreeningInput{Stage: StageCitation, StudyID: 1, UserID: 2, Status: DecisionExcluded},
			field: "exclude_reasons",
		},
		{
			name:  "excluded with blank reasons",
			input: ScreeningInput{Stage: StageCitation, StudyID: 1, UserID: 2, Status: DecisionExcluded, ExcludeReasons: []string{"  "}},
			field: "exclude_reasons",
		},
		{
			name:  "included with reasons",
			input: ScreeningInput{Stage: StageCitation, StudyID: 1, UserID: 2, Status: DecisionIncluded, ExcludeReasons: []string{"X"}},
			field: "exclude_reasons",
		},
		{
			name:  "unknown status",
			input: ScreeningInput{Stage: StageCitation, StudyID: 1, UserID: 2, Status: "maybe"},
			field: "status",
		},
		{
			name:  "unknown stage",
			input: ScreeningInput{Stage: "extraction", StudyID: 1, UserID: 2, Status: DecisionIncluded},
			field: "stage",
		},
		{
			name:  "missing user",
			input: ScreeningInput{Stage: StageCitation, StudyID: 1, Status: DecisionIncluded},
			field: "user_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.input
			err := in.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				if tt.reasons != nil {
					assert.Equal(t, tt.reasons, in.ExcludeReasons)
				}
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestTransitionDelta(t *testing.T) {
	tests := []struct {
		from, to ScreeningStatus
		want     CounterDelta
	}{
		{ScreeningStatusScreenedOnce, ScreeningStatusIncluded, CounterDelta{Included: 1}},
		{ScreeningStatusIncluded, ScreeningStatusConflict, CounterDelta{Included: -1}},
		{ScreeningStatusIncluded, ScreeningStatusExcluded, CounterDelta{Included: -1, Excluded: 1}},
		{ScreeningStatusExcluded, ScreeningStatusNotScreened, CounterDelta{Excluded: -1}},
		{ScreeningStatusScreenedOnce, ScreeningStatusConflict, CounterDelta{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got := TransitionDelta(tt.from, tt.to)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want == CounterDelta{}, got.IsZero())
		})
	}
}

func TestReviewCounters_Apply(t *testing.T) {
	c := ReviewCounters{CitationsIncluded: 3, FulltextsExcluded: 1}

	c = c.Apply(StageCitation, CounterDelta{Included: -1, Excluded: 1})
	c = c.Apply(StageFulltext, CounterDelta{Included: 2})

	inc, exc := c.Stage(StageCitation)
	assert.Equal(t, 2, inc)
	assert.Equal(t, 1, exc)
	inc, exc = c.Stage(StageFulltext)
	assert.Equal(t, 2, inc)
	assert.Equal(t, 1, exc)
}

func TestStudy_RequiredReviewers(t *testing.T) {
	review := &Review{NumCitationScreeningReviewers: 2, NumFulltextScreeningReviewers: 1}
	three := 3

	plain := &Study{}
	assert.Equal(t, 2, plain.RequiredReviewers(review, StageCitation))
	assert.Equal(t, 1, plain.RequiredReviewers(review, StageFulltext))

	override := &Study{NumFulltextReviewers: &three}
	assert.Equal(t, 2, override.RequiredReviewers(review, StageCitation))
	assert.Equal(t, 3, override.RequiredReviewers(review, StageFulltext))
}

func TestScreeningStatus_IsTerminal(t *testing.T) {
	assert.True(t, ScreeningStatusIncluded.IsTerminal())
	assert.True(t, ScreeningStatusExcluded.IsTerminal())
	assert.True(t, ScreeningStatusConflict.IsTerminal())
	assert.False(t, ScreeningStatusScreenedOnce.IsTerminal())
	assert.False(t, ScreeningStatusPartial.IsTerminal())
	assert.False(t, ScreeningStatusNotScreened.IsTerminal())
}

func TestParseStage(t *testing.T) {
	s, err := ParseStage("fulltext")
	require.NoError(t, err)
	assert.Equal(t, StageFulltext, s)

	_, err = ParseStage("abstract")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDedupeRun_Covers(t *testing.T) {
	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &DedupeRun{RecordsAsOf: asOf}

	assert.True(t, run.Covers(asOf))
	assert.True(t, run.Covers(asOf.Add(-time.Minute)))
	assert.False(t, run.Covers(asOf.Add(time.Second)))

	var none *DedupeRun
	assert.False(t, none.Covers(asOf))
}

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", NewValidationError("f", "bad"), ErrInvalidInput},
		{"not found", NewNotFoundError("study", "9"), ErrNotFound},
		{"conflict", NewConflictError("screening", "exists"), ErrConflict},
		{"external", NewExternalServiceError("matcher", "cluster", cause), ErrServiceUnavailable},
		{"invariant", NewInvariantViolation("cascade", "study %d", 3), ErrInvariantViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.NotEmpty(t, tt.err.Error())
		})
	}

	assert.ErrorIs(t, NewExternalServiceError("matcher", "cluster", cause), cause)
	assert.Equal(t, "invariant violation in cascade: study 3", NewInvariantViolation("cascade", "study %d", 3).Error())
}

func TestJobName(t *testing.T) {
	assert.Equal(t, "dedupe:42", JobDedupe.LockKey(42))
	assert.Equal(t, "train:42", JobClassifierTraining.LockKey(42))
	assert.Equal(t, "keyterms:42", JobKeytermSuggestion.LockKey(42))

	ev, err := NewJobEvent(JobClassifierTraining, JobArgs{ReviewID: 42, Trigger: TriggerManual}, time.Minute)
	require.NoError(t, err)
	job, ok := ev.Job()
	require.True(t, ok)
	assert.Equal(t, JobClassifierTraining, job)
	assert.Equal(t, "42", ev.AggregateID)
	assert.True(t, ev.AvailableAt.After(ev.CreatedAt))
	assert.JSONEq(t, `{"review_id":42,"trigger":"manual"}`, string(ev.Payload))

	status, err := NewOutboxEvent(EventTypeStudyStatusChanged, AggregateStudy, "5", StatusChangedPayload{StudyID: 5})
	require.NoError(t, err)
	_, ok = status.Job()
	assert.False(t, ok)
}
