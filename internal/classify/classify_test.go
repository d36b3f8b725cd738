package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heroics-capital/treasury-recon/internal/mail"
)

func testRules(t *testing.T) Ruleset {
	t.Helper()
	rules, err := Compile(map[string]RuleSpec{
		"GS": {
			Addresses:    []string{"Reports@GS.com"},
			SubjectWords: []string{"GS daily cash"},
		},
		"MS": {
			Addresses:    []string{"margin@morganstanley.com"},
			SubjectWords: []string{"margin summary"},
			Filenames:    []string{"ms_margin.xlsx"},
		},
		"UBS": {
			Domains:        []string{"ubs.com"},
			SubjectPattern: `collateral\s+report`,
		},
	})
	require.NoError(t, err)
	return rules
}

func msg(from, subject string, attachments ...string) mail.Message {
	return mail.Message{
		From:            from,
		Subject:         subject,
		HasAttachments:  true,
		AttachmentNames: attachments,
	}
}

func TestNormalizeSubject(t *testing.T) {
	assert.Equal(t, "margin summary", NormalizeSubject("Re:  FWD: Re:   Margin\tSummary "))
	assert.Equal(t, "gs daily cash", NormalizeSubject("GS Daily Cash"))
}

func TestExactAddressBeatsSubject(t *testing.T) {
	rules := testRules(t)

	// Sender is GS's exact address, subject matches MS's phrase: exact tier wins.
	rows := []mail.Message{msg("reports@gs.com", "Margin Summary", "ms_margin.xlsx")}
	out := Classify(rows, rules)

	assert.Len(t, out["GS"], 1)
	assert.Empty(t, out["MS"])
	assert.Empty(t, out[Unmatched])
}

func TestDomainTier(t *testing.T) {
	rules := testRules(t)

	rows := []mail.Message{msg("noreply@ubs.com", "anything at all")}
	out := Classify(rows, rules)
	assert.Len(t, out["UBS"], 1)

	// Domain derived from address when not explicit.
	rows = []mail.Message{msg("other-person@gs.com", "unrelated")}
	out = Classify(rows, rules)
	assert.Len(t, out["GS"], 1)
}

func TestSubjectTierWithFilenameGate(t *testing.T) {
	rules := testRules(t)

	// Subject matches MS but the row carries filenames and none is expected.
	rows := []mail.Message{msg("unknown@example.com", "Margin Summary", "wrong.pdf")}
	out := Classify(rows, rules)
	assert.Empty(t, out["MS"])
	assert.Len(t, out[Unmatched], 1)

	// Same subject with the expected filename.
	rows = []mail.Message{msg("unknown@example.com", "Re: Margin Summary", "MS_Margin.XLSX")}
	out = Classify(rows, rules)
	assert.Len(t, out["MS"], 1)

	// No filenames on the row: subject alone suffices.
	rows = []mail.Message{msg("unknown@example.com", "margin summary")}
	out = Classify(rows, rules)
	assert.Len(t, out["MS"], 1)
}

func TestSubjectRegex(t *testing.T) {
	rules := testRules(t)
	rows := []mail.Message{msg("x@y.com", "Fwd: Collateral   Report 2025-01-10")}
	out := Classify(rows, rules)
	assert.Len(t, out["UBS"], 1)
}

func TestUnattachedRowsExcluded(t *testing.T) {
	rules := testRules(t)
	rows := []mail.Message{
		{From: "reports@gs.com", Subject: "GS daily cash", HasAttachments: false},
	}
	out := Classify(rows, rules)
	for name, bucket := range out {
		assert.Empty(t, bucket, "bucket %s", name)
	}
}

func TestIncompleteRuleFailsClosed(t *testing.T) {
	rules := Ruleset{"SAXO": {}}
	rows := []mail.Message{msg("anyone@saxobank.com", "anything")}
	out := Classify(rows, rules)
	assert.Empty(t, out["SAXO"])
	assert.Len(t, out[Unmatched], 1)
}

func TestCompileRejectsUnknownCounterparty(t *testing.T) {
	_, err := Compile(map[string]RuleSpec{"JPM": {Addresses: []string{"a@jpm.com"}}})
	assert.Error(t, err)
}

func TestCompileRejectsBadPattern(t *testing.T) {
	_, err := Compile(map[string]RuleSpec{"GS": {SubjectPattern: "("}})
	assert.Error(t, err)
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
GS:
  addresses: [reports@gs.com]
  subject_words: ["gs daily cash"]
SAXO:
  domains: [saxobank.com]
  subject_pattern: 'saxo.*positions'
`), 0o644))

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	out := Classify([]mail.Message{msg("ops@saxobank.com", "whatever")}, rules)
	assert.Len(t, out["SAXO"], 1)
}
