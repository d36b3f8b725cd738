// Package classify routes mail-metadata rows into per-counterparty buckets
// using sender address, sender domain, and normalized-subject rules.
package classify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/heroics-capital/treasury-recon/internal/mail"
	"github.com/heroics-capital/treasury-recon/internal/recon"
)

// Unmatched is the bucket for rows that satisfy no counterparty rule.
const Unmatched = "UNMATCHED"

// Tier is the confidence tier of a match. Lower tiers win.
type Tier int

const (
	TierExact   Tier = iota + 1 // exact sender-address match
	TierDomain                  // sender-domain match
	TierSubject                 // normalized-subject match
)

// String returns the tier name used in logs.
func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierDomain:
		return "domain"
	case TierSubject:
		return "subject"
	default:
		return "none"
	}
}

var folder = cases.Fold()

// fold lowercases with full Unicode case folding, so subject comparisons are
// stable across bank mail gateways.
func fold(s string) string {
	return folder.String(strings.TrimSpace(s))
}

// reply/forward prefixes stacked by mail clients, e.g. "Re: Fwd: RE: ...".
var prefixRe = regexp.MustCompile(`(?i)^(\s*(re|fwd|fw)\s*:\s*)+`)
var spaceRe = regexp.MustCompile(`\s+`)

// NormalizeSubject strips repeated Re:/Fwd: prefixes, collapses whitespace,
// and case-folds.
func NormalizeSubject(s string) string {
	s = prefixRe.ReplaceAllString(s, "")
	s = spaceRe.ReplaceAllString(s, " ")
	return fold(s)
}

// Rule is one counterparty's compiled matching rule.
type Rule struct {
	addresses map[string]struct{}
	domains   map[string]struct{}
	subjectRe *regexp.Regexp
	phrases   map[string]struct{}
	filenames map[string]struct{}
}

// Ruleset maps counterparty names to compiled rules.
type Ruleset map[string]Rule

// RuleSpec is the declarative form of a rule, as it appears in the YAML
// rules file and the application config.
type RuleSpec struct {
	Addresses      []string `yaml:"addresses"`
	Domains        []string `yaml:"domains"`
	SubjectWords   []string `yaml:"subject_words"`
	SubjectPattern string   `yaml:"subject_pattern"`
	Filenames      []string `yaml:"filenames"`
}

// Compile normalizes and compiles a set of rule specs keyed by counterparty
// name. Domains are derived from addresses when not given explicitly.
func Compile(specs map[string]RuleSpec) (Ruleset, error) {
	rules := make(Ruleset, len(specs))
	for name, spec := range specs {
		if _, err := recon.ParseBank(name); err != nil {
			return nil, eris.Wrap(err, "classify: compile rules")
		}

		r := Rule{
			addresses: foldSet(spec.Addresses),
			domains:   foldSet(spec.Domains),
			phrases:   make(map[string]struct{}, len(spec.SubjectWords)),
			filenames: foldSet(spec.Filenames),
		}
		for _, w := range spec.SubjectWords {
			if w = NormalizeSubject(w); w != "" {
				r.phrases[w] = struct{}{}
			}
		}
		if spec.SubjectPattern != "" {
			re, err := regexp.Compile("(?i)" + spec.SubjectPattern)
			if err != nil {
				return nil, eris.Wrapf(err, "classify: counterparty %q subject pattern", name)
			}
			r.subjectRe = re
		}

		if len(r.domains) == 0 {
			for addr := range r.addresses {
				if at := strings.LastIndex(addr, "@"); at >= 0 {
					r.domains[addr[at+1:]] = struct{}{}
				}
			}
		}

		rules[name] = r
	}
	return rules, nil
}

func foldSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = fold(v); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// matchable reports whether the rule can match anything at all. An incomplete
// rule fails closed.
func (r Rule) matchable() bool {
	return len(r.addresses) > 0 || len(r.domains) > 0 || r.subjectRe != nil || len(r.phrases) > 0
}

// matchSubject reports whether the normalized subject satisfies the rule's
// subject matcher, honoring the optional filename gate. The gate only applies
// when the row actually carries attachment filenames.
func (r Rule) matchSubject(subject string, filenames []string) bool {
	if r.subjectRe == nil && len(r.phrases) == 0 {
		return false
	}

	hit := false
	if r.subjectRe != nil && r.subjectRe.MatchString(subject) {
		hit = true
	}
	if !hit {
		if _, ok := r.phrases[subject]; ok {
			hit = true
		}
	}
	if !hit {
		return false
	}

	if len(r.filenames) > 0 && len(filenames) > 0 {
		for _, fn := range filenames {
			if _, ok := r.filenames[fold(fn)]; ok {
				return true
			}
		}
		return false
	}
	return true
}

// Result is one classified batch: buckets per counterparty plus UNMATCHED.
type Result map[string][]mail.Message

// Classify assigns rows to counterparty buckets. It is a pure function of
// (rows, rules): no I/O, deterministic given the same input order.
//
// Rows without attachments are dropped before classification; they never
// appear in any bucket, UNMATCHED included. Precedence per row, first match
// wins: exact sender address, then sender domain, then subject (gated by
// filename set when the row has filenames). Counterparties are tried in
// name order within each tier so ties resolve deterministically.
func Classify(rows []mail.Message, rules Ruleset) Result {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Result, len(rules)+1)
	for _, name := range names {
		out[name] = nil
	}
	out[Unmatched] = nil

	for _, row := range rows {
		if !row.HasAttachments {
			continue
		}

		name, _ := match(row, rules, names)
		out[name] = append(out[name], row)
	}
	return out
}

// match returns the winning counterparty name and tier for one row, or
// (Unmatched, 0).
func match(row mail.Message, rules Ruleset, names []string) (string, Tier) {
	sender := fold(row.From)
	domain := ""
	if at := strings.LastIndex(sender, "@"); at >= 0 {
		domain = sender[at+1:]
	}
	subject := NormalizeSubject(row.Subject)

	for _, name := range names {
		r := rules[name]
		if !r.matchable() {
			continue
		}
		if _, ok := r.addresses[sender]; ok {
			return name, TierExact
		}
	}
	for _, name := range names {
		r := rules[name]
		if !r.matchable() || domain == "" {
			continue
		}
		if _, ok := r.domains[domain]; ok {
			return name, TierDomain
		}
	}
	for _, name := range names {
		r := rules[name]
		if !r.matchable() {
			continue
		}
		if r.matchSubject(subject, row.AttachmentNames) {
			return name, TierSubject
		}
	}
	return Unmatched, 0
}
