package classify

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadRulesFile reads a YAML rules file mapping counterparty names to rule
// specs and compiles it.
//
// Example:
//
//	GS:
//	  addresses: [gs-reports@gs.com]
//	  subject_words: ["cash statement", "margin summary"]
//	  filenames: [cash_hv.pdf]
func LoadRulesFile(path string) (Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: read rules file %s", path)
	}

	var specs map[string]RuleSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, eris.Wrapf(err, "classify: parse rules file %s", path)
	}

	return Compile(specs)
}
