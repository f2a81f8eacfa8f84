package guardrails

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// rulesFile is the on-disk shape of an extra rules file:
//
//	rules:
//	  invoice.voided:
//	    require_actor: true
//	    required_detail_paths: [invoiceId]
type rulesFile struct {
	Rules map[string]Rule `yaml:"rules"`
}

// LoadRulesFile reads additional guardrail rules from a YAML file
func LoadRulesFile(path string) (map[string]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guardrail rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes a YAML rules document. Unknown keys are rejected.
func ParseRules(data []byte) (map[string]Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file rulesFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse guardrail rules: %w", err)
	}

	out := make(map[string]Rule, len(file.Rules))
	for eventType, rule := range file.Rules {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" {
			return nil, errors.New("guardrail rule with empty event type")
		}
		for _, group := range rule.RequiredDetailAnyOfPaths {
			if len(group) == 0 {
				return nil, fmt.Errorf("guardrail rule %s has an empty any-of group", eventType)
			}
		}
		out[eventType] = rule
	}
	return out, nil
}
