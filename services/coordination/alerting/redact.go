// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package alerting

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed redaction_patterns.yaml
var defaultRedactionPatterns []byte

// ConfidenceLevel grades how likely a pattern match is a true positive.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch level := ConfidenceLevel(s); level {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		*c = level
		return nil
	default:
		return fmt.Errorf("invalid value for confidence: %q", s)
	}
}

type redactionFile struct {
	Classifications []classification `yaml:"classifications"`
}

type classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []pattern `yaml:"patterns"`
}

type pattern struct {
	ID          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Regex       string          `yaml:"regex"`
	Confidence  ConfidenceLevel `yaml:"confidence"`
}

type redactionRule struct {
	class string
	re    *regexp.Regexp
}

// Redactor masks secrets and personal data in alert text before delivery.
//
// # Description
//
// Upstream errors routinely echo request details, including API keys and
// connection URLs. Every match is replaced with "[REDACTED:<class>]".
// Rules run in descending classification priority.
//
// # Thread Safety
//
// Redactor is immutable and safe for concurrent use.
type Redactor struct {
	rules []redactionRule
}

// NewRedactor builds a Redactor from the built-in patterns.
func NewRedactor() (*Redactor, error) {
	return ParseRedactor(defaultRedactionPatterns)
}

// ParseRedactor builds a Redactor from a YAML classification file.
func ParseRedactor(data []byte) (*Redactor, error) {
	var file redactionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal redaction patterns: %w", err)
	}

	sort.SliceStable(file.Classifications, func(i, j int) bool {
		return file.Classifications[i].Priority > file.Classifications[j].Priority
	})

	r := &Redactor{}
	for _, c := range file.Classifications {
		for _, p := range c.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("failed to compile pattern %s: %w", p.ID, err)
			}
			r.rules = append(r.rules, redactionRule{class: c.Name, re: re})
		}
	}
	return r, nil
}

// Redact returns s with every match replaced.
func (r *Redactor) Redact(s string) string {
	if r == nil || s == "" {
		return s
	}
	for _, rule := range r.rules {
		s = rule.re.ReplaceAllLiteralString(s, "[REDACTED:"+rule.class+"]")
	}
	return s
}

// RedactAlert returns a copy of alert with its title, text and field
// values redacted.
func (r *Redactor) RedactAlert(alert Alert) Alert {
	if r == nil {
		return alert
	}
	alert.Title = r.Redact(alert.Title)
	alert.Text = r.Redact(alert.Text)
	if len(alert.Fields) > 0 {
		fields := make(map[string]string, len(alert.Fields))
		for k, v := range alert.Fields {
			fields[k] = r.Redact(v)
		}
		alert.Fields = fields
	}
	return alert
}
