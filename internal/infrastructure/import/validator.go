package csvimport

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType represents the expected type of a field
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeMoney  FieldType = "money"
	TypeDate   FieldType = "date"
)

// FieldRule defines validation rules for a field
type FieldRule struct {
	Column      string
	Type        FieldType
	Required    bool
	MaxLength   int
	DateFormats []string
	// Lenient rules report problems as warnings; the row is still accepted
	// and the value is cleaned downstream.
	Lenient    bool
	CustomFunc func(value string) error
}

// FieldRuleBuilder helps build field rules fluently
type FieldRuleBuilder struct {
	rule FieldRule
}

// Field creates a new field rule builder
func Field(column string) *FieldRuleBuilder {
	return &FieldRuleBuilder{
		rule: FieldRule{
			Column: column,
			Type:   TypeString,
		},
	}
}

// Required marks the field as required
func (b *FieldRuleBuilder) Required() *FieldRuleBuilder {
	b.rule.Required = true
	return b
}

// Number sets the field type to a plain number
func (b *FieldRuleBuilder) Number() *FieldRuleBuilder {
	b.rule.Type = TypeNumber
	return b
}

// Money sets the field type to an amount that may carry currency decoration
func (b *FieldRuleBuilder) Money() *FieldRuleBuilder {
	b.rule.Type = TypeMoney
	return b
}

// Date sets the field type to date, trying each layout in order
func (b *FieldRuleBuilder) Date(layouts ...string) *FieldRuleBuilder {
	b.rule.Type = TypeDate
	b.rule.DateFormats = layouts
	return b
}

// MaxLength sets the maximum length
func (b *FieldRuleBuilder) MaxLength(n int) *FieldRuleBuilder {
	b.rule.MaxLength = n
	return b
}

// Lenient downgrades violations to warnings
func (b *FieldRuleBuilder) Lenient() *FieldRuleBuilder {
	b.rule.Lenient = true
	return b
}

// Custom sets a custom validation function
func (b *FieldRuleBuilder) Custom(fn func(value string) error) *FieldRuleBuilder {
	b.rule.CustomFunc = fn
	return b
}

// Build returns the built field rule
func (b *FieldRuleBuilder) Build() FieldRule {
	return b.rule
}

// FieldValidator validates fields according to rules
type FieldValidator struct {
	rules  []FieldRule
	errors *ErrorCollection
}

// NewFieldValidator creates a new field validator
func NewFieldValidator(rules []FieldRule, maxErrors int) *FieldValidator {
	return &FieldValidator{
		rules:  rules,
		errors: NewErrorCollection(maxErrors),
	}
}

// ValidateRow validates all fields in a row. It returns false only when a
// strict rule failed.
func (v *FieldValidator) ValidateRow(row *Row) bool {
	ok := true

	for _, rule := range v.rules {
		value := row.Get(rule.Column)

		if value == "" {
			if rule.Required {
				if rule.Lenient {
					v.errors.AddWarning(row.LineNumber, rule.Column, ErrCodeImportRequiredField,
						fmt.Sprintf("field '%s' is empty", rule.Column), "")
				} else {
					v.errors.AddRequiredError(row.LineNumber, rule.Column)
					ok = false
				}
			}
			continue
		}

		if err := validateType(value, rule); err != nil {
			if rule.Lenient {
				v.errors.AddWarning(row.LineNumber, rule.Column, ErrCodeImportInvalidType,
					fmt.Sprintf("expected %s", rule.Type), value)
			} else {
				v.errors.AddTypeError(row.LineNumber, rule.Column, string(rule.Type), value)
				ok = false
			}
			continue
		}

		if rule.MaxLength > 0 && len([]rune(value)) > rule.MaxLength {
			msg := fmt.Sprintf("length must be at most %d", rule.MaxLength)
			v.errors.Record(row.LineNumber, rule.Column, ErrCodeImportInvalidLength, msg, value, rule.Lenient)
			ok = ok && rule.Lenient
		}

		if rule.CustomFunc != nil {
			if err := rule.CustomFunc(value); err != nil {
				v.errors.Record(row.LineNumber, rule.Column, ErrCodeImportInvalidType, err.Error(), value, rule.Lenient)
				ok = ok && rule.Lenient
			}
		}
	}

	return ok
}

// validateType validates a value against expected type
func validateType(value string, rule FieldRule) error {
	switch rule.Type {
	case TypeNumber:
		// decimal rejects NaN and Inf, which ParseFloat would accept
		_, err := decimal.NewFromString(strings.TrimSpace(value))
		return err
	case TypeMoney:
		_, err := decimal.NewFromString(stripMoney(value))
		return err
	case TypeDate:
		for _, layout := range rule.DateFormats {
			if _, err := time.Parse(layout, value); err == nil {
				return nil
			}
		}
		return fmt.Errorf("unrecognised date %q", value)
	}
	return nil
}

// stripMoney keeps the characters an amount can be parsed from
func stripMoney(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)
}

// Errors returns the error collection
func (v *FieldValidator) Errors() *ErrorCollection {
	return v.errors
}

// Reset clears the validator state for reuse
func (v *FieldValidator) Reset() {
	v.errors.Clear()
}
