package openfinance

import (
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"

	ofclient "finlink/internal/infrastructure/openfinance"
)

// CredentialField describes one input an institution asks for at login.
type CredentialField struct {
	Name              string `json:"name"`
	Label             string `json:"label"`
	Type              string `json:"type"`
	Placeholder       string `json:"placeholder,omitempty"`
	Validation        string `json:"validation,omitempty"`
	ValidationMessage string `json:"validationMessage,omitempty"`
	Optional          bool   `json:"optional"`
}

// Brazilian tax ids are entered with dots and dashes but sent as digits.
var taxIDNames = map[string]struct{}{
	"cpf":      {},
	"cnpj":     {},
	"document": {},
}

func fieldsFromConnector(c *ofclient.Connector) []CredentialField {
	fields := make([]CredentialField, 0, len(c.Credentials))
	for _, d := range c.Credentials {
		fields = append(fields, CredentialField{
			Name:              d.Name,
			Label:             d.Label,
			Type:              d.Type,
			Placeholder:       d.Placeholder,
			Validation:        d.Validation,
			ValidationMessage: d.ValidationMessage,
			Optional:          d.Optional,
		})
	}
	return fields
}

func isTaxID(f CredentialField) bool {
	if _, ok := taxIDNames[strings.ToLower(f.Name)]; ok {
		return true
	}
	t := strings.ToLower(f.Type)
	return t == "cpf" || t == "cnpj"
}

func normalizeCredential(f CredentialField, value string) string {
	value = strings.TrimSpace(value)
	if isTaxID(f) {
		value = strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) {
				return r
			}
			return -1
		}, value)
	}
	return value
}

// validateCredentials normalizes every value and checks it against its
// descriptor. All failures are collected before returning.
func validateCredentials(fields []CredentialField, creds map[string]string, logger *zap.Logger) (map[string]string, error) {
	verrs := &ValidationErrors{}
	known := make(map[string]struct{}, len(fields))
	out := make(map[string]string, len(fields))

	for _, f := range fields {
		known[f.Name] = struct{}{}
		value := normalizeCredential(f, creds[f.Name])
		if msg, ok := checkValue(logger, f.Name, value, f.Validation, f.ValidationMessage, f.Optional); !ok {
			verrs.add(f.Name, msg)
			continue
		}
		if value != "" {
			out[f.Name] = value
		}
	}

	for name := range creds {
		if _, ok := known[name]; !ok {
			verrs.add(name, "unknown credential field")
		}
	}

	if len(verrs.Errors) > 0 {
		return nil, verrs
	}
	return out, nil
}

// checkValue applies the aggregator's validation rules to one value. A
// pattern that does not compile is logged and skipped.
func checkValue(logger *zap.Logger, field, value, pattern, message string, optional bool) (string, bool) {
	if value == "" {
		if optional {
			return "", true
		}
		return "is required", false
	}
	if pattern == "" {
		return "", true
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logger.Warn("ignoring invalid validation pattern",
			zap.String("field", field),
			zap.String("pattern", pattern),
			zap.Error(err))
		return "", true
	}
	if !re.MatchString(value) {
		if message == "" {
			message = "has an invalid format"
		}
		return message, false
	}
	return "", true
}
