package eval

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/picklr-io/sweep/internal/ir"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the structural rules of a configuration: required
// fields, ensure values, credential combinations and unique names.
// Purge semantics are checked later against the provider registry.
func Validate(cfg *ir.Config) error {
	var problems []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	seen := make(map[string]bool)
	for _, res := range cfg.Resources {
		if res == nil || res.Type == "" || res.Name == "" {
			continue
		}
		addr := res.Ref().String()
		if seen[addr] {
			problems = append(problems, fmt.Sprintf("resource %s is declared more than once", addr))
		}
		seen[addr] = true
	}

	creds := make(map[string]bool)
	for _, c := range cfg.Credentials {
		if c == nil || c.Name == "" {
			continue
		}
		if creds[c.Name] {
			problems = append(problems, fmt.Sprintf("credential %s is declared more than once", c.Name))
		}
		creds[c.Name] = true
	}
	for _, res := range cfg.Resources {
		if res != nil && res.Account != "" && !creds[res.Account] {
			problems = append(problems, fmt.Sprintf("resource %s uses unknown account %q", res.Ref(), res.Account))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// describe renders a field error using its namespace without the root
// type, e.g. "Resources[0].Ensure must be one of [present absent]".
func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fmt.Sprint(fe.Value()))
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, fe.Param())
	case "excluded_with":
		return fmt.Sprintf("%s cannot be combined with %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
