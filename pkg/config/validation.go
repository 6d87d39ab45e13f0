package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct constraints, selectors and the telemetry section.
// All problems are reported together.
func (c *Config) Validate() error {
	var problems []string

	if err := structValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config validation failed: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if err := c.Batch.Selector.Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("batch.selector: %v", err))
	}
	for i, s := range c.Batch.Stages {
		if err := s.Selector.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("batch.stages[%d].selector: %v", i, err))
		}
	}
	if c.Batch.Layout != "stages" && len(c.Batch.Stages) > 0 {
		problems = append(problems, "batch.stages: only used by the stages layout")
	}

	if err := c.Telemetry.Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("telemetry: %v", err))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a URL", field)
	default:
		return fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
}
