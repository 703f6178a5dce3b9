package custom_errors

import (
	"errors"
	"fmt"
)

// ValidationError collects every problem found while validating a config
// or a request so callers see all of them at once.
type ValidationError struct {
	Errors []error `json:"errors"`
}

func (c *ValidationError) Add(err error) {
	if err == nil {
		return
	}
	c.Errors = append(c.Errors, err)
}

func (c *ValidationError) Addf(format string, args ...any) {
	c.Errors = append(c.Errors, fmt.Errorf(format, args...))
}

func (c *ValidationError) HasError() bool {
	return len(c.Errors) > 0
}

func (c *ValidationError) Error() string {
	if len(c.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", errors.Join(c.Errors...))
}

// Unwrap exposes the collected errors to errors.Is / errors.As.
func (c *ValidationError) Unwrap() []error {
	return c.Errors
}

// OrNil returns c when it holds errors, nil otherwise.
func (c *ValidationError) OrNil() error {
	if c.HasError() {
		return c
	}
	return nil
}
