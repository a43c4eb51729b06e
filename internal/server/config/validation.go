package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags first and then the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if _, _, err := net.SplitHostPort(c.EndpointAddrHTTP); err != nil {
		return fmt.Errorf("EndpointAddrHTTP: %w", err)
	}
	if !filepath.IsAbs(c.StorageRoot) {
		return fmt.Errorf("StorageRoot: %q is not an absolute path", c.StorageRoot)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
