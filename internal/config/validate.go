package config

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() func(Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their env/flag names so operators know what to fix.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if label := f.Tag.Get("label"); label != "" {
			return label
		}
		return f.Name
	})

	return func(cfg Config) error {
		err := v.Struct(cfg)
		if err == nil {
			return nil
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		errs := make([]error, 0, len(verrs))
		for _, fe := range verrs {
			errs = append(errs, describe(fe))
		}
		return errors.Join(errs...)
	}
}

func describe(fe validator.FieldError) error {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", name)
	case "gt":
		return fmt.Errorf("%s must be > %s", name, fe.Param())
	case "gte":
		return fmt.Errorf("%s must be >= %s", name, fe.Param())
	case "gtefield":
		return fmt.Errorf("%s must be >= %s", name, fe.Param())
	case "oneof":
		return fmt.Errorf("%s must be one of [%s]", name, fe.Param())
	case "hostname_port":
		return fmt.Errorf("%s must be host:port, got %q", name, fe.Value())
	default:
		return fmt.Errorf("%s failed %s validation", name, fe.Tag())
	}
}
