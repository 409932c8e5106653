package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks struct tags, then the rules that span several fields.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	for _, o := range c.Sources.Optional {
		if !contains(c.Sources.Dirs, o) {
			return fmt.Errorf("sources.optional: %q is not listed in sources.dirs", o)
		}
	}

	if (c.Remote.AccessKey == "") != (c.Remote.SecretKey == "") {
		return errors.New("remote.access_key and remote.secret_key must be set together")
	}

	e := c.Notify.Email
	if len(e.To) > 0 && (e.Username == "") != (e.Password == "") {
		return errors.New("notify.email.username and notify.email.password must be set together")
	}
	return nil
}

func describe(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return ns + " is required"
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", ns, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", ns, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", ns, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", ns, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q validation", ns, fe.Tag())
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
