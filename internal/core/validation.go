package core

import (
	"errors"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks the config locally. It never touches the network.
func (c ConnectionConfig) Validate() error {
	fields := map[string]string{}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Wrap(CodeValidation, err, "invalid connection config")
		}
		for _, fe := range verrs {
			fields[fe.Field()] = describeTag(fe)
		}
	}
	if c.Kind == ConnDirectURL && fields["url"] == "" {
		if msg := checkPostgresURL(c.URL); msg != "" {
			fields["url"] = msg
		}
	}
	if c.Kind == ConnHostBased && fields["url"] == "" && strings.ContainsAny(c.URL, " /?#@") && !strings.HasPrefix(c.URL, "tcp://") {
		fields["url"] = "must be host or host:port"
	}
	if len(fields) > 0 {
		return ValidationError("invalid connection config", fields)
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "failed " + fe.Tag()
}

func checkPostgresURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "is not a valid URL"
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "must use the postgres:// or postgresql:// scheme"
	}
	if u.Hostname() == "" {
		return "must include a host"
	}
	return ""
}
