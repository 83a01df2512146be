package validator

import (
	"errors"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// IsCallbackURL checks that raw is an absolute http(s) URL a receiver can be
// reached at. Credentials and fragments are refused: userinfo would leak into
// logs and a fragment is never sent on the wire.
func IsCallbackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid url")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return errors.New("callback url must use http or https")
	}
	if u.Hostname() == "" {
		return errors.New("callback url has no host")
	}
	if u.User != nil {
		return errors.New("callback url must not carry credentials")
	}
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return errors.New("callback url must not have a fragment")
	}

	return nil
}

// Register adds the callback_url tag to v.
func Register(v *validator.Validate) error {
	return v.RegisterValidation("callback_url", func(fl validator.FieldLevel) bool {
		return IsCallbackURL(fl.Field().String()) == nil
	})
}
