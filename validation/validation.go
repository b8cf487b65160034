package validation

import (
	"net/url"
	"strings"

	"mediagrab/errors"
	"mediagrab/formats"
)

const maxSearchLimit = 25

type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateURL performs source URL validation
func (v *Validator) ValidateURL(urlStr string) error {
	const op = "Validator.ValidateURL"

	if strings.TrimSpace(urlStr) == "" {
		return errors.InvalidInput(op, nil, "URL is required")
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return errors.InvalidInput(op, err, "Invalid URL format")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.InvalidInput(op, nil, "URL must use HTTP or HTTPS")
	}

	if parsedURL.Hostname() == "" {
		return errors.InvalidInput(op, nil, "URL must include a host")
	}

	return nil
}

// ValidateFormat resolves a format identifier against the closed table.
func (v *Validator) ValidateFormat(name string) (formats.Profile, error) {
	return formats.Lookup(name)
}

// ValidateQuery checks a search query and clamps the result limit to
// [1, maxSearchLimit].
func (v *Validator) ValidateQuery(query string, limit int) (string, int, error) {
	const op = "Validator.ValidateQuery"

	query = strings.TrimSpace(query)
	if len(query) < 3 {
		return "", 0, errors.InvalidInput(op, nil, "Query must be at least 3 characters")
	}

	if limit < 1 {
		limit = 1
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	return query, limit, nil
}
