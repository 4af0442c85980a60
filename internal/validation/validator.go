// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package validation provides struct validation using go-playground/validator
// v10: a thread-safe singleton instance with the custom validators the access
// intake needs (person names with accented forms, GitHub usernames, and the
// intentionally loose email rule inherited from the upstream form).
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// personNameRe accepts latin letters including the accented ranges,
// apostrophes, hyphens, and spaces; 2 to 100 characters.
var personNameRe = regexp.MustCompile(`^[A-Za-zÀ-ÖØ-öø-ÿ' -]{2,100}$`)

// githubUsernameRe is the upstream username rule rewritten without the
// lookahead: alphanumeric units separated by single hyphens, 39 chars max,
// no leading or trailing hyphen.
var githubUsernameRe = regexp.MustCompile(`^[a-zA-Z0-9](?:-?[a-zA-Z0-9]){0,38}$`)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		mustRegister("person_name", func(fl validator.FieldLevel) bool {
			return personNameRe.MatchString(fl.Field().String())
		})
		mustRegister("github_username", func(fl validator.FieldLevel) bool {
			return githubUsernameRe.MatchString(fl.Field().String())
		})
		mustRegister("loose_email", func(fl validator.FieldLevel) bool {
			return ValidEmail(fl.Field().String())
		})
	})
	return validate
}

func mustRegister(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("validation: register %s: %v", tag, err))
	}
}

// ValidEmail applies the intake's email rule: exactly one @, non-empty local
// and domain parts, a dot inside the domain, no spaces, 254 chars max. This
// is deliberately not a full RFC 5322 parse.
func ValidEmail(email string) bool {
	if len(email) > 254 || strings.ContainsRune(email, ' ') {
		return false
	}
	if strings.Count(email, "@") != 1 {
		return false
	}
	at := strings.IndexByte(email, '@')
	local, domain := email[:at], email[at+1:]
	if local == "" || domain == "" {
		return false
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return strings.Contains(domain, ".")
}

// ValidateStruct validates v against its struct tags and flattens failures
// into a single error naming the offending fields.
func ValidateStruct(v interface{}) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(fields, "; "))
}
