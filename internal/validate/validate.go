// Package validate wraps github.com/go-playground/validator/v10 into a
// single Struct(v) entry point, grounded on the pack's own struct-tag
// validation idiom (see internal/httpserver/validate.go in the
// wisbric-nightowl example), returning a KindValidation *errs.Error with
// every failing field joined into the detail instead of hand-rolled
// if-chains.
package validate

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
)

var v = validator.New(validator.WithRequiredStructEnabled())

// Struct runs struct-tag validation on s and returns a KindValidation
// *errs.Error describing every failing field, or nil.
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errs.Wrap(errs.KindValidation, "validation failed", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Namespace()+" failed "+fe.Tag())
	}
	return errs.WithDetail(errs.New(errs.KindValidation, "validation failed"), strings.Join(msgs, "; "))
}
