package web

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// fieldErrors flattens a validator error into field path -> message. Paths
// drop the top-level struct name ("timetables[0].url").
func fieldErrors(err error) (map[string]string, bool) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, false
	}
	out := make(map[string]string, len(verrs))
	for _, e := range verrs {
		path := e.Namespace()
		if _, rest, ok := strings.Cut(path, "."); ok {
			path = rest
		}
		out[path] = friendlyMessage(e)
	}
	return out, true
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		if e.Kind().String() == "slice" {
			return "must contain at least " + e.Param() + " entries"
		}
		return "must be at least " + e.Param() + " characters"
	case "max":
		return "must not exceed " + e.Param() + " characters"
	case "url":
		return "must be a valid URL"
	default:
		return "is invalid"
	}
}
