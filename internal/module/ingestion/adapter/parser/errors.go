package parser

import "errors"

var (
	errMissingFrontMatter      = errors.New("missing front matter (document must start with ---)")
	errUnterminatedFrontMatter = errors.New("unterminated front matter")
	errEmptyFrontMatter        = errors.New("empty front matter")
	errEmptyBody               = errors.New("empty body")
)
