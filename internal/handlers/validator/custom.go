package validator

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	scpLikeRegex    = regexp.MustCompile(`^[a-zA-Z0-9._-]+@[a-zA-Z0-9.-]+:[a-zA-Z0-9._/-]+$`)
	branchNameRegex = regexp.MustCompile(`^[^\s~^:?*\[\\]+$`)
)

// repoURLValidator accepts http(s) and ssh clone URLs plus the scp-like
// git@host:path form.
func repoURLValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	if scpLikeRegex.MatchString(val) {
		return true
	}

	u, err := url.Parse(val)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
		return u.Host != ""
	default:
		return false
	}
}

func branchNameValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	if val == "" {
		return true
	}
	if strings.HasPrefix(val, "-") || strings.HasSuffix(val, "/") || strings.Contains(val, "..") {
		return false
	}
	return branchNameRegex.MatchString(val)
}
