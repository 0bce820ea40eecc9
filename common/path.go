package common

import (
	"strings"

	"github.com/pkg/errors"
)

// DefaultOwner is the hierarchy path of the universal default owner.
const DefaultOwner = "System.System"

// Path is a "ClassName.ObjectName" hierarchy path.
type Path struct {
	Class  string
	Object string
}

func (p Path) String() string {
	return p.Class + "." + p.Object
}

// ParsePath splits on the first sep. Object names may contain the separator.
func ParsePath(s string, sep string) (p Path, err error) {
	idx := strings.Index(s, sep)
	if idx <= 0 || idx == len(s)-len(sep) {
		err = errors.Wrapf(ErrValidation, "invalid hierarchy '%s', must take the form class%sobject", s, sep)
		return
	}
	p = Path{Class: s[:idx], Object: s[idx+len(sep):]}
	return
}
