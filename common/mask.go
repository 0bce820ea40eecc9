package common

import (
	"strings"

	"github.com/pkg/errors"
)

// InputMask is a property's ordered list of raw code to display value pairs,
// stored as `code;"display";code;"display"...`.
type InputMask struct {
	codes    []string
	displays []string
}

// ParseInputMask splits a stored mask. Quotes around display values are
// dropped, codes are kept as stored; an unpaired trailing element is ignored.
func ParseInputMask(s string) InputMask {
	m := InputMask{}
	if s == "" {
		return m
	}
	parts := strings.Split(s, ";")
	for i := 0; i+1 < len(parts); i += 2 {
		m.codes = append(m.codes, parts[i])
		m.displays = append(m.displays, strings.Trim(parts[i+1], `"`))
	}
	return m
}

func (m InputMask) Empty() bool { return len(m.codes) == 0 }

// Display maps a stored code to its display value. Unknown codes pass through.
func (m InputMask) Display(code string) string {
	for i, c := range m.codes {
		if c == code {
			return m.displays[i]
		}
	}
	return code
}

// Code maps a display value to the code to store. Without a mask the value is
// stored as given.
func (m InputMask) Code(display string) (string, error) {
	if m.Empty() {
		return display, nil
	}
	for i, d := range m.displays {
		if d == display {
			return m.codes[i], nil
		}
	}
	return "", errors.Wrapf(ErrValidation,
		"value '%s' not in property's input_mask, valid values are: %s",
		display, strings.Join(m.displays, ", "))
}

// Displays lists the legal display values in mask order.
func (m InputMask) Displays() []string {
	ret := make([]string, len(m.displays))
	copy(ret, m.displays)
	return ret
}
