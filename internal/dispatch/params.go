package dispatch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMissingParam = errors.New("missing parameter")
	ErrInvalidParam = errors.New("invalid parameter")
)

// Params are the request parameters accompanying an action
type Params map[string]string

// Float parses the first of the given keys that is present
func (p Params) Float(keys ...string) (float64, error) {
	for _, key := range keys {
		raw, ok := p[key]
		if !ok {
			continue
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return 0, fmt.Errorf("%w '%s': %s", ErrInvalidParam, key, raw)
		}
		return v, nil
	}

	return 0, fmt.Errorf("%w: %s", ErrMissingParam, strings.Join(keys, "|"))
}
