package logparse

import "errors"

var errInvalidDate = errors.New("logparse: invalid date")
