//go:build !linux

package units

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("units: unsupported OS (linux only)")

func DialSystem(context.Context) (Manager, error) { return nil, ErrUnsupported }
