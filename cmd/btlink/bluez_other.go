//go:build !linux

package main

import (
	"errors"

	"btlink/transport"
)

func bluezTransport(serviceName string) (transport.Transport, error) {
	return nil, errors.New("bluez transport is linux-only")
}
