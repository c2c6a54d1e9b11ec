//go:build linux

package main

import (
	"btlink/transport"
	"btlink/transport/bluez"
)

func bluezTransport(serviceName string) (transport.Transport, error) {
	return bluez.Transport{ServiceName: serviceName}, nil
}
