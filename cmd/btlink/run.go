package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"btlink"
	"btlink/connector"
	"btlink/transport"
	"btlink/utils/async"
)

// runLink starts a Link over the given transport and pumps its events to
// stdout until the connection ends or a signal arrives. peer, when non-nil,
// runs on its own goroutine once the link is started (used by loopback
// mode to drive the other end).
func runLink(tr transport.Transport, remote string, peer func()) {
	sink := make(btlink.ChanSink, 64)
	link := connector.New(tr, sink)
	link.Connect(remote)
	if peer != nil {
		go peer()
	}

	pump := async.Async(func() error {
		return pumpEvents(sink)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		log.Infof("interrupted, stopping")
		link.Stop()
	case err := <-pump.Ch():
		link.Stop()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}

// pumpEvents prints events until the connection fails or is lost.
func pumpEvents(sink btlink.ChanSink) error {
	for ev := range sink {
		switch ev := ev.(type) {
		case btlink.StateChanged:
			fmt.Printf("state: %s\n", ev.State)
		case btlink.DeviceIdentified:
			fmt.Printf("device: %s\n", ev.Name)
		case btlink.DataReceived:
			fmt.Printf("recv %d bytes: %q\n", ev.N, ev.Data)
		case btlink.ConnectionFailed:
			return fmt.Errorf("connection failed")
		case btlink.ConnectionLost:
			fmt.Println("connection lost")
			return nil
		}
	}
	return nil
}
