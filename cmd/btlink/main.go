// btlink demo CLI.
//
// usage: btlink <tcp|bluez|loopback> [flags]
//
// Each mode builds a transport, runs a Link over it and prints every event
// until the connection ends or SIGINT arrives. tcp listens on a plain
// socket (handy for two machines without radios), bluez listens on a real
// RFCOMM SPP socket via BlueZ, loopback talks to itself over an in-memory
// pipe fed from stdin.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"btlink/transport"
	"btlink/utils/mock"
)

func initTCPFlag() *flag.FlagSet {
	tcpCmd := flag.NewFlagSet("tcp", flag.ExitOnError)
	tcpCmd.String("addr", "127.0.0.1:9131", "bind address")
	addCommonFlags(tcpCmd)
	return tcpCmd
}

func initBluezFlag() *flag.FlagSet {
	bluezCmd := flag.NewFlagSet("bluez", flag.ExitOnError)
	bluezCmd.String("name", "btlink", "SDP service name")
	addCommonFlags(bluezCmd)
	return bluezCmd
}

func initLoopbackFlag() *flag.FlagSet {
	loopCmd := flag.NewFlagSet("loopback", flag.ExitOnError)
	addCommonFlags(loopCmd)
	return loopCmd
}

func addCommonFlags(fs *flag.FlagSet) {
	fs.String("remote", "remote-device", "identity of the remote endpoint")
	fs.BoolP("verbose", "v", false, "enable debug logging")
}

func setupLogging(fs *flag.FlagSet) {
	if v, _ := fs.GetBool("verbose"); v {
		log.SetLevel(log.DebugLevel)
	}
}

func mainTCP(fs *flag.FlagSet) {
	fs.Parse(os.Args[2:])
	setupLogging(fs)
	addr, _ := fs.GetString("addr")
	remote, _ := fs.GetString("remote")
	runLink(transport.NetTransport{Network: "tcp", Addr: addr}, remote, nil)
}

func mainBluez(fs *flag.FlagSet) {
	fs.Parse(os.Args[2:])
	setupLogging(fs)
	name, _ := fs.GetString("name")
	remote, _ := fs.GetString("remote")
	tr, err := bluezTransport(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bluez mode unavailable: %v\n", err)
		os.Exit(1)
	}
	runLink(tr, remote, nil)
}

func mainLoopback(fs *flag.FlagSet) {
	fs.Parse(os.Args[2:])
	setupLogging(fs)
	remote, _ := fs.GetString("remote")
	tr := mock.NewTransport(remote)
	runLink(tr, remote, func() {
		// feed the accepted side from stdin through the pipe
		conn, err := tr.Dial()
		if err != nil {
			log.Errorf("loopback dial: %v", err)
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if _, err := conn.Write(buf[:n]); err != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	})
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "tcp":
		mainTCP(initTCPFlag())
	case "bluez":
		mainBluez(initBluezFlag())
	case "loopback":
		mainLoopback(initLoopbackFlag())
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <tcp|bluez|loopback> [flags]\n", os.Args[0])
}
