// Command franklyboot drives one franklyboot bootloader session:
// discover nodes on a network transport, erase a device's app area, or
// flash an image to it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/franc0r/frankly-fw-update-cli/device"
	"github.com/franc0r/frankly-fw-update-cli/flash"
	"github.com/franc0r/frankly-fw-update-cli/image"
	"github.com/franc0r/frankly-fw-update-cli/transport"
)

// simDryRunNodes is the fixed set of simulated nodes seeded for a
// --type sim session, so that repeated dry runs discover the same
// fleet without any configuration file.
var simDryRunNodes = []uint8{1, 3, 31, 8}

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "search":
		err = runSearch(os.Args[2:])
	case "erase":
		err = runErase(os.Args[2:])
	case "flash":
		err = runFlash(os.Args[2:])
	case "-h", "-help", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("franklyboot: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: franklyboot <search|erase|flash> [flags]")
}

// commonFlags holds the transport selection flags shared by every
// subcommand.
type commonFlags struct {
	transportType string
	iface         string
	baud          int
	node          uint
}

func bindCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.transportType, "type", "sim", "transport type: sim, serial, can")
	fs.StringVar(&c.iface, "interface", "", "serial port path or CAN interface name")
	fs.IntVar(&c.baud, "baud", transport.DefaultBaudRate, "serial baud rate (serial only)")
	fs.UintVar(&c.node, "node", 0, "target node id (serial addressing is implicit and ignores this)")
	return c
}

// openTransport builds and opens the transport c selects. For sim, it
// also seeds the fixed dry-run node fleet so search/erase/flash all
// see the same nodes without a config file.
func openTransport(c *commonFlags) (transport.Transport, error) {
	switch c.transportType {
	case "sim":
		transport.ResetNetwork()
		for _, id := range simDryRunNodes {
			transport.AddNode(id)
		}
		tr := transport.NewSim()
		return tr, tr.Open(transport.ForSim())
	case "serial":
		if c.iface == "" {
			return nil, fmt.Errorf("serial transport requires -interface")
		}
		tr := transport.NewSerial()
		return tr, tr.Open(transport.ForSerial(c.iface, c.baud))
	case "can":
		if c.iface == "" {
			return nil, fmt.Errorf("can transport requires -interface")
		}
		tr := transport.NewCAN()
		return tr, tr.Open(transport.ForCAN(c.iface))
	case "ethernet":
		return nil, fmt.Errorf("ethernet transport not supported yet")
	default:
		return nil, fmt.Errorf("unknown transport type %q", c.transportType)
	}
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	c := bindCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	tr, err := openTransport(c)
	if err != nil {
		return err
	}
	if !tr.IsNetwork() {
		return fmt.Errorf("search requires a network transport (sim or can), not %q", c.transportType)
	}

	if err := tr.SetMode(transport.BroadcastMode()); err != nil {
		return err
	}
	nodes, err := tr.ScanNetwork()
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Println("no nodes found")
		return nil
	}
	for _, id := range nodes {
		if err := tr.SetMode(transport.SpecificMode(id)); err != nil {
			log.Printf("node %d: %v", id, err)
			continue
		}
		dev := device.New(tr)
		if err := dev.Init(); err != nil {
			log.Printf("node %d: %v", id, err)
			continue
		}
		fmt.Printf("node %d: %s\n", id, dev.String())
	}
	return nil
}

func connectDevice(c *commonFlags) (*device.Device, error) {
	tr, err := openTransport(c)
	if err != nil {
		return nil, err
	}
	if tr.IsNetwork() {
		if err := tr.SetMode(transport.SpecificMode(uint8(c.node))); err != nil {
			return nil, err
		}
	}
	dev := device.New(tr)
	return dev, nil
}

func runErase(args []string) error {
	fs := flag.NewFlagSet("erase", flag.ExitOnError)
	c := bindCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	dev, err := connectDevice(c)
	if err != nil {
		return err
	}
	orch := flash.New(dev)
	orch.Logger = log.Default()

	if err := orch.Init(); err != nil {
		return err
	}
	log.Printf("erasing: %s", dev.String())
	if err := orch.Erase(); err != nil {
		return err
	}
	log.Printf("erase complete")
	return nil
}

func runFlash(args []string) error {
	fs := flag.NewFlagSet("flash", flag.ExitOnError)
	c := bindCommonFlags(fs)
	hexFile := fs.String("hex-file", "", "path to the application image (raw binary; Intel HEX front-ends resolve to this shape before calling in)")
	startApp := fs.Bool("start-app", true, "issue StartApp once flashing succeeds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *hexFile == "" {
		return fmt.Errorf("flash requires -hex-file")
	}

	data, err := os.ReadFile(*hexFile)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	img := image.NewByteImage(data)

	dev, err := connectDevice(c)
	if err != nil {
		return err
	}
	orch := flash.New(dev)
	orch.Logger = log.Default()

	log.Printf("flashing %d bytes", img.LenBytes())
	if err := orch.Run(img); err != nil {
		return err
	}
	log.Printf("flash complete: %s", dev.String())

	if *startApp {
		if err := orch.StartApp(); err != nil {
			return fmt.Errorf("start app: %w", err)
		}
		log.Printf("application started")
	}
	return nil
}
