// Command egpsim runs the discrete-event routing simulator described by
// a JSON configuration file: it loads the topology and event schedule,
// runs the tick loop, and prints the checker's revenue report.
//
// Grounded on kbgp's cmd/main.go (a flat main wiring a speaker together)
// and the original tool's simulator.py main(), adapted to this spec's
// CLI contract (spec.md §6): -c/--config_file is required, -v/--verbose
// toggles the checker's per-tick logging, -i/--info toggles per-router
// logging.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/egpsim/egpsim/config"
)

func main() {
	var configFile string
	var verbose bool
	var info bool

	pflag.StringVarP(&configFile, "config_file", "c", "", "simulation configuration file (required)")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "run the simulator in verbose mode")
	pflag.BoolVarP(&info, "info", "i", false, "run the simulator in info mode")
	pflag.Parse()

	if configFile == "" {
		fmt.Fprintln(os.Stderr, "egpsim: -c/--config_file is required")
		pflag.Usage()
		os.Exit(1)
	}

	log.Println("** Configuration Loading **")
	result, err := config.Load(configFile)
	if err != nil {
		log.Println("** ERROR **")
		log.Println(err)
		os.Exit(1)
	}

	result.Kernel.SetVerbose(verbose)
	result.Kernel.SetInfo(info)
	result.Kernel.SetLogger(func(line string) { fmt.Println(line) })

	log.Println("** Simulation **")
	defer func() {
		if r := recover(); r != nil {
			log.Println("** ERROR **")
			log.Println(r)
			log.Println("Aborting simulation...")
			os.Exit(1)
		}
	}()
	if err := result.Kernel.Run(os.Stdout); err != nil {
		log.Println("** ERROR **")
		log.Println(err)
		log.Println("Aborting simulation...")
		os.Exit(1)
	}
}
