// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Command ribcli is a small operator tool around rib.RIB: insert single
// routes and look one up (rib.PathAttrs payloads), bulk-load a CSV of
// prefixes and print counters (rib.ASN payloads). It exists to exercise the library from outside its own
// test suite, the way the teacher's own cmd/ drove bart.Table by hand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/starcast/rib"
)

var persistPath string

func main() {
	root := &cobra.Command{
		Use:   "ribcli",
		Short: "operate a StarCast RIB from the command line",
	}
	root.PersistentFlags().StringVar(&persistPath, "persist-path", "", "directory for the on-disk persistence tier (empty: memory-only)")

	root.AddCommand(
		newInsertCmd(),
		newLookupCmd(),
		newLoadCSVCmd(),
		newStatsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openRIB constructs a rib.RIB[rib.PathAttrs], persisted under
// persistPath with WriteAhead when set, memory-only otherwise.
func openRIB() (*rib.RIB[rib.PathAttrs], error) {
	cfg := rib.Config[rib.PathAttrs]{}
	if persistPath != "" {
		cfg.PersistStrategy = rib.WriteAhead
		cfg.PersistPath = persistPath
		cfg.Decode = rib.DecodePathAttrs
	}
	return rib.New(cfg)
}

// openASNRIB constructs a rib.RIB[rib.ASN], the (addr,len,asn) shape
// load-csv and stats work with directly.
func openASNRIB() (*rib.RIB[rib.ASN], error) {
	cfg := rib.Config[rib.ASN]{}
	if persistPath != "" {
		cfg.PersistStrategy = rib.WriteAhead
		cfg.PersistPath = persistPath
		cfg.Decode = rib.DecodeASN
	}
	return rib.New(cfg)
}
