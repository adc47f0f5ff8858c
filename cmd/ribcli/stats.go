// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print prefix/node/route counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openASNRIB()
			if err != nil {
				return err
			}
			defer r.Close()

			s := r.StatsSnapshot()
			fmt.Printf("prefixes: v4=%d v6=%d total=%d\n", s.PrefixesV4, s.PrefixesV6, s.PrefixesV4+s.PrefixesV6)
			fmt.Printf("nodes:    v4=%d v6=%d total=%d\n", s.NodesV4, s.NodesV6, s.NodesV4+s.NodesV6)
			fmt.Printf("routes:   v4=%d v6=%d total=%d\n", s.RoutesV4, s.RoutesV6, s.RoutesV4+s.RoutesV6)
			fmt.Printf("reclaimed vectors: %d\n", s.ReclaimedVectors)
			return nil
		},
	}
}
