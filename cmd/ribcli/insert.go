// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"net/netip"

	"github.com/spf13/cobra"

	"github.com/starcast/rib"
	"github.com/starcast/rib/internal/af"
	"github.com/starcast/rib/internal/rtypes"
)

func newInsertCmd() *cobra.Command {
	var mui uint32
	var ltime uint64
	var nextHop string
	var communities []uint32

	cmd := &cobra.Command{
		Use:   "insert <prefix>",
		Short: "insert or update a route for a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pfx, err := netip.ParsePrefix(args[0])
			if err != nil {
				return fmt.Errorf("parse prefix: %w", err)
			}
			hop, err := netip.ParseAddr(nextHop)
			if err != nil {
				return fmt.Errorf("parse next-hop: %w", err)
			}

			r, err := openRIB()
			if err != nil {
				return err
			}
			defer r.Close()

			id := af.FromNetipPrefix(pfx)
			rec := rtypes.Record[rib.PathAttrs]{
				Mui:    mui,
				LTime:  ltime,
				Status: rtypes.StatusActive,
				Meta:   rib.NewPathAttrs(hop, communities),
			}

			report, err := r.Insert(id, rec, true)
			if err != nil {
				return err
			}
			fmt.Printf("inserted %s mui=%d (prefix_new=%v mui_new=%v cas_count=%d)\n",
				pfx, mui, report.PrefixNew, report.MuiNew, report.CASCount)
			return nil
		},
	}

	cmd.Flags().Uint32Var(&mui, "mui", 0, "multi-unique-id of the route source")
	cmd.Flags().Uint64Var(&ltime, "ltime", 0, "logical time of this update")
	cmd.Flags().StringVar(&nextHop, "next-hop", "", "next-hop address")
	cmd.Flags().Uint32SliceVar(&communities, "community", nil, "BGP community value, repeatable")
	_ = cmd.MarkFlagRequired("next-hop")

	return cmd
}
