// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"net/netip"

	"github.com/spf13/cobra"

	"github.com/starcast/rib"
	"github.com/starcast/rib/internal/af"
)

func newLookupCmd() *cobra.Command {
	var exact bool
	var lessSpecifics bool
	var moreSpecifics bool

	cmd := &cobra.Command{
		Use:   "lookup <prefix>",
		Short: "longest-prefix-match (default) or exact lookup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pfx, err := netip.ParsePrefix(args[0])
			if err != nil {
				return fmt.Errorf("parse prefix: %w", err)
			}

			r, err := openRIB()
			if err != nil {
				return err
			}
			defer r.Close()

			matchType := rib.MatchLongest
			if exact {
				matchType = rib.MatchExact
			}

			result, err := r.MatchPrefix(af.FromNetipPrefix(pfx), rib.MatchOptions{
				MatchType:            matchType,
				IncludeLessSpecifics: lessSpecifics,
				IncludeMoreSpecifics: moreSpecifics,
			})
			if err != nil {
				return err
			}

			if !result.Found {
				fmt.Printf("no match for %s\n", pfx)
				return nil
			}

			fmt.Printf("%s match: %s\n", result.MatchType, result.Prefix.ToNetipPrefix())
			for _, rec := range result.Records {
				fmt.Printf("  mui=%d status=%s next_hop=%s communities=%v\n",
					rec.Mui, rec.Status, rec.Meta.NextHop, rec.Meta.Communities[:rec.Meta.CommunityCount])
			}

			for _, pr := range result.LessSpecifics {
				fmt.Printf("  less-specific: %s (%d records)\n", pr.Prefix.ToNetipPrefix(), len(pr.Records))
			}
			for _, pr := range result.MoreSpecifics {
				fmt.Printf("  more-specific: %s (%d records)\n", pr.Prefix.ToNetipPrefix(), len(pr.Records))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&exact, "exact", false, "require an exact match instead of longest-prefix-match")
	cmd.Flags().BoolVar(&lessSpecifics, "less-specifics", false, "also list covering (less-specific) prefixes")
	cmd.Flags().BoolVar(&moreSpecifics, "more-specifics", false, "also list covered (more-specific) prefixes")

	return cmd
}
