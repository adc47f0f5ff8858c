// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/starcast/rib"
	"github.com/starcast/rib/internal/af"
	"github.com/starcast/rib/internal/rtypes"
)

func newLoadCSVCmd() *cobra.Command {
	var mui uint32

	cmd := &cobra.Command{
		Use:   "load-csv <file>",
		Short: "bulk-insert the (addr,len,asn) CSV shape of the bundled full-table fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			r, err := openASNRIB()
			if err != nil {
				return err
			}
			defer r.Close()

			reader := csv.NewReader(bufio.NewReader(f))
			reader.FieldsPerRecord = 3

			start := time.Now()
			count := 0
			for {
				row, err := reader.Read()
				if err == io.EOF {
					break
				}
				if err != nil {
					return fmt.Errorf("row %d: %w", count+1, err)
				}

				addr, err := netip.ParseAddr(row[0])
				if err != nil {
					return fmt.Errorf("row %d: parse addr: %w", count+1, err)
				}
				length, err := strconv.ParseUint(row[1], 10, 8)
				if err != nil {
					return fmt.Errorf("row %d: parse len: %w", count+1, err)
				}
				asn, err := strconv.ParseUint(row[2], 10, 32)
				if err != nil {
					return fmt.Errorf("row %d: parse asn: %w", count+1, err)
				}

				id := af.FromNetipPrefix(netip.PrefixFrom(addr, int(length)))
				rec := rtypes.Record[rib.ASN]{Mui: mui, Status: rtypes.StatusActive, Meta: rib.ASN(asn)}
				if _, err := r.Insert(id, rec, false); err != nil {
					return fmt.Errorf("row %d: insert: %w", count+1, err)
				}
				count++
			}

			fmt.Printf("loaded %d rows in %v; %d distinct prefixes\n", count, time.Since(start), r.PrefixesCount())
			return nil
		},
	}

	cmd.Flags().Uint32Var(&mui, "mui", 0, "multi-unique-id to tag every loaded route with")
	return cmd
}
