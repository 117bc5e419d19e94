/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/gptp/gptp/stats"
)

var statsCountersFlag bool

func init() {
	RootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVarP(&rootServerFlag, "server", "S", "http://localhost:4270", rootServerFlagDesc)
	statsCmd.Flags().BoolVarP(&statsCountersFlag, "counters", "c", false, "print counters instead of port state")
}

func colorState(state string) string {
	switch state {
	case "GRAND_MASTER", "SLAVE", "IDLE", "RESP_WAIT", "RESP_FOLLOW_UP_WAIT":
		return color.GreenString(state)
	case "INIT":
		return color.YellowString(state)
	}
	return color.RedString(state)
}

func printPortStats(w io.Writer, ps *stats.PortStats) error {
	table := tablewriter.NewWriter(w)
	table.Header("field", "value")
	rows := [][]string{
		{"iface", ps.Iface},
		{"port identity", ps.PortIdentity},
		{"delay measurement", colorState(ps.DMState)},
		{"best master", colorState(ps.BMCState)},
		{"clock sync", colorState(ps.CSState)},
		{"peer", ps.PeerPortIdentity},
		{"mean link delay", time.Duration(ps.MeanLinkDelay).String()},
		{"delay mean/stddev (ns)", fmt.Sprintf("%.1f/%.1f over %d samples", ps.DelayMean, ps.DelayStddev, ps.DelaySamples)},
		{"grandmaster", ps.GMIdentity},
		{"grandmaster priority", ps.GMPriority.String()},
	}
	if !ps.IsGrandMaster() {
		rows = append(rows,
			[]string{"master", ps.MasterPortIdentity},
			[]string{"offset", time.Duration(ps.Offset).String()},
			[]string{"last correction", time.Duration(ps.LastCorrection).String()},
		)
	}
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			return err
		}
	}
	return table.Render()
}

func printCounters(w io.Writer, c stats.Counters) error {
	table := tablewriter.NewWriter(w)
	table.Header("counter", "tx", "rx")
	tx, rx := c.PortStats()
	msgs := map[string]bool{}
	for k := range tx {
		msgs[k] = true
	}
	for k := range rx {
		msgs[k] = true
	}
	keys := make([]string, 0, len(msgs))
	for k := range msgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := table.Append([]string{k, fmt.Sprintf("%d", tx[k]), fmt.Sprintf("%d", rx[k])}); err != nil {
			return err
		}
	}
	sys := c.SysStats()
	keys = keys[:0]
	for k := range sys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := table.Append([]string{k, fmt.Sprintf("%d", sys[k]), ""}); err != nil {
			return err
		}
	}
	return table.Render()
}

func statsRun(w io.Writer, url string, counters bool) error {
	if counters {
		c, err := stats.FetchCounters(url)
		if err != nil {
			return fmt.Errorf("fetching counters from %s: %w", url, err)
		}
		return printCounters(w, c)
	}
	ps, err := stats.FetchPortStats(url)
	if err != nil {
		return fmt.Errorf("fetching port stats from %s: %w", url, err)
	}
	return printPortStats(w, ps)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print gptpd port state or counters",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := statsRun(os.Stdout, rootServerFlag, statsCountersFlag); err != nil {
			log.Fatal(err)
		}
	},
}
