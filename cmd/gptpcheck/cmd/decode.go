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
	"time"

	"github.com/Knetic/govaluate"
	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	ptp "github.com/facebook/gptp/gptp/protocol"
)

// flags
var (
	decodeFilterFlag string
	decodeDumpFlag   bool
)

func init() {
	RootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringVarP(&decodeFilterFlag, "filter", "f", "", fmt.Sprintf("only print frames matching the expression, variables: %v", filterVars))
	decodeCmd.Flags().BoolVarP(&decodeDumpFlag, "dump", "d", false, "dump decoded packets instead of printing a table")
}

// LayerGPTP wraps around gPTP packet carried directly over Ethernet
type LayerGPTP struct {
	layers.BaseLayer

	Header ptp.Header
	Packet ptp.Packet
}

// LayerTypeGPTP is registered as a layer with gopacket
var LayerTypeGPTP = gopacket.RegisterLayerType(
	8021,
	gopacket.LayerTypeMetadata{
		Name:    "gPTP",
		Decoder: gopacket.DecodeFunc(decodeGPTP),
	},
)

func init() {
	layers.EthernetTypeMetadata[ptp.EtherTypePTP] = layers.EnumMetadata{
		DecodeWith: gopacket.DecodeFunc(decodeGPTP),
		Name:       "gPTP",
		LayerType:  LayerTypeGPTP,
	}
}

// LayerType returns type this layer implements
func (l *LayerGPTP) LayerType() gopacket.LayerType {
	return LayerTypeGPTP
}

// Payload is empty as it's the final layer
func (l *LayerGPTP) Payload() []byte {
	return nil
}

func decodeGPTP(data []byte, p gopacket.PacketBuilder) error {
	d := &LayerGPTP{}
	if err := d.Header.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("decoding gPTP header: %w", err)
	}
	pkt, err := ptp.DecodePacket(data)
	if err != nil {
		return fmt.Errorf("decoding gPTP packet: %w", err)
	}
	d.BaseLayer = layers.BaseLayer{Contents: data}
	d.Packet = pkt
	p.AddLayer(d)
	p.SetApplicationLayer(d)
	return nil
}

// capturedFrame is a decoded gPTP frame from a capture file
type capturedFrame struct {
	Time   time.Time
	Src    string
	Header ptp.Header
	Packet ptp.Packet
}

var filterVars = []string{"type", "seq", "domain", "src", "correction", "length"}

func (f *capturedFrame) parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       f.Header.MessageType().String(),
		"seq":        float64(f.Header.SequenceID),
		"domain":     float64(f.Header.DomainNumber),
		"src":        f.Header.SourcePortIdentity.String(),
		"correction": f.Header.CorrectionField.Nanoseconds(),
		"length":     float64(f.Header.MessageLength),
	}
}

func details(p ptp.Packet) string {
	switch v := p.(type) {
	case *ptp.Announce:
		return fmt.Sprintf("gm %s p1 %d class %d steps %d", v.GrandmasterIdentity, v.GrandmasterPriority1, v.GrandmasterClockQuality.ClockClass, v.StepsRemoved)
	case *ptp.FollowUp:
		return fmt.Sprintf("origin %s", v.PreciseOriginTimestamp)
	case *ptp.PDelayResp:
		return fmt.Sprintf("t2 %s for %s", v.RequestReceiptTimestamp, v.RequestingPortIdentity)
	case *ptp.PDelayRespFollowUp:
		return fmt.Sprintf("t3 %s for %s", v.ResponseOriginTimestamp, v.RequestingPortIdentity)
	}
	return ""
}

// packetHandle abstracts packet handles provided by pcapgo.Reader and pcapgo.NGReader
type packetHandle interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func openCapture(r io.ReadSeeker) (packetHandle, error) {
	// try NGReader, if it fails - fall back to Reader
	handle, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if err == nil {
		return handle, nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return pcapgo.NewReader(r)
}

// readFrames returns all gPTP frames from the capture, undecodable frames are skipped
func readFrames(r io.ReadSeeker) ([]*capturedFrame, error) {
	handle, err := openCapture(r)
	if err != nil {
		return nil, fmt.Errorf("opening capture: %w", err)
	}
	frames := []*capturedFrame{}
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range packetSource.Packets() {
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			log.Warningf("skipping frame: %v", errLayer.Error())
			continue
		}
		l := packet.Layer(LayerTypeGPTP)
		if l == nil {
			continue
		}
		g := l.(*LayerGPTP)
		f := &capturedFrame{
			Time:   packet.Metadata().Timestamp,
			Header: g.Header,
			Packet: g.Packet,
		}
		if eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); ok {
			f.Src = eth.SrcMAC.String()
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func prepareFilter(exprStr string) (*govaluate.EvaluableExpression, error) {
	expr, err := govaluate.NewEvaluableExpression(exprStr)
	if err != nil {
		return nil, err
	}
	for _, v := range expr.Vars() {
		found := false
		for _, s := range filterVars {
			if s == v {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unsupported variable %q", v)
		}
	}
	return expr, nil
}

// filterFrames keeps frames for which expression evaluates to true
func filterFrames(frames []*capturedFrame, exprStr string) ([]*capturedFrame, error) {
	if exprStr == "" {
		return frames, nil
	}
	expr, err := prepareFilter(exprStr)
	if err != nil {
		return nil, fmt.Errorf("parsing filter: %w", err)
	}
	res := []*capturedFrame{}
	for _, f := range frames {
		v, err := expr.Evaluate(f.parameters())
		if err != nil {
			return nil, fmt.Errorf("evaluating filter: %w", err)
		}
		match, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("filter must evaluate to bool, got %T", v)
		}
		if match {
			res = append(res, f)
		}
	}
	return res, nil
}

func frameRow(f *capturedFrame) []string {
	return []string{
		f.Time.Format(time.RFC3339Nano),
		f.Src,
		color.CyanString(f.Header.MessageType().String()),
		fmt.Sprintf("%d", f.Header.SequenceID),
		fmt.Sprintf("%d", f.Header.DomainNumber),
		f.Header.CorrectionField.String(),
		details(f.Packet),
	}
}

func printFrames(w io.Writer, frames []*capturedFrame) error {
	table := tablewriter.NewWriter(w)
	table.Header("time", "src", "type", "seq", "domain", "correction", "details")
	for _, f := range frames {
		if err := table.Append(frameRow(f)); err != nil {
			return err
		}
	}
	return table.Render()
}

func dumpFrames(frames []*capturedFrame) {
	for _, f := range frames {
		spew.Printf("%s %s\n", f.Time.Format(time.RFC3339Nano), f.Src)
		spew.Dump(f.Packet)
		spew.Println()
	}
}

func decodeRun(input string) error {
	file, err := os.Open(input)
	if err != nil {
		return err
	}
	defer file.Close()
	frames, err := readFrames(file)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", input, err)
	}
	frames, err = filterFrames(frames, decodeFilterFlag)
	if err != nil {
		return err
	}
	if decodeDumpFlag {
		dumpFrames(frames)
		return nil
	}
	return printFrames(os.Stdout, frames)
}

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Print gPTP frames from .pcap or .pcapng capture",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		if err := decodeRun(args[0]); err != nil {
			log.Fatal(err)
		}
	},
}
