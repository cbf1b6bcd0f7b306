package stats

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/minhtran241/edge-computing-models/internal/model"
)

// Render prints the per-peer table followed by the overall summary.
func (s Snapshot) Render(w io.Writer, arch model.Architecture) {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Device ID", "Files Received", "Total File Size", "Transmission Time", "Processing Time"})
	for _, p := range s.Peers {
		table.Append([]string{
			p.PeerID,
			strconv.Itoa(p.Files),
			strconv.FormatInt(p.Bytes, 10),
			formatSeconds(p.Transmission),
			formatSeconds(p.Processing),
		})
	}
	table.Render()

	peers := make([]string, 0, len(s.Peers))
	for _, p := range s.Peers {
		peers = append(peers, p.PeerID)
	}
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Architecture: %s\n", arch)
	fmt.Fprintf(w, "Number of Files Received: %d\n", s.TotalFiles)
	fmt.Fprintf(w, "Total File Size: %d\n", s.TotalBytes)
	fmt.Fprintf(w, "Receive From: [%s]\n", strings.Join(peers, ", "))
	fmt.Fprintf(w, "Transmission Time: %s\n", formatSeconds(s.MeanTransmission))
	fmt.Fprintf(w, "Processing Time: %s\n", formatSeconds(s.MeanProcessing))
	fmt.Fprintln(w, strings.Repeat("-", 50))
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
