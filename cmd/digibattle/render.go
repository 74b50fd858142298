package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/digibattleapp/Digi-Battle/internal/codec"
	"github.com/digibattleapp/Digi-Battle/internal/exchange"
	"github.com/digibattleapp/Digi-Battle/internal/history"
)

var (
	primary = lipgloss.Color("#00ff9f")
	dim     = lipgloss.Color("#6e7681")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(primary)
	labelStyle = lipgloss.NewStyle().Foreground(dim)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primary).
			Padding(0, 1)

	outcomeStyles = map[string]lipgloss.Style{
		history.OutcomeFinished: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
		history.OutcomeTimeout:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f2cc60")),
		history.OutcomeCanceled: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f2cc60")),
		history.OutcomeFailed:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f")),
	}
)

const timeLayout = "2006-01-02 15:04:05"

func renderOutcome(o string) string {
	if s, ok := outcomeStyles[o]; ok {
		return s.Render(o)
	}
	return o
}

func field(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-11s", label)) + " " + value
}

func renderResult(res *exchange.Result) string {
	return renderRecord(res.Record())
}

// renderRecord draws one exchange as a bordered card.
func renderRecord(rec *history.Record) string {
	lines := []string{
		titleStyle.Render("exchange " + rec.ID),
		"",
		field("outcome", renderOutcome(rec.Outcome)),
		field("role", rec.Role),
		field("preset", rec.Preset),
		field("started", rec.StartedAt.Local().Format(timeLayout)),
	}
	if !rec.FinishedAt.IsZero() {
		lines = append(lines, field("duration", rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond).String()))
	}
	if rec.Error != "" {
		lines = append(lines, field("error", rec.Error))
	}
	rtt := "-"
	if rec.Outcome == history.OutcomeFinished && rec.RoundTripMillis >= 0 {
		rtt = fmt.Sprintf("%d ms", rec.RoundTripMillis)
	}
	lines = append(lines,
		field("round trip", rtt),
		field("input rate", fmt.Sprintf("%d Hz", rec.InputRate)),
		field("partitions", fmt.Sprint(rec.Partitions)),
		field("sent", strings.Join(rec.Sent, " ")),
	)

	if len(rec.Received) == 0 {
		lines = append(lines, field("decoded", "(nothing)"))
	}
	for i, m := range rec.Received {
		who := "us  "
		if m.FromPeer {
			who = "peer"
		}
		text := fmt.Sprintf("#%-2d %s %s", m.Partition, who, m.Hex)
		if m.Truncated {
			text += " " + outcomeStyles[history.OutcomeTimeout].Render("truncated")
		}
		label := ""
		if i == 0 {
			label = "decoded"
		}
		lines = append(lines, field(label, text))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// renderRecords draws a one-line-per-exchange table.
func renderRecords(recs []history.Record) string {
	if len(recs) == 0 {
		return labelStyle.Render("no exchanges stored")
	}
	col := func(w int) lipgloss.Style { return lipgloss.NewStyle().Width(w) }
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		col(21).Render("STARTED"),
		col(10).Render("OUTCOME"),
		col(10).Render("ROLE"),
		col(20).Render("SENT"),
		col(20).Render("RECEIVED"),
		"ID",
	)
	lines := []string{titleStyle.Render(header)}
	for _, r := range recs {
		var received []string
		for _, m := range r.Received {
			if m.FromPeer {
				received = append(received, m.Hex)
			}
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			col(21).Render(r.StartedAt.Local().Format(timeLayout)),
			col(10).Render(renderOutcome(r.Outcome)),
			col(10).Render(r.Role),
			col(20).Render(truncate(strings.Join(r.Sent, " "), 19)),
			col(20).Render(truncate(strings.Join(received, " "), 19)),
			r.ID,
		))
	}
	return strings.Join(lines, "\n")
}

// renderFrame describes the line encoding of one message.
func renderFrame(c *codec.Codec, hex string) (string, error) {
	v, err := codec.ParseMessage(hex)
	if err != nil {
		return "", err
	}
	frame, err := c.Frame(hex)
	if err != nil {
		return "", err
	}

	var bits strings.Builder
	for i := range codec.BitsPerMessage {
		if i > 0 && i%4 == 0 {
			bits.WriteByte(' ')
		}
		bits.WriteByte('0' + byte(v>>i&1))
	}

	lines := []string{
		titleStyle.Render("message " + strings.ToLower(hex)),
		"",
		field("value", fmt.Sprintf("0x%04x (%d)", v, v)),
		field("bits", bits.String()+labelStyle.Render("  lsb first")),
		field("handshake", fmt.Sprintf("%d samples", c.HandshakeLength)),
		field("cells", fmt.Sprintf("%d x %d samples, read at %d", codec.BitsPerMessage, c.CellSize, c.MarkerOffset)),
		field("frame", fmt.Sprintf("%d samples @ %d Hz = %d ms", len(frame), c.Rate, len(frame)*1000/c.Rate)),
	}
	return boxStyle.Render(strings.Join(lines, "\n")), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
