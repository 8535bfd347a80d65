// Package cli implements the interactive operator console for the proxy.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/config"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/db"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/registry"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/server"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/session"
)

const defaultHistoryRows = 20

// SessionManager is the part of the session manager the console drives.
type SessionManager interface {
	Snapshot() []session.Info
	Get(idOrPrefix string) (*session.Session, error)
	Kick(idOrPrefix, reason string) (string, error)
	Slots() *server.Slots
}

// HistorySource reads the session ledger.
type HistorySource interface {
	History(limit int) ([]db.SessionRecord, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	manager  SessionManager
	ledger   HistorySource
	registry *registry.Registry

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
// ledger may be nil.
func NewCLI(
	cfg *config.Config,
	eventBus *events.EventBus,
	manager SessionManager,
	ledger HistorySource,
	reg *registry.Registry,
	in io.Reader,
	out io.Writer,
) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
		ledger:   ledger,
		registry: reg,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until input ends, quit is entered or ctx is
// cancelled.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nVoxelCraft proxy console ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "proxy> ")

		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				log.Debug().Msg("console input closed")
				return
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		quit, err := c.Execute(ctx, cmd, args)
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		if quit {
			return
		}
	}
}

// Execute runs a single command. It reports whether the console should stop.
func (c *CLI) Execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return false, c.printStatus(args)
	case "history":
		return false, c.printHistory(args)
	case "kick":
		return false, c.cmdKick(args)
	case "slots":
		c.printSlots()
	case "blocks":
		return false, c.printBlocks(args)
	case "setconfig":
		return false, c.cmdSetConfig(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down proxy...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                 VoxelCraft Proxy Commands                    ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status [id]         Show live sessions or one session      ║")
	fmt.Fprintln(c.out, "║  history [n]         Show the last n ledger rows            ║")
	fmt.Fprintln(c.out, "║  kick <id> [reason]  Disconnect a session                   ║")
	fmt.Fprintln(c.out, "║  slots               Show player slot usage                 ║")
	fmt.Fprintln(c.out, "║  blocks [name]       List block definitions                 ║")
	fmt.Fprintln(c.out, "║  setconfig <k> <v>   Update a configuration value           ║")
	fmt.Fprintln(c.out, "║  quit                Shut down the proxy                    ║")
	fmt.Fprintln(c.out, "║  help                Show this help message                 ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) newTable(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus(args []string) error {
	if len(args) > 0 {
		sess, err := c.manager.Get(args[0])
		if err != nil {
			return err
		}
		c.printSessionDetail(sess.Info())
		return nil
	}

	infos := c.manager.Snapshot()
	if len(infos) == 0 {
		fmt.Fprintln(c.out, "No live sessions")
		return nil
	}

	fmt.Fprintln(c.out)
	tw := c.newTable([]string{"ID", "Remote", "Phase", "Player", "Upstream As", "Age", "Up", "Down", "Chunks"})
	for _, info := range infos {
		tw.Append([]string{
			shortID(info.ID),
			info.RemoteAddr,
			info.Phase.String(),
			orDash(info.DownstreamName),
			orDash(info.UpstreamUsername),
			formatAge(time.Since(info.OpenedAt)),
			strconv.FormatUint(info.PacketsUp, 10),
			strconv.FormatUint(info.PacketsDown, 10),
			strconv.FormatUint(info.ChunksSent, 10),
		})
	}
	tw.Render()
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) printSessionDetail(info session.Info) {
	fmt.Fprintf(c.out, "\n  Session:      %s\n", info.ID)
	fmt.Fprintf(c.out, "  Remote:       %s\n", info.RemoteAddr)
	fmt.Fprintf(c.out, "  Phase:        %s\n", info.Phase)
	fmt.Fprintf(c.out, "  Player:       %s\n", orDash(info.DownstreamName))
	fmt.Fprintf(c.out, "  Upstream As:  %s\n", orDash(info.UpstreamUsername))
	fmt.Fprintf(c.out, "  Opened:       %s\n", info.OpenedAt.Format(time.RFC3339))
	if !info.LoggedInAt.IsZero() {
		fmt.Fprintf(c.out, "  Logged In:    %s\n", info.LoggedInAt.Format(time.RFC3339))
	}
	fmt.Fprintf(c.out, "  Packets Up:   %d\n", info.PacketsUp)
	fmt.Fprintf(c.out, "  Packets Down: %d\n", info.PacketsDown)
	fmt.Fprintf(c.out, "  Chunks Sent:  %d\n", info.ChunksSent)
	fmt.Fprintf(c.out, "  Entities:     %d\n", info.Entities)
	fmt.Fprintln(c.out)
}

func (c *CLI) printHistory(args []string) error {
	if c.ledger == nil {
		return fmt.Errorf("session ledger is disabled")
	}

	limit := defaultHistoryRows
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid row count: %s", args[0])
		}
		limit = n
	}

	records, err := c.ledger.History(limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(c.out, "Session ledger is empty")
		return nil
	}

	fmt.Fprintln(c.out)
	tw := c.newTable([]string{"ID", "Player", "Opened", "Duration", "Reason", "Up", "Down", "Chunks"})
	for _, r := range records {
		duration := "open"
		if !r.ClosedAt.IsZero() {
			duration = formatAge(r.Duration())
		}
		tw.Append([]string{
			shortID(r.ID),
			orDash(r.DownstreamName),
			r.OpenedAt.Format("2006-01-02 15:04:05"),
			duration,
			orDash(r.CloseReason),
			strconv.FormatUint(r.PacketsUp, 10),
			strconv.FormatUint(r.PacketsDown, 10),
			strconv.FormatUint(r.ChunksSent, 10),
		})
	}
	tw.Render()
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kick <id> [reason]")
	}

	id, err := c.manager.Kick(args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Kicked session %s\n", id)
	return nil
}

func (c *CLI) printSlots() {
	snap := c.manager.Slots().Snapshot()
	fmt.Fprintf(c.out, "\n  Players:   %d / %d\n", snap.Used, snap.Limit)
	fmt.Fprintf(c.out, "  Peak:      %d", snap.Peak)
	if !snap.PeakAt.IsZero() {
		fmt.Fprintf(c.out, " at %s", snap.PeakAt.Format(time.RFC3339))
	}
	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "  Rejected:  %d\n\n", snap.Rejected)
}

func (c *CLI) printBlocks(args []string) error {
	if c.registry == nil {
		return fmt.Errorf("block registry not loaded")
	}

	defs := c.registry.Definitions()
	names := c.registry.Names()
	if len(args) > 0 {
		filter := strings.ToLower(args[0])
		kept := names[:0]
		for _, n := range names {
			if strings.Contains(n, filter) {
				kept = append(kept, n)
			}
		}
		names = kept
	}
	if len(names) == 0 {
		fmt.Fprintln(c.out, "No matching blocks")
		return nil
	}
	sort.SliceStable(names, func(i, j int) bool { return defs[names[i]].RawID < defs[names[j]].RawID })

	fmt.Fprintln(c.out)
	tw := c.newTable([]string{"Raw ID", "Name", "Hardness", "Tool", "Solid"})
	for _, n := range names {
		d := defs[n]
		tw.Append([]string{
			strconv.Itoa(int(d.RawID)),
			d.ID,
			strconv.Itoa(d.Hardness),
			orDash(d.Tool),
			strconv.FormatBool(d.Options.Solid),
		})
	}
	tw.Render()
	fmt.Fprintf(c.out, "%d of %d blocks\n\n", len(names), c.registry.Len())
	return nil
}

// cmdSetConfig decodes the value as JSON so numbers and booleans keep their
// type; anything else is taken as a plain string.
func (c *CLI) cmdSetConfig(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <value>")
	}

	key := args[0]
	raw := strings.Join(args[1:], " ")

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	result, err := c.cfg.SetField(key, value)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(c.out, "Warning: %s\n", w.Message)
	}

	c.eventBus.Emit(ctx, events.Event{
		Type:   events.EventConfigChanged,
		Source: "cli",
		Payload: events.ConfigChangedPayload{
			Key:   key,
			Value: value,
		},
	})

	fmt.Fprintf(c.out, "Config updated: %s = %s\n", key, raw)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatAge(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return d.String()
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm%02ds", m, int(d.Seconds())%60)
}
