package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/YuhIcey/staterelay/internal/metrics"
	"github.com/YuhIcey/staterelay/internal/protocol"
	"github.com/YuhIcey/staterelay/internal/roster"
	"github.com/YuhIcey/staterelay/internal/server"
	"github.com/YuhIcey/staterelay/internal/session"
)

// Console is the operator command bridge. It reads commands line by line
// and translates them into session-table and roster operations. Every
// command is safe to run concurrently with network traffic; all shared
// state is reached through the table's and roster's own locking.
type Console struct {
	in     io.Reader
	out    io.Writer
	table   *session.Table
	roster  *roster.Roster
	bc      *server.Broadcaster
	logger  *slog.Logger
	metrics *metrics.Metrics

	serverName string
	maxPlayers int
}

// NewConsole creates a console over the given reader and writer.
func NewConsole(in io.Reader, out io.Writer, table *session.Table, r *roster.Roster,
	bc *server.Broadcaster, logger *slog.Logger, m *metrics.Metrics, serverName string, maxPlayers int) *Console {

	return &Console{
		in:         in,
		out:        out,
		table:      table,
		roster:     r,
		bc:         bc,
		logger:     logger,
		metrics:    m,
		serverName: serverName,
		maxPlayers: maxPlayers,
	}
}

// Run reads and executes commands until the input closes or the context is
// cancelled. The line read blocks; shutdown is process exit.
func (c *Console) Run(ctx context.Context) {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.Execute(scanner.Text())
	}
}

// Execute runs a single command line.
func (c *Console) Execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "help":
		fmt.Fprintln(c.out, "commands: list, status, kick <identity>, ban <identity>, unban <identity>, say <message>, help")

	case "list":
		sessions := c.table.Snapshot()
		if len(sessions) == 0 {
			fmt.Fprintln(c.out, "no connected players")
			return
		}
		for _, sess := range sessions {
			info := sess.Info()
			endpoint := "no datagram endpoint"
			if info.HasDatagramAddr {
				endpoint = info.DatagramAddr
			}
			fmt.Fprintf(c.out, "%s (%s, last update %s)\n",
				info.Identity, endpoint, info.LastUpdate.Format("15:04:05"))
		}

	case "status":
		fmt.Fprintf(c.out, "%s: %d/%d players connected\n",
			c.serverName, c.table.Count(), c.maxPlayers)

	case "kick":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "usage: kick <identity>")
			return
		}
		if c.Kick(args[0], "Kicked by administrator") {
			fmt.Fprintf(c.out, "kicked %s\n", args[0])
		} else {
			fmt.Fprintf(c.out, "no such player: %s\n", args[0])
		}

	case "ban":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "usage: ban <identity>")
			return
		}
		c.Ban(args[0])
		fmt.Fprintf(c.out, "banned %s\n", args[0])

	case "unban":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "usage: unban <identity>")
			return
		}
		if c.Unban(args[0]) {
			fmt.Fprintf(c.out, "unbanned %s\n", args[0])
		} else {
			fmt.Fprintf(c.out, "not banned: %s\n", args[0])
		}

	case "say":
		if len(args) == 0 {
			fmt.Fprintln(c.out, "usage: say <message>")
			return
		}
		text := strings.Join(args, " ")
		c.bc.BroadcastStream(protocol.KindChatMessage,
			protocol.EncodeChatText(c.serverName, text), "")
		fmt.Fprintf(c.out, "[%s] %s\n", c.serverName, text)

	default:
		fmt.Fprintf(c.out, "unknown command: %s (try 'help')\n", cmd)
	}
}

// Kick disconnects a player: a Disconnect notice is sent best-effort, the
// stream handle closed, and the session removed. It returns false if the
// identity is not connected.
func (c *Console) Kick(identity, reason string) bool {
	sess, exists := c.table.Get(identity)
	if !exists {
		return false
	}

	if err := sess.SendStream(protocol.KindDisconnect, protocol.EncodeDisconnectNotice(reason)); err != nil {
		c.logger.Debug("Failed to send kick notice",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
	}

	sess.CloseStream()
	if c.table.Remove(identity) {
		c.metrics.SessionsRemoved.Inc()
		c.metrics.ActiveSessions.Set(float64(c.table.Count()))
	}

	c.logger.Info("Kicked player",
		slog.String("identity", identity),
		slog.String("reason", reason),
	)
	return true
}

// Ban adds the identity to the ban roster and disconnects it if currently
// connected.
func (c *Console) Ban(identity string) {
	c.roster.Ban(identity)
	c.Kick(identity, "Banned by administrator")

	c.logger.Info("Banned player", slog.String("identity", identity))
}

// Unban removes the identity from the ban roster. Current connections are
// unaffected.
func (c *Console) Unban(identity string) bool {
	return c.roster.Unban(identity)
}
