package router

import (
	"context"
	"html"
	"strings"

	kit "steamwatch/internal/transport"
)

// Telegram bot menu limits.
const (
	maxMenuCommands = 100
	maxMenuDesc     = 256
)

// shortcutName joins a route into its bot menu form, "steam add" -> "steam_add".
// Routes outside Telegram's [a-z0-9_]{1,32} command syntax get no shortcut.
func shortcutName(route []string) (string, bool) {
	name := strings.Join(route, "_")
	if name == "" || len(name) > 32 || name[0] < 'a' || name[0] > 'z' {
		return "", false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return "", false
		}
	}
	return name, true
}

func (m *CommandManager) sendHelp(ctx context.Context, chat kit.ChatTarget, path []string) error {
	m.mu.RLock()
	root := m.root
	m.mu.RUnlock()
	_, err := m.adapter.SendText(ctx, chat, renderHelp(root, path), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}

// renderHelp renders HTML help for the whole tree, a group or one command.
func renderHelp(root *cmdNode, path []string) string {
	path = helpPath(root, path)
	node := root.find(path)
	if node == nil {
		return "❓ Unknown command. Send <code>/help</code> for the list."
	}

	var b strings.Builder
	switch {
	case len(path) == 0:
		b.WriteString("📚 <b>Commands</b>\n")
		for _, name := range root.childNames() {
			writeLeaves(&b, root.children[name])
		}
		b.WriteString("\nSend <code>/help steam add</code> for details and examples.")
	case node.cmd != nil:
		writeCommand(&b, node.cmd)
	default:
		b.WriteString("📚 <b>/" + html.EscapeString(strings.Join(path, " ")) + "</b>\n")
		writeLeaves(&b, node)
	}
	return strings.TrimRight(b.String(), "\n")
}

// helpPath accepts "steam add", "/steam add" and the "steam_add" shortcut.
func helpPath(root *cmdNode, args []string) []string {
	path := make([]string, 0, len(args))
	for _, a := range args {
		if a = strings.TrimPrefix(strings.TrimSpace(a), "/"); a != "" {
			path = append(path, a)
		}
	}
	if len(path) == 1 {
		if _, ok := root.child(path[0]); !ok {
			if group, sub, found := strings.Cut(path[0], "_"); found {
				return []string{group, sub}
			}
		}
	}
	return path
}

func writeLeaves(b *strings.Builder, n *cmdNode) {
	for _, c := range n.leaves() {
		b.WriteString("• <code>" + html.EscapeString(usageLine(c)) + "</code>")
		if d := strings.TrimSpace(c.Description); d != "" {
			b.WriteString(" " + html.EscapeString(d))
		}
		if c.Access == AccessOwnerOnly {
			b.WriteString(" 🔒")
		}
		b.WriteByte('\n')
	}
}

func writeCommand(b *strings.Builder, c *Command) {
	route := splitRoute(c.Route)
	b.WriteString("📚 <b>/" + html.EscapeString(strings.Join(route, " ")) + "</b>\n")
	if d := strings.TrimSpace(c.Description); d != "" {
		b.WriteString(html.EscapeString(d) + "\n")
	}
	if c.Access == AccessOwnerOnly {
		b.WriteString("🔒 <i>owners only</i>\n")
	}
	b.WriteString("\n<b>Usage</b>\n<code>" + html.EscapeString(usageLine(c)) + "</code>\n")
	if len(c.Examples) > 0 {
		b.WriteString("\n<b>Examples</b>\n")
		for _, ex := range c.Examples {
			b.WriteString("<code>" + html.EscapeString(ex) + "</code>\n")
		}
	}
	if len(route) > 1 {
		if name, ok := shortcutName(route); ok {
			b.WriteString("\nShortcut: /" + name + "\n")
		}
	}
}

func usageLine(c *Command) string {
	if u := strings.TrimSpace(c.Usage); u != "" {
		return u
	}
	return "/" + strings.Join(splitRoute(c.Route), " ")
}

// menuCommands lists top-level entries first, then one shortcut per
// multi-word command.
func menuCommands(root *cmdNode) []kit.BotCommand {
	var top, short []kit.BotCommand
	for _, name := range root.childNames() {
		n := root.children[name]
		if n.cmd != nil {
			top = append(top, menuEntry(name, n.cmd.Description, n.cmd.Access))
			continue
		}
		subs := n.childNames()
		top = append(top, menuEntry(name, name+": "+strings.Join(subs, ", "), AccessEveryone))
		for _, c := range n.leaves() {
			if sc, ok := shortcutName(splitRoute(c.Route)); ok {
				short = append(short, menuEntry(sc, c.Description, c.Access))
			}
		}
	}
	out := append(top, short...)
	if len(out) > maxMenuCommands {
		out = out[:maxMenuCommands]
	}
	return out
}

func menuEntry(name, desc string, access Access) kit.BotCommand {
	desc = strings.Join(strings.Fields(desc), " ")
	if desc == "" {
		desc = name
	}
	if access == AccessOwnerOnly {
		desc = "🔒 " + desc
	}
	if r := []rune(desc); len(r) > maxMenuDesc {
		desc = string(r[:maxMenuDesc])
	}
	return kit.BotCommand{Command: name, Description: desc}
}
