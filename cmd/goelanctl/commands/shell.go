package commands

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dantte-lp/goelan/internal/elan"
)

// errUnterminatedQuote indicates a shell line with an open quote.
var errUnterminatedQuote = errors.New("unterminated quote")

// shellBuiltins are handled by the shell itself, not by cobra.
var shellBuiltins = []string{"exit", "help", "quit"}

// shellCommands lists the available commands for the interactive shell help output.
var shellCommands = []struct {
	name string
	desc string
}{
	{"designations list", "List designated-switch elections"},
	{"members list [--domain <name>]", "List member bindings per tunnel"},
	{"stats", "Show dispatcher job counters"},
	{"event publish --kind <kind>", "Publish a topology event"},
	{"port list", "List bound DHCP ports"},
	{"port bind --id <id> --mac <mac>", "Bind or replace a DHCP port"},
	{"port unbind <id>", "Remove a DHCP port"},
	{"flows list [--state <state>]", "List journaled flows"},
	{"monitor [--interval <d>]", "Watch designation changes"},
	{"version", "Print build information"},
	{"<partial line> ?", "List completions, e.g. 'event publish --kind Tun?'"},
	{"help", "Show this help message"},
	{"exit / quit", "Leave the interactive shell"},
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive goelanctl shell",
		Long: "Launches a REPL that accepts goelanctl subcommands. Flags given to the shell itself " +
			"(--addr, --format, --timeout) apply to every line. End a line with '?' to list completions. " +
			"Type 'help', 'exit', or 'quit'.",
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			defaults := flagValues(rootCmd.PersistentFlags())

			printShellBanner()
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("goelanctl> ")

			for scanner.Scan() {
				if quit := runShellLine(strings.TrimSpace(scanner.Text()), defaults); quit {
					return nil
				}
				fmt.Print("goelanctl> ")
			}

			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			return nil
		},
	}
}

// runShellLine executes one shell line and reports whether the shell
// should exit.
func runShellLine(line string, defaults map[string]string) bool {
	switch {
	case line == "exit" || line == "quit":
		return true
	case line == "help" || line == "?":
		printShellHelp()
	case strings.HasSuffix(line, "?"):
		for _, c := range completeLine(strings.TrimSuffix(line, "?")) {
			fmt.Println("  " + c)
		}
	case line == "shell" || strings.HasPrefix(line, "shell "):
		fmt.Fprintln(os.Stderr, "Error: already in the shell")
	case line != "":
		args, err := shellFields(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return false
		}
		rootCmd.SetArgs(args)
		cmd, err := rootCmd.ExecuteC()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		resetFlags(cmd, defaults)
	}
	return false
}

// shellFields splits line on whitespace. Single or double quotes group
// words; a backslash escapes the next character outside single quotes.
func shellFields(line string) ([]string, error) {
	var (
		out     []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped, inWord = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case r == ' ' || r == '\t':
			if inWord {
				out = append(out, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, errUnterminatedQuote
	}
	if inWord {
		out = append(out, cur.String())
	}
	return out, nil
}

// completeLine returns the sorted completions of the last word of line:
// subcommands, flags of the command reached so far, or event kind names
// after --kind.
func completeLine(line string) []string {
	words, err := shellFields(line)
	if err != nil {
		return nil
	}
	partial := ""
	if len(words) > 0 && !strings.HasSuffix(line, " ") {
		partial, words = words[len(words)-1], words[:len(words)-1]
	}

	cur := rootCmd
	prev := ""
	for _, w := range words {
		if sub := findSubcommand(cur, w); sub != nil {
			cur = sub
		}
		prev = w
	}

	var candidates []string
	switch {
	case prev == "--kind":
		candidates = kindCompletions("", partial)
	case strings.HasPrefix(partial, "--kind="):
		candidates = kindCompletions("--kind=", strings.TrimPrefix(partial, "--kind="))
	case strings.HasPrefix(partial, "-"):
		cur.Flags().VisitAll(func(f *pflag.Flag) {
			if name := "--" + f.Name; strings.HasPrefix(name, partial) {
				candidates = append(candidates, name)
			}
		})
	default:
		for _, c := range cur.Commands() {
			if c.IsAvailableCommand() && c.Name() != "shell" && strings.HasPrefix(c.Name(), partial) {
				candidates = append(candidates, c.Name())
			}
		}
		if cur == rootCmd {
			for _, b := range shellBuiltins {
				if strings.HasPrefix(b, partial) {
					candidates = append(candidates, b)
				}
			}
		}
	}

	slices.Sort(candidates)
	return slices.Compact(candidates)
}

func findSubcommand(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name || c.HasAlias(name) {
			return c
		}
	}
	return nil
}

// kindCompletions matches event kind names case-insensitively.
func kindCompletions(prefix, partial string) []string {
	var out []string
	for _, k := range elan.EventKinds() {
		if name := k.String(); strings.HasPrefix(strings.ToLower(name), strings.ToLower(partial)) {
			out = append(out, prefix+name)
		}
	}
	return out
}

// flagValues snapshots the current value of every flag in fs.
func flagValues(fs *pflag.FlagSet) map[string]string {
	out := make(map[string]string)
	fs.VisitAll(func(f *pflag.Flag) {
		out[f.Name] = f.Value.String()
	})
	return out
}

// resetFlags returns the flags of cmd, inherited ones included, to their
// defaults so a value given on one shell line does not leak into the
// next. Values in defaults take precedence over flag defaults.
func resetFlags(cmd *cobra.Command, defaults map[string]string) {
	if cmd == nil {
		return
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			v, ok := defaults[f.Name]
			if !ok {
				v = f.DefValue
			}
			_ = f.Value.Set(v)
		}
		f.Changed = false
	})
}

func printShellBanner() {
	fmt.Println("goelan interactive shell. Type 'help' for available commands, 'exit' to quit.")
	fmt.Println()
}

func printShellHelp() {
	fmt.Println("Available commands:")
	fmt.Println()

	for _, cmd := range shellCommands {
		fmt.Printf("  %-34s %s\n", cmd.name, cmd.desc)
	}

	fmt.Println()
}
