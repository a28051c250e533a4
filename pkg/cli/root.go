package cli

import (
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the warden-admin root command with every
// maintenance subcommand registered against env.
func NewRootCommand(env *Env) *Command {
	root := &Command{
		Name:        "warden-admin",
		Description: "Warden - maintenance tasks for the auth service",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("warden-admin", flag.ContinueOnError),
	}

	for _, cmd := range []*Command{
		newMigrateCommand(env),
		newSeedCommand(env),
		newMakeAdminCommand(env),
		newCheckPermissionsCommand(env),
		newPurgeTokensCommand(env),
	} {
		root.Subcommands[cmd.Name] = cmd
	}
	return root
}

// Execute runs the subcommand named by args[0] and writes usage to out
// when there is none.
func (c *Command) Execute(args []string, out io.Writer) error {
	if len(args) == 0 {
		return c.usage(out)
	}

	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage(out)
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage(out io.Writer) error {
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-20s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// parseFlags parses args into the command's flag set, sending flag errors
// and -h output to out. Values left over from an earlier run are reset.
func (c *Command) parseFlags(args []string, out io.Writer) error {
	c.Flags.SetOutput(out)
	c.Flags.VisitAll(func(f *flag.Flag) {
		_ = f.Value.Set(f.DefValue)
	})
	return c.Flags.Parse(args)
}
