package setup

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

const usage = `Triage MCP server setup

Usage:
  mcp-server setup register [--config PATH] [--binary PATH] [--data-dir DIR]
  mcp-server setup status   [--config PATH]
`

// Run executes a setup subcommand and writes human-readable output to out.
func Run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return nil
	}

	flags := pflag.NewFlagSet("setup "+args[0], pflag.ContinueOnError)
	flags.SetOutput(out)
	configPath := flags.String("config", "", "MCP client config file")

	switch args[0] {
	case "register":
		binary := flags.String("binary", "", "path to the mcp-server binary")
		dataDir := flags.String("data-dir", "", "triage data directory")
		if err := flags.Parse(args[1:]); err != nil {
			return err
		}

		path, err := Register(Options{ConfigPath: *configPath, BinaryPath: *binary, DataDir: *dataDir})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Registered %q in %s\n", ServerName, path)
		return nil

	case "status":
		if err := flags.Parse(args[1:]); err != nil {
			return err
		}
		status, err := GetStatus(*configPath)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)

	case "help", "--help", "-h":
		fmt.Fprint(out, usage)
		return nil

	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown setup command: %s", args[0])
	}
}
