package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/roam/internal/config"
	"github.com/hpungsan/roam/internal/logging"
	"github.com/hpungsan/roam/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

var cliCommands = map[string]bool{
	"serve": true, "status": true, "sync": true,
	"itinerary": true, "message": true, "cache": true, "stats": true,
	"export": true, "import": true,
	"help": true,
}

var infoFlags = map[string]bool{"--help": true, "-h": true, "--version": true, "-v": true}

func firstArg() string {
	if len(os.Args) < 2 {
		return ""
	}
	return os.Args[1]
}

// isCLIMode reports whether the first argument names a subcommand or an
// info flag. Anything else falls through to the MCP server.
func isCLIMode() bool {
	arg := firstArg()
	return cliCommands[arg] || infoFlags[arg]
}

// isHelpOrVersion reports whether roam was asked only for help or its
// version, which needs neither config nor a store.
func isHelpOrVersion() bool {
	arg := firstArg()
	return infoFlags[arg] || arg == "help"
}

// stdinIsTerminal is false when stdin is piped, as it is under an MCP client.
func stdinIsTerminal() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _ __ ___   __ _ _ __ ___
  | '__/ _ \ / _' | '_ ' _ \
  | | | (_) | (_| | | | | | |
  |_|  \___/ \__,_|_| |_| |_|

  Offline-first sync for travel plans and chat

  Usage: roam <command> [options]
         roam --help

  MCP server mode requires piped input.`)
}

func main() {
	if firstArg() == "" && stdinIsTerminal() {
		printBanner()
		return
	}

	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	home, err := os.UserHomeDir()
	if err != nil {
		fatal("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(home, ".roam")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	// stdout carries CLI JSON and the MCP stream, so logs go to stderr.
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	cliMode := isCLIMode()
	if !cliMode && stdinIsTerminal() {
		fatal("unknown command %q\nRun 'roam --help' for usage.", firstArg())
	}

	a, err := openApp(context.Background(), baseDir, cfg, logger, firstArg() == "serve")
	if err != nil {
		fatal("%v", err)
	}

	if cliMode {
		err = newCLIApp(a).Run(os.Args)
	} else {
		if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
			logger.Warn("ignoring unknown disabled_tools", "tools", unknown)
		}
		err = mcp.Run(mcp.NewHandlers(a.orch, a.store, a.cfg, a.monitor), cfg, Version)
	}
	a.Close()
	if err != nil {
		fatal("%v", err)
	}
}
