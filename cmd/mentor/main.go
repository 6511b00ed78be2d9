package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dsamentor/mentor/internal/client"
	"github.com/dsamentor/mentor/internal/config"
)

// Version is set at build time via ldflags
var Version = "dev"

const pidFile = "mentord.pid"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Missing .env files are fine; a malformed one is worth a warning
	if err := config.LoadDotEnv(config.DefaultDotEnvPaths()...); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit()
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus()
	case "logs":
		err = cmdLogs()
	case "doctor":
		err = cmdDoctor()
	case "config":
		err = cmdConfig()
	case "provider":
		err = cmdProvider(args)
	case "operator":
		err = cmdOperator(args)
	case "open", "check":
		err = cmdOpen(args)
	case "state":
		err = cmdState()
	case "think":
		err = cmdThink()
	case "skip":
		err = cmdSkip()
	case "proceed":
		err = cmdProceed()
	case "explain":
		err = cmdExplain(args)
	case "hint":
		err = cmdHint()
	case "reward":
		err = cmdReward(args)
	case "revise":
		err = cmdRevise()
	case "reset":
		err = cmdReset(args)
	case "signal":
		err = cmdSignal(args)
	case "watch":
		err = cmdWatch(args)
	case "mcp":
		err = cmdMCP()
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("mentor %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Mentor - Think first, then get a hint

Usage:
  mentor <command> [arguments]

Setup Commands:
  init                        Initialize Mentor (first-time setup)
  doctor                      Check configuration and providers
  config                      Show current configuration
  provider set-key <name>     Store an LLM provider API key
  operator set-secret         Set the secret that confirms resets

Daemon Commands:
  start                       Start the Mentor daemon
  stop                        Stop the Mentor daemon
  status                      Show daemon status
  logs                        View daemon logs

Session Commands:
  open <url>                  Report the problem you are working on
  state                       Show the current session
  think                       Run the thinking countdown
  skip                        Skip thinking (once per problem)
  proceed                     Move to explanation once thinking is over
  explain <text>              Submit your approach for evaluation
  hint                        Request a hint
  reward <category>           Pick a hint category after a strong explanation
  revise                      Go back and refine your explanation
  reset --confirm <secret>    Reset the current problem (operator only)

Editor Signals:
  signal typing               Report editor activity
  signal run                  Report a code run
  signal problem <title>      Report the problem title (description on stdin)

Integration Commands:
  watch [--amqp]              Stream effort gate events
  mcp                         Start MCP server on stdio

Other:
  help                        Show this help message
  version                     Show version information

Examples:
  mentor start
  mentor open https://leetcode.com/problems/two-sum/
  mentor think
  mentor explain "Keep a map from value to index while scanning"
  mentor reward edge-cases`)
}

// daemonAddr is the daemon's base URL from config, or the default
func daemonAddr() string {
	if addr := os.Getenv("MENTOR_ADDR"); addr != "" {
		return addr
	}
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return client.DefaultAddr
	}
	bind := cfg.Daemon.Bind
	if bind == "" || bind == "0.0.0.0" {
		bind = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", bind, cfg.Daemon.Port)
}

func newClient() *client.Client {
	return client.New(daemonAddr())
}

// renderProgressBar creates a visual progress bar
func renderProgressBar(value float64, width int) string {
	filled := int(value * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	empty := width - filled

	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", empty) + "]"
}
