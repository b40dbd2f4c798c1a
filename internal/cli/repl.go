package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	AddAlarm(ctx context.Context) error
	List(ctx context.Context) error
	Toggle(ctx context.Context, arg string) error
	Delete(ctx context.Context, arg string) error
	Sync(ctx context.Context) error
	SyncStatus(ctx context.Context) error
	Devices(ctx context.Context) error
	History(ctx context.Context) error
}

// runREPL starts a simple read-eval-print loop for the Alarmify CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Alarm commands work offline; account and sync commands need a cloud login:
//
//	Always available:
//	  - help           — show available commands
//	  - add            — add an alarm (interactive)
//	  - list | l       — list alarms
//	  - toggle <n>     — enable or disable alarm n from the last listing
//	  - delete <n>     — delete alarm n from the last listing
//	  - exit | quit    — leave the program
//
//	Cloud:
//	  - register       — create a cloud account
//	  - login          — authenticate with the cloud
//	  - sync           — synchronize alarms now
//	  - status         — show sync state and recent conflicts
//	  - devices        — list registered devices
//	  - history        — show recent sync operations
//	  - logout         — log out
//
// Any errors returned by command handlers are ignored here; handlers should
// report their own errors. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("alarmify> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		arg := ""
		if len(parts) > 1 {
			arg = parts[1]
		}

		switch cmd {
		case "help":
			printlnFn("Alarms: add, (l)ist, toggle <n>, delete <n>")
			if a.isLoggedIn() {
				printlnFn("Cloud: sync, status, devices, history, logout, exit")
			} else {
				printlnFn("Cloud: register, login, exit")
			}

		case "register":
			_ = a.Register(ctx)

		case "login":
			_ = a.Login(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "add":
			_ = a.AddAlarm(ctx)

		case "l", "list":
			_ = a.List(ctx)

		case "toggle":
			if arg == "" {
				printlnFn("Usage: toggle <n>")
				continue
			}
			_ = a.Toggle(ctx, arg)

		case "delete":
			if arg == "" {
				printlnFn("Usage: delete <n>")
				continue
			}
			_ = a.Delete(ctx, arg)

		case "sync":
			_ = a.Sync(ctx)

		case "status":
			_ = a.SyncStatus(ctx)

		case "devices":
			_ = a.Devices(ctx)

		case "history":
			_ = a.History(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
