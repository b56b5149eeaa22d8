package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// execIface defines the command surface the REPL dispatches to. The real App
// type satisfies it; tests provide a lightweight stub.
type execIface interface {
	AddClient(ctx context.Context, args []string) error
	AddReceipt(ctx context.Context, args []string) error
	AddExpense(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	FindClient(ctx context.Context, args []string) error
	RenameClient(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Status(ctx context.Context) error
	Sync(ctx context.Context) error
	Resync(ctx context.Context, args []string) error
	Export(ctx context.Context, args []string) error
	Import(ctx context.Context, args []string) error
	Backup(ctx context.Context, args []string) error
	Restore(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  add-client <cnic> [name]             register a client
  add-receipt <cnic> <amount> [date]   record a receipt (date YYYY-MM-DD)
  add-expense <cnic> <amount> <note>   record an expense
  list <collection>                    list records
  show <collection> <id>               show one record
  find-client <cnic>                   look a client up by CNIC
  rename-client <id> <name>            change a client's name
  delete <collection> <id>             delete a record and its dependents
  status                               show sync status
  sync                                 push queued changes now
  resync [force]                       replace local data with the server copy
  export <file> [seal]                 write a snapshot file
  import <file>                        replace local data from a snapshot file
  backup <key>                         upload a snapshot to the backup bucket
  restore <key>                        restore a snapshot from the backup bucket
  exit | quit                          leave`

// usage lists the minimal argument count and the usage line per command.
var usage = map[string]struct {
	min  int
	line string
}{
	"add-client":    {1, "add-client <cnic> [name]"},
	"add-receipt":   {2, "add-receipt <cnic> <amount> [date]"},
	"add-expense":   {3, "add-expense <cnic> <amount> <note>"},
	"list":          {1, "list <collection>"},
	"show":          {2, "show <collection> <id>"},
	"find-client":   {1, "find-client <cnic>"},
	"rename-client": {2, "rename-client <id> <name>"},
	"delete":        {2, "delete <collection> <id>"},
	"export":        {1, "export <file> [seal]"},
	"import":        {1, "import <file>"},
	"backup":        {1, "backup <key>"},
	"restore":       {1, "restore <key>"},
}

// runREPL reads commands line by line from reader and dispatches them to a.
// Handler errors are printed and the loop goes on. It exits on EOF, on
// "exit"/"quit" or when ctx is done.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader, w io.Writer) {
	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprintf(w, "ls %s> ", statusFn())
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if u, ok := usage[cmd]; ok && len(args) < u.min {
			fmt.Fprintln(w, "Usage:", u.line)
			continue
		}

		var cmdErr error
		switch cmd {
		case "help":
			fmt.Fprintln(w, helpText)
		case "add-client":
			cmdErr = a.AddClient(ctx, args)
		case "add-receipt":
			cmdErr = a.AddReceipt(ctx, args)
		case "add-expense":
			cmdErr = a.AddExpense(ctx, args)
		case "l", "list":
			if len(args) == 0 {
				fmt.Fprintln(w, "Usage:", usage["list"].line)
				continue
			}
			cmdErr = a.List(ctx, args)
		case "show":
			cmdErr = a.Show(ctx, args)
		case "find-client":
			cmdErr = a.FindClient(ctx, args)
		case "rename-client":
			cmdErr = a.RenameClient(ctx, args)
		case "delete":
			cmdErr = a.Delete(ctx, args)
		case "status":
			cmdErr = a.Status(ctx)
		case "sync":
			cmdErr = a.Sync(ctx)
		case "resync":
			cmdErr = a.Resync(ctx, args)
		case "export":
			cmdErr = a.Export(ctx, args)
		case "import":
			cmdErr = a.Import(ctx, args)
		case "backup":
			cmdErr = a.Backup(ctx, args)
		case "restore":
			cmdErr = a.Restore(ctx, args)
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		default:
			fmt.Fprintln(w, "Unknown command:", cmd)
		}
		if cmdErr != nil {
			fmt.Fprintln(w, "Error:", describe(cmdErr))
		}
	}
}
