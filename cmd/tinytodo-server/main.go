// Command tinytodo-server spawns the Policy Decision Core and the Policy
// Reload Watcher, then drives the dispatcher from a line-oriented demo
// REPL. There is no network transport here: the core spec places
// HTTP/RPC handling out of scope as an external collaborator, so this
// entrypoint exercises the dispatcher's Go API directly instead of
// fronting it with a server.
//
// Flag set and signal-driven shutdown grounded on
// tommaduri-AuthZ/cmd/authz-server/main.go's main; trimmed of the gRPC/
// HTTP listeners that teacher command has no equivalent for here.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tinytodo/authz-server/internal/entitystore"
	"github.com/tinytodo/authz-server/internal/logging"
	"github.com/tinytodo/authz-server/internal/metrics"
	"github.com/tinytodo/authz-server/internal/policycore"
	"github.com/tinytodo/authz-server/internal/schema"
	"github.com/tinytodo/authz-server/internal/watcher"
	ttypes "github.com/tinytodo/authz-server/pkg/types"
)

func main() {
	var (
		entitiesPath    = flag.String("entities", "tinytodo.db", "path to the SQLite entity store file")
		schemaPath      = flag.String("schema", "", "path to an Entity Schema Map YAML file (defaults to the built-in TinyTodo schema)")
		policiesPath    = flag.String("policies", "policies.cedar", "path to the Cedar policy file")
		logLevel        = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		logFormat       = flag.String("log-format", "json", "log format (json, console)")
		logFile         = flag.String("log-file", "", "optional log file path (rotated via lumberjack); empty means stderr")
		mailboxCapacity = flag.Int("mailbox-capacity", 100, "Policy Decision Core mailbox capacity")
		reloadDebounce  = flag.Duration("reload-debounce", 500*time.Millisecond, "debounce window for policy file reload")
	)
	flag.Parse()

	if _, err := logging.MustParseLevel(*logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(*logLevel, *logFormat, *logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting tinytodo-server",
		zap.String("entities", *entitiesPath),
		zap.String("policies", *policiesPath),
		zap.Int("mailbox_capacity", *mailboxCapacity),
	)

	var sm *schema.Map
	if *schemaPath != "" {
		sm, err = schema.Load(*schemaPath)
		if err != nil {
			logger.Fatal("failed to load entity schema map", zap.Error(err))
		}
	} else {
		sm = schema.Default()
	}

	policyDoc, err := os.ReadFile(*policiesPath)
	if err != nil {
		logger.Fatal("failed to read policy file", zap.Error(err))
	}
	policySet, err := policycore.LoadPolicySet(*policiesPath, policyDoc)
	if err != nil {
		logger.Fatal("failed to parse policy set", zap.Error(err))
	}
	if err := policycore.ValidateAgainstSchema(policySet); err != nil {
		logger.Fatal("policy set failed schema validation", zap.Error(err))
	}

	store, err := entitystore.Open(*entitiesPath, sm)
	if err != nil {
		logger.Fatal("failed to open entity store", zap.Error(err))
	}
	defer store.Close()

	m := metrics.New("tinytodo")

	mbox := policycore.Spawn(store, sm, policySet, *mailboxCapacity, logger, m)

	w, err := watcher.New(*policiesPath, mbox, *reloadDebounce, logger)
	if err != nil {
		logger.Fatal("failed to create policy watcher", zap.Error(err))
	}
	if err := w.Watch(); err != nil {
		logger.Fatal("failed to start policy watcher", zap.Error(err))
	}
	defer w.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	replDone := make(chan struct{})
	go runREPL(mbox, logger, replDone)

	select {
	case <-sigChan:
		logger.Info("received shutdown signal")
	case <-replDone:
		logger.Info("REPL exited")
	}

	logger.Info("tinytodo-server stopped")
}

// runREPL is a minimal, line-oriented command console: each line is
// "<command> <args...>" and drives the dispatcher's command table
// directly, standing in for the out-of-scope RPC transport so the
// dispatcher is reachable for manual exercise. It is not a supported
// client protocol.
func runREPL(mbox chan<- ttypes.Command, logger *zap.Logger, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("tinytodo-server demo REPL. Commands: create-list <principal> <name>, get-list <principal> <list>, get-lists <principal>, quit")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return
		case "create-list":
			if len(fields) != 3 {
				fmt.Println("usage: create-list <principal-id> <name>")
				continue
			}
			reply := make(chan ttypes.Response, 1)
			mbox <- ttypes.Command{
				Kind:      ttypes.CreateList,
				Principal: ttypes.NewEUID(ttypes.TypeUser, fields[1]),
				Name:      fields[2],
				Reply:     reply,
			}
			printResponse(<-reply)
		case "get-list":
			if len(fields) != 3 {
				fmt.Println("usage: get-list <principal-id> <list-id>")
				continue
			}
			reply := make(chan ttypes.Response, 1)
			mbox <- ttypes.Command{
				Kind:      ttypes.GetList,
				Principal: ttypes.NewEUID(ttypes.TypeUser, fields[1]),
				List:      ttypes.NewEUID(ttypes.TypeList, fields[2]),
				Reply:     reply,
			}
			printResponse(<-reply)
		case "get-lists":
			if len(fields) != 2 {
				fmt.Println("usage: get-lists <principal-id>")
				continue
			}
			reply := make(chan ttypes.Response, 1)
			mbox <- ttypes.Command{
				Kind:      ttypes.GetLists,
				Principal: ttypes.NewEUID(ttypes.TypeUser, fields[1]),
				Reply:     reply,
			}
			printResponse(<-reply)
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

func printResponse(resp ttypes.Response) {
	if resp.Err != nil {
		fmt.Printf("error: %s\n", resp.Err.Error())
		return
	}
	switch resp.Kind {
	case ttypes.RespEUID:
		fmt.Println(resp.EUID.String())
	case ttypes.RespGetList:
		fmt.Printf("%s %q owner=%s tasks=%d\n", resp.List.UID.String(), resp.List.Name, resp.List.Owner.String(), len(resp.List.Tasks))
	case ttypes.RespLists:
		ids := make([]string, 0, len(resp.Lists))
		for _, l := range resp.Lists {
			ids = append(ids, l.String())
		}
		fmt.Println(strings.Join(ids, " "))
	case ttypes.RespTaskID:
		fmt.Println(strconv.FormatInt(resp.TaskID, 10))
	case ttypes.RespUnit:
		fmt.Println("ok")
	}
}
