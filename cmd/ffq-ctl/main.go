package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
)

var version = "dev"

func main() {
	addr := flag.String("addr", "http://localhost:8080", "flowfile-queue API address")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "version":
		fmt.Printf("ffq-ctl %s\n", version)
	case "status":
		cmdStatus(*addr)
	case "queues":
		cmdQueues(*addr)
	case "queue":
		if len(args) < 3 || args[1] != "info" {
			fmt.Fprintln(os.Stderr, "usage: ffq-ctl queue info <id>")
			os.Exit(1)
		}
		cmdQueueInfo(*addr, args[2])
	case "drop":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: ffq-ctl drop <queue> [requestor]")
			os.Exit(1)
		}
		requestor := "ffq-ctl"
		if len(args) >= 3 {
			requestor = args[2]
		}
		cmdDrop(*addr, args[1], requestor)
	case "drop-status":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: ffq-ctl drop-status <queue> <requestID>")
			os.Exit(1)
		}
		cmdDropStatus(*addr, args[1], args[2])
	case "cancel":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: ffq-ctl cancel <queue> <requestID>")
			os.Exit(1)
		}
		cmdCancel(*addr, args[1], args[2])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `ffq-ctl - FlowFile Queue management CLI

Usage:
  ffq-ctl [flags] <command> [args]

Commands:
  status                            Show overall status
  queues                            List queues with sizes
  queue info <id>                   Show one queue in detail
  drop <queue> [requestor]          Start emptying a queue
  drop-status <queue> <requestID>   Show drop request progress
  cancel <queue> <requestID>        Cancel a drop request
  version                           Show version

Flags:
  -addr string   API address (default "http://localhost:8080")`)
}

func cmdStatus(addr string) {
	resp, err := http.Get(addr + "/v1/status")
	if err != nil {
		fatal(err)
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdQueues(addr string) {
	resp, err := http.Get(addr + "/v1/queues")
	if err != nil {
		fatal(err)
	}
	defer resp.Body.Close()

	var queues []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&queues); err != nil {
		fatal(fmt.Errorf("decoding response: %w", err))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTIFIER\tOBJECTS\tBYTES\tUNACKED\tFULL\tEXPIRATION")
	for _, q := range queues {
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\n",
			q["identifier"], q["object_count"], q["byte_count"],
			q["unacknowledged_count"], q["full"], q["expiration"])
	}
	w.Flush()
}

func cmdQueueInfo(addr, id string) {
	resp, err := http.Get(addr + "/v1/queues/" + id)
	if err != nil {
		fatal(err)
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdDrop(addr, queueID, requestor string) {
	body := fmt.Sprintf(`{"requestor":%q}`, requestor)
	resp, err := http.Post(addr+"/v1/queues/"+queueID+"/drop-requests", "application/json",
		strings.NewReader(body))
	if err != nil {
		fatal(err)
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdDropStatus(addr, queueID, requestID string) {
	resp, err := http.Get(addr + "/v1/queues/" + queueID + "/drop-requests/" + requestID)
	if err != nil {
		fatal(err)
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdCancel(addr, queueID, requestID string) {
	req, err := http.NewRequest(http.MethodDelete,
		addr+"/v1/queues/"+queueID+"/drop-requests/"+requestID, nil)
	if err != nil {
		fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err)
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func printJSON(r io.Reader) {
	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		fatal(fmt.Errorf("decoding response: %w", err))
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
