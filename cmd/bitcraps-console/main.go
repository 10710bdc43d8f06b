// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Command bitcraps-console is a read-only operator REPL against a running
// validator's gateway status endpoint: current committed sequence, mesh
// substrate health, and validator reputations. It never submits batches or
// otherwise mutates validator state.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/golang-jwt/jwt/v4"
	"github.com/olekukonko/tablewriter"
	"github.com/peterh/liner"
	"github.com/urfave/cli/v2"

	"github.com/bitcraps/bitcraps/consensus"
	"github.com/bitcraps/bitcraps/mesh"
)

func main() {
	app := &cli.App{
		Name:  "bitcraps-console",
		Usage: "read-only operator console for a bitcraps validator",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "http://127.0.0.1:7200", Usage: "validator gateway base URL"},
			&cli.StringFlag{Name: "jwt-secret", Value: "change-me", Usage: "HMAC secret shared with the validator's gateway"},
			&cli.StringFlag{Name: "exec", Usage: "run a single command and exit instead of starting the REPL"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	client := &statusClient{
		addr:   strings.TrimRight(c.String("addr"), "/"),
		secret: []byte(c.String("jwt-secret")),
		http:   &http.Client{Timeout: 5 * time.Second},
	}

	if cmd := c.String("exec"); cmd != "" {
		return dispatch(client, cmd)
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println(color.CyanString("bitcraps-console") + " connected to " + client.addr + " (type 'help' for commands)")
	for {
		input, err := line.Prompt("bitcraps> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if input == "exit" || input == "quit" {
			return nil
		}
		if err := dispatch(client, input); err != nil {
			fmt.Println(color.RedString("error: %v", err))
		}
	}
}

func dispatch(client *statusClient, cmd string) error {
	switch cmd {
	case "help":
		printHelp()
		return nil
	case "status":
		return client.printSummary()
	case "tasks":
		return client.printTasks()
	case "mesh":
		return client.printMesh()
	case "reputation":
		return client.printReputation()
	default:
		return fmt.Errorf("unknown command %q, type 'help' for the list", cmd)
	}
}

func printHelp() {
	fmt.Println(`commands:
  status      current committed sequence and subscriber count
  tasks       background task registry snapshot
  mesh        mesh dispatcher counters and queue depth
  reputation  per-validator vote/reveal reputation scores
  exit        leave the console`)
}

// statusResponse mirrors the gateway's /status payload (gateway/server.go's
// handleStatus merged with cmd/bitcraps-validator's status provider). Field
// names on the nested types are plain Go reflection defaults since none of
// mesh.StatusEntry, mesh.Stats, or consensus.ReputationEntry carry json
// tags; decoding with the same types keeps marshal/unmarshal in lockstep.
type statusResponse struct {
	OK            bool                        `json:"ok"`
	Time          time.Time                   `json:"time"`
	Subscribers   int                         `json:"subscribers"`
	Validator     string                      `json:"validator"`
	LastCommitted uint64                      `json:"last_committed"`
	Tasks         []mesh.StatusEntry          `json:"tasks"`
	Mesh          mesh.Stats                  `json:"mesh"`
	Reputation    []consensus.ReputationEntry `json:"reputation"`
}

type statusClient struct {
	addr   string
	secret []byte
	http   *http.Client
}

func (sc *statusClient) fetch() (*statusResponse, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString(sc.secret)
	if err != nil {
		return nil, fmt.Errorf("signing status token: %w", err)
	}

	req, err := http.NewRequest(http.MethodGet, sc.addr+"/status", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+signed)

	resp, err := sc.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("validator returned %s", resp.Status)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding status response: %w", err)
	}
	return &out, nil
}

func (sc *statusClient) printSummary() error {
	st, err := sc.fetch()
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"validator", "last committed seq", "subscribers", "as of"})
	table.Append([]string{st.Validator, strconv.FormatUint(st.LastCommitted, 10), strconv.Itoa(st.Subscribers), st.Time.Format(time.RFC3339)})
	table.Render()
	return nil
}

func (sc *statusClient) printTasks() error {
	st, err := sc.fetch()
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"name", "category", "healthy", "detail", "started"})
	for _, t := range st.Tasks {
		table.Append([]string{t.Name, t.Category.String(), strconv.FormatBool(t.Health.Healthy), t.Health.Detail, t.StartTime.Format(time.RFC3339)})
	}
	table.Render()
	return nil
}

func (sc *statusClient) printMesh() error {
	st, err := sc.fetch()
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"queue depth", "mismatched sigs", "duplicates", "dedup evicted"})
	table.Append([]string{
		strconv.Itoa(st.Mesh.QueueDepth),
		strconv.FormatUint(st.Mesh.MismatchedSig, 10),
		strconv.FormatUint(st.Mesh.Duplicates, 10),
		strconv.FormatUint(st.Mesh.DedupEvicted, 10),
	})
	table.Render()
	if len(st.Mesh.QueueDropped) > 0 {
		dropped := tablewriter.NewWriter(os.Stdout)
		dropped.SetHeader([]string{"kind", "dropped"})
		for k, n := range st.Mesh.QueueDropped {
			dropped.Append([]string{k.String(), strconv.FormatUint(n, 10)})
		}
		dropped.Render()
	}
	return nil
}

func (sc *statusClient) printReputation() error {
	st, err := sc.fetch()
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"validator", "vote score", "reveal score", "overall", "rounds seen"})
	for _, r := range st.Reputation {
		row := []string{
			r.ValidatorID.Hex(),
			strconv.FormatFloat(r.VoteScore, 'f', 1, 64),
			strconv.FormatFloat(r.RevealScore, 'f', 1, 64),
			strconv.FormatFloat(r.Overall, 'f', 1, 64),
			strconv.FormatUint(r.RoundsSeen, 10),
		}
		if r.Overall < 50 {
			for i, cell := range row {
				row[i] = color.RedString(cell)
			}
		}
		table.Append(row)
	}
	table.Render()
	return nil
}
