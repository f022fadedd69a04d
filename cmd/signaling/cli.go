package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"bken/signaling/internal/config"
	"bken/signaling/internal/store"
)

// errUsage is returned for a recognized subcommand with bad arguments.
var errUsage = errors.New("usage")

// RunCLI handles subcommand execution. It reports whether args named a
// subcommand; the error is the subcommand's failure, if any.
func RunCLI(args []string, cfg config.Config, out io.Writer) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}

	switch args[0] {
	case "version":
		fmt.Fprintf(out, "signaling %s\n", Version)
		return true, nil
	case "config":
		return true, cliConfig(cfg, out)
	case "history":
		return true, cliHistory(args[1:], cfg, out)
	default:
		return false, nil
	}
}

func cliConfig(cfg config.Config, out io.Writer) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func cliHistory(args []string, cfg config.Config, out io.Writer) error {
	if cfg.Journal.Path == "" {
		return fmt.Errorf("journal.path is not configured")
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("%w: signaling history [limit]", errUsage)
		}
		limit = n
	}

	st, err := store.Open(cfg.Journal.Path, nil)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer st.Close()

	rows, err := st.History(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No room events recorded.")
		return nil
	}
	for _, row := range rows {
		client := row.ClientID
		if client == "" {
			client = "-"
		}
		fmt.Fprintf(out, "%s  %-13s room=%s category=%s client=%s\n",
			row.At.Format(time.RFC3339), row.Kind, row.RoomID, row.Category, client)
	}
	return nil
}
