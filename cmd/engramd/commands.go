package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/loykin/engramd/pkg/client"
)

type command struct{}

// clientFrom builds an API client from connection flags. Unset fields fall
// back to the local daemon defaults.
func clientFrom(f ClientFlags) *client.Client {
	cfg := client.DefaultConfig()
	if f.APIUrl != "" {
		cfg.BaseURL = f.APIUrl
	}
	if f.APIToken != "" {
		cfg.APIToken = f.APIToken
	}
	if f.APITimeout > 0 {
		cfg.Timeout = f.APITimeout
	}
	return client.New(cfg)
}

// reachableClient builds the client and verifies the daemon answers at all
// before the actual command runs.
func reachableClient(f ClientFlags) (*client.Client, error) {
	api := clientFrom(f)
	if !api.IsReachable(context.Background()) {
		return nil, fmt.Errorf("daemon not reachable at %s - start it with 'engramd serve'", api.BaseURL())
	}
	return api, nil
}

// Status prints the merged daemon and worker status.
func (c *command) Status(f ClientFlags) error {
	api, err := reachableClient(f)
	if err != nil {
		return err
	}
	st, err := api.Status(context.Background())
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

// Start asks the daemon to start the worker and prints the resulting status.
func (c *command) Start(f ClientFlags) error {
	api, err := reachableClient(f)
	if err != nil {
		return err
	}
	if err := api.Start(context.Background()); err != nil {
		return err
	}
	return c.printStatus(api)
}

// Stop asks the daemon to stop the worker and prints the resulting status.
func (c *command) Stop(f ClientFlags) error {
	api, err := reachableClient(f)
	if err != nil {
		return err
	}
	if err := api.Stop(context.Background()); err != nil {
		return err
	}
	return c.printStatus(api)
}

// Restart asks the daemon to restart the worker and prints the resulting status.
func (c *command) Restart(f ClientFlags) error {
	api, err := reachableClient(f)
	if err != nil {
		return err
	}
	if err := api.Restart(context.Background()); err != nil {
		return err
	}
	return c.printStatus(api)
}

// Health queries the daemon's live health probe. The command exits non-zero
// when the worker is unhealthy so scripts can branch on the result.
func (c *command) Health(f ClientFlags) error {
	api, err := reachableClient(f)
	if err != nil {
		return err
	}
	healthy, err := api.Health(context.Background())
	if err != nil {
		return err
	}
	printJSON(map[string]bool{"healthy": healthy})
	if !healthy {
		return fmt.Errorf("worker is not healthy")
	}
	return nil
}

// History prints recent worker lifecycle events.
func (c *command) History(f HistoryFlags) error {
	api, err := reachableClient(f.ClientFlags)
	if err != nil {
		return err
	}
	events, err := api.History(context.Background(), f.Limit)
	if err != nil {
		return err
	}
	printJSON(events)
	return nil
}

// Export pulls every memory out of the worker and writes the JSON array to
// stdout or, with --output, to a file.
func (c *command) Export(f ExportFlags) error {
	api, err := reachableClient(f.ClientFlags)
	if err != nil {
		return err
	}
	data, err := api.Export(context.Background())
	if err != nil {
		return err
	}

	if f.Output == "" || f.Output == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}

	var memories []json.RawMessage
	if err := json.Unmarshal(data, &memories); err != nil {
		return fmt.Errorf("unexpected export payload: %w", err)
	}
	if err := os.WriteFile(f.Output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	fmt.Printf("Exported %d memories to %s\n", len(memories), f.Output)
	return nil
}

// ResetData wipes the worker's memory store and prints the status of the
// fresh worker that comes back up.
func (c *command) ResetData(f ClientFlags) error {
	api, err := reachableClient(f)
	if err != nil {
		return err
	}
	if err := api.ResetData(context.Background()); err != nil {
		return err
	}
	return c.printStatus(api)
}

// Resources prints the latest resource sample for the worker process.
func (c *command) Resources(f ResourcesFlags) error {
	api, err := reachableClient(f.ClientFlags)
	if err != nil {
		return err
	}
	res, err := api.Resources(context.Background(), f.History)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

func (c *command) printStatus(api *client.Client) error {
	st, err := api.Status(context.Background())
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}
