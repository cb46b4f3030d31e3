package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"aegis/pkg/clientsdk"
	"aegis/pkg/models"
)

// Testable variables for main()
var osExit = os.Exit

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		osExit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("command required")
	}
	switch args[0] {
	case "apply":
		return apply(args[1:], out)
	case "check":
		return check(args[1:], out)
	case "list":
		return list(args[1:], out)
	case "zones":
		return zones(args[1:], out)
	case "delete":
		return deletePolicy(args[1:], out)
	default:
		usage(out)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "aegisctl commands:")
	fmt.Fprintln(out, "  apply --manifest policies.json [--server URL --token T --tenant ID]")
	fmt.Fprintln(out, "  check --manifest policies.json")
	fmt.Fprintln(out, "  list")
	fmt.Fprintln(out, "  zones")
	fmt.Fprintln(out, "  delete --external-id <id>")
}

func newFlagSet(name string) (*flag.FlagSet, func() *clientsdk.Client) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	server := fs.String("server", envDefault("AEGIS_SERVER", "http://localhost:8080"), "accessd base url")
	token := fs.String("token", os.Getenv("AEGIS_TOKEN"), "api auth token")
	tenant := fs.String("tenant", os.Getenv("AEGIS_TENANT"), "tenant id")
	actor := fs.String("actor", envDefault("AEGIS_ACTOR", "aegisctl"), "acting user recorded on audit events")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	return fs, func() *clientsdk.Client {
		c := clientsdk.NewClient(*server, *token, *tenant, *timeout)
		c.Actor = *actor
		return c
	}
}

func readManifest(path string) ([]models.DesiredConfig, error) {
	if path == "" {
		return nil, errors.New("manifest required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var entries []models.DesiredConfig
	if err := json.Unmarshal(raw, &entries); err != nil {
		// A manifest may hold a single entry instead of a list.
		var single models.DesiredConfig
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		entries = []models.DesiredConfig{single}
	}
	if len(entries) == 0 {
		return nil, errors.New("manifest is empty")
	}
	return entries, nil
}

func apply(args []string, out io.Writer) error {
	fs, client := newFlagSet("apply")
	manifest := fs.String("manifest", "", "manifest json path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	entries, err := readManifest(*manifest)
	if err != nil {
		return err
	}
	c := client()
	ctx := context.Background()
	failures := 0
	for _, entry := range entries {
		res, err := c.Upsert(ctx, entry)
		if err != nil {
			failures++
			fmt.Fprintf(out, "%s%s\tfailed\t%v\n", entry.Domain, entry.Path, err)
			continue
		}
		fmt.Fprintf(out, "%s%s\t%s\t%s\n", entry.Domain, entry.Path, res.Action, res.Policy.Status)
	}
	if failures > 0 {
		return fmt.Errorf("apply: %d of %d entries failed", failures, len(entries))
	}
	return nil
}

func check(args []string, out io.Writer) error {
	fs, client := newFlagSet("check")
	manifest := fs.String("manifest", "", "manifest json path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	entries, err := readManifest(*manifest)
	if err != nil {
		return err
	}
	c := client()
	ctx := context.Background()
	for _, entry := range entries {
		res, err := c.Check(ctx, entry)
		if err != nil {
			return fmt.Errorf("check %s%s: %w", entry.Domain, entry.Path, err)
		}
		fmt.Fprintf(out, "%s%s\t%s\n", entry.Domain, entry.Path, res.Action)
		for _, change := range res.Changes.Fields {
			fmt.Fprintf(out, "  %s: %v -> %v\n", change.Field, change.From, change.To)
		}
	}
	return nil
}

func list(args []string, out io.Writer) error {
	fs, client := newFlagSet("list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	policies, err := client().ListPolicies(context.Background())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EXTERNAL ID\tNAME\tDOMAIN\tPATH\tSTATUS")
	for _, p := range policies {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ExternalID, p.Name, p.Domain, p.Path, p.Status)
	}
	return tw.Flush()
}

func zones(args []string, out io.Writer) error {
	fs, client := newFlagSet("zones")
	if err := fs.Parse(args); err != nil {
		return err
	}
	zoneList, err := client().ListZones(context.Background())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, z := range zoneList {
		fmt.Fprintf(tw, "%s\t%s\n", z.ID, z.Name)
	}
	return tw.Flush()
}

func deletePolicy(args []string, out io.Writer) error {
	fs, client := newFlagSet("delete")
	externalID := fs.String("external-id", "", "policy external id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *externalID == "" {
		return errors.New("external-id required")
	}
	if err := client().DeletePolicy(context.Background(), *externalID); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %s\n", *externalID)
	return nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
