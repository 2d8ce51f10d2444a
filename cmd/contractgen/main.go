package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/hpcomplexio/mission-control/internal/contract"
)

// contractgen prints the envelope JSON Schema. Given file arguments it
// instead validates each file as an envelope and exits non-zero if any
// is rejected.
func main() {
	// Load .env file (ignore error if not found)
	_ = godotenv.Load()

	os.Exit(run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr))
}

func run(args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	c := contract.Default()
	if schemaPath := getenv("MISSION_CONTROL_EVENT_SCHEMA_PATH"); schemaPath != "" {
		loaded, err := contract.Load(schemaPath)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load contract: %v\n", err)
			return 1
		}
		c = loaded
	}

	if len(args) > 0 {
		if !validateFiles(c, args, stdout, stderr) {
			return 1
		}
		return 0
	}

	out, err := json.MarshalIndent(c.Schema(), "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Failed to encode schema: %v\n", err)
		return 1
	}

	target := getenv("CONTRACT_OUT")
	if target == "" {
		fmt.Fprintln(stdout, string(out))
		return 0
	}
	if err := os.WriteFile(target, append(out, '\n'), 0o644); err != nil {
		fmt.Fprintf(stderr, "Failed to write %s: %v\n", target, err)
		return 1
	}
	fmt.Fprintf(stderr, "Wrote schema %s to %s\n", c.Version(), target)
	return 0
}

func validateFiles(c *contract.Contract, paths []string, stdout, stderr io.Writer) bool {
	ok := true
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", path, err)
			ok = false
			continue
		}
		res, _, err := c.ValidateJSON(data)
		if err != nil {
			fmt.Fprintf(stdout, "%s: %v\n", path, err)
			ok = false
			continue
		}
		if !res.Valid {
			ok = false
			for _, msg := range res.Errors {
				fmt.Fprintf(stdout, "%s: %s\n", path, msg)
			}
			continue
		}
		fmt.Fprintf(stdout, "%s: ok\n", path)
	}
	return ok
}
