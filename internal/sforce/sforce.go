package sforce

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Record is a single row returned by a SOQL query. Keys are field
// names; the "attributes" envelope added by the API is retained but
// ignored by FirstValue.
type Record map[string]any

// FirstValue returns the first non-attribute field that holds a
// non-empty string, or "" when the record carries none.
func (r Record) FirstValue() string {
	for key, val := range r {
		if key == "attributes" {
			continue
		}
		if s, ok := val.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// RetrievalError reports a failed metadata retrieve. The pipeline
// treats it as non-fatal: the backup step logs it and continues.
type RetrievalError struct {
	Alias  string
	Output string
	Err    error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("metadata retrieve from org %q failed: %v: %s", e.Alias, e.Err, e.Output)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// Client provides operations against a Salesforce org
type Client interface {
	// Query runs a SOQL query and returns the matching records
	Query(ctx context.Context, alias, soql string) ([]Record, error)
	// Retrieve fetches metadata matching the manifest into targetDir.
	// Failures are reported as *RetrievalError.
	Retrieve(ctx context.Context, alias, manifestPath, targetDir string) error
}

// ShellClient implements Client by shelling out to the sf command
type ShellClient struct{}

// NewShellClient creates a Salesforce CLI client
func NewShellClient() *ShellClient {
	return &ShellClient{}
}

// queryResult mirrors the JSON envelope printed by sf data query.
type queryResult struct {
	Status int `json:"status"`
	Result struct {
		Records []Record `json:"records"`
	} `json:"result"`
}

// Query runs a SOQL query via the sf CLI and parses its JSON output
func (c *ShellClient) Query(ctx context.Context, alias, soql string) ([]Record, error) {
	cmd := exec.CommandContext(ctx, "sf", "data", "query",
		"--query", soql,
		"--target-org", alias,
		"--json")

	// sf prints the JSON envelope on stdout even for failed queries, so
	// parse before inspecting the exit status.
	out, err := cmd.Output()

	var res queryResult
	if jsonErr := json.Unmarshal(out, &res); jsonErr != nil {
		if err != nil {
			return nil, fmt.Errorf("sf data query failed: %w", err)
		}
		return nil, fmt.Errorf("failed to parse sf data query output: %w", jsonErr)
	}

	if err != nil || res.Status != 0 {
		return nil, fmt.Errorf("sf data query against org %q returned status %d", alias, res.Status)
	}

	return res.Result.Records, nil
}

// Retrieve fetches metadata matching the manifest into targetDir
func (c *ShellClient) Retrieve(ctx context.Context, alias, manifestPath, targetDir string) error {
	cmd := exec.CommandContext(ctx, "sf", "project", "retrieve", "start",
		"--manifest", manifestPath,
		"--target-org", alias,
		"--output-dir", targetDir)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &RetrievalError{
			Alias:  alias,
			Output: strings.TrimSpace(string(output)),
			Err:    err,
		}
	}
	return nil
}
