//go:build tools

package tools

// Tool dependencies pinned through go.mod, invoked via `go run`.
import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/vuln/cmd/govulncheck"
)
