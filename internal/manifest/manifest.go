package manifest

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Namespace is the fixed metadata manifest namespace.
const Namespace = "http://soap.sforce.com/2006/04/metadata"

// Member identifies one metadata component as a (type, name) pair.
type Member struct {
	Type string
	Name string
}

// Types is one <types> block: every member name sharing one metadata type.
type Types struct {
	Members []string `xml:"members"`
	Name    string   `xml:"name"`
}

// Package is a deployment manifest document. Field order matches the
// schema: repeated <types> blocks followed by a trailing <version>.
type Package struct {
	XMLName xml.Name `xml:"Package"`
	Xmlns   string   `xml:"xmlns,attr"`
	Types   []Types  `xml:"types"`
	Version string   `xml:"version"`
}

// New creates an empty manifest for the given API version.
func New(apiVersion string) *Package {
	return &Package{
		Xmlns:   Namespace,
		Version: apiVersion,
	}
}

// Destructive builds a manifest from the given members, grouped by type
// and deduplicated. Types and names are sorted so identical member sets
// serialize to identical bytes regardless of input ordering. An empty
// member set yields a well-formed version-only document.
func Destructive(members []Member, apiVersion string) *Package {
	byType := make(map[string]map[string]bool)
	for _, m := range members {
		if m.Type == "" || m.Name == "" {
			continue
		}
		if byType[m.Type] == nil {
			byType[m.Type] = make(map[string]bool)
		}
		byType[m.Type][m.Name] = true
	}

	typeNames := make([]string, 0, len(byType))
	for name := range byType {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)

	pkg := New(apiVersion)
	for _, typeName := range typeNames {
		names := make([]string, 0, len(byType[typeName]))
		for name := range byType[typeName] {
			names = append(names, name)
		}
		sort.Strings(names)

		pkg.Types = append(pkg.Types, Types{
			Name:    typeName,
			Members: names,
		})
	}

	return pkg
}

// Marshal serializes the manifest with an XML declaration. Member names
// are escaped by the encoder, so the output is always well-formed.
func (p *Package) Marshal() ([]byte, error) {
	body, err := xml.MarshalIndent(p, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize manifest: %w", err)
	}

	var b strings.Builder
	b.WriteString(xml.Header)
	b.Write(body)
	b.WriteString("\n")
	return []byte(b.String()), nil
}

// Write serializes the manifest to path.
func (p *Package) Write(path string) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GenerationError reports a failed manifest generation. Unlike retrieval
// failures this is fatal: a non-empty change set without an additive
// manifest cannot be deployed.
type GenerationError struct {
	SourceDir string
	Output    string
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("manifest generation for %q failed: %v: %s", e.SourceDir, e.Err, e.Output)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Generator produces a manifest describing the metadata found in a
// source directory
type Generator interface {
	// Generate writes package.xml for sourceDir into outputDir.
	// Failures are reported as *GenerationError.
	Generate(ctx context.Context, sourceDir, outputDir, apiVersion string) error
}

// ShellGenerator implements Generator by shelling out to the sf command
type ShellGenerator struct{}

// NewShellGenerator creates a manifest generator backed by the sf CLI
func NewShellGenerator() *ShellGenerator {
	return &ShellGenerator{}
}

// Generate writes package.xml for sourceDir into outputDir
func (g *ShellGenerator) Generate(ctx context.Context, sourceDir, outputDir, apiVersion string) error {
	cmd := exec.CommandContext(ctx, "sf", "project", "generate", "manifest",
		"--source-dir", sourceDir,
		"--output-dir", outputDir,
		"--api-version", apiVersion)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &GenerationError{
			SourceDir: sourceDir,
			Output:    strings.TrimSpace(string(output)),
			Err:       err,
		}
	}
	return nil
}
