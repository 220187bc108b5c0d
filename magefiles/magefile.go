//go:build mage

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main contains Mage build targets for lumi-engine developer tooling.
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// projectDirs lists the working directories lumi-engine expects.
var projectDirs = []string{
	"data",
	".secrets",
	"bin",
}

const sampleConfigFile = "lumi-engine.yaml"

// sampleConfig is written by Init when no config file exists.
const sampleConfig = `# lumi-engine configuration. Every key has a default; environment
# variables override it as LUMI_ENGINE_<SECTION>_<KEY>.
log:
  level: info
  format: console

ai:
  provider: gemini          # gemini or claude; key in .secrets/gemini-api-key
  model: gemini-2.5-flash-lite
  timeout: 60s

store:
  driver: sqlite            # sqlite or postgres; DSN in .secrets/postgres-dsn
  path: data/lumi.db

ingest:
  fetch_concurrency: 4
  fetch_rate_per_second: 5

work:
  workers: 4
  queue_size: 256
  task_timeout: 2m

schedule:
  ingest: "*/30 * * * *"
  sweep: "@every 1h"

metrics:
  addr: ":9464"
`

// Init creates the working directories and a sample config file.
func Init() error {
	for _, dir := range projectDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	if _, err := os.Stat(sampleConfigFile); os.IsNotExist(err) {
		if err := os.WriteFile(sampleConfigFile, []byte(sampleConfig), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", sampleConfigFile, err)
		}
		fmt.Println("  ", sampleConfigFile)
	}
	fmt.Println("Project initialized.")
	return nil
}

const (
	binDir  = "bin"
	binName = "lumi-engine"
	cmdPkg  = "./cmd/lumi-engine"
)

// Build compiles the CLI binary into bin/, stamping the version from
// LUMI_ENGINE_VERSION when set.
func Build() error {
	mg.Deps(Init)

	out := filepath.Join(binDir, binName)
	args := []string{"build", "-o", out}
	if v := os.Getenv("LUMI_ENGINE_VERSION"); v != "" {
		args = append(args, "-ldflags", "-X main.version="+v)
	}
	args = append(args, cmdPkg)
	if err := sh.RunV("go", args...); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// Stats prints project metrics: Go production/test LOC and documentation word count.
func Stats() error {
	prodLines, testLines, err := countGoLines(".")
	if err != nil {
		return err
	}
	docWords, err := countDocWords(".")
	if err != nil {
		return err
	}

	fmt.Printf("Lines of code (Go, production): %d\n", prodLines)
	fmt.Printf("Lines of code (Go, tests):      %d\n", testLines)
	fmt.Printf("Words (documentation):           %d\n", docWords)
	return nil
}

// skipDir reports directories Stats never descends into.
func skipDir(name string) bool {
	return name != "." && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "bin" || name == "data")
}

// countGoLines counts non-blank lines in production and test Go files.
func countGoLines(root string) (prod, tests int, err error) {
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		n, err := nonBlankLines(path)
		if err != nil {
			return err
		}
		if strings.HasSuffix(path, "_test.go") {
			tests += n
		} else {
			prod += n
		}
		return nil
	})
	return prod, tests, err
}

func nonBlankLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n, sc.Err()
}

// countDocWords counts words in the Markdown files of the repository.
func countDocWords(root string) (int, error) {
	total := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".md" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		total += len(bytes.Fields(data))
		return nil
	})
	return total, err
}
