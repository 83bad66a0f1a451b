package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pentland/scribe/examples"
)

// runInit initializes a Scribe working directory with default files.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Scribe workspace in %s\n", dir)

	for _, sub := range []string{"data/memory", "data/profile"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	configPath := filepath.Join(dir, "config.yaml")
	created, err := writeIfMissing(configPath, examples.ConfigYAML)
	if err != nil {
		return err
	}
	reportFile(w, configPath, created)

	personaPath := filepath.Join(dir, "data", "profile", "PERSONA.md")
	created, err = writeIfMissing(personaPath, examples.PersonaMD)
	if err != nil {
		return err
	}
	reportFile(w, personaPath, created)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml and data/profile/PERSONA.md to customize.")
	return nil
}

func reportFile(w io.Writer, path string, created bool) {
	if created {
		fmt.Fprintf(w, "  wrote %s\n", path)
	} else {
		fmt.Fprintf(w, "  kept existing %s\n", path)
	}
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never clobbers user customizations. It
// reports whether the file was created.
func writeIfMissing(path string, content []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
