package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// readJSONInput decodes path, or stdin when path is "-", into target.
func readJSONInput(cmd *cobra.Command, path string, target any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("--file is required (use - for stdin)")
	}
	var reader io.Reader
	if path == "-" {
		reader = cmd.InOrStdin()
	} else {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer file.Close()
		reader = file
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse JSON input: %w", err)
	}
	return nil
}
