package converters

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"fileconvert/apperrors"
)

// withScratch runs fn inside a fresh directory under root and removes it on
// every exit path.
func withScratch(root string, fn func(dir string) error) error {
	dir, err := os.MkdirTemp(root, "fileconvert-")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)
	return fn(dir)
}

func writeInput(dir, name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		return fmt.Errorf("write scratch input: %w", err)
	}
	return nil
}

// readOutput reads a file a tool was expected to produce.
func readOutput(dir, name, tool string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &apperrors.ExternalToolError{Tool: tool, Err: fmt.Errorf("no output produced")}
	}
	if err != nil {
		return nil, fmt.Errorf("read scratch output: %w", err)
	}
	if len(data) == 0 {
		return nil, &apperrors.ExternalToolError{Tool: tool, Err: fmt.Errorf("empty output")}
	}
	return data, nil
}
