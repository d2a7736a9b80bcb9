package batch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/justapithecus/darkroom/types"
)

// WriteOutput writes item's final image under dir, at the path its
// artifact key would take without a prefix. It returns the written path.
func WriteOutput(dir, runID string, item *types.BatchItem) (string, error) {
	if item.FinalResult == nil || item.FinalResult.Image.Empty() {
		return "", fmt.Errorf("item %s has no result", item.ID)
	}
	path := filepath.Join(dir, filepath.FromSlash(ArtifactKey("", runID, item)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, item.FinalResult.Image.Data, 0o644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return path, nil
}
