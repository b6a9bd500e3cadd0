package scenario

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ivlev/timeline/internal/system"
)

var extensions = []string{".yaml", ".yml"}

// GenerateScenarioPath creates a timestamped scenario filename in dir
func GenerateScenarioPath(dir string) string {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(dir, fmt.Sprintf("scenario_%s.yaml", timestamp))
}

// FindLatestScenario finds the most recent scenario file in dir
func FindLatestScenario(dir string) (string, error) {
	return system.FindLatest(dir, extensions)
}
