package testutil

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

var loadOnce sync.Once

// LoadDotEnv loads variables from the nearest ".env" file, walking up from
// the working directory. Existing environment variables win. Test-only.
func LoadDotEnv() {
	loadOnce.Do(func() {
		path, err := findUpwards(".env")
		if err != nil {
			return
		}
		_ = loadEnvFile(path)
	})
}

// LiveAPIKey returns THETA_API_KEY (after LoadDotEnv) or skips the test.
// Live tests additionally require THETA_MCP_LIVE=1 so a developer key in .env
// does not make the regular suite hit the network.
func LiveAPIKey(t testing.TB) string {
	t.Helper()
	LoadDotEnv()
	if os.Getenv("THETA_MCP_LIVE") != "1" {
		t.Skip("set THETA_MCP_LIVE=1 to run live API tests")
	}
	key := strings.TrimSpace(os.Getenv("THETA_API_KEY"))
	if key == "" {
		t.Skip("THETA_API_KEY not set")
	}
	return key
}

func findUpwards(name string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, name)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("not found")
		}
		dir = parent
	}
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return sc.Err()
}
