package config

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
)

// loadEnvFiles sets environment variables from .env.local and .env, looking
// in the working directory and next to the executable. Variables already set
// in the environment win. Called only when DATABASE_URL is missing.
func loadEnvFiles() {
	var dirs []string
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	if exe, err := os.Executable(); err == nil {
		if dir := filepath.Dir(exe); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	for _, dir := range dirs {
		for _, name := range []string{".env.local", ".env"} {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			applyEnvFile(data)
		}
	}
}

func applyEnvFile(data []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		i := bytes.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		key := string(bytes.TrimSpace(line[:i]))
		value := string(bytes.Trim(bytes.TrimSpace(line[i+1:]), `"'`))
		if key != "" && os.Getenv(key) == "" {
			_ = os.Setenv(key, value)
		}
	}
}
