package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()

	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q

[logging]
format = "console"
level = "error"
`, filepath.Join(base, "data"), filepath.Join(base, "logs"))
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath
}

func runCommand(t *testing.T, configPath string, args ...string) string {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("command %v failed: %v\noutput: %s", args, err, out.String())
	}
	return out.String()
}

func TestChallengeAddAndList(t *testing.T) {
	configPath := writeTestConfig(t)

	out := runCommand(t, configPath, "challenge", "add", "--name", "sidewalks")
	if !strings.Contains(out, "Created challenge 1") {
		t.Fatalf("unexpected add output: %s", out)
	}

	out = runCommand(t, configPath, "challenge", "list")
	if !strings.Contains(out, "sidewalks") {
		t.Fatalf("challenge missing from list: %s", out)
	}
}

func TestTaskAddSetStatusShow(t *testing.T) {
	configPath := writeTestConfig(t)

	runCommand(t, configPath, "challenge", "add", "--name", "crossings")
	out := runCommand(t, configPath, "task", "add", "--challenge", "1", "--name", "crossing-1")
	if !strings.Contains(out, "Created task 1") {
		t.Fatalf("unexpected add output: %s", out)
	}

	out = runCommand(t, configPath, "--user", "7", "task", "set-status", "1", "--status", "fixed", "--no-review")
	if !strings.Contains(out, "Updated 1 task(s)") {
		t.Fatalf("unexpected set-status output: %s", out)
	}

	out = runCommand(t, configPath, "task", "show", "1")
	if !strings.Contains(out, "fixed") {
		t.Fatalf("status missing from show output: %s", out)
	}
}
