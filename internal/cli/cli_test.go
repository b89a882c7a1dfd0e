package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tbourn/go-post-scheduler/internal/bandit"
)

func setEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", filepath.Join(t.TempDir(), "scheduler.db"))
	t.Setenv("REDIS_URL", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("PUBLISHER_MODE", "dryrun")
	t.Setenv("OTEL_ENABLED", "false")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil || !strings.HasPrefix(out, "schedulerd dev") {
		t.Fatalf("version: %q %v", out, err)
	}
}

func TestMigrateTickOptimiseSuggest(t *testing.T) {
	setEnv(t)

	if out, err := run(t, "migrate"); err != nil || !strings.Contains(out, "schema up to date") {
		t.Fatalf("migrate: %q %v", out, err)
	}
	if out, err := run(t, "tick"); err != nil || !strings.Contains(out, "processed 0 schedule(s)") {
		t.Fatalf("tick: %q %v", out, err)
	}
	if out, err := run(t, "optimise"); err != nil || !strings.Contains(out, "applied 0 reward(s)") {
		t.Fatalf("optimise: %q %v", out, err)
	}

	out, err := run(t, "suggest", "--org", "acme", "--provider", "instagram", "--n", "3", "--json")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	var got []bandit.Suggestion
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("suggest json: %v\n%s", err, out)
	}
	if len(got) != 3 || !strings.HasPrefix(got[0].Key, "instagram:post:") {
		t.Fatalf("unexpected suggestions: %+v", got)
	}

	out, err = run(t, "suggest", "--org", "acme", "--provider", "instagram", "--n", "1")
	if err != nil || !strings.HasPrefix(out, "KEY") {
		t.Fatalf("suggest table: %q %v", out, err)
	}
}

func TestSuggest_Validation(t *testing.T) {
	setEnv(t)
	t.Setenv("SCHEDULER_ORG", "")

	if _, err := run(t, "suggest", "--provider", "instagram"); err == nil {
		t.Fatalf("expected missing org error")
	}
	if _, err := run(t, "suggest", "--org", "acme", "--provider", "a:b"); err == nil {
		t.Fatalf("expected provider error")
	}
	if _, err := run(t, "suggest", "--org", "acme", "--provider", "x", "--n", "0"); err == nil {
		t.Fatalf("expected n error")
	}
}

func TestBootstrap_BadConfig(t *testing.T) {
	setEnv(t)
	t.Setenv("PUBLISHER_MODE", "carrier-pigeon")
	if _, err := run(t, "tick"); err == nil || !strings.Contains(err.Error(), "PUBLISHER_MODE") {
		t.Fatalf("expected config error, got %v", err)
	}
}
