package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/drops/internal/storage/postgres"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func envOf(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func testPostgresDSN(t *testing.T) string {
	t.Helper()

	candidates := []string{
		strings.TrimSpace(os.Getenv("DROPS_POSTGRES_TEST_DSN")),
		strings.TrimSpace(os.Getenv(dsnEnv)),
	}

	for _, dsn := range candidates {
		if dsn == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		store, err := postgres.Open(ctx, dsn)
		cancel()
		if err != nil {
			continue
		}
		_ = store.Close()
		return dsn
	}

	t.Skip("postgres dsn is not available")
	return ""
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags(newFlagSet(), []string{"-direction=DOWN"}, envOf(map[string]string{dsnEnv: " postgres://x "}))
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	if opts.direction != "down" {
		t.Errorf("expected direction down, got %s", opts.direction)
	}
	if opts.steps != 1 {
		t.Errorf("down must default to 1 step, got %d", opts.steps)
	}
	if opts.dsn != "postgres://x" {
		t.Errorf("expected dsn from env, got %q", opts.dsn)
	}

	opts, err = parseFlags(newFlagSet(), []string{"-dsn=postgres://flag", "-steps=2"}, envOf(map[string]string{dsnEnv: "postgres://env"}))
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	if opts.dsn != "postgres://flag" || opts.direction != "up" || opts.steps != 2 {
		t.Errorf("unexpected options: %+v", opts)
	}
}

func TestParseFlags_Errors(t *testing.T) {
	if _, err := parseFlags(newFlagSet(), []string{"-direction=status"}, envOf(nil)); err == nil || !strings.Contains(err.Error(), dsnEnv) {
		t.Fatalf("expected missing dsn error, got %v", err)
	}
	if _, err := parseFlags(newFlagSet(), []string{"-direction=sideways", "-dsn=x"}, envOf(nil)); err == nil {
		t.Fatal("expected unsupported direction error")
	}
	if _, err := parseFlags(newFlagSet(), []string{"-steps=abc"}, envOf(nil)); err == nil {
		t.Fatal("expected flag parse error")
	}
}

func TestRun_UpStatusDown(t *testing.T) {
	dsn := testPostgresDSN(t)
	ctx := context.Background()

	for _, direction := range []string{"up", "status", "down", "up"} {
		var out bytes.Buffer
		opts := options{direction: direction, dsn: dsn}
		if direction == "down" {
			opts.steps = 1
		}
		if err := run(ctx, opts, &out); err != nil {
			t.Fatalf("%s failed: %v", direction, err)
		}
		if !strings.HasPrefix(out.String(), "migrate "+direction+" ok") {
			t.Errorf("unexpected output for %s: %s", direction, out.String())
		}
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}
