package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/example/go-wordalign/internal/config"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	orig := activeCfg
	t.Cleanup(func() { activeCfg = orig })

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()

	return out.String(), err
}

func TestNewRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"align", "bench", "serve", "health", "doctor"}
	for _, name := range want {
		found := false

		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		if !found {
			t.Errorf("expected subcommand %q not found in root", name)
		}
	}
}

func TestNewRootCmd_HasPersistentFlags(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"config", "backend", "batch-size", "source-field", "log-level"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected --%s persistent flag to be registered", name)
		}
	}
}

func TestSetupLogger_DoesNotPanic(_ *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		setupLogger(level)
	}
}

func TestSetupLogger_InvalidLevelFallsBackToInfo(_ *testing.T) {
	setupLogger("not-a-level")
}

func TestRequireConfig_FailsWhenNotInitialized(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	activeCfg = config.Config{}

	_, err := requireConfig()
	if err == nil {
		t.Fatal("expected error when config is not loaded")
	}
}

func TestRequireConfig_SucceedsWhenLoaded(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	activeCfg = config.DefaultConfig()

	got, err := requireConfig()
	if err != nil {
		t.Fatalf("requireConfig returned unexpected error: %v", err)
	}

	if got.Align.SourceField != "src_words" {
		t.Errorf("unexpected SourceField: %q", got.Align.SourceField)
	}
}

func TestRoot_ConfigFileIsLoaded(t *testing.T) {
	path := writeFile(t, "wordalign.yaml", "align:\n  output_field: links\n")

	out, err := execute(t, `{"src_words":["a"],"tgt_words":["a"]}`+"\n", "--config", path, "align")
	if err != nil {
		t.Fatalf("align: %v", err)
	}

	if !strings.Contains(out, `"links":[[0,0]]`) {
		t.Errorf("output = %q; want links field from config file", out)
	}
}

func TestRoot_MissingConfigFileFails(t *testing.T) {
	if _, err := execute(t, "", "--config", "/nonexistent/wordalign.yaml", "align"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
