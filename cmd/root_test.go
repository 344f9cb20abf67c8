package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/fatiguedetector/internal/fatigue"
	"github.com/ColonelBlimp/fatiguedetector/internal/stream"
)

// resetForTest isolates viper, flag values and the config home between runs
// of the shared rootCmd.
func resetForTest(t *testing.T) string {
	t.Helper()
	viper.Reset()
	bindFlags()
	for _, fs := range []*pflag.FlagSet{rootCmd.PersistentFlags(), replayCmd.Flags(), configCmd.Flags()} {
		fs.VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
	rootCmd.SetIn(nil)

	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tmpDir
}

func writeUserConfig(t *testing.T, home, content string) {
	t.Helper()
	configDir := filepath.Join(home, ".config", "fatiguedetector")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func decodeEnvelopes(t *testing.T, out string) []stream.Envelope {
	t.Helper()
	var envs []stream.Envelope
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var env stream.Envelope
		if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
			t.Fatalf("output line %q is not an envelope: %v", sc.Text(), err)
		}
		envs = append(envs, env)
	}
	return envs
}

// rampCSV is a steady 0.1/s rise sampled once per second.
const rampCSV = `t,amplitude
0,1.0
1,1.1
2,1.2
3,1.3
4,1.4
5,1.5
6,1.6
7,1.7
`

func TestRootCmd_HasExpectedFlags(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	tests := []struct {
		name      string
		shorthand string
	}{
		{"nats", "n"},
		{"listen", "l"},
		{"alpha", "a"},
		{"publish-debug", ""},
		{"log-format", ""},
		{"debug", "D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := flags.Lookup(tt.name)
			if flag == nil {
				t.Errorf("flag %q not found", tt.name)
				return
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("flag %q shorthand = %q, want %q", tt.name, flag.Shorthand, tt.shorthand)
			}
			if flag.Usage == "" {
				t.Errorf("flag %q has no description", tt.name)
			}
		})
	}
}

func TestRootCmd_FlagDefaults(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	tests := []struct {
		name         string
		defaultValue string
	}{
		{"nats", "nats://127.0.0.1:4222"},
		{"listen", ":8080"},
		{"alpha", "0.25"},
		{"publish-debug", "false"},
		{"log-format", "text"},
		{"debug", "false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := flags.Lookup(tt.name)
			if flag == nil {
				t.Fatalf("flag %q not found", tt.name)
			}
			if flag.DefValue != tt.defaultValue {
				t.Errorf("flag %q default = %q, want %q", tt.name, flag.DefValue, tt.defaultValue)
			}
		})
	}
}

func TestRootCmd_Properties(t *testing.T) {
	if rootCmd.Use != "fatiguedetector" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "fatiguedetector")
	}
	if rootCmd.Short == "" {
		t.Error("rootCmd.Short is empty")
	}
	if rootCmd.Long == "" {
		t.Error("rootCmd.Long is empty")
	}

	for _, name := range []string{"replay", "serve", "config"} {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestRootCmd_HelpOutput(t *testing.T) {
	resetForTest(t)

	out, _, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("Execute() with --help error = %v", err)
	}
	for _, want := range []string{"fatiguedetector", "replay", "serve", "--nats"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output should contain %q", want)
		}
	}
}

func TestInitConfig(t *testing.T) {
	home := resetForTest(t)
	writeUserConfig(t, home, "ewma_alpha: 0.4")

	// Should not panic
	initConfig()

	if got := viper.GetFloat64("ewma_alpha"); got != 0.4 {
		t.Errorf("viper.GetFloat64(ewma_alpha) = %v, want 0.4", got)
	}
	if got := viper.GetString("state_subject"); got != "fatigue.state" {
		t.Errorf("viper.GetString(state_subject) = %q, want default", got)
	}
}

func TestReplay_CSVFile(t *testing.T) {
	resetForTest(t)
	path := filepath.Join(t.TempDir(), "set.csv")
	if err := os.WriteFile(path, []byte(rampCSV), 0644); err != nil {
		t.Fatalf("failed to write input: %v", err)
	}

	out, _, err := execute(t, "replay", path)
	if err != nil {
		t.Fatalf("replay error = %v", err)
	}

	envs := decodeEnvelopes(t, out)
	if len(envs) != 1 {
		t.Fatalf("got %d envelopes, want 1:\n%s", len(envs), out)
	}
	env := envs[0]
	if env.Type != stream.TypeState || env.State == nil {
		t.Fatalf("envelope = %+v, want a state envelope", env)
	}
	if env.State.State != fatigue.Rise {
		t.Errorf("state = %v, want rise", env.State.State)
	}
	if env.State.Timestamp != 5 {
		t.Errorf("transition at t=%v, want 5", env.State.Timestamp)
	}
	if env.SetID == "" {
		t.Error("set_id is empty")
	}
}

func TestReplay_JSONLStdinWithDebugFrames(t *testing.T) {
	resetForTest(t)

	var in strings.Builder
	for i := range 8 {
		sample := map[string]float64{"t": float64(i), "amplitude": 1 + 0.1*float64(i)}
		b, _ := json.Marshal(sample)
		in.Write(b)
		in.WriteString("\n")
	}
	rootCmd.SetIn(strings.NewReader(in.String()))

	out, _, err := execute(t, "replay", "-", "--format", "jsonl", "--debug-frames")
	if err != nil {
		t.Fatalf("replay error = %v", err)
	}

	var states, debug int
	for _, env := range decodeEnvelopes(t, out) {
		switch env.Type {
		case stream.TypeState:
			states++
		case stream.TypeDebug:
			debug++
		}
	}
	if states != 1 {
		t.Errorf("state envelopes = %d, want 1", states)
	}
	if debug != 8 {
		t.Errorf("debug envelopes = %d, want 8", debug)
	}
}

func TestReplay_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		config  string
		wantErr string
	}{
		{"unknown format", []string{"replay", "--format", "wav", "x.wav"}, "", "unsupported format"},
		{"missing file", []string{"replay", "does-not-exist.csv"}, "", "open input"},
		{"invalid config", []string{"replay", "does-not-exist.csv"}, "ewma_alpha: 2", "config"},
		{"too many args", []string{"replay", "a.csv", "b.csv"}, "", "accepts at most 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := resetForTest(t)
			if tt.config != "" {
				writeUserConfig(t, home, tt.config)
			}

			_, _, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestReplay_BadInputRow(t *testing.T) {
	resetForTest(t)
	rootCmd.SetIn(strings.NewReader("t,amplitude\n0,1\n1,abc\n"))

	_, _, err := execute(t, "replay")
	if err == nil {
		t.Fatal("expected error for malformed row, got nil")
	}
	if !strings.Contains(err.Error(), "stdin") {
		t.Errorf("error = %v, want input name in message", err)
	}
}

func TestConfigCmd(t *testing.T) {
	resetForTest(t)

	out, _, err := execute(t, "config", "--alpha", "0.5")
	if err != nil {
		t.Fatalf("config error = %v", err)
	}
	if !strings.Contains(out, "ewma_alpha: 0.5") {
		t.Errorf("output should reflect --alpha override:\n%s", out)
	}
	if !strings.Contains(out, "state_subject: fatigue.state") {
		t.Errorf("output should contain defaults:\n%s", out)
	}
}

func TestConfigCmd_JSON(t *testing.T) {
	resetForTest(t)

	out, _, err := execute(t, "config", "--json")
	if err != nil {
		t.Fatalf("config error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got["nats_url"] != "nats://127.0.0.1:4222" {
		t.Errorf("nats_url = %v, want default", got["nats_url"])
	}
}

func TestServe_NATSUnavailable(t *testing.T) {
	resetForTest(t)

	_, _, err := execute(t, "serve", "--nats", "nats://127.0.0.1:1", "--listen", "")
	if err == nil {
		t.Fatal("expected connection error, got nil")
	}
	if !strings.Contains(err.Error(), "connect nats") {
		t.Errorf("error = %v, want nats connection error", err)
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	home := resetForTest(t)
	writeUserConfig(t, home, "log_format: xml")

	_, _, err := execute(t, "serve")
	if err == nil {
		t.Fatal("expected error for invalid config, got nil")
	}
	if !strings.Contains(err.Error(), "config") {
		t.Errorf("expected config error, got: %v", err)
	}
}
