package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
)

const testCatalogueYAML = `
"store='ecmwf' local='toy1'":
  factories:
    ekd_source:
      kind: source
      title: Earthkit source
      configuration_options:
        model:
          value_type: str
    regrid:
      kind: transform
      inputs: [dataset]
    mean:
      kind: product
      inputs: [dataset]
    zarr:
      kind: sink
      inputs: [product]
`

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCaptured(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func writeFable(t *testing.T, dir string, doc *fable.Builder) string {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal fable: %v", err)
	}
	return writeFile(t, dir, "fable.json", string(data))
}

func generated(t *testing.T, cataloguePath string) *fable.Builder {
	t.Helper()
	code, stdout, stderr := runCaptured(t, "fable", "generate", "--catalogue", cataloguePath, "--plugin", "ecmwf/toy1")
	if code != 0 {
		t.Fatalf("generate exit %d: %s", code, stderr)
	}
	doc := fable.New()
	if err := json.Unmarshal([]byte(stdout), doc); err != nil {
		t.Fatalf("generate output is not a fable: %v\n%s", err, stdout)
	}
	return doc
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCaptured(t, "frobnicate")
	if code != 1 || !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
}

func TestVersionJSON(t *testing.T) {
	origVersion, origCommit := version, gitCommit
	version, gitCommit = "1.2.3", "0123456789abcdef"
	t.Cleanup(func() { version, gitCommit = origVersion, origCommit })

	code, stdout, _ := runCaptured(t, "version", "--json")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("version output: %v", err)
	}
	if info.Version != "1.2.3" || info.Commit != "0123456789ab" {
		t.Fatalf("info = %+v", info)
	}
}

func TestCatalogueList(t *testing.T) {
	dir := t.TempDir()
	cat := writeFile(t, dir, "catalogue.yaml", testCatalogueYAML)

	code, stdout, stderr := runCaptured(t, "catalogue", "list", "--catalogue", cat)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	for _, want := range []string{"source (1)", "ecmwf/toy1:ekd_source", "Earthkit source", "options: model", "sink (1)", "inputs: product"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("output missing %q:\n%s", want, stdout)
		}
	}

	code, _, stderr = runCaptured(t, "catalogue", "list", "--catalogue", cat, "--plugin", "x/y")
	if code != 1 || !strings.Contains(stderr, "Unknown plugin") {
		t.Fatalf("unknown plugin: exit %d, stderr %q", code, stderr)
	}
}

func TestGenerateEncodeDecode(t *testing.T) {
	dir := t.TempDir()
	cat := writeFile(t, dir, "catalogue.yaml", testCatalogueYAML)

	doc := generated(t, cat)
	if len(doc.Blocks) != 4 {
		t.Fatalf("generated %d blocks, want 4", len(doc.Blocks))
	}

	code, state, stderr := runCaptured(t, "fable", "encode", "--in", writeFable(t, dir, doc))
	if code != 0 {
		t.Fatalf("encode exit %d: %s", code, stderr)
	}
	state = strings.TrimSpace(state)
	if !strings.HasPrefix(state, "1.") {
		t.Fatalf("state = %q", state)
	}

	code, stdout, stderr := runCaptured(t, "fable", "decode", "--state", state)
	if code != 0 {
		t.Fatalf("decode exit %d: %s", code, stderr)
	}
	decoded := fable.New()
	if err := json.Unmarshal([]byte(stdout), decoded); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !doc.Equal(decoded) {
		t.Fatalf("round trip changed the document")
	}

	code, stdout, _ = runCaptured(t, "fable", "decode", "--url", "http://localhost/builder?state="+state)
	if code != 0 || !strings.Contains(stdout, `"blocks"`) {
		t.Fatalf("decode --url exit %d: %s", code, stdout)
	}

	code, _, stderr = runCaptured(t, "fable", "decode", "--url", "http://localhost/builder?fableId=abc")
	if code != 1 || !strings.Contains(stderr, "saved fable abc") {
		t.Fatalf("decode fableId: exit %d, stderr %q", code, stderr)
	}

	code, _, stderr = runCaptured(t, "fable", "encode", "--in", writeFable(t, dir, doc), "--max-length", "10")
	if code != 1 || !strings.Contains(stderr, "over the 10 limit") {
		t.Fatalf("encode too large: exit %d, stderr %q", code, stderr)
	}
}

func TestFableValidate(t *testing.T) {
	dir := t.TempDir()
	cat := writeFile(t, dir, "catalogue.yaml", testCatalogueYAML)
	doc := generated(t, cat)

	code, stdout, stderr := runCaptured(t, "fable", "validate", "--in", writeFable(t, dir, doc), "--catalogue", cat)
	if code != 0 {
		t.Fatalf("validate exit %d: %s\n%s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "fable is valid") || !strings.Contains(stdout, "state: 1.") {
		t.Fatalf("validate output:\n%s", stdout)
	}

	for id, block := range doc.Blocks {
		if block.FactoryID.Factory == "zarr" {
			delete(doc.Blocks, id)
		}
	}
	code, stdout, _ = runCaptured(t, "fable", "validate", "--in", writeFable(t, dir, doc), "--catalogue", cat)
	if code != 1 || !strings.Contains(stdout, "pipeline has no sink") {
		t.Fatalf("invalid fable: exit %d\n%s", code, stdout)
	}
}

func TestFableLayout(t *testing.T) {
	dir := t.TempDir()
	cat := writeFile(t, dir, "catalogue.yaml", testCatalogueYAML)
	in := writeFable(t, dir, generated(t, cat))

	code, stdout, stderr := runCaptured(t, "fable", "layout", "--in", in, "--catalogue", cat, "--direction", "lr", "--json")
	if code != 0 {
		t.Fatalf("layout exit %d: %s", code, stderr)
	}
	var nodes []struct {
		Kind     fable.Kind `json:"kind"`
		Position *struct {
			X float64 `json:"x"`
		} `json:"position"`
	}
	if err := json.Unmarshal([]byte(stdout), &nodes); err != nil {
		t.Fatalf("layout output: %v", err)
	}
	if len(nodes) != 4 {
		t.Fatalf("got %d nodes", len(nodes))
	}
	xs := map[fable.Kind]float64{}
	for _, n := range nodes {
		if n.Position == nil {
			t.Fatalf("node of kind %s unplaced", n.Kind)
		}
		xs[n.Kind] = n.Position.X
	}
	if !(xs[fable.KindSource] < xs[fable.KindTransform] && xs[fable.KindTransform] < xs[fable.KindProduct] && xs[fable.KindProduct] < xs[fable.KindSink]) {
		t.Fatalf("LR layout should advance along X by kind, got %v", xs)
	}

	code, _, stderr = runCaptured(t, "fable", "layout", "--in", in, "--catalogue", cat, "--direction", "diagonal")
	if code != 1 || !strings.Contains(stderr, "--direction") {
		t.Fatalf("bad direction: exit %d, stderr %q", code, stderr)
	}
}

func TestFableLayoutFromConfig(t *testing.T) {
	dir := t.TempDir()
	cat := writeFile(t, dir, "catalogue.yaml", testCatalogueYAML)
	in := writeFable(t, dir, generated(t, cat))
	cfg := writeFile(t, dir, "config.yaml", `
catalogue:
  path: catalogue.yaml
builder:
  layout_debounce: 10ms
`)

	code, stdout, stderr := runCaptured(t, "fable", "layout", "--in", in, "--config", cfg)
	if code != 0 {
		t.Fatalf("layout exit %d: %s", code, stderr)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d rank lines:\n%s", len(lines), stdout)
	}
	if !strings.HasPrefix(lines[0], "0 ") || !strings.Contains(lines[0], "(0, 0)") {
		t.Fatalf("first line should be the source at the origin: %q", lines[0])
	}
	if strings.Contains(stdout, "unplaced") {
		t.Fatalf("every node should be placed:\n%s", stdout)
	}
}

func TestConfigCheck(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "catalogue.yaml", testCatalogueYAML)
	cfg := writeFile(t, dir, "config.yaml", `
catalogue:
  path: catalogue.yaml
api:
  auth:
    api_key: secret
`)

	code, stdout, stderr := runCaptured(t, "config", "check", "--config", cfg)
	if code != 0 || !strings.Contains(stdout, "Configuration valid.") {
		t.Fatalf("exit %d\nstdout %s\nstderr %s", code, stdout, stderr)
	}

	bad := writeFile(t, dir, "bad.yaml", "service:\n  log_level: loud\n")
	code, _, _ = runCaptured(t, "config", "check", "--config", bad)
	if code != 2 {
		t.Fatalf("unloadable config exit %d, want 2", code)
	}
}
