package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const answerListing = `
version = "V_703004f"
extends = "Node"

[[func]]
name = "answer"
constants = [42]
code = """
    LOAD_CONST 0
    CALL_BUILTIN print 1
    POP
    LOAD_CONST 0
    RETURN
"""
`

type env struct {
	t   *testing.T
	dir string
	cfg string
}

func newEnv(t *testing.T) *env {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "gdsdecomp.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("[log]\nlevel = \"warn\"\n"), 0644))
	return &env{t: t, dir: dir, cfg: cfg}
}

func (e *env) path(parts ...string) string {
	return filepath.Join(append([]string{e.dir}, parts...)...)
}

func (e *env) run(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(append([]string{"--no-color", "--config", e.cfg}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// assemble writes the answer listing and builds scripts/answer.gdc.
func (e *env) assemble() string {
	e.t.Helper()
	listing := e.path("answer.toml")
	require.NoError(e.t, os.WriteFile(listing, []byte(answerListing), 0644))
	require.NoError(e.t, os.MkdirAll(e.path("scripts"), 0755))
	out := e.path("scripts", "answer.gdc")
	_, stderr, err := e.run("assemble", listing, "-o", out)
	require.NoError(e.t, err, stderr)
	assert.Contains(e.t, stderr, "assembled")
	return out
}

func TestDecompileAndReport(t *testing.T) {
	e := newEnv(t)
	e.assemble()

	_, stderr, err := e.run("decompile", e.path("scripts"), "-o", e.path("out"))
	require.NoError(t, err, stderr)
	assert.Contains(t, stderr, "1 ok, 0 incomplete, 0 failed")

	src, err := os.ReadFile(e.path("out", "answer.gd"))
	require.NoError(t, err)
	assert.Equal(t, "extends Node\n\nfunc answer():\n\tprint(42)\n\treturn 42\n", string(src))

	stdout, _, err := e.run("report", "--in", e.path("out", "report.json"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "| answer.gdc | V_703004f | exact | ok | 1 |")
}

func TestDecompileCBORListing(t *testing.T) {
	e := newEnv(t)
	e.assemble()

	_, stderr, err := e.run("decompile", e.path("scripts"), "-o", e.path("out"), "--report", "cbor", "--listing")
	require.NoError(t, err, stderr)
	assert.FileExists(t, e.path("out", "report.cbor"))
	assert.FileExists(t, e.path("out", "asm", "answer.txt"))

	stdout, _, err := e.run("report", "--in", e.path("out", "report.cbor"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "answer.gdc")
}

func TestDecompileFailureExitsNonZero(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.WriteFile(e.path("junk.gdc"), []byte("not a script"), 0644))

	_, stderr, err := e.run("decompile", e.path("junk.gdc"), "-o", e.path("out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 units failed")
	assert.Contains(t, stderr, "container")
}

func TestDetectAndDisasm(t *testing.T) {
	e := newEnv(t)
	bin := e.assemble()

	stdout, _, err := e.run("detect", bin)
	require.NoError(t, err)
	assert.Contains(t, stdout, "answer.gdc\tV_703004f\texact")

	stdout, _, err = e.run("disasm", bin)
	require.NoError(t, err)
	assert.Contains(t, stdout, "LOAD_CONST 0  ; 42")

	_, _, err = e.run("disasm", bin, "-o", e.path("dis"))
	require.NoError(t, err)
	assert.FileExists(t, e.path("dis", "functions.jsonl"))
	assert.FileExists(t, e.path("dis", "call_edges.jsonl"))
	assert.FileExists(t, e.path("dis", "asm", "answer.txt"))
}

func TestGraph(t *testing.T) {
	e := newEnv(t)
	bin := e.assemble()

	_, stderr, err := e.run("graph", bin, "-o", e.path("g"))
	require.NoError(t, err, stderr)
	for _, f := range []string{
		filepath.Join("answer", "cfg", "answer.dot"),
		filepath.Join("answer", "cfg.dot"),
		filepath.Join("answer", "callgraph.dot"),
		"callgraph.dot",
		"reachable.dot",
	} {
		assert.FileExists(t, e.path("g", f))
	}
}

func TestVersions(t *testing.T) {
	e := newEnv(t)
	stdout, _, err := e.run("versions")
	require.NoError(t, err)
	assert.Contains(t, stdout, "V_703004f")
	assert.Contains(t, stdout, "V_77dcf97")

	stdout, _, err = e.run("versions", "--groups")
	require.NoError(t, err)
	assert.Contains(t, stdout, "group 0")
}

func TestBadFlags(t *testing.T) {
	e := newEnv(t)
	bin := e.assemble()
	_, _, err := e.run("decompile", bin, "--tie-break", "oldest")
	assert.ErrorContains(t, err, "--tie-break")
	_, _, err = e.run("versions", "--log-level", "loud")
	assert.ErrorContains(t, err, "--log-level")
}
