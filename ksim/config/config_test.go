// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"kmem.dev/kmem/ksim/flag"
	"kmem.dev/kmem/pkg/memlayout"
)

func newFlagSet(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	return testFlags
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t))
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	if diff := cmp.Diff(memlayout.Default(), c.Layout()); diff != "" {
		t.Errorf("Layout() mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, "--debug", "--cpus=8", "--backing=memfd", "--phys-top=0x1000000"))
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := 8; c.CPUs != want {
		t.Errorf("CPUs=%v, want: %v", c.CPUs, want)
	}
	if want := BackingMemfd; c.Backing != want {
		t.Errorf("Backing=%v, want: %v", c.Backing, want)
	}
	if want := uint64(0x1000000); c.PhysTop != want {
		t.Errorf("PhysTop=%#x, want: %#x", c.PhysTop, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	orig, err := NewFromFlags(newFlagSet(t, "--debug", "--cpus=3", "--backing=memfd", "--debug-log-format=json"))
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewFromFlags(newFlagSet(t, orig.ToFlags()...))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(orig, c); diff != "" {
		t.Errorf("round trip through ToFlags mismatch (-want +got):\n%s", diff)
	}
}

func TestValidation(t *testing.T) {
	for _, test := range []struct {
		name string
		args []string
	}{
		{name: "No CPUs", args: []string{"--cpus=0"}},
		{name: "Bad log format", args: []string{"--debug-log-format=json-k8s"}},
		{name: "Unaligned phys top", args: []string{"--phys-top=0x1001"}},
		{name: "Kernel above entry map", args: []string{"--entry-top=0x100000"}},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := NewFromFlags(newFlagSet(t, test.args...)); err == nil {
				t.Errorf("NewFromFlags(%v) succeeded", test.args)
			}
		})
	}
}

func TestInvalidBacking(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Lookup("backing").Value.Set("disk"); err == nil {
		t.Errorf("Set(disk) succeeded")
	}
}

func TestConfigFile(t *testing.T) {
	path := writeConfig(t, "ksim.toml", `
cpus = 4
backing = "memfd"
phys-top = 0x2000000
debug = true
`)
	c, err := NewFromFlags(newFlagSet(t, "--config="+path, "--cpus=2"))
	if err != nil {
		t.Fatal(err)
	}
	// Explicit flags take precedence over the file.
	if want := 2; c.CPUs != want {
		t.Errorf("CPUs=%v, want: %v", c.CPUs, want)
	}
	if want := BackingMemfd; c.Backing != want {
		t.Errorf("Backing=%v, want: %v", c.Backing, want)
	}
	if want := uint64(0x2000000); c.PhysTop != want {
		t.Errorf("PhysTop=%#x, want: %#x", c.PhysTop, want)
	}
	if !c.Debug {
		t.Errorf("Debug=false, want true")
	}
	// Keys missing from the file keep their flag defaults.
	if want := uint64(memlayout.Default().KernBase); c.KernBase != want {
		t.Errorf("KernBase=%#x, want: %#x", c.KernBase, want)
	}
}

func TestYAMLConfigFile(t *testing.T) {
	path := writeConfig(t, "ksim.yaml", `
cpus: 3
backing: memfd
entry-top: 0x200000
`)
	c, err := NewFromFlags(newFlagSet(t, "--config="+path))
	if err != nil {
		t.Fatal(err)
	}
	if want := 3; c.CPUs != want {
		t.Errorf("CPUs=%v, want: %v", c.CPUs, want)
	}
	if want := BackingMemfd; c.Backing != want {
		t.Errorf("Backing=%v, want: %v", c.Backing, want)
	}
	if want := uint64(0x200000); c.EntryTop != want {
		t.Errorf("EntryTop=%#x, want: %#x", c.EntryTop, want)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, test := range []struct {
		name     string
		file     string
		contents string
	}{
		{name: "Unknown key", file: "ksim.toml", contents: "pages = 3\n"},
		{name: "Bad backing", file: "ksim.toml", contents: "backing = \"disk\"\n"},
		{name: "Syntax", file: "ksim.toml", contents: "cpus = \n"},
		{name: "YAML unknown key", file: "ksim.yaml", contents: "pages: 3\n"},
		{name: "YAML bad backing", file: "ksim.yml", contents: "backing: disk\n"},
		{name: "YAML bad type", file: "ksim.yaml", contents: "cpus: many\n"},
	} {
		t.Run(test.name, func(t *testing.T) {
			path := writeConfig(t, test.file, test.contents)
			if _, err := NewFromFlags(newFlagSet(t, "--config="+path)); err == nil {
				t.Errorf("NewFromFlags succeeded with config %q", test.contents)
			}
		})
	}
	if _, err := NewFromFlags(newFlagSet(t, "--config=/nonexistent/ksim.toml")); err == nil {
		t.Errorf("NewFromFlags succeeded with a missing config file")
	}
}

func TestClone(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, "--cpus=5"))
	if err != nil {
		t.Fatal(err)
	}
	clone := c.Clone()
	if diff := cmp.Diff(c, clone); diff != "" {
		t.Errorf("Clone() mismatch (-want +got):\n%s", diff)
	}
	clone.CPUs = 6
	if c.CPUs != 5 {
		t.Errorf("changing the clone changed the original")
	}
}
