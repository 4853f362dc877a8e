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

// Package config provides basic infrastructure to set configuration settings
// for ksim. The configuration is set by flags to the command line, and may be
// seeded from a TOML or YAML file named by --config.
package config

import (
	"fmt"
	"reflect"

	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"
	"kmem.dev/kmem/pkg/hostarch"
	"kmem.dev/kmem/pkg/log"
	"kmem.dev/kmem/pkg/memlayout"
)

// Config holds configuration that is not part of the machine being booted.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name, and toml and yaml tags with the key
//     used in configuration files.
//  3. Register a new flag in flags.go, with name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// KernBase is the kernel-virtual address of physical address 0.
	KernBase uint64 `flag:"kern-base" toml:"kern-base" yaml:"kern-base"`

	// KernelEnd is the first kernel-virtual address past the kernel image.
	KernelEnd uint64 `flag:"kernel-end" toml:"kernel-end" yaml:"kernel-end"`

	// PhysTop is the exclusive top of physical memory.
	PhysTop uint64 `flag:"phys-top" toml:"phys-top" yaml:"phys-top"`

	// EntryTop is the physical end of the bootstrap mapping.
	EntryTop uint64 `flag:"entry-top" toml:"entry-top" yaml:"entry-top"`

	// Backing selects the memory that backs simulated RAM.
	Backing Backing `flag:"backing" toml:"backing" yaml:"backing"`

	// CPUs is the number of simulated CPUs.
	CPUs int `flag:"cpus" toml:"cpus" yaml:"cpus"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug" yaml:"debug"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format" toml:"debug-log-format" yaml:"debug-log-format"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log-file" toml:"log-file" yaml:"log-file"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr" yaml:"alsologtostderr"`
}

func (c *Config) validate() error {
	if c.CPUs < 1 {
		return fmt.Errorf("--cpus must be at least 1, got %d", c.CPUs)
	}
	switch c.DebugLogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.DebugLogFormat)
	}
	l := c.Layout()
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid memory layout: %w", err)
	}
	return nil
}

// Layout returns the memory layout described by the configuration.
func (c *Config) Layout() memlayout.Layout {
	return memlayout.Layout{
		KernBase:  hostarch.Addr(c.KernBase),
		KernelEnd: hostarch.Addr(c.KernelEnd),
		PhysTop:   memlayout.PhysAddr(c.PhysTop),
		EntryTop:  memlayout.PhysAddr(c.EntryTop),
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("  %s (--%s): %s", f.Name, name, getVal(obj.Field(i)))
	}
}

// Backing is the kind of memory that backs simulated RAM.
type Backing int

const (
	// BackingHeap uses a Go byte slice.
	BackingHeap Backing = iota

	// BackingMemfd uses a shared mapping of an anonymous memory file.
	BackingMemfd
)

func backingPtr(v Backing) *Backing {
	return &v
}

// Set implements flag.Value. Set(String()) should be idempotent.
func (b *Backing) Set(v string) error {
	switch v {
	case "heap":
		*b = BackingHeap
	case "memfd":
		*b = BackingMemfd
	default:
		return fmt.Errorf("invalid backing %q, must be 'heap' or 'memfd'", v)
	}
	return nil
}

// Get implements flag.Value.
func (b *Backing) Get() any {
	return *b
}

// String implements flag.Value.
func (b Backing) String() string {
	switch b {
	case BackingHeap:
		return "heap"
	case BackingMemfd:
		return "memfd"
	}
	panic(fmt.Sprintf("Invalid backing %d", int(b)))
}

// UnmarshalText implements encoding.TextUnmarshaler, for TOML files.
func (b *Backing) UnmarshalText(text []byte) error {
	return b.Set(string(text))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *Backing) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return b.Set(s)
}
