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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"kmem.dev/kmem/ksim/flag"
	"kmem.dev/kmem/pkg/memlayout"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	def := memlayout.Default()

	flagSet.String("config", "", "TOML or YAML file with default values for the other flags. Flags set on the command line take precedence.")

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log-format", "text", "log format: text (default) or json.")
	flagSet.String("log-file", "", "file path where log messages are appended.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr as well as --log-file.")

	// Flags that describe the simulated machine.
	flagSet.Uint64("kern-base", uint64(def.KernBase), "kernel-virtual address at which physical memory is mapped.")
	flagSet.Uint64("kernel-end", uint64(def.KernelEnd), "first kernel-virtual address past the kernel image.")
	flagSet.Uint64("phys-top", uint64(def.PhysTop), "exclusive top of physical memory.")
	flagSet.Uint64("entry-top", uint64(def.EntryTop), "physical end of the memory mapped by the bootstrap page table.")
	flagSet.Var(backingPtr(BackingHeap), "backing", "memory backing simulated RAM: heap (default) or memfd.")
	flagSet.Int("cpus", 1, "number of simulated CPUs.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags, on top of the file named by --config if it is set.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	if err := conf.setFromFlags(flagSet, func(name string) bool { return true }); err != nil {
		return nil, err
	}

	if path := flag.Get(flagSet.Lookup("config").Value).(string); path != "" {
		if err := conf.decodeFile(path); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}

		// Explicit flags win over the file.
		set := make(map[string]bool)
		flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if err := conf.setFromFlags(flagSet, func(name string) bool { return set[name] }); err != nil {
			return nil, err
		}
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// decodeFile overwrites the fields named in the file at path. Files ending in
// .yaml or .yml are YAML; anything else is TOML.
func (c *Config) decodeFile(path string) error {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && err != io.EOF {
			return err
		}
		return nil
	default:
		md, err := toml.DecodeFile(path, c)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown keys %v", undecoded)
		}
		return nil
	}
}

// setFromFlags copies the value of every flag selected by include into the
// field tagged with its name.
func (c *Config) setFromFlags(flagSet *flag.FlagSet, include func(name string) bool) error {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		if !include(name) {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			return fmt.Errorf("flag %q not found", name)
		}
		obj.Field(i).Set(reflect.ValueOf(flag.Get(fl.Value)))
	}
	return nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		flag := flagSet.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == flag.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", flag.Name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
