package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml"
	yaml "gopkg.in/yaml.v3"

	"github.com/B83C/rmk/internal/config"
	"github.com/B83C/rmk/internal/configpaths"
)

// ConfigCommand scaffolds a starter board.{json,yaml,toml} by reflecting
// over config.BoardProfile's fields and tags, the same
// reflection-over-tagged-struct generator internal/cmd/config.go's
// ConfigInit.Run uses, narrowed to rmkctl's one configuration shape.
type ConfigCommand struct {
	Format string `help:"Output format." enum:"json,yaml,toml" default:"json"`
	Output string `help:"Destination file path (defaults to board.<format> in the current directory)."`
	Force  bool   `help:"Overwrite if the destination already exists."`
}

func (c *ConfigCommand) Run() error {
	format := normalizeFormat(c.Format)
	if format == "" {
		return fmt.Errorf("rmkctl: unsupported format %q", c.Format)
	}

	root := buildMapFromStruct(reflect.TypeOf(config.BoardProfile{}))

	dest := c.Output
	if dest == "" {
		dest = "board." + format
	}
	if !c.Force {
		if _, err := os.Stat(dest); err == nil {
			return errors.New("rmkctl: destination exists; use --force to overwrite")
		}
	}
	if err := configpaths.EnsureDir(dest); err != nil {
		return err
	}

	var data []byte
	var err error
	switch format {
	case "json":
		data, err = json.MarshalIndent(root, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(root)
	case "toml":
		data, err = toml.Marshal(root)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func normalizeFormat(f string) string {
	switch strings.ToLower(f) {
	case "json":
		return "json"
	case "yaml", "yml":
		return "yaml"
	case "toml":
		return "toml"
	default:
		return ""
	}
}

func lowerCamel(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'A' && r[0] <= 'Z' {
		r[0] += 'a' - 'A'
	}
	return string(r)
}

func buildMapFromStruct(t reflect.Type) map[string]any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	out := map[string]any{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := lowerCamel(f.Name)
		def := f.Tag.Get("default")
		if val := defaultValueForField(f.Type, def); val != nil {
			out[key] = val
		}
	}
	return out
}

func defaultValueForField(t reflect.Type, def string) any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return def
	case reflect.Bool:
		b, _ := strconv.ParseBool(def)
		return b
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, _ := strconv.ParseInt(def, 10, 64)
		return n
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, _ := strconv.ParseUint(def, 10, 64)
		return n
	case reflect.Struct:
		return buildMapFromStruct(t)
	case reflect.Slice:
		elem := t.Elem()
		if elem.Kind() == reflect.Struct {
			return []any{buildMapFromStruct(elem)}
		}
		return []any{}
	default:
		return nil
	}
}
