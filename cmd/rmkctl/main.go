// Command rmkctl runs and administers a simulated rmk keyboard: it has
// no real matrix GPIO or BLE radio to drive, so Serve substitutes a
// stdin-line key source and a logging HID sink for the hardware VIIPER's
// equivalent command would talk to, while still exercising the full
// keymap/storage/via stack against a real flash-backed file.
package main

import (
	"os"
	"strings"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/B83C/rmk/internal/configpaths"
	"github.com/B83C/rmk/internal/log"
)

// LogConfig groups the logging flags every subcommand shares, the same
// grouping cmd/viiper/viiper.go's cli.Log carries.
type LogConfig struct {
	Level string `help:"Log level (trace, debug, info, warn, error)." default:"info" env:"RMK_LOG_LEVEL"`
	File  string `help:"Also write logs to this file; console logs then all go to stderr." default:""`
}

// CLI is the kong root: one command group per rmkctl verb.
type CLI struct {
	Config string    `help:"Path to a board.{json,yaml,toml} configuration file." env:"RMK_CONFIG"`
	Log    LogConfig `embed:"" prefix:"log."`

	Serve     ServeCommand  `cmd:"" help:"Run a simulated board, serving VIA over TCP."`
	Keymap    KeymapCommand `cmd:"" help:"Interactively edit a running board's keymap over VIA."`
	ConfigCmd ConfigCommand `cmd:"" name:"config" help:"Write a starter board configuration file."`
}

func main() {
	userCfg := findUserConfig(os.Args[1:])
	jsonPaths, yamlPaths, tomlPaths := configpaths.ConfigCandidatePaths(userCfg)

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("rmkctl"),
		kong.Description("Control plane for a simulated rmk keyboard."),
		kong.UsageOnError(),
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)

	logger, closeFiles, err := log.SetupLogger(cli.Log.Level, cli.Log.File)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() {
		for _, c := range closeFiles {
			_ = c.Close()
		}
	}()

	ctx.Bind(logger)
	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}

func findUserConfig(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--config=") {
			return a[len("--config="):]
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	if v := os.Getenv("RMK_CONFIG"); v != "" {
		return v
	}
	return ""
}
