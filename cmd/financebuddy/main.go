// Copyright 2025 FinanceBuddy Authors
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

// Command financebuddy is the FinanceBuddy tutoring backend CLI.
//
// Usage:
//
//	financebuddy serve --config config.yaml --corpus ./material
//	financebuddy ingest ./material
//	financebuddy export <session-id> --randomize --seed 42
//	financebuddy version
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/financebuddy/financebuddy/pkg/config"
	"github.com/financebuddy/financebuddy/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP API server."`
	Ingest  IngestCmd  `cmd:"" help:"Index study material into the corpus."`
	Export  ExportCmd  `cmd:"" help:"Export a session's quiz from a running server."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error). Overrides LOG_LEVEL."`
	LogFormat string `help:"Log format (text or json). Overrides LOG_FORMAT."`
}

// loadConfig builds the runtime configuration and installs the logger.
// CLI flags beat env vars, which beat the config file.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.LogFormat = c.LogFormat
	}
	logger.Setup(logger.ParseLevel(cfg.LogLevel), logger.Format(cfg.LogFormat))
	return cfg, nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("financebuddy version %s\n", buildVersion())
	return nil
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

func main() {
	// .env values must land before config.Load reads the environment.
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("financebuddy"),
		kong.Description("Retrieval-grounded quiz tutor for securities exam preparation."),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
