/*
Copyright 2025 Veriflow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/veriflow-hq/veriflow-go/config"
)

// Veriflow represents the CLI application, encapsulating the root Cobra command.
type Veriflow struct {
	cmd *cobra.Command
}

// veriflowInstance holds the loaded configuration shared by all subcommands.
type veriflowInstance struct {
	cnf *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration before any subcommand executes.
func preRun(app *veriflowInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			return err
		}
		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf
		return nil
	}
}

// NewCLI creates the command-line interface for the Veriflow tooling.
// It sets up the root command and the server and watch subcommands.
func NewCLI() *Veriflow {
	var configFile string
	v := &veriflowInstance{}

	var rootCmd = &cobra.Command{
		Use:   "veriflow",
		Short: "Verification session tooling: status watcher and webhook receiver",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./veriflow.json", "Configuration file for the veriflow tooling")
	rootCmd.PersistentPreRunE = preRun(v, &configFile)

	rootCmd.AddCommand(serverCommands(v))
	rootCmd.AddCommand(watchCommands(v))

	return &Veriflow{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (v Veriflow) executeCLI() {
	if err := v.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
