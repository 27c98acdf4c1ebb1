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
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	veriflow "github.com/veriflow-hq/veriflow-go"
	"github.com/veriflow-hq/veriflow-go/model"
)

// watchCommands subscribes to one session's status stream and prints every
// event until a terminal status arrives or the user interrupts.
func watchCommands(v *veriflowInstance) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Follow a verification session until it reaches a terminal status",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sessionID := args[0]
			if token == "" {
				logrus.Fatal("a session-scoped client token is required (--token)")
			}

			client := veriflow.NewClientFromConfig(v.cnf)
			done := make(chan struct{})

			sub, err := client.SubscribeStatus(sessionID, token, veriflow.SubscribeOptions{
				OnEvent: func(event model.StatusEvent) {
					logrus.WithFields(logrus.Fields{
						"session_id": sessionID,
						"kind":       event.Kind,
						"status":     event.Status,
					}).Info("status event")
					if event.Status.IsTerminal() {
						close(done)
					}
				},
				OnError: func(err error) {
					logrus.WithError(err).Error("subscription failed")
					close(done)
				},
			})
			if err != nil {
				logrus.WithError(err).Fatal("failed to subscribe")
			}
			defer sub.Stop()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-done:
			case <-quit:
				logrus.Info("interrupted, stopping subscription")
			}
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Short-lived bearer token scoped to the session")
	return cmd
}
