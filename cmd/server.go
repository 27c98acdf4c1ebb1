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
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	veriflow "github.com/veriflow-hq/veriflow-go"
	"github.com/veriflow-hq/veriflow-go/api"
	redis_db "github.com/veriflow-hq/veriflow-go/internal/redis-db"
	"github.com/veriflow-hq/veriflow-go/internal/store"
)

// serverCommands runs the webhook receiver and its queue worker in one
// process: the receiver authenticates and enqueues deliveries, the worker
// folds them into the session status store.
func serverCommands(v *veriflowInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the webhook receiver and delivery worker",
		Run: func(cmd *cobra.Command, args []string) {
			conf := v.cnf

			sessionStore, err := store.NewStore(conf.Redis.Dns)
			if err != nil {
				logrus.WithError(err).Fatal("failed to connect session store")
			}
			queue, err := veriflow.NewQueue(conf)
			if err != nil {
				logrus.WithError(err).Fatal("failed to connect webhook queue")
			}

			receiver := api.NewAPI(sessionStore, queue)
			if receiver == nil {
				logrus.Fatal("failed to build webhook receiver")
			}

			server := &http.Server{
				Addr:    ":" + conf.Server.Port,
				Handler: receiver.Router(),
			}
			go func() {
				logrus.WithField("port", conf.Server.Port).Info("Starting webhook receiver")
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logrus.WithError(err).Fatal("webhook receiver stopped")
				}
			}()

			worker := newWorkerServer(v, sessionStore)
			defer worker.Shutdown()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			logrus.Info("Shutting down webhook receiver")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logrus.WithError(err).Error("forced shutdown of webhook receiver")
			}
		},
	}
	return cmd
}

// newWorkerServer starts the asynq worker that applies queued deliveries.
func newWorkerServer(v *veriflowInstance, sessionStore *store.Store) *asynq.Server {
	conf := v.cnf
	redisConn, err := redis_db.NewRedisClient(conf.Redis.Dns, false)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect redis for worker")
	}

	worker := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: conf.Queue.NumberOfQueues,
		Queues:      map[string]int{conf.Queue.WebhookQueue: 1},
	})

	processor := veriflow.NewWebhookProcessor(sessionStore)
	mux := asynq.NewServeMux()
	mux.HandleFunc(conf.Queue.WebhookQueue, processor.ProcessWebhookTask)

	if err := worker.Start(mux); err != nil {
		logrus.WithError(err).Fatal("failed to start webhook worker")
	}
	logrus.WithField("queue", conf.Queue.WebhookQueue).Info("Webhook worker started")
	return worker
}
