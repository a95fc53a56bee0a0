package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"github.com/Abhiram-108/minitrello/storage"
)

func main() {
	seed := flag.Bool("seed", false, "write a demo board after creating storage")
	flag.Parse()

	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")
	ctx := context.Background()

	cfg := storage.ConfigFromEnv()
	if cfg.Backend == storage.BackendAzure {
		if cfg.ConnectionString == "" {
			log.Fatal("missing STORAGE_CONNECTION_STRING")
		}
		if err := createTables(ctx, cfg.ConnectionString, cfg.Tables.All()); err != nil {
			log.Fatalf("create tables: %v", err)
		}
		if err := createQueues(ctx, cfg.ConnectionString, []string{cfg.ActivityQueue}); err != nil {
			log.Fatalf("create queues: %v", err)
		}
	}
	// Opening the SQLite backend creates its schema.
	store, closeStore, err := storage.Open(cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()

	if *seed {
		if err := seedDemo(ctx, store); err != nil {
			log.Fatalf("seed: %v", err)
		}
		log.WithField("board", demoBoardID).Info("demo board written")
	}
	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, storage.TableClientOptions())
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		c := svc.NewClient(name)
		_, err := c.CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, storage.QueueClientOptions())
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
		log.WithField("queue", name).Debug("queue ready")
	}
	return nil
}
