package extraction

import (
	"context"
	"fmt"
	"os"

	"github.com/wzhao556/docflow/config"
	"github.com/wzhao556/docflow/internal/batch"
	"github.com/wzhao556/docflow/internal/convert"
	"github.com/wzhao556/docflow/internal/filestore"
	"github.com/wzhao556/docflow/internal/inference"
	"github.com/wzhao556/docflow/internal/job"
	"github.com/wzhao556/docflow/internal/pipeline"
	"github.com/wzhao556/docflow/internal/webhook"
	"github.com/wzhao556/docflow/pkg/logger"
	"github.com/wzhao556/docflow/pkg/queue"
	"github.com/wzhao556/docflow/pkg/storage"
)

// GetService assembles the full pipeline from configuration. The returned
// cleanup stops the file store's background sweep.
func GetService(log logger.Logger) (Service, func(), error) {
	pcfg := config.GetPipelineConfig()

	storageType := storage.Type(os.Getenv("STORAGE_TYPE"))
	if storageType == "" {
		storageType = storage.TypeLocal
	}
	backend, err := storage.NewStorage(storageType, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	files := filestore.NewStore(backend, log, &filestore.Config{
		Retention:     pcfg.FileRetention,
		SweepInterval: pcfg.SweepInterval,
	})
	files.Start()

	registry, err := convert.DefaultRegistry(context.Background(), log)
	if err != nil {
		files.Stop()
		return nil, nil, fmt.Errorf("failed to initialize converters: %w", err)
	}

	pool := convert.NewPool(registry, files, log, &convert.PoolConfig{
		Workers:     pcfg.ConvertWorkers,
		QueueSize:   pcfg.ConvertQueueSize,
		FileTimeout: pcfg.ConvertTimeout,
	})

	tracker := job.NewTracker(job.NewRedisStoreFromConfig(pcfg.JobRetention), log)
	dispatcher := webhook.NewDispatcher(log, nil)

	pipe := pipeline.New(files, pool, inference.NewClient(log), tracker, dispatcher, log, batch.Config{
		MinSize:       pcfg.MinBatchSize,
		MaxSize:       pcfg.MaxBatchSize,
		InitialSize:   pcfg.InitialBatchSize,
		MaxWait:       pcfg.MaxBatchWait,
		TargetLatency: pcfg.TargetBatchLatency,
		MaxInFlight:   int64(pcfg.MaxInFlightBatches),
		BatchTimeout:  pcfg.BatchTimeout,
	})

	svc := NewService(files, tracker, pipe, queue.NewAsynqQueue(nil), dispatcher, log, &ServiceConfig{
		MaxFileSize:  pcfg.MaxFileSize,
		AllowedTypes: pcfg.AllowedTypes,
	})

	return svc, files.Stop, nil
}
