package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "github.com/WeiXinbang/FuturesCloudSentinel/config"
	"github.com/WeiXinbang/FuturesCloudSentinel/logger"
	"github.com/WeiXinbang/FuturesCloudSentinel/models"
)

// TriggerRecord is the parquet row layout for archived trigger events.
type TriggerRecord struct {
	AlertID     string  `parquet:"name=alert_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	OrderID     string  `parquet:"name=order_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account     string  `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol      string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind        string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Reason      string  `parquet:"name=reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price       float64 `parquet:"name=price, type=DOUBLE"`
	TriggeredAt int64   `parquet:"name=triggered_at, type=INT64"`
}

// Archiver drains the trigger channel into an in-memory buffer and flushes
// it to S3 as parquet batches on an interval.
type Archiver struct {
	config   *appconfig.Config
	triggers <-chan models.TriggerEvent
	s3Client *s3.Client
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	buffer      []models.TriggerEvent
	flushTicker *time.Ticker
}

func NewArchiver(cfg *appconfig.Config, triggers <-chan models.TriggerEvent) (*Archiver, error) {
	log := logger.GetLogger()

	ctx := context.Background()

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("archive").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	log.WithComponent("archive").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("trigger archiver initialized")

	return &Archiver{
		config:   cfg,
		triggers: triggers,
		s3Client: s3Client,
		wg:       &sync.WaitGroup{},
		log:      log,
	}, nil
}

func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("archiver already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	log := a.log.WithComponent("archive").WithFields(logger.Fields{"operation": "Start"})
	log.Info("starting trigger archiver")

	a.buffer = make([]models.TriggerEvent, 0, a.config.Archive.Buffer)
	a.flushTicker = time.NewTicker(a.config.Archive.FlushInterval)

	a.wg.Add(2)
	go a.collectWorker()
	go a.flushWorker()

	log.Info("trigger archiver started successfully")
	return nil
}

func (a *Archiver) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	if a.flushTicker != nil {
		a.flushTicker.Stop()
	}

	a.log.WithComponent("archive").Info("stopping trigger archiver")
	a.wg.Wait()
	a.log.WithComponent("archive").Info("trigger archiver stopped")
}

func (a *Archiver) collectWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("archive").WithFields(logger.Fields{"worker": "collect"})

	for {
		select {
		case <-a.ctx.Done():
			log.Info("collect worker stopped due to context cancellation")
			return
		case evt, ok := <-a.triggers:
			if !ok {
				log.Info("trigger channel closed, collect worker stopping")
				return
			}
			a.mu.Lock()
			a.buffer = append(a.buffer, evt)
			a.mu.Unlock()
		}
	}
}

func (a *Archiver) flushWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("archive").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-a.ctx.Done():
			a.flush("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-a.flushTicker.C:
			a.flush("interval")
		}
	}
}

func (a *Archiver) flush(reason string) {
	a.mu.Lock()
	events := a.buffer
	a.buffer = make([]models.TriggerEvent, 0, a.config.Archive.Buffer)
	a.mu.Unlock()

	if len(events) == 0 {
		return
	}

	batchID := uuid.New().String()
	log := a.log.WithComponent("archive").WithFields(logger.Fields{
		"batch_id":     batchID,
		"record_count": len(events),
		"reason":       reason,
	})
	log.Info("flushing trigger batch")

	data, err := BuildParquet(events, a.config.Archive.Compression)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	key := a.batchKey(batchID, time.Now())
	if err := a.upload(key, data); err != nil {
		log.WithError(err).
			WithFields(logger.Fields{"bucket": a.config.Storage.S3.Bucket, "s3_key": key}).
			Error("failed to upload trigger batch")
		return
	}

	log.WithFields(logger.Fields{"s3_key": key, "file_size": len(data)}).Info("trigger batch archived")
}

func (a *Archiver) batchKey(batchID string, ts time.Time) string {
	return path.Join(
		a.config.Storage.S3.Prefix,
		fmt.Sprintf("date=%s", ts.UTC().Format("2006-01-02")),
		fmt.Sprintf("triggers_%s_%s.parquet", ts.UTC().Format("20060102150405"), batchID),
	)
}

// BuildParquet renders trigger events into a parquet file in memory.
func BuildParquet(events []models.TriggerEvent, compression string) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(TriggerRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, evt := range events {
		record := TriggerRecord{
			AlertID:     evt.AlertID,
			OrderID:     evt.OrderID,
			Account:     evt.Account,
			Symbol:      evt.Symbol,
			Kind:        evt.Kind,
			Reason:      evt.Reason,
			Price:       evt.Price,
			TriggeredAt: evt.TriggeredAt.UnixMilli(),
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func (a *Archiver) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":     "parquet",
			"compression":      a.config.Archive.Compression,
			"sentinel-version": a.config.Sentinel.Version,
		},
	}

	ctx := context.WithoutCancel(a.ctx)
	if _, err := a.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", a.config.Storage.S3.Bucket, err)
	}
	return nil
}
