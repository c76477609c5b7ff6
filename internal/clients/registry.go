// Package clients owns the long-lived external clients and wires them into
// the pipeline and archiver. It is built once in main and passed down.
package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tweench/internal/archiver"
	"tweench/internal/blob"
	"tweench/internal/classifier"
	"tweench/internal/collector"
	"tweench/internal/fetcher"
	"tweench/internal/gate"
	"tweench/internal/hosts"
	"tweench/internal/ingest"
	"tweench/internal/media"
	"tweench/internal/models"
	"tweench/internal/queue"
	"tweench/internal/storage"
)

const userAgent = "tweench/1.0 (media archiver)"

type Registry struct {
	cfg *models.Config
	log *slog.Logger

	aws     aws.Config
	blobs   blob.Store
	http    *http.Client
	fetcher *fetcher.Fetcher
	imgur   *hosts.ImgurClient
	gfycat  *hosts.GfycatClient

	mu       sync.Mutex
	store    storage.Store
	reddit   *collector.RedditClient
	producer *queue.Producer
	closers  []func() error
}

type Option func(*Registry)

// WithBlobStore replaces the S3 blob store, e.g. with an in-memory one.
func WithBlobStore(s blob.Store) Option {
	return func(r *Registry) { r.blobs = s }
}

// WithStore replaces the configured metadata store.
func WithStore(s storage.Store) Option {
	return func(r *Registry) { r.store = s }
}

func New(ctx context.Context, cfg *models.Config, log *slog.Logger, opts ...Option) (*Registry, error) {
	const op = "clients.New"

	r := &Registry{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(r)
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Auth.Region)}
	if cfg.Auth.AccessKeyID != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Auth.AccessKeyID, cfg.Auth.AccessKeySecret, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	r.aws = awsCfg

	if r.blobs == nil {
		r.blobs = blob.NewS3Store(s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Storage.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
				o.UsePathStyle = true
			}
		}))
	}

	transport := fetcher.NewHTTPTransport(cfg.Fetch.Timeout, userAgent)
	r.http = transport.Client
	r.fetcher = fetcher.New(transport, log)
	r.imgur = hosts.NewImgurClient(cfg.Imgur.BaseURL, cfg.Imgur.ClientID, cfg.Imgur.MashapeKey,
		hosts.WithImgurHTTPClient(r.http))
	r.gfycat = hosts.NewGfycatClient(cfg.Gfycat.BaseURL, r.http)

	return r, nil
}

func (r *Registry) Blobs() blob.Store { return r.blobs }

func (r *Registry) Buckets() media.Buckets {
	return media.Buckets{Images: r.cfg.Storage.ImageBucket, Thumbs: r.cfg.Storage.ThumbBucket}
}

func (r *Registry) Classifier() *classifier.Classifier {
	return classifier.New(r.imgur, r.gfycat, r.log)
}

// Store opens the configured metadata store on first use.
func (r *Registry) Store(ctx context.Context) (storage.Store, error) {
	const op = "clients.Store"

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		return r.store, nil
	}

	p := r.cfg.Persistence
	tables := storage.TablesFromConfig(p)
	switch p.Driver {
	case models.DriverPostgres:
		pg, err := storage.NewPostgres(ctx, p.DatabaseURL, tables, r.log)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		r.store = pg
	case models.DriverDynamo:
		client := dynamodb.NewFromConfig(r.aws, func(o *dynamodb.Options) {
			if p.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(p.DynamoEndpoint)
			}
		})
		ddb := storage.NewDynamo(client, tables, r.log)
		if err := ddb.EnsureTables(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		r.store = ddb
	case models.DriverLogging:
		r.store = storage.NewLogging(r.log)
	default:
		return nil, fmt.Errorf("%s: unknown driver %q", op, p.Driver)
	}
	r.closers = append(r.closers, func() error { r.store.Close(); return nil })
	return r.store, nil
}

func (r *Registry) Reddit() (*collector.RedditClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reddit != nil {
		return r.reddit, nil
	}
	rc := r.cfg.Reddit
	agent := rc.AgentName
	if agent == "" {
		agent = userAgent
	}
	client, err := collector.NewClient(collector.Credentials{
		ID:       rc.ClientID,
		Secret:   rc.ClientSecret,
		Username: rc.Username,
		Password: rc.Password,
	}, agent)
	if err != nil {
		return nil, err
	}
	r.reddit = client
	return client, nil
}

func (r *Registry) Producer() *queue.Producer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.producer == nil {
		r.producer = queue.NewProducer(queue.NewKafkaWriter(r.cfg.Queue.Brokers, r.cfg.Queue.Topic))
		r.closers = append(r.closers, r.producer.Close)
	}
	return r.producer
}

func (r *Registry) Consumer() *queue.Consumer {
	reader := queue.NewKafkaReader(r.cfg.Queue.Brokers, r.cfg.Queue.Topic, r.cfg.Queue.GroupID)
	r.mu.Lock()
	r.closers = append(r.closers, reader.Close)
	r.mu.Unlock()
	return queue.NewConsumer(reader, r.cfg.Worker.Count, r.cfg.Worker.MessageDeadline, r.log)
}

// Pipeline wires the ingestion pipeline against the given metadata store.
func (r *Registry) Pipeline(records gate.RecordStore) *ingest.Pipeline {
	kind := media.KindOriginal
	gateBucket := r.cfg.Storage.ImageBucket
	if !r.cfg.Storage.KeepOriginals() {
		kind = media.KindThumbnailOnly
		gateBucket = r.cfg.Storage.ThumbBucket
	}
	return ingest.New(
		r.Classifier(),
		r.fetcher,
		gate.New(r.blobs, records, gateBucket, r.log),
		r.blobs,
		ingest.Config{
			Buckets:       r.Buckets(),
			ThumbnailSize: r.cfg.Storage.ThumbnailSize,
			MediaKind:     kind,
		},
		r.log,
	)
}

func (r *Registry) Archiver(ctx context.Context) (*archiver.Archiver, error) {
	store, err := r.Store(ctx)
	if err != nil {
		return nil, err
	}
	reddit, err := r.Reddit()
	if err != nil {
		return nil, err
	}
	return archiver.New(reddit, store, r.Producer(), r.Pipeline(store), archiver.Options{
		Query:     r.cfg.Reddit.Query,
		PostLimit: r.cfg.Reddit.PostLimit,
	}, r.log), nil
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
