package models

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	DriverPostgres = "postgres"
	DriverDynamo   = "dynamodb"
	DriverLogging  = "logging"
)

type Config struct {
	ServerAddr  string            `yaml:"server_addr"`
	Queue       QueueConfig       `yaml:"queue"`
	Storage     StorageConfig     `yaml:"storage"`
	Auth        AuthConfig        `yaml:"auth"`
	Imgur       ImgurConfig       `yaml:"imgur"`
	Gfycat      GfycatConfig      `yaml:"gfycat"`
	Reddit      RedditConfig      `yaml:"reddit"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Worker      WorkerConfig      `yaml:"worker"`
	Log         LogConfig         `yaml:"log"`
}

type QueueConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type StorageConfig struct {
	ImageBucket    string `yaml:"image_bucket"`
	ThumbBucket    string `yaml:"thumb_bucket"`
	ThumbnailSize  int    `yaml:"thumbnail_size"`
	Endpoint       string `yaml:"endpoint"`
	StoreOriginals *bool  `yaml:"store_originals"`
}

// KeepOriginals reports whether original bytes are uploaded. Defaults to true.
func (s StorageConfig) KeepOriginals() bool {
	return s.StoreOriginals == nil || *s.StoreOriginals
}

type AuthConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	Region          string `yaml:"region"`
}

type ImgurConfig struct {
	ClientID   string `yaml:"client_id"`
	MashapeKey string `yaml:"mashape_key"`
	BaseURL    string `yaml:"base_url"`
}

type GfycatConfig struct {
	BaseURL string `yaml:"base_url"`
}

type RedditConfig struct {
	AgentName    string `yaml:"agent_name"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Query        string `yaml:"query"` // top_all, top_day, hot
	PostLimit    int    `yaml:"post_limit"`
}

type PersistenceConfig struct {
	Driver         string `yaml:"driver"`
	DatabaseURL    string `yaml:"database_url"`
	Schema         string `yaml:"schema"`
	DynamoEndpoint string `yaml:"dynamo_endpoint"`
	SubredditTable string `yaml:"subreddit_table"`
	PostTable      string `yaml:"post_table"`
	ImageTable     string `yaml:"image_table"`
}

type FetchConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type WorkerConfig struct {
	Count           int           `yaml:"count"`
	MessageDeadline time.Duration `yaml:"message_deadline"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads the YAML file at path, applies environment overrides
// (a .env next to the process is honoured) and fills defaults.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

// ParseConfig decodes raw YAML, then applies env overrides and defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setenv(&c.Auth.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setenv(&c.Auth.AccessKeySecret, "AWS_SECRET_ACCESS_KEY")
	setenv(&c.Auth.Region, "AWS_REGION")
	setenv(&c.Imgur.ClientID, "IMGUR_CLIENT_ID")
	setenv(&c.Imgur.MashapeKey, "IMGUR_MASHAPE_KEY")
	setenv(&c.Reddit.ClientID, "REDDIT_CLIENT_ID")
	setenv(&c.Reddit.ClientSecret, "REDDIT_CLIENT_SECRET")
	setenv(&c.Reddit.Username, "REDDIT_USERNAME")
	setenv(&c.Reddit.Password, "REDDIT_PASSWORD")
	setenv(&c.Persistence.DatabaseURL, "DATABASE_URL")
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Worker.Count = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.Queue.GroupID == "" {
		c.Queue.GroupID = "tweench-archiver"
	}
	if c.Storage.ThumbnailSize <= 0 {
		c.Storage.ThumbnailSize = 300
	}
	if c.Auth.Region == "" {
		c.Auth.Region = "us-east-1"
	}
	if c.Imgur.BaseURL == "" {
		if c.Imgur.MashapeKey != "" {
			c.Imgur.BaseURL = "https://imgur-apiv3.p.mashape.com/3"
		} else {
			c.Imgur.BaseURL = "https://api.imgur.com/3"
		}
	}
	if c.Gfycat.BaseURL == "" {
		c.Gfycat.BaseURL = "https://api.gfycat.com/v1"
	}
	if c.Reddit.Query == "" {
		c.Reddit.Query = "top_all"
	}
	if c.Reddit.PostLimit <= 0 {
		c.Reddit.PostLimit = 10
	}
	if c.Persistence.Driver == "" {
		c.Persistence.Driver = DriverLogging
	}
	if c.Persistence.SubredditTable == "" {
		c.Persistence.SubredditTable = "subreddits"
	}
	if c.Persistence.PostTable == "" {
		c.Persistence.PostTable = "posts"
	}
	if c.Persistence.ImageTable == "" {
		c.Persistence.ImageTable = "images"
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Worker.Count <= 0 {
		c.Worker.Count = 1
	}
	if c.Worker.MessageDeadline <= 0 {
		c.Worker.MessageDeadline = 5 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Storage.ImageBucket == "" {
		errs = append(errs, errors.New("storage.image_bucket is required"))
	}
	if c.Storage.ThumbBucket == "" {
		errs = append(errs, errors.New("storage.thumb_bucket is required"))
	}
	switch c.Persistence.Driver {
	case DriverPostgres:
		if c.Persistence.DatabaseURL == "" {
			errs = append(errs, errors.New("persistence.database_url is required for postgres"))
		}
	case DriverDynamo, DriverLogging:
	default:
		errs = append(errs, fmt.Errorf("unknown persistence.driver %q", c.Persistence.Driver))
	}
	switch c.Reddit.Query {
	case "top_all", "top_day", "hot":
	default:
		errs = append(errs, fmt.Errorf("unknown reddit.query %q", c.Reddit.Query))
	}
	return errors.Join(errs...)
}

func setenv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
