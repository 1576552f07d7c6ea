package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"media-transcription/constant"
)

func validPipeline() Pipeline {
	return Pipeline{
		MaxRetries:              3,
		BatchChunkSize:          5,
		BatchParallelism:        1,
		BatchScheduleExpression: "0 */5 * * * *",
		ChunkRetryLimit:         3,
		ChunkSkipLimit:          10,
		ClaimStaleAfter:         30 * time.Minute,
		ProcessingTimeout:       10 * time.Minute,
	}
}

func TestReadViperDefaults(t *testing.T) {
	v, err := readViper(t.TempDir())
	if err != nil {
		t.Fatalf("readViper: %v", err)
	}
	cfg := fromViper(v)

	if cfg.Pipeline.MaxRetries != 3 {
		t.Fatalf("MaxRetries = %d, want 3", cfg.Pipeline.MaxRetries)
	}
	if cfg.Pipeline.BatchChunkSize != 5 {
		t.Fatalf("BatchChunkSize = %d, want 5", cfg.Pipeline.BatchChunkSize)
	}
	if cfg.Pipeline.ProcessingTimeout != 10*time.Minute {
		t.Fatalf("ProcessingTimeout = %s, want 10m", cfg.Pipeline.ProcessingTimeout)
	}
	if cfg.EventBus.Driver != constant.EventBusKafka {
		t.Fatalf("Driver = %s, want kafka", cfg.EventBus.Driver)
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestSectionTagsMatchKeys(t *testing.T) {
	v, err := readViper(t.TempDir())
	if err != nil {
		t.Fatalf("readViper: %v", err)
	}

	sections := map[string]any{
		"server":    Server{},
		"kafka":     Kafka{},
		"event_bus": EventBus{},
		"pipeline":  Pipeline{},
	}
	for section, value := range sections {
		typ := reflect.TypeOf(value)
		for i := 0; i < typ.NumField(); i++ {
			key := section + "." + typ.Field(i).Tag.Get("yaml")
			if !v.IsSet(key) {
				t.Errorf("%s.%s: tag names %q, which the loader never reads", typ.Name(), typ.Field(i).Name, key)
			}
		}
	}
}

func TestReadViperFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
app:
  environment: production
server:
  port: "9090"
event_bus:
  driver: rabbitmq
pipeline:
  max_retries: 5
  batch_chunk_size: 10
  claim_stale_after: 45m
  processing_timeout: 15m
  batch_schedule_expression: "*/30 * * * * *"
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	v, err := readViper(dir)
	if err != nil {
		t.Fatalf("readViper: %v", err)
	}
	cfg := fromViper(v)

	if cfg.App.Environment != constant.EnvironmentProduction.String() {
		t.Fatalf("Environment = %q", cfg.App.Environment)
	}
	if cfg.Server.HttpPort != "9090" {
		t.Fatalf("HttpPort = %q", cfg.Server.HttpPort)
	}
	if cfg.EventBus.Driver != constant.EventBusRabbitMQ {
		t.Fatalf("Driver = %q", cfg.EventBus.Driver)
	}
	if cfg.Pipeline.MaxRetries != 5 || cfg.Pipeline.BatchChunkSize != 10 {
		t.Fatalf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.ClaimStaleAfter != 45*time.Minute {
		t.Fatalf("ClaimStaleAfter = %s", cfg.Pipeline.ClaimStaleAfter)
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestPipelineValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Pipeline)
		want   string
	}{
		{"zero retries", func(p *Pipeline) { p.MaxRetries = 0 }, "max_retries"},
		{"zero chunk", func(p *Pipeline) { p.BatchChunkSize = 0 }, "batch_chunk_size"},
		{"negative skip", func(p *Pipeline) { p.ChunkSkipLimit = -1 }, "chunk_skip_limit"},
		{"stale not above timeout", func(p *Pipeline) { p.ClaimStaleAfter = p.ProcessingTimeout }, "claim_stale_after must exceed"},
		{"bad cron", func(p *Pipeline) { p.BatchScheduleExpression = "every minute" }, "batch_schedule_expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPipeline()
			tt.mutate(&p)
			err := p.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestRabbitMQURI(t *testing.T) {
	r := &RabbitMQ{Host: "broker", Port: 5673, User: "media", Pass: "s3cret"}
	uri, err := amqp.ParseURI(r.URI())
	if err != nil {
		t.Fatalf("ParseURI(%q): %v", r.URI(), err)
	}
	if uri.Host != "broker" || uri.Port != 5673 || uri.Username != "media" || uri.Password != "s3cret" || uri.Vhost != "/" {
		t.Fatalf("URI() round trip = %+v", uri)
	}
}
