package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/djshoppre/emailq/internal/config"
	"github.com/djshoppre/emailq/internal/provider"
	"github.com/djshoppre/emailq/internal/provider/graph"
	"github.com/djshoppre/emailq/internal/provider/mbox"
	"github.com/djshoppre/emailq/internal/provider/resend"
	"github.com/djshoppre/emailq/internal/provider/ses"
	"github.com/djshoppre/emailq/internal/provider/smtprelay"
	"github.com/djshoppre/emailq/internal/provider/stdout"
	"github.com/djshoppre/emailq/internal/template"
	"github.com/djshoppre/emailq/internal/template/postgres"
	"github.com/djshoppre/emailq/internal/template/rediscache"
)

// errNoDatabase is returned by commands that need the Postgres store.
var errNoDatabase = errors.New("DATABASE_URL is not configured")

// selectTransport builds the mail transport named by the configuration,
// auto-detecting from credentials when PROVIDER is empty.
func selectTransport(ctx context.Context, cfg *config.Config) (provider.Transport, error) {
	name := cfg.ResolvedProvider()

	var t provider.Transport
	switch name {
	case "ses":
		s, err := ses.New(ctx, ses.Config{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES transport: %w", err)
		}
		t = s
	case "graph":
		t = graph.New(ctx, graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		})
	case "resend":
		t = resend.New(cfg.Resend.APIKey)
	case "smtp":
		t = smtprelay.New(smtprelay.Config{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			Username:    cfg.SMTP.Username,
			Password:    cfg.SMTP.Password,
			ImplicitTLS: cfg.SMTP.ImplicitTLS,
		})
	case "mbox":
		t = mbox.New(cfg.Mbox.Path)
	case "stdout":
		t = stdout.New()
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}

	slog.Info("using transport",
		"transport", t.Name(),
		"auto_detected", cfg.Provider == "",
	)
	return t, nil
}

// templateWriter is a store that templates can be saved to and listed from.
type templateWriter interface {
	template.Store
	Save(ctx context.Context, t *template.Template) error
	List(ctx context.Context) ([]*template.Template, error)
}

// templates is the opened template backend.
type templates struct {
	// store serves lookups, through the cache when one is configured.
	store template.Store
	// writer is the backing store.
	writer templateWriter
	cache  *rediscache.Store
	kind   string

	pool  *pgxpool.Pool
	redis *redis.Client
}

// openTemplates opens the Postgres store when DATABASE_URL is set and the
// in-memory store otherwise, seeds it from TEMPLATES_FILE and puts the Redis
// cache in front of it when REDIS_URL is set.
func openTemplates(ctx context.Context, cfg *config.Config) (*templates, error) {
	t := &templates{}

	if cfg.Database.URL != "" {
		pool, err := postgres.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		t.pool = pool
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, pool, slog.Default()); err != nil {
				t.Close()
				return nil, err
			}
		}
		t.writer = postgres.New(pool)
		t.kind = "postgres"
	} else {
		t.writer = template.NewMemory()
		t.kind = "memory"
	}
	t.store = t.writer

	if cfg.Redis.URL != "" {
		client, err := rediscache.Open(ctx, cfg.Redis.URL)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.redis = client
		t.cache = rediscache.New(t.writer, client, rediscache.WithTTL(cfg.Redis.TemplateTTL))
		t.store = t.cache
	}

	if cfg.Templates.File != "" {
		seed, err := template.LoadFile(cfg.Templates.File)
		if err != nil {
			t.Close()
			return nil, err
		}
		for _, tpl := range seed {
			if err := t.Save(ctx, tpl); err != nil {
				t.Close()
				return nil, err
			}
		}
		slog.Info("loaded templates", "file", cfg.Templates.File, "count", len(seed))
	}

	return t, nil
}

// Save stores tpl and drops any cached copy.
func (t *templates) Save(ctx context.Context, tpl *template.Template) error {
	if err := t.writer.Save(ctx, tpl); err != nil {
		return err
	}
	if t.cache != nil {
		if err := t.cache.Invalidate(ctx, tpl.TemplateName); err != nil {
			slog.Warn("failed to invalidate cached template", "template", tpl.TemplateName, "error", err)
		}
	}
	return nil
}

// Close releases database and cache connections.
func (t *templates) Close() {
	if t.redis != nil {
		t.redis.Close()
	}
	if t.pool != nil {
		t.pool.Close()
	}
}
