package main

import (
	"crypto/tls"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/djshoppre/emailq/internal/identity"
	"github.com/djshoppre/emailq/internal/server"
	"github.com/djshoppre/emailq/internal/submission"
	emailqtls "github.com/djshoppre/emailq/internal/tls"
	"github.com/djshoppre/emailq/internal/webhook"
)

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := a.cfg

	transport, err := selectTransport(ctx, cfg)
	if err != nil {
		return err
	}

	templates, err := openTemplates(ctx, cfg)
	if err != nil {
		return err
	}
	defer templates.Close()

	if len(cfg.Identity.Emails) == 0 && len(cfg.Identity.Domains) == 0 {
		slog.Warn("no sender identities configured, templated and raw sends will be rejected")
	}
	authorizer := identity.New(cfg.Identity.Emails, cfg.Identity.Domains)
	pipeline := submission.New(templates.store, transport, authorizer)

	var tlsConfig *tls.Config
	tlsMode := "off"
	if cfg.TLS.Enabled {
		tlsConfig, err = emailqtls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, emailqtls.HostFromListenAddr(cfg.HTTP.Listen))
		if err != nil {
			return err
		}
		tlsMode = "self-signed"
		if cfg.TLS.CertFile != "" {
			tlsMode = "file"
		}
	}

	srv := server.New(server.Config{
		ListenAddr: cfg.HTTP.Listen,
		TLSConfig:  tlsConfig,
		Submitter:  pipeline,
		Notifier:   webhook.New(cfg.Webhook.ClickURL),
		Transport:  transport.Name(),
	})

	slog.Info("starting emailq",
		"listen", cfg.HTTP.Listen,
		"transport", transport.Name(),
		"templates", templates.kind,
		"template_cache", templates.cache != nil,
		"click_webhook", cfg.Webhook.ClickURL != "",
		"tls_mode", tlsMode,
	)

	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		return err
	}
	slog.Info("emailq stopped")
	return nil
}
