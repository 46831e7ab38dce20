// cmd/preflight/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"

	"github.com/hamed0406/sitewatch/internal/config"
)

func main() {
	cfgFlag := flag.String("config", "", "path to the YAML config")
	flag.Parse()

	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	path := config.Path(*cfgFlag)
	cfg, err := config.Load(path)
	if err != nil {
		for _, e := range multierr.Errors(err) {
			fmt.Fprintln(os.Stderr, "✖", e)
		}
		fail("config " + path + " is not usable")
	}
	ok(fmt.Sprintf("config %s: %d target(s)", path, len(cfg.Targets)))

	// Credentials referenced by targets must resolve.
	for _, t := range cfg.ToTargets() {
		if t.Auth == nil {
			continue
		}
		if t.Auth.Credentials.Empty() {
			fail(fmt.Sprintf("target %s needs credentials; check its *_env variables", t.ID))
		}
		ok(fmt.Sprintf("target %s credentials %s", t.ID, t.Auth.Credentials))
	}

	switch {
	case cfg.Mail.Host == "" && cfg.SlackWebhook == "":
		fail("no notification channel: set SMTP_HOST or SLACK_WEBHOOK_URL")
	case cfg.Mail.Host != "":
		if cfg.Mail.Username == "" || cfg.Mail.Password == "" {
			warn("SMTP_HOST set but EMAIL_ADDRESS/EMAIL_PASSWORD missing; unauthenticated submission will be tried")
		}
		if len(cfg.Recipients.Site) == 0 {
			fail("no recipients: set MAIL_TO or recipients.site")
		}
		ok(fmt.Sprintf("SMTP %s:%d -> %s", cfg.Mail.Host, cfg.Mail.Port, strings.Join(cfg.Recipients.Site, ",")))
	}
	if cfg.SlackWebhook != "" {
		ok("SLACK_WEBHOOK_URL present")
	}

	if cfg.DatabaseURL == "" {
		warn("DATABASE_URL empty: counters and alert state are kept in " + cfg.StateDir + ".")
	} else {
		ok("DATABASE_URL present")
	}

	if cfg.Status.Addr != "" {
		if len(cfg.Status.APIKeys) == 0 && len(cfg.Status.AdminKeys) == 0 {
			warn("status API on " + cfg.Status.Addr + " has no API keys; every request is allowed.")
		}
		for name, v := range map[string][]string{"ADMIN_API_KEYS": cfg.Status.AdminKeys, "PUBLIC_API_KEYS": cfg.Status.APIKeys} {
			for _, k := range v {
				if len(k) < 12 {
					warn(name + " contains a key shorter than 12 characters")
					break
				}
			}
		}
		ok("STATUS_ADDR=" + cfg.Status.Addr)
	}

	ok("preflight passed")
}
