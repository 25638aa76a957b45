// Package setup is the interactive first-run wizard behind "approvald setup".
package setup

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/approval-watcher/internal/credential"
	"github.com/nhle/approval-watcher/internal/model"
)

// Values holds the wizard fields. Secrets stay out of the config file.
type Values struct {
	IMAPHost   string
	IMAPPort   string
	Username   string
	Password   string
	TLS        bool
	Mailbox    string
	APIURL     string
	APIToken   string
	SaveSecret bool
}

// ValuesFrom pre-fills the wizard from an existing configuration.
func ValuesFrom(cfg *model.AppConfig) Values {
	return Values{
		IMAPHost:   cfg.IMAP.Host,
		IMAPPort:   cfg.IMAP.Port,
		Username:   cfg.IMAP.Username,
		TLS:        cfg.IMAP.TLS,
		Mailbox:    cfg.IMAP.Mailbox,
		APIURL:     cfg.API.URL,
		SaveSecret: true,
	}
}

// NewForm builds the wizard bound to v.
func NewForm(v *Values) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP Host").
				Description("IMAP server hostname").
				Placeholder("imap.example.com").
				Value(&v.IMAPHost).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Description("IMAP server port (e.g., 993)").
				Placeholder("993").
				Value(&v.IMAPPort).
				Validate(validatePort),
			huh.NewConfirm().
				Title("Use TLS").
				Description("Implicit TLS; choose No for STARTTLS").
				Affirmative("Yes").
				Negative("No").
				Value(&v.TLS),
			huh.NewInput().
				Title("Mailbox").
				Description("Folder to watch for replies").
				Placeholder("INBOX").
				Value(&v.Mailbox),
		).Title("Mailbox"),
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Description("Email account username").
				Placeholder("approvals@example.com").
				Value(&v.Username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Email account password or app password").
				EchoMode(huh.EchoModePassword).
				Value(&v.Password).
				Validate(validateRequired("Password")),
		).Title("Account"),
		huh.NewGroup(
			huh.NewInput().
				Title("Workflow API URL").
				Description("Endpoint that receives decisions").
				Placeholder("https://workflow.example.com/api/decisions").
				Value(&v.APIURL).
				Validate(validateURL),
			huh.NewInput().
				Title("API Token").
				Description("Bearer token for the workflow API").
				EchoMode(huh.EchoModePassword).
				Value(&v.APIToken).
				Validate(validateRequired("API Token")),
			huh.NewConfirm().
				Title("Store secrets in the system keyring").
				Affirmative("Yes").
				Negative("No").
				Value(&v.SaveSecret),
		).Title("Workflow API"),
	)
}

// Apply copies the wizard values into cfg.
func (v Values) Apply(cfg *model.AppConfig) {
	cfg.IMAP.Host = strings.TrimSpace(v.IMAPHost)
	cfg.IMAP.Port = strings.TrimSpace(v.IMAPPort)
	cfg.IMAP.Username = strings.TrimSpace(v.Username)
	cfg.IMAP.Password = model.Secret(v.Password)
	cfg.IMAP.TLS = v.TLS
	cfg.IMAP.Mailbox = strings.TrimSpace(v.Mailbox)
	if cfg.IMAP.Mailbox == "" {
		cfg.IMAP.Mailbox = "INBOX"
	}
	cfg.API.URL = strings.TrimSpace(v.APIURL)
	cfg.API.Token = model.Secret(v.APIToken)
}

// Save writes cfg to path and, when requested, the secrets to the keyring.
func (v Values) Save(path string, cfg *model.AppConfig) error {
	v.Apply(cfg)

	if v.SaveSecret {
		if err := credential.Set(credential.MailboxKey(cfg.IMAP.Username), v.Password); err != nil {
			return fmt.Errorf("saving mailbox password: %w", err)
		}
		if err := credential.Set(credential.APITokenKey, v.APIToken); err != nil {
			return fmt.Errorf("saving API token: %w", err)
		}
	}

	return model.SaveConfig(path, cfg)
}

// --- Validators ---

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("URL must include scheme and host (e.g., https://example.com)")
	}
	return nil
}

func validatePort(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("port is required")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return fmt.Errorf("port must be a number")
		}
	}
	return nil
}
