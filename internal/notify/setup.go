package notify

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/db"
)

// Capabilities decides from configuration which channels exist.
func Capabilities(cfg config.NotificationsConfig, database *sql.DB, logger *zap.Logger) []Capability {
	contacts := NewDBContacts(db.NewContactOperations(database))
	caps := make([]Capability, 0, 4)

	if cfg.InApp {
		caps = append(caps, Available(NewInAppChannel(db.NewNotificationOperations(database))))
	} else {
		caps = append(caps, Unavailable("in_app", "disabled in config"))
	}

	switch {
	case !cfg.Email.Enabled:
		caps = append(caps, Unavailable("email", "disabled in config"))
	case cfg.Email.Host == "" || cfg.Email.From == "":
		caps = append(caps, Unavailable("email", "smtp host or sender missing"))
	default:
		caps = append(caps, Available(NewEmailChannel(cfg.Email, contacts)))
	}

	switch {
	case !cfg.SMS.Enabled:
		caps = append(caps, Unavailable("sms", "disabled in config"))
	case cfg.SMS.Endpoint == "":
		caps = append(caps, Unavailable("sms", "gateway endpoint missing"))
	default:
		caps = append(caps, Available(NewSMSChannel(cfg.SMS, contacts)))
	}

	if cfg.Webhooks.Enabled {
		caps = append(caps, Available(NewWebhookChannel(db.NewWebhookOperations(database), cfg.Webhooks, logger)))
	} else {
		caps = append(caps, Unavailable("webhook", "disabled in config"))
	}

	return caps
}
