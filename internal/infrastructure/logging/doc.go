// Package logging builds the slog-based logger shared by every component.
//
// Entries carry service and version fields. The level, format (json or
// text) and output (stdout or stderr) come from the logging section of
// config.yaml.
//
// Components get a child logger tagged with their name:
//
//	log := logging.New(cfg.Logging, version)
//	reg.SetLogger(log.Component("registry"))
//	log.Info("session connected", "client_id", cfg.MQTT.Session.ClientID)
//
// Passwords and tokens must never be logged. Log the username alone.
package logging
