// Package config loads the session manager's YAML configuration.
//
// Load reads the file, applies GRAYLOGIC_* environment overrides on top of
// it and validates the result. Sections for optional subsystems (database,
// influxdb, api) are only validated when enabled.
//
// Broker passwords and the InfluxDB token belong in the environment, not in
// the file:
//
//	GRAYLOGIC_MQTT_PASSWORD=... GRAYLOGIC_INFLUXDB_TOKEN=... graysession
//
// Typical use:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	addr := net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port))
package config
