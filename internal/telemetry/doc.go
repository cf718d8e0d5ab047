// Package telemetry records MQTT session events as time-series points.
//
// A Recorder is registered with session.WithObserver and writes through a
// PointWriter, normally the InfluxDB client:
//
//	client, _ := influxdb.Connect(cfg.InfluxDB)
//	rec := telemetry.NewRecorder(client)
//	s, _ := session.New(sessCfg, t, session.WithObserver(rec))
//
// Points:
//
//	mqtt_session   tags: client_id, event (connect|refused|disconnect)
//	               fields: code, reason, reconnecting
//	mqtt_messages  tags: client_id
//	               fields: topic, bytes
package telemetry
