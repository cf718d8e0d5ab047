// Package influxdb writes session telemetry to InfluxDB v2.
//
// Connect pings the server before returning. Points are queued without
// blocking and written in batches; batch failures go to the SetOnError
// callback, everything else is returned. Every point carries
// service=graysession.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WritePoint("mqtt_messages",
//	    map[string]string{"client_id": "dev1"},
//	    map[string]interface{}{"bytes": 12})
package influxdb
