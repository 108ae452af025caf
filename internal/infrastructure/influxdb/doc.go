// Package influxdb mirrors numeric sensor readings into InfluxDB.
//
// The relational store keeps only the latest value per sensor; this
// package appends every numeric reading to the "sensor_readings"
// measurement so history can be charted. It is optional and disabled by
// default.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history mirror off
//	}
//	defer client.Close()
//
//	client.WriteReading(influxdb.Reading{
//	    DeviceID:   "dev-1",
//	    SensorType: "temperature",
//	    Unit:       "°C",
//	    Value:      22.5,
//	})
package influxdb
