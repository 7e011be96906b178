package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Devices report power in milliwatts; stored as watts for dashboards.
const milliwattsPerWatt = 1000.0

// WritePortSample records one port's power reading. The polling coordinator
// calls this for every port on every successful status poll, so it must
// never block: the point goes into the batch buffer and returns.
//
//	client.WritePortSample("sn-swp6340001234", 3, true, 12500)
func (c *Client) WritePortSample(deviceID string, port int, on bool, powerMilliwatts int64) {
	if !c.IsConnected() {
		return
	}

	onValue := 0
	if on {
		onValue = 1
	}

	point := write.NewPoint(
		"port_power",
		map[string]string{
			"device_id": deviceID,
			"port":      strconv.Itoa(port),
		},
		map[string]interface{}{
			"power_w": float64(powerMilliwatts) / milliwattsPerWatt,
			"on":      onValue,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteAvailability records a device entering or leaving the degraded
// state, so dashboards can chart uptime alongside power draw.
func (c *Client) WriteAvailability(deviceID string, available bool) {
	if !c.IsConnected() {
		return
	}

	value := 0
	if available {
		value = 1
	}

	point := write.NewPoint(
		"availability",
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"available": value},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
