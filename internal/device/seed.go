package device

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk shape of a devices file.
//
//	devices:
//	  - id: field-node-01
//	    user_id: user-1
//	    name: North field node
//	    connection_type: mqtt
//	    mqtt_host: eu1.cloud.thethings.network
//	    use_ssl: true
//	    mqtt_topics: ["v3/+/devices/+/up"]
//	    is_active: true
type seedFile struct {
	Devices []Device `yaml:"devices"`
}

// LoadSeedFile reads devices from a YAML file. Devices without an
// explicit connection_type default to mqtt.
func LoadSeedFile(path string) ([]Device, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrSeedFile, path, err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrSeedFile, path, err)
	}

	for i := range f.Devices {
		if f.Devices[i].ConnectionType == "" {
			f.Devices[i].ConnectionType = ConnectionMQTT
		}
	}
	return f.Devices, nil
}
