package config

import (
	"fmt"
	"os"
	"strings"

	"CalibrationMonitorAPI/internal/models"

	"gopkg.in/yaml.v3"
)

// ThresholdsFile is the YAML document named by THRESHOLDS_FILE.
//
//	thresholds:
//	  output:   {warning_level: 1.8, tolerance_level: 2.0}
//	recipients:
//	  default:
//	    physicist: [qa@example.org]
//	  devices:
//	    center-a-linac-1:
//	      engineer: [service@example.org]
type ThresholdsFile struct {
	Thresholds map[string]models.ThresholdConfig `yaml:"thresholds"`
	Recipients RecipientsConfig                  `yaml:"recipients"`
}

type RecipientsConfig struct {
	Default map[string][]string            `yaml:"default"`
	Devices map[string]map[string][]string `yaml:"devices"`
}

// DefaultThresholds are used for any metric the YAML file leaves out.
func DefaultThresholds() map[string]models.ThresholdConfig {
	return map[string]models.ThresholdConfig{
		models.MetricOutput.Field():    {WarningLevel: 1.8, ToleranceLevel: 2.0},
		models.MetricFlatness.Field():  {WarningLevel: 1.5, ToleranceLevel: 2.0},
		models.MetricInline.Field():    {WarningLevel: 1.5, ToleranceLevel: 2.0},
		models.MetricCrossline.Field(): {WarningLevel: 1.5, ToleranceLevel: 2.0},
	}
}

// LoadThresholds reads the YAML file at path. An empty path yields the compiled defaults.
func LoadThresholds(path string) (*ThresholdsFile, error) {
	tf := &ThresholdsFile{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read thresholds file: %w", err)
		}
		if err := yaml.Unmarshal(data, tf); err != nil {
			return nil, fmt.Errorf("failed to parse thresholds file: %w", err)
		}
	}

	tf.applyDefaults()
	return tf, nil
}

func (t *ThresholdsFile) applyDefaults() {
	merged := DefaultThresholds()
	for field, cfg := range t.Thresholds {
		merged[strings.ToLower(field)] = cfg
	}
	t.Thresholds = merged

	// device keys are matched against normalized identities
	if len(t.Recipients.Devices) > 0 {
		devices := make(map[string]map[string][]string, len(t.Recipients.Devices))
		for id, roles := range t.Recipients.Devices {
			key := models.NormalizeDeviceID(id).ID
			if devices[key] == nil {
				devices[key] = make(map[string][]string)
			}
			for role, addrs := range roles {
				devices[key][role] = append(devices[key][role], addrs...)
			}
		}
		t.Recipients.Devices = devices
	}
}

func (t *ThresholdsFile) Validate() error {
	for field, cfg := range t.Thresholds {
		if _, err := models.ParseMetric(field); err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("thresholds for %s: %w", field, err)
		}
	}
	return nil
}

// For returns the threshold bands of a metric.
func (t *ThresholdsFile) For(m models.Metric) models.ThresholdConfig {
	if cfg, ok := t.Thresholds[m.Field()]; ok {
		return cfg
	}
	return DefaultThresholds()[m.Field()]
}

// RecipientsFor resolves the addresses for a device and role. Device entries replace the
// default list for that role rather than extending it.
func (t *ThresholdsFile) RecipientsFor(device models.DeviceIdentity, role string) []string {
	if perDevice, ok := t.Recipients.Devices[device.ID]; ok {
		if addrs, ok := perDevice[role]; ok {
			return addrs
		}
	}
	return t.Recipients.Default[role]
}
