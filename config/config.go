package config

import (
	"fmt"
	"os"

	"github.com/BearBump/ShipBox/internal/limits"
	"github.com/BearBump/ShipBox/internal/network"
	"github.com/go-playground/validator/v10"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig           `yaml:"database"`
	Kafka    KafkaConfig              `yaml:"kafka"`
	Redis    RedisConfig              `yaml:"redis"`
	ShipBox  ShipBoxConfig            `yaml:"shipbox"`
	Network  *NetworkConfig           `yaml:"network,omitempty"`
	Limits   map[string]limits.Config `yaml:"limits,omitempty" validate:"omitempty,dive"`
	Jobs     []JobConfig              `yaml:"jobs" validate:"dive"`
	Fleet    []VehicleConfig          `yaml:"fleet" validate:"dive"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,gt=0"`
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name" validate:"required"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                           string `yaml:"host" validate:"required"`
	Port                           int    `yaml:"port" validate:"required,gt=0"`
	ShipmentCreatedTopicName       string `yaml:"shipment_created_topic_name"`
	VehicleAssignedTopicName       string `yaml:"vehicle_assigned_topic_name"`
	ShipmentStatusChangedTopicName string `yaml:"shipment_status_changed_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required,gt=0"`
}

type ShipBoxConfig struct {
	WorkerHTTPAddr          string `yaml:"worker_http_addr"`
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	CurrentStatusTTLSeconds int    `yaml:"current_status_ttl_seconds" validate:"gte=0"`

	BatchIntervalSeconds  int `yaml:"batch_interval_seconds" validate:"gte=0"`
	AssignIntervalSeconds int `yaml:"assign_interval_seconds" validate:"gte=0"`
	AssignBatchSize       int `yaml:"assign_batch_size" validate:"gte=0"`
	AssignConcurrency     int `yaml:"assign_concurrency" validate:"gte=0"`
	AssignLeaseSeconds    int `yaml:"assign_lease_seconds" validate:"gte=0"`

	BatchLockTTLSeconds int `yaml:"batch_lock_ttl_seconds" validate:"gte=0"`
	MaxIDAttempts       int `yaml:"max_id_attempts" validate:"gte=0"`

	// Ручной запуск батча через ops HTTP: не чаще N раз в минуту на (center, type).
	ManualBatchesPerMinute int `yaml:"manual_batches_per_minute" validate:"gte=0"`

	// Backoff поиска машины (по умолчанию 5/15/30/60 минут).
	AssignBackoff1Seconds int `yaml:"assign_backoff_1_seconds" validate:"gte=0"`
	AssignBackoff2Seconds int `yaml:"assign_backoff_2_seconds" validate:"gte=0"`
	AssignBackoff3Seconds int `yaml:"assign_backoff_3_seconds" validate:"gte=0"`
	AssignBackoff4Seconds int `yaml:"assign_backoff_4_seconds" validate:"gte=0"`
	AssignJitterSeconds   int `yaml:"assign_jitter_seconds" validate:"gte=0"`
}

// NetworkConfig replaces the built-in distance table.
type NetworkConfig struct {
	Centers []string       `yaml:"centers" validate:"required,min=1,unique,dive,required"`
	Edges   []network.Edge `yaml:"edges" validate:"dive"`
}

type JobConfig struct {
	Center       string `yaml:"center" validate:"required"`
	DeliveryType string `yaml:"delivery_type" validate:"required,oneof=Express Standard"`
	StaffID      string `yaml:"staff_id"`
}

// VehicleConfig seeds the fleet table on startup (upsert by plate).
type VehicleConfig struct {
	Plate            string  `yaml:"plate" validate:"required"`
	HomeCenter       string  `yaml:"home_center" validate:"required"`
	WeightCapacityKg float64 `yaml:"weight_capacity_kg" validate:"gt=0"`
	VolumeCapacityM3 float64 `yaml:"volume_capacity_m3" validate:"gt=0"`
	DriverID         string  `yaml:"driver_id"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// BuildNetwork returns the configured network or the built-in one.
func (c *Config) BuildNetwork() (*network.Network, error) {
	if c.Network == nil {
		return network.Default(), nil
	}
	return network.New(c.Network.Centers, c.Network.Edges)
}

func (c *Config) BuildLimits() (*limits.Table, error) {
	return limits.TableFromConfig(c.Limits)
}
