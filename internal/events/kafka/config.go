package kafka

import (
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"data-engine/internal/common/validation"
)

// Config holds the Kafka emitter settings
type Config struct {
	Brokers          []string
	Topic            string
	ClientID         string
	SecurityProtocol string
	SASLMechanism    string
	SASLUsername     string
	SASLPassword     string
	Timeout          time.Duration
}

var validProtocols = []string{"PLAINTEXT", "SSL", "SASL_PLAINTEXT", "SASL_SSL"}

func (c *Config) Validate() error {
	if c.ClientID == "" {
		c.ClientID = "data-engine"
	}
	if c.Topic == "" {
		c.Topic = "engine.changes"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.SecurityProtocol == "" {
		c.SecurityProtocol = "PLAINTEXT"
	}

	v := validation.NewValidatorWithPrefix("kafka emitter").
		RequireOneOf(c.SecurityProtocol, validProtocols, "security protocol").
		RequirePositive(len(c.Brokers), "broker count")
	for _, broker := range c.Brokers {
		v.RequireString(broker, "broker address")
	}
	if strings.HasPrefix(c.SecurityProtocol, "SASL_") {
		v.RequireString(c.SASLMechanism, "sasl mechanism").
			RequireString(c.SASLUsername, "sasl username").
			RequireString(c.SASLPassword, "sasl password")
	}
	return v.Error()
}

func (c *Config) configMap() *kafka.ConfigMap {
	configMap := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(c.Brokers, ","),
		"client.id":         c.ClientID,
	}
	if c.SecurityProtocol != "PLAINTEXT" {
		configMap["security.protocol"] = c.SecurityProtocol
	}
	if strings.HasPrefix(c.SecurityProtocol, "SASL_") {
		configMap["sasl.mechanism"] = c.SASLMechanism
		configMap["sasl.username"] = c.SASLUsername
		configMap["sasl.password"] = c.SASLPassword
	}
	return &configMap
}
