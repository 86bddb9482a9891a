// Package common holds transport types shared by the messaging adapters.
package common

import (
	"fmt"
	"time"
)

// ProducerMessage is a broker-agnostic outbound message.
type ProducerMessage struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
	Partition int
}

// Validate rejects messages without a topic or value, or with a value over
// maxBytes.  maxBytes < 1 disables the size check.
func (m *ProducerMessage) Validate(maxBytes int) error {
	switch {
	case m.Topic == "":
		return fmt.Errorf("topic required")
	case len(m.Value) == 0:
		return fmt.Errorf("value required")
	case maxBytes > 0 && len(m.Value) > maxBytes:
		return fmt.Errorf("message of %d bytes exceeds %d", len(m.Value), maxBytes)
	}
	return nil
}
