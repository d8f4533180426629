package queue

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/service"
)

var validate = validator.New()

// EnqueueMessage is the broker payload asking the engine to queue a
// notification. Payload carries the encrypted bytes, base64 encoded on the wire.
type EnqueueMessage struct {
	DeviceRef  string `json:"deviceRef" validate:"required,max=255"`
	Kind       string `json:"kind" validate:"required,oneof=message call remote-wipe key-rotation"`
	Payload    []byte `json:"payload" validate:"required,min=1"`
	Priority   string `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent"`
	MaxRetries *int   `json:"maxRetries,omitempty" validate:"omitempty,gt=0"`
}

func (m EnqueueMessage) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// EnqueueRequest converts the message into the producer's request.
func (m EnqueueMessage) EnqueueRequest() service.EnqueueRequest {
	return service.EnqueueRequest{
		DeviceRef:  m.DeviceRef,
		Kind:       domain.Kind(m.Kind),
		Payload:    m.Payload,
		Priority:   domain.Priority(m.Priority),
		MaxRetries: m.MaxRetries,
	}
}
