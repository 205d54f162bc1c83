package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PaulBabatuyi/channelChat/internal/data"
	"github.com/PaulBabatuyi/channelChat/internal/normalize"
)

// ErrInvalidEvent is returned for event bodies that cannot become a profile.
var ErrInvalidEvent = errors.New("queue: invalid registration event")

// RegistrationEvent is the "user created" payload published on user_events.
type RegistrationEvent struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DecodeRegistrationEvent parses body into a profile to create.
func DecodeRegistrationEvent(body []byte) (data.NewProfile, error) {
	var ev RegistrationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return data.NewProfile{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if normalize.Email(ev.Email) == "" {
		return data.NewProfile{}, fmt.Errorf("%w: email is required", ErrInvalidEvent)
	}
	return data.NewProfile{Email: ev.Email, FirstName: ev.FirstName, LastName: ev.LastName}, nil
}
