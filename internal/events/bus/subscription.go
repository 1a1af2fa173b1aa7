package bus

import (
	"fmt"

	"github.com/google/uuid"
)

// NewInbox returns a private reply subject, following NATS request/reply
// convention (e.g. adapter health probes that want a single response).
func NewInbox() string {
	return fmt.Sprintf("_INBOX.%s", uuid.New().String())
}
