package invites

import (
	"context"

	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/observability"
)

// Notifier delivers an invitation out of band. The accept URL embeds
// the plaintext token, which exists nowhere else after issuance.
type Notifier interface {
	NotifyInvitation(ctx context.Context, recipient, acceptURL string, role authz.Role, tenantName string) error
}

// LogNotifier is a Notifier that only logs, for local development and
// deployments where delivery happens through an external pipeline.
// The token itself is never logged.
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyInvitation logs the delivery without the token-bearing URL
func (n *LogNotifier) NotifyInvitation(ctx context.Context, recipient, acceptURL string, role authz.Role, tenantName string) error {
	n.logger.WithFields(map[string]interface{}{
		"recipient": recipient,
		"role":      string(role),
		"tenant":    tenantName,
	}).Info("invitation ready for delivery")
	return nil
}
