package domain_test

import (
	"context"
	"testing"

	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestLifecycleHooks_Publish(t *testing.T) {
	var got []domain.EventType
	record := func(_ context.Context, e *domain.SessionEvent) { got = append(got, e.Type) }

	hooks := domain.LifecycleHooks{
		OnSessionCreated: record,
		OnSessionExpired: record,
	}
	ctx := context.Background()
	hooks.Publish(ctx, &domain.SessionEvent{Type: domain.EventSessionCreated})
	hooks.Publish(ctx, &domain.SessionEvent{Type: domain.EventSessionDeleted})
	hooks.Publish(ctx, &domain.SessionEvent{Type: domain.EventSessionExpired})
	hooks.Publish(ctx, &domain.SessionEvent{Type: "unknown"})

	assert.Equal(t, []domain.EventType{domain.EventSessionCreated, domain.EventSessionExpired}, got)
}
