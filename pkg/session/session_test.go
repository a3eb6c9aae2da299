package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapReader map[string]any

func (m mapReader) Attribute(name string) (any, error) {
	return m[name], nil
}

type customPrincipal struct{ name string }

func (c customPrincipal) PrincipalName() string { return c.name }

func TestPrincipalNameIndexResolver(t *testing.T) {
	resolver := session.PrincipalNameIndexResolver{}

	tests := []struct {
		name  string
		attrs mapReader
		want  string
	}{
		{"security context value", mapReader{domain.SecurityContextAttribute: domain.SecurityContext{Principal: "a"}}, "a"},
		{"security context pointer", mapReader{domain.SecurityContextAttribute: &domain.SecurityContext{Principal: "b"}}, "b"},
		{"custom principal", mapReader{domain.SecurityContextAttribute: customPrincipal{"c"}}, "c"},
		{"decoded context", mapReader{domain.SecurityContextAttribute: map[string]any{"principal": "d"}}, "d"},
		{"index attribute", mapReader{domain.PrincipalNameIndexName: "e"}, "e"},
		{"nothing", mapReader{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolver.ResolveIndexes(tt.attrs)
			if tt.want == "" {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, map[string]string{domain.PrincipalNameIndexName: tt.want}, got)
		})
	}
}

func TestUUIDGenerator(t *testing.T) {
	gen := session.UUIDGenerator{}
	a, b := gen.Generate(), gen.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestSession_AttributeAs(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetAttribute("count", 3))
	require.NoError(t, s.SetAttribute(domain.PrincipalNameAttribute, "zoe"))

	n, ok, err := session.AttributeAs[int](s, "count")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	name, ok, err := session.AttributeAs[string](s, domain.PrincipalNameAttribute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "zoe", name)

	_, _, err = session.AttributeAs[int](s, domain.PrincipalNameAttribute)
	assert.Error(t, err)

	_, _, err = session.AttributeAs[[]string](s, "count")
	assert.Error(t, err, "a number does not decode into a slice")
}

func TestSession_SetAttributeRejectsUnencodable(t *testing.T) {
	repo, _ := newRepo(t)
	s, err := repo.CreateSession(context.Background())
	require.NoError(t, err)

	err = s.SetAttribute("ch", make(chan int))
	assert.Error(t, err)
	assert.NotContains(t, s.AttributeNames(), "ch")
}

func TestSession_TimesAndExpiry(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, s.SetLastAccessedTime(past))
	assert.Equal(t, past.UnixMilli(), s.LastAccessedTime().UnixMilli())
	assert.True(t, s.IsExpired())

	require.NoError(t, s.SetMaxInactiveInterval(-1))
	assert.False(t, s.IsExpired())
}

func TestSession_Snapshot(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetAttribute("theme", "dark"))
	require.NoError(t, s.SetAttribute(domain.SecurityContextAttribute, domain.SecurityContext{Principal: "amy"}))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, s.ID(), snap.ID)
	assert.Equal(t, "amy", snap.PrincipalName)
	assert.Equal(t, "30m0s", snap.MaxInactiveInterval)
	require.NotNil(t, snap.ExpiresAt)
	assert.Equal(t, "dark", snap.Attributes["theme"])
	assert.Equal(t, "amy", snap.Attributes[domain.PrincipalNameAttribute])

	require.NoError(t, s.SetMaxInactiveInterval(-1))
	snap, err = s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "never", snap.MaxInactiveInterval)
	assert.Nil(t, snap.ExpiresAt)
}
