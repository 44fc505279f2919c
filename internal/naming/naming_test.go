package naming

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityTypeName(t *testing.T) {
	namer := Default()

	tests := []struct {
		input    string
		expected string
	}{
		{"users", "User"},
		{"business_partners", "BusinessPartner"},
		{"business_partner_roles", "BusinessPartnerRole"},
		{"categories", "Category"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.EntityTypeName(tt.input))
		})
	}
}

func TestEntitySetName(t *testing.T) {
	namer := Default()

	tests := []struct {
		input    string
		expected string
	}{
		{"users", "Users"},
		{"user", "Users"},
		{"business_partner", "BusinessPartners"},
		{"categories", "Categories"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.EntitySetName(tt.input))
		})
	}
}

func TestPropertyName(t *testing.T) {
	namer := Default()

	tests := []struct {
		input    string
		expected string
	}{
		{"city_name", "CityName"},
		{"id", "Id"},
		{"created_at", "CreatedAt"},
		{"api_v2_key", "ApiV2Key"},
		{"not", "Not_"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.PropertyName(tt.input))
		})
	}
}

func TestNavigationNames(t *testing.T) {
	namer := Default()

	assert.Equal(t, "BusinessPartner", namer.ManyToOneNavigationName("business_partner_id"))
	assert.Equal(t, "Parent", namer.ManyToOneNavigationName("parent_fk"))
	assert.Equal(t, "Owner", namer.ManyToOneNavigationName("owner"))
	assert.Equal(t, "Id", namer.ManyToOneNavigationName("_id"))

	assert.Equal(t, "BusinessPartnerRoles", namer.OneToManyNavigationName("business_partner_roles", "business_partner_id", true))
	assert.Equal(t, "AuthorPosts", namer.OneToManyNavigationName("posts", "author_id", false))
}

func TestPluralizeWithOverrides(t *testing.T) {
	cfg := Config{
		PluralOverrides: map[string]string{
			"staff": "staff",
		},
		SingularOverrides: make(map[string]string),
	}
	namer := New(cfg, nil)

	assert.Equal(t, "staff", namer.Pluralize("staff"))
	assert.Equal(t, "Staff", namer.Pluralize("Staff"))
	assert.Equal(t, "users", namer.Pluralize("user"))
	assert.Equal(t, "Staff", namer.EntitySetName("staff"))
}

func TestSingularizeWithOverrides(t *testing.T) {
	cfg := Config{
		PluralOverrides: make(map[string]string),
		SingularOverrides: map[string]string{
			"data": "datum",
		},
	}
	namer := New(cfg, nil)

	assert.Equal(t, "datum", namer.Singularize("data"))
	assert.Equal(t, "Datum", namer.EntityTypeName("data"))
}

func TestRegisterNavigationPropertyCollision(t *testing.T) {
	namer := Default()

	col := namer.RegisterColumnProperty("Post", "author")
	assert.Equal(t, "Author", col)

	nav := namer.RegisterNavigationProperty("Post", "Author", "posts.author_id", true)
	assert.Equal(t, "AuthorRef", nav)

	many := namer.RegisterNavigationProperty("Post", "Author", "comments.post_id", false)
	assert.Equal(t, "AuthorRel", many)
}

func TestRegisterEntitySetCollision(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	namer := New(DefaultConfig(), logger)

	first := namer.RegisterEntitySet("user")
	second := namer.RegisterEntitySet("users")

	assert.Equal(t, "Users", first)
	assert.Equal(t, "Users2", second)
	assert.Contains(t, buf.String(), "naming collision detected")

	namer.Reset()
	assert.Equal(t, "Users", namer.RegisterEntitySet("users"))
}

func TestReservedNameWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	namer := New(DefaultConfig(), logger)

	assert.Equal(t, "Value_", namer.PropertyName("value"))
	assert.Contains(t, buf.String(), "reserved word")
}
