package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSingleStdinFileSource(t *testing.T) {
	tests := []struct {
		name      string
		files     map[string]string
		wantErr   bool
		wantKeys  []string
		otherKeys []string
	}{
		{
			name: "regular files only",
			files: map[string]string{
				"database.dsn_file":            "/run/secrets/dsn",
				"server.admin.auth_token_file": "/run/secrets/admin",
			},
		},
		{
			name: "one stdin source",
			files: map[string]string{
				"database.password_file":         stdinPath,
				"server.auth.shared_secret_file": "/run/secrets/jwt",
			},
		},
		{
			name: "stdin claimed three times",
			files: map[string]string{
				"database.dsn_file":              stdinPath,
				"database.password_file":         "/run/secrets/password",
				"server.admin.auth_token_file":   " @- ",
				"server.auth.shared_secret_file": stdinPath,
			},
			wantErr:   true,
			wantKeys:  []string{"database.dsn_file", "server.admin.auth_token_file", "server.auth.shared_secret_file"},
			otherKeys: []string{"database.password_file"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			for key, value := range tt.files {
				v.Set(key, value)
			}

			err := validateSingleStdinFileSource(v)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, key := range tt.wantKeys {
				assert.Contains(t, err.Error(), key)
			}
			for _, key := range tt.otherKeys {
				assert.NotContains(t, err.Error(), key)
			}
		})
	}
}
