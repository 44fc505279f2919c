package cli

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Secret     string
	SecretFile string
	KeyFile    string
	KeyID      string
	Issuer     string
	Audience   string
	Subject    string
	DBRole     string
	ClaimName  string
	Expires    time.Duration
}

// NewTokenCommand creates the token command, which mints bearer tokens for
// local testing of shared-secret and OIDC authentication.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		Long: `Mint a JWT accepted by the server's bearer authentication. With --secret
or --secret-file the token is signed HS256 for shared-secret auth; with
--key it is signed RS256 for an OIDC issuer serving the matching JWKS.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := mintToken(opts, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signed)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Secret, "secret", "", "HS256 shared secret")
	cmd.Flags().StringVar(&opts.SecretFile, "secret-file", "", "file holding the HS256 shared secret")
	cmd.Flags().StringVar(&opts.KeyFile, "key", "", "RSA private key (PEM) for RS256")
	cmd.Flags().StringVar(&opts.KeyID, "kid", "local-key", "key id header for RS256 tokens")
	cmd.Flags().StringVar(&opts.Issuer, "issuer", "", "iss claim")
	cmd.Flags().StringVar(&opts.Audience, "audience", "tidb-odata", "aud claim, comma-separated")
	cmd.Flags().StringVar(&opts.Subject, "subject", "odatactl", "sub claim")
	cmd.Flags().StringVar(&opts.DBRole, "db-role", "", "database role claim")
	cmd.Flags().StringVar(&opts.ClaimName, "db-role-claim", "db_role", "name of the database role claim")
	cmd.Flags().DurationVar(&opts.Expires, "expires", time.Hour, "token lifetime")

	return cmd
}

func mintToken(opts *TokenOptions, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": opts.Subject,
		"iat": now.Unix(),
		"nbf": now.Add(-time.Minute).Unix(),
		"exp": now.Add(opts.Expires).Unix(),
	}
	if opts.Issuer != "" {
		claims["iss"] = opts.Issuer
	}
	if aud := splitList(opts.Audience); len(aud) > 0 {
		claims["aud"] = aud
	}
	if opts.DBRole != "" {
		claims[opts.ClaimName] = opts.DBRole
	}

	secret := opts.Secret
	if opts.SecretFile != "" {
		data, err := os.ReadFile(opts.SecretFile)
		if err != nil {
			return "", fmt.Errorf("read secret file: %w", err)
		}
		secret = string(data)
	}
	secret = strings.TrimSpace(secret)

	switch {
	case secret != "" && opts.KeyFile != "":
		return "", fmt.Errorf("--key cannot be combined with a shared secret")
	case secret != "":
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	case opts.KeyFile != "":
		key, err := loadPrivateKey(opts.KeyFile)
		if err != nil {
			return "", err
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = opts.KeyID
		return token.SignedString(key)
	default:
		return "", fmt.Errorf("one of --secret, --secret-file or --key is required")
	}
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s holds no PEM block", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s is not an RSA key", path)
	}
	return key, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
