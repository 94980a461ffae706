package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	jwttoken "auditflow/internal/jwt_token"
	"auditflow/internal/platform/config"
	id "auditflow/pkg/domain"
	pkgstrings "auditflow/pkg/platform/strings"
)

type tokenOutput struct {
	UserID    string    `json:"user_id"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"token"`
}

// NewTokenCommand mints a bearer token signed with JWT_SIGNING_KEY, for
// operators calling the HTTP API by hand.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		user  string
		roles []string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := id.UserID(uuid.New())
			if user != "" {
				parsed, err := id.ParseUserID(user)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				userID = parsed
			}
			roles = pkgstrings.NormalizeRoles(roles)

			srv := config.FromEnv().Server
			tokens := jwttoken.NewJWTService(srv.JWTSigningKey, srv.JWTIssuer, srv.JWTAudience)
			token, err := tokens.GenerateAccessToken(userID, roles, ttl)
			if err != nil {
				return err
			}
			out := tokenOutput{
				UserID:    userID.String(),
				Roles:     roles,
				ExpiresAt: time.Now().Add(ttl).UTC(),
				Token:     token,
			}
			return newPrinter(rootOpts, cmd.OutOrStdout()).print(out, token)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID (defaults to a fresh UUID)")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "comma-separated roles")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
