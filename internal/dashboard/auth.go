package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/appclient"
	"github.com/g960059/opsdash/internal/command"
	"github.com/g960059/opsdash/internal/resource"
	"github.com/g960059/opsdash/internal/session"
)

// authEffects binds the AUTH domain to the session lifecycle: login success
// initialises the session, logout tears it down whatever the backend says.
func authEffects(sess *session.Manager, log *zap.Logger) map[command.Op]resource.Effect[api.Profile] {
	return map[command.Op]resource.Effect[api.Profile]{
		command.OpLogin: func(ctx context.Context, remote resource.Remote, ep resource.Endpoint, c command.Command) (resource.Outcome[api.Profile], error) {
			creds, ok := c.Payload.(api.LoginRequest)
			if !ok || strings.TrimSpace(creds.Email) == "" {
				return resource.Outcome[api.Profile]{}, fmt.Errorf("email and password are required")
			}
			raw, err := remote.Do(ctx, http.MethodPost, ep.Path+"/login", appclient.RequestOptions{Body: creds})
			if err != nil {
				return resource.Outcome[api.Profile]{}, err
			}
			if err := resource.CheckMarker(raw); err != nil {
				return resource.Outcome[api.Profile]{}, err
			}
			result, err := decodeLogin(raw)
			if err != nil {
				return resource.Outcome[api.Profile]{}, err
			}
			role := result.Role
			if role == "" {
				role = result.User.Role
			}
			user := result.User
			if err := sess.Init(ctx, result.AccessToken, role, &user); err != nil {
				return resource.Outcome[api.Profile]{}, fmt.Errorf("store session: %w", err)
			}
			return resource.Outcome[api.Profile]{Entity: &user}, nil
		},
		command.OpLogout: func(ctx context.Context, remote resource.Remote, ep resource.Endpoint, _ command.Command) (resource.Outcome[api.Profile], error) {
			if _, err := remote.Do(ctx, http.MethodPost, ep.Path+"/logout", appclient.RequestOptions{}); err != nil {
				log.Debug("backend logout failed", zap.Error(err))
			}
			if err := sess.Teardown(ctx); err != nil {
				return resource.Outcome[api.Profile]{}, fmt.Errorf("clear session: %w", err)
			}
			return resource.Outcome[api.Profile]{Reset: true}, nil
		},
		command.OpDetail: func(ctx context.Context, remote resource.Remote, ep resource.Endpoint, _ command.Command) (resource.Outcome[api.Profile], error) {
			raw, err := remote.Do(ctx, http.MethodGet, ep.Path+"/me", appclient.RequestOptions{})
			if err != nil {
				return resource.Outcome[api.Profile]{}, err
			}
			if err := resource.CheckMarker(raw); err != nil {
				return resource.Outcome[api.Profile]{}, err
			}
			profile, err := resource.DecodeEntity[api.Profile](raw)
			if err != nil {
				return resource.Outcome[api.Profile]{}, err
			}
			return resource.Outcome[api.Profile]{Entity: profile}, nil
		},
	}
}

func decodeLogin(raw []byte) (api.LoginResult, error) {
	var result api.LoginResult
	body := raw
	if env, ok := api.ParseEnvelope(raw); ok {
		body = env.Data
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return api.LoginResult{}, fmt.Errorf("decode login response: %w", err)
	}
	if strings.TrimSpace(result.AccessToken) == "" {
		return api.LoginResult{}, fmt.Errorf("login response carried no access token")
	}
	return result, nil
}
