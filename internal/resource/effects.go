package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/appclient"
	"github.com/g960059/opsdash/internal/command"
	"github.com/g960059/opsdash/internal/pagination"
)

// Remote is the part of the access client a coordinator needs.
type Remote interface {
	Do(ctx context.Context, method, path string, opts appclient.RequestOptions) (json.RawMessage, error)
}

// Endpoint names a resource domain and its collection path.
type Endpoint struct {
	Name string
	Path string
}

func (e Endpoint) itemPath(id string) string {
	return strings.TrimRight(e.Path, "/") + "/" + url.PathEscape(id)
}

// Effect runs the remote side of one request command.
type Effect[T any] func(ctx context.Context, remote Remote, ep Endpoint, c command.Command) (Outcome[T], error)

// StandardEffects is the REST mapping shared by every admin list domain.
func StandardEffects[T any]() map[command.Op]Effect[T] {
	return map[command.Op]Effect[T]{
		command.OpList:         ListEffect[T],
		command.OpDetail:       DetailEffect[T],
		command.OpCreate:       CreateEffect[T],
		command.OpUpdate:       UpdateEffect[T],
		command.OpUpdateStatus: UpdateStatusEffect[T],
		command.OpDelete:       DeleteEffect[T],
	}
}

func ListEffect[T any](ctx context.Context, remote Remote, ep Endpoint, c command.Command) (Outcome[T], error) {
	params := listParamsOf(c.Payload)
	raw, err := remote.Do(ctx, http.MethodGet, ep.Path, appclient.RequestOptions{Params: params.Query()})
	if err != nil {
		return Outcome[T]{}, err
	}
	if err := CheckMarker(raw); err != nil {
		return Outcome[T]{}, err
	}
	page := pagination.Normalize[T](raw)
	return Outcome[T]{Page: &page}, nil
}

func DetailEffect[T any](ctx context.Context, remote Remote, ep Endpoint, c command.Command) (Outcome[T], error) {
	id, err := idOf(c.Payload)
	if err != nil {
		return Outcome[T]{}, err
	}
	raw, err := remote.Do(ctx, http.MethodGet, ep.itemPath(id), appclient.RequestOptions{})
	if err != nil {
		return Outcome[T]{}, err
	}
	if err := CheckMarker(raw); err != nil {
		return Outcome[T]{}, err
	}
	entity, err := DecodeEntity[T](raw)
	if err != nil {
		return Outcome[T]{}, err
	}
	return Outcome[T]{Entity: entity}, nil
}

func CreateEffect[T any](ctx context.Context, remote Remote, ep Endpoint, c command.Command) (Outcome[T], error) {
	var body any
	switch p := c.Payload.(type) {
	case command.CreatePayload:
		body = p.Body
	default:
		body = p
	}
	if body == nil {
		return Outcome[T]{}, fmt.Errorf("create payload is required")
	}
	return mutate[T](ctx, remote, http.MethodPost, ep.Path, body)
}

func UpdateEffect[T any](ctx context.Context, remote Remote, ep Endpoint, c command.Command) (Outcome[T], error) {
	p, ok := c.Payload.(command.UpdatePayload)
	if !ok || strings.TrimSpace(p.ID) == "" {
		return Outcome[T]{}, fmt.Errorf("id is required")
	}
	return mutate[T](ctx, remote, http.MethodPut, ep.itemPath(p.ID), p.Body)
}

func UpdateStatusEffect[T any](ctx context.Context, remote Remote, ep Endpoint, c command.Command) (Outcome[T], error) {
	p, ok := c.Payload.(command.StatusPayload)
	if !ok || strings.TrimSpace(p.ID) == "" {
		return Outcome[T]{}, fmt.Errorf("id is required")
	}
	return mutate[T](ctx, remote, http.MethodPatch, ep.itemPath(p.ID)+"/status", map[string]any{"status": p.Status})
}

func DeleteEffect[T any](ctx context.Context, remote Remote, ep Endpoint, c command.Command) (Outcome[T], error) {
	id, err := idOf(c.Payload)
	if err != nil {
		return Outcome[T]{}, err
	}
	return mutate[T](ctx, remote, http.MethodDelete, ep.itemPath(id), nil)
}

// mutate ignores undecodable bodies on success: the requery that follows
// fetches the authoritative records anyway.
func mutate[T any](ctx context.Context, remote Remote, method, path string, body any) (Outcome[T], error) {
	raw, err := remote.Do(ctx, method, path, appclient.RequestOptions{Body: body})
	if err != nil {
		return Outcome[T]{}, err
	}
	if err := CheckMarker(raw); err != nil {
		return Outcome[T]{}, err
	}
	entity, _ := DecodeEntity[T](raw)
	return Outcome[T]{Entity: entity}, nil
}

// CheckMarker turns a delivered envelope with a non-OK status into a
// *api.DomainError. Bodies without a marker pass.
func CheckMarker(raw []byte) error {
	env, ok := api.ParseEnvelope(raw)
	if !ok || env.OK() {
		return nil
	}
	return &api.DomainError{Status: env.Status, Message: env.Message}
}

// DecodeEntity reads a single record from an envelope's data or from a bare
// object. Empty bodies and null data yield nil.
func DecodeEntity[T any](raw []byte) (*T, error) {
	body := bytes.TrimSpace(raw)
	if env, ok := api.ParseEnvelope(body); ok {
		body = bytes.TrimSpace(env.Data)
	}
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &out, nil
}

func idOf(payload any) (string, error) {
	var id string
	switch p := payload.(type) {
	case command.IDPayload:
		id = p.ID
	case string:
		id = p
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("id is required")
	}
	return id, nil
}
