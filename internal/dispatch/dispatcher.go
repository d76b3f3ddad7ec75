// Package dispatch forwards approved function calls to remote execution
// servers. Every failure in here is folded into a dispatch error; a broken
// function must never take the chat turn down with it.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/apiforllm/chat-server-go/internal/errors"
	"github.com/apiforllm/chat-server-go/internal/model"
	"github.com/apiforllm/chat-server-go/internal/repository"
	"github.com/apiforllm/chat-server-go/internal/signing"
)

type Dispatcher struct {
	templates repository.TemplateRepository
	functions repository.FunctionRepository
	servers   repository.FunctionServerRepository
	signer    *signing.Signer
	secretKey string
	client    *http.Client
}

func NewDispatcher(
	templates repository.TemplateRepository,
	functions repository.FunctionRepository,
	servers repository.FunctionServerRepository,
	signer *signing.Signer,
	secretKey string,
	timeout time.Duration,
) *Dispatcher {
	return &Dispatcher{
		templates: templates,
		functions: functions,
		servers:   servers,
		signer:    signer,
		secretKey: secretKey,
		client:    &http.Client{Timeout: timeout},
	}
}

// jobPayload is the wire contract with function servers. The function name
// doubles as the image identifier the server runs.
type jobPayload struct {
	DockerImage string         `json:"docker_image"`
	Arguments   map[string]any `json:"arguments"`
	Network     bool           `json:"network"`
}

// Dispatch authorizes the call, merges the function's decrypted secrets
// into its arguments and posts the job to the session's function server.
// The job's output comes back asynchronously on the callback channel.
func (d *Dispatcher) Dispatch(ctx context.Context, session *model.Session, name, arguments string) error {
	fn, server, err := d.authorize(ctx, session, name)
	if err != nil {
		return apperrors.Dispatch(err)
	}

	args := map[string]any{}
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return apperrors.Dispatch(fmt.Errorf("parse arguments: %w", err))
		}
	}

	if err := d.mergeSecrets(ctx, fn, args); err != nil {
		return apperrors.Dispatch(err)
	}

	body, err := json.Marshal(jobPayload{
		DockerImage: fn.Name,
		Arguments:   args,
		Network:     fn.NetworkAccess,
	})
	if err != nil {
		return apperrors.Dispatch(err)
	}

	url := strings.TrimRight(server.Hostname, "/") + "/runfunction/" + session.ID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.Dispatch(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", d.signer.Sign(session.ID))

	resp, err := d.client.Do(req)
	if err != nil {
		return apperrors.Dispatch(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.Dispatch(fmt.Errorf("function server returned %d", resp.StatusCode))
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("function", fn.Name).
		Str("server", server.Name).
		Msg("function dispatched")

	return nil
}

// authorize checks the dispatch policy: the session must have a bound
// function server, the function must exist under the session's template and
// both the server and the function must be public or owned by the session's
// user.
func (d *Dispatcher) authorize(ctx context.Context, session *model.Session, name string) (*model.Function, *model.FunctionServer, error) {
	if session.FunctionServerID == nil {
		return nil, nil, fmt.Errorf("session %s has no function server", session.ID)
	}

	fn, err := d.templates.FindFunctionByName(ctx, session.TemplateID, name)
	if err != nil {
		return nil, nil, err
	}
	if fn == nil {
		return nil, nil, apperrors.UnknownFunction(name)
	}

	server, err := d.servers.FindByID(ctx, *session.FunctionServerID)
	if err != nil {
		return nil, nil, err
	}
	if server == nil {
		return nil, nil, fmt.Errorf("function server %s not found", *session.FunctionServerID)
	}

	if !server.IsPublic && (server.AccountID == nil || *server.AccountID != session.AccountID) {
		return nil, nil, fmt.Errorf("function server %s is not available to this session", server.Name)
	}
	if !fn.IsPublic && fn.AccountID != session.AccountID {
		return nil, nil, apperrors.UnknownFunction(name)
	}
	return fn, server, nil
}

// mergeSecrets decrypts the function's secrets into args in place.
// A secret whose name collides with a caller-supplied argument aborts the
// dispatch: silently overwriting either side would hide a misconfiguration.
func (d *Dispatcher) mergeSecrets(ctx context.Context, fn *model.Function, args map[string]any) error {
	secrets, err := d.functions.ListSecrets(ctx, fn.ID)
	if err != nil {
		return err
	}
	for i := range secrets {
		if _, exists := args[secrets[i].Name]; exists {
			return fmt.Errorf("secret name %q collides with a call argument", secrets[i].Name)
		}
		value, err := secrets[i].DecryptValue(d.secretKey)
		if err != nil {
			return fmt.Errorf("decrypt secret %q: %w", secrets[i].Name, err)
		}
		args[secrets[i].Name] = value
	}
	return nil
}
