// ABOUTME: HTTP API handlers for conversations, bots, contacts, and presence
// ABOUTME: Translates JSON requests into conversation service calls and maps errors to status codes

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389/huddle-gateway/internal/auth"
	"github.com/2389/huddle-gateway/internal/conversation"
	"github.com/2389/huddle-gateway/internal/dispatch"
	"github.com/2389/huddle-gateway/internal/secret"
	"github.com/2389/huddle-gateway/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// CreateConversationRequest is the JSON request body for POST /api/conversations.
type CreateConversationRequest struct {
	Participants []string `json:"participants"`
	Name         string   `json:"name,omitempty"`
	IsGroup      bool     `json:"is_group,omitempty"`
}

// RenameRequest is the JSON request body for PUT /api/conversations/{id}/name.
type RenameRequest struct {
	Name string `json:"name"`
}

// MemberRequest is the JSON request body for POST /api/conversations/{id}/members
// and POST /api/contacts.
type MemberRequest struct {
	Identity string `json:"identity"`
}

// SendMessageRequest is the JSON request body for posting a message.
type SendMessageRequest struct {
	Text       string `json:"text"`
	Attachment string `json:"attachment,omitempty"`
}

// CreateBotRequest is the JSON request body for POST /api/bots.
type CreateBotRequest struct {
	Name   string `json:"name"`
	Model  string `json:"model"`
	APIKey string `json:"api_key"`
}

// ConversationResponse is the JSON form of a conversation.
type ConversationResponse struct {
	ID            string    `json:"id"`
	Participants  []string  `json:"participants"`
	IsGroup       bool      `json:"is_group"`
	Name          string    `json:"name,omitempty"`
	AdminID       string    `json:"admin_id,omitempty"`
	LastMessageID string    `json:"last_message_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BotResponse is the JSON form of a bot profile. The sealed key is never exposed.
type BotResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	IsDefault bool      `json:"is_default"`
	Owned     bool      `json:"owned"`
	CreatedAt time.Time `json:"created_at"`
}

// BotExchangeResponse is the JSON response for POST /api/bots/{id}/messages.
// On dispatch failure Reply is omitted and Error is set.
type BotExchangeResponse struct {
	Message *store.Message `json:"message"`
	Reply   *store.Message `json:"reply,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// PresenceResponse is the JSON response for GET /api/presence.
type PresenceResponse struct {
	Online []string `json:"online"`
}

func toConversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:            c.ID,
		Participants:  c.Participants,
		IsGroup:       c.IsGroup,
		Name:          c.Name,
		AdminID:       c.AdminID,
		LastMessageID: c.LastMessageID,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func toBotResponse(b *store.BotProfile, identity string) BotResponse {
	return BotResponse{
		ID:        b.ID,
		Name:      b.Name,
		Model:     b.Model,
		IsDefault: b.IsDefault,
		Owned:     b.OwnerID == identity,
		CreatedAt: b.CreatedAt,
	}
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes a JSON request body into v, writing a 400 on failure.
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// errorStatus maps service errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, conversation.ErrInvalidInput),
		errors.Is(err, dispatch.ErrUnsupportedModel):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrNotParticipant),
		errors.Is(err, conversation.ErrNotAdmin):
		return http.StatusForbidden
	case errors.Is(err, conversation.ErrMembership):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, secret.ErrIntegrity):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrProviderDispatch):
		return http.StatusBadGateway
	case errors.Is(err, secret.ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage is the error text shown to clients for err. Server-side
// faults are logged and reported generically.
func (g *Gateway) clientMessage(r *http.Request, status int, err error) string {
	switch status {
	case http.StatusInternalServerError:
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		return "internal server error"
	case http.StatusServiceUnavailable:
		g.logger.Error("gateway misconfigured", "method", r.Method, "path", r.URL.Path, "error", err)
		return "bot service is not configured"
	default:
		return err.Error()
	}
}

// sendServiceError writes the mapped status and client message for err.
func (g *Gateway) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	g.sendJSONError(w, status, g.clientMessage(r, status, err))
}

func identityOf(r *http.Request) string {
	return auth.MustFromContext(r.Context()).Identity
}

// handleCreateConversation handles POST /api/conversations.
// Returns 201 for a new conversation and 200 when an existing direct
// conversation is returned.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if !g.decodeBody(w, r, &req) {
		return
	}

	conv, created, err := g.conversation.CreateConversation(r.Context(), conversation.CreateRequest{
		Creator:      identityOf(r),
		Participants: req.Participants,
		Name:         req.Name,
		IsGroup:      req.IsGroup,
	})
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	g.writeJSON(w, status, toConversationResponse(conv))
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := g.conversation.ListConversations(r.Context(), identityOf(r))
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}

	out := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationResponse(c))
	}
	g.writeJSON(w, http.StatusOK, out)
}

// handleRenameConversation handles PUT /api/conversations/{id}/name.
func (g *Gateway) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !g.decodeBody(w, r, &req) {
		return
	}

	conv, err := g.conversation.RenameGroup(r.Context(), identityOf(r), r.PathValue("id"), req.Name)
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// handleAddMember handles POST /api/conversations/{id}/members.
func (g *Gateway) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if !g.decodeBody(w, r, &req) {
		return
	}

	conv, err := g.conversation.AddMember(r.Context(), identityOf(r), r.PathValue("id"), req.Identity)
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// handleRemoveMember handles DELETE /api/conversations/{id}/members/{identity}.
func (g *Gateway) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	conv, err := g.conversation.RemoveMember(r.Context(), identityOf(r), r.PathValue("id"), r.PathValue("identity"))
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// handleListMessages handles GET /api/conversations/{id}/messages.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := g.conversation.Messages(r.Context(), identityOf(r), r.PathValue("id"))
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, nonNil(msgs))
}

// handleSendMessage handles POST /api/conversations/{id}/messages.
// With an Idempotency-Key header, a retry within the replay window returns
// the originally stored message instead of sending a second one.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !g.decodeBody(w, r, &req) {
		return
	}

	identity := identityOf(r)
	convID := r.PathValue("id")

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		idemKey = identity + "\x00" + convID + "\x00" + idemKey
		prior, inFlight, claimed := g.idempotency.Claim(idemKey)
		switch {
		case inFlight:
			g.sendJSONError(w, http.StatusConflict, "a request with this idempotency key is in progress")
			return
		case !claimed:
			g.writeJSON(w, http.StatusOK, prior)
			return
		}
	}

	msg, err := g.conversation.SendMessage(r.Context(), identity, convID, req.Text, req.Attachment)
	if err != nil {
		if idemKey != "" {
			g.idempotency.Release(idemKey)
		}
		g.sendServiceError(w, r, err)
		return
	}
	if idemKey != "" {
		g.idempotency.Complete(idemKey, msg)
	}

	g.writeJSON(w, http.StatusCreated, msg)
}

// handleCreateBot handles POST /api/bots.
func (g *Gateway) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req CreateBotRequest
	if !g.decodeBody(w, r, &req) {
		return
	}

	identity := identityOf(r)
	bot, err := g.conversation.CreateBot(r.Context(), identity, req.Name, req.Model, req.APIKey)
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, toBotResponse(bot, identity))
}

// handleListBots handles GET /api/bots.
func (g *Gateway) handleListBots(w http.ResponseWriter, r *http.Request) {
	identity := identityOf(r)
	bots, err := g.conversation.ListBots(r.Context(), identity)
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}

	out := make([]BotResponse, 0, len(bots))
	for _, b := range bots {
		out = append(out, toBotResponse(b, identity))
	}
	g.writeJSON(w, http.StatusOK, out)
}

// handleDeleteBot handles DELETE /api/bots/{id}.
func (g *Gateway) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	if err := g.conversation.DeleteBot(r.Context(), identityOf(r), r.PathValue("id")); err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBotMessages handles GET /api/bots/{id}/messages.
func (g *Gateway) handleBotMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := g.conversation.BotMessages(r.Context(), identityOf(r), r.PathValue("id"))
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, nonNil(msgs))
}

// handleSendToBot handles POST /api/bots/{id}/messages.
// When the human message was stored but the reply failed, the response
// carries the stored message alongside the error.
func (g *Gateway) handleSendToBot(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !g.decodeBody(w, r, &req) {
		return
	}

	ex, err := g.conversation.SendToBot(r.Context(), identityOf(r), r.PathValue("id"), req.Text)
	if err != nil {
		if ex == nil {
			g.sendServiceError(w, r, err)
			return
		}
		status := errorStatus(err)
		g.writeJSON(w, status, BotExchangeResponse{Message: ex.Human, Error: g.clientMessage(r, status, err)})
		return
	}

	g.writeJSON(w, http.StatusCreated, BotExchangeResponse{Message: ex.Human, Reply: ex.Reply})
}

// handleAddContact handles POST /api/contacts.
func (g *Gateway) handleAddContact(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if !g.decodeBody(w, r, &req) {
		return
	}

	if err := g.conversation.AddContact(r.Context(), identityOf(r), req.Identity); err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePresence handles GET /api/presence.
func (g *Gateway) handlePresence(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, PresenceResponse{Online: nonNil(g.registry.ListOnline())})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
