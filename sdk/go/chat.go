package clawsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"clawlegion/internal/domain"
)

// wireMessage is the backend message shape. Timestamps arrive as createdAt or
// timestamp, either RFC 3339 strings or epoch milliseconds.
type wireMessage struct {
	ID           string                  `json:"id"`
	Content      string                  `json:"content"`
	SenderType   string                  `json:"senderType"`
	SenderID     string                  `json:"senderId"`
	SenderName   string                  `json:"senderName"`
	CreatedAt    json.RawMessage         `json:"createdAt,omitempty"`
	Timestamp    json.RawMessage         `json:"timestamp,omitempty"`
	MessageType  string                  `json:"messageType,omitempty"`
	Attachments  []domain.ChatAttachment `json:"attachments,omitempty"`
	Mentions     []string                `json:"mentions,omitempty"`
	MentionedAll bool                    `json:"mentionedAll,omitempty"`
}

func (w wireMessage) toDomain() domain.ChatMessage {
	ts, ok := parseWireTime(w.CreatedAt)
	if !ok {
		ts, _ = parseWireTime(w.Timestamp)
	}
	senderType := domain.SenderType(w.SenderType)
	if senderType == "" {
		senderType = domain.SenderAgent
	}
	return domain.ChatMessage{
		ID:           w.ID,
		Content:      w.Content,
		SenderType:   senderType,
		SenderID:     w.SenderID,
		SenderName:   w.SenderName,
		Timestamp:    ts,
		MessageType:  w.MessageType,
		Attachments:  w.Attachments,
		Mentions:     w.Mentions,
		MentionedAll: w.MentionedAll,
	}
}

func parseWireTime(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// messageList accepts either a bare array or {"messages": [...]}.
type messageList []wireMessage

func (l *messageList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []wireMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var env struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*l = env.Messages
	return nil
}

func (l messageList) toDomain() []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(l))
	for _, m := range l {
		out = append(out, m.toDomain())
	}
	return out
}

// RoomMessages returns the message history of a room, in whatever order the backend sends it.
func (c *Client) RoomMessages(ctx context.Context, roomID string) ([]domain.ChatMessage, error) {
	var resp messageList
	endpoint := apiPath("chat/messages") + "?roomId=" + url.QueryEscape(roomID)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.toDomain(), err
}

// DMMessages returns the 1:1 thread with an agent.
func (c *Client) DMMessages(ctx context.Context, agentID string) ([]domain.ChatMessage, error) {
	var resp messageList
	err := c.do(ctx, http.MethodGet, apiPath("chat/dms/%s", agentID), nil, &resp)
	return resp.toDomain(), err
}

// FetchMessages dispatches on the target kind.
func (c *Client) FetchMessages(ctx context.Context, target domain.ChatTarget) ([]domain.ChatMessage, error) {
	switch target.Kind {
	case domain.TargetRoom:
		return c.RoomMessages(ctx, target.ID)
	case domain.TargetDM:
		return c.DMMessages(ctx, target.ID)
	default:
		return nil, fmt.Errorf("unknown chat target kind %q", target.Kind)
	}
}

// SendRequest is the outgoing message body.
type SendRequest struct {
	Content     string                  `json:"content"`
	SenderID    string                  `json:"senderId,omitempty"`
	SenderName  string                  `json:"senderName,omitempty"`
	Agents      []string                `json:"agents,omitempty"`
	Attachments []domain.ChatAttachment `json:"attachments,omitempty"`
}

type sendResponse struct {
	Message wireMessage `json:"message"`
}

// SendRoomMessage posts to a room; agents lists the mentioned participants to wake.
func (c *Client) SendRoomMessage(ctx context.Context, roomID string, req SendRequest) (domain.ChatMessage, error) {
	body := map[string]any{
		"roomId":  roomID,
		"content": req.Content,
		"agents":  req.Agents,
	}
	if req.SenderID != "" {
		body["senderId"] = req.SenderID
	}
	if req.SenderName != "" {
		body["senderName"] = req.SenderName
	}
	if len(req.Attachments) > 0 {
		body["attachments"] = req.Attachments
	}
	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, apiPath("chat/send"), body, &resp); err != nil {
		return domain.ChatMessage{}, err
	}
	return resp.Message.toDomain(), nil
}

// SendDM posts into the thread with an agent.
func (c *Client) SendDM(ctx context.Context, agentID string, req SendRequest) (domain.ChatMessage, error) {
	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, apiPath("chat/dms/%s/send", agentID), req, &resp); err != nil {
		return domain.ChatMessage{}, err
	}
	return resp.Message.toDomain(), nil
}

// SendMessage dispatches on the target kind.
func (c *Client) SendMessage(ctx context.Context, target domain.ChatTarget, req SendRequest) (domain.ChatMessage, error) {
	switch target.Kind {
	case domain.TargetRoom:
		return c.SendRoomMessage(ctx, target.ID, req)
	case domain.TargetDM:
		return c.SendDM(ctx, target.ID, req)
	default:
		return domain.ChatMessage{}, fmt.Errorf("unknown chat target kind %q", target.Kind)
	}
}

type roomList []domain.Room

func (l *roomList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []domain.Room
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var env struct {
		Rooms []domain.Room `json:"rooms"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*l = env.Rooms
	return nil
}

// roomEnvelope accepts either {"room": {...}} or a bare room object.
type roomEnvelope struct {
	room domain.Room
}

func (e *roomEnvelope) UnmarshalJSON(data []byte) error {
	var env struct {
		Room *domain.Room `json:"room"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Room != nil {
		e.room = *env.Room
		return nil
	}
	return json.Unmarshal(data, &e.room)
}

func (e roomEnvelope) value() domain.Room { return e.room }

// ListRooms returns all chat rooms.
func (c *Client) ListRooms(ctx context.Context) ([]domain.Room, error) {
	var resp roomList
	err := c.do(ctx, http.MethodGet, apiPath("chat/rooms"), nil, &resp)
	return resp, err
}

// CreateRoom creates a room with initial participants.
func (c *Client) CreateRoom(ctx context.Context, name, description string, participants []string) (domain.Room, error) {
	body := map[string]any{
		"name":         name,
		"description":  description,
		"participants": participants,
	}
	var resp roomEnvelope
	err := c.do(ctx, http.MethodPost, apiPath("chat/rooms"), body, &resp)
	return resp.value(), err
}

// GetRoom fetches one room.
func (c *Client) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	var resp roomEnvelope
	err := c.do(ctx, http.MethodGet, apiPath("chat/rooms/%s", roomID), nil, &resp)
	return resp.value(), err
}

// DeleteRoom removes a room.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodDelete, apiPath("chat/rooms/%s", roomID), nil, nil)
}

// AddParticipant adds an agent to a room.
func (c *Client) AddParticipant(ctx context.Context, roomID, agentID string) error {
	body := map[string]any{"agentId": agentID}
	return c.do(ctx, http.MethodPost, apiPath("chat/rooms/%s/participants", roomID), body, nil)
}

// RemoveParticipant removes an agent from a room.
func (c *Client) RemoveParticipant(ctx context.Context, roomID, agentID string) error {
	return c.do(ctx, http.MethodDelete, apiPath("chat/rooms/%s/participants/%s", roomID, agentID), nil, nil)
}

// Upload sends a media file as multipart form data and returns the stored attachment.
func (c *Client) Upload(ctx context.Context, kind domain.AttachmentType, filename, mimeType string, r io.Reader) (domain.ChatAttachment, error) {
	switch kind {
	case domain.AttachmentImage, domain.AttachmentAudio, domain.AttachmentVideo:
	default:
		return domain.ChatAttachment{}, fmt.Errorf("unsupported upload kind %q", kind)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filepath.Base(filename))))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return domain.ChatAttachment{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return domain.ChatAttachment{}, err
	}
	if err := mw.Close(); err != nil {
		return domain.ChatAttachment{}, err
	}
	var res domain.UploadResult
	if err := c.send(ctx, http.MethodPost, apiPath("chat/upload/%s", string(kind)), &buf, mw.FormDataContentType(), &res); err != nil {
		return domain.ChatAttachment{}, err
	}
	return domain.ChatAttachment{
		Type:     kind,
		URL:      res.URL,
		Filename: res.Filename,
		MimeType: res.MimeType,
		Size:     res.Size,
		Width:    res.Width,
		Height:   res.Height,
	}, nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}
