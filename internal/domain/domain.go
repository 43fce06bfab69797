package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type AgentTier string

const (
	TierCouncil AgentTier = "council"
	TierArmy    AgentTier = "army"
)

// AgentRole is the pipeline capability an agent fills in a flow configuration.
type AgentRole string

const (
	RoleCoordinator AgentRole = "coordinator"
	RoleResearcher  AgentRole = "researcher"
	RolePlanner     AgentRole = "planner"
	RoleBuilder     AgentRole = "builder"
	RoleDesigner    AgentRole = "designer"
	RoleVerifier    AgentRole = "verifier"
	RoleWriter      AgentRole = "writer"
)

type Agent struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	Role            AgentRole `json:"role" yaml:"role"`
	Emoji           string    `json:"emoji" yaml:"emoji"`
	Color           string    `json:"color" yaml:"color"`
	Avatar          string    `json:"avatar" yaml:"avatar"`
	Tier            AgentTier `json:"tier" yaml:"tier"`
	Capabilities    []string  `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	WebhookEnvVar   string    `json:"webhookEnvVar,omitempty" yaml:"webhook_env_var,omitempty"`
	ExternalAgentID string    `json:"externalAgentId,omitempty" yaml:"external_agent_id,omitempty"`
	Port            int       `json:"port,omitempty" yaml:"port,omitempty"`
	Fallback        bool      `json:"fallback,omitempty" yaml:"-"`
}

type SenderType string

const (
	SenderHuman SenderType = "human"
	SenderAgent SenderType = "agent"
)

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
	AttachmentAudio AttachmentType = "audio"
)

type ChatAttachment struct {
	Type      AttachmentType `json:"type"`
	URL       string         `json:"url"`
	Filename  string         `json:"filename"`
	MimeType  string         `json:"mimeType"`
	Size      int64          `json:"size"`
	Width     int            `json:"width,omitempty"`
	Height    int            `json:"height,omitempty"`
	Duration  float64        `json:"duration,omitempty"`
	Thumbnail string         `json:"thumbnail,omitempty"`
}

type ChatMessage struct {
	ID           string           `json:"id"`
	Content      string           `json:"content"`
	SenderType   SenderType       `json:"senderType"`
	SenderID     string           `json:"senderId"`
	SenderName   string           `json:"senderName"`
	Timestamp    time.Time        `json:"timestamp"`
	MessageType  string           `json:"messageType,omitempty"`
	Attachments  []ChatAttachment `json:"attachments,omitempty"`
	Mentions     []string         `json:"mentions,omitempty"`
	MentionedAll bool             `json:"mentionedAll,omitempty"`
	Pending      bool             `json:"pending,omitempty"`
}

type TargetKind string

const (
	TargetRoom TargetKind = "room"
	TargetDM   TargetKind = "dm"
)

// ChatTarget identifies a conversation: a shared room or a 1:1 thread with an agent.
type ChatTarget struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

func RoomTarget(roomID string) ChatTarget { return ChatTarget{Kind: TargetRoom, ID: roomID} }
func DMTarget(agentID string) ChatTarget  { return ChatTarget{Kind: TargetDM, ID: agentID} }

func (t ChatTarget) IsZero() bool { return t.ID == "" }

func (t ChatTarget) String() string { return fmt.Sprintf("%s:%s", t.Kind, t.ID) }

type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return true
	}
	return false
}

type TaskRef struct {
	ID      string `json:"id"`
	ShortID string `json:"shortId,omitempty"`
	Title   string `json:"title"`
	Status  string `json:"status,omitempty"`
}

type Repository struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

type Task struct {
	ID                   string             `json:"id"`
	ShortID              string             `json:"shortId,omitempty"`
	Title                string             `json:"title"`
	Description          string             `json:"description,omitempty"`
	Specs                string             `json:"specs,omitempty"`
	Approach             string             `json:"approach,omitempty"`
	SuccessCriteria      []SuccessCriterion `json:"successCriteria,omitempty"`
	Priority             Priority           `json:"priority"`
	Status               string             `json:"status"`
	ParentID             string             `json:"parentId,omitempty"`
	Parent               *TaskRef           `json:"parent,omitempty"`
	Subtasks             []TaskRef          `json:"subtasks,omitempty"`
	RepositoryID         string             `json:"repositoryId,omitempty"`
	Repository           *Repository        `json:"repository,omitempty"`
	Assignee             string             `json:"assignee,omitempty"`
	CreatedBy            string             `json:"createdBy,omitempty"`
	ApprovedBy           string             `json:"approvedBy,omitempty"`
	ApprovedAt           *time.Time         `json:"approvedAt,omitempty"`
	VerifiedBy           string             `json:"verifiedBy,omitempty"`
	VerifiedAt           *time.Time         `json:"verifiedAt,omitempty"`
	VerificationAttempts int                `json:"verificationAttempts,omitempty"`
	LastVerificationNote string             `json:"lastVerificationNote,omitempty"`
	FlowConfig           *FlowConfiguration `json:"flowConfig,omitempty"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt,omitempty"`
}

type ActorType string

const (
	ActorHuman  ActorType = "human"
	ActorAgent  ActorType = "agent"
	ActorSystem ActorType = "system"
)

// Activity event types recorded by the backend.
const (
	EventCreated            = "created"
	EventStatusChange       = "status_change"
	EventPriorityChange     = "priority_change"
	EventAssigned           = "assigned"
	EventHandoff            = "handoff"
	EventSubmitted          = "submitted"
	EventVerificationPassed = "verification_passed"
	EventVerificationFailed = "verification_failed"
	EventAgentCompleted     = "agent_completed"
	EventAgentFailed        = "agent_failed"
	EventComment            = "comment"
	EventBlocked            = "blocked"
	EventRoutingFailed      = "routing_failed"
	EventApproved           = "approved"
)

// ActivityDetails holds event-specific fields; shape varies per event type.
type ActivityDetails map[string]any

func (d ActivityDetails) String(key string) string {
	if d == nil {
		return ""
	}
	switch v := d[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (d ActivityDetails) FromValue() string { return d.String("fromValue") }
func (d ActivityDetails) ToValue() string   { return d.String("toValue") }

type TaskActivity struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"taskId"`
	EventType string          `json:"eventType"`
	Actor     string          `json:"actor"`
	ActorType ActorType       `json:"actorType"`
	Details   ActivityDetails `json:"details,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type TaskComment struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"taskId"`
	Author     string    `json:"author"`
	AuthorType ActorType `json:"authorType,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ResourceLevel string

const (
	ResourceLow    ResourceLevel = "low"
	ResourceMedium ResourceLevel = "medium"
	ResourceHigh   ResourceLevel = "high"
	ResourceLocal  ResourceLevel = "local"
)

type FlowStep struct {
	Role          AgentRole     `json:"role"`
	Enabled       bool          `json:"enabled"`
	ResourceLevel ResourceLevel `json:"resourceLevel"`
}

// FlowConfiguration is the ordered agent pipeline of a task. Preset is empty
// ("custom") once the steps diverge from the preset they were built from.
type FlowConfiguration struct {
	Preset string     `json:"preset,omitempty"`
	Steps  []FlowStep `json:"steps"`
}

func (f FlowConfiguration) EnabledCount() int {
	n := 0
	for _, s := range f.Steps {
		if s.Enabled {
			n++
		}
	}
	return n
}

type SuccessCriterion struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// UnmarshalJSON also accepts a bare string, which older tasks store.
func (c *SuccessCriterion) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = SuccessCriterion{Text: text}
		return nil
	}
	type plain SuccessCriterion
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = SuccessCriterion(p)
	return nil
}

type CriterionCheck struct {
	Criterion string `json:"criterion"`
	Checked   bool   `json:"checked"`
	Evidence  string `json:"evidence,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type UploadResult struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// ExpandResult is the structured draft returned by the task expansion endpoint.
type ExpandResult struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Priority        Priority `json:"priority,omitempty"`
	SuccessCriteria []string `json:"successCriteria,omitempty"`
	Specs           string   `json:"specs,omitempty"`
	Approach        string   `json:"approach,omitempty"`
}
