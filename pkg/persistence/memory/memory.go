// Package memory provides an in-memory persistence implementation used by
// tests and dry-runs.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence"
)

// Persistence implements persistence.Persistence with mutex-protected maps.
type Persistence struct {
	mu sync.RWMutex

	states        map[string]*models.WorkflowState
	agents        map[string]*models.AgentDefinition
	assignees     map[string][]*models.Assignee
	conversations map[string]*models.Conversation
	leads         map[string]*models.Lead
	messages      map[string][]*models.Message
	inviteLog     []*models.InviteLogEntry
	accounts      map[string]*models.MessagingAccount
	rotation      map[string]*models.RotationState
	assignments   []*models.AssignmentRecord
	tags          map[string]map[string]bool
	pipeline      map[string]*models.PipelineRecord
	notifications []*models.Notification
}

func NewPersistence() *Persistence {
	return &Persistence{
		states:        make(map[string]*models.WorkflowState),
		agents:        make(map[string]*models.AgentDefinition),
		assignees:     make(map[string][]*models.Assignee),
		conversations: make(map[string]*models.Conversation),
		leads:         make(map[string]*models.Lead),
		messages:      make(map[string][]*models.Message),
		accounts:      make(map[string]*models.MessagingAccount),
		rotation:      make(map[string]*models.RotationState),
		tags:          make(map[string]map[string]bool),
		pipeline:      make(map[string]*models.PipelineRecord),
	}
}

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }
func (p *Persistence) Close(_ context.Context) error       { return nil }

func (p *Persistence) WorkflowStates() persistence.WorkflowStateRepository { return &stateRepo{p} }
func (p *Persistence) Agents() persistence.AgentRepository                 { return &agentRepo{p} }
func (p *Persistence) Conversations() persistence.ConversationRepository   { return &conversationRepo{p} }
func (p *Persistence) Leads() persistence.LeadRepository                   { return &leadRepo{p} }
func (p *Persistence) Messages() persistence.MessageRepository             { return &messageRepo{p} }
func (p *Persistence) InviteLog() persistence.InviteLogRepository          { return &inviteLogRepo{p} }
func (p *Persistence) Accounts() persistence.AccountRepository             { return &accountRepo{p} }
func (p *Persistence) Rotation() persistence.RotationRepository            { return &rotationRepo{p} }
func (p *Persistence) Tags() persistence.TagRepository                     { return &tagRepo{p} }
func (p *Persistence) Pipeline() persistence.PipelineRepository            { return &pipelineRepo{p} }
func (p *Persistence) Notifications() persistence.NotificationRepository   { return &notificationRepo{p} }

// clone roundtrips through JSON so callers never share internal pointers.
func clone[T any](in *T) *T {
	if in == nil {
		return nil
	}

	raw, err := json.Marshal(in)
	if err != nil {
		return nil
	}

	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil
	}

	return out
}

type stateRepo struct{ p *Persistence }

func (r *stateRepo) Get(_ context.Context, conversationID string) (*models.WorkflowState, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	state, ok := r.p.states[conversationID]
	if !ok {
		return nil, persistence.ErrWorkflowStateNotFound
	}

	return clone(state), nil
}

func (r *stateRepo) Save(_ context.Context, state *models.WorkflowState) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	state.UpdatedAt = time.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = state.UpdatedAt
	}

	r.p.states[state.ConversationID] = clone(state)

	return nil
}

type agentRepo struct{ p *Persistence }

func (r *agentRepo) GetByID(_ context.Context, id string) (*models.AgentDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	agent, ok := r.p.agents[id]
	if !ok {
		return nil, persistence.ErrAgentNotFound
	}

	return clone(agent), nil
}

func (r *agentRepo) Save(_ context.Context, agent *models.AgentDefinition) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.agents[agent.ID] = clone(agent)

	return nil
}

func (r *agentRepo) Assignees(_ context.Context, agentID string) ([]*models.Assignee, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	assignees := make([]*models.Assignee, 0, len(r.p.assignees[agentID]))
	for _, assignee := range r.p.assignees[agentID] {
		assignees = append(assignees, clone(assignee))
	}

	sort.SliceStable(assignees, func(i, j int) bool { return assignees[i].Order < assignees[j].Order })

	return assignees, nil
}

func (r *agentRepo) SaveAssignees(_ context.Context, agentID string, assignees []*models.Assignee) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored := make([]*models.Assignee, 0, len(assignees))
	for _, assignee := range assignees {
		stored = append(stored, clone(assignee))
	}

	r.p.assignees[agentID] = stored

	// A roster change rewinds the cursor instead of discarding the state,
	// matching the Postgres repository.
	if state, ok := r.p.rotation[agentID]; ok {
		state.CurrentPosition = 0
		state.UpdatedAt = time.Now().UTC()
	}

	return nil
}

type conversationRepo struct{ p *Persistence }

func (r *conversationRepo) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	conversation, ok := r.p.conversations[id]
	if !ok {
		return nil, persistence.ErrConversationNotFound
	}

	return clone(conversation), nil
}

func (r *conversationRepo) Save(_ context.Context, conversation *models.Conversation) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	conversation.UpdatedAt = time.Now().UTC()
	r.p.conversations[conversation.ID] = clone(conversation)

	return nil
}

type leadRepo struct{ p *Persistence }

func (r *leadRepo) GetByID(_ context.Context, id string) (*models.Lead, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	lead, ok := r.p.leads[id]
	if !ok {
		return nil, persistence.ErrLeadNotFound
	}

	return clone(lead), nil
}

func (r *leadRepo) Save(_ context.Context, lead *models.Lead) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.leads[lead.ID] = clone(lead)

	return nil
}

type messageRepo struct{ p *Persistence }

func (r *messageRepo) Append(_ context.Context, message *models.Message) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if message.SentAt.IsZero() {
		message.SentAt = time.Now().UTC()
	}

	r.p.messages[message.ConversationID] = append(r.p.messages[message.ConversationID], clone(message))

	return nil
}

func (r *messageRepo) ByConversation(_ context.Context, conversationID string) ([]*models.Message, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	messages := make([]*models.Message, 0, len(r.p.messages[conversationID]))
	for _, message := range r.p.messages[conversationID] {
		messages = append(messages, clone(message))
	}

	return messages, nil
}

type inviteLogRepo struct{ p *Persistence }

func (r *inviteLogRepo) Append(_ context.Context, entry *models.InviteLogEntry) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}

	r.p.inviteLog = append(r.p.inviteLog, clone(entry))

	return nil
}

func (r *inviteLogRepo) CountSince(_ context.Context, accountID, status string, since time.Time) (int, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	count := 0

	for _, entry := range r.p.inviteLog {
		if entry.AccountID == accountID && entry.Status == status && entry.SentAt.After(since) {
			count++
		}
	}

	return count, nil
}

func (r *inviteLogRepo) CountWithMessageBetween(_ context.Context, accountID string, from, to time.Time) (int, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	count := 0

	for _, entry := range r.p.inviteLog {
		if entry.AccountID != accountID || entry.Status != models.InviteStatusSent || !entry.MessageIncluded {
			continue
		}

		if !entry.SentAt.Before(from) && entry.SentAt.Before(to) {
			count++
		}
	}

	return count, nil
}

func (r *inviteLogRepo) PendingOlderThan(_ context.Context, accountID string, cutoff time.Time) ([]*models.InviteLogEntry, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	resolved := make(map[string]bool)

	for _, entry := range r.p.inviteLog {
		if entry.AccountID != accountID || entry.LeadID == "" {
			continue
		}

		switch entry.Status {
		case models.InviteStatusAccepted, models.InviteStatusExpired, models.InviteStatusWithdraw:
			resolved[entry.LeadID] = true
		}
	}

	pending := make([]*models.InviteLogEntry, 0)

	for _, entry := range r.p.inviteLog {
		if entry.AccountID != accountID || entry.Status != models.InviteStatusSent {
			continue
		}

		if entry.SentAt.After(cutoff) || resolved[entry.LeadID] {
			continue
		}

		pending = append(pending, clone(entry))
	}

	return pending, nil
}

type accountRepo struct{ p *Persistence }

func (r *accountRepo) GetByID(_ context.Context, id string) (*models.MessagingAccount, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	account, ok := r.p.accounts[id]
	if !ok {
		return nil, persistence.ErrAccountNotFound
	}

	return clone(account), nil
}

func (r *accountRepo) Save(_ context.Context, account *models.MessagingAccount) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.accounts[account.ID] = clone(account)

	return nil
}

func (r *accountRepo) All(_ context.Context) ([]*models.MessagingAccount, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	accounts := make([]*models.MessagingAccount, 0, len(r.p.accounts))
	for _, account := range r.p.accounts {
		accounts = append(accounts, clone(account))
	}

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

	return accounts, nil
}

type rotationRepo struct{ p *Persistence }

func (r *rotationRepo) GetState(_ context.Context, agentID string) (*models.RotationState, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	state, ok := r.p.rotation[agentID]
	if !ok {
		return nil, persistence.ErrRotationStateNotFound
	}

	return clone(state), nil
}

func (r *rotationRepo) SaveState(_ context.Context, state *models.RotationState) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	state.UpdatedAt = time.Now().UTC()
	r.p.rotation[state.AgentID] = clone(state)

	return nil
}

func (r *rotationRepo) AppendAssignment(_ context.Context, record *models.AssignmentRecord) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.assignments = append(r.p.assignments, clone(record))

	return nil
}

// Assignments exposes the audit log for test assertions.
func (p *Persistence) Assignments() []*models.AssignmentRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	records := make([]*models.AssignmentRecord, 0, len(p.assignments))
	for _, record := range p.assignments {
		records = append(records, clone(record))
	}

	return records
}

// NotificationsList exposes appended notifications for test assertions.
func (p *Persistence) NotificationsList() []*models.Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()

	notifications := make([]*models.Notification, 0, len(p.notifications))
	for _, notification := range p.notifications {
		notifications = append(notifications, clone(notification))
	}

	return notifications
}

type tagRepo struct{ p *Persistence }

func (r *tagRepo) Add(_ context.Context, leadID, tag string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if r.p.tags[leadID] == nil {
		r.p.tags[leadID] = make(map[string]bool)
	}

	r.p.tags[leadID][tag] = true

	return nil
}

func (r *tagRepo) Remove(_ context.Context, leadID, tag string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	delete(r.p.tags[leadID], tag)

	return nil
}

func (r *tagRepo) RemoveAll(_ context.Context, leadID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	delete(r.p.tags, leadID)

	return nil
}

func (r *tagRepo) List(_ context.Context, leadID string) ([]string, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	tags := make([]string, 0, len(r.p.tags[leadID]))
	for tag := range r.p.tags[leadID] {
		tags = append(tags, tag)
	}

	sort.Strings(tags)

	return tags, nil
}

type pipelineRepo struct{ p *Persistence }

func pipelineKey(leadID, pipelineID string) string { return leadID + "|" + pipelineID }

func (r *pipelineRepo) GetByLeadAndPipeline(_ context.Context, leadID, pipelineID string) (*models.PipelineRecord, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	record, ok := r.p.pipeline[pipelineKey(leadID, pipelineID)]
	if !ok {
		return nil, persistence.ErrPipelineRecordNotFound
	}

	return clone(record), nil
}

func (r *pipelineRepo) Save(_ context.Context, record *models.PipelineRecord) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	record.UpdatedAt = time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}

	r.p.pipeline[pipelineKey(record.LeadID, record.PipelineID)] = clone(record)

	return nil
}

type notificationRepo struct{ p *Persistence }

func (r *notificationRepo) Append(_ context.Context, notification *models.Notification) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	r.p.notifications = append(r.p.notifications, clone(notification))

	return nil
}
