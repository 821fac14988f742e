package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/envie2sortir/envie2sortir/gate"
	"github.com/envie2sortir/envie2sortir/internal/events"
	"github.com/envie2sortir/envie2sortir/internal/metrics"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/validation"
)

// Notifier receives every new message; the realtime hub implements it.
type Notifier interface {
	PublishMessage(conversationID uint, msg any)
}

type NewConversationInput struct {
	// ProfessionalID is only read when an admin opens the conversation.
	ProfessionalID uint   `json:"professional_id"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
}

type MessagingService struct {
	db       *gorm.DB
	events   events.Publisher
	notifier Notifier
	now      func() time.Time
}

func NewMessagingService(db *gorm.DB, pub events.Publisher, notifier Notifier) *MessagingService {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &MessagingService{db: db, events: pub, notifier: notifier, now: time.Now}
}

// scope restricts a conversations query to what viewer may see.
func (s *MessagingService) scope(ctx context.Context, viewer gate.Subject) (*gorm.DB, error) {
	q := s.db.WithContext(ctx).Model(&models.Conversation{})
	switch viewer.Role {
	case models.RoleAdmin:
		return q, nil
	case models.RolePro:
		return q.Where("professional_id IN (?)",
			s.db.WithContext(ctx).Model(&models.Professional{}).Select("id").Where("user_id = ?", viewer.UserID)), nil
	default:
		return nil, ErrForbidden
	}
}

// Access loads a conversation the viewer may see; others are not found.
func (s *MessagingService) Access(ctx context.Context, viewer gate.Subject, id uint) (*models.Conversation, error) {
	q, err := s.scope(ctx, viewer)
	if err != nil {
		return nil, err
	}
	var conv models.Conversation
	err = q.Preload("Professional").Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &conv, err
}

func validateMessage(body string, v validation.Violations) {
	validation.Required("body", body, v)
	validation.Length("body", body, 0, 5000, v)
}

func (s *MessagingService) Create(ctx context.Context, viewer gate.Subject, in NewConversationInput) (*models.Conversation, error) {
	v := validation.Violations{}
	validation.Required("subject", in.Subject, v)
	validation.Length("subject", in.Subject, 0, 200, v)
	validateMessage(in.Body, v)
	if viewer.Role == models.RoleAdmin && in.ProfessionalID == 0 {
		v.Add("professional_id", "required")
	}
	if err := check(v); err != nil {
		return nil, err
	}

	var pro models.Professional
	var err error
	switch viewer.Role {
	case models.RolePro:
		err = s.db.WithContext(ctx).Where("user_id = ?", viewer.UserID).First(&pro).Error
	case models.RoleAdmin:
		err = s.db.WithContext(ctx).First(&pro, in.ProfessionalID).Error
	default:
		return nil, ErrForbidden
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if viewer.Role == models.RolePro {
			return nil, ErrForbidden
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	conv := &models.Conversation{
		ProfessionalID: pro.ID,
		Subject:        strings.TrimSpace(in.Subject),
		Status:         models.ConversationOpen,
		LastMessageAt:  now,
	}
	msg := &models.Message{SenderID: viewer.UserID, SenderRole: viewer.Role, Body: strings.TrimSpace(in.Body), CreatedAt: now}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		msg.ConversationID = conv.ID
		return tx.Create(msg).Error
	})
	if err != nil {
		return nil, err
	}
	conv.Professional = &pro
	conv.Messages = []models.Message{*msg}
	s.sent(ctx, conv.ID, msg)
	return conv, nil
}

func (s *MessagingService) sent(ctx context.Context, conversationID uint, msg *models.Message) {
	metrics.MessageSent(msg.SenderRole)
	if s.notifier != nil {
		s.notifier.PublishMessage(conversationID, msg)
	}
	_ = s.events.Publish(ctx, events.New(events.MessageSent, fmt.Sprint(conversationID), map[string]any{
		"conversation_id": conversationID,
		"message_id":      msg.ID,
		"sender_id":       msg.SenderID,
		"sender_role":     msg.SenderRole,
	}))
}

// List returns the viewer's conversations, most recent activity first,
// each with its unread count.
func (s *MessagingService) List(ctx context.Context, viewer gate.Subject, status string) ([]models.Conversation, error) {
	if status != "" && status != models.ConversationOpen && status != models.ConversationClosed {
		return nil, invalidField("status", "unknown_value")
	}
	q, err := s.scope(ctx, viewer)
	if err != nil {
		return nil, err
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	convs := []models.Conversation{}
	if err := q.Preload("Professional").Order("last_message_at DESC, id DESC").Find(&convs).Error; err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return convs, nil
	}
	ids := make([]uint, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	var counts []struct {
		ConversationID uint
		N              int64
	}
	err = s.db.WithContext(ctx).Model(&models.Message{}).
		Select("conversation_id, COUNT(*) AS n").
		Where("conversation_id IN ? AND sender_id <> ? AND read_at IS NULL", ids, viewer.UserID).
		Group("conversation_id").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	unread := make(map[uint]int64, len(counts))
	for _, c := range counts {
		unread[c.ConversationID] = c.N
	}
	for i := range convs {
		convs[i].UnreadCount = unread[convs[i].ID]
	}
	return convs, nil
}

// Get returns a conversation with its messages in order.
func (s *MessagingService) Get(ctx context.Context, viewer gate.Subject, id uint) (*models.Conversation, error) {
	conv, err := s.Access(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", id).
		Order("created_at ASC, id ASC").Find(&conv.Messages).Error; err != nil {
		return nil, err
	}
	for _, m := range conv.Messages {
		if m.SenderID != viewer.UserID && m.ReadAt == nil {
			conv.UnreadCount++
		}
	}
	return conv, nil
}

// Send appends a message. Closed conversations refuse new messages.
func (s *MessagingService) Send(ctx context.Context, viewer gate.Subject, id uint, body string) (*models.Message, error) {
	v := validation.Violations{}
	validateMessage(body, v)
	if err := check(v); err != nil {
		return nil, err
	}
	conv, err := s.Access(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	if conv.IsClosed() {
		return nil, ErrConversationClosed
	}
	now := s.now().UTC()
	msg := &models.Message{ConversationID: id, SenderID: viewer.UserID, SenderRole: viewer.Role, Body: strings.TrimSpace(body), CreatedAt: now}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", id).Update("last_message_at", now).Error
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	s.sent(ctx, id, msg)
	return msg, nil
}

// SetStatus opens or closes a conversation.
func (s *MessagingService) SetStatus(ctx context.Context, viewer gate.Subject, id uint, status string) (*models.Conversation, error) {
	if status != models.ConversationOpen && status != models.ConversationClosed {
		return nil, invalidField("status", "unknown_value")
	}
	conv, err := s.Access(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{"status": status, "closed_at": nil}
	if status == models.ConversationClosed {
		now := s.now().UTC()
		updates["closed_at"] = now
		conv.ClosedAt = &now
	} else {
		conv.ClosedAt = nil
	}
	if err := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}
	conv.Status = status
	return conv, nil
}

// MarkRead stamps read_at on the messages the viewer received.
func (s *MessagingService) MarkRead(ctx context.Context, viewer gate.Subject, id uint) (int64, error) {
	if _, err := s.Access(ctx, viewer, id); err != nil {
		return 0, err
	}
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", id, viewer.UserID).
		Update("read_at", s.now().UTC())
	return res.RowsAffected, res.Error
}

// UnreadCount totals unread messages across the viewer's conversations.
func (s *MessagingService) UnreadCount(ctx context.Context, viewer gate.Subject) (int64, error) {
	q, err := s.scope(ctx, viewer)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id IN (?)", q.Select("id")).
		Where("sender_id <> ? AND read_at IS NULL", viewer.UserID).
		Count(&n).Error
	return n, err
}
