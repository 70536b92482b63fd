// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// nullIfEmpty maps "" to SQL NULL so optional text columns stay NULL
// instead of accumulating empty strings.
func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// AppendMessage persists msg and fills in its ID and CreatedAt. The
// chat's updated_at is bumped in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting append: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (chat_id, role, model_used, content, augmented_content, thinking_process, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ChatID, msg.Role, nullIfEmpty(msg.ModelUsed), msg.Content,
		nullIfEmpty(msg.AugmentedContent), nullIfEmpty(msg.ThinkingProcess), now)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := touchChat(ctx, tx, msg.ChatID); err != nil {
		return fmt.Errorf("touching chat %d: %w", msg.ChatID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	msg.ID = id
	msg.CreatedAt = now
	return nil
}

// AppendAssistantTurn persists a completed generation as an assistant
// message, including any reasoning trace, and bumps the chat's
// updated_at in the same transaction.
func (s *Store) AppendAssistantTurn(ctx context.Context, chatID int64, content, thinking, modelUsed string) (*Message, error) {
	msg := &Message{
		ChatID:          chatID,
		Role:            RoleAssistant,
		Content:         content,
		ThinkingProcess: thinking,
		ModelUsed:       modelUsed,
	}
	if err := s.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// SetAugmentedContent records the full generation prompt for a user
// message. The prompt is written once; attempting to overwrite an
// existing value is an error, since the snapshot must reflect what the
// model actually saw.
func (s *Store) SetAugmentedContent(ctx context.Context, messageID int64, augmented string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET augmented_content = ? WHERE id = ? AND augmented_content IS NULL`,
		augmented, messageID)
	if err != nil {
		return fmt.Errorf("setting augmented content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM messages WHERE id = ?`, messageID).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("augmented content already set for message %d", messageID)
	}
	return nil
}

// ListMessages returns a chat's messages in chronological order, each
// with its context records.
func (s *Store) ListMessages(ctx context.Context, chatID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, model_used, content, augmented_content, thinking_process, created_at
		 FROM messages WHERE chat_id = ? ORDER BY created_at ASC, id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing messages for chat %d: %w", chatID, err)
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	for i := range messages {
		if messages[i].Contexts, err = s.MessageContexts(ctx, messages[i].ID); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

// RecentHistory returns up to n of the chat's most recent messages in
// chronological order, excluding excludeID. The excluded message is the
// user turn currently being answered; history must carry its original
// content, so the non-augmented Content column is what gets replayed.
func (s *Store) RecentHistory(ctx context.Context, chatID, excludeID int64, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, model_used, content, augmented_content, thinking_process, created_at
		 FROM messages WHERE chat_id = ? AND id != ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, chatID, excludeID, n)
	if err != nil {
		return nil, fmt.Errorf("loading history for chat %d: %w", chatID, err)
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Newest-first from the query; reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var modelUsed, augmented, thinking sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &modelUsed,
			&msg.Content, &augmented, &thinking, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.ModelUsed = modelUsed.String
		msg.AugmentedContent = augmented.String
		msg.ThinkingProcess = thinking.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ============================================================================
// Message Contexts
// ============================================================================

// AddMessageContexts persists the context records captured for a
// message in a single transaction.
func (s *Store) AddMessageContexts(ctx context.Context, messageID int64, contexts []ContextUse) error {
	if len(contexts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting context insert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, cu := range contexts {
		source := cu.Source
		if source == "" {
			source = SourceDocument
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO message_contexts (message_id, document_id, document_name, source, content, is_active, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			messageID, nullIfEmpty(cu.DocumentID), cu.DocumentName, source, cu.Content, cu.IsActive, now); err != nil {
			return fmt.Errorf("inserting context %q: %w", cu.DocumentName, err)
		}
	}
	return tx.Commit()
}

// MessageContexts returns the context records for a message.
func (s *Store) MessageContexts(ctx context.Context, messageID int64) ([]ContextUse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, document_id, document_name, source, content, is_active, created_at
		 FROM message_contexts WHERE message_id = ? ORDER BY id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("loading contexts for message %d: %w", messageID, err)
	}
	defer rows.Close()

	var contexts []ContextUse
	for rows.Next() {
		var cu ContextUse
		var docID sql.NullString
		if err := rows.Scan(&cu.ID, &cu.MessageID, &docID, &cu.DocumentName,
			&cu.Source, &cu.Content, &cu.IsActive, &cu.CreatedAt); err != nil {
			return nil, err
		}
		cu.DocumentID = docID.String
		contexts = append(contexts, cu)
	}
	return contexts, rows.Err()
}

// ============================================================================
// Attachments
// ============================================================================

// CreateAttachment persists an uploaded file's record and fills in its
// ID and CreatedAt.
func (s *Store) CreateAttachment(ctx context.Context, att *Attachment) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (chat_id, file_name, file_type, file_size, file_path, extracted_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		att.ChatID, att.FileName, nullIfEmpty(att.FileType), att.FileSize,
		att.FilePath, nullIfEmpty(att.ExtractedText), now)
	if err != nil {
		return fmt.Errorf("inserting attachment %q: %w", att.FileName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	att.ID = id
	att.CreatedAt = now
	return nil
}

// SetExtractedText stores the converted text for an attachment after
// ingestion completes.
func (s *Store) SetExtractedText(ctx context.Context, attachmentID int64, text string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE attachments SET extracted_text = ? WHERE id = ?`, text, attachmentID)
	if err != nil {
		return fmt.Errorf("setting extracted text for attachment %d: %w", attachmentID, err)
	}
	return nil
}

// AttachmentsByIDs returns the attachments with the given IDs, in ID
// order. Missing IDs are silently skipped.
func (s *Store) AttachmentsByIDs(ctx context.Context, ids []int64) ([]Attachment, error) {
	attachments := []Attachment{}
	for _, id := range ids {
		att, err := s.attachmentByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, *att)
	}
	return attachments, nil
}

// LinkAttachments ties attachments to the message that referenced them.
func (s *Store) LinkAttachments(ctx context.Context, messageID int64, attachmentIDs []int64) error {
	for _, attID := range attachmentIDs {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE attachments SET message_id = ? WHERE id = ?`, messageID, attID); err != nil {
			return fmt.Errorf("linking attachment %d: %w", attID, err)
		}
	}
	return nil
}

// ListChatAttachments returns all attachments uploaded to a chat.
func (s *Store) ListChatAttachments(ctx context.Context, chatID int64) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, message_id, file_name, file_type, file_size, file_path, extracted_text, created_at
		 FROM attachments WHERE chat_id = ? ORDER BY id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing attachments for chat %d: %w", chatID, err)
	}
	defer rows.Close()

	attachments := []Attachment{}
	for rows.Next() {
		att, err := scanAttachment(rows.Scan)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, *att)
	}
	return attachments, rows.Err()
}

// DeleteAttachment removes a single attachment row. Fragment and file
// cleanup is the caller's responsibility.
func (s *Store) DeleteAttachment(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting attachment %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("attachment %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

func (s *Store) attachmentByID(ctx context.Context, id int64) (*Attachment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, message_id, file_name, file_type, file_size, file_path, extracted_text, created_at
		 FROM attachments WHERE id = ?`, id)
	return scanAttachment(row.Scan)
}

func scanAttachment(scan func(dest ...any) error) (*Attachment, error) {
	var att Attachment
	var messageID sql.NullInt64
	var fileType, extracted sql.NullString
	if err := scan(&att.ID, &att.ChatID, &messageID, &att.FileName, &fileType,
		&att.FileSize, &att.FilePath, &extracted, &att.CreatedAt); err != nil {
		return nil, err
	}
	att.MessageID = messageID.Int64
	att.FileType = fileType.String
	att.ExtractedText = extracted.String
	return &att, nil
}
