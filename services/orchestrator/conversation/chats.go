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

// CreateChat creates a new chat thread. An empty title defaults to
// "New Chat".
func (s *Store) CreateChat(ctx context.Context, title string) (*Chat, error) {
	if title == "" {
		title = "New Chat"
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (title, created_at, updated_at) VALUES (?, ?, ?)`,
		title, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading chat id: %w", err)
	}

	return &Chat{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      []Tag{},
	}, nil
}

// GetChat returns a chat with its tags and attachments.
func (s *Store) GetChat(ctx context.Context, id int64) (*Chat, error) {
	chat := &Chat{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT title, created_at, updated_at, is_archived FROM chats WHERE id = ?`, id).
		Scan(&chat.Title, &chat.CreatedAt, &chat.UpdatedAt, &chat.IsArchived)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading chat %d: %w", id, err)
	}

	if chat.Tags, err = s.chatTags(ctx, id); err != nil {
		return nil, err
	}
	if chat.Attachments, err = s.ListChatAttachments(ctx, id); err != nil {
		return nil, err
	}
	return chat, nil
}

// ListChats returns all chats ordered by most recently updated, each
// with its tags.
func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at, is_archived
		 FROM chats ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(&chat.ID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt, &chat.IsArchived); err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range chats {
		if chats[i].Tags, err = s.chatTags(ctx, chats[i].ID); err != nil {
			return nil, err
		}
	}
	return chats, nil
}

// UpdateChat applies a partial update. Nil fields are left unchanged.
// When tags is non-nil the chat's tag set is replaced wholesale; tag
// names that do not exist yet are created with the default color.
func (s *Store) UpdateChat(ctx context.Context, id int64, title *string, isArchived *bool, tags *[]string) (*Chat, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting update: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return nil, fmt.Errorf("touching chat %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrChatNotFound
	}

	if title != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE chats SET title = ? WHERE id = ?`, *title, id); err != nil {
			return nil, fmt.Errorf("updating title: %w", err)
		}
	}
	if isArchived != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE chats SET is_archived = ? WHERE id = ?`, *isArchived, id); err != nil {
			return nil, fmt.Errorf("updating archive flag: %w", err)
		}
	}

	if tags != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_tags WHERE chat_id = ?`, id); err != nil {
			return nil, fmt.Errorf("clearing tags: %w", err)
		}
		for _, name := range *tags {
			tagID, err := getOrCreateTag(ctx, tx, name)
			if err != nil {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO chat_tags (chat_id, tag_id) VALUES (?, ?)`, id, tagID); err != nil {
				return nil, fmt.Errorf("attaching tag %q: %w", name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing update: %w", err)
	}
	return s.GetChat(ctx, id)
}

// DeleteChat removes a chat and everything hanging off it, returning the
// IDs of the chat's attachments so the caller can clear their indexed
// fragments from the vector store.
func (s *Store) DeleteChat(ctx context.Context, id int64) ([]int64, error) {
	attachmentIDs := []int64{}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM attachments WHERE chat_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("listing attachments for chat %d: %w", id, err)
	}
	for rows.Next() {
		var attID int64
		if err := rows.Scan(&attID); err != nil {
			rows.Close()
			return nil, err
		}
		attachmentIDs = append(attachmentIDs, attID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("deleting chat %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrChatNotFound
	}
	return attachmentIDs, nil
}

// touchChat bumps updated_at so chat lists sort by recent activity.
func touchChat(ctx context.Context, tx *sql.Tx, chatID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), chatID)
	return err
}

// ============================================================================
// Tags
// ============================================================================

// CreateTag creates a tag. An empty color defaults to "#808080".
func (s *Store) CreateTag(ctx context.Context, name, color string) (*Tag, error) {
	if name == "" {
		return nil, fmt.Errorf("tag name is required")
	}
	if color == "" {
		color = "#808080"
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (name, color) VALUES (?, ?)`, name, color)
	if err != nil {
		return nil, fmt.Errorf("creating tag %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Tag{ID: id, Name: name, Color: color}, nil
}

// ListTags returns all tags ordered by name.
func (s *Store) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, color FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	tags := []Tag{}
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Color); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *Store) chatTags(ctx context.Context, chatID int64) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.name, t.color FROM tags t
		 JOIN chat_tags ct ON ct.tag_id = t.id
		 WHERE ct.chat_id = ? ORDER BY t.name`, chatID)
	if err != nil {
		return nil, fmt.Errorf("loading tags for chat %d: %w", chatID, err)
	}
	defer rows.Close()

	tags := []Tag{}
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Color); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func getOrCreateTag(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("looking up tag %q: %w", name, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO tags (name, color) VALUES (?, '#808080')`, name)
	if err != nil {
		return 0, fmt.Errorf("creating tag %q: %w", name, err)
	}
	return res.LastInsertId()
}
