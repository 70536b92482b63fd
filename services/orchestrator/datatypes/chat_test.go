// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageRequest_EnsureDefaults(t *testing.T) {
	t.Parallel()

	req := SendMessageRequest{ChatID: 1, Content: "hello"}
	req.EnsureDefaults()

	require.NotNil(t, req.UseLLMData)
	require.NotNil(t, req.UseDocuments)
	assert.True(t, *req.UseLLMData)
	assert.True(t, *req.UseDocuments)
	assert.False(t, req.UseWebSearch)
	assert.False(t, req.EnableThinking)
}

func TestSendMessageRequest_EnsureDefaults_PreservesExplicit(t *testing.T) {
	t.Parallel()

	f := false
	req := SendMessageRequest{ChatID: 1, UseLLMData: &f, UseDocuments: &f}
	req.EnsureDefaults()

	assert.False(t, *req.UseLLMData)
	assert.False(t, *req.UseDocuments)
}

func TestSendMessageRequest_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     SendMessageRequest
		wantErr bool
	}{
		{
			name: "valid",
			req:  SendMessageRequest{ChatID: 42, Content: "what is this?"},
		},
		{
			name:    "missing chat id",
			req:     SendMessageRequest{Content: "hello"},
			wantErr: true,
		},
		{
			name: "blank content allowed",
			req:  SendMessageRequest{ChatID: 1, Attachments: []int64{7}},
		},
		{
			name:    "oversized content",
			req:     SendMessageRequest{ChatID: 1, Content: strings.Repeat("x", MaxMessageContentBytes+1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSendMessageRequest_HasContent(t *testing.T) {
	t.Parallel()

	assert.True(t, (&SendMessageRequest{Content: "hi"}).HasContent())
	assert.False(t, (&SendMessageRequest{Content: ""}).HasContent())
	assert.False(t, (&SendMessageRequest{Content: "   \t\n"}).HasContent())
}

func TestCreateChatRequest_EnsureDefaults(t *testing.T) {
	t.Parallel()

	req := CreateChatRequest{}
	req.EnsureDefaults()
	assert.Equal(t, "New Chat", req.Title)

	req = CreateChatRequest{Title: "Project notes"}
	req.EnsureDefaults()
	assert.Equal(t, "Project notes", req.Title)
}

func TestCreateTagRequest_Defaults(t *testing.T) {
	t.Parallel()

	req := CreateTagRequest{Name: "work"}
	req.EnsureDefaults()
	assert.Equal(t, "#808080", req.Color)
	assert.NoError(t, req.Validate())

	empty := CreateTagRequest{}
	assert.Error(t, empty.Validate())
}

func TestFragmentHit_DocumentName(t *testing.T) {
	t.Parallel()

	hit := FragmentHit{Meta: FragmentMeta{Filename: "report.pdf"}}
	assert.Equal(t, "report.pdf", hit.DocumentName())

	anon := FragmentHit{}
	assert.Equal(t, "Unknown Document", anon.DocumentName())
}
